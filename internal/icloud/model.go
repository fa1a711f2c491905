package icloud

// SessionData is the token state for one account. It is mutated
// incrementally as response headers arrive and persisted after every
// successful request. ClientID is generated once per account and then
// reused for the lifetime of the stored data.
type SessionData struct {
	SessionToken   string `json:"session_token,omitempty"`
	TrustToken     string `json:"trust_token,omitempty"`
	AccountCountry string `json:"account_country,omitempty"`
	Scnt           string `json:"scnt,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	ClientID       string `json:"client_id"`
}

func (d *SessionData) trustTokens() []string {
	if d.TrustToken == "" {
		return []string{}
	}
	return []string{d.TrustToken}
}

// ServiceProfile is the account/session descriptor returned by the token
// exchange. It is owned by the Session; collaborators read it through
// Session.Profile.
type ServiceProfile struct {
	DSInfo               DSInfo                `json:"dsInfo"`
	Webservices          map[string]Webservice `json:"webservices"`
	HSAChallengeRequired bool                  `json:"hsaChallengeRequired"`
	HSATrustedBrowser    bool                  `json:"hsaTrustedBrowser"`
}

// DSInfo is the directory-services slice of the profile.
// HSAVersion 2 means the account is on the current two-factor policy.
type DSInfo struct {
	AppleID                   string `json:"appleId"`
	FullName                  string `json:"fullName"`
	HSAVersion                int    `json:"hsaVersion"`
	HasICloudQualifyingDevice bool   `json:"hasICloudQualifyingDevice"`
	PrimaryEmail              string `json:"primaryEmail"`
}

// Webservice describes one provisioned service endpoint in the profile.
type Webservice struct {
	URL    string `json:"url"`
	Status string `json:"status"`
}

// AuthState tracks where a Session is in the authentication state machine.
// Only the Session itself moves between states.
type AuthState int

const (
	StateUnauthenticated AuthState = iota
	StateTokenValidating
	StateSrpAuth
	StatePasswordAuth
	StateTokenExchange
	StateAuthenticated
	StateRequiresTwoFactor
	StateTrusted
)

func (s AuthState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateTokenValidating:
		return "token-validating"
	case StateSrpAuth:
		return "srp-auth"
	case StatePasswordAuth:
		return "password-auth"
	case StateTokenExchange:
		return "token-exchange"
	case StateAuthenticated:
		return "authenticated"
	case StateRequiresTwoFactor:
		return "requires-two-factor"
	case StateTrusted:
		return "trusted"
	default:
		return "unknown"
	}
}

// Authenticated reports whether the state is one of the terminal-success
// states.
func (s AuthState) Authenticated() bool {
	return s == StateAuthenticated || s == StateTrusted
}
