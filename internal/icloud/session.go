package icloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/hidemail/internal/icloud/store"
	"github.com/dmitrijs2005/hidemail/internal/logging"
)

func sessionKey(account string) string { return account + ".session" }
func cookieKey(account string) string  { return account + ".cookies" }

// Session is the authenticated iCloud session for a single account and the
// only entry point collaborators use. It owns the session state machine,
// drives the SRP / password / two-factor flows through one shared transport,
// and reads and writes durable state through the configured store.
//
// Operations on one account must be externally serialized; Session takes a
// per-account advisory lock (in-process and cross-process) around every
// authenticate-then-persist sequence. Distinct accounts may authenticate
// concurrently, since all state is partitioned by account identifier.
type Session struct {
	mu        sync.Mutex
	account   string
	endpoints Endpoints
	st        store.Store
	t         *transport
	data      *SessionData
	profile   *ServiceProfile
	state     AuthState
	log       logging.Logger
}

// Option adjusts a Session during construction.
type Option func(*sessionConfig)

type sessionConfig struct {
	endpoints Endpoints
	log       logging.Logger
	timeout   time.Duration
}

// WithEndpoints selects the service bases (e.g. the China region variants).
func WithEndpoints(e Endpoints) Option {
	return func(c *sessionConfig) { c.endpoints = e }
}

// WithLogger attaches a logger. The default discards everything.
func WithLogger(log logging.Logger) Option {
	return func(c *sessionConfig) { c.log = log }
}

// WithTimeout overrides the per-request timeout. Mostly for tests.
func WithTimeout(d time.Duration) Option {
	return func(c *sessionConfig) { c.timeout = d }
}

// New builds a Session for the given account, restoring any previously
// persisted session data and cookies. A missing store entry yields a fresh
// session. The client identifier is generated on first use and then reused
// for as long as the stored session data lives.
func New(ctx context.Context, account string, st store.Store, opts ...Option) (*Session, error) {
	if account == "" {
		return nil, errors.New("icloud: account identifier is required")
	}

	cfg := sessionConfig{
		endpoints: DefaultEndpoints(),
		log:       logging.NewDiscardLogger(),
		timeout:   requestTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	data := &SessionData{}
	raw, err := st.Get(ctx, sessionKey(account))
	if err != nil {
		return nil, fmt.Errorf("load session data: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, data); err != nil {
			return nil, fmt.Errorf("decode session data: %w", err)
		}
	}

	rawCookies, err := st.Get(ctx, cookieKey(account))
	if err != nil {
		return nil, fmt.Errorf("load cookies: %w", err)
	}
	jar, err := LoadJar(rawCookies)
	if err != nil {
		return nil, fmt.Errorf("decode cookies: %w", err)
	}

	s := &Session{
		account:   account,
		endpoints: cfg.endpoints,
		st:        st,
		data:      data,
		state:     StateUnauthenticated,
		log:       cfg.log.With("account", account),
	}
	s.t = newTransport(cfg.endpoints, data, jar, st, account, s.log)
	s.t.hc.Timeout = cfg.timeout

	if data.ClientID == "" {
		data.ClientID = "auth-" + uuid.NewString()
		if err := s.t.persist(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Authenticate establishes an authenticated session.
//
// With an empty password it attempts a silent re-login: the stored session
// token is validated server-side and, if accepted, no SRP or password call
// is made. A rejected token downgrades to "fresh credentials required"
// instead of propagating the server error.
//
// With a password, the SRP handshake is tried first; on failure the direct
// password endpoint is used as a compatibility fallback. Either success is
// followed by a token exchange that fetches the full service profile and
// decides whether a second factor is still required.
func (s *Session) Authenticate(ctx context.Context, password string) error {
	unlock, err := s.st.Lock(ctx, s.account)
	if err != nil {
		return fmt.Errorf("acquire account lock: %w", err)
	}
	defer func() {
		if err := unlock(); err != nil {
			s.log.Warn(ctx, "releasing account lock failed", "err", err)
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if password == "" {
		if s.data.SessionToken == "" {
			s.state = StateUnauthenticated
			return &LoginError{Reason: "Please provide credentials."}
		}

		s.state = StateTokenValidating
		err := s.validateToken(ctx)
		if err == nil {
			s.settle()
			s.log.Info(ctx, "silent re-authentication succeeded", "state", s.state)
			return nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) || errors.Is(err, ErrSessionExpired) {
			s.log.Warn(ctx, "stored session token rejected, fresh credentials required", "err", err)
			s.state = StateUnauthenticated
			return &LoginError{Reason: "Please provide credentials.", Cause: err}
		}
		s.state = StateUnauthenticated
		return err
	}

	s.state = StateSrpAuth
	if err := s.srpSignIn(ctx, password); err != nil {
		if isFatalSignInError(err) {
			s.state = StateUnauthenticated
			return err
		}
		s.log.Warn(ctx, "srp sign-in failed, falling back to password sign-in", "err", err)
		s.state = StatePasswordAuth
		if err := s.passwordSignIn(ctx, password); err != nil {
			s.state = StateUnauthenticated
			return err
		}
	}

	s.state = StateTokenExchange
	if err := s.accountLogin(ctx); err != nil {
		s.state = StateUnauthenticated
		return err
	}

	s.settle()
	s.log.Info(ctx, "authentication finished", "state", s.state)
	return nil
}

// isFatalSignInError reports whether a sign-in failure must be surfaced
// instead of trying the password fallback: network errors would fail the
// fallback identically, and a canceled context must stop the flow.
func isFatalSignInError(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// settle moves the state machine into its terminal state based on the
// server-declared trust flags.
func (s *Session) settle() {
	switch {
	case s.requiresTwoFactor():
		s.state = StateRequiresTwoFactor
	case s.isTrustedSession():
		s.state = StateTrusted
	default:
		s.state = StateAuthenticated
	}
}

// validateToken checks the stored session token against the setup service
// and refreshes the service profile on success.
func (s *Session) validateToken(ctx context.Context) error {
	_, payload, err := s.t.Do(ctx, http.MethodPost, s.endpoints.Setup+"/validate", nil, nil)
	if err != nil {
		return err
	}
	return s.setProfile(payload)
}

// accountLogin exchanges the session token for the full service profile.
// The provider answers 409 when a two-factor challenge is still pending;
// the profile in that body is valid and is kept.
func (s *Session) accountLogin(ctx context.Context) error {
	body := map[string]any{
		"accountCountryCode": s.data.AccountCountry,
		"dsWebAuthToken":     s.data.SessionToken,
		"extended_login":     true,
	}
	if s.data.TrustToken != "" {
		body["trustToken"] = s.data.TrustToken
	}

	_, payload, err := s.t.Do(ctx, http.MethodPost, s.endpoints.Setup+"/accountLogin", body, nil)
	if err != nil {
		return fmt.Errorf("token exchange: %w", err)
	}
	return s.setProfile(payload)
}

func (s *Session) setProfile(payload []byte) error {
	profile := &ServiceProfile{}
	if err := json.Unmarshal(payload, profile); err != nil {
		return fmt.Errorf("decode service profile: %w", err)
	}
	s.profile = profile
	return nil
}

// RequiresTwoFactor reports whether a second factor must still be provided:
// the account is on policy version 2 and either a challenge is pending or
// the current session is not flagged trusted.
func (s *Session) RequiresTwoFactor() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requiresTwoFactor()
}

func (s *Session) requiresTwoFactor() bool {
	if s.profile == nil {
		return false
	}
	return s.profile.DSInfo.HSAVersion == 2 &&
		(s.profile.HSAChallengeRequired || !s.profile.HSATrustedBrowser)
}

// IsTrustedSession reflects the server-declared trusted-browser flag.
func (s *Session) IsTrustedSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isTrustedSession()
}

func (s *Session) isTrustedSession() bool {
	return s.profile != nil && s.profile.HSATrustedBrowser
}

// Profile returns the service profile fetched during the last token
// exchange, or nil before authentication. Collaborators must treat it as
// read-only.
func (s *Session) Profile() *ServiceProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// State returns the current position in the authentication state machine.
func (s *Session) State() AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Account returns the account identifier this session is bound to.
func (s *Session) Account() string { return s.account }

// WebserviceURL resolves the base URL of a provisioned webservice from the
// profile. A missing or inactive entry yields ErrServiceNotActivated.
func (s *Session) WebserviceURL(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.profile == nil {
		return "", fmt.Errorf("%w (not authenticated)", ErrServiceNotActivated)
	}
	ws, ok := s.profile.Webservices[name]
	if !ok || ws.URL == "" || (ws.Status != "" && ws.Status != "active") {
		return "", fmt.Errorf("%w (webservice %q)", ErrServiceNotActivated, name)
	}
	return ws.URL, nil
}

// Request issues an authenticated pass-through call for downstream service
// clients. A returned ErrSessionExpired is the caller's signal to re-run
// Authenticate.
func (s *Session) Request(ctx context.Context, method, url string, body any, hdr http.Header) (*http.Response, []byte, error) {
	return s.t.Do(ctx, method, url, body, hdr)
}

// SignOut tells the server the current browser should no longer be
// implicitly trusted. The account itself is not revoked and locally stored
// state is kept; purging it is the caller's decision (see Purge).
func (s *Session) SignOut(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	body := map[string]any{"trustBrowser": false}
	if _, _, err := s.t.Do(ctx, http.MethodPost, s.endpoints.Setup+"/logout", body, nil); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	s.profile = nil
	s.state = StateUnauthenticated
	return nil
}

// Purge removes the persisted session data and cookies for this account.
func (s *Session) Purge(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.st.DeleteAll(ctx, sessionKey(s.account), cookieKey(s.account)); err != nil {
		return fmt.Errorf("purge account state: %w", err)
	}
	clientID := s.data.ClientID
	*s.data = SessionData{ClientID: clientID}
	s.profile = nil
	s.state = StateUnauthenticated
	return nil
}
