package icloud

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/hidemail/internal/icloud/store"
)

// ---- identity provider stub ----

// authStub fakes the subset of the identity and setup services the client
// talks to. It never verifies SRP proofs; it only plays the protocol.
type authStub struct {
	t   *testing.T
	srv *httptest.Server

	mu    sync.Mutex
	calls map[string]int

	hsaVersion        int
	challengeRequired bool
	trustedBrowser    bool
	hasTrustedDevice  bool

	validateOK      bool
	failSRPComplete bool
	failPassword    bool
	failTrust       bool
}

func newAuthStub(t *testing.T) *authStub {
	t.Helper()
	s := &authStub{
		t:          t,
		calls:      map[string]int{},
		hsaVersion: 1,
		validateOK: true,
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *authStub) endpoints() Endpoints {
	return Endpoints{
		Auth:  s.srv.URL + "/auth",
		Home:  s.srv.URL,
		Setup: s.srv.URL + "/setup",
	}
}

func (s *authStub) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func (s *authStub) profileJSON() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile := map[string]any{
		"dsInfo": map[string]any{
			"appleId":                   "user@example.com",
			"hsaVersion":                s.hsaVersion,
			"hasICloudQualifyingDevice": s.hasTrustedDevice,
		},
		"hsaChallengeRequired": s.challengeRequired,
		"hsaTrustedBrowser":    s.trustedBrowser,
		"webservices": map[string]any{
			"premiummailsettings": map[string]any{
				"url":    s.srv.URL + "/hme",
				"status": "active",
			},
		},
	}
	data, err := json.Marshal(profile)
	require.NoError(s.t, err)
	return data
}

func (s *authStub) sessionHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Apple-ID-Account-Country", "USA")
	w.Header().Set("X-Apple-ID-Session-Id", "sid-1")
	w.Header().Set("X-Apple-Session-Token", "session-token-1")
	w.Header().Set("scnt", "scnt-1")
}

func (s *authStub) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls[r.URL.Path]++
	s.mu.Unlock()

	switch r.Method + " " + r.URL.Path {
	case "POST /auth/signin/init":
		serverB := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x5A}, 256))
		fmt.Fprintf(w, `{"iteration":1000,"salt":%q,"protocol":"s2k","b":%q,"c":"ctoken-1"}`,
			base64.StdEncoding.EncodeToString([]byte("somesalt")), serverB)

	case "POST /auth/signin/complete":
		if s.failSRPComplete {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"reason":"incompatible client"}`)
			return
		}
		s.sessionHeaders(w)
		fmt.Fprint(w, `{}`)

	case "POST /auth/signin":
		if s.failPassword {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"errors":[{"code":"-20101","message":"wrong password"}]}`)
			return
		}
		s.sessionHeaders(w)
		fmt.Fprint(w, `{}`)

	case "POST /setup/validate":
		if !s.validateOK {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"reason":"Invalid global session"}`)
			return
		}
		w.Write(s.profileJSON())

	case "POST /setup/accountLogin":
		s.sessionHeaders(w)
		s.mu.Lock()
		challenged := s.challengeRequired
		s.mu.Unlock()
		if challenged {
			w.WriteHeader(http.StatusConflict)
		}
		w.Write(s.profileJSON())

	case "PUT /auth/verify/phone":
		fmt.Fprint(w, `{"trustedPhoneNumber":{"lastTwoDigits":"42"}}`)

	case "PUT /auth/verify/trusteddevice/securitycode":
		fmt.Fprint(w, `{}`)

	case "POST /auth/verify/trusteddevice/securitycode":
		fmt.Fprint(w, `{}`)

	case "GET /auth/2sv/trust":
		if s.failTrust {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"reason":"trust backend down"}`)
			return
		}
		w.Header().Set("X-Apple-TwoSV-Trust-Token", "trust-token-1")
		s.mu.Lock()
		s.trustedBrowser = true
		s.challengeRequired = false
		s.mu.Unlock()
		fmt.Fprint(w, `{}`)

	case "POST /setup/logout":
		fmt.Fprint(w, `{}`)

	default:
		s.t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

// ---- helpers ----

func newTestSession(t *testing.T, stub *authStub, st store.Store) *Session {
	t.Helper()
	s, err := New(context.Background(), "user@example.com", st,
		WithEndpoints(stub.endpoints()))
	require.NoError(t, err)
	return s
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return st
}

func storedSessionData(t *testing.T, st store.Store) *SessionData {
	t.Helper()
	raw, err := st.Get(context.Background(), sessionKey("user@example.com"))
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	data := &SessionData{}
	require.NoError(t, json.Unmarshal(raw, data))
	return data
}

func seedStoredToken(t *testing.T, st store.Store) {
	t.Helper()
	raw, err := json.Marshal(&SessionData{
		SessionToken: "stored-token",
		ClientID:     "auth-stored",
	})
	require.NoError(t, err)
	require.NoError(t, st.Set(context.Background(), sessionKey("user@example.com"), raw))
}

// ---- tests ----

func TestAuthenticate_SRPSuccess(t *testing.T) {
	stub := newAuthStub(t)
	st := newTestStore(t)
	s := newTestSession(t, stub, st)

	require.NoError(t, s.Authenticate(context.Background(), "correct"))

	assert.Equal(t, StateAuthenticated, s.State())
	assert.Equal(t, 2, stub.count("/auth/signin/init"))
	assert.Equal(t, 1, stub.count("/auth/signin/complete"))
	assert.Zero(t, stub.count("/auth/signin"))

	data := storedSessionData(t, st)
	assert.Equal(t, "session-token-1", data.SessionToken)
	assert.Equal(t, "USA", data.AccountCountry)
	assert.Equal(t, "scnt-1", data.Scnt)
}

func TestAuthenticate_SilentPathSkipsSignIn(t *testing.T) {
	stub := newAuthStub(t)
	stub.hsaVersion = 2
	stub.trustedBrowser = true
	st := newTestStore(t)
	seedStoredToken(t, st)
	s := newTestSession(t, stub, st)

	require.NoError(t, s.Authenticate(context.Background(), ""))

	assert.Equal(t, StateTrusted, s.State())
	assert.Zero(t, stub.count("/auth/signin/init"))
	assert.Zero(t, stub.count("/auth/signin"))
	assert.Equal(t, 1, stub.count("/setup/validate"))
}

func TestAuthenticate_NoPasswordNoToken(t *testing.T) {
	stub := newAuthStub(t)
	s := newTestSession(t, stub, newTestStore(t))

	err := s.Authenticate(context.Background(), "")

	var loginErr *LoginError
	require.ErrorAs(t, err, &loginErr)
	assert.Equal(t, "Please provide credentials.", loginErr.Reason)
	assert.Equal(t, StateUnauthenticated, s.State())
}

func TestAuthenticate_RejectedTokenRequiresFreshCredentials(t *testing.T) {
	stub := newAuthStub(t)
	stub.validateOK = false
	st := newTestStore(t)
	seedStoredToken(t, st)
	s := newTestSession(t, stub, st)

	err := s.Authenticate(context.Background(), "")

	var loginErr *LoginError
	require.ErrorAs(t, err, &loginErr)
	assert.Equal(t, "Please provide credentials.", loginErr.Reason)
}

func TestAuthenticate_SRPFailureFallsBackToPassword(t *testing.T) {
	stub := newAuthStub(t)
	stub.failSRPComplete = true
	st := newTestStore(t)
	s := newTestSession(t, stub, st)

	require.NoError(t, s.Authenticate(context.Background(), "correct"))

	assert.Equal(t, StateAuthenticated, s.State())
	assert.Equal(t, 1, stub.count("/auth/signin"))
	assert.Equal(t, "session-token-1", storedSessionData(t, st).SessionToken)
}

func TestAuthenticate_BothPathsFail(t *testing.T) {
	stub := newAuthStub(t)
	stub.failSRPComplete = true
	stub.failPassword = true
	s := newTestSession(t, stub, newTestStore(t))

	err := s.Authenticate(context.Background(), "wrong")

	var loginErr *LoginError
	require.ErrorAs(t, err, &loginErr)
	assert.Equal(t, "invalid account name or password", loginErr.Reason)
	assert.Equal(t, StateUnauthenticated, s.State())
}

func TestAuthenticate_PendingChallengeEndsInRequiresTwoFactor(t *testing.T) {
	// accountLogin answers 409 while a challenge is pending; that is a
	// successful transport result carrying a valid profile.
	stub := newAuthStub(t)
	stub.hsaVersion = 2
	stub.challengeRequired = true
	s := newTestSession(t, stub, newTestStore(t))

	require.NoError(t, s.Authenticate(context.Background(), "correct"))

	assert.Equal(t, StateRequiresTwoFactor, s.State())
	assert.True(t, s.RequiresTwoFactor())
	assert.False(t, s.IsTrustedSession())
}

func TestRequiresTwoFactor_FalseWhenTrustedAndNoChallenge(t *testing.T) {
	stub := newAuthStub(t)
	stub.hsaVersion = 2
	stub.trustedBrowser = true
	s := newTestSession(t, stub, newTestStore(t))

	require.NoError(t, s.Authenticate(context.Background(), "correct"))

	assert.False(t, s.RequiresTwoFactor())
	assert.True(t, s.IsTrustedSession())
	assert.Equal(t, StateTrusted, s.State())
}

func TestClientID_StableAcrossSessions(t *testing.T) {
	stub := newAuthStub(t)
	st := newTestStore(t)

	s1 := newTestSession(t, stub, st)
	first := storedSessionData(t, st).ClientID
	require.NotEmpty(t, first)
	assert.Contains(t, first, "auth-")
	_ = s1

	s2 := newTestSession(t, stub, st)
	require.NoError(t, s2.Authenticate(context.Background(), "correct"))

	assert.Equal(t, first, storedSessionData(t, st).ClientID)
}

func TestSendVerificationCode_SMSReturnsPhoneDigits(t *testing.T) {
	stub := newAuthStub(t)
	stub.hsaVersion = 2
	stub.challengeRequired = true
	s := newTestSession(t, stub, newTestStore(t))
	require.NoError(t, s.Authenticate(context.Background(), "correct"))

	digits, err := s.SendVerificationCode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "42", digits)
	assert.Equal(t, 1, stub.count("/auth/verify/phone"))
}

func TestSendVerificationCode_TrustedDeviceGetsPush(t *testing.T) {
	stub := newAuthStub(t)
	stub.hsaVersion = 2
	stub.challengeRequired = true
	stub.hasTrustedDevice = true
	s := newTestSession(t, stub, newTestStore(t))
	require.NoError(t, s.Authenticate(context.Background(), "correct"))

	digits, err := s.SendVerificationCode(context.Background())
	require.NoError(t, err)
	assert.Empty(t, digits)
	assert.Equal(t, 1, stub.count("/auth/verify/trusteddevice/securitycode"))
	assert.Zero(t, stub.count("/auth/verify/phone"))
}

func TestValidateCode_SuccessEndsTrusted(t *testing.T) {
	stub := newAuthStub(t)
	stub.hsaVersion = 2
	stub.challengeRequired = true
	s := newTestSession(t, stub, newTestStore(t))
	require.NoError(t, s.Authenticate(context.Background(), "correct"))
	require.Equal(t, StateRequiresTwoFactor, s.State())

	require.NoError(t, s.ValidateCode(context.Background(), "123456"))

	assert.Equal(t, StateTrusted, s.State())
	assert.Equal(t, 1, stub.count("/auth/2sv/trust"))
	assert.Equal(t, 2, stub.count("/setup/accountLogin"))
}

func TestValidateCode_TrustFailureStaysAuthenticated(t *testing.T) {
	stub := newAuthStub(t)
	stub.hsaVersion = 2
	stub.challengeRequired = true
	stub.failTrust = true
	s := newTestSession(t, stub, newTestStore(t))
	require.NoError(t, s.Authenticate(context.Background(), "correct"))

	require.NoError(t, s.ValidateCode(context.Background(), "123456"))

	assert.Equal(t, StateAuthenticated, s.State())
}

func TestValidateCode_RejectsMalformedCode(t *testing.T) {
	stub := newAuthStub(t)
	s := newTestSession(t, stub, newTestStore(t))

	require.Error(t, s.ValidateCode(context.Background(), "12345"))
	require.Error(t, s.ValidateCode(context.Background(), "12345a"))
	assert.Zero(t, stub.count("/auth/verify/trusteddevice/securitycode"))
}

func TestWebserviceURL(t *testing.T) {
	stub := newAuthStub(t)
	s := newTestSession(t, stub, newTestStore(t))

	_, err := s.WebserviceURL("premiummailsettings")
	require.ErrorIs(t, err, ErrServiceNotActivated)

	require.NoError(t, s.Authenticate(context.Background(), "correct"))

	url, err := s.WebserviceURL("premiummailsettings")
	require.NoError(t, err)
	assert.Equal(t, stub.srv.URL+"/hme", url)

	_, err = s.WebserviceURL("missing")
	require.ErrorIs(t, err, ErrServiceNotActivated)
}

func TestSignOut(t *testing.T) {
	stub := newAuthStub(t)
	st := newTestStore(t)
	s := newTestSession(t, stub, st)
	require.NoError(t, s.Authenticate(context.Background(), "correct"))

	require.NoError(t, s.SignOut(context.Background()))

	assert.Equal(t, StateUnauthenticated, s.State())
	assert.Nil(t, s.Profile())
	// SignOut does not purge local state; that is the caller's decision.
	assert.NotEmpty(t, storedSessionData(t, st).SessionToken)
}

func TestPurge_RemovesStoredState(t *testing.T) {
	stub := newAuthStub(t)
	st := newTestStore(t)
	s := newTestSession(t, stub, st)
	require.NoError(t, s.Authenticate(context.Background(), "correct"))

	require.NoError(t, s.Purge(context.Background()))

	raw, err := st.Get(context.Background(), sessionKey("user@example.com"))
	require.NoError(t, err)
	assert.Nil(t, raw)
	raw, err = st.Get(context.Background(), cookieKey("user@example.com"))
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestSessionData_RoundTrip(t *testing.T) {
	in := &SessionData{
		SessionToken:   "tok",
		TrustToken:     "trust",
		AccountCountry: "USA",
		Scnt:           "scnt",
		SessionID:      "sid",
		ClientID:       "auth-1",
	}
	raw, err := json.Marshal(in)
	require.NoError(t, err)

	out := &SessionData{}
	require.NoError(t, json.Unmarshal(raw, out))
	assert.Equal(t, in, out)
}

func TestNew_RequiresAccount(t *testing.T) {
	_, err := New(context.Background(), "", newTestStore(t))
	require.Error(t, err)
}

func TestAuthenticate_NetworkErrorDoesNotFallBack(t *testing.T) {
	stub := newAuthStub(t)
	st := newTestStore(t)
	s := newTestSession(t, stub, st)
	stub.srv.Close()

	err := s.Authenticate(context.Background(), "correct")

	require.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, StateUnauthenticated, s.State())
	assert.Zero(t, stub.count("/auth/signin"))
}

func TestAuthState_Strings(t *testing.T) {
	states := []AuthState{
		StateUnauthenticated, StateTokenValidating, StateSrpAuth,
		StatePasswordAuth, StateTokenExchange, StateAuthenticated,
		StateRequiresTwoFactor, StateTrusted,
	}
	seen := map[string]bool{}
	for _, st := range states {
		str := st.String()
		require.NotEqual(t, "unknown", str)
		require.False(t, seen[str], "duplicate name %q", str)
		seen[str] = true
	}
	assert.True(t, StateTrusted.Authenticated())
	assert.True(t, StateAuthenticated.Authenticated())
	assert.False(t, StateRequiresTwoFactor.Authenticated())

	var bogus AuthState = 99
	assert.Equal(t, "unknown", bogus.String())
}
