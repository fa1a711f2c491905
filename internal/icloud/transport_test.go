package icloud

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/hidemail/internal/logging"
)

func newTestTransport(t *testing.T) *transport {
	t.Helper()
	data := &SessionData{ClientID: "auth-test"}
	return newTransport(Endpoints{
		Auth:  "https://idmsa.example.com/appleauth/auth",
		Home:  "https://www.example.com",
		Setup: "https://setup.example.com/setup/ws/1",
	}, data, NewJar(), newTestStore(t), "user@example.com", logging.NewDiscardLogger())
}

func parseErrorBody(t *testing.T, raw string) *apiErrorBody {
	t.Helper()
	body := &apiErrorBody{}
	require.NoError(t, json.Unmarshal([]byte(raw), body))
	return body
}

func TestTranslate(t *testing.T) {
	tr := newTestTransport(t)

	tests := []struct {
		name    string
		status  int
		body    string
		wantIs  error
		wantMsg string
	}{
		{
			name:   "invalid global session means expired",
			status: 401,
			body:   `{"reason":"Invalid global session"}`,
			wantIs: ErrSessionExpired,
		},
		{
			name:   "421 with trust tokens means expired",
			status: 421,
			body:   `{"trustTokens":["t1"]}`,
			wantIs: ErrSessionExpired,
		},
		{
			name:    "421 without trust tokens stays an api error",
			status:  421,
			body:    `{}`,
			wantMsg: "authentication required",
		},
		{
			name:   "zone not found means service not activated",
			status: 400,
			body:   `{"error":"ZONE_NOT_FOUND"}`,
			wantIs: ErrServiceNotActivated,
		},
		{
			name:   "authentication failed code means service not activated",
			status: 400,
			body:   `{"error":"AUTHENTICATION_FAILED"}`,
			wantIs: ErrServiceNotActivated,
		},
		{
			name:    "known code wins over status table",
			status:  403,
			body:    `{"error":"SUBSCRIPTION_LAPSED"}`,
			wantMsg: "your subscription has lapsed",
		},
		{
			name:    "numeric code in errors list",
			status:  401,
			body:    `{"errors":[{"code":-20101,"message":"wrong password"}]}`,
			wantMsg: "invalid account name or password",
		},
		{
			name:    "unmapped status falls back to server reason",
			status:  418,
			body:    `{"reason":"brew elsewhere"}`,
			wantMsg: "brew elsewhere",
		},
		{
			name:    "empty body falls back to status text",
			status:  418,
			body:    `{}`,
			wantMsg: http.StatusText(418),
		},
		{
			name:    "503 appends the vpn hint",
			status:  503,
			body:    `{}`,
			wantMsg: "the service is under maintenance or unavailable; if you are connected through a VPN, try disabling it",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tr.translate(&http.Response{StatusCode: tt.status}, []byte(tt.body))
			require.Error(t, err)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
				return
			}
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantMsg, apiErr.Reason)
		})
	}
}

func TestExtractCodeReason(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantCode   string
		wantReason string
	}{
		{
			name:       "flat reason",
			body:       `{"reason":"something broke"}`,
			wantReason: "something broke",
		},
		{
			name:       "error as string doubles as code and reason",
			body:       `{"error":"ZONE_NOT_FOUND"}`,
			wantCode:   "ZONE_NOT_FOUND",
			wantReason: "ZONE_NOT_FOUND",
		},
		{
			name:       "error as object",
			body:       `{"error":{"code":401,"message":"denied"}}`,
			wantCode:   "401",
			wantReason: "denied",
		},
		{
			name:       "service errors list",
			body:       `{"serviceErrors":[{"code":"-20283","reason":"locked"}]}`,
			wantCode:   "-20283",
			wantReason: "locked",
		},
		{
			name:       "explicit reason wins over list message",
			body:       `{"reason":"top","errors":[{"code":"X","message":"nested"}]}`,
			wantCode:   "X",
			wantReason: "top",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := parseErrorBody(t, tt.body)
			code, reason := extractCodeReason(body)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestApplyHeaders(t *testing.T) {
	tr := newTestTransport(t)
	tr.data.Scnt = "scnt-7"
	tr.data.SessionID = "sid-7"

	t.Run("identity headers on auth calls only", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, tr.endpoints.Auth+"/signin/init", nil)
		tr.applyHeaders(req, nil)

		assert.Equal(t, widgetKey, req.Header.Get("X-Apple-Widget-Key"))
		assert.Equal(t, "auth-test", req.Header.Get("X-Apple-OAuth-State"))
		assert.Equal(t, "scnt-7", req.Header.Get("scnt"))
		assert.Equal(t, "sid-7", req.Header.Get("X-Apple-ID-Session-Id"))
		assert.Equal(t, tr.endpoints.Home, req.Header.Get("Origin"))
	})

	t.Run("no identity headers on setup calls", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, tr.endpoints.Setup+"/validate", nil)
		tr.applyHeaders(req, nil)

		assert.Empty(t, req.Header.Get("X-Apple-Widget-Key"))
		assert.Empty(t, req.Header.Get("scnt"))
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	})

	t.Run("extra headers override defaults", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, tr.endpoints.Setup+"/validate", nil)
		extra := http.Header{}
		extra.Set("Content-Type", "text/plain")
		tr.applyHeaders(req, extra)

		assert.Equal(t, "text/plain", req.Header.Get("Content-Type"))
	})
}

func TestFoldSessionHeaders(t *testing.T) {
	tr := newTestTransport(t)
	tr.data.SessionToken = "old-token"
	tr.data.Scnt = "old-scnt"

	h := http.Header{}
	h.Set("X-Apple-Session-Token", "new-token")
	h.Set("X-Apple-ID-Account-Country", "USA")
	tr.foldSessionHeaders(h)

	assert.Equal(t, "new-token", tr.data.SessionToken)
	assert.Equal(t, "USA", tr.data.AccountCountry)
	// Absent headers must not blank existing values.
	assert.Equal(t, "old-scnt", tr.data.Scnt)
}
