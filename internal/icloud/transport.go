package icloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/hidemail/internal/icloud/store"
	"github.com/dmitrijs2005/hidemail/internal/logging"
)

// transport executes every network call for one account's session.
// It injects the identity headers, folds session-identifying response
// headers back into SessionData, translates failures into the typed error
// set, and persists session data and cookies after each returned response.
//
// Every call mutates persisted state on success; that is deliberate
// (session continuity), so callers must not treat requests as free of side
// effects.
type transport struct {
	hc        *http.Client
	jar       *Jar
	endpoints Endpoints
	data      *SessionData
	st        store.Store
	account   string
	log       logging.Logger
}

func newTransport(endpoints Endpoints, data *SessionData, jar *Jar, st store.Store, account string, log logging.Logger) *transport {
	return &transport{
		hc:        &http.Client{Jar: jar, Timeout: requestTimeout},
		jar:       jar,
		endpoints: endpoints,
		data:      data,
		st:        st,
		account:   account,
		log:       log,
	}
}

// Do issues one request. body (if non-nil) is JSON-encoded; extra headers
// override the defaults. A 409 status is a successful transport result: the
// provider uses it to signal "additional step required", not failure.
//
// On a returned response the session headers are folded into SessionData
// and both SessionData and the cookie jar are persisted. On a transport
// error (timeout included) nothing is extracted or persisted.
func (t *transport) Do(ctx context.Context, method, url string, body any, hdr http.Header) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	t.applyHeaders(req, hdr)

	resp, err := t.hc.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w (%v)", ErrNetwork, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w (read body: %v)", ErrNetwork, err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusConflict {
		return nil, nil, t.translate(resp, payload)
	}

	t.foldSessionHeaders(resp.Header)
	if err := t.persist(ctx); err != nil {
		return nil, nil, err
	}
	return resp, payload, nil
}

func (t *transport) applyHeaders(req *http.Request, extra http.Header) {
	h := req.Header
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json, text/javascript")
	h.Set("Origin", t.endpoints.Home)
	h.Set("Referer", t.endpoints.Home+"/")

	if strings.HasPrefix(req.URL.String(), t.endpoints.Auth) {
		h.Set("X-Apple-OAuth-Client-Id", widgetKey)
		h.Set("X-Apple-OAuth-Client-Type", "firstPartyAuth")
		h.Set("X-Apple-OAuth-Redirect-URI", t.endpoints.Home)
		h.Set("X-Apple-OAuth-Require-Grant-Code", "true")
		h.Set("X-Apple-OAuth-Response-Mode", "web_message")
		h.Set("X-Apple-OAuth-Response-Type", "code")
		h.Set("X-Apple-OAuth-State", t.data.ClientID)
		h.Set("X-Apple-Widget-Key", widgetKey)

		if t.data.Scnt != "" {
			h.Set("scnt", t.data.Scnt)
		}
		if t.data.SessionID != "" {
			h.Set("X-Apple-ID-Session-Id", t.data.SessionID)
		}
	}

	for key, values := range extra {
		h.Del(key)
		for _, v := range values {
			h.Add(key, v)
		}
	}
}

// foldSessionHeaders copies the fixed set of session-identifying response
// headers into SessionData. The mapping is spelled out so that a new header
// can only be handled by touching this switch-like block.
func (t *transport) foldSessionHeaders(h http.Header) {
	if v := h.Get("X-Apple-ID-Account-Country"); v != "" {
		t.data.AccountCountry = v
	}
	if v := h.Get("X-Apple-ID-Session-Id"); v != "" {
		t.data.SessionID = v
	}
	if v := h.Get("X-Apple-Session-Token"); v != "" {
		t.data.SessionToken = v
	}
	if v := h.Get("X-Apple-TwoSV-Trust-Token"); v != "" {
		t.data.TrustToken = v
	}
	if v := h.Get("scnt"); v != "" {
		t.data.Scnt = v
	}
}

func (t *transport) persist(ctx context.Context) error {
	session, err := json.Marshal(t.data)
	if err != nil {
		return fmt.Errorf("encode session data: %w", err)
	}
	if err := t.st.Set(ctx, sessionKey(t.account), session); err != nil {
		return fmt.Errorf("persist session data: %w", err)
	}

	cookies, err := t.jar.Serialize()
	if err != nil {
		return fmt.Errorf("encode cookies: %w", err)
	}
	if err := t.st.Set(ctx, cookieKey(t.account), cookies); err != nil {
		return fmt.Errorf("persist cookies: %w", err)
	}
	return nil
}

// apiErrorBody is the union of error body shapes the provider produces:
// a flat reason/error pair, or a list under "errors"/"serviceErrors".
type apiErrorBody struct {
	Reason        string          `json:"reason"`
	ErrorField    json.RawMessage `json:"error"`
	Errors        []apiErrorItem  `json:"errors"`
	ServiceErrors []apiErrorItem  `json:"serviceErrors"`
	TrustTokens   []string        `json:"trustTokens"`
}

type apiErrorItem struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
	Reason  string          `json:"reason"`
}

// translate is the single boundary turning a structured server failure into
// the typed error set of this package.
func (t *transport) translate(resp *http.Response, payload []byte) error {
	var body apiErrorBody
	_ = json.Unmarshal(payload, &body)

	code, reason := extractCodeReason(&body)

	// Expired-session signals take precedence over the generic tables.
	if resp.StatusCode == 421 && len(body.TrustTokens) > 0 {
		return fmt.Errorf("%w (status 421)", ErrSessionExpired)
	}
	if resp.StatusCode == http.StatusUnauthorized && reason == "Invalid global session" {
		return ErrSessionExpired
	}
	if serviceNotActivatedCodes[code] {
		return fmt.Errorf("%w (code %s)", ErrServiceNotActivated, code)
	}

	translated := codeReasons[code]
	if translated == "" {
		translated = statusReasons[resp.StatusCode]
	}
	if translated == "" {
		// Unmapped code: fall back to the server's own wording, never to
		// an empty message.
		translated = reason
	}
	if translated == "" {
		translated = http.StatusText(resp.StatusCode)
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		translated += "; if you are connected through a VPN, try disabling it"
	}

	return &APIError{StatusCode: resp.StatusCode, Code: code, Reason: translated}
}

func extractCodeReason(body *apiErrorBody) (code, reason string) {
	reason = body.Reason

	if len(body.ErrorField) > 0 {
		var s string
		if err := json.Unmarshal(body.ErrorField, &s); err == nil {
			if reason == "" {
				reason = s
			}
			code = s
		} else {
			var obj apiErrorItem
			if err := json.Unmarshal(body.ErrorField, &obj); err == nil {
				if reason == "" {
					reason = obj.Message
				}
				code = rawCode(obj.Code)
			}
		}
	}

	// List-shaped bodies: the first entry wins.
	items := body.Errors
	if len(items) == 0 {
		items = body.ServiceErrors
	}
	if len(items) > 0 {
		first := items[0]
		if reason == "" {
			reason = first.Message
		}
		if reason == "" {
			reason = first.Reason
		}
		if code == "" {
			code = rawCode(first.Code)
		}
	}
	return code, reason
}

// rawCode renders a JSON error code that may be either a string or a number.
func rawCode(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(raw)
}
