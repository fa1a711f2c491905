package icloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type phoneVerifyRequest struct {
	PhoneNumber phoneRef `json:"phoneNumber"`
	Mode        string   `json:"mode"`
}

type phoneRef struct {
	ID int `json:"id"`
}

type phoneVerifyResponse struct {
	TrustedPhoneNumber struct {
		LastTwoDigits string `json:"lastTwoDigits"`
	} `json:"trustedPhoneNumber"`
}

type securityCodeRequest struct {
	SecurityCode securityCode `json:"securityCode"`
}

type securityCode struct {
	Code string `json:"code"`
}

// SendVerificationCode asks the provider to deliver a second-factor code.
// Accounts with a qualifying trusted device get a push prompt; otherwise an
// SMS goes to the trusted phone, in which case the phone's last two digits
// are returned so the UI can hint where the code went.
func (s *Session) SendVerificationCode(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.profile != nil && s.profile.DSInfo.HasICloudQualifyingDevice {
		url := s.endpoints.Auth + "/verify/trusteddevice/securitycode"
		if _, _, err := s.t.Do(ctx, http.MethodPut, url, nil, nil); err != nil {
			return "", fmt.Errorf("request device verification: %w", err)
		}
		return "", nil
	}

	body := phoneVerifyRequest{PhoneNumber: phoneRef{ID: 1}, Mode: "sms"}
	_, payload, err := s.t.Do(ctx, http.MethodPut, s.endpoints.Auth+"/verify/phone", body, nil)
	if err != nil {
		return "", fmt.Errorf("request sms verification: %w", err)
	}
	resp := &phoneVerifyResponse{}
	if err := decodeJSON(payload, resp); err != nil {
		return "", err
	}
	return resp.TrustedPhoneNumber.LastTwoDigits, nil
}

// ValidateCode submits the six-digit verification code. Verification errors
// surface directly (a retry needs fresh user input). On success the session
// becomes authenticated, and an attempt is made to mark it trusted; a
// failure there is logged but does not fail the call, since it only means
// the user will be challenged again on a later login.
func (s *Session) ValidateCode(ctx context.Context, code string) error {
	if !validCode(code) {
		return errors.New("icloud: verification code must be exactly 6 digits")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	body := securityCodeRequest{SecurityCode: securityCode{Code: code}}
	url := s.endpoints.Auth + "/verify/trusteddevice/securitycode"
	if _, _, err := s.t.Do(ctx, http.MethodPost, url, body, nil); err != nil {
		return fmt.Errorf("validate verification code: %w", err)
	}

	s.state = StateAuthenticated
	if !s.trustSession(ctx) {
		s.log.Warn(ctx, "session trust establishment failed, user will be challenged again")
		return nil
	}
	s.settle()
	return nil
}

// TrustSession requests trust elevation for the current session and then
// refreshes the service profile. It reports success; any failure is
// non-fatal because an untrusted session merely re-challenges later.
func (s *Session) TrustSession(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.trustSession(ctx) {
		return false
	}
	s.settle()
	return true
}

func (s *Session) trustSession(ctx context.Context) bool {
	if _, _, err := s.t.Do(ctx, http.MethodGet, s.endpoints.Auth+"/2sv/trust", nil, nil); err != nil {
		s.log.Warn(ctx, "trust elevation request failed", "err", err)
		return false
	}
	if err := s.accountLogin(ctx); err != nil {
		s.log.Warn(ctx, "token re-exchange after trust elevation failed", "err", err)
		return false
	}
	return true
}

func validCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
