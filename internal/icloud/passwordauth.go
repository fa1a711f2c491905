package icloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type passwordSignInRequest struct {
	AccountName string   `json:"accountName"`
	Password    string   `json:"password"`
	RememberMe  bool     `json:"rememberMe"`
	TrustTokens []string `json:"trustTokens"`
}

// passwordSignIn is the legacy direct-password path, used only when the SRP
// handshake fails (known server-side compatibility gaps). A known trust
// token is sent along so an already-trusted device can skip the second
// factor.
func (s *Session) passwordSignIn(ctx context.Context, password string) error {
	body := passwordSignInRequest{
		AccountName: s.account,
		Password:    password,
		RememberMe:  true,
		TrustTokens: s.data.trustTokens(),
	}
	url := s.endpoints.Auth + "/signin?isRememberMeEnabled=true"
	if _, _, err := s.t.Do(ctx, http.MethodPost, url, body, nil); err != nil {
		return wrapSignInError(err, "Password sign-in failed.")
	}
	return nil
}

func decodeJSON(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
