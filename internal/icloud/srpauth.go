package icloud

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/hidemail/internal/icloud/srp"
)

// srpProtocols lists the password hashing protocols this client supports,
// in preference order.
var srpProtocols = []string{"s2k", "s2k_fo"}

type srpInitRequest struct {
	A           string   `json:"a"`
	AccountName string   `json:"accountName"`
	Protocols   []string `json:"protocols"`
}

type srpInitResponse struct {
	Iteration int    `json:"iteration"`
	Salt      string `json:"salt"`
	Protocol  string `json:"protocol"`
	B         string `json:"b"`
	C         string `json:"c"`
}

type srpCompleteRequest struct {
	AccountName string   `json:"accountName"`
	C           string   `json:"c"`
	M1          string   `json:"m1"`
	M2          string   `json:"m2"`
	RememberMe  bool     `json:"rememberMe"`
	TrustTokens []string `json:"trustTokens"`
}

// srpSignIn runs the SRP handshake:
//
//  1. an initiation call with a placeholder public key fetches the salt and
//     iteration count,
//  2. a second initiation call carries the real client public key A and
//     returns the server key B plus the continuation token c,
//  3. the completion call sends the evidence values M1/M2.
//
// The salt/iterations actually used are the ones from the second response;
// if the server rotated them between the two rounds the first-round values
// are stale and only worth a warning.
func (s *Session) srpSignIn(ctx context.Context, password string) error {
	placeholder := base64.StdEncoding.EncodeToString([]byte("placeholder"))
	first, err := s.srpInit(ctx, placeholder)
	if err != nil {
		return wrapSignInError(err, "SRP initiation failed.")
	}

	client, err := srp.NewClient()
	if err != nil {
		return &LoginError{Reason: "SRP initiation failed.", Cause: err}
	}

	second, err := s.srpInit(ctx, base64.StdEncoding.EncodeToString(client.PublicKey()))
	if err != nil {
		return wrapSignInError(err, "SRP initiation failed.")
	}
	if second.Salt != first.Salt || second.Iteration != first.Iteration {
		s.log.Warn(ctx, "salt or iteration count rotated between SRP initiation rounds")
	}

	salt, err := base64.StdEncoding.DecodeString(second.Salt)
	if err != nil {
		return &LoginError{Reason: "SRP initiation failed.", Cause: fmt.Errorf("decode salt: %w", err)}
	}
	serverB, err := base64.StdEncoding.DecodeString(second.B)
	if err != nil {
		return &LoginError{Reason: "SRP initiation failed.", Cause: fmt.Errorf("decode server key: %w", err)}
	}

	derived, err := srp.DerivePassword(second.Protocol, password, salt, second.Iteration)
	if err != nil {
		return &LoginError{Reason: "SRP initiation failed.", Cause: err}
	}
	proofs, err := client.Complete(s.account, derived, salt, serverB)
	if err != nil {
		return &LoginError{Reason: "SRP initiation failed.", Cause: err}
	}

	body := srpCompleteRequest{
		AccountName: s.account,
		C:           second.C,
		M1:          base64.StdEncoding.EncodeToString(proofs.M1),
		M2:          base64.StdEncoding.EncodeToString(proofs.M2),
		RememberMe:  true,
		TrustTokens: s.data.trustTokens(),
	}
	url := s.endpoints.Auth + "/signin/complete?isRememberMeEnabled=true"
	if _, _, err := s.t.Do(ctx, http.MethodPost, url, body, nil); err != nil {
		return wrapSignInError(err, "SRP sign-in failed.")
	}
	return nil
}

func (s *Session) srpInit(ctx context.Context, publicKey string) (*srpInitResponse, error) {
	body := srpInitRequest{
		A:           publicKey,
		AccountName: s.account,
		Protocols:   srpProtocols,
	}
	_, payload, err := s.t.Do(ctx, http.MethodPost, s.endpoints.Auth+"/signin/init", body, nil)
	if err != nil {
		return nil, err
	}
	resp := &srpInitResponse{}
	if err := decodeJSON(payload, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// wrapSignInError rewraps a structured server failure as a login failure,
// preferring the server's stated reason over the fixed fallback message.
// Transport-level errors pass through untouched so that network failures
// keep their identity.
func wrapSignInError(err error, fallback string) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	reason := apiErr.Reason
	if reason == "" {
		reason = fallback
	}
	return &LoginError{Reason: reason, Cause: err}
}
