// Package hidemyemail is the alias-management client built on top of an
// authenticated iCloud session. All calls go through the session's request
// pass-through, so error translation and session persistence stay in one
// place; an ErrSessionExpired bubbling out of any method means the caller
// should re-authenticate and retry.
package hidemyemail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/hidemail/internal/logging"
)

// WebserviceName is the profile key of the service this client depends on.
const WebserviceName = "premiummailsettings"

// Requester is the slice of the iCloud session this client needs.
type Requester interface {
	Request(ctx context.Context, method, url string, body any, hdr http.Header) (*http.Response, []byte, error)
	WebserviceURL(name string) (string, error)
}

// Alias is one Hide My Email address.
type Alias struct {
	Hme             string `json:"hme"`
	Label           string `json:"label"`
	Note            string `json:"note"`
	AnonymousID     string `json:"anonymousId"`
	Domain          string `json:"domain"`
	ForwardToEmail  string `json:"forwardToEmail"`
	OriginAppName   string `json:"originAppName"`
	IsActive        bool   `json:"isActive"`
	CreateTimestamp int64  `json:"createTimestamp"`
	RecipientMailID string `json:"recipientMailId"`
}

// Client issues Hide My Email operations for one account.
type Client struct {
	rq   Requester
	base string
	log  logging.Logger
}

// New resolves the service base URL from the session profile. An account
// without the premium mail settings webservice gets ErrServiceNotActivated
// from the session and cannot use this client.
func New(rq Requester, log logging.Logger) (*Client, error) {
	base, err := rq.WebserviceURL(WebserviceName)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.NewDiscardLogger()
	}
	return &Client{rq: rq, base: base, log: log}, nil
}

// envelope is the response wrapper all Hide My Email endpoints share.
type envelope struct {
	Success *bool           `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *envelopeError  `json:"error"`
}

type envelopeError struct {
	ErrorMessage string `json:"errorMessage"`
	ErrorCode    string `json:"errorCode"`
}

func (c *Client) call(ctx context.Context, method, path string, body any, result any) error {
	_, payload, err := c.rq.Request(ctx, method, c.base+path, body, nil)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Success != nil && !*env.Success {
		msg := "request rejected"
		if env.Error != nil && env.Error.ErrorMessage != "" {
			msg = env.Error.ErrorMessage
		}
		return fmt.Errorf("hidemyemail: %s", msg)
	}
	if result == nil {
		return nil
	}
	if len(env.Result) == 0 {
		return errors.New("hidemyemail: response carried no result")
	}
	if err := json.Unmarshal(env.Result, result); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// ListAddresses returns every alias on the account.
func (c *Client) ListAddresses(ctx context.Context) ([]Alias, error) {
	var result struct {
		HmeEmails []Alias `json:"hmeEmails"`
	}
	if err := c.call(ctx, http.MethodGet, "/v2/hme/list", nil, &result); err != nil {
		return nil, err
	}
	return result.HmeEmails, nil
}

// Generate asks the service for a fresh, unreserved alias address.
func (c *Client) Generate(ctx context.Context) (string, error) {
	var result struct {
		Hme string `json:"hme"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/hme/generate", nil, &result); err != nil {
		return "", err
	}
	return result.Hme, nil
}

// Reserve activates a generated address with the given label and note.
func (c *Client) Reserve(ctx context.Context, address, label, note string) (*Alias, error) {
	body := map[string]string{"hme": address, "label": label, "note": note}
	var result struct {
		Hme Alias `json:"hme"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/hme/reserve", body, &result); err != nil {
		return nil, err
	}
	return &result.Hme, nil
}

// UpdateMetadata changes the label and note of an existing alias.
func (c *Client) UpdateMetadata(ctx context.Context, anonymousID, label, note string) error {
	body := map[string]string{"anonymousId": anonymousID, "label": label, "note": note}
	return c.call(ctx, http.MethodPost, "/v1/hme/updateMetaData", body, nil)
}

// Deactivate stops forwarding for an alias without deleting it.
func (c *Client) Deactivate(ctx context.Context, anonymousID string) error {
	body := map[string]string{"anonymousId": anonymousID}
	return c.call(ctx, http.MethodPost, "/v1/hme/deactivate", body, nil)
}

// Reactivate resumes forwarding for a deactivated alias.
func (c *Client) Reactivate(ctx context.Context, anonymousID string) error {
	body := map[string]string{"anonymousId": anonymousID}
	return c.call(ctx, http.MethodPost, "/v1/hme/reactivate", body, nil)
}

// Delete permanently removes a deactivated alias.
func (c *Client) Delete(ctx context.Context, anonymousID string) error {
	body := map[string]string{"anonymousId": anonymousID}
	return c.call(ctx, http.MethodPost, "/v1/hme/delete", body, nil)
}
