package icloud

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork means no response reached us at all. The message is shown
	// to users as-is, so it stays actionable.
	ErrNetwork = errors.New("connection failed: please check your internet connection")

	// ErrSessionExpired means the stored token is no longer valid. It is a
	// recoverable condition: callers should re-run Authenticate, never show
	// it as a generic failure.
	ErrSessionExpired = errors.New("session expired")

	// ErrTwoFactorRequired is returned when the account demands a second
	// factor before the session becomes usable.
	ErrTwoFactorRequired = errors.New("two-factor authentication required")

	// ErrServiceNotActivated means the account exists but the requested
	// webservice is not provisioned for it.
	ErrServiceNotActivated = errors.New("service not activated: please log in at the iCloud website and finish setting up the service")
)

// APIError is a structured failure response from an iCloud endpoint.
// Code holds the provider's error code when the body carried one,
// Reason a user-facing explanation (from the fixed translation table or,
// failing that, the server's own wording).
type APIError struct {
	StatusCode int
	Code       string
	Reason     string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("icloud: %s (code %s, status %d)", e.Reason, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("icloud: %s (status %d)", e.Reason, e.StatusCode)
}

// LoginError wraps a lower-level failure during any sign-in path.
// Reason is user-facing; Cause preserves the underlying error for errors.As.
type LoginError struct {
	Reason string
	Cause  error
}

func (e *LoginError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("login failed: %s: %v", e.Reason, e.Cause)
	}
	return "login failed: " + e.Reason
}

func (e *LoginError) Unwrap() error { return e.Cause }

// statusReasons is the fixed status→reason table. An unmapped status falls
// back to the server-provided reason, never to an empty message.
var statusReasons = map[int]string{
	400: "invalid request",
	401: "authentication failed: please verify your account name and session token",
	403: "access to this service is forbidden",
	409: "conflict: an additional verification step is required",
	421: "authentication required",
	429: "too many requests: please try again later",
	500: "the service reported an internal error: please try again later",
	503: "the service is under maintenance or unavailable",
}

// codeReasons translates the provider's error codes that carry a fixed,
// known meaning.
var codeReasons = map[string]string{
	"SUBSCRIPTION_LAPSED": "your subscription has lapsed",
	"TRIAL_EXPIRED":       "your free trial has expired",
	"-20101":              "invalid account name or password",
	"-20283":              "invalid account name or password",
}

// serviceNotActivatedCodes are the codes that mean the account has never
// finished provisioning the dependent service.
var serviceNotActivatedCodes = map[string]bool{
	"ZONE_NOT_FOUND":        true,
	"AUTHENTICATION_FAILED": true,
}
