package authflow

import (
	"errors"
	"fmt"
)

var (
	// ErrNoPortAvailable means every port in the configured callback
	// range is occupied.
	ErrNoPortAvailable = errors.New("no callback port available in configured range")
	// ErrFlowTimeout means no callback arrived within the deadline.
	ErrFlowTimeout = errors.New("authorization flow timed out")
	// ErrFlowCancelled means the user cancelled the flow. Not a loud
	// error, just a clean abort.
	ErrFlowCancelled = errors.New("authorization flow cancelled")
	// ErrCSRFMismatch means the state parameter was missing or did not
	// match the session. Never retried automatically.
	ErrCSRFMismatch = errors.New("state mismatch, possible cross-site request forgery")
	// ErrMissingCode means the redirect carried no authorization code.
	ErrMissingCode = errors.New("no authorization code received")
	// ErrBrowserLaunch means the system browser could not be opened.
	// Fatal: there is no manual-entry fallback in this flow.
	ErrBrowserLaunch = errors.New("could not open system browser")
)

// AuthorizationError is a provider-reported authorization failure,
// delivered via the error query parameter on the redirect.
type AuthorizationError struct {
	Code        string
	Description string
}

func (e *AuthorizationError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization failed: %s - %s", e.Code, e.Description)
	}
	return fmt.Sprintf("authorization failed: %s", e.Code)
}
