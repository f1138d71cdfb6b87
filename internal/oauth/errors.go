package oauth

import "fmt"

// ExchangeError is returned when the token endpoint rejects an
// authorization-code exchange. It carries the HTTP status and raw body so
// the failure can be diagnosed; the whole flow may simply be retried.
type ExchangeError struct {
	StatusCode int
	Body       string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed with status %d: %s", e.StatusCode, e.Body)
}

// RefreshError is returned when a refresh-token grant fails. The caller
// must fall back to a full re-authentication.
type RefreshError struct {
	StatusCode int
	Body       string
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed with status %d: %s", e.StatusCode, e.Body)
}
