package zoho

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates a record lookup matched nothing.
var ErrNotFound = errors.New("record not found")

// AuthError represents a failed credential acquisition or a credential the
// CRM definitively rejected. It carries the upstream status and body so
// callers can distinguish misconfigured credentials from transient outages.
type AuthError struct {
	// Status is the upstream HTTP status, 0 when the failure happened
	// before a response was received (network error, bad request build).
	Status int

	// Body is the upstream response body, possibly empty.
	Body string

	err error
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.err.Error(), e.Status, truncate(e.Body, 200))
	}
	return e.err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.err
}

// IsAuthError returns true if the error is (or wraps) an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// APIError represents a non-2xx response from a CRM call, or a per-record
// result the CRM marked unsuccessful.
type APIError struct {
	Status  int
	Code    string
	Message string
	Body    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("crm api error (status %d, code %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("crm api error (status %d): %s", e.Status, truncate(e.Body, 200))
}

// IsAPIError returns true if the error is (or wraps) an APIError.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
