package gmail

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

// AuthError indicates the provider rejected the bearer token (HTTP 401)
// despite the local freshness check. The caller should offer reauthentication.
type AuthError struct {
	err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("gmail: token rejected by provider: %v", e.err)
}

func (e *AuthError) Unwrap() error { return e.err }

// PermissionError indicates the provider denied access (HTTP 403) despite
// the local scope check, e.g. the grant was revoked externally.
type PermissionError struct {
	err error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("gmail: access denied by provider: %v", e.err)
}

func (e *PermissionError) Unwrap() error { return e.err }

// ProtocolError covers every other upstream failure: unexpected status
// codes, transport errors, and malformed responses. Status and Body carry
// the provider's diagnostics when available.
type ProtocolError struct {
	Status int
	Body   string
	err    error
}

func (e *ProtocolError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gmail: unexpected provider response (status %d): %v", e.Status, e.err)
	}
	return fmt.Sprintf("gmail: provider request failed: %v", e.err)
}

func (e *ProtocolError) Unwrap() error { return e.err }

// classifyError maps a Gmail API error onto the package taxonomy.
func classifyError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized:
			return &AuthError{err: err}
		case http.StatusForbidden:
			return &PermissionError{err: err}
		default:
			return &ProtocolError{Status: apiErr.Code, Body: apiErr.Body, err: err}
		}
	}
	return &ProtocolError{err: err}
}
