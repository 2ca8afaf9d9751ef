package oauth

import (
	"errors"
	"fmt"
)

// ErrStateInvalid is returned when a callback carries a state value that is
// missing, tampered with, expired, or already consumed.
var ErrStateInvalid = errors.New("invalid or expired state")

// AuthError is a rejection from the identity provider: an invalid or
// already-used authorization code, bad client credentials, or a revoked
// refresh token. Callers must handle it explicitly; there is no automatic
// recovery beyond asking the user to re-authenticate.
type AuthError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *AuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("provider rejected request: %s (%s)", e.Code, e.Description)
	}
	if e.Code != "" {
		return fmt.Sprintf("provider rejected request: %s", e.Code)
	}
	return fmt.Sprintf("provider rejected request: status %d", e.StatusCode)
}
