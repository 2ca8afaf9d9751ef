package accounts

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated means no token is on file for the realm; the
	// client must begin the authorization flow.
	ErrNotAuthenticated = errors.New("not authenticated with QuickBooks")

	// ErrReauthRequired means the stored refresh token is expired or revoked
	// and cannot recover the session without user interaction.
	ErrReauthRequired = errors.New("re-authentication with QuickBooks required")

	// errUnauthorized marks a downstream 401; resolved internally by a
	// single forced refresh, never returned to callers.
	errUnauthorized = errors.New("quickbooks rejected the access token")
)

// DownstreamError is a non-auth failure from the QuickBooks API.
type DownstreamError struct {
	StatusCode int
	Message    string
}

func (e *DownstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("quickbooks api error: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("quickbooks api error: %s", e.Message)
}
