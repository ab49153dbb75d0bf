package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrProfileNotFound is returned when no profile exists for an identity.
var ErrProfileNotFound = errors.New("profile not found")

// ProviderError is a structured error reported by the identity provider.
type ProviderError struct {
	Status  int
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity provider: %s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("identity provider: %s (%d)", e.Message, e.Status)
}

// Rejected reports whether the provider refused the request, as opposed to failing to serve it.
func (e *ProviderError) Rejected() bool {
	return e.Status >= http.StatusBadRequest && e.Status < http.StatusInternalServerError
}

// CredentialError reports a rejected or malformed sign-in attempt.
type CredentialError struct {
	Message string
	Err     error
}

func (e *CredentialError) Error() string { return e.Message }
func (e *CredentialError) Unwrap() error { return e.Err }

// SignUpError reports a rejected account creation.
type SignUpError struct {
	Message string
	Err     error
}

func (e *SignUpError) Error() string { return e.Message }
func (e *SignUpError) Unwrap() error { return e.Err }

// ProfileFetchError reports that the profile for a signed-in identity could not be loaded.
type ProfileFetchError struct {
	Message string
	Err     error
}

func (e *ProfileFetchError) Error() string { return e.Message }
func (e *ProfileFetchError) Unwrap() error { return e.Err }

// RemoteSignOutError reports a failed remote session revocation. Local sign-out still completes.
type RemoteSignOutError struct {
	Err error
}

func (e *RemoteSignOutError) Error() string {
	return fmt.Sprintf("remote sign-out: %v", e.Err)
}

func (e *RemoteSignOutError) Unwrap() error { return e.Err }

// UserMessage returns a message safe to show to end users. Provider rejections
// carry their own message; anything else collapses to fallback.
func UserMessage(err error, fallback string) string {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) && providerErr.Rejected() && providerErr.Message != "" {
		return providerErr.Message
	}
	return fallback
}
