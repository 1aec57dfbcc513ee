package session

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated wraps every credential or session failure surfaced by Guard and Service.Validate.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNoCredential means the request carried neither a bearer token nor a session cookie.
	ErrNoCredential = errors.New("no credential")

	// ErrInvalidToken is returned when a token fails signature, issuer or claim checks.
	ErrInvalidToken = errors.New("invalid token")

	// ErrSessionNotFound is returned when the token references an unknown session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when the session is past its expiry.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionRevoked is returned when the session has been revoked (logout).
	ErrSessionRevoked = errors.New("session revoked")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid session config")
)

// unauthenticated tags cause so callers can match both ErrUnauthenticated and the cause.
func unauthenticated(cause error) error {
	return fmt.Errorf("%w: %w", ErrUnauthenticated, cause)
}
