package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Error kinds. Every error returned by AuthAPI and Dialer matches exactly one
// of them with errors.Is.
var (
	// ErrUnauthenticated means no, expired or invalid credential. Never retried.
	ErrUnauthenticated = errors.New("client: unauthenticated")

	// ErrRateLimited means the server asked the client to back off.
	ErrRateLimited = errors.New("client: rate limited")

	// ErrTimeout is a network-level timeout. State is left unchanged.
	ErrTimeout = errors.New("client: timeout")

	// ErrUnexpected is any other failure.
	ErrUnexpected = errors.New("client: unexpected failure")
)

// APIError is a non-2xx response from the auth API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("auth api: status %d", e.Status)
	}
	return fmt.Sprintf("auth api: status %d: %s", e.Status, e.Message)
}

// Unwrap maps the status to an error kind.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrUnauthenticated
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrTimeout
	default:
		return ErrUnexpected
	}
}

// RateLimitError is a 429 response. RetryAfter is zero when the server sent no hint.
type RateLimitError struct {
	RetryAfter time.Duration
	API        *APIError
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("auth api: rate limited, retry after %s", e.RetryAfter)
	}
	return "auth api: rate limited"
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// ServerMessage returns the user-facing message carried by err, if any.
func ServerMessage(err error) string {
	var api *APIError
	if errors.As(err, &api) {
		return api.Message
	}
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.API != nil {
		return rl.API.Message
	}
	return ""
}

// classifyTransport maps a network error to ErrTimeout or ErrUnexpected.
func classifyTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTimeout(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnexpected, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
