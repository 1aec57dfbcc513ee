package session

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Validator is the read-only view of Service used by Guard.
type Validator interface {
	Validate(ctx context.Context, token string, now time.Time) (AccessClaims, error)
}

// Principal is the authenticated caller.
type Principal struct {
	Identity  string
	SessionID string
	ExpiresAt time.Time

	// Token is the credential the principal was resolved from.
	Token string
}

// Guard authenticates HTTP requests. It has no side effects.
type Guard struct {
	v          Validator
	cookieName string
	now        func() time.Time
}

// NewGuard returns a Guard reading cookieName as the fallback credential.
func NewGuard(v Validator, cookieName string) *Guard {
	return &Guard{
		v:          v,
		cookieName: cookieName,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Authenticate resolves the request's credential to a Principal.
func (g *Guard) Authenticate(ctx context.Context, r *http.Request) (Principal, error) {
	tok, ok := TokenFromRequest(r, g.cookieName)
	if !ok {
		return Principal{}, unauthenticated(ErrNoCredential)
	}
	claims, err := g.v.Validate(ctx, tok, g.now())
	if err != nil {
		return Principal{}, err
	}
	return Principal{
		Identity:  claims.UserID,
		SessionID: claims.SessionID,
		ExpiresAt: claims.ExpiresAt,
		Token:     tok,
	}, nil
}

// Recheck re-validates a token already accepted once. Used by long-lived connections.
func (g *Guard) Recheck(ctx context.Context, token string) (Principal, error) {
	claims, err := g.v.Validate(ctx, token, g.now())
	if err != nil {
		return Principal{}, err
	}
	return Principal{
		Identity:  claims.UserID,
		SessionID: claims.SessionID,
		ExpiresAt: claims.ExpiresAt,
		Token:     token,
	}, nil
}

// TokenFromRequest returns the bearer token, or the session cookie when no
// Authorization header is present.
func TokenFromRequest(r *http.Request, cookieName string) (string, bool) {
	if r == nil {
		return "", false
	}
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		const prefix = "bearer "
		if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
			return "", false
		}
		tok := strings.TrimSpace(h[len(prefix):])
		return tok, tok != ""
	}
	if cookieName == "" {
		return "", false
	}
	c, err := r.Cookie(cookieName)
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(c.Value)
	return v, v != ""
}
