package session

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Service issues and validates sessions.
type Service struct {
	cfg    Config
	tokens TokenManager
	store  Store
}

// Issued is a freshly created session and its token.
type Issued struct {
	SessionID string
	Token     string
	ExpiresAt time.Time
}

// NewService constructs a Service.
func NewService(cfg Config, store Store, tokens TokenManager) *Service {
	return &Service{cfg: cfg, store: store, tokens: tokens}
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Issue creates a session row for userID and signs a token that expires with it.
func (s *Service) Issue(ctx context.Context, now time.Time, userID string, dev DeviceContext) (Issued, error) {
	if strings.TrimSpace(userID) == "" {
		return Issued{}, errors.New("session: empty user id")
	}
	if dev.Platform == "" {
		dev.Platform = PlatformUnknown
	}

	exp := now.Add(s.cfg.SessionTTL)
	sid, err := s.store.Create(ctx, now, userID, dev, exp)
	if err != nil {
		return Issued{}, err
	}

	tok, err := s.tokens.Issue(userID, sid, now, exp)
	if err != nil {
		return Issued{}, err
	}
	return Issued{SessionID: sid, Token: tok, ExpiresAt: exp}, nil
}

// Validate verifies the token and then the backing session row.
// Every credential failure matches ErrUnauthenticated; store outages do not.
func (s *Service) Validate(ctx context.Context, token string, now time.Time) (AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > 4096 {
		return AccessClaims{}, unauthenticated(ErrInvalidToken)
	}

	claims, err := s.tokens.Verify(token, now)
	if err != nil {
		return AccessClaims{}, unauthenticated(err)
	}

	row, err := s.store.GetByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return AccessClaims{}, unauthenticated(err)
		}
		return AccessClaims{}, err
	}

	switch {
	case row.UserID != claims.UserID:
		return AccessClaims{}, unauthenticated(ErrInvalidToken)
	case row.RevokedAt != nil:
		return AccessClaims{}, unauthenticated(ErrSessionRevoked)
	case !row.ExpiresAt.After(now):
		return AccessClaims{}, unauthenticated(ErrSessionExpired)
	}

	// The row is authoritative for expiry.
	claims.ExpiresAt = row.ExpiresAt
	return claims, nil
}

// Revoke revokes one session (logout). Revoking twice is not an error.
func (s *Service) Revoke(ctx context.Context, now time.Time, sessionID string) error {
	return s.store.Revoke(ctx, now, sessionID, "logout")
}

// Touch records activity on a session (best-effort).
func (s *Service) Touch(ctx context.Context, now time.Time, sessionID string) error {
	return s.store.Touch(ctx, now, sessionID)
}
