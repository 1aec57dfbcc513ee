package identity

import (
	"errors"
	"fmt"

	"parley/cmd/security/password"
)

// Hasher adapts cmd/security/password to identity errors.
type Hasher struct {
	cfg password.Config
}

// NewHasher returns a Hasher bound to cfg.
func NewHasher(cfg password.Config) *Hasher {
	return &Hasher{cfg: cfg}
}

// Hash validates the password policy and hashes pw.
// Policy violations are returned as ErrInvalidInput with a user-facing message.
func (h *Hasher) Hash(pw string) (string, error) {
	const op = "identity.HashPassword"

	enc, err := h.cfg.Hash(pw)
	switch {
	case err == nil:
		return enc, nil
	case errors.Is(err, password.ErrPasswordTooShort):
		return "", invalid(op, fmt.Sprintf("Password must be at least %d characters", h.cfg.Policy.MinLength))
	case errors.Is(err, password.ErrPasswordTooLong):
		return "", invalid(op, fmt.Sprintf("Password must be at most %d characters", h.cfg.Policy.MaxLength))
	case errors.Is(err, password.ErrWeakPassword):
		return "", invalid(op, "Password is too common")
	default:
		return "", err
	}
}

// Verify compares pw with the stored hash. A malformed stored hash is an error, not a mismatch.
func (h *Hasher) Verify(encoded, pw string) (bool, error) {
	ok, err := h.cfg.Verify(encoded, pw)
	if err != nil {
		return false, fmt.Errorf("identity.VerifyPassword: %w", err)
	}
	return ok, nil
}

// NeedsRehash reports whether encoded was produced with outdated parameters.
func (h *Hasher) NeedsRehash(encoded string) bool {
	return h.cfg.NeedsRehash(encoded)
}
