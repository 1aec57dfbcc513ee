package app

import (
	"errors"
	"strings"

	"parley/cmd/internal/auth/session"
)

// ErrSigningKeyRequired is returned when PARLEY_REQUIRE_SIGNING_KEY is set
// but no PASETO key is configured.
var ErrSigningKeyRequired = errors.New("security policy: PARLEY_REQUIRE_SIGNING_KEY=true but PARLEY_PASETO_V4_SECRET_KEY_HEX is missing")

// ensureSigningKey fills in an ephemeral signing key for development, or
// fails fast when policy demands a configured one.
// Tokens signed with an ephemeral key do not survive a restart.
func ensureSigningKey(cfg Config, sc *session.Config, log Logger) error {
	if strings.TrimSpace(sc.PasetoV4SecretKeyHex) != "" {
		return nil
	}
	if cfg.RequireSigningKey {
		return ErrSigningKeyRequired
	}
	sc.PasetoV4SecretKeyHex = session.GenerateSecretKeyHex()
	log.Warn("auth.signing_key.ephemeral", "hint", "set PARLEY_PASETO_V4_SECRET_KEY_HEX to keep sessions across restarts")
	return nil
}
