package session

import (
	"os"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Config is the runtime configuration of the session subsystem.
type Config struct {
	// Issuer is set in the "iss" claim and enforced on verify.
	Issuer string

	// SessionTTL is the lifetime of a session and of the token bound to it.
	SessionTTL time.Duration

	// ClockSkew is tolerated during token validation.
	ClockSkew time.Duration

	// CookieName is the cookie Guard falls back to when no bearer header is present.
	CookieName string

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key used to sign tokens.
	PasetoV4SecretKeyHex string
}

// DefaultConfig returns development defaults. The signing key is left empty.
func DefaultConfig() Config {
	return Config{
		Issuer:     "parley",
		SessionTTL: 7 * 24 * time.Hour,
		ClockSkew:  30 * time.Second,
		CookieName: "parley_session",
	}
}

// LoadConfigFromEnv loads configuration from the environment.
//
// Optional (durations are Go duration strings):
//   - PARLEY_PASETO_V4_SECRET_KEY_HEX (empty means the caller must supply a key)
//   - PARLEY_AUTH_ISSUER
//   - PARLEY_AUTH_SESSION_TTL
//   - PARLEY_AUTH_CLOCK_SKEW
//   - PARLEY_AUTH_COOKIE_NAME
//
// Returns ErrConfig if a value is present but invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("PARLEY_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("PARLEY_AUTH_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.SessionTTL = d
	}

	if v := os.Getenv("PARLEY_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 || d > 5*time.Minute {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := strings.TrimSpace(os.Getenv("PARLEY_AUTH_COOKIE_NAME")); v != "" {
		if strings.ContainsAny(v, " ;,=\t") {
			return Config{}, ErrConfig
		}
		cfg.CookieName = v
	}

	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("PARLEY_PASETO_V4_SECRET_KEY_HEX"))
	if cfg.PasetoV4SecretKeyHex != "" {
		if _, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex); err != nil {
			return Config{}, ErrConfig
		}
	}

	return cfg, nil
}

// GenerateSecretKeyHex returns a fresh signing key. Tokens signed with it do
// not survive a restart.
func GenerateSecretKeyHex() string {
	return paseto.NewV4AsymmetricSecretKey().ExportHex()
}
