package authapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// CheckMax requests per CheckWindow are allowed per client IP on /check.
	CheckMax    int
	CheckWindow time.Duration

	// CredentialsMax bounds signup and login attempts per client IP.
	CredentialsMax    int
	CredentialsWindow time.Duration

	CookiePath     string
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite
}

// LoadConfigFromEnv loads auth config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:        envBool("PARLEY_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:      envInt64("PARLEY_AUTH_MAX_BODY_BYTES", 64<<10),
		CheckMax:          envInt("PARLEY_AUTH_CHECK_MAX", 60),
		CheckWindow:       envDuration("PARLEY_AUTH_CHECK_WINDOW", time.Minute),
		CredentialsMax:    envInt("PARLEY_AUTH_CREDENTIALS_MAX", 10),
		CredentialsWindow: envDuration("PARLEY_AUTH_CREDENTIALS_WINDOW", 5*time.Minute),
		CookiePath:        strings.TrimSpace(os.Getenv("PARLEY_AUTH_COOKIE_PATH")),
		CookieDomain:      strings.TrimSpace(os.Getenv("PARLEY_AUTH_COOKIE_DOMAIN")),
		CookieSecure:      envBool("PARLEY_AUTH_COOKIE_SECURE", false),
		CookieSameSite:    parseSameSite(os.Getenv("PARLEY_AUTH_COOKIE_SAMESITE")),
	}

	if cfg.CookiePath == "" {
		cfg.CookiePath = "/"
	}
	// Browsers drop SameSite=None cookies that are not Secure.
	if cfg.CookieSameSite == http.SameSiteNoneMode {
		cfg.CookieSecure = true
	}
	return cfg
}

func parseSameSite(s string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteStrictMode
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
