package presence

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GatewayConfig tunes the websocket endpoint.
type GatewayConfig struct {
	// OriginRequired rejects handshakes without an Origin header. Native
	// clients do not send one, so this is off by default.
	OriginRequired bool
	AllowedOrigins []string

	// InsecureSkipVerify disables the library's own origin check. Dev only.
	InsecureSkipVerify bool

	SendQueue int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	// RevalidateEvery is how often a live connection re-checks its session.
	RevalidateEvery time.Duration

	RateEvents int
	RateWindow time.Duration
}

// DefaultGatewayConfig allows the local web client origins.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost", "http://127.0.0.1"},
		SendQueue:        defaultSendQueue,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		RevalidateEvery:  revalidateEvery,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
	}
}

// GatewayConfigFromEnv overlays PARLEY_WS_* variables on the defaults.
// Invalid values fall back to the default.
func GatewayConfigFromEnv() GatewayConfig {
	cfg := DefaultGatewayConfig()

	cfg.OriginRequired = envBool("PARLEY_WS_ORIGIN_REQUIRED", cfg.OriginRequired)
	cfg.AllowedOrigins = envCSV("PARLEY_WS_ALLOWED_ORIGINS", cfg.AllowedOrigins)
	cfg.InsecureSkipVerify = envBool("PARLEY_WS_DEV_INSECURE", false)

	cfg.SendQueue = envInt("PARLEY_WS_SEND_QUEUE", cfg.SendQueue)
	if cfg.SendQueue < minSendQueue {
		cfg.SendQueue = minSendQueue
	}

	cfg.HeartbeatEvery = envDuration("PARLEY_WS_HEARTBEAT_INTERVAL", cfg.HeartbeatEvery)
	cfg.HeartbeatTimeout = envDuration("PARLEY_WS_HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout)
	cfg.RevalidateEvery = envDuration("PARLEY_WS_REVALIDATE_EVERY", cfg.RevalidateEvery)

	cfg.RateEvents = envInt("PARLEY_WS_RATE_EVENTS", cfg.RateEvents)
	cfg.RateWindow = envDuration("PARLEY_WS_RATE_WINDOW", cfg.RateWindow)

	return cfg
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

func envCSV(key string, def []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
