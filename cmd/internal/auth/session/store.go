package session

import (
	"context"
	"net"
	"strings"
	"time"
)

// Platform is the client platform that owns a session.
type Platform string

const (
	PlatformWeb     Platform = "web"
	PlatformCLI     Platform = "cli"
	PlatformDesktop Platform = "desktop"
	PlatformUnknown Platform = "unknown"
)

// ParsePlatform maps a client hint to a Platform.
func ParsePlatform(s string) Platform {
	switch Platform(strings.ToLower(strings.TrimSpace(s))) {
	case PlatformWeb:
		return PlatformWeb
	case PlatformCLI:
		return PlatformCLI
	case PlatformDesktop:
		return PlatformDesktop
	default:
		return PlatformUnknown
	}
}

// DeviceContext describes the client that opened a session.
type DeviceContext struct {
	Platform  Platform
	UserAgent string
	IP        net.IP
}

// Row is a persisted session.
type Row struct {
	ID         string
	UserID     string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	Platform   Platform
}

// Store persists session rows.
type Store interface {
	Create(ctx context.Context, now time.Time, userID string, dev DeviceContext, expiresAt time.Time) (sessionID string, err error)
	GetByID(ctx context.Context, sessionID string) (Row, error)
	Touch(ctx context.Context, now time.Time, sessionID string) error
	// Revoke is idempotent.
	Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error
}
