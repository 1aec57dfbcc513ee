package presence

import "time"

const (
	// Max bytes per inbound frame. Clients only send small control envelopes.
	maxFrameBytes = 8 << 10

	defaultSendQueue = 64
	minSendQueue     = 8

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	maxPingFailures   = 3

	writeTimeout = 5 * time.Second
	closeGrace   = time.Second

	revalidateEvery = time.Minute

	// Per-connection inbound rate limit (events per window).
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
