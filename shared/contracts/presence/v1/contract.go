// Package v1 defines the Parley Presence Protocol v1 contract.
//
// This package is dependency-light on purpose.
// It is shared between the server gateway and Go clients to keep the wire format authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the websocket subprotocol negotiated during the handshake.
const Subprotocol = "parley.presence.v1"

// Type constants (wire-stable).
const (
	// TypeConnectionOpened confirms an authenticated, registered connection (server -> client).
	TypeConnectionOpened = "connection_opened"

	// TypeOnlineUsers carries the complete current online set (server -> client).
	TypeOnlineUsers = "online_users"

	// TypePresenceSync asks the server to resend the current online set (client -> server).
	TypePresenceSync = "presence_sync"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Error codes carried by ErrorPayload.Code.
const (
	CodeBadJSON         = "bad_json"
	CodeBadEnvelope     = "bad_envelope"
	CodeRateLimited     = "rate_limited"
	CodeUnsupported     = "unsupported"
	CodeSessionReplaced = "session_replaced"
	CodeSessionExpired  = "session_expired"
	CodeSessionRevoked  = "session_revoked"
	CodeLoggedOut       = "logged_out"
)

// Application close codes (websocket 4000-4999 range). Clients must not
// reconnect automatically after CloseSessionReplaced or CloseLoggedOut, and
// must re-check their session after CloseSessionEnded.
const (
	CloseSessionReplaced = 4000
	CloseLoggedOut       = 4001
	CloseSlowConsumer    = 4008
	CloseSessionEnded    = 4401
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeConnectionOpened,
		TypeOnlineUsers,
		TypePresenceSync,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// ConnectionOpenedPayload is sent once after the server registered the connection.
type ConnectionOpenedPayload struct {
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
	SessionID    string `json:"session_id"`
}

// OnlineUsersPayload is a full replacement of the online set, never a delta.
// Revision increases with every registry mutation on the issuing server.
type OnlineUsersPayload struct {
	UserIDs  []string `json:"user_ids"`
	Revision uint64   `json:"revision"`
}

// PresenceSyncPayload is empty; the request carries no parameters.
type PresenceSyncPayload struct{}

// ErrorPayload is a generic error payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEnvelope builds an envelope with a JSON-encoded payload.
func NewEnvelope(typ, id string, ts time.Time, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Envelope{
		V:       Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: raw,
	}, nil
}

// DecodePayload unmarshals the envelope payload into dst.
func (e Envelope) DecodePayload(dst any) error {
	if len(e.Payload) == 0 {
		return errors.New("missing payload")
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
