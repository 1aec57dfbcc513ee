package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	v1 "parley/shared/contracts/presence/v1"
)

// DefaultDialTimeout bounds the websocket handshake.
const DefaultDialTimeout = 10 * time.Second

// maxFrameBytes matches the server's inbound frame limit.
const maxFrameBytes = 64 << 10

// Stream is one open presence connection.
type Stream interface {
	// Read blocks for the next envelope. A server close is reported as *CloseError.
	Read(ctx context.Context) (v1.Envelope, error)
	Write(ctx context.Context, env v1.Envelope) error
	Close(code int, reason string) error
}

// Dialer opens presence streams. A rejected handshake returns an error
// matching ErrUnauthenticated.
type Dialer interface {
	Dial(ctx context.Context) (Stream, error)
}

// CloseError reports the close frame that ended a stream.
type CloseError struct {
	Code   int
	Reason string
	Err    error
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("stream closed: code=%d reason=%q", e.Code, e.Reason)
}

func (e *CloseError) Unwrap() error { return e.Err }

// WSDialer dials the presence gateway with coder/websocket.
type WSDialer struct {
	URL string

	// Token is consulted on every dial so a fresh login is picked up.
	Token func() string

	// Jar carries the session cookie when no bearer token is set.
	Jar http.CookieJar
}

// WebsocketURL derives ws(s)://host/ws from an http(s) base URL.
func WebsocketURL(base *url.URL) string {
	u := *base
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return u.String()
}

func (d *WSDialer) Dial(ctx context.Context) (Stream, error) {
	h := http.Header{}
	if d.Token != nil {
		if tok := d.Token(); tok != "" {
			h.Set("Authorization", "Bearer "+tok)
		}
	}

	opts := &websocket.DialOptions{
		HTTPHeader:   h,
		Subprotocols: []string{v1.Subprotocol},
	}
	if d.Jar != nil {
		opts.HTTPClient = &http.Client{Jar: d.Jar}
	}

	c, resp, err := websocket.Dial(ctx, d.URL, opts)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return nil, fmt.Errorf("dial %s: %w", d.URL, ErrUnauthenticated)
			case http.StatusTooManyRequests:
				return nil, fmt.Errorf("dial %s: %w", d.URL, ErrRateLimited)
			}
		}
		return nil, classifyTransport("dial "+d.URL, err)
	}
	if c.Subprotocol() != v1.Subprotocol {
		_ = c.Close(websocket.StatusPolicyViolation, "subprotocol required")
		return nil, fmt.Errorf("dial %s: %w: server did not negotiate %s", d.URL, ErrUnexpected, v1.Subprotocol)
	}
	c.SetReadLimit(maxFrameBytes)
	return &wsStream{c: c}, nil
}

type wsStream struct {
	c *websocket.Conn
}

func (s *wsStream) Read(ctx context.Context) (v1.Envelope, error) {
	var env v1.Envelope
	if err := wsjson.Read(ctx, s.c, &env); err != nil {
		var ce websocket.CloseError
		if errors.As(err, &ce) {
			return v1.Envelope{}, &CloseError{Code: int(ce.Code), Reason: ce.Reason, Err: err}
		}
		return v1.Envelope{}, err
	}
	return env, nil
}

func (s *wsStream) Write(ctx context.Context, env v1.Envelope) error {
	return wsjson.Write(ctx, s.c, env)
}

func (s *wsStream) Close(code int, reason string) error {
	return s.c.Close(websocket.StatusCode(code), reason)
}
