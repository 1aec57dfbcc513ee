package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"parley/cmd/identity/ids"
	"parley/cmd/internal/auth/session"
	v1 "parley/shared/contracts/presence/v1"
)

// Authenticator resolves the handshake credential and re-checks it later.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (session.Principal, error)
	Recheck(ctx context.Context, token string) (session.Principal, error)
}

// Gateway is the /ws endpoint.
type Gateway struct {
	log     *slog.Logger
	reg     *Registry
	auth    Authenticator
	metrics *Metrics
	cfg     GatewayConfig

	patterns []string
}

// NewGateway wires a gateway to the registry. metrics may be nil.
func NewGateway(log *slog.Logger, reg *Registry, auth Authenticator, metrics *Metrics, cfg GatewayConfig) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SendQueue < minSendQueue {
		cfg.SendQueue = minSendQueue
	}
	return &Gateway{
		log:      log,
		reg:      reg,
		auth:     auth,
		metrics:  metrics,
		cfg:      cfg,
		patterns: originPatterns(cfg.AllowedOrigins),
	}
}

// ServeHTTP authenticates, upgrades and runs one connection until it ends.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.checkOrigin(r); err != nil {
		g.metrics.connection(outcomeForbidden)
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	p, err := g.auth.Authenticate(r.Context(), r)
	if err != nil {
		if errors.Is(err, session.ErrUnauthenticated) {
			g.metrics.connection(outcomeUnauthorized)
			g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		g.metrics.connection(outcomeUnavailable)
		g.log.Error("ws.auth.fail", "err", err)
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	// Server-wide read/write timeouts would otherwise outlive the upgrade.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.patterns,
		InsecureSkipVerify: g.cfg.InsecureSkipVerify,
	})
	if err != nil {
		g.metrics.connection(outcomeFailed)
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	if sp := ws.Subprotocol(); sp != v1.Subprotocol {
		g.metrics.connection(outcomeFailed)
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = ws.Close(websocket.StatusPolicyViolation, "subprotocol required")
		return
	}
	ws.SetReadLimit(maxFrameBytes)

	now := time.Now().UTC()
	c := NewConn(ids.MustULID(now), p.Identity, p.SessionID, g.cfg.SendQueue)

	// Queued before Register so it precedes the first online_users on this conn.
	opened, err := v1.NewEnvelope(v1.TypeConnectionOpened, ids.MustULID(now), now, v1.ConnectionOpenedPayload{
		UserID:       p.Identity,
		ConnectionID: c.ID,
		SessionID:    p.SessionID,
	})
	if err != nil || !c.enqueue(opened) {
		g.metrics.connection(outcomeFailed)
		_ = ws.Close(websocket.StatusInternalError, "internal error")
		return
	}

	g.metrics.connection(outcomeAccepted)
	g.reg.Register(c)
	g.log.Info("ws.open", "user_id", c.Identity, "conn_id", c.ID, "session_id", c.SessionID)

	g.serve(r.Context(), ws, c, p)
}

func (g *Gateway) serve(parent context.Context, ws *websocket.Conn, c *Conn, p session.Principal) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	writerDone := make(chan struct{})
	go g.writeLoop(ctx, ws, c, writerDone)
	go g.heartbeat(ctx, ws, c)
	go g.watchSession(ctx, c, p)

	closerDone := make(chan struct{})
	go func() {
		defer close(closerDone)
		<-c.Done()
		g.reg.Unregister(c)

		select {
		case <-writerDone:
		case <-time.After(closeGrace):
		}
		cause := c.Cause()
		_ = ws.Close(websocket.StatusCode(cause.Code), cause.Reason)
		cancel()
	}()

	g.readLoop(ctx, ws, c)

	c.Close(int(websocket.StatusNormalClosure), "bye")
	<-closerDone
	g.log.Info("ws.close", "user_id", c.Identity, "conn_id", c.ID, "reason", c.Cause().Reason)
}

func (g *Gateway) readLoop(ctx context.Context, ws *websocket.Conn, c *Conn) {
	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	for {
		env, err := readEnvelope(ctx, ws)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrBadJSON:
				g.sendError(c, v1.CodeBadJSON, "invalid JSON")
				continue
			case readErrClose:
				c.Close(int(websocket.StatusNormalClosure), "peer closed")
			case readErrCtxDone, readErrConnClosed:
				c.Close(int(websocket.StatusGoingAway), "conn closed")
			default:
				g.log.Info("ws.read.fail", "conn_id", c.ID, "err", err)
				c.Close(int(websocket.StatusGoingAway), "read failed")
			}
			return
		}

		if !rl.Allow(time.Now().UTC()) {
			g.sendError(c, v1.CodeRateLimited, "too many events")
			c.Close(int(websocket.StatusPolicyViolation), "rate limited")
			return
		}

		if err := env.Validate(); err != nil {
			g.sendError(c, v1.CodeBadEnvelope, err.Error())
			continue
		}

		switch env.Type {
		case v1.TypePresenceSync:
			if !g.reg.Sync(c) {
				g.log.Debug("ws.sync.skip", "conn_id", c.ID)
			}
		default:
			g.sendError(c, v1.CodeUnsupported, fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}
}

// writeLoop is the only writer of data frames. After Done it flushes what is queued.
func (g *Gateway) writeLoop(ctx context.Context, ws *websocket.Conn, c *Conn, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-c.Send():
			if err := writeEnvelope(ctx, ws, env); err != nil {
				g.log.Info("ws.write.fail", "conn_id", c.ID, "close_status", websocket.CloseStatus(err), "err", err)
				c.Close(int(websocket.StatusGoingAway), "write failed")
				return
			}
		case <-c.Done():
			for {
				select {
				case env := <-c.Send():
					if err := writeEnvelope(ctx, ws, env); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (g *Gateway) heartbeat(ctx context.Context, ws *websocket.Conn, c *Conn) {
	t := time.NewTicker(g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			return
		case <-t.C:
			hbCtx, cancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := ws.Ping(hbCtx)
			cancel()

			if err != nil {
				failures++
				g.log.Info("ws.ping.fail", "conn_id", c.ID, "failures", failures, "err", err)
				if failures >= maxPingFailures {
					c.Close(int(websocket.StatusGoingAway), "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// watchSession closes the connection when its session expires or stops validating.
func (g *Gateway) watchSession(ctx context.Context, c *Conn, p session.Principal) {
	expiry := time.NewTimer(time.Until(p.ExpiresAt))
	defer expiry.Stop()
	tick := time.NewTicker(g.cfg.RevalidateEvery)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			return
		case <-expiry.C:
			g.log.Info("ws.session.expired", "user_id", c.Identity, "session_id", c.SessionID)
			closeWithNotice(c, v1.CloseSessionEnded, v1.CodeSessionExpired, "session expired")
			return
		case <-tick.C:
			np, err := g.auth.Recheck(ctx, p.Token)
			switch {
			case err == nil:
				if !np.ExpiresAt.Equal(p.ExpiresAt) {
					p.ExpiresAt = np.ExpiresAt
					expiry.Reset(time.Until(p.ExpiresAt))
				}
			case errors.Is(err, session.ErrUnauthenticated):
				code := v1.CodeSessionRevoked
				if errors.Is(err, session.ErrSessionExpired) {
					code = v1.CodeSessionExpired
				}
				g.log.Info("ws.session.invalid", "user_id", c.Identity, "session_id", c.SessionID, "err", err)
				closeWithNotice(c, v1.CloseSessionEnded, code, "session is no longer valid")
				return
			default:
				// Store outage: keep the connection and try again next tick.
				g.log.Warn("ws.session.recheck.fail", "session_id", c.SessionID, "err", err)
			}
		}
	}
}

// Shutdown closes every registered connection with StatusGoingAway.
func (g *Gateway) Shutdown() {
	g.reg.CloseAll(int(websocket.StatusGoingAway), "server shutting down")
}

func (g *Gateway) sendError(c *Conn, code, msg string) {
	now := time.Now().UTC()
	env, err := v1.NewEnvelope(v1.TypeError, ids.MustULID(now), now, v1.ErrorPayload{Code: code, Message: msg})
	if err != nil {
		return
	}
	_ = c.enqueue(env)
}

// ---- envelope IO ----

var errBadJSON = errors.New("bad json")

func readEnvelope(ctx context.Context, ws *websocket.Conn) (v1.Envelope, error) {
	_, data, err := ws.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("%w: %w", errBadJSON, err)
	}
	return env, nil
}

func writeEnvelope(parent context.Context, ws *websocket.Conn, env v1.Envelope) error {
	ctx, cancel := context.WithTimeout(parent, writeTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, b)
}

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	switch {
	case errors.Is(err, errBadJSON):
		return readErrBadJSON
	case websocket.CloseStatus(err) != -1:
		return readErrClose
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return readErrCtxDone
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return readErrConnClosed
	}
	return readErrUnknown
}
