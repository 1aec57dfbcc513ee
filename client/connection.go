package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"

	v1 "parley/shared/contracts/presence/v1"
)

// ConnState is the lifecycle state of the presence connection.
type ConnState int

const (
	ConnIdle ConnState = iota
	ConnConnecting
	ConnOpen
	ConnReconnecting
	ConnFailed
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnOpen:
		return "open"
	case ConnReconnecting:
		return "reconnecting"
	case ConnFailed:
		return "failed"
	default:
		return "idle"
	}
}

// ReconnectPolicy bounds automatic reconnection after an unexpected drop.
type ReconnectPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultReconnectPolicy is used when Config leaves Reconnect empty: three attempts one second apart.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{Attempts: 3, Delay: time.Second}
}

// ConnectionOptions configures a ConnectionManager.
type ConnectionOptions struct {
	Policy      ReconnectPolicy
	DialTimeout time.Duration
	Listener    Listener
	Logger      *slog.Logger

	// OnUnauthenticated runs when the handshake is rejected with 401.
	OnUnauthenticated func()

	// OnSessionEnded runs when the server closes with v1.CloseSessionEnded.
	OnSessionEnded func()
}

// ConnectionManager owns at most one presence connection and the online set
// it reports. All methods are safe for concurrent use.
type ConnectionManager struct {
	dialer Dialer
	opts   ConnectionOptions
	log    *slog.Logger

	mu       sync.Mutex
	state    ConnState
	identity string
	// gen invalidates dial results, timers and read loops from an earlier
	// Connect or Disconnect.
	gen      uint64
	attempts int
	retry    *time.Timer
	stream   Stream
	cancel   context.CancelFunc
	online   []string
	revision uint64
}

// NewConnectionManager returns an idle manager that dials through d.
func NewConnectionManager(d Dialer, opts ConnectionOptions) *ConnectionManager {
	def := DefaultReconnectPolicy()
	if opts.Policy.Attempts < 0 {
		opts.Policy.Attempts = 0
	} else if opts.Policy.Attempts == 0 {
		opts.Policy.Attempts = def.Attempts
	}
	if opts.Policy.Delay <= 0 {
		opts.Policy.Delay = def.Delay
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &ConnectionManager{
		dialer: d,
		opts:   opts,
		log:    log.With("component", "presence_client"),
	}
}

func (m *ConnectionManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Online returns a copy of the last online set received.
func (m *ConnectionManager) Online() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.online...)
}

// Connect opens a connection for identity. It is a no-op while a connection
// for the same identity is open or being established.
func (m *ConnectionManager) Connect(identity string) {
	m.mu.Lock()
	var (
		old Stream
		evs []event
	)
	switch m.state {
	case ConnConnecting, ConnOpen, ConnReconnecting:
		if m.identity == identity {
			m.mu.Unlock()
			return
		}
		old, evs = m.teardownLocked("identity changed")
	}
	m.gen++
	gen := m.gen
	m.identity = identity
	m.attempts = 0
	m.state = ConnConnecting
	m.mu.Unlock()

	closeStream(old, "identity changed")
	deliver(m.opts.Listener, evs)
	m.log.Info("presence.connect", "user_id", identity)
	go m.dial(gen)
}

// Disconnect closes the connection, cancels any scheduled reconnect and
// clears the online set. Calling it again is a no-op.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	switch m.state {
	case ConnIdle:
		m.mu.Unlock()
		return
	case ConnFailed:
		m.gen++
		m.state = ConnIdle
		m.mu.Unlock()
		return
	}
	old, evs := m.teardownLocked("client disconnect")
	m.mu.Unlock()

	closeStream(old, "client disconnect")
	deliver(m.opts.Listener, evs)
	m.log.Info("presence.disconnect")
}

// Sync asks the server to resend the online set.
func (m *ConnectionManager) Sync(ctx context.Context) error {
	m.mu.Lock()
	s := m.stream
	m.mu.Unlock()
	if s == nil {
		return fmt.Errorf("presence sync: %w: not connected", ErrUnexpected)
	}
	now := time.Now().UTC()
	env, err := v1.NewEnvelope(v1.TypePresenceSync, ulid.Make().String(), now, v1.PresenceSyncPayload{})
	if err != nil {
		return err
	}
	if err := s.Write(ctx, env); err != nil {
		return classifyTransport("presence sync", err)
	}
	return nil
}

func (m *ConnectionManager) teardownLocked(reason string) (Stream, []event) {
	m.gen++
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	old := m.stream
	m.stream = nil
	m.attempts = 0
	m.state = ConnIdle

	evs := m.clearOnlineLocked()
	code := int(websocket.StatusNormalClosure)
	evs = append(evs, func(l Listener) {
		l.OnDisconnected(DisconnectedEvent{Code: code, Reason: reason, Terminal: true})
	})
	return old, evs
}

func (m *ConnectionManager) clearOnlineLocked() []event {
	m.revision = 0
	if len(m.online) == 0 {
		return nil
	}
	m.online = nil
	return []event{func(l Listener) { l.OnOnlineSetChanged(OnlineSetChangedEvent{}) }}
}

func (m *ConnectionManager) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.DialTimeout)
	s, err := m.dialer.Dial(ctx)
	cancel()

	m.mu.Lock()
	if gen != m.gen || m.state != ConnConnecting {
		m.mu.Unlock()
		closeStream(s, "superseded")
		return
	}

	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			m.state = ConnIdle
			m.attempts = 0
			hook := m.opts.OnUnauthenticated
			m.mu.Unlock()

			m.log.Info("presence.dial.unauthenticated")
			deliver(m.opts.Listener, []event{func(l Listener) {
				l.OnDisconnected(DisconnectedEvent{Code: 401, Reason: "unauthenticated", Terminal: true})
			}})
			if hook != nil {
				hook()
			}
			return
		}

		m.log.Warn("presence.dial.fail", "attempt", m.attempts, "err", err)
		evs := m.scheduleRetryLocked(gen, 0, err.Error())
		m.mu.Unlock()
		deliver(m.opts.Listener, evs)
		return
	}

	readCtx, readCancel := context.WithCancel(context.Background())
	m.stream = s
	m.cancel = readCancel
	m.state = ConnOpen
	m.attempts = 0
	m.revision = 0
	m.mu.Unlock()

	go m.readLoop(readCtx, gen, s)
}

// scheduleRetryLocked arms the next reconnect, or moves to ConnFailed once
// the policy is exhausted.
func (m *ConnectionManager) scheduleRetryLocked(gen uint64, code int, reason string) []event {
	if m.attempts >= m.opts.Policy.Attempts {
		m.state = ConnFailed
		attempt := m.attempts
		m.log.Warn("presence.reconnect.exhausted", "attempts", attempt)
		return []event{func(l Listener) {
			l.OnDisconnected(DisconnectedEvent{Code: code, Reason: reason, Terminal: true, Attempt: attempt})
		}}
	}

	m.attempts++
	attempt := m.attempts
	m.state = ConnReconnecting
	m.retry = time.AfterFunc(m.opts.Policy.Delay, func() { m.retryNow(gen) })
	m.log.Info("presence.reconnect.scheduled", "attempt", attempt, "delay", m.opts.Policy.Delay)
	return []event{func(l Listener) {
		l.OnDisconnected(DisconnectedEvent{Code: code, Reason: reason, Attempt: attempt})
	}}
}

func (m *ConnectionManager) retryNow(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != ConnReconnecting {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	m.state = ConnConnecting
	m.mu.Unlock()

	m.dial(gen)
}

func (m *ConnectionManager) readLoop(ctx context.Context, gen uint64, s Stream) {
	for {
		env, err := s.Read(ctx)
		if err != nil {
			m.dropped(gen, s, err)
			return
		}
		m.dispatch(gen, env)
	}
}

func (m *ConnectionManager) dropped(gen uint64, s Stream, err error) {
	m.mu.Lock()
	if gen != m.gen || m.stream != s {
		m.mu.Unlock()
		return
	}
	m.stream = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}

	code, reason := 0, err.Error()
	var ce *CloseError
	if errors.As(err, &ce) {
		code, reason = ce.Code, ce.Reason
	}

	evs := m.clearOnlineLocked()
	var hook func()
	switch code {
	case v1.CloseSessionReplaced, v1.CloseLoggedOut:
		m.state = ConnIdle
		evs = append(evs, func(l Listener) {
			l.OnDisconnected(DisconnectedEvent{Code: code, Reason: reason, Terminal: true})
		})
	case v1.CloseSessionEnded:
		m.state = ConnIdle
		hook = m.opts.OnSessionEnded
		evs = append(evs, func(l Listener) {
			l.OnDisconnected(DisconnectedEvent{Code: code, Reason: reason, Terminal: true})
		})
	default:
		evs = append(evs, m.scheduleRetryLocked(gen, code, reason)...)
	}
	m.mu.Unlock()

	m.log.Info("presence.closed", "code", code, "reason", reason)
	closeStream(s, "")
	deliver(m.opts.Listener, evs)
	if hook != nil {
		hook()
	}
}

type envelopeHandler func(m *ConnectionManager, env v1.Envelope) []event

// envelopeHandlers is keyed by v1 message type. Handlers run with m.mu held.
var envelopeHandlers = map[string]envelopeHandler{
	v1.TypeConnectionOpened: (*ConnectionManager).onConnectionOpened,
	v1.TypeOnlineUsers:      (*ConnectionManager).onOnlineUsers,
	v1.TypeError:            (*ConnectionManager).onServerError,
}

func (m *ConnectionManager) dispatch(gen uint64, env v1.Envelope) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	h, ok := envelopeHandlers[env.Type]
	if !ok {
		m.mu.Unlock()
		m.log.Debug("presence.message.unknown", "type", env.Type)
		return
	}
	evs := h(m, env)
	m.mu.Unlock()
	deliver(m.opts.Listener, evs)
}

func (m *ConnectionManager) onConnectionOpened(env v1.Envelope) []event {
	var p v1.ConnectionOpenedPayload
	if err := env.DecodePayload(&p); err != nil {
		m.log.Warn("presence.message.bad_payload", "type", env.Type, "err", err)
		return nil
	}
	ev := ConnectedEvent{Identity: p.UserID, ConnectionID: p.ConnectionID, SessionID: p.SessionID}
	return []event{func(l Listener) { l.OnConnected(ev) }}
}

func (m *ConnectionManager) onOnlineUsers(env v1.Envelope) []event {
	var p v1.OnlineUsersPayload
	if err := env.DecodePayload(&p); err != nil {
		m.log.Warn("presence.message.bad_payload", "type", env.Type, "err", err)
		return nil
	}
	if p.Revision != 0 && p.Revision < m.revision {
		return nil
	}

	ids := append([]string(nil), p.UserIDs...)
	sort.Strings(ids)
	m.online = ids
	m.revision = p.Revision

	ev := OnlineSetChangedEvent{Identities: append([]string(nil), ids...), Revision: p.Revision}
	return []event{func(l Listener) { l.OnOnlineSetChanged(ev) }}
}

func (m *ConnectionManager) onServerError(env v1.Envelope) []event {
	var p v1.ErrorPayload
	if err := env.DecodePayload(&p); err != nil {
		return nil
	}
	m.log.Warn("presence.server_error", "code", p.Code, "message", p.Message)
	return nil
}

func closeStream(s Stream, reason string) {
	if s == nil {
		return
	}
	_ = s.Close(int(websocket.StatusNormalClosure), reason)
}
