package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"parley/cmd/identity/ids"
	v1 "parley/shared/contracts/presence/v1"
)

// Snapshot is the online set after one registry mutation.
type Snapshot struct {
	Revision   uint64
	Identities []Identity
	At         time.Time
}

// Observer receives snapshots outside the registry lock, in revision order.
// Snapshots may be coalesced: a slow observer sees only the latest one.
type Observer interface {
	ObserveSnapshot(Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Snapshot)

func (f ObserverFunc) ObserveSnapshot(s Snapshot) { f(s) }

// Registry maps each identity to at most one live connection.
// A newer connection for the same identity replaces the older one.
type Registry struct {
	log     *slog.Logger
	metrics *Metrics
	now     func() time.Time

	mu       sync.Mutex
	conns    map[Identity]*Conn
	revision uint64

	obsMu     sync.Mutex
	observers []Observer
	pending   *Snapshot
	wake      chan struct{}
	stop      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewRegistry starts a registry and its observer goroutine. Call Close to stop it.
// metrics may be nil.
func NewRegistry(log *slog.Logger, metrics *Metrics) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		log:     log,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
		conns:   make(map[Identity]*Conn),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go r.notifyLoop()
	return r
}

// AddObserver registers o for all future snapshots.
func (r *Registry) AddObserver(o Observer) {
	r.obsMu.Lock()
	r.observers = append(r.observers, o)
	r.obsMu.Unlock()
}

// Register binds c to its identity and broadcasts the new online set.
// An existing connection for the same identity is unbound and closed with
// CloseSessionReplaced after the lock is released.
func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	old := r.conns[c.Identity]
	if old == c {
		r.mu.Unlock()
		return
	}
	r.conns[c.Identity] = c
	slow := r.broadcastLocked()
	r.mu.Unlock()

	r.log.Info("presence.register", "user_id", c.Identity, "conn_id", c.ID, "replaced", old != nil)
	if old != nil {
		r.metrics.replaced()
		closeWithNotice(old, v1.CloseSessionReplaced, v1.CodeSessionReplaced, "signed in from another connection")
	}
	r.closeSlow(slow)
}

// Unregister removes c if it is still the current connection for its identity.
// A stale or repeated call is a no-op and does not broadcast.
func (r *Registry) Unregister(c *Conn) bool {
	r.mu.Lock()
	if r.conns[c.Identity] != c {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, c.Identity)
	slow := r.broadcastLocked()
	r.mu.Unlock()

	r.log.Info("presence.unregister", "user_id", c.Identity, "conn_id", c.ID)
	r.closeSlow(slow)
	return true
}

// Disconnect unbinds and closes the identity's connection, if any.
func (r *Registry) Disconnect(id Identity, closeCode int, errCode, msg string) bool {
	r.mu.Lock()
	c, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, id)
	slow := r.broadcastLocked()
	r.mu.Unlock()

	r.log.Info("presence.disconnect", "user_id", id, "conn_id", c.ID, "reason", errCode)
	closeWithNotice(c, closeCode, errCode, msg)
	r.closeSlow(slow)
	return true
}

// LoggedIn is the session hook for a successful login or signup.
// Presence changes only when a connection registers.
func (r *Registry) LoggedIn(id Identity) {
	r.log.Debug("presence.session.login", "user_id", id)
}

// LoggedOut is the session hook for logout; the identity's connection is closed.
func (r *Registry) LoggedOut(id Identity) {
	r.Disconnect(id, v1.CloseLoggedOut, v1.CodeLoggedOut, "logged out")
}

// Snapshot returns the current online set, sorted ascending.
func (r *Registry) Snapshot() []Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onlineLocked()
}

// Sync enqueues the current online set to c only. The revision is not bumped.
func (r *Registry) Sync(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[c.Identity] != c {
		return false
	}
	env, err := r.onlineEnvelopeLocked(r.onlineLocked())
	if err != nil {
		return false
	}
	return c.enqueue(env)
}

// Close stops the observer goroutine. Registered connections are left alone.
func (r *Registry) Close() {
	r.closeOnce.Do(func() { close(r.stop) })
	<-r.stopped
}

// broadcastLocked bumps the revision and enqueues the online set to every
// connection. It returns the connections whose queue rejected it.
func (r *Registry) broadcastLocked() []*Conn {
	r.revision++
	online := r.onlineLocked()

	env, err := r.onlineEnvelopeLocked(online)
	if err != nil {
		r.log.Error("presence.broadcast.encode", "err", err)
		return nil
	}

	var slow []*Conn
	for _, c := range r.conns {
		if !c.enqueue(env) {
			slow = append(slow, c)
		}
	}
	r.metrics.broadcast(len(r.conns)-len(slow), len(slow))
	r.publishLocked(Snapshot{Revision: r.revision, Identities: online, At: r.now()})
	return slow
}

func (r *Registry) onlineLocked() []Identity {
	out := make([]Identity, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) onlineEnvelopeLocked(online []Identity) (v1.Envelope, error) {
	now := r.now()
	return v1.NewEnvelope(v1.TypeOnlineUsers, ids.MustULID(now), now, v1.OnlineUsersPayload{
		UserIDs:  online,
		Revision: r.revision,
	})
}

// publishLocked replaces the pending snapshot; the notify loop delivers the latest.
func (r *Registry) publishLocked(s Snapshot) {
	r.obsMu.Lock()
	r.pending = &s
	r.obsMu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Registry) notifyLoop() {
	defer close(r.stopped)
	for {
		select {
		case <-r.stop:
			return
		case <-r.wake:
		}

		r.obsMu.Lock()
		s := r.pending
		r.pending = nil
		obs := append([]Observer(nil), r.observers...)
		r.obsMu.Unlock()

		if s == nil {
			continue
		}
		for _, o := range obs {
			o.ObserveSnapshot(*s)
		}
	}
}

func (r *Registry) closeSlow(slow []*Conn) {
	for _, c := range slow {
		select {
		case <-c.Done():
			continue
		default:
		}
		r.log.Warn("presence.send.dropped", "user_id", c.Identity, "conn_id", c.ID)
		c.Close(v1.CloseSlowConsumer, "send queue full")
	}
}

// closeWithNotice queues an error event ahead of the close so the writer can flush it.
func closeWithNotice(c *Conn, closeCode int, errCode, msg string) {
	now := time.Now().UTC()
	if env, err := v1.NewEnvelope(v1.TypeError, ids.MustULID(now), now, v1.ErrorPayload{Code: errCode, Message: msg}); err == nil {
		_ = c.enqueue(env)
	}
	c.Close(closeCode, errCode)
}

// CloseAll closes every registered connection. Each gateway unregisters its own.
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.Close(code, reason)
	}
}
