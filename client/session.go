package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultMinCheckInterval  = 5 * time.Second
	DefaultRateLimitCooldown = 60 * time.Second
)

// AuthState is the client's view of its session.
type AuthState int

const (
	AuthUnknown AuthState = iota
	AuthChecking
	AuthAuthenticated
	AuthAnonymous
)

func (s AuthState) String() string {
	switch s {
	case AuthChecking:
		return "checking"
	case AuthAuthenticated:
		return "authenticated"
	case AuthAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time copy of the session state.
type Snapshot struct {
	State       AuthState
	User        *User
	LastCheck   time.Time
	NextCheckAt time.Time
	InFlight    bool
}

// Identity returns the authenticated user's id, or "".
func (s Snapshot) Identity() string {
	if s.User == nil {
		return ""
	}
	return s.User.ID
}

// Link is the connection side the session drives.
type Link interface {
	Connect(identity string)
	Disconnect()
}

// SessionOptions tunes a SessionController. Zero values take the defaults.
type SessionOptions struct {
	MinCheckInterval  time.Duration
	RateLimitCooldown time.Duration
	Listener          Listener
	Logger            *slog.Logger
	Now               func() time.Time
}

// SessionController owns the authentication state and keeps the presence
// link in step with it.
type SessionController struct {
	api  AuthAPI
	link Link
	opts SessionOptions
	log  *slog.Logger
	now  func() time.Time

	mu          sync.Mutex
	state       AuthState
	user        *User
	lastCheck   time.Time
	nextCheckAt time.Time
	pending     int
	// gen is bumped by login, signup, logout and invalidation so a check
	// that started earlier cannot overwrite their result.
	gen uint64
}

// NewSessionController returns a controller in AuthUnknown that drives link.
func NewSessionController(api AuthAPI, link Link, opts SessionOptions) *SessionController {
	if opts.MinCheckInterval <= 0 {
		opts.MinCheckInterval = DefaultMinCheckInterval
	}
	if opts.RateLimitCooldown <= 0 {
		opts.RateLimitCooldown = DefaultRateLimitCooldown
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &SessionController{
		api:  api,
		link: link,
		opts: opts,
		log:  log.With("component", "session_client"),
		now:  now,
	}
}

// Snapshot returns a copy of the current authentication state.
func (c *SessionController) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *SessionController) snapshotLocked() Snapshot {
	s := Snapshot{
		State:       c.state,
		LastCheck:   c.lastCheck,
		NextCheckAt: c.nextCheckAt,
		InFlight:    c.pending > 0,
	}
	if c.user != nil {
		u := *c.user
		s.User = &u
	}
	return s
}

// CheckAuth asks the server whether the session is still valid. It returns
// nil without a request when another auth call is in flight or the previous
// check completed less than MinCheckInterval ago (plus the cooldown after a
// 429).
func (c *SessionController) CheckAuth(ctx context.Context) error {
	c.mu.Lock()
	if c.pending > 0 || c.now().Before(c.nextCheckAt) {
		c.mu.Unlock()
		return nil
	}
	c.pending++
	gen := c.gen
	prevState, prevUser := c.state, c.user
	c.state = AuthChecking
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emitState(snap)

	done := false
	defer func() {
		if done {
			return
		}
		c.mu.Lock()
		c.pending--
		if gen == c.gen && c.state == AuthChecking {
			c.state, c.user = prevState, prevUser
		}
		c.mu.Unlock()
	}()

	u, err := c.api.Check(ctx)
	done = true

	c.mu.Lock()
	c.pending--
	if gen != c.gen {
		c.mu.Unlock()
		c.log.Debug("auth.check.stale")
		return err
	}

	completed := c.now()
	c.lastCheck = completed
	c.nextCheckAt = completed.Add(c.opts.MinCheckInterval)

	var (
		connect    string
		disconnect bool
		notices    []NoticeEvent
	)
	switch {
	case err == nil:
		c.state = AuthAuthenticated
		c.user = &u
		connect = u.ID

	case errors.Is(err, ErrRateLimited):
		c.state, c.user = prevState, prevUser
		cooldown := c.opts.RateLimitCooldown
		var rl *RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > cooldown {
			cooldown = rl.RetryAfter
		}
		c.nextCheckAt = c.nextCheckAt.Add(cooldown)
		c.log.Warn("auth.check.rate_limited", "next_check_at", c.nextCheckAt)
		notices = append(notices, NoticeEvent{Level: NoticeWarn, Message: "Too many requests. Please try again later.", At: completed})

	case errors.Is(err, ErrTimeout):
		c.state, c.user = prevState, prevUser
		c.log.Debug("auth.check.timeout", "err", err)

	default:
		if !errors.Is(err, ErrUnauthenticated) {
			c.log.Error("auth.check.fail", "err", err)
		}
		c.state = AuthAnonymous
		c.user = nil
		disconnect = true
	}
	snap = c.snapshotLocked()
	c.mu.Unlock()

	if connect != "" {
		c.link.Connect(connect)
	}
	if disconnect {
		c.link.Disconnect()
	}
	c.emitState(snap)
	c.emitNotices(notices...)
	return err
}

// Revalidate forces a check regardless of the throttle, unless one is already in flight.
func (c *SessionController) Revalidate(ctx context.Context) error {
	c.mu.Lock()
	c.nextCheckAt = time.Time{}
	c.mu.Unlock()
	return c.CheckAuth(ctx)
}

// Login signs in and connects the link on success.
func (c *SessionController) Login(ctx context.Context, creds Credentials) (User, error) {
	return c.authenticate(ctx, "login", "Logged in successfully", "Login failed. Please try again.",
		func(ctx context.Context) (User, error) { return c.api.Login(ctx, creds) })
}

// Signup creates an account and connects the link on success.
func (c *SessionController) Signup(ctx context.Context, d SignupDetails) (User, error) {
	return c.authenticate(ctx, "signup", "Account created successfully!", "Signup failed. Please try again.",
		func(ctx context.Context) (User, error) { return c.api.Signup(ctx, d) })
}

func (c *SessionController) authenticate(ctx context.Context, op, okMsg, failMsg string, call func(context.Context) (User, error)) (User, error) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.pending++
	c.mu.Unlock()

	done := false
	defer func() {
		if !done {
			c.mu.Lock()
			c.pending--
			c.mu.Unlock()
		}
	}()

	u, err := call(ctx)
	done = true

	c.mu.Lock()
	c.pending--
	if gen != c.gen {
		c.mu.Unlock()
		return u, err
	}
	now := c.now()
	if err == nil {
		c.state = AuthAuthenticated
		c.user = &u
		c.lastCheck = now
		c.nextCheckAt = now.Add(c.opts.MinCheckInterval)
	} else {
		c.state = AuthAnonymous
		c.user = nil
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if err != nil {
		c.log.Info("auth."+op+".fail", "err", err)
		c.link.Disconnect()
		c.emitState(snap)
		msg := ServerMessage(err)
		if msg == "" {
			msg = failMsg
		}
		c.emitNotices(NoticeEvent{Level: NoticeError, Message: msg, At: now})
		return User{}, err
	}

	c.log.Info("auth."+op, "user_id", u.ID)
	c.link.Connect(u.ID)
	c.emitState(snap)
	c.emitNotices(NoticeEvent{Level: NoticeSuccess, Message: okMsg, At: now})
	return u, nil
}

// Logout always ends in AuthAnonymous with the link closed, whether or not
// the server call succeeded. The check throttle is reset.
func (c *SessionController) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.gen++
	c.mu.Unlock()

	err := c.api.Logout(ctx)

	c.mu.Lock()
	// Checks that started while the request was out must not revive the session.
	c.gen++
	c.state = AuthAnonymous
	c.user = nil
	c.lastCheck = time.Time{}
	c.nextCheckAt = time.Time{}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.link.Disconnect()
	c.emitState(snap)

	now := c.now()
	if err != nil {
		c.log.Warn("auth.logout.fail", "err", err)
		c.emitNotices(NoticeEvent{Level: NoticeError, Message: "Error logging out", At: now})
		return err
	}
	c.log.Info("auth.logout")
	c.emitNotices(NoticeEvent{Level: NoticeSuccess, Message: "Logged out successfully", At: now})
	return nil
}

// SessionInvalidated drops to AuthAnonymous after the server rejected the
// session out of band, e.g. on the websocket handshake.
func (c *SessionController) SessionInvalidated() {
	c.mu.Lock()
	c.gen++
	changed := c.state != AuthAnonymous
	c.state = AuthAnonymous
	c.user = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.link.Disconnect()
	if changed {
		c.log.Info("auth.session.invalidated")
		c.emitState(snap)
	}
}

func (c *SessionController) emitState(s Snapshot) {
	if c.opts.Listener != nil {
		c.opts.Listener.OnAuthState(s)
	}
}

func (c *SessionController) emitNotices(ns ...NoticeEvent) {
	if c.opts.Listener == nil {
		return
	}
	for _, n := range ns {
		c.opts.Listener.OnNotice(n)
	}
}
