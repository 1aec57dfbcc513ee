package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"parley/cmd/identity"
	"parley/cmd/internal/auth/session"
)

// SessionHooks is notified after a session starts or ends. The presence
// registry implements it.
type SessionHooks interface {
	LoggedIn(identity string)
	LoggedOut(identity string)
}

type noopHooks struct{}

func (noopHooks) LoggedIn(string)  {}
func (noopHooks) LoggedOut(string) {}

// Handler wires HTTP auth endpoints to identity/session services.
type Handler struct {
	log *slog.Logger
	cfg Config

	users      *identity.Service
	sessions   *session.Service
	guard      *session.Guard
	cookieName string
	hooks      SessionHooks

	checkThrottle       *ipThrottle
	credentialsThrottle *ipThrottle

	now func() time.Time
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithSessionHooks registers hooks called on login, signup and logout.
func WithSessionHooks(hooks SessionHooks) HandlerOption {
	return func(h *Handler) {
		if h == nil || hooks == nil {
			return
		}
		h.hooks = hooks
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, users *identity.Service, sessions *session.Service, opts ...HandlerOption) (*Handler, error) {
	if users == nil || sessions == nil {
		return nil, errors.New("authapi: users and sessions are required")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = "/"
	}

	sc := sessions.Config()
	h := &Handler{
		log:                 log,
		cfg:                 cfg,
		users:               users,
		sessions:            sessions,
		guard:               session.NewGuard(sessions, sc.CookieName),
		cookieName:          sc.CookieName,
		hooks:               noopHooks{},
		checkThrottle:       newIPThrottle(cfg.CheckMax, cfg.CheckWindow),
		credentialsThrottle: newIPThrottle(cfg.CredentialsMax, cfg.CredentialsWindow),
		now:                 func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/api/auth/check", h.handleCheck)
	mux.HandleFunc("/api/auth/signup", h.handleSignup)
	mux.HandleFunc("/api/auth/login", h.handleLogin)
	mux.HandleFunc("/api/auth/logout", h.handleLogout)
}

// Guard returns the request authenticator shared with the websocket gateway.
func (h *Handler) Guard() *session.Guard {
	if h == nil {
		return nil
	}
	return h.guard
}

// ---- handlers ----

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	now := h.now()
	if ok, retry := h.checkThrottle.allow(clientIP(r, h.cfg.TrustProxy), now); !ok {
		writeRateLimited(w, retry)
		return
	}

	ctx := r.Context()
	p, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	u, err := h.users.User(ctx, p.Identity)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "Unauthorized - User not found")
			return
		}
		h.log.Error("auth.check.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}

	if err := h.sessions.Touch(ctx, now, p.SessionID); err != nil {
		h.log.Warn("auth.check.touch.fail", "session_id", p.SessionID, "err", err)
	}

	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ip := clientIP(r, h.cfg.TrustProxy)
	if ok, retry := h.credentialsThrottle.allow(ip, h.now()); !ok {
		h.log.Warn("auth.signup.rate_limited", "ip", ipString(ip))
		writeRateLimited(w, retry)
		return
	}

	var req signupRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	ctx := r.Context()
	u, err := h.users.Signup(ctx, identity.SignupInput{
		FullName: req.FullName,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.writeIdentityError(w, "auth.signup.fail", err)
		return
	}

	h.startSession(ctx, w, r, http.StatusCreated, u, req.Platform, "auth.signup")
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ip := clientIP(r, h.cfg.TrustProxy)
	if ok, retry := h.credentialsThrottle.allow(ip, h.now()); !ok {
		h.log.Warn("auth.login.rate_limited", "ip", ipString(ip))
		writeRateLimited(w, retry)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Email and password are required")
		return
	}

	ctx := r.Context()
	u, err := h.users.Login(ctx, req.Email, req.Password)
	if err != nil {
		h.writeIdentityError(w, "auth.login.fail", err)
		return
	}

	h.startSession(ctx, w, r, http.StatusOK, u, req.Platform, "auth.login")
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	// The cookie is cleared whether or not the credential is still valid.
	h.clearSessionCookie(w)

	ctx := r.Context()
	p, err := h.guard.Authenticate(ctx, r)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrUnauthenticated):
		writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
		return
	default:
		h.log.Error("auth.logout.validate.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "Please retry later")
		return
	}

	if err := h.sessions.Revoke(ctx, h.now(), p.SessionID); err != nil {
		h.log.Error("auth.logout.fail", "session_id", p.SessionID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}

	h.hooks.LoggedOut(p.Identity)
	h.log.Info("auth.logout", "user_id", p.Identity, "session_id", p.SessionID)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

// ---- helpers ----

func (h *Handler) startSession(ctx context.Context, w http.ResponseWriter, r *http.Request, status int, u identity.User, platform, event string) {
	issued, err := h.sessions.Issue(ctx, h.now(), u.ID, session.DeviceContext{
		Platform:  session.ParsePlatform(platform),
		UserAgent: strings.TrimSpace(r.UserAgent()),
		IP:        clientIP(r, h.cfg.TrustProxy),
	})
	if err != nil {
		h.log.Error(event+".issue_session.fail", "user_id", u.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}

	h.setSessionCookie(w, issued.Token, issued.ExpiresAt)
	h.hooks.LoggedIn(u.ID)
	h.log.Info(event, "user_id", u.ID, "session_id", issued.SessionID)
	writeJSON(w, status, toAuthResponse(u, issued))
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.Principal, bool) {
	p, err := h.guard.Authenticate(r.Context(), r)
	if err == nil {
		return p, true
	}
	if errors.Is(err, session.ErrUnauthenticated) {
		msg := "Unauthorized - Invalid token"
		if errors.Is(err, session.ErrNoCredential) {
			msg = "Unauthorized - No token provided"
		}
		writeError(w, http.StatusUnauthorized, "unauthenticated", msg)
		return session.Principal{}, false
	}
	h.log.Error("auth.guard.fail", "err", err)
	writeError(w, http.StatusServiceUnavailable, "server_busy", "Please retry later")
	return session.Principal{}, false
}

func (h *Handler) writeIdentityError(w http.ResponseWriter, event string, err error) {
	var opErr identity.OpError
	switch {
	case identity.IsConflict(err):
		writeError(w, http.StatusConflict, "email_taken", "Email already exists")
	case identity.IsInvalidCredentials(err):
		writeError(w, http.StatusBadRequest, "invalid_credentials", "Invalid credentials")
	case identity.IsInvalidInput(err) && errors.As(err, &opErr):
		writeError(w, http.StatusBadRequest, "invalid_request", opErr.Msg)
	default:
		h.log.Error(event, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "Internal server error")
	}
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
