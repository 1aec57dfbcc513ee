package authapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"parley/cmd/identity"
	"parley/cmd/internal/auth/session"
	"parley/cmd/security/password"
)

type recordingHooks struct {
	mu  sync.Mutex
	in  []string
	out []string
}

func (r *recordingHooks) LoggedIn(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.in = append(r.in, id)
}

func (r *recordingHooks) LoggedOut(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, id)
}

type testEnv struct {
	h     *Handler
	mux   *http.ServeMux
	hooks *recordingHooks
}

func testConfig() Config {
	return Config{
		MaxBodyBytes:      4 << 10,
		CheckMax:          1000,
		CheckWindow:       time.Minute,
		CredentialsMax:    1000,
		CredentialsWindow: time.Minute,
		CookiePath:        "/",
		CookieSameSite:    http.SameSiteStrictMode,
	}
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	pw := password.DefaultConfig()
	pw.Params.MemoryKiB = 8 * 1024
	pw.Params.Iterations = 1
	pw.Params.Parallelism = 1

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := identity.NewService(identity.NewMemoryStore(), identity.NewHasher(pw), log)

	scfg := session.DefaultConfig()
	scfg.PasetoV4SecretKeyHex = session.GenerateSecretKeyHex()
	tokens, err := session.NewPasetoV4PublicManager(scfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}
	sessions := session.NewService(scfg, session.NewMemoryStore(), tokens)

	hooks := &recordingHooks{}
	h, err := NewHandler(log, cfg, users, sessions, WithSessionHooks(hooks))
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)
	return &testEnv{h: h, mux: mux, hooks: hooks}
}

func (e *testEnv) do(method, path, body, token string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) signup(t *testing.T, name, email, pw string) authResponse {
	t.Helper()
	body := `{"fullName":"` + name + `","email":"` + email + `","password":"` + pw + `"}`
	rec := e.do(http.MethodPost, "/api/auth/signup", body, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status=%d body=%s", rec.Code, rec.Body.String())
	}
	var out authResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode signup: %v", err)
	}
	return out
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var er errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return er.Error.Message
}

func TestSignupThenCheck(t *testing.T) {
	env := newTestEnv(t, testConfig())

	out := env.signup(t, "Ada Lovelace", "ada@example.com", "analytical-engine")
	if out.ID == "" || out.Session.Token == "" {
		t.Fatalf("expected user id and token, got %+v", out)
	}
	if out.FullName != "Ada Lovelace" {
		t.Fatalf("fullName=%q", out.FullName)
	}
	if len(env.hooks.in) != 1 || env.hooks.in[0] != out.ID {
		t.Fatalf("LoggedIn hook calls=%v", env.hooks.in)
	}

	rec := env.do(http.MethodGet, "/api/auth/check", "", out.Session.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("check status=%d body=%s", rec.Code, rec.Body.String())
	}
	var u userResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &u); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if u.ID != out.ID || u.Email != "ada@example.com" {
		t.Fatalf("check returned %+v", u)
	}
}

func TestSignup_SetsHttpOnlyCookie(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(http.MethodPost, "/api/auth/signup",
		`{"fullName":"Grace","email":"grace@example.com","password":"compiler-pioneer"}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != "parley_session" || !c.HttpOnly || c.Value == "" {
		t.Fatalf("unexpected cookie %+v", c)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/check", nil)
	req.AddCookie(c)
	check := httptest.NewRecorder()
	env.mux.ServeHTTP(check, req)
	if check.Code != http.StatusOK {
		t.Fatalf("cookie check status=%d", check.Code)
	}
}

func TestSignup_Validation(t *testing.T) {
	env := newTestEnv(t, testConfig())

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing name", `{"email":"a@b.co","password":"long-enough-pw"}`, "All fields are required"},
		{"bad email", `{"fullName":"A","email":"nope","password":"long-enough-pw"}`, "Invalid email format"},
		{"short password", `{"fullName":"A","email":"a@b.co","password":"short"}`, "Password must be at least 8 characters"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/auth/signup", tc.body, "")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
			}
			if got := errorMessage(t, rec); got != tc.want {
				t.Fatalf("message=%q, want %q", got, tc.want)
			}
		})
	}
	if len(env.hooks.in) != 0 {
		t.Fatalf("hooks must not fire on failed signup")
	}
}

func TestSignup_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.signup(t, "Ada", "ada@example.com", "analytical-engine")

	rec := env.do(http.MethodPost, "/api/auth/signup",
		`{"fullName":"Ada Two","email":"ADA@example.com","password":"analytical-engine"}`, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status=%d, want 409", rec.Code)
	}
	if got := errorMessage(t, rec); got != "Email already exists" {
		t.Fatalf("message=%q", got)
	}
}

func TestSignup_RejectsUnknownFieldsAndTrailingData(t *testing.T) {
	env := newTestEnv(t, testConfig())

	for _, body := range []string{
		`{"fullName":"A","email":"a@b.co","password":"long-enough-pw","admin":true}`,
		`{"fullName":"A","email":"a@b.co","password":"long-enough-pw"} {}`,
		``,
	} {
		rec := env.do(http.MethodPost, "/api/auth/signup", body, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status=%d", body, rec.Code)
		}
	}
}

func TestSignup_BodyTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBodyBytes = 32
	env := newTestEnv(t, cfg)

	body := `{"fullName":"` + strings.Repeat("x", 64) + `","email":"a@b.co","password":"long-enough-pw"}`
	rec := env.do(http.MethodPost, "/api/auth/signup", body, "")
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status=%d, want 413", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, testConfig())
	created := env.signup(t, "Ada", "ada@example.com", "analytical-engine")

	rec := env.do(http.MethodPost, "/api/auth/login", `{"email":"Ada@Example.com","password":"analytical-engine"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var out authResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ID != created.ID {
		t.Fatalf("login id=%q, want %q", out.ID, created.ID)
	}
	if out.Session.Token == "" || out.Session.Token == created.Session.Token {
		t.Fatalf("login must issue a fresh session token")
	}
	if len(env.hooks.in) != 2 {
		t.Fatalf("LoggedIn calls=%d, want 2", len(env.hooks.in))
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.signup(t, "Ada", "ada@example.com", "analytical-engine")

	for _, body := range []string{
		`{"email":"ada@example.com","password":"wrong-password"}`,
		`{"email":"nobody@example.com","password":"analytical-engine"}`,
	} {
		rec := env.do(http.MethodPost, "/api/auth/login", body, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status=%d", rec.Code)
		}
		if got := errorMessage(t, rec); got != "Invalid credentials" {
			t.Fatalf("message=%q", got)
		}
	}
}

func TestCheck_Unauthenticated(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(http.MethodGet, "/api/auth/check", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
	if got := errorMessage(t, rec); got != "Unauthorized - No token provided" {
		t.Fatalf("message=%q", got)
	}

	rec = env.do(http.MethodGet, "/api/auth/check", "", "v4.public.garbage")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token status=%d, want 401", rec.Code)
	}
}

func TestCheck_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.CheckMax = 2
	env := newTestEnv(t, cfg)

	for i := 0; i < 2; i++ {
		if rec := env.do(http.MethodGet, "/api/auth/check", "", ""); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status=%d", i, rec.Code)
		}
	}
	rec := env.do(http.MethodGet, "/api/auth/check", "", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
}

func TestLogout_RevokesAndNotifies(t *testing.T) {
	env := newTestEnv(t, testConfig())
	out := env.signup(t, "Ada", "ada@example.com", "analytical-engine")

	rec := env.do(http.MethodPost, "/api/auth/logout", "", out.Session.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var msg messageResponse
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Message != "Logged out successfully" {
		t.Fatalf("message=%q", msg.Message)
	}
	if len(env.hooks.out) != 1 || env.hooks.out[0] != out.ID {
		t.Fatalf("LoggedOut hook calls=%v", env.hooks.out)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("logout must expire the session cookie: %+v", cookies)
	}

	if rec := env.do(http.MethodGet, "/api/auth/check", "", out.Session.Token); rec.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token check status=%d, want 401", rec.Code)
	}
}

func TestLogout_WithoutSessionStillSucceeds(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(http.MethodPost, "/api/auth/logout", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if len(env.hooks.out) != 0 {
		t.Fatalf("no identity, no hook")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, testConfig())

	cases := map[string]string{
		"/api/auth/check":  http.MethodPost,
		"/api/auth/signup": http.MethodGet,
		"/api/auth/login":  http.MethodGet,
		"/api/auth/logout": http.MethodGet,
	}
	for path, method := range cases {
		if rec := env.do(method, path, "", ""); rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s status=%d", method, path, rec.Code)
		}
	}
}
