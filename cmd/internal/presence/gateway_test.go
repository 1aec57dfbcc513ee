package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"parley/cmd/internal/auth/session"
	v1 "parley/shared/contracts/presence/v1"
)

// fakeAuth maps bearer tokens to principals.
type fakeAuth struct {
	mu      sync.Mutex
	tokens  map[string]session.Principal
	revoked map[string]bool
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{tokens: map[string]session.Principal{}, revoked: map[string]bool{}}
}

func (f *fakeAuth) add(token, identity string, ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[token] = session.Principal{
		Identity:  identity,
		SessionID: "sess-" + token,
		ExpiresAt: time.Now().Add(ttl),
		Token:     token,
	}
}

func (f *fakeAuth) revoke(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[token] = true
}

func (f *fakeAuth) Authenticate(ctx context.Context, r *http.Request) (session.Principal, error) {
	tok, ok := session.TokenFromRequest(r, "parley_session")
	if !ok {
		return session.Principal{}, fmt.Errorf("%w: %w", session.ErrUnauthenticated, session.ErrNoCredential)
	}
	return f.Recheck(ctx, tok)
}

func (f *fakeAuth) Recheck(_ context.Context, token string) (session.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revoked[token] {
		return session.Principal{}, fmt.Errorf("%w: %w", session.ErrUnauthenticated, session.ErrSessionRevoked)
	}
	p, ok := f.tokens[token]
	if !ok {
		return session.Principal{}, fmt.Errorf("%w: %w", session.ErrUnauthenticated, session.ErrInvalidToken)
	}
	return p, nil
}

type testServer struct {
	url  string
	reg  *Registry
	auth *fakeAuth
}

func startGateway(t *testing.T, mutate func(*GatewayConfig)) *testServer {
	t.Helper()

	cfg := DefaultGatewayConfig()
	cfg.HeartbeatEvery = time.Hour
	cfg.RevalidateEvery = time.Hour
	if mutate != nil {
		mutate(&cfg)
	}

	reg := NewRegistry(quietLogger(), nil)
	auth := newFakeAuth()
	gw := NewGateway(quietLogger(), reg, auth, nil, cfg)

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		gw.Shutdown()
		srv.Close()
		reg.Close()
	})

	return &testServer{url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", reg: reg, auth: auth}
}

func dialWS(t *testing.T, url, token string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	h := http.Header{}
	for k, v := range header {
		h[k] = v
	}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
}

func mustDial(t *testing.T, url, token string) *websocket.Conn {
	t.Helper()
	c, _, err := dialWS(t, url, token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func readEnv(t *testing.T, c *websocket.Conn) (v1.Envelope, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return env, nil
}

func readUntilOnline(t *testing.T, c *websocket.Conn, want []string) v1.OnlineUsersPayload {
	t.Helper()
	for {
		env, err := readEnv(t, c)
		if err != nil {
			t.Fatalf("waiting for %v: %v", want, err)
		}
		if env.Type != v1.TypeOnlineUsers {
			continue
		}
		var p v1.OnlineUsersPayload
		if err := env.DecodePayload(&p); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if reflect.DeepEqual(p.UserIDs, want) {
			return p
		}
	}
}

// readUntilClosed returns the close status and the error codes seen before it.
func readUntilClosed(t *testing.T, c *websocket.Conn) (websocket.StatusCode, []string) {
	t.Helper()
	var codes []string
	for {
		env, err := readEnv(t, c)
		if err != nil {
			return websocket.CloseStatus(err), codes
		}
		if env.Type == v1.TypeError {
			var p v1.ErrorPayload
			_ = env.DecodePayload(&p)
			codes = append(codes, p.Code)
		}
	}
}

func writeEnv(t *testing.T, c *websocket.Conn, typ string) {
	t.Helper()
	env, err := v1.NewEnvelope(typ, "", time.Now().UTC(), v1.PresenceSyncPayload{})
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	b, _ := json.Marshal(env)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestGateway_RejectsUnauthenticatedBeforeUpgrade(t *testing.T) {
	t.Parallel()
	ts := startGateway(t, nil)

	for _, tok := range []string{"", "unknown-token"} {
		_, resp, err := dialWS(t, ts.url, tok, nil)
		if err == nil {
			t.Fatalf("token %q: expected handshake failure", tok)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("token %q: expected 401, got %+v", tok, resp)
		}
	}
	if ts.reg.Len() != 0 {
		t.Fatalf("rejected handshake registered a connection")
	}
}

func TestGateway_RejectsForeignOrigin(t *testing.T) {
	t.Parallel()
	ts := startGateway(t, nil)
	ts.auth.add("t1", "u1", time.Hour)

	_, resp, err := dialWS(t, ts.url, "t1", http.Header{"Origin": {"https://evil.example"}})
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got resp=%+v err=%v", resp, err)
	}
}

func TestGateway_OpenThenOnlineSet(t *testing.T) {
	t.Parallel()
	ts := startGateway(t, nil)
	ts.auth.add("t1", "u1", time.Hour)

	c := mustDial(t, ts.url, "t1")

	first, err := readEnv(t, c)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if first.Type != v1.TypeConnectionOpened {
		t.Fatalf("first envelope = %s, want connection_opened", first.Type)
	}
	var opened v1.ConnectionOpenedPayload
	if err := first.DecodePayload(&opened); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if opened.UserID != "u1" || opened.SessionID != "sess-t1" || opened.ConnectionID == "" {
		t.Fatalf("opened = %+v", opened)
	}

	readUntilOnline(t, c, []string{"u1"})
}

func TestGateway_TwoUsersConverge(t *testing.T) {
	t.Parallel()
	ts := startGateway(t, nil)
	ts.auth.add("t1", "u1", time.Hour)
	ts.auth.add("t2", "u2", time.Hour)

	c1 := mustDial(t, ts.url, "t1")
	readUntilOnline(t, c1, []string{"u1"})

	c2 := mustDial(t, ts.url, "t2")
	readUntilOnline(t, c2, []string{"u1", "u2"})
	readUntilOnline(t, c1, []string{"u1", "u2"})

	_ = c2.Close(websocket.StatusNormalClosure, "bye")
	readUntilOnline(t, c1, []string{"u1"})
}

func TestGateway_PresenceSync(t *testing.T) {
	t.Parallel()
	ts := startGateway(t, nil)
	ts.auth.add("t1", "u1", time.Hour)

	c := mustDial(t, ts.url, "t1")
	before := readUntilOnline(t, c, []string{"u1"})

	writeEnv(t, c, v1.TypePresenceSync)
	after := readUntilOnline(t, c, []string{"u1"})
	if after.Revision != before.Revision {
		t.Fatalf("sync changed revision: %d -> %d", before.Revision, after.Revision)
	}
}

func TestGateway_BadJSONKeepsConnection(t *testing.T) {
	t.Parallel()
	ts := startGateway(t, nil)
	ts.auth.add("t1", "u1", time.Hour)

	c := mustDial(t, ts.url, "t1")
	readUntilOnline(t, c, []string{"u1"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, []byte("{nope")); err != nil {
		t.Fatalf("write: %v", err)
	}

	env, err := readEnv(t, c)
	if err != nil || env.Type != v1.TypeError {
		t.Fatalf("expected error envelope, got %+v %v", env, err)
	}
	var p v1.ErrorPayload
	_ = env.DecodePayload(&p)
	if p.Code != v1.CodeBadJSON {
		t.Fatalf("code = %s", p.Code)
	}

	writeEnv(t, c, v1.TypePresenceSync)
	readUntilOnline(t, c, []string{"u1"})
}

func TestGateway_SecondConnectionReplacesFirst(t *testing.T) {
	t.Parallel()
	ts := startGateway(t, nil)
	ts.auth.add("t1", "u1", time.Hour)

	first := mustDial(t, ts.url, "t1")
	readUntilOnline(t, first, []string{"u1"})

	second := mustDial(t, ts.url, "t1")
	readUntilOnline(t, second, []string{"u1"})

	status, codes := readUntilClosed(t, first)
	if status != v1.CloseSessionReplaced {
		t.Fatalf("close status = %d, want %d", status, v1.CloseSessionReplaced)
	}
	if len(codes) == 0 || codes[len(codes)-1] != v1.CodeSessionReplaced {
		t.Fatalf("error codes = %v", codes)
	}

	// The survivor stays online.
	writeEnv(t, second, v1.TypePresenceSync)
	readUntilOnline(t, second, []string{"u1"})
	if got := ts.reg.Snapshot(); !reflect.DeepEqual(got, []string{"u1"}) {
		t.Fatalf("snapshot = %v", got)
	}
}

func TestGateway_LogoutClosesConnection(t *testing.T) {
	t.Parallel()
	ts := startGateway(t, nil)
	ts.auth.add("t1", "u1", time.Hour)
	ts.auth.add("t2", "u2", time.Hour)

	c1 := mustDial(t, ts.url, "t1")
	c2 := mustDial(t, ts.url, "t2")
	readUntilOnline(t, c1, []string{"u1", "u2"})

	ts.reg.LoggedOut("u2")

	status, _ := readUntilClosed(t, c2)
	if status != v1.CloseLoggedOut {
		t.Fatalf("close status = %d, want %d", status, v1.CloseLoggedOut)
	}
	readUntilOnline(t, c1, []string{"u1"})
}

func TestGateway_SessionExpiryClosesConnection(t *testing.T) {
	t.Parallel()
	ts := startGateway(t, nil)
	ts.auth.add("t1", "u1", 300*time.Millisecond)

	c := mustDial(t, ts.url, "t1")
	status, codes := readUntilClosed(t, c)
	if status != v1.CloseSessionEnded {
		t.Fatalf("close status = %d, want %d", status, v1.CloseSessionEnded)
	}
	if len(codes) == 0 || codes[len(codes)-1] != v1.CodeSessionExpired {
		t.Fatalf("error codes = %v", codes)
	}
}

func TestGateway_RevokedSessionClosesConnection(t *testing.T) {
	t.Parallel()
	ts := startGateway(t, func(cfg *GatewayConfig) { cfg.RevalidateEvery = 50 * time.Millisecond })
	ts.auth.add("t1", "u1", time.Hour)

	c := mustDial(t, ts.url, "t1")
	readUntilOnline(t, c, []string{"u1"})

	ts.auth.revoke("t1")
	status, codes := readUntilClosed(t, c)
	if status != v1.CloseSessionEnded {
		t.Fatalf("close status = %d, want %d", status, v1.CloseSessionEnded)
	}
	if len(codes) == 0 || codes[len(codes)-1] != v1.CodeSessionRevoked {
		t.Fatalf("error codes = %v", codes)
	}
}

func TestOriginPatterns(t *testing.T) {
	t.Parallel()
	got := originPatterns([]string{"http://localhost:5173", "https://Chat.Example.com", "127.0.0.1:8080", ""})
	want := []string{"127.0.0.1", "chat.example.com", "localhost"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("originPatterns = %v, want %v", got, want)
	}
}
