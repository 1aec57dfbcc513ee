package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = GenerateSecretKeyHex()
	cfg.SessionTTL = time.Hour

	tokens, err := NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}
	st := NewMemoryStore()
	return NewService(cfg, st, tokens), st
}

func TestPasetoV4_IssueAndVerify(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = GenerateSecretKeyHex()

	mgr, err := NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}

	now := time.Now().UTC()
	tok, err := mgr.Issue("01HZZZZZZZZZZZZZZZZZZZZZZZ", "01HYYYYYYYYYYYYYYYYYYYYYYY", now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := mgr.Verify(tok, now.Add(time.Second))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "01HZZZZZZZZZZZZZZZZZZZZZZZ" || claims.SessionID != "01HYYYYYYYYYYYYYYYYYYYYYYY" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := mgr.Verify(tok, now.Add(2*time.Hour)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestPasetoV4_RejectsForeignKey(t *testing.T) {
	t.Parallel()
	a := DefaultConfig()
	a.PasetoV4SecretKeyHex = GenerateSecretKeyHex()
	b := a
	b.PasetoV4SecretKeyHex = GenerateSecretKeyHex()

	ma, _ := NewPasetoV4PublicManager(a)
	mb, _ := NewPasetoV4PublicManager(b)

	now := time.Now().UTC()
	tok, _ := ma.Issue("u", "s", now, now.Add(time.Hour))
	if _, err := mb.Verify(tok, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestService_IssueValidateRevoke(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	iss, err := svc.Issue(ctx, now, "user-1", DeviceContext{Platform: PlatformWeb})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !iss.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expiry = %v", iss.ExpiresAt)
	}

	claims, err := svc.Validate(ctx, iss.Token, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.UserID != "user-1" || claims.SessionID != iss.SessionID {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if err := svc.Revoke(ctx, now, iss.SessionID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := svc.Revoke(ctx, now, iss.SessionID); err != nil {
		t.Fatalf("second Revoke: %v", err)
	}

	_, err = svc.Validate(ctx, iss.Token, now.Add(time.Minute))
	if !errors.Is(err, ErrUnauthenticated) || !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected revoked, got %v", err)
	}
}

func TestService_ValidateFailures(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	iss, err := svc.Issue(ctx, now, "user-1", DeviceContext{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Row shortened server-side: the token is still signed-valid but the session is over.
	st.mu.Lock()
	row := st.rows[iss.SessionID]
	row.ExpiresAt = now.Add(time.Minute)
	st.rows[iss.SessionID] = row
	st.mu.Unlock()

	cases := []struct {
		name  string
		token string
		at    time.Time
		cause error
	}{
		{"empty", "", now, ErrInvalidToken},
		{"garbage", "v4.public.nope", now, ErrInvalidToken},
		{"row expired", iss.Token, now.Add(2 * time.Minute), ErrSessionExpired},
	}
	for _, tc := range cases {
		_, err := svc.Validate(ctx, tc.token, tc.at)
		if !errors.Is(err, ErrUnauthenticated) || !errors.Is(err, tc.cause) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.cause)
		}
	}

	st.mu.Lock()
	delete(st.rows, iss.SessionID)
	st.mu.Unlock()
	if _, err := svc.Validate(ctx, iss.Token, now); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type failingStore struct{ *MemoryStore }

var errStoreDown = errors.New("store down")

func (failingStore) GetByID(context.Context, string) (Row, error) { return Row{}, errStoreDown }

func TestService_StoreOutageIsNotUnauthenticated(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = GenerateSecretKeyHex()
	tokens, _ := NewPasetoV4PublicManager(cfg)
	svc := NewService(cfg, failingStore{MemoryStore: NewMemoryStore()}, tokens)

	now := time.Now().UTC()
	iss, err := svc.Issue(context.Background(), now, "u", DeviceContext{})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	_, err = svc.Validate(context.Background(), iss.Token, now)
	if errors.Is(err, ErrUnauthenticated) || !errors.Is(err, errStoreDown) {
		t.Fatalf("expected raw store error, got %v", err)
	}
}
