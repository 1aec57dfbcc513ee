package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"parley/cmd/security/password"
)

func testService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1

	st := NewMemoryStore()
	return NewService(st, NewHasher(cfg), nil), st
}

func TestSignupAndLogin(t *testing.T) {
	t.Parallel()
	svc, _ := testService(t)
	ctx := context.Background()

	u, err := svc.Signup(ctx, SignupInput{FullName: "  Ada   Lovelace ", Email: "Ada@Example.com", Password: "analytical-engine"})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if len(u.ID) != 26 {
		t.Fatalf("expected ULID id, got %q", u.ID)
	}
	if u.FullName != "Ada Lovelace" || u.EmailNorm != "ada@example.com" {
		t.Fatalf("unexpected user: %+v", u)
	}

	got, err := svc.Login(ctx, "ADA@example.com ", "analytical-engine")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("login returned %s, want %s", got.ID, u.ID)
	}

	byID, err := svc.User(ctx, u.ID)
	if err != nil || byID.ID != u.ID {
		t.Fatalf("User: %+v %v", byID, err)
	}
}

func TestSignup_Validation(t *testing.T) {
	t.Parallel()
	svc, _ := testService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   SignupInput
		msg  string
	}{
		{"missing name", SignupInput{Email: "a@b.co", Password: "analytical-engine"}, "All fields are required"},
		{"bad email", SignupInput{FullName: "A", Email: "nope", Password: "analytical-engine"}, "Invalid email format"},
		{"short password", SignupInput{FullName: "A", Email: "a@b.co", Password: "abc"}, "Password must be at least 8 characters"},
		{"common password", SignupInput{FullName: "A", Email: "a@b.co", Password: "password123"}, "Password is too common"},
	}
	for _, tc := range cases {
		_, err := svc.Signup(ctx, tc.in)
		if !IsInvalidInput(err) {
			t.Fatalf("%s: expected invalid input, got %v", tc.name, err)
		}
		var oe OpError
		if !errors.As(err, &oe) || oe.Msg != tc.msg {
			t.Fatalf("%s: message = %q, want %q", tc.name, oe.Msg, tc.msg)
		}
	}
}

func TestSignup_DuplicateEmail(t *testing.T) {
	t.Parallel()
	svc, _ := testService(t)
	ctx := context.Background()

	if _, err := svc.Signup(ctx, SignupInput{FullName: "A", Email: "dup@example.com", Password: "analytical-engine"}); err != nil {
		t.Fatalf("first signup: %v", err)
	}
	_, err := svc.Signup(ctx, SignupInput{FullName: "B", Email: "DUP@example.com", Password: "difference-engine"})
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	t.Parallel()
	svc, _ := testService(t)
	ctx := context.Background()

	if _, err := svc.Signup(ctx, SignupInput{FullName: "A", Email: "a@example.com", Password: "analytical-engine"}); err != nil {
		t.Fatalf("signup: %v", err)
	}

	if _, err := svc.Login(ctx, "a@example.com", "wrong-password"); !IsInvalidCredentials(err) {
		t.Fatalf("wrong password: expected invalid credentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "ghost@example.com", "analytical-engine"); !IsInvalidCredentials(err) {
		t.Fatalf("unknown email: expected invalid credentials, got %v", err)
	}
}

func TestLogin_RehashesOutdatedHash(t *testing.T) {
	t.Parallel()
	svc, st := testService(t)
	ctx := context.Background()

	u, err := svc.Signup(ctx, SignupInput{FullName: "A", Email: "a@example.com", Password: "analytical-engine"})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	before, _ := st.GetCredentialsByEmail(ctx, u.EmailNorm)

	svc.hasher.cfg.Params.Iterations = 2
	if _, err := svc.Login(ctx, "a@example.com", "analytical-engine"); err != nil {
		t.Fatalf("login: %v", err)
	}

	after, _ := st.GetCredentialsByEmail(ctx, u.EmailNorm)
	if after.PasswordHash == before.PasswordHash {
		t.Fatalf("expected hash to be upgraded")
	}
	if svc.hasher.NeedsRehash(after.PasswordHash) {
		t.Fatalf("upgraded hash still outdated")
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	t.Parallel()
	st := NewMemoryStore()
	ctx := context.Background()

	if _, err := st.GetUserByID(ctx, "missing"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := st.UpdatePasswordHash(ctx, "missing", "x", time.Now()); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
