package identity

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are opt-in and require PARLEY_DATABASE_URL.
// Outside CI an unreachable Postgres skips instead of failing.

func TestPostgresStore_CreateAndLookup(t *testing.T) {
	t.Parallel()
	s := mustIsolatedStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	u, err := s.CreateUser(ctx, CreateUserInput{
		Email:        "Ada@Example.com",
		FullName:     "Ada Lovelace",
		PasswordHash: "$argon2id$placeholder",
		Now:          time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	byID, err := s.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if byID.EmailNorm != "ada@example.com" || byID.FullName != "Ada Lovelace" {
		t.Fatalf("unexpected user: %+v", byID)
	}

	creds, err := s.GetCredentialsByEmail(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("get creds: %v", err)
	}
	if creds.PasswordHash != "$argon2id$placeholder" || creds.User.ID != u.ID {
		t.Fatalf("unexpected creds: %+v", creds)
	}

	if err := s.UpdatePasswordHash(ctx, u.ID, "$argon2id$new", time.Now().UTC()); err != nil {
		t.Fatalf("update hash: %v", err)
	}
	creds, _ = s.GetCredentialsByEmail(ctx, "ada@example.com")
	if creds.PasswordHash != "$argon2id$new" {
		t.Fatalf("hash not updated")
	}
}

func TestPostgresStore_ConflictEmail_CaseInsensitive(t *testing.T) {
	t.Parallel()
	s := mustIsolatedStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	in := CreateUserInput{Email: "user@example.com", FullName: "U", PasswordHash: "h"}
	if _, err := s.CreateUser(ctx, in); err != nil {
		t.Fatalf("create 1: %v", err)
	}
	in.Email = "USER@example.COM"
	_, err := s.CreateUser(ctx, in)
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var ce ConflictError
	if errors.As(err, &ce) && ce.Field != "email" {
		t.Fatalf("conflict field = %q", ce.Field)
	}
}

func TestPostgresStore_NotFound(t *testing.T) {
	t.Parallel()
	s := mustIsolatedStore(t)
	ctx := context.Background()

	if _, err := s.GetUserByID(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.GetCredentialsByEmail(ctx, "ghost@example.com"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// ---- helpers ----

func mustIsolatedStore(t *testing.T) *PostgresStore {
	t.Helper()

	pool := mustOpenTestPool(t)
	t.Cleanup(pool.Close)

	schema := "parley_it_" + strings.ToLower(mustULID(t))
	s, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})
	return s
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("PARLEY_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: PARLEY_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		}
		t.Fatalf("ping: %v", err)
	}
	return pool
}

func shouldSkipIntegration(err error) bool {
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "no such host")
}

func mustULID(t *testing.T) string {
	t.Helper()
	id, err := newUserID(time.Now().UTC())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	return id
}
