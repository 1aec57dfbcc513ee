package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"parley/cmd/identity/ids"
)

// PostgresStore implements Store on parley.sessions.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates parley.sessions. The users table must exist first.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS parley.sessions (
			id                TEXT PRIMARY KEY,
			user_id           TEXT NOT NULL REFERENCES parley.users(id) ON DELETE CASCADE,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_used_at      TIMESTAMPTZ NULL,
			expires_at        TIMESTAMPTZ NOT NULL,
			revoked_at        TIMESTAMPTZ NULL,
			revocation_reason TEXT NULL,
			platform          TEXT NOT NULL DEFAULT 'unknown',
			user_agent        TEXT NULL,
			ip                INET NULL
		);
		CREATE INDEX IF NOT EXISTS ix_sessions_user_id ON parley.sessions (user_id);
	`)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, now time.Time, userID string, dev DeviceContext, expiresAt time.Time) (string, error) {
	id, err := ids.NewULID(now)
	if err != nil {
		return "", err
	}

	var ip any
	if dev.IP != nil {
		ip = dev.IP.String()
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO parley.sessions (
			id, user_id, created_at, last_used_at, expires_at, platform, user_agent, ip
		) VALUES ($1, $2, $3, $3, $4, $5, $6, $7)
	`, id, userID, now, expiresAt, string(dev.Platform), nullIfEmpty(dev.UserAgent), ip)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, sessionID string) (Row, error) {
	var row Row
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, created_at, last_used_at, expires_at, revoked_at, platform
		  FROM parley.sessions
		 WHERE id = $1
	`, sessionID).Scan(
		&row.ID,
		&row.UserID,
		&row.CreatedAt,
		&row.LastUsedAt,
		&row.ExpiresAt,
		&row.RevokedAt,
		&row.Platform,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}
	return row, nil
}

func (s *PostgresStore) Touch(ctx context.Context, now time.Time, sessionID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE parley.sessions SET last_used_at = $2 WHERE id = $1`, sessionID, now)
	return err
}

func (s *PostgresStore) Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE parley.sessions
		   SET revoked_at = COALESCE(revoked_at, $2),
		       revocation_reason = COALESCE(revocation_reason, $3)
		 WHERE id = $1
	`, sessionID, now, reason)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
