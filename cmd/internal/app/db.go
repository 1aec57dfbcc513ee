package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"parley/cmd/identity"
	"parley/cmd/internal/auth/session"
)

// NewDBPool builds a pgxpool with sane defaults and validates connectivity.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// stores bundles the persistence backends the server runs on.
type stores struct {
	users    identity.Store
	sessions session.Store
	pool     *pgxpool.Pool
}

func (s stores) dbEnabled() bool { return s.pool != nil }

func (s stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// newStores picks Postgres when a database URL is configured and in-memory
// stores otherwise. The app owns the pool; the stores only borrow it.
func newStores(ctx context.Context, cfg Config, log Logger) (stores, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return stores{users: identity.NewMemoryStore(), sessions: session.NewMemoryStore()}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return stores{}, fmt.Errorf("db: %w", err)
	}

	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return stores{}, err
	}
	sessions := session.NewPostgresStore(pool)

	if cfg.DBMigrate {
		// sessions reference users, so users migrate first.
		if err := users.Migrate(ctx); err != nil {
			pool.Close()
			return stores{}, fmt.Errorf("migrate users: %w", err)
		}
		if err := sessions.Migrate(ctx); err != nil {
			pool.Close()
			return stores{}, fmt.Errorf("migrate sessions: %w", err)
		}
		log.Info("db.migrated")
	}

	log.Info("db.enabled.postgres_store")
	return stores{users: users, sessions: sessions, pool: pool}, nil
}
