// Package identity owns Parley user accounts: registration, credential
// verification and lookup.
//
// Two Store implementations exist. MemoryStore is the dev default and is used
// when no database is configured; PostgresStore persists users in the
// "parley" schema. Passwords are hashed with Argon2id through Hasher, which
// wraps cmd/security/password.
//
// Errors carry a sentinel kind (ErrInvalidInput, ErrNotFound, ErrConflict,
// ErrInvalidCredentials) so HTTP handlers can map them without string checks.
package identity
