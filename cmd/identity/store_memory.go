package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*memUser
	byEmail map[string]string
}

type memUser struct {
	user User
	hash string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*memUser),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(in.Email) == "" || strings.TrimSpace(in.PasswordHash) == "" {
		return User{}, invalid(op, "email and password hash are required")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := newUserID(now)
	if err != nil {
		return User{}, err
	}

	u := User{
		ID:        id,
		Email:     strings.TrimSpace(in.Email),
		EmailNorm: NormalizeEmail(in.Email),
		FullName:  in.FullName,
		CreatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[u.EmailNorm]; taken {
		return User{}, ConflictError{Op: op, Field: "email"}
	}
	s.byID[u.ID] = &memUser{user: u, hash: in.PasswordHash}
	s.byEmail[u.EmailNorm] = u.ID
	return u, nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.byID[id]
	if !ok {
		return User{}, notFound("identity.GetUserByID")
	}
	return m.user, nil
}

func (s *MemoryStore) GetCredentialsByEmail(ctx context.Context, emailNorm string) (Credentials, error) {
	if err := ctx.Err(); err != nil {
		return Credentials{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[emailNorm]
	if !ok {
		return Credentials{}, notFound("identity.GetCredentialsByEmail")
	}
	m := s.byID[id]
	return Credentials{User: m.user, PasswordHash: m.hash}, nil
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, userID, hash string, _ time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[userID]
	if !ok {
		return notFound("identity.UpdatePasswordHash")
	}
	m.hash = hash
	return nil
}
