package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// SignupInput is the raw registration form.
type SignupInput struct {
	FullName string
	Email    string
	Password string
}

// Service implements signup and login over a Store.
type Service struct {
	store  Store
	hasher *Hasher
	log    *slog.Logger
	now    func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewService wires a Service. log may be nil.
func NewService(store Store, hasher *Hasher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  store,
		hasher: hasher,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Signup validates the form, hashes the password and creates the user.
func (s *Service) Signup(ctx context.Context, in SignupInput) (User, error) {
	const op = "identity.Signup"

	fullName := NormalizeFullName(in.FullName)
	email := strings.TrimSpace(in.Email)
	if fullName == "" || email == "" || in.Password == "" {
		return User{}, invalid(op, "All fields are required")
	}
	if !LooksLikeEmail(email) {
		return User{}, invalid(op, "Invalid email format")
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return User{}, err
	}

	u, err := s.store.CreateUser(ctx, CreateUserInput{
		Email:        email,
		FullName:     fullName,
		PasswordHash: hash,
		Now:          s.now(),
	})
	if err != nil {
		return User{}, err
	}

	s.log.Info("identity.signup", "user_id", u.ID)
	return u, nil
}

// Login verifies email and password. Unknown email and wrong password both
// return ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, pw string) (User, error) {
	const op = "identity.Login"

	emailNorm := NormalizeEmail(email)
	if emailNorm == "" || pw == "" {
		return User{}, invalid(op, "All fields are required")
	}

	creds, err := s.store.GetCredentialsByEmail(ctx, emailNorm)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.burnVerify(pw)
			return User{}, OpError{Op: op, Kind: ErrInvalidCredentials, Msg: "Invalid credentials"}
		}
		return User{}, err
	}

	ok, err := s.hasher.Verify(creds.PasswordHash, pw)
	if err != nil {
		return User{}, err
	}
	if !ok {
		return User{}, OpError{Op: op, Kind: ErrInvalidCredentials, Msg: "Invalid credentials"}
	}

	if s.hasher.NeedsRehash(creds.PasswordHash) {
		s.rehash(ctx, creds.User.ID, pw)
	}
	return creds.User, nil
}

// User loads a user by ID.
func (s *Service) User(ctx context.Context, id string) (User, error) {
	return s.store.GetUserByID(ctx, id)
}

// burnVerify spends one verification on a fixed hash so unknown emails take
// as long as wrong passwords.
func (s *Service) burnVerify(pw string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.cfg.Hash("parley-timing-equalizer")
	})
	if s.dummyHash != "" {
		_, _ = s.hasher.Verify(s.dummyHash, pw)
	}
}

// rehash upgrades the stored hash after a successful login. Failures are logged only.
func (s *Service) rehash(ctx context.Context, userID, pw string) {
	hash, err := s.hasher.Hash(pw)
	if err != nil {
		// An old password may predate a stricter policy; keep the old hash.
		s.log.Debug("identity.rehash.skip", "user_id", userID, "err", err)
		return
	}
	if err := s.store.UpdatePasswordHash(ctx, userID, hash, s.now()); err != nil {
		s.log.Warn("identity.rehash.fail", "user_id", userID, "err", err)
	}
}
