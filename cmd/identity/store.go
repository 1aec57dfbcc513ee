package identity

import (
	"context"
	"time"
)

// User is a registered account. ID is a ULID.
type User struct {
	ID         string
	Email      string
	EmailNorm  string
	FullName   string
	ProfilePic string
	CreatedAt  time.Time
}

// CreateUserInput carries an already validated and hashed registration.
type CreateUserInput struct {
	Email        string
	FullName     string
	PasswordHash string
	Now          time.Time
}

// Credentials is a user together with the stored password hash.
type Credentials struct {
	User         User
	PasswordHash string
}

// Store is the user persistence boundary.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	// GetCredentialsByEmail looks up by normalized email.
	GetCredentialsByEmail(ctx context.Context, emailNorm string) (Credentials, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error
}
