package identity

import (
	"fmt"
	"time"

	"parley/cmd/identity/ids"
)

// newUserID mints a user ID in the same ULID space as sessions and connections.
func newUserID(now time.Time) (string, error) {
	id, err := ids.NewULID(now)
	if err != nil {
		return "", fmt.Errorf("identity: new user id: %w", err)
	}
	return id, nil
}
