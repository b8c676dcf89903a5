// Package user provides identity records for passkey owners.
package user

import (
	"strings"
	"time"

	apperrors "github.com/louisbranch/keyless.space/internal/platform/errors"
	"github.com/louisbranch/keyless.space/internal/platform/id"
)

// ErrEmptyDisplayName indicates a missing display name.
var ErrEmptyDisplayName = apperrors.New(apperrors.CodeInvalidInput, "display name is required")

// User represents an identity a credential can be bound to.
//
// Users are minted on the first registration-options request from an
// unknown device and are never deleted; credentials reference them by ID
// for the lifetime of the system.
type User struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
}

// CreateUserInput describes the metadata needed to mint a user.
type CreateUserInput struct {
	DisplayName string
}

// CreateUser mints a durable user identity from validated input.
//
// This is the canonical point where an anonymous ceremony request becomes
// a stable identity that credentials and device links refer to.
func CreateUser(input CreateUserInput, now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" {
		return User{}, ErrEmptyDisplayName
	}

	userID, err := idGenerator()
	if err != nil {
		return User{}, err
	}

	return User{
		ID:          userID,
		DisplayName: displayName,
		CreatedAt:   now().UTC(),
	}, nil
}
