// Package storage defines persistence contracts for credentials, device
// links, and users.
package storage

import (
	"context"
	"time"

	apperrors "github.com/louisbranch/keyless.space/internal/platform/errors"
	"github.com/louisbranch/keyless.space/internal/user"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// DeviceType classifies how a credential is bound to hardware.
type DeviceType string

const (
	// DeviceTypeSingleDevice marks a credential tied to one authenticator.
	DeviceTypeSingleDevice DeviceType = "singleDevice"
	// DeviceTypeMultiDevice marks a synced (backup-eligible) credential.
	DeviceTypeMultiDevice DeviceType = "multiDevice"
)

// Credential is a stored WebAuthn credential bound to exactly one user.
//
// CredentialID is the base64url-encoded raw credential id and acts as the
// primary key. A credential never changes owner; only SignCount and
// LastUsedAt mutate, and only through RecordCredentialUse.
type Credential struct {
	CredentialID string
	UserID       string
	PublicKey    []byte
	SignCount    uint32
	Transports   []string
	AAGUID       string
	DeviceType   DeviceType
	BackedUp     bool
	CreatedAt    time.Time
	LastUsedAt   *time.Time
}

// DeviceLink maps an opaque device fingerprint to a user.
//
// A link is a signup-dedup hint, never proof of identity: it biases
// options construction but is not consulted during verification.
type DeviceLink struct {
	Fingerprint string
	UserID      string
	CreatedAt   time.Time
}

// UserStore persists user identity records.
type UserStore interface {
	PutUser(ctx context.Context, u user.User) error
	GetUser(ctx context.Context, userID string) (user.User, error)
}

// CredentialStore persists WebAuthn credentials.
type CredentialStore interface {
	// PutCredential inserts the credential when its id is absent and is a
	// no-op otherwise, so a replayed registration verify stores nothing.
	PutCredential(ctx context.Context, credential Credential) error
	// GetCredential fetches a credential by id or returns ErrNotFound.
	GetCredential(ctx context.Context, credentialID string) (Credential, error)
	// ListCredentialsByUser returns a user's credentials in insertion order.
	ListCredentialsByUser(ctx context.Context, userID string) ([]Credential, error)
	// RecordCredentialUse persists an already-validated sign count and use
	// timestamp, or returns ErrNotFound for an unknown id. Monotonicity is
	// the caller's responsibility.
	RecordCredentialUse(ctx context.Context, credentialID string, newSignCount uint32, usedAt time.Time) error
}

// DeviceLinkStore persists fingerprint-to-user links.
type DeviceLinkStore interface {
	// LookupDeviceLink returns the linked user id or ErrNotFound.
	LookupDeviceLink(ctx context.Context, fingerprint string) (string, error)
	// LinkDeviceIfAbsent establishes the mapping only when none exists and
	// returns the linked user id either way. The check-and-set is atomic so
	// concurrent first registrations from one device collapse to one user.
	LinkDeviceIfAbsent(ctx context.Context, fingerprint string, userID string) (string, error)
}

// Store combines every persistence contract the server needs.
type Store interface {
	UserStore
	CredentialStore
	DeviceLinkStore
}
