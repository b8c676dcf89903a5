// Package memory provides an in-memory storage.Store for tests and
// single-process deployments.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/keyless.space/internal/storage"
	"github.com/louisbranch/keyless.space/internal/user"
)

// Store keeps all records in process memory behind one mutex.
//
// Mutating operations are atomic with respect to each other, which is
// what upholds the one-owner-per-credential and one-user-per-fingerprint
// invariants under concurrent requests.
type Store struct {
	mu sync.Mutex

	users             map[string]user.User
	credentials       map[string]storage.Credential
	credentialsByUser map[string][]string
	deviceLinks       map[string]storage.DeviceLink
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		users:             make(map[string]user.User),
		credentials:       make(map[string]storage.Credential),
		credentialsByUser: make(map[string][]string),
		deviceLinks:       make(map[string]storage.DeviceLink),
	}
}

// PutUser inserts or replaces a user record.
func (s *Store) PutUser(ctx context.Context, u user.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

// GetUser fetches a user record by id.
func (s *Store) GetUser(ctx context.Context, userID string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	found, ok := s.users[userID]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return found, nil
}

// PutCredential inserts a credential unless its id already exists.
func (s *Store) PutCredential(ctx context.Context, credential storage.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(credential.CredentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credential.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.credentials[credential.CredentialID]; exists {
		return nil
	}
	s.credentials[credential.CredentialID] = credential
	s.credentialsByUser[credential.UserID] = append(s.credentialsByUser[credential.UserID], credential.CredentialID)
	return nil
}

// GetCredential fetches a credential by id.
func (s *Store) GetCredential(ctx context.Context, credentialID string) (storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return storage.Credential{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	credential, ok := s.credentials[credentialID]
	if !ok {
		return storage.Credential{}, storage.ErrNotFound
	}
	return credential, nil
}

// ListCredentialsByUser returns a user's credentials in insertion order.
func (s *Store) ListCredentialsByUser(ctx context.Context, userID string) ([]storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.credentialsByUser[userID]
	credentials := make([]storage.Credential, 0, len(ids))
	for _, id := range ids {
		credentials = append(credentials, s.credentials[id])
	}
	return credentials, nil
}

// RecordCredentialUse persists the validated sign count and use timestamp.
func (s *Store) RecordCredentialUse(ctx context.Context, credentialID string, newSignCount uint32, usedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	credential, ok := s.credentials[credentialID]
	if !ok {
		return storage.ErrNotFound
	}
	used := usedAt.UTC()
	credential.SignCount = newSignCount
	credential.LastUsedAt = &used
	s.credentials[credentialID] = credential
	return nil
}

// LookupDeviceLink returns the user linked to a fingerprint.
func (s *Store) LookupDeviceLink(ctx context.Context, fingerprint string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.deviceLinks[fingerprint]
	if !ok {
		return "", storage.ErrNotFound
	}
	return link.UserID, nil
}

// LinkDeviceIfAbsent links a fingerprint to a user unless already linked.
func (s *Store) LinkDeviceIfAbsent(ctx context.Context, fingerprint string, userID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(fingerprint) == "" {
		return "", fmt.Errorf("fingerprint is required")
	}
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.deviceLinks[fingerprint]; ok {
		return existing.UserID, nil
	}
	s.deviceLinks[fingerprint] = storage.DeviceLink{
		Fingerprint: fingerprint,
		UserID:      userID,
		CreatedAt:   time.Now().UTC(),
	}
	return userID, nil
}
