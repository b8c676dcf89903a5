package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/keyless.space/internal/storage"
)

// LookupDeviceLink returns the user linked to a fingerprint.
func (s *Store) LookupDeviceLink(ctx context.Context, fingerprint string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s == nil || s.sqlDB == nil {
		return "", fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(fingerprint) == "" {
		return "", fmt.Errorf("fingerprint is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT user_id FROM device_links WHERE fingerprint = ?`,
		fingerprint,
	)
	var userID string
	if err := row.Scan(&userID); err != nil {
		if err == sql.ErrNoRows {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("lookup device link: %w", err)
	}
	return userID, nil
}

// LinkDeviceIfAbsent links a fingerprint to a user unless already linked.
//
// INSERT OR IGNORE leaves an existing link untouched; the follow-up read
// then reports whichever user won, so concurrent first registrations from
// one device collapse onto a single identity.
func (s *Store) LinkDeviceIfAbsent(ctx context.Context, fingerprint string, userID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s == nil || s.sqlDB == nil {
		return "", fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(fingerprint) == "" {
		return "", fmt.Errorf("fingerprint is required")
	}
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("user id is required")
	}

	if _, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO device_links (fingerprint, user_id, created_at) VALUES (?, ?, ?)`,
		fingerprint,
		userID,
		toMillis(time.Now()),
	); err != nil {
		return "", fmt.Errorf("link device: %w", err)
	}

	return s.LookupDeviceLink(ctx, fingerprint)
}
