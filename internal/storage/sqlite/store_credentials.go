package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/keyless.space/internal/storage"
)

const credentialColumns = `credential_id, user_id, public_key, sign_count, transports, aaguid, device_type, backed_up, created_at, last_used_at`

// PutCredential inserts a credential unless its id already exists.
//
// INSERT OR IGNORE makes replayed registration verifies a no-op without a
// prior read, keeping the insert atomic under concurrent submissions.
func (s *Store) PutCredential(ctx context.Context, credential storage.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credential.CredentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credential.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if len(credential.PublicKey) == 0 {
		return fmt.Errorf("public key is required")
	}

	lastUsed := sql.NullInt64{}
	if credential.LastUsedAt != nil {
		lastUsed = sql.NullInt64{Int64: toMillis(*credential.LastUsedAt), Valid: true}
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO credentials (`+credentialColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		credential.CredentialID,
		credential.UserID,
		credential.PublicKey,
		int64(credential.SignCount),
		strings.Join(credential.Transports, ","),
		credential.AAGUID,
		string(credential.DeviceType),
		boolToInt(credential.BackedUp),
		toMillis(credential.CreatedAt),
		lastUsed,
	)
	if err != nil {
		return fmt.Errorf("put credential: %w", err)
	}
	return nil
}

// GetCredential fetches a stored credential by id.
func (s *Store) GetCredential(ctx context.Context, credentialID string) (storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return storage.Credential{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Credential{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return storage.Credential{}, fmt.Errorf("credential id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE credential_id = ?`,
		credentialID,
	)
	credential, err := scanCredential(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return storage.Credential{}, storage.ErrNotFound
		}
		return storage.Credential{}, fmt.Errorf("get credential: %w", err)
	}
	return credential, nil
}

// ListCredentialsByUser returns a user's credentials in insertion order.
func (s *Store) ListCredentialsByUser(ctx context.Context, userID string) ([]storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE user_id = ? ORDER BY rowid`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	credentials := make([]storage.Credential, 0)
	for rows.Next() {
		credential, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return credentials, nil
}

// RecordCredentialUse persists the validated sign count and use timestamp.
func (s *Store) RecordCredentialUse(ctx context.Context, credentialID string, newSignCount uint32, usedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE credentials SET sign_count = ?, last_used_at = ? WHERE credential_id = ?`,
		int64(newSignCount),
		toMillis(usedAt),
		credentialID,
	)
	if err != nil {
		return fmt.Errorf("record credential use: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record credential use: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (storage.Credential, error) {
	var credential storage.Credential
	var signCount int64
	var transports string
	var deviceType string
	var backedUp int64
	var createdAt int64
	var lastUsed sql.NullInt64

	if err := row.Scan(
		&credential.CredentialID,
		&credential.UserID,
		&credential.PublicKey,
		&signCount,
		&transports,
		&credential.AAGUID,
		&deviceType,
		&backedUp,
		&createdAt,
		&lastUsed,
	); err != nil {
		return storage.Credential{}, err
	}

	credential.SignCount = uint32(signCount)
	if transports != "" {
		credential.Transports = strings.Split(transports, ",")
	}
	credential.DeviceType = storage.DeviceType(deviceType)
	credential.BackedUp = backedUp != 0
	credential.CreatedAt = fromMillis(createdAt)
	if lastUsed.Valid {
		value := fromMillis(lastUsed.Int64)
		credential.LastUsedAt = &value
	}
	return credential, nil
}

func boolToInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}
