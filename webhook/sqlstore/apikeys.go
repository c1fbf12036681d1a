package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-relay/webhook"
)

const apiKeyColumns = `id, key_name, key_hash, permissions, is_active, created_at, last_used_at, expires_at`

func scanAPIKey(row scanner) (webhook.APIKey, error) {
	var (
		k         webhook.APIKey
		permsJSON string
		lastUsed  sql.NullTime
		expiresAt sql.NullTime
	)
	if err := row.Scan(&k.ID, &k.Name, &k.KeyHash, &permsJSON, &k.IsActive, &k.CreatedAt, &lastUsed, &expiresAt); err != nil {
		return webhook.APIKey{}, err
	}
	if err := decodeJSON(permsJSON, &k.Permissions); err != nil {
		return webhook.APIKey{}, fmt.Errorf("decoding permissions of key %s: %w", k.ID, err)
	}
	k.CreatedAt = k.CreatedAt.UTC()
	k.LastUsedAt = timePtr(lastUsed)
	k.ExpiresAt = timePtr(expiresAt)
	return k, nil
}

func (s *Store) InsertAPIKey(ctx context.Context, key webhook.APIKey) (webhook.APIKey, error) {
	if key.Permissions == nil {
		key.Permissions = []string{}
	}
	permsJSON, err := encodeJSON(key.Permissions)
	if err != nil {
		return webhook.APIKey{}, fmt.Errorf("encoding permissions: %w", err)
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = s.clock()
	}
	key.CreatedAt = key.CreatedAt.UTC()

	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO api_keys (id, key_name, key_hash, permissions, is_active, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, permsJSON, key.IsActive, key.CreatedAt, nullTime(key.ExpiresAt))
	if err != nil {
		return webhook.APIKey{}, fmt.Errorf("inserting api key: %w", err)
	}
	return key, nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (webhook.APIKey, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, hash)
	k, err := scanAPIKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return webhook.APIKey{}, webhook.ErrNotFound
	}
	if err != nil {
		return webhook.APIKey{}, fmt.Errorf("getting api key: %w", err)
	}
	return k, nil
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]webhook.APIKey, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	keys := []webhook.APIKey{}
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// TouchAPIKey records the last successful authentication.
func (s *Store) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touching api key: %w", err)
	}
	return requireOneRow(res)
}
