package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/dwnsync/internal/keys"
)

// PutKey stores the private key seed for did, replacing any prior key.
func (s *Store) PutKey(ctx context.Context, did string, seed []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO keys (did, seed, created_at) VALUES (?, ?, ?)
		ON CONFLICT(did) DO UPDATE SET seed = excluded.seed
	`, did, seed, s.timestamp())
	if err != nil {
		return fmt.Errorf("put key: %w", err)
	}
	return nil
}

// GetKey returns the seed stored for did, or an error wrapping
// keys.ErrKeyNotFound.
func (s *Store) GetKey(ctx context.Context, did string) ([]byte, error) {
	var seed []byte
	err := s.db.QueryRowContext(ctx, `SELECT seed FROM keys WHERE did = ?`, did).Scan(&seed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", keys.ErrKeyNotFound, did)
	}
	if err != nil {
		return nil, fmt.Errorf("get key: %w", err)
	}
	return seed, nil
}

// ListKeys returns the DIDs with stored keys, sorted.
func (s *Store) ListKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT did FROM keys ORDER BY did COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	dids := []string{}
	for rows.Next() {
		var did string
		if err := rows.Scan(&did); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		dids = append(dids, did)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return dids, nil
}
