package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Watermark returns the stored watermark for a (did, endpoint, direction)
// tuple. ok is false when no watermark has been stored yet.
func (s *Store) Watermark(ctx context.Context, did, endpoint, direction string) (string, bool, error) {
	var wm string
	err := s.db.QueryRowContext(ctx, `
		SELECT watermark FROM watermarks
		WHERE did = ? AND endpoint = ? AND direction = ?
	`, did, endpoint, direction).Scan(&wm)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read watermark: %w", err)
	}
	return wm, true, nil
}

// SetWatermark stores the watermark for a tuple, replacing any prior value.
func (s *Store) SetWatermark(ctx context.Context, did, endpoint, direction, watermark string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watermarks (did, endpoint, direction, watermark, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(did, endpoint, direction) DO UPDATE SET
			watermark = excluded.watermark,
			updated_at = excluded.updated_at
	`, did, endpoint, direction, watermark, s.timestamp())
	if err != nil {
		return fmt.Errorf("write watermark: %w", err)
	}
	return nil
}

// RegisterIdentity adds did to the sync set. Registering twice is a no-op.
func (s *Store) RegisterIdentity(ctx context.Context, did string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (did, registered_at) VALUES (?, ?)
		ON CONFLICT(did) DO NOTHING
	`, did, s.timestamp())
	if err != nil {
		return fmt.Errorf("register identity: %w", err)
	}
	return nil
}

// DeregisterIdentity removes did from the sync set along with its
// configured endpoints. Watermarks are kept so a later re-registration
// resumes where it left off.
func (s *Store) DeregisterIdentity(ctx context.Context, did string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM identity_endpoints WHERE did = ?`, did); err != nil {
			return fmt.Errorf("deregister identity: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM identities WHERE did = ?`, did); err != nil {
			return fmt.Errorf("deregister identity: %w", err)
		}
		return nil
	})
}

// Identities returns the registered DIDs in registration order.
func (s *Store) Identities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT did FROM identities
		ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	dids := []string{}
	for rows.Next() {
		var did string
		if err := rows.Scan(&did); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		dids = append(dids, did)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return dids, nil
}

// SetEndpoints replaces the endpoints configured for did.
func (s *Store) SetEndpoints(ctx context.Context, did string, endpoints []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM identity_endpoints WHERE did = ?`, did); err != nil {
			return fmt.Errorf("set endpoints: %w", err)
		}
		for i, ep := range endpoints {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO identity_endpoints (did, endpoint, position) VALUES (?, ?, ?)
				ON CONFLICT(did, endpoint) DO NOTHING
			`, did, ep, i)
			if err != nil {
				return fmt.Errorf("set endpoints: %w", err)
			}
		}
		return nil
	})
}

// Endpoints returns every identity's configured endpoints, keyed by DID.
// Identities without configured endpoints are absent from the map.
func (s *Store) Endpoints(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT did, endpoint FROM identity_endpoints
		ORDER BY did COLLATE BINARY ASC, position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query endpoints: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var did, ep string
		if err := rows.Scan(&did, &ep); err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		out[did] = append(out[did], ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate endpoints: %w", err)
	}
	return out, nil
}

// WatermarkRow is one row of the watermark table.
type WatermarkRow struct {
	DID       string
	Endpoint  string
	Direction string
	Watermark string
	UpdatedAt string
}

// Watermarks lists all stored watermarks, ordered by tuple.
func (s *Store) Watermarks(ctx context.Context) ([]WatermarkRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT did, endpoint, direction, watermark, updated_at FROM watermarks
		ORDER BY did COLLATE BINARY ASC, endpoint COLLATE BINARY ASC, direction ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query watermarks: %w", err)
	}
	defer rows.Close()

	out := []WatermarkRow{}
	for rows.Next() {
		var r WatermarkRow
		if err := rows.Scan(&r.DID, &r.Endpoint, &r.Direction, &r.Watermark, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan watermark: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watermarks: %w", err)
	}
	return out, nil
}
