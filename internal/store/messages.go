package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/dwnsync/internal/dwn"
)

var (
	// ErrMessageExists is returned by CommitMessage for a CID already stored
	// for the tenant.
	ErrMessageExists = errors.New("store: message already exists")

	// ErrInvalidWatermark is returned for a watermark this store did not issue.
	ErrInvalidWatermark = errors.New("store: invalid watermark")
)

// RecordState is the latest message applied to a record.
type RecordState struct {
	CID     string
	Message *dwn.Message
	Deleted bool
}

// CommitMessage applies a message to the tenant's replica in one
// transaction: it stores the message, stores data when non-nil, moves the
// record's latest pointer to the message, and appends an event.
// Returns the watermark of the new event.
//
// Callers decide whether the message may be applied; CommitMessage only
// enforces CID uniqueness.
func (s *Store) CommitMessage(ctx context.Context, tenant, cid string, msg *dwn.Message, data []byte) (string, error) {
	body, err := marshalMessage(msg)
	if err != nil {
		return "", fmt.Errorf("commit message: %w", err)
	}
	d := msg.Descriptor

	var watermark string
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO messages
			(tenant, cid, interface, method, record_id, message_timestamp,
			 protocol, schema_uri, data_format, data_cid, data_size, body)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(tenant, cid) DO NOTHING
		`,
			tenant, cid, string(d.Interface), string(d.Method), d.RecordID, d.MessageTimestamp,
			d.Protocol, d.Schema, d.DataFormat, d.DataCID, d.DataSize, body,
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrMessageExists
		}

		if data != nil {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO data_blobs (tenant, data_cid, size, data) VALUES (?, ?, ?, ?)
				ON CONFLICT(tenant, data_cid) DO NOTHING
			`, tenant, d.DataCID, len(data), compressData(data))
			if err != nil {
				return fmt.Errorf("insert data: %w", err)
			}
		}

		deleted := d.Method == dwn.MethodDelete
		_, err = tx.ExecContext(ctx, `
			INSERT INTO records (tenant, record_id, latest_cid, deleted) VALUES (?, ?, ?, ?)
			ON CONFLICT(tenant, record_id) DO UPDATE SET
				latest_cid = excluded.latest_cid,
				deleted = excluded.deleted
		`, tenant, d.RecordID, cid, deleted)
		if err != nil {
			return fmt.Errorf("update record: %w", err)
		}

		res, err = tx.ExecContext(ctx, `
			INSERT INTO events (tenant, message_cid) VALUES (?, ?)
		`, tenant, cid)
		if err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		watermark = formatWatermark(seq)
		return nil
	})
	if err != nil {
		return "", err
	}
	return watermark, nil
}

// GetMessage returns a stored message without its data.
func (s *Store) GetMessage(ctx context.Context, tenant, cid string) (*dwn.Message, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM messages WHERE tenant = ? AND cid = ?
	`, tenant, cid).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: message %s", ErrNotFound, cid)
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return unmarshalMessage(body)
}

// LatestRecord returns the latest message applied to a record, which may
// be a delete.
func (s *Store) LatestRecord(ctx context.Context, tenant, recordID string) (*RecordState, error) {
	var (
		state RecordState
		body  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT r.latest_cid, r.deleted, m.body
		FROM records r
		JOIN messages m ON m.tenant = r.tenant AND m.cid = r.latest_cid
		WHERE r.tenant = ? AND r.record_id = ?
	`, tenant, recordID).Scan(&state.CID, &state.Deleted, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: record %s", ErrNotFound, recordID)
	}
	if err != nil {
		return nil, fmt.Errorf("latest record: %w", err)
	}
	state.Message, err = unmarshalMessage(body)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// HasData reports whether the tenant holds the payload for dataCID.
func (s *Store) HasData(ctx context.Context, tenant, dataCID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM data_blobs WHERE tenant = ? AND data_cid = ?
	`, tenant, dataCID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has data: %w", err)
	}
	return n > 0, nil
}

// Data returns the payload stored for dataCID.
func (s *Store) Data(ctx context.Context, tenant, dataCID string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM data_blobs WHERE tenant = ? AND data_cid = ?
	`, tenant, dataCID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: data %s", ErrNotFound, dataCID)
	}
	if err != nil {
		return nil, fmt.Errorf("get data: %w", err)
	}
	return decompressData(blob)
}

// QueryRecords returns the latest write of every live record matching the
// filter, oldest first. Only protocol, schema, dataFormat and recordId
// constrain the query.
func (s *Store) QueryRecords(ctx context.Context, tenant string, f *dwn.Filter) ([]*dwn.Message, error) {
	query := `
		SELECT m.body
		FROM records r
		JOIN messages m ON m.tenant = r.tenant AND m.cid = r.latest_cid
		WHERE r.tenant = ? AND r.deleted = 0`
	args := []any{tenant}
	if f != nil {
		for _, c := range []struct{ col, val string }{
			{"m.protocol", f.Protocol},
			{"m.schema_uri", f.Schema},
			{"m.data_format", f.DataFormat},
			{"m.record_id", f.RecordID},
		} {
			if c.val != "" {
				query += " AND " + c.col + " = ?"
				args = append(args, c.val)
			}
		}
	}
	query += " ORDER BY m.message_timestamp ASC, m.cid COLLATE BINARY ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	msgs := []*dwn.Message{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		msg, err := unmarshalMessage(body)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return msgs, nil
}

// Events returns the tenant's events strictly after the watermark, oldest
// first. A limit <= 0 means no limit. When cids is non-empty only events
// for those message CIDs are returned.
func (s *Store) Events(ctx context.Context, tenant, after string, limit int, cids []string) ([]dwn.EventEntry, error) {
	seq, err := parseWatermark(after)
	if err != nil {
		return nil, err
	}

	query := `SELECT seq, message_cid FROM events WHERE tenant = ? AND seq > ?`
	args := []any{tenant, seq}
	if len(cids) > 0 {
		query += " AND message_cid IN (?" + strings.Repeat(", ?", len(cids)-1) + ")"
		for _, c := range cids {
			args = append(args, c)
		}
	}
	query += " ORDER BY seq ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []dwn.EventEntry{}
	for rows.Next() {
		var (
			n   int64
			cid string
		)
		if err := rows.Scan(&n, &cid); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, dwn.EventEntry{MessageCID: cid, Watermark: formatWatermark(n)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Tenants returns the tenants with at least one stored message and the
// number of events each holds.
func (s *Store) Tenants(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tenant, COUNT(*) FROM events GROUP BY tenant`)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			tenant string
			n      int64
		)
		if err := rows.Scan(&tenant, &n); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out[tenant] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenants: %w", err)
	}
	return out, nil
}
