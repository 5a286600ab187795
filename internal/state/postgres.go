package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	MaxConns        = 4
	MinConns        = 1
	MaxConnLifetime = 10 * time.Minute
	MaxConnIdleTime = 5 * time.Minute
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS dwnsync_watermarks (
    did        TEXT NOT NULL,
    endpoint   TEXT NOT NULL,
    direction  TEXT NOT NULL,
    watermark  TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (did, endpoint, direction)
);

CREATE TABLE IF NOT EXISTS dwnsync_identities (
    seq           BIGSERIAL,
    did           TEXT PRIMARY KEY,
    registered_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Postgres stores sync state in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps a pool and creates the tables if needed.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("create state tables: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgresFromURL creates a pool for url and pings it.
func NewPostgresFromURL(ctx context.Context, url string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres URL: %w", err)
	}
	config.MaxConns = MaxConns
	config.MinConns = MinConns
	config.MaxConnLifetime = MaxConnLifetime
	config.MaxConnIdleTime = MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p, err := NewPostgres(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) Watermark(ctx context.Context, did, endpoint, direction string) (string, bool, error) {
	var wm string
	err := p.pool.QueryRow(ctx, `
		SELECT watermark FROM dwnsync_watermarks
		WHERE did = $1 AND endpoint = $2 AND direction = $3
	`, did, endpoint, direction).Scan(&wm)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read watermark: %w", err)
	}
	return wm, true, nil
}

func (p *Postgres) SetWatermark(ctx context.Context, did, endpoint, direction, watermark string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO dwnsync_watermarks (did, endpoint, direction, watermark)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (did, endpoint, direction) DO UPDATE SET
			watermark = EXCLUDED.watermark,
			updated_at = now()
	`, did, endpoint, direction, watermark)
	if err != nil {
		return fmt.Errorf("write watermark: %w", err)
	}
	return nil
}

func (p *Postgres) RegisterIdentity(ctx context.Context, did string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO dwnsync_identities (did) VALUES ($1)
		ON CONFLICT (did) DO NOTHING
	`, did)
	if err != nil {
		return fmt.Errorf("register identity: %w", err)
	}
	return nil
}

func (p *Postgres) DeregisterIdentity(ctx context.Context, did string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM dwnsync_identities WHERE did = $1`, did); err != nil {
		return fmt.Errorf("deregister identity: %w", err)
	}
	return nil
}

func (p *Postgres) Identities(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT did FROM dwnsync_identities ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	dids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	return dids, nil
}

func (p *Postgres) Clear(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `TRUNCATE dwnsync_watermarks, dwnsync_identities`); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
