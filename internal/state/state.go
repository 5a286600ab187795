// Package state persists sync watermarks and the identity registry.
//
// The SQLite store in internal/store is the default backend; Redis and
// Postgres backends let several agents share sync state.
package state

import (
	"context"
	"fmt"
	"io"

	"github.com/roach88/dwnsync/internal/store"
)

// Store is durable key-value persistence of watermarks keyed by
// (did, endpoint, direction), plus the set of registered identities.
// Each write is an independent single-key update.
type Store interface {
	// Watermark returns the stored watermark; ok is false when absent.
	Watermark(ctx context.Context, did, endpoint, direction string) (wm string, ok bool, err error)
	SetWatermark(ctx context.Context, did, endpoint, direction, watermark string) error

	RegisterIdentity(ctx context.Context, did string) error
	DeregisterIdentity(ctx context.Context, did string) error
	Identities(ctx context.Context) ([]string, error)

	// Clear wipes all watermarks and registrations.
	Clear(ctx context.Context) error
}

var _ Store = (*store.Store)(nil)

// Backend names.
const (
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string
	RedisURL    string
	PostgresURL string
}

// Open returns the configured backend. The SQLite backend is the given
// store itself; the returned closer only releases connections Open made.
func Open(ctx context.Context, opts Options, sqlite *store.Store) (Store, io.Closer, error) {
	switch opts.Backend {
	case "", BackendSQLite:
		return sqlite, nopCloser{}, nil
	case BackendRedis:
		r, err := NewRedisFromURL(ctx, opts.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return r, r, nil
	case BackendPostgres:
		p, err := NewPostgresFromURL(ctx, opts.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	default:
		return nil, nil, fmt.Errorf("unknown state backend %q", opts.Backend)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
