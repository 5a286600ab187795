package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dwnsync/internal/store"
)

// exerciseStore runs the behavior every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Clear(ctx))

	_, ok, err := s.Watermark(ctx, "did:example:alice", "https://a", "push")
	require.NoError(t, err)
	assert.False(t, ok, "absent watermark means from the beginning")

	require.NoError(t, s.SetWatermark(ctx, "did:example:alice", "https://a", "push", "10"))
	require.NoError(t, s.SetWatermark(ctx, "did:example:alice", "https://a", "pull", "4"))
	require.NoError(t, s.SetWatermark(ctx, "did:example:alice", "https://a", "push", "12"))

	wm, ok, err := s.Watermark(ctx, "did:example:alice", "https://a", "push")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "12", wm)

	wm, _, err = s.Watermark(ctx, "did:example:alice", "https://a", "pull")
	require.NoError(t, err)
	assert.Equal(t, "4", wm)

	require.NoError(t, s.RegisterIdentity(ctx, "did:example:alice"))
	require.NoError(t, s.RegisterIdentity(ctx, "did:example:bob"))
	require.NoError(t, s.RegisterIdentity(ctx, "did:example:alice"))

	dids, err := s.Identities(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"did:example:alice", "did:example:bob"}, dids)

	require.NoError(t, s.DeregisterIdentity(ctx, "did:example:bob"))
	dids, err = s.Identities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"did:example:alice"}, dids)

	require.NoError(t, s.Clear(ctx))
	dids, err = s.Identities(ctx)
	require.NoError(t, err)
	assert.Empty(t, dids)
	_, ok, err = s.Watermark(ctx, "did:example:alice", "https://a", "push")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteBackend(t *testing.T) {
	sqlite, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer sqlite.Close()

	s, closer, err := Open(context.Background(), Options{Backend: BackendSQLite}, sqlite)
	require.NoError(t, err)
	defer closer.Close()
	assert.Same(t, sqlite, s)

	exerciseStore(t, s)
}

func TestRedisBackend(t *testing.T) {
	url := os.Getenv("DWNSYNC_TEST_REDIS_URL")
	if url == "" {
		t.Skip("DWNSYNC_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	exerciseStore(t, NewRedis(client, "dwnsync-test-"+uuid.NewString()+":"))
}

func TestPostgresBackend(t *testing.T) {
	url := os.Getenv("DWNSYNC_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("DWNSYNC_TEST_POSTGRES_URL not set")
	}
	p, err := NewPostgresFromURL(context.Background(), url)
	require.NoError(t, err)
	defer p.Close()

	exerciseStore(t, p)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, _, err := Open(context.Background(), Options{Backend: "etcd"}, nil)
	assert.Error(t, err)
}
