package store

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dwnsync/internal/dwn"
)

const tenant = "did:example:alice"

func commit(t *testing.T, s *Store, msg *dwn.Message, data []byte) string {
	t.Helper()
	wm, err := s.CommitMessage(context.Background(), tenant, dwn.MustMessageCID(msg), msg, data)
	require.NoError(t, err)
	return wm
}

func TestCommitMessage_AppendsEvents(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	w1 := createTestWrite("rec-1", "2026-01-01T00:00:00.000000Z", []byte("one"))
	w2 := createTestWrite("rec-2", "2026-01-01T00:00:01.000000Z", []byte("two"))
	wm1 := commit(t, s, w1, []byte("one"))
	wm2 := commit(t, s, w2, []byte("two"))
	assert.NotEqual(t, wm1, wm2)

	events, err := s.Events(ctx, tenant, "", 0, nil)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, dwn.MustMessageCID(w1), events[0].MessageCID)
	assert.Equal(t, wm1, events[0].Watermark)
	assert.Equal(t, dwn.MustMessageCID(w2), events[1].MessageCID)

	after, err := s.Events(ctx, tenant, wm1, 0, nil)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, wm2, after[0].Watermark)

	limited, err := s.Events(ctx, tenant, "", 1, nil)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	others, err := s.Events(ctx, "did:example:bob", "", 0, nil)
	require.NoError(t, err)
	assert.Empty(t, others, "tenants are isolated")
}

func TestCommitMessage_DuplicateCID(t *testing.T) {
	s := createTestStore(t)
	w := createTestWrite("rec-1", "2026-01-01T00:00:00.000000Z", []byte("one"))
	commit(t, s, w, []byte("one"))

	_, err := s.CommitMessage(context.Background(), tenant, dwn.MustMessageCID(w), w, nil)
	assert.ErrorIs(t, err, ErrMessageExists)

	events, err := s.Events(context.Background(), tenant, "", 0, nil)
	require.NoError(t, err)
	assert.Len(t, events, 1, "rolled back commit appends no event")
}

func TestEvents_FilterByCID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	w1 := createTestWrite("rec-1", "2026-01-01T00:00:00.000000Z", []byte("one"))
	w2 := createTestWrite("rec-2", "2026-01-01T00:00:01.000000Z", []byte("two"))
	commit(t, s, w1, []byte("one"))
	commit(t, s, w2, []byte("two"))

	events, err := s.Events(ctx, tenant, "", 0, []string{dwn.MustMessageCID(w2), "unknown"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, dwn.MustMessageCID(w2), events[0].MessageCID)
}

func TestEvents_InvalidWatermark(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Events(context.Background(), tenant, "not-a-seq", 0, nil)
	assert.ErrorIs(t, err, ErrInvalidWatermark)
}

func TestLatestRecord_TracksDeletes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.LatestRecord(ctx, tenant, "rec-1")
	assert.ErrorIs(t, err, ErrNotFound)

	w := createTestWrite("rec-1", "2026-01-01T00:00:00.000000Z", []byte("one"))
	commit(t, s, w, []byte("one"))

	state, err := s.LatestRecord(ctx, tenant, "rec-1")
	require.NoError(t, err)
	assert.False(t, state.Deleted)
	assert.Equal(t, dwn.MustMessageCID(w), state.CID)
	assert.Equal(t, w.Descriptor, state.Message.Descriptor)

	d := createTestDelete("rec-1", "2026-01-01T00:00:05.000000Z")
	commit(t, s, d, nil)

	state, err = s.LatestRecord(ctx, tenant, "rec-1")
	require.NoError(t, err)
	assert.True(t, state.Deleted)

	live, err := s.QueryRecords(ctx, tenant, nil)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestData_CompressedRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("dwn"), 30_000)
	w := createTestWrite("rec-big", "2026-01-01T00:00:00.000000Z", payload)
	commit(t, s, w, payload)

	ok, err := s.HasData(ctx, tenant, w.Descriptor.DataCID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Data(ctx, tenant, w.Descriptor.DataCID)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	var stored int
	require.NoError(t, s.db.QueryRow(`SELECT length(data) FROM data_blobs`).Scan(&stored))
	assert.Less(t, stored, len(payload), "payload is compressed at rest")

	_, err = s.Data(ctx, tenant, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetMessage_StripsInlineData(t *testing.T) {
	s := createTestStore(t)
	w := createTestWrite("rec-1", "2026-01-01T00:00:00.000000Z", []byte("one"))
	w.EncodedData = []byte("one")
	commit(t, s, w, []byte("one"))

	got, err := s.GetMessage(context.Background(), tenant, dwn.MustMessageCID(w))
	require.NoError(t, err)
	assert.Nil(t, got.EncodedData)
	assert.Equal(t, dwn.MustMessageCID(w), dwn.MustMessageCID(got))
}

func TestQueryRecords_Filters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a := createTestWrite("rec-a", "2026-01-01T00:00:00.000000Z", []byte("a"))
	b := createTestWrite("rec-b", "2026-01-01T00:00:01.000000Z", []byte("b"))
	b.Descriptor.Schema = "https://schema.example/photo"
	commit(t, s, a, []byte("a"))
	commit(t, s, b, []byte("b"))

	all, err := s.QueryRecords(ctx, tenant, &dwn.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	photos, err := s.QueryRecords(ctx, tenant, &dwn.Filter{Schema: "https://schema.example/photo"})
	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Equal(t, "rec-b", photos[0].Descriptor.RecordID)

	counts, err := s.Tenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{tenant: 2}, counts)
}
