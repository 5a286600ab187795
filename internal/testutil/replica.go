package testutil

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/dwnsync/internal/dwn"
	"github.com/roach88/dwnsync/internal/keys"
	"github.com/roach88/dwnsync/internal/node"
	"github.com/roach88/dwnsync/internal/server"
	"github.com/roach88/dwnsync/internal/store"
)

// FixedIdentity returns the identity derived from a seed of n repeated
// bytes. The same n always yields the same DID.
func FixedIdentity(t *testing.T, n byte) *keys.Identity {
	t.Helper()
	id, err := keys.FromSeed(bytes.Repeat([]byte{n}, 32))
	require.NoError(t, err)
	return id
}

// Replica is a DWN node backed by a temp-dir SQLite store and served over
// HTTP by an httptest server.
type Replica struct {
	Store  *store.Store
	Node   *node.Node
	Server *httptest.Server
}

// NewReplica starts a served replica; it is shut down when the test ends.
func NewReplica(t *testing.T, opts ...node.Option) *Replica {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "replica.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	n := node.New(s, opts...)
	srv := httptest.NewServer(server.New(n, nil).Handler())
	t.Cleanup(srv.Close)

	return &Replica{Store: s, Node: n, Server: srv}
}

// URL is the replica's http endpoint.
func (r *Replica) URL() string {
	return r.Server.URL
}

// WSURL is the replica's websocket endpoint.
func (r *Replica) WSURL() string {
	return "ws" + strings.TrimPrefix(r.Server.URL, "http")
}

// Write signs and applies a Records.Write for id directly on the node.
func (r *Replica) Write(t *testing.T, id *keys.Identity, recordID, timestamp string, data []byte) *dwn.Message {
	t.Helper()
	msg := &dwn.Message{Descriptor: dwn.Descriptor{
		Interface:        dwn.InterfaceRecords,
		Method:           dwn.MethodWrite,
		MessageTimestamp: timestamp,
		RecordID:         recordID,
		DataFormat:       "application/octet-stream",
		DataCID:          dwn.DataCID(data),
		DataSize:         int64(len(data)),
	}}
	require.NoError(t, id.Sign(msg))

	reply, err := r.Node.ProcessMessage(context.Background(), id.DID, msg, data)
	require.NoError(t, err)
	require.Equal(t, dwn.StatusAccepted, reply.Status.Code, reply.Status.Detail)
	return msg
}

// MessageCIDs returns the tenant's event log as message CIDs, oldest first.
func (r *Replica) MessageCIDs(t *testing.T, tenant string) []string {
	t.Helper()
	events, err := r.Store.Events(context.Background(), tenant, "", 0, nil)
	require.NoError(t, err)
	cids := make([]string, len(events))
	for i, ev := range events {
		cids[i] = ev.MessageCID
	}
	return cids
}

// Records returns the tenant's live records keyed by record id, with data.
func (r *Replica) Records(t *testing.T, tenant string) map[string][]byte {
	t.Helper()
	ctx := context.Background()
	msgs, err := r.Store.QueryRecords(ctx, tenant, nil)
	require.NoError(t, err)

	out := make(map[string][]byte, len(msgs))
	for _, m := range msgs {
		data, err := r.Store.Data(ctx, tenant, m.Descriptor.DataCID)
		require.NoError(t, err)
		out[m.Descriptor.RecordID] = data
	}
	return out
}
