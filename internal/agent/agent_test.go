package agent

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dwnsync/internal/dwn"
	"github.com/roach88/dwnsync/internal/keys"
	"github.com/roach88/dwnsync/internal/node"
	"github.com/roach88/dwnsync/internal/store"
	"github.com/roach88/dwnsync/internal/transport"
)

type recordingSender struct {
	endpoint string
	req      *transport.Request
}

func (r *recordingSender) SendDwnRequest(_ context.Context, endpoint string, req *transport.Request) (*dwn.Reply, error) {
	r.endpoint = endpoint
	r.req = req
	return dwn.NewReply(dwn.StatusAccepted, ""), nil
}

func newTestAgent(t *testing.T) (*Agent, *recordingSender) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	sender := &recordingSender{}
	return New(keys.NewSQLStore(s), node.New(s), sender), sender
}

func TestProcessDwnRequest_WriteAndQuery(t *testing.T) {
	a, _ := newTestAgent(t)
	ctx := context.Background()

	alice, err := a.CreateIdentity(ctx)
	require.NoError(t, err)

	resp, err := a.ProcessDwnRequest(ctx, &dwn.Request{
		Author:      alice.DID,
		Target:      alice.DID,
		MessageType: dwn.RecordsWrite,
		Options:     &dwn.Descriptor{Schema: "https://schema.example/note", DataFormat: "text/plain"},
		Data:        []byte("hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, dwn.StatusAccepted, resp.Reply.Status.Code)
	assert.NotEmpty(t, resp.Message.Descriptor.RecordID)
	assert.Equal(t, dwn.DataCID([]byte("hello")), resp.Message.Descriptor.DataCID)

	author, err := keys.Verify(resp.Message)
	require.NoError(t, err)
	assert.Equal(t, alice.DID, author)

	resp, err = a.ProcessDwnRequest(ctx, &dwn.Request{
		Target:      alice.DID,
		MessageType: dwn.RecordsQuery,
		Options:     &dwn.Descriptor{Filter: &dwn.Filter{Schema: "https://schema.example/note"}},
	})
	require.NoError(t, err)
	require.Equal(t, dwn.StatusOK, resp.Reply.Status.Code)
	require.Len(t, resp.Reply.Entries, 1)
	assert.Equal(t, []byte("hello"), resp.Reply.Entries[0].EncodedData)
}

func TestProcessDwnRequest_PrebuiltMessagePassesThrough(t *testing.T) {
	a, _ := newTestAgent(t)
	ctx := context.Background()
	alice, err := a.CreateIdentity(ctx)
	require.NoError(t, err)

	msg := &dwn.Message{Descriptor: dwn.Descriptor{
		Interface: dwn.InterfaceMessages, Method: dwn.MethodQuery, MessageTimestamp: "2026-01-01T00:00:00.000000Z",
	}}
	require.NoError(t, alice.Sign(msg))

	resp, err := a.ProcessDwnRequest(ctx, &dwn.Request{Target: alice.DID, MessageType: dwn.MessagesQuery, Message: msg})
	require.NoError(t, err)
	assert.Same(t, msg, resp.Message)
	assert.Equal(t, dwn.StatusOK, resp.Reply.Status.Code)
}

func TestSendDwnRequest_SignsAndForwards(t *testing.T) {
	a, sender := newTestAgent(t)
	ctx := context.Background()
	alice, err := a.CreateIdentity(ctx)
	require.NoError(t, err)

	_, err = a.SendDwnRequest(ctx, "https://dwn.example", &dwn.Request{
		Target:      alice.DID,
		MessageType: dwn.MessagesQuery,
		Options:     &dwn.Descriptor{Cursor: "5", Limit: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://dwn.example", sender.endpoint)
	assert.Equal(t, alice.DID, sender.req.Target)
	assert.Equal(t, dwn.InterfaceMessages, sender.req.Message.Descriptor.Interface)
	assert.Equal(t, "5", sender.req.Message.Descriptor.Cursor)
	assert.NotEmpty(t, sender.req.Message.Authorization)
}

func TestPrepare_Errors(t *testing.T) {
	a, _ := newTestAgent(t)
	ctx := context.Background()

	_, err := a.ProcessDwnRequest(ctx, &dwn.Request{Target: "did:key:z6Mkx", MessageType: dwn.RecordsQuery})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = a.ProcessDwnRequest(ctx, &dwn.Request{Target: "did:key:z6Mkx", MessageType: "Bogus", Options: &dwn.Descriptor{}})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = a.ProcessDwnRequest(ctx, &dwn.Request{Target: "did:key:z6Mkx", MessageType: dwn.RecordsQuery, Options: &dwn.Descriptor{}})
	assert.ErrorIs(t, err, keys.ErrKeyNotFound)
}
