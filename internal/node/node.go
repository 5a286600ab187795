// Package node implements a DWN message processor over the SQLite store.
//
// The same Node serves as the agent's local replica and, behind
// internal/server, as a remote DWN. Application outcomes are reported in
// Reply.Status; a returned error means storage failed.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/dwnsync/internal/dwn"
	"github.com/roach88/dwnsync/internal/keys"
	"github.com/roach88/dwnsync/internal/store"
)

// Storage is the persistence a Node needs. Implemented by *store.Store.
type Storage interface {
	CommitMessage(ctx context.Context, tenant, cid string, msg *dwn.Message, data []byte) (string, error)
	GetMessage(ctx context.Context, tenant, cid string) (*dwn.Message, error)
	LatestRecord(ctx context.Context, tenant, recordID string) (*store.RecordState, error)
	HasData(ctx context.Context, tenant, dataCID string) (bool, error)
	Data(ctx context.Context, tenant, dataCID string) ([]byte, error)
	QueryRecords(ctx context.Context, tenant string, f *dwn.Filter) ([]*dwn.Message, error)
	Events(ctx context.Context, tenant, after string, limit int, cids []string) ([]dwn.EventEntry, error)
}

// DefaultQueryLimit bounds a Messages.Query that does not set a limit.
const DefaultQueryLimit = 1000

// Option configures a Node.
type Option func(*Node)

// WithMaxInlineDataSize sets the largest payload inlined in replies.
func WithMaxInlineDataSize(n int64) Option {
	return func(nd *Node) {
		nd.maxInline = n
	}
}

// WithLogger sets the logger used for storage failures.
func WithLogger(l *slog.Logger) Option {
	return func(nd *Node) {
		nd.logger = l
	}
}

// Node is a DWN message processor.
type Node struct {
	storage   Storage
	maxInline int64
	logger    *slog.Logger

	// mu serializes mutations so latest-record checks and commits are atomic
	// with respect to each other.
	mu sync.Mutex
}

var _ dwn.Processor = (*Node)(nil)

// New creates a Node over storage.
func New(storage Storage, opts ...Option) *Node {
	n := &Node{
		storage:   storage,
		maxInline: dwn.MaxInlineDataSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// ProcessMessage authorizes msg for tenant and applies it.
//
// data is the record payload for a Records.Write. When data is nil the
// message's EncodedData is used instead.
func (n *Node) ProcessMessage(ctx context.Context, tenant string, msg *dwn.Message, data []byte) (*dwn.Reply, error) {
	if msg == nil {
		return dwn.NewReply(dwn.StatusBadRequest, "missing message"), nil
	}

	author, err := keys.Verify(msg)
	if err != nil {
		return dwn.Errorf(dwn.StatusUnauth, "authorization: %v", err), nil
	}
	if author != tenant {
		return dwn.Errorf(dwn.StatusUnauth, "author %s may not access tenant %s", author, tenant), nil
	}

	var reply *dwn.Reply
	switch msg.Descriptor.Type() {
	case dwn.RecordsWrite:
		reply, err = n.recordsWrite(ctx, tenant, msg, data)
	case dwn.RecordsDelete:
		reply, err = n.recordsDelete(ctx, tenant, msg)
	case dwn.RecordsRead:
		reply, err = n.recordsRead(ctx, tenant, msg)
	case dwn.RecordsQuery:
		reply, err = n.recordsQuery(ctx, tenant, msg)
	case dwn.MessagesQuery:
		reply, err = n.messagesQuery(ctx, tenant, msg)
	case dwn.MessagesRead:
		reply, err = n.messagesRead(ctx, tenant, msg)
	default:
		return dwn.Errorf(dwn.StatusBadRequest, "unsupported message type %s", msg.Descriptor.Type()), nil
	}
	if err != nil {
		n.logger.Error("process message failed",
			"tenant", tenant,
			"type", msg.Descriptor.Type(),
			"error", err,
		)
		return nil, fmt.Errorf("process %s: %w", msg.Descriptor.Type(), err)
	}
	return reply, nil
}

// newer reports whether message a (with CID aCID) supersedes b.
// Timestamps order messages; the CID breaks ties.
func newer(a *dwn.Message, aCID string, b *dwn.Message, bCID string) bool {
	if a.Descriptor.MessageTimestamp != b.Descriptor.MessageTimestamp {
		return a.Descriptor.MessageTimestamp > b.Descriptor.MessageTimestamp
	}
	return aCID > bCID
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
