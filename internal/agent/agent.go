// Package agent maps typed DWN requests onto signed messages and routes
// them to the local node or to a remote endpoint.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/dwnsync/internal/dwn"
	"github.com/roach88/dwnsync/internal/keys"
	"github.com/roach88/dwnsync/internal/transport"
)

// ErrInvalidRequest is returned for a request that sets neither a message
// nor options, or names an unknown message type.
var ErrInvalidRequest = errors.New("agent: invalid request")

// Sender delivers a request to a remote endpoint. Implemented by
// *transport.Registry.
type Sender interface {
	SendDwnRequest(ctx context.Context, endpoint string, req *transport.Request) (*dwn.Reply, error)
}

// Agent holds the collaborators needed to act as managed identities.
type Agent struct {
	keys   keys.Store
	local  dwn.Processor
	remote Sender
	now    func() time.Time
}

// Option configures an Agent.
type Option func(*Agent)

// WithClock sets the time source for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		a.now = now
	}
}

// New creates an Agent.
func New(keyStore keys.Store, local dwn.Processor, remote Sender, opts ...Option) *Agent {
	a := &Agent{keys: keyStore, local: local, remote: remote, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Keys returns the agent's key store.
func (a *Agent) Keys() keys.Store {
	return a.keys
}

// CreateIdentity generates a new did:key identity and stores its key.
func (a *Agent) CreateIdentity(ctx context.Context) (*keys.Identity, error) {
	id, err := keys.Generate()
	if err != nil {
		return nil, err
	}
	if err := a.keys.Put(ctx, id); err != nil {
		return nil, fmt.Errorf("store key: %w", err)
	}
	return id, nil
}

// ProcessDwnRequest builds the request's message if needed and processes
// it against the local node.
func (a *Agent) ProcessDwnRequest(ctx context.Context, req *dwn.Request) (*dwn.Response, error) {
	msg, err := a.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	reply, err := a.local.ProcessMessage(ctx, req.Target, msg, req.Data)
	if err != nil {
		return nil, err
	}
	return &dwn.Response{Message: msg, Reply: reply}, nil
}

// SendDwnRequest builds the request's message if needed and sends it to
// the remote endpoint.
func (a *Agent) SendDwnRequest(ctx context.Context, endpoint string, req *dwn.Request) (*dwn.Response, error) {
	msg, err := a.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	reply, err := a.remote.SendDwnRequest(ctx, endpoint, &transport.Request{
		Target:  req.Target,
		Message: msg,
		Data:    req.Data,
	})
	if err != nil {
		return nil, err
	}
	return &dwn.Response{Message: msg, Reply: reply}, nil
}

// prepare returns the message to process: the request's own message, or
// one built from its options and signed as the author.
func (a *Agent) prepare(ctx context.Context, req *dwn.Request) (*dwn.Message, error) {
	if req.Message != nil {
		return req.Message, nil
	}
	if req.Options == nil {
		return nil, fmt.Errorf("%w: message or options required", ErrInvalidRequest)
	}

	iface, method, err := req.MessageType.Split()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	d := *req.Options
	d.Interface = iface
	d.Method = method
	if d.MessageTimestamp == "" {
		d.MessageTimestamp = dwn.Timestamp(a.now())
	}
	if req.MessageType == dwn.RecordsWrite {
		if d.RecordID == "" {
			d.RecordID = uuid.Must(uuid.NewV7()).String()
		}
		if req.Data != nil {
			d.DataCID = dwn.DataCID(req.Data)
			d.DataSize = int64(len(req.Data))
		}
	}

	author := req.Author
	if author == "" {
		author = req.Target
	}
	id, err := a.keys.Get(ctx, author)
	if err != nil {
		return nil, fmt.Errorf("signing key for %s: %w", author, err)
	}

	msg := &dwn.Message{Descriptor: d}
	if err := id.Sign(msg); err != nil {
		return nil, err
	}
	return msg, nil
}
