package syncengine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/dwnsync/internal/agent"
	"github.com/roach88/dwnsync/internal/did"
	"github.com/roach88/dwnsync/internal/dwn"
	"github.com/roach88/dwnsync/internal/keys"
	"github.com/roach88/dwnsync/internal/testutil"
	"github.com/roach88/dwnsync/internal/transport"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// fixture is a local replica with an agent and an engine syncing it
// against remote replicas named in the static resolver.
type fixture struct {
	local    *testutil.Replica
	agent    *agent.Agent
	resolver *did.StaticResolver
	engine   *Engine
	clock    *testutil.DeterministicClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	local := testutil.NewReplica(t)
	clock := testutil.NewDeterministicClock(time.Millisecond)

	registry := transport.NewRegistry(
		transport.NewHTTP(5*time.Second),
		transport.NewWebSocket(5*time.Second),
	)
	t.Cleanup(func() { registry.Close() })

	a := agent.New(keys.NewSQLStore(local.Store), local.Node, registry, agent.WithClock(clock.Now))
	resolver := did.NewStaticResolver(nil, nil)

	opts = append([]Option{WithLogger(quiet)}, opts...)
	return &fixture{
		local:    local,
		agent:    a,
		resolver: resolver,
		engine:   New(local.Store, resolver, a, opts...),
		clock:    clock,
	}
}

// identity stores a fixed identity's key and registers it for sync
// against endpoints.
func (f *fixture) identity(t *testing.T, n byte, endpoints ...string) *keys.Identity {
	t.Helper()
	id := testutil.FixedIdentity(t, n)
	require.NoError(t, f.agent.Keys().Put(context.Background(), id))
	require.NoError(t, f.engine.RegisterIdentity(context.Background(), id.DID))
	f.resolver.Set(id.DID, endpoints)
	return id
}

func (f *fixture) ts() string {
	return dwn.Timestamp(f.clock.Now())
}

func (f *fixture) sync(t *testing.T, dir Direction) *Report {
	t.Helper()
	report, err := f.engine.Sync(context.Background(), dir)
	require.NoError(t, err)
	require.NotNil(t, report)
	return report
}

// countingAgent counts calls and can refuse the application of one message.
type countingAgent struct {
	Agent
	local     atomic.Int64
	remote    atomic.Int64
	rejectCID string
}

func (c *countingAgent) ProcessDwnRequest(ctx context.Context, req *dwn.Request) (*dwn.Response, error) {
	c.local.Add(1)
	if r := c.refuse(req); r != nil {
		return r, nil
	}
	return c.Agent.ProcessDwnRequest(ctx, req)
}

func (c *countingAgent) SendDwnRequest(ctx context.Context, endpoint string, req *dwn.Request) (*dwn.Response, error) {
	c.remote.Add(1)
	if r := c.refuse(req); r != nil {
		return r, nil
	}
	return c.Agent.SendDwnRequest(ctx, endpoint, req)
}

func (c *countingAgent) refuse(req *dwn.Request) *dwn.Response {
	if c.rejectCID == "" || req.Message == nil {
		return nil
	}
	if dwn.MustMessageCID(req.Message) != c.rejectCID {
		return nil
	}
	return &dwn.Response{Message: req.Message, Reply: dwn.NewReply(dwn.StatusBadRequest, "refused")}
}

// droppingAgent fails the n-th Records.Write sent to a remote endpoint
// as if the connection dropped.
type droppingAgent struct {
	Agent
	n      int64
	writes atomic.Int64
}

func (d *droppingAgent) SendDwnRequest(ctx context.Context, endpoint string, req *dwn.Request) (*dwn.Response, error) {
	if req.Message != nil && req.MessageType == dwn.RecordsWrite && d.writes.Add(1) == d.n {
		return nil, &transport.TransportError{Endpoint: endpoint, Err: errors.New("connection reset by peer")}
	}
	return d.Agent.SendDwnRequest(ctx, endpoint, req)
}
