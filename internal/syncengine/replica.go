package syncengine

import (
	"context"
	"errors"

	"github.com/roach88/dwnsync/internal/dwn"
	"github.com/roach88/dwnsync/internal/transport"
)

// Agent is the request mapping the engine drives. Implemented by
// *agent.Agent.
type Agent interface {
	ProcessDwnRequest(ctx context.Context, req *dwn.Request) (*dwn.Response, error)
	SendDwnRequest(ctx context.Context, endpoint string, req *dwn.Request) (*dwn.Response, error)
}

// replica is one side of a tuple: the local node or a remote endpoint.
type replica interface {
	process(ctx context.Context, req *dwn.Request) (*dwn.Reply, error)
}

type localReplica struct {
	agent Agent
}

func (l localReplica) process(ctx context.Context, req *dwn.Request) (*dwn.Reply, error) {
	resp, err := l.agent.ProcessDwnRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Reply, nil
}

type remoteReplica struct {
	agent    Agent
	endpoint string
}

func (r remoteReplica) process(ctx context.Context, req *dwn.Request) (*dwn.Reply, error) {
	resp, err := r.agent.SendDwnRequest(ctx, r.endpoint, req)
	if err != nil {
		return nil, err
	}
	return resp.Reply, nil
}

// classify picks the code for an error returned by a replica. Anything
// that is not a network failure happened on this side: signing, or the
// local node's storage.
func classify(err error) ErrorCode {
	var te *transport.TransportError
	if errors.As(err, &te) || errors.Is(err, transport.ErrTransportNotAvailable) {
		return ErrCodeTransportFailed
	}
	return ErrCodeLocalFailed
}
