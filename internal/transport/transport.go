// Package transport delivers DWN messages to remote nodes.
//
// Transports are selected by the endpoint URL's scheme through a Registry:
// http/https use a request-response client, ws/wss a persistent socket.
// Transports never retry.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/dwnsync/internal/dwn"
)

// ErrTransportNotAvailable is returned when no registered transport
// supports an endpoint's URL scheme.
var ErrTransportNotAvailable = errors.New("transport: not available for scheme")

// Request is a message addressed to a tenant on a remote node.
type Request struct {
	Target  string
	Message *dwn.Message
	Data    []byte
}

// Transport sends requests to endpoints of the schemes it supports.
type Transport interface {
	Schemes() []string
	SendDwnRequest(ctx context.Context, endpoint string, req *Request) (*dwn.Reply, error)
}

// TransportError is a network-layer failure talking to an endpoint:
// a connection error, a timeout, or a non-2xx response without a
// parseable body. StatusCode is zero when no response was received.
type TransportError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport %s: status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Registry dispatches requests to transports by URL scheme.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]Transport
}

// NewRegistry creates a registry with the given transports registered.
func NewRegistry(transports ...Transport) *Registry {
	r := &Registry{transports: make(map[string]Transport)}
	for _, t := range transports {
		r.Register(t)
	}
	return r
}

// Register makes t handle each of its schemes, replacing earlier entries.
func (r *Registry) Register(t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, scheme := range t.Schemes() {
		r.transports[strings.ToLower(scheme)] = t
	}
}

// Protocols returns the supported schemes, sorted.
func (r *Registry) Protocols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.transports))
	for scheme := range r.transports {
		out = append(out, scheme)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the transport for endpoint's scheme.
func (r *Registry) Lookup(endpoint string) (Transport, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("transport: parse endpoint %q: %w", endpoint, err)
	}
	scheme := strings.ToLower(u.Scheme)

	r.mu.RLock()
	t, ok := r.transports[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTransportNotAvailable, scheme)
	}
	return t, nil
}

// SendDwnRequest sends req through the transport matching endpoint.
func (r *Registry) SendDwnRequest(ctx context.Context, endpoint string, req *Request) (*dwn.Reply, error) {
	t, err := r.Lookup(endpoint)
	if err != nil {
		return nil, err
	}
	return t.SendDwnRequest(ctx, endpoint, req)
}

// Close closes every registered transport that holds connections.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[Transport]bool)
	var errs []error
	for _, t := range r.transports {
		if seen[t] {
			continue
		}
		seen[t] = true
		if c, ok := t.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
