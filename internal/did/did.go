// Package did resolves Decentralized Identifiers to the DWN service
// endpoints the sync engine talks to.
//
// Resolution distinguishes two outcomes the engine treats differently:
// ErrNoEndpoints (the identity has nothing to sync with) and every other
// error (a transient failure worth retrying on the next pass).
package did

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ServiceTypeDWN is the service type that marks a DWN endpoint.
const ServiceTypeDWN = "DecentralizedWebNode"

var (
	// ErrNoEndpoints means the DID resolved but lists no DWN endpoints.
	ErrNoEndpoints = errors.New("did: no DWN service endpoints")

	// ErrNotFound means the DID document does not exist.
	ErrNotFound = errors.New("did: not found")

	// ErrMethodNotSupported means no resolver handles the DID method.
	ErrMethodNotSupported = errors.New("did: method not supported")

	// ErrInvalidDID means the string is not a DID.
	ErrInvalidDID = errors.New("did: invalid DID")
)

// DID is a parsed decentralized identifier.
type DID struct {
	Method string
	ID     string
}

// Parse parses a "did:<method>:<id>" string.
func Parse(s string) (DID, error) {
	rest, ok := strings.CutPrefix(s, "did:")
	if !ok {
		return DID{}, fmt.Errorf("%w: %q", ErrInvalidDID, s)
	}
	method, id, ok := strings.Cut(rest, ":")
	if !ok || method == "" || id == "" {
		return DID{}, fmt.Errorf("%w: %q", ErrInvalidDID, s)
	}
	return DID{Method: method, ID: id}, nil
}

// String returns the canonical "did:<method>:<id>" form.
func (d DID) String() string {
	return "did:" + d.Method + ":" + d.ID
}

// Document is the subset of a DID document the agent uses.
type Document struct {
	ID      string    `json:"id"`
	Service []Service `json:"service,omitempty"`
}

// Service is a DID document service entry.
type Service struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	ServiceEndpoint Endpoints `json:"serviceEndpoint"`
}

// Endpoints is a serviceEndpoint value, which may be encoded as a single
// string or an array of strings.
type Endpoints []string

func (e *Endpoints) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*e = Endpoints{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("serviceEndpoint: expected string or array of strings")
	}
	*e = many
	return nil
}

// DwnEndpoints returns the endpoints of every DWN service in the document,
// in document order, without duplicates.
func (d *Document) DwnEndpoints() []string {
	var out []string
	seen := make(map[string]bool)
	for _, svc := range d.Service {
		if svc.Type != ServiceTypeDWN {
			continue
		}
		for _, ep := range svc.ServiceEndpoint {
			if ep == "" || seen[ep] {
				continue
			}
			seen[ep] = true
			out = append(out, ep)
		}
	}
	return out
}

// Resolver maps a DID to its document.
type Resolver interface {
	Resolve(ctx context.Context, did string) (*Document, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, did string) (*Document, error)

func (f ResolverFunc) Resolve(ctx context.Context, did string) (*Document, error) {
	return f(ctx, did)
}

// DwnEndpoints resolves did and returns its DWN endpoints, or
// ErrNoEndpoints when the document lists none.
func DwnEndpoints(ctx context.Context, r Resolver, did string) ([]string, error) {
	doc, err := r.Resolve(ctx, did)
	if err != nil {
		return nil, err
	}
	endpoints := doc.DwnEndpoints()
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoEndpoints, did)
	}
	return endpoints, nil
}
