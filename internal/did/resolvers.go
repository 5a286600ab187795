package did

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// StaticResolver serves documents built from configured endpoints.
// Unknown DIDs fall through to Next, or ErrNotFound when Next is nil.
type StaticResolver struct {
	mu        sync.RWMutex
	endpoints map[string][]string
	Next      Resolver
}

// NewStaticResolver creates a StaticResolver from a DID → endpoints map.
func NewStaticResolver(endpoints map[string][]string, next Resolver) *StaticResolver {
	r := &StaticResolver{endpoints: make(map[string][]string), Next: next}
	for did, eps := range endpoints {
		r.Set(did, eps)
	}
	return r
}

// Set replaces the endpoints configured for did.
func (r *StaticResolver) Set(did string, endpoints []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[did] = append([]string(nil), endpoints...)
}

func (r *StaticResolver) Resolve(ctx context.Context, did string) (*Document, error) {
	r.mu.RLock()
	eps, ok := r.endpoints[did]
	r.mu.RUnlock()

	if !ok {
		if r.Next != nil {
			return r.Next.Resolve(ctx, did)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, did)
	}

	doc := &Document{ID: did}
	if len(eps) > 0 {
		doc.Service = []Service{{ID: "#dwn", Type: ServiceTypeDWN, ServiceEndpoint: eps}}
	}
	return doc, nil
}

// KeyResolver resolves did:key identifiers. A did:key document carries no
// services, so DwnEndpoints always reports ErrNoEndpoints for it.
type KeyResolver struct{}

func (KeyResolver) Resolve(_ context.Context, did string) (*Document, error) {
	parsed, err := Parse(did)
	if err != nil {
		return nil, err
	}
	if parsed.Method != "key" {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotSupported, parsed.Method)
	}
	return &Document{ID: did}, nil
}

// WebResolver resolves did:web identifiers over HTTPS.
type WebResolver struct {
	Client *http.Client

	// Scheme overrides "https"; tests point it at httptest servers.
	Scheme string
}

// DocumentURL maps a did:web to the location of its document.
//
//	did:web:example.com           -> https://example.com/.well-known/did.json
//	did:web:example.com:user:bob  -> https://example.com/user/bob/did.json
//	did:web:localhost%3A8080      -> https://localhost:8080/.well-known/did.json
func (r *WebResolver) DocumentURL(did string) (string, error) {
	parsed, err := Parse(did)
	if err != nil {
		return "", err
	}
	if parsed.Method != "web" {
		return "", fmt.Errorf("%w: %s", ErrMethodNotSupported, parsed.Method)
	}

	segments := strings.Split(parsed.ID, ":")
	for i, seg := range segments {
		unescaped, err := url.PathUnescape(seg)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidDID, did)
		}
		segments[i] = unescaped
	}

	scheme := r.Scheme
	if scheme == "" {
		scheme = "https"
	}
	path := "/.well-known"
	if len(segments) > 1 {
		path = "/" + strings.Join(segments[1:], "/")
	}
	return scheme + "://" + segments[0] + path + "/did.json", nil
}

func (r *WebResolver) Resolve(ctx context.Context, did string) (*Document, error) {
	docURL, err := r.DocumentURL(did)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return nil, fmt.Errorf("did:web: build request: %w", err)
	}
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("did:web: fetch %s: %w", docURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, did)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("did:web: fetch %s: status %d", docURL, resp.StatusCode)
	}

	var doc Document
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("did:web: decode document: %w", err)
	}
	if doc.ID != did {
		return nil, fmt.Errorf("did:web: document id %q does not match %q", doc.ID, did)
	}
	return &doc, nil
}

// MethodResolver dispatches to a resolver per DID method.
type MethodResolver map[string]Resolver

func (m MethodResolver) Resolve(ctx context.Context, did string) (*Document, error) {
	parsed, err := Parse(did)
	if err != nil {
		return nil, err
	}
	r, ok := m[parsed.Method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotSupported, parsed.Method)
	}
	return r.Resolve(ctx, did)
}

// CachingResolver caches successful resolutions for a TTL.
// Failures are never cached so a transient error is retried on the next call.
type CachingResolver struct {
	next Resolver
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	doc     *Document
	expires time.Time
}

// NewCachingResolver wraps next with a TTL cache.
func NewCachingResolver(next Resolver, ttl time.Duration) *CachingResolver {
	return &CachingResolver{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *CachingResolver) Resolve(ctx context.Context, did string) (*Document, error) {
	now := c.now()

	c.mu.Lock()
	entry, ok := c.entries[did]
	c.mu.Unlock()
	if ok && now.Before(entry.expires) {
		return entry.doc, nil
	}

	doc, err := c.next.Resolve(ctx, did)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[did] = cacheEntry{doc: doc, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return doc, nil
}

// Invalidate drops a cached document.
func (c *CachingResolver) Invalidate(did string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, did)
}
