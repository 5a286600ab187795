package did

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	d, err := Parse("did:web:example.com:user:alice")
	require.NoError(t, err)
	assert.Equal(t, "web", d.Method)
	assert.Equal(t, "example.com:user:alice", d.ID)
	assert.Equal(t, "did:web:example.com:user:alice", d.String())

	for _, bad := range []string{"", "web:example.com", "did:", "did:web", "did::x", "did:web:"} {
		_, err := Parse(bad)
		assert.ErrorIs(t, err, ErrInvalidDID, bad)
	}
}

func TestDocument_DwnEndpoints(t *testing.T) {
	doc := &Document{
		ID: "did:example:alice",
		Service: []Service{
			{ID: "#hub", Type: "LinkedDomains", ServiceEndpoint: Endpoints{"https://alice.example"}},
			{ID: "#dwn", Type: ServiceTypeDWN, ServiceEndpoint: Endpoints{"https://a.example", "wss://b.example"}},
			{ID: "#dwn2", Type: ServiceTypeDWN, ServiceEndpoint: Endpoints{"https://a.example", "https://c.example"}},
		},
	}
	assert.Equal(t, []string{"https://a.example", "wss://b.example", "https://c.example"}, doc.DwnEndpoints())
}

func TestEndpoints_UnmarshalStringOrArray(t *testing.T) {
	var s Service
	require.NoError(t, jsonUnmarshal(`{"type":"DecentralizedWebNode","serviceEndpoint":"https://one"}`, &s))
	assert.Equal(t, Endpoints{"https://one"}, s.ServiceEndpoint)

	require.NoError(t, jsonUnmarshal(`{"type":"DecentralizedWebNode","serviceEndpoint":["https://one","https://two"]}`, &s))
	assert.Equal(t, Endpoints{"https://one", "https://two"}, s.ServiceEndpoint)

	assert.Error(t, jsonUnmarshal(`{"serviceEndpoint":{"nodes":[]}}`, &s))
}

func TestDwnEndpoints_NoEndpoints(t *testing.T) {
	r := NewStaticResolver(map[string][]string{"did:example:empty": nil}, nil)
	_, err := DwnEndpoints(context.Background(), r, "did:example:empty")
	assert.ErrorIs(t, err, ErrNoEndpoints)

	_, err = DwnEndpoints(context.Background(), KeyResolver{}, "did:key:z6MkfakeKey")
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestStaticResolver_Fallthrough(t *testing.T) {
	r := NewStaticResolver(map[string][]string{"did:example:alice": {"https://dwn.example"}}, KeyResolver{})

	eps, err := DwnEndpoints(context.Background(), r, "did:example:alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://dwn.example"}, eps)

	doc, err := r.Resolve(context.Background(), "did:key:z6Mkabc")
	require.NoError(t, err)
	assert.Equal(t, "did:key:z6Mkabc", doc.ID)

	_, err = NewStaticResolver(nil, nil).Resolve(context.Background(), "did:example:bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWebResolver_DocumentURL(t *testing.T) {
	r := &WebResolver{}
	tests := map[string]string{
		"did:web:example.com":          "https://example.com/.well-known/did.json",
		"did:web:example.com:user:bob": "https://example.com/user/bob/did.json",
		"did:web:localhost%3A8080":     "https://localhost:8080/.well-known/did.json",
	}
	for did, want := range tests {
		got, err := r.DocumentURL(did)
		require.NoError(t, err, did)
		assert.Equal(t, want, got, did)
	}

	_, err := r.DocumentURL("did:key:z6Mk")
	assert.ErrorIs(t, err, ErrMethodNotSupported)
}

func TestWebResolver_Resolve(t *testing.T) {
	var host string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/did.json":
			id := "did:web:" + strings.ReplaceAll(host, ":", "%3A")
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"` + id + `","service":[{"id":"#dwn","type":"DecentralizedWebNode","serviceEndpoint":["http://dwn.local"]}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	host = strings.TrimPrefix(srv.URL, "http://")

	r := &WebResolver{Client: srv.Client(), Scheme: "http"}
	did := "did:web:" + strings.ReplaceAll(host, ":", "%3A")

	eps, err := DwnEndpoints(context.Background(), r, did)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://dwn.local"}, eps)

	_, err = r.Resolve(context.Background(), did+":missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMethodResolver(t *testing.T) {
	r := MethodResolver{"key": KeyResolver{}}

	_, err := r.Resolve(context.Background(), "did:key:z6Mkabc")
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), "did:ion:abc")
	assert.ErrorIs(t, err, ErrMethodNotSupported)
}

func TestCachingResolver(t *testing.T) {
	var calls atomic.Int32
	fail := atomic.Bool{}
	inner := ResolverFunc(func(_ context.Context, did string) (*Document, error) {
		calls.Add(1)
		if fail.Load() {
			return nil, errors.New("boom")
		}
		return &Document{ID: did}, nil
	})

	c := NewCachingResolver(inner, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	ctx := context.Background()
	_, err := c.Resolve(ctx, "did:example:a")
	require.NoError(t, err)
	_, err = c.Resolve(ctx, "did:example:a")
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load(), "second call served from cache")

	now = now.Add(2 * time.Minute)
	fail.Store(true)
	_, err = c.Resolve(ctx, "did:example:a")
	require.Error(t, err)
	_, err = c.Resolve(ctx, "did:example:a")
	require.Error(t, err)
	assert.EqualValues(t, 3, calls.Load(), "failures are not cached")

	fail.Store(false)
	_, err = c.Resolve(ctx, "did:example:a")
	require.NoError(t, err)
	c.Invalidate("did:example:a")
	_, err = c.Resolve(ctx, "did:example:a")
	require.NoError(t, err)
	assert.EqualValues(t, 5, calls.Load())
}
