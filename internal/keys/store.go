package keys

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sort"
	"sync"
)

// Store holds private keys for the identities an agent acts as.
type Store interface {
	Put(ctx context.Context, id *Identity) error
	Get(ctx context.Context, did string) (*Identity, error)
	List(ctx context.Context) ([]string, error)
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PrivateKey
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]ed25519.PrivateKey)}
}

func (s *MemoryStore) Put(_ context.Context, id *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[id.DID] = id.PrivateKey
	return nil
}

func (s *MemoryStore) Get(_ context.Context, did string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	priv, ok := s.keys[did]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, did)
	}
	return &Identity{DID: did, PrivateKey: priv}, nil
}

func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dids := make([]string, 0, len(s.keys))
	for did := range s.keys {
		dids = append(dids, did)
	}
	sort.Strings(dids)
	return dids, nil
}

// KeyTable is the raw persistence a SQLStore needs.
// Implemented by store.Store; GetKey wraps ErrKeyNotFound for absent keys.
type KeyTable interface {
	PutKey(ctx context.Context, did string, privateKey []byte) error
	GetKey(ctx context.Context, did string) ([]byte, error)
	ListKeys(ctx context.Context) ([]string, error)
}

// SQLStore persists keys through a KeyTable.
type SQLStore struct {
	table KeyTable
}

// NewSQLStore wraps a KeyTable.
func NewSQLStore(table KeyTable) *SQLStore {
	return &SQLStore{table: table}
}

func (s *SQLStore) Put(ctx context.Context, id *Identity) error {
	return s.table.PutKey(ctx, id.DID, id.PrivateKey.Seed())
}

func (s *SQLStore) Get(ctx context.Context, did string) (*Identity, error) {
	seed, err := s.table.GetKey(ctx, did)
	if err != nil {
		return nil, err
	}
	return FromSeed(seed)
}

func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	return s.table.ListKeys(ctx)
}
