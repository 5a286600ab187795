// Package keys provides Ed25519 identities addressed as did:key, message
// signing and verification, and key custody.
//
// The did:key form is did:key:z<base58btc(0xed 0x01 || public key)>, so the
// verification key of an author can be recovered from the DID alone.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

const didKeyPrefix = "did:key:z"

// multicodec prefix for an ed25519 public key (varint 0xed).
var ed25519Multicodec = []byte{0xed, 0x01}

// ErrKeyNotFound is returned when no private key is held for a DID.
var ErrKeyNotFound = errors.New("keys: key not found")

// ErrUnsupportedDID is returned when a DID does not embed an Ed25519 key.
var ErrUnsupportedDID = errors.New("keys: DID does not embed an ed25519 key")

// Identity is a DID together with its private key.
type Identity struct {
	DID        string
	PrivateKey ed25519.PrivateKey
}

// Generate creates a new Ed25519 key pair and derives its did:key.
func Generate() (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keys: key generation failed: %w", err)
	}
	return FromPrivateKey(priv), nil
}

// FromPrivateKey derives the identity of an existing private key.
func FromPrivateKey(priv ed25519.PrivateKey) *Identity {
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{DID: DIDFromPublicKey(pub), PrivateKey: priv}
}

// FromSeed derives an identity from a 32-byte seed.
// Deterministic; used by tests and fixtures.
func FromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("keys: expected %d-byte seed, got %d", ed25519.SeedSize, len(seed))
	}
	return FromPrivateKey(ed25519.NewKeyFromSeed(seed)), nil
}

// PublicKey returns the identity's public key.
func (id *Identity) PublicKey() ed25519.PublicKey {
	return id.PrivateKey.Public().(ed25519.PublicKey)
}

// DIDFromPublicKey encodes an Ed25519 public key as a did:key.
func DIDFromPublicKey(pub ed25519.PublicKey) string {
	buf := make([]byte, 0, len(ed25519Multicodec)+len(pub))
	buf = append(buf, ed25519Multicodec...)
	buf = append(buf, pub...)
	return didKeyPrefix + base58.Encode(buf)
}

// PublicKeyFromDID recovers the Ed25519 public key embedded in a did:key.
func PublicKeyFromDID(did string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(did, didKeyPrefix) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDID, did)
	}
	raw, err := base58.Decode(strings.TrimPrefix(did, didKeyPrefix))
	if err != nil {
		return nil, fmt.Errorf("keys: decode %s: %w", did, err)
	}
	if len(raw) != len(ed25519Multicodec)+ed25519.PublicKeySize ||
		raw[0] != ed25519Multicodec[0] || raw[1] != ed25519Multicodec[1] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDID, did)
	}
	return ed25519.PublicKey(raw[len(ed25519Multicodec):]), nil
}
