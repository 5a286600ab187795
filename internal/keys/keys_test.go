package keys

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dwnsync/internal/dwn"
)

func testIdentity(t *testing.T, b byte) *Identity {
	t.Helper()
	id, err := FromSeed(bytes.Repeat([]byte{b}, 32))
	require.NoError(t, err)
	return id
}

func TestDIDRoundTrip(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)
	assert.Contains(t, id.DID, "did:key:z6Mk", "ed25519 did:key values start with z6Mk")

	pub, err := PublicKeyFromDID(id.DID)
	require.NoError(t, err)
	assert.Equal(t, id.PublicKey(), pub)
}

func TestFromSeedDeterministic(t *testing.T) {
	a := testIdentity(t, 1)
	b := testIdentity(t, 1)
	c := testIdentity(t, 2)
	assert.Equal(t, a.DID, b.DID)
	assert.NotEqual(t, a.DID, c.DID)

	_, err := FromSeed([]byte("short"))
	require.Error(t, err)
}

func TestPublicKeyFromDIDRejectsOtherMethods(t *testing.T) {
	_, err := PublicKeyFromDID("did:web:example.com")
	assert.ErrorIs(t, err, ErrUnsupportedDID)

	_, err = PublicKeyFromDID("did:key:z111")
	require.Error(t, err)
}

func signedWrite(t *testing.T, id *Identity) *dwn.Message {
	t.Helper()
	msg := &dwn.Message{Descriptor: dwn.Descriptor{
		Interface:        dwn.InterfaceRecords,
		Method:           dwn.MethodWrite,
		MessageTimestamp: "2024-01-01T00:00:00.000000Z",
		RecordID:         "rec-1",
	}}
	require.NoError(t, id.Sign(msg))
	return msg
}

func TestSignVerify(t *testing.T) {
	id := testIdentity(t, 3)
	msg := signedWrite(t, id)

	author, err := Verify(msg)
	require.NoError(t, err)
	assert.Equal(t, id.DID, author)

	unverified, err := Author(msg)
	require.NoError(t, err)
	assert.Equal(t, id.DID, unverified)
}

func TestVerifyRejectsTamperedDescriptor(t *testing.T) {
	msg := signedWrite(t, testIdentity(t, 4))
	msg.Descriptor.RecordID = "rec-2"

	_, err := Verify(msg)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	alice := testIdentity(t, 5)
	bob := testIdentity(t, 6)
	msg := signedWrite(t, alice)

	// Re-sign with bob's key but keep alice as the claimed issuer.
	forged := signedWrite(t, bob)
	parts := bytes.Split([]byte(forged.Authorization), []byte("."))
	orig := bytes.Split([]byte(msg.Authorization), []byte("."))
	msg.Authorization = string(bytes.Join([][]byte{orig[0], orig[1], parts[2]}, []byte(".")))

	_, err := Verify(msg)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyMissingAuthorization(t *testing.T) {
	_, err := Verify(&dwn.Message{})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = Author(&dwn.Message{})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id := testIdentity(t, 7)

	_, err := s.Get(ctx, id.DID)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, s.Put(ctx, id))
	got, err := s.Get(ctx, id.DID)
	require.NoError(t, err)
	assert.Equal(t, id.PrivateKey, got.PrivateKey)

	dids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id.DID}, dids)
}
