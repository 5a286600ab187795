package dwn

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix allows a future algorithm migration.
const (
	DomainMessage    = "dwn/message/v1"
	DomainDescriptor = "dwn/descriptor/v1"
	DomainData       = "dwn/data/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DescriptorCID computes the content address of a descriptor.
// Authorization tokens commit to this value.
func DescriptorCID(d Descriptor) (string, error) {
	canonical, err := MarshalCanonical(d)
	if err != nil {
		return "", fmt.Errorf("DescriptorCID: %w", err)
	}
	return hashWithDomain(DomainDescriptor, canonical), nil
}

// MessageCID computes the content address of a message.
//
// EncodedData is excluded: the same message has the same CID whether or not
// a reply inlined its payload.
func MessageCID(msg *Message) (string, error) {
	if msg == nil {
		return "", fmt.Errorf("MessageCID: nil message")
	}
	canonical, err := MarshalCanonical(msg.WithoutData())
	if err != nil {
		return "", fmt.Errorf("MessageCID: %w", err)
	}
	return hashWithDomain(DomainMessage, canonical), nil
}

// MustMessageCID is like MessageCID but panics on error.
// Use only in tests or when the message is known to be valid.
func MustMessageCID(msg *Message) string {
	cid, err := MessageCID(msg)
	if err != nil {
		panic(err)
	}
	return cid
}

// DataCID computes the content address of a record payload.
func DataCID(data []byte) string {
	return hashWithDomain(DomainData, data)
}
