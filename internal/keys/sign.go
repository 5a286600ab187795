package keys

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roach88/dwnsync/internal/dwn"
)

// ErrUnauthorized is returned when a message authorization is missing,
// malformed, or does not verify.
var ErrUnauthorized = errors.New("keys: unauthorized")

// AuthClaims are the claims of a message authorization token.
// The token commits to the descriptor CID; the issuer is the author DID.
type AuthClaims struct {
	DescriptorCID string `json:"descriptorCid"`
	jwt.RegisteredClaims
}

// Sign sets msg.Authorization to an EdDSA JWT issued by the identity over
// the message descriptor.
func (id *Identity) Sign(msg *dwn.Message) error {
	dcid, err := dwn.DescriptorCID(msg.Descriptor)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	claims := AuthClaims{
		DescriptorCID:    dcid,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: id.DID},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(id.PrivateKey)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	msg.Authorization = token
	return nil
}

// Author returns the issuer of a message authorization without verifying it.
func Author(msg *dwn.Message) (string, error) {
	if msg == nil || msg.Authorization == "" {
		return "", fmt.Errorf("%w: missing authorization", ErrUnauthorized)
	}
	var claims AuthClaims
	if _, _, err := jwt.NewParser().ParseUnverified(msg.Authorization, &claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.Issuer == "" {
		return "", fmt.Errorf("%w: missing issuer", ErrUnauthorized)
	}
	return claims.Issuer, nil
}

// Verify checks a message authorization against the key embedded in the
// author's did:key and returns the author DID.
func Verify(msg *dwn.Message) (string, error) {
	if msg == nil || msg.Authorization == "" {
		return "", fmt.Errorf("%w: missing authorization", ErrUnauthorized)
	}

	var claims AuthClaims
	_, err := jwt.ParseWithClaims(msg.Authorization, &claims, func(t *jwt.Token) (any, error) {
		iss, err := t.Claims.GetIssuer()
		if err != nil {
			return nil, err
		}
		return PublicKeyFromDID(iss)
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	dcid, err := dwn.DescriptorCID(msg.Descriptor)
	if err != nil {
		return "", fmt.Errorf("verify: %w", err)
	}
	if claims.DescriptorCID != dcid {
		return "", fmt.Errorf("%w: descriptor does not match authorization", ErrUnauthorized)
	}
	return claims.Issuer, nil
}
