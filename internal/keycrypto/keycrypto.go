// Copyright 2024 Canonical.

// Package keycrypto provides the cryptographic primitives consumed by
// the key lifecycle service: RSA key pair generation, PEM and JWK
// conversion, token signing, KID minting and canonical hashing.
package keycrypto

import (
	"crypto"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// A SigningKey is an opaque handle to imported private key material.
// The key material is not extractable through this interface.
type SigningKey crypto.Signer

// A Provider supplies all cryptographic operations the lifecycle
// service performs. Implementations must be safe for concurrent use.
type Provider interface {
	// GenerateKeyPair generates a new key pair, returning the
	// public key in SPKI PEM form and the private key in PKCS#8
	// PEM form.
	GenerateKeyPair() (publicPEM, privatePEM []byte, err error)

	// ImportPrivateKey parses a PEM encoded private key into an
	// opaque signing handle bound to RSASSA-PKCS1-v1_5 with
	// SHA-256.
	ImportPrivateKey(privatePEM []byte) (SigningKey, error)

	// Sign signs the given bytes with the given key, returning the
	// raw signature in unpadded base64url form (RFC 7515).
	Sign(key SigningKey, data []byte) (string, error)

	// PemToJWK converts a public key PEM into a JWK carrying the
	// given KID with use "sig" and algorithm RS256.
	PemToJWK(publicPEM []byte, kid string) (jwk.Key, error)

	// MintKID mints a new KID for the given normalized domain.
	MintKID(domain string) (string, error)

	// ParseKID splits a KID into its component parts.
	ParseKID(kid string) (KID, error)

	// CanonicalHash returns the hex encoded SHA-256 digest of the
	// canonical JSON serialization of the given value.
	CanonicalHash(value any) (string, error)
}
