// Copyright 2024 Canonical.

// Package keyturntest contains helpers and in-memory collaborator
// fakes for tests.
package keyturntest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"

	"github.com/juju/clock"

	"github.com/canonical/keyturn/internal/keycrypto"
)

// Provider is a keycrypto.Provider for tests. It behaves exactly like
// the production provider except that generated keys are small, so
// suites that mint many key pairs stay fast.
type Provider struct {
	*keycrypto.RSAProvider
}

// NewProvider returns a test crypto provider minting KID timestamps
// from the given clock.
func NewProvider(clk clock.Clock) *Provider {
	return &Provider{RSAProvider: keycrypto.NewRSAProvider(clk)}
}

// GenerateKeyPair generates a 1024-bit key pair. Small keys are fine
// for tests; nothing here leaves the process.
func (p *Provider) GenerateKeyPair() ([]byte, []byte, error) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		return nil, nil, err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, err
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	return publicPEM, privatePEM, nil
}

var _ keycrypto.Provider = (*Provider)(nil)
