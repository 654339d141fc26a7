// Copyright 2024 Canonical.

package keycrypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/juju/clock"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/canonical/keyturn/internal/errors"
)

const (
	publicPEMType  = "PUBLIC KEY"
	privatePEMType = "PRIVATE KEY"
)

// rsaKeySize is the modulus size of generated key pairs. Due to the
// sensitivity of signing keys we allow a larger encryption bit size
// and accept any negligible wire cost.
const rsaKeySize = 4096

// An RSAProvider is the default Provider implementation, producing
// RSA-4096 key pairs and RS256 signatures.
type RSAProvider struct {
	clock clock.Clock
}

// NewRSAProvider returns a Provider producing RSA key pairs. The
// given clock supplies the timestamp segment of minted KIDs.
func NewRSAProvider(clk clock.Clock) *RSAProvider {
	if clk == nil {
		clk = clock.WallClock
	}
	return &RSAProvider{clock: clk}
}

// GenerateKeyPair implements Provider.GenerateKeyPair.
func (p *RSAProvider) GenerateKeyPair() ([]byte, []byte, error) {
	const op = errors.Op("keycrypto.GenerateKeyPair")

	key, err := rsa.GenerateKey(rand.Reader, rsaKeySize)
	if err != nil {
		return nil, nil, errors.E(op, errors.CodeCryptoFailure, err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, errors.E(op, errors.CodeCryptoFailure, err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, errors.E(op, errors.CodeCryptoFailure, err)
	}

	publicPEM := pem.EncodeToMemory(&pem.Block{Type: publicPEMType, Bytes: pubDER})
	privatePEM := pem.EncodeToMemory(&pem.Block{Type: privatePEMType, Bytes: privDER})
	return publicPEM, privatePEM, nil
}

// ImportPrivateKey implements Provider.ImportPrivateKey.
func (p *RSAProvider) ImportPrivateKey(privatePEM []byte) (SigningKey, error) {
	const op = errors.Op("keycrypto.ImportPrivateKey")

	block, _ := pem.Decode(privatePEM)
	if block == nil {
		return nil, errors.E(op, errors.CodeCryptoFailure, "no PEM data found")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.E(op, errors.CodeCryptoFailure, err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.E(op, errors.CodeCryptoFailure, fmt.Sprintf("unsupported private key type %T", key))
	}
	return rsaKey, nil
}

// Sign implements Provider.Sign, producing an RSASSA-PKCS1-v1_5
// SHA-256 signature in unpadded base64url form.
func (p *RSAProvider) Sign(key SigningKey, data []byte) (string, error) {
	const op = errors.Op("keycrypto.Sign")

	if key == nil {
		return "", errors.E(op, errors.CodeCryptoFailure, "nil signing key")
	}
	digest := sha256.Sum256(data)
	sig, err := key.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		return "", errors.E(op, errors.CodeCryptoFailure, err)
	}
	return base64.RawURLEncoding.EncodeToString(sig), nil
}

// PemToJWK implements Provider.PemToJWK.
func (p *RSAProvider) PemToJWK(publicPEM []byte, kid string) (jwk.Key, error) {
	const op = errors.Op("keycrypto.PemToJWK")

	block, _ := pem.Decode(publicPEM)
	if block == nil {
		return nil, errors.E(op, errors.CodeCryptoFailure, "no PEM data found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.E(op, errors.CodeCryptoFailure, err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.E(op, errors.CodeCryptoFailure, fmt.Sprintf("unsupported public key type %T", pub))
	}

	key, err := jwk.FromRaw(rsaPub)
	if err != nil {
		return nil, errors.E(op, errors.CodeCryptoFailure, err)
	}
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		return nil, errors.E(op, err)
	}
	if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, errors.E(op, err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		return nil, errors.E(op, err)
	}
	return key, nil
}

// MintKID implements Provider.MintKID.
func (p *RSAProvider) MintKID(domain string) (string, error) {
	return mintKID(domain, p.clock.Now())
}

// ParseKID implements Provider.ParseKID.
func (p *RSAProvider) ParseKID(kid string) (KID, error) {
	return parseKID(kid)
}

// CanonicalHash implements Provider.CanonicalHash.
func (p *RSAProvider) CanonicalHash(value any) (string, error) {
	const op = errors.Op("keycrypto.CanonicalHash")

	data, err := CanonicalJSON(value)
	if err != nil {
		return "", errors.E(op, err)
	}
	digest := sha256.Sum256(data)
	return fmt.Sprintf("%x", digest), nil
}

var _ Provider = (*RSAProvider)(nil)
