// Copyright 2024 Canonical.

// Package signer issues RS256 JWTs signed with a domain's active key.
// Parsed signing keys are cached per KID so steady-state signing does
// not re-import PEM material on every call.
package signer

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/juju/clock"
	"github.com/juju/zaputil/zapctx"
	"go.uber.org/zap"

	"github.com/canonical/keyturn/internal/errors"
	"github.com/canonical/keyturn/internal/keycrypto"
	"github.com/canonical/keyturn/internal/keystore"
	"github.com/canonical/keyturn/internal/servermon"
)

const (
	// DefaultTTL is the token lifetime used when the caller does
	// not specify one.
	DefaultTTL = 30 * 24 * time.Hour

	// DefaultMaxPayloadBytes bounds the canonical serialization of
	// a token payload.
	DefaultMaxPayloadBytes = 4096

	defaultKeyCacheSize = 64
	defaultKeyCacheTTL  = time.Hour
)

// Params configures a Signer. Zero values select the defaults above.
type Params struct {
	// DefaultTTL is the token lifetime applied when Options.TTL is
	// unset.
	DefaultTTL time.Duration

	// MaxPayloadBytes is the largest canonical payload accepted.
	MaxPayloadBytes int

	// KeyCacheSize and KeyCacheTTL tune the parsed signing key
	// cache. The TTL should be much lower than the rotation period
	// of any domain.
	KeyCacheSize int
	KeyCacheTTL  time.Duration

	// Clock supplies iat claims.
	Clock clock.Clock
}

// Options carries per-call signing options.
type Options struct {
	// TTL overrides the signer's default token lifetime. It must
	// be positive when set.
	TTL time.Duration

	// AdditionalClaims are merged into the token payload before
	// the caller's payload; the payload wins on conflict. An exp
	// set here is replaced by the injected expiry, which only an
	// exp in the payload itself overrides.
	AdditionalClaims map[string]any
}

// A Signer issues signed tokens for a domain's active key.
type Signer struct {
	crypto          keycrypto.Provider
	resolver        *keystore.Resolver
	keys            *expirable.LRU[string, keycrypto.SigningKey]
	defaultTTL      time.Duration
	maxPayloadBytes int
	clock           clock.Clock
}

// keyCacheEvicter adapts the signing key cache to the cache index.
type keyCacheEvicter struct {
	keys *expirable.LRU[string, keycrypto.SigningKey]
}

// Evict implements keystore.Evicter.
func (e keyCacheEvicter) Evict(kid string) {
	e.keys.Remove(kid)
}

// New returns a signer. Its parsed signing key cache is registered
// with the given cache index so key deletion invalidates it.
func New(crypto keycrypto.Provider, resolver *keystore.Resolver, index *keystore.CacheIndex, p Params) *Signer {
	if p.DefaultTTL <= 0 {
		p.DefaultTTL = DefaultTTL
	}
	if p.MaxPayloadBytes <= 0 {
		p.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if p.KeyCacheSize <= 0 {
		p.KeyCacheSize = defaultKeyCacheSize
	}
	if p.KeyCacheTTL <= 0 {
		p.KeyCacheTTL = defaultKeyCacheTTL
	}
	if p.Clock == nil {
		p.Clock = clock.WallClock
	}
	keys := expirable.NewLRU[string, keycrypto.SigningKey](p.KeyCacheSize, nil, p.KeyCacheTTL)
	index.Register(keyCacheEvicter{keys: keys})
	return &Signer{
		crypto:          crypto,
		resolver:        resolver,
		keys:            keys,
		defaultTTL:      p.DefaultTTL,
		maxPayloadBytes: p.MaxPayloadBytes,
		clock:           p.Clock,
	}
}

// Sign issues a token for the given domain carrying the given payload
// claims. The token header names the domain's active KID; iat and exp
// claims are injected, with an exp already present in the payload
// preserved.
func (s *Signer) Sign(ctx context.Context, domain string, payload map[string]any, opts Options) (_ string, err error) {
	const op = errors.Op("signer.Sign")

	d, err := keycrypto.NormalizeDomain(domain)
	if err != nil {
		return "", errors.E(op, err)
	}

	durationObserver := servermon.DurationObserver(servermon.SignDurationHistogram, d)
	defer durationObserver()
	defer servermon.ErrorCounter(servermon.SignErrorCount, &err, d)

	if payload == nil {
		return "", errors.E(op, errors.CodeBadRequest, "payload must be a non-null object")
	}
	canonicalPayload, err := keycrypto.CanonicalJSON(payload)
	if err != nil {
		return "", errors.E(op, err)
	}
	if len(canonicalPayload) > s.maxPayloadBytes {
		return "", errors.E(op, errors.CodePayloadTooLarge, "payload exceeds maximum size")
	}

	ttl := opts.TTL
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	if ttl < 0 {
		return "", errors.E(op, errors.CodeBadRequest, "ttl must be positive")
	}

	kid, err := s.resolver.ActiveKID(d)
	if err != nil {
		return "", errors.E(op, err)
	}
	if kid == "" {
		return "", errors.E(op, errors.CodeNoActiveKey, "no active key for domain "+d)
	}

	signingInput, err := s.buildSigningInput(kid, payload, opts.AdditionalClaims, ttl)
	if err != nil {
		return "", errors.E(op, err)
	}

	key, ok := s.keys.Get(kid)
	if !ok {
		pem, err := s.resolver.SigningKey(ctx, d)
		if err != nil {
			return "", errors.E(op, err)
		}
		key, err = s.crypto.ImportPrivateKey(pem)
		if err != nil {
			return "", errors.E(op, err)
		}
		s.keys.Add(kid, key)
	}

	sig, err := s.crypto.Sign(key, []byte(signingInput))
	if err != nil {
		return "", errors.E(op, err)
	}
	zapctx.Debug(ctx, "signed token", zap.String("domain", d), zap.String("kid", kid))
	return signingInput + "." + sig, nil
}

// buildSigningInput assembles the base64url header and payload halves
// of the token.
func (s *Signer) buildSigningInput(kid string, payload, additionalClaims map[string]any, ttl time.Duration) (string, error) {
	header := map[string]any{
		"alg": "RS256",
		"typ": "JWT",
		"kid": kid,
	}

	claims := make(map[string]any, len(additionalClaims)+len(payload)+2)
	for k, v := range additionalClaims {
		claims[k] = v
	}
	for k, v := range payload {
		claims[k] = v
	}
	iat := s.clock.Now().Unix()
	claims["iat"] = iat
	// Only an exp in the payload itself suppresses the injected
	// expiry; one smuggled in through additional claims does not.
	if _, ok := payload["exp"]; !ok {
		claims["exp"] = iat + int64(ttl/time.Second)
	}

	headerJSON, err := keycrypto.CanonicalJSON(header)
	if err != nil {
		return "", err
	}
	claimsJSON, err := keycrypto.CanonicalJSON(claims)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(headerJSON) +
		"." +
		base64.RawURLEncoding.EncodeToString(claimsJSON), nil
}
