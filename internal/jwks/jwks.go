// Copyright 2024 Canonical.

// Package jwks assembles the public verification surface for a
// domain: a JWK set covering every public key still on record,
// including retired keys inside their grace period.
package jwks

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/juju/zaputil/zapctx"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.uber.org/zap"

	"github.com/canonical/keyturn/internal/errors"
	"github.com/canonical/keyturn/internal/keycrypto"
	"github.com/canonical/keyturn/internal/keystore"
)

const (
	defaultJWKCacheSize = 256
	defaultJWKCacheTTL  = time.Hour
)

// A Builder produces per-domain JWK sets, caching the per-KID JWK
// conversion. Cache eviction is delegated to the janitor through the
// cache index.
type Builder struct {
	repository *keystore.Repository
	crypto     keycrypto.Provider
	cache      *expirable.LRU[string, jwk.Key]
}

// jwkCacheEvicter adapts the JWK cache to the cache index.
type jwkCacheEvicter struct {
	cache *expirable.LRU[string, jwk.Key]
}

// Evict implements keystore.Evicter.
func (e jwkCacheEvicter) Evict(kid string) {
	e.cache.Remove(kid)
}

// NewBuilder returns a JWKS builder whose JWK cache is registered
// with the given cache index.
func NewBuilder(repository *keystore.Repository, crypto keycrypto.Provider, index *keystore.CacheIndex) *Builder {
	cache := expirable.NewLRU[string, jwk.Key](defaultJWKCacheSize, nil, defaultJWKCacheTTL)
	index.Register(jwkCacheEvicter{cache: cache})
	return &Builder{
		repository: repository,
		crypto:     crypto,
		cache:      cache,
	}
}

// GetJWKS returns the JWK set for the given domain. Key order follows
// the repository listing order, so two calls against the same stored
// state yield the same order.
func (b *Builder) GetJWKS(ctx context.Context, domain string) (jwk.Set, error) {
	const op = errors.Op("jwks.GetJWKS")

	d, err := keycrypto.NormalizeDomain(domain)
	if err != nil {
		return nil, errors.E(op, err)
	}
	kids, err := b.repository.ListPublicKIDs(ctx, d)
	if err != nil {
		return nil, errors.E(op, err)
	}

	set := jwk.NewSet()
	for _, kid := range kids {
		key, ok := b.cache.Get(kid)
		if !ok {
			pem, err := b.repository.ReadPublicPEM(ctx, kid)
			if err != nil {
				return nil, errors.E(op, err)
			}
			key, err = b.crypto.PemToJWK(pem, kid)
			if err != nil {
				return nil, errors.E(op, err)
			}
			b.cache.Add(kid, key)
		}
		if err := set.AddKey(key); err != nil {
			return nil, errors.E(op, err)
		}
	}
	zapctx.Debug(ctx, "assembled JWKS", zap.String("domain", d), zap.Int("keys", set.Len()))
	return set, nil
}
