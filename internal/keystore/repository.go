// Copyright 2024 Canonical.

// Package keystore is the canonical mapping between a domain, its
// KIDs, the PEM artifacts in the blob store and the currently active
// KID. It layers process-authoritative read caches over the store and
// keeps them coherent with rotation and reaping through a CacheIndex.
package keystore

import (
	"context"
	"path"
	"strings"

	"github.com/juju/zaputil/zapctx"
	"go.uber.org/zap"

	"github.com/canonical/keyturn/internal/blob"
	"github.com/canonical/keyturn/internal/errors"
	"github.com/canonical/keyturn/internal/keycrypto"
)

const (
	keysRoot   = "keys"
	privateDir = "private"
	publicDir  = "public"
	pemSuffix  = ".pem"

	privateFileMode = 0o600
	publicFileMode  = 0o644
)

// A Repository stores and retrieves key pair PEM artifacts, keyed by
// domain and KID. Reads consult an in-process cache before the blob
// store.
type Repository struct {
	store   blob.Store
	crypto  keycrypto.Provider
	private *pemCache
	public  *pemCache
}

// NewRepository returns a key repository over the given store. The
// crypto provider is used to derive a KID's domain when a method is
// keyed by KID alone. Both PEM caches are registered with the given
// cache index.
func NewRepository(store blob.Store, crypto keycrypto.Provider, index *CacheIndex) *Repository {
	r := &Repository{
		store:   store,
		crypto:  crypto,
		private: newPEMCache(),
		public:  newPEMCache(),
	}
	index.Register(r.private)
	index.Register(r.public)
	return r
}

// EnsureDirs creates the private, public and metadata directories for
// the given domain, and the shared archive directory. It is
// idempotent.
func (r *Repository) EnsureDirs(ctx context.Context, domain string) error {
	const op = errors.Op("keystore.EnsureDirs")

	for _, dir := range []string{
		path.Join(keysRoot, domain, privateDir),
		path.Join(keysRoot, domain, publicDir),
		path.Join("metadata", "keys", domain),
		path.Join("metadata", "keys", "archived"),
	} {
		if err := r.store.EnsureDir(ctx, dir); err != nil {
			return errors.E(op, err)
		}
	}
	return nil
}

// SaveKeyPair writes both PEM artifacts for the given KID, the
// private key with owner-only permissions. On partial failure no
// cleanup is attempted here; the rotation rollback owns undoing a
// half-written pair.
func (r *Repository) SaveKeyPair(ctx context.Context, domain, kid string, publicPEM, privatePEM []byte) error {
	const op = errors.Op("keystore.SaveKeyPair")

	if err := r.store.Put(ctx, privateName(domain, kid), privatePEM, privateFileMode); err != nil {
		return errors.E(op, err)
	}
	if err := r.store.Put(ctx, publicName(domain, kid), publicPEM, publicFileMode); err != nil {
		return errors.E(op, err)
	}
	zapctx.Debug(ctx, "saved key pair", zap.String("domain", domain), zap.String("kid", kid))
	return nil
}

// ReadPublicPEM returns the public PEM for the given KID, consulting
// the cache first.
func (r *Repository) ReadPublicPEM(ctx context.Context, kid string) ([]byte, error) {
	const op = errors.Op("keystore.ReadPublicPEM")
	return r.readPEM(ctx, op, kid, r.public, publicName)
}

// ReadPrivatePEM returns the private PEM for the given KID,
// consulting the cache first.
func (r *Repository) ReadPrivatePEM(ctx context.Context, kid string) ([]byte, error) {
	const op = errors.Op("keystore.ReadPrivatePEM")
	return r.readPEM(ctx, op, kid, r.private, privateName)
}

func (r *Repository) readPEM(ctx context.Context, op errors.Op, kid string, cache *pemCache, name func(domain, kid string) string) ([]byte, error) {
	if pem, ok := cache.get(kid); ok {
		return pem, nil
	}
	parsed, err := r.crypto.ParseKID(kid)
	if err != nil {
		return nil, errors.E(op, err)
	}
	pem, err := r.store.Get(ctx, name(parsed.Domain, kid))
	if err != nil {
		return nil, errors.E(op, err)
	}
	cache.put(kid, pem)
	return pem, nil
}

// ListPublicKIDs returns the KIDs of every public PEM stored for the
// given domain, in the store's listing order.
func (r *Repository) ListPublicKIDs(ctx context.Context, domain string) ([]string, error) {
	const op = errors.Op("keystore.ListPublicKIDs")
	return r.listKIDs(ctx, op, path.Join(keysRoot, domain, publicDir))
}

// ListPrivateKIDs returns the KIDs of every private PEM stored for
// the given domain, in the store's listing order.
func (r *Repository) ListPrivateKIDs(ctx context.Context, domain string) ([]string, error) {
	const op = errors.Op("keystore.ListPrivateKIDs")
	return r.listKIDs(ctx, op, path.Join(keysRoot, domain, privateDir))
}

func (r *Repository) listKIDs(ctx context.Context, op errors.Op, dir string) ([]string, error) {
	names, err := r.store.List(ctx, dir)
	if err != nil {
		return nil, errors.E(op, err)
	}
	kids := make([]string, 0, len(names))
	for _, name := range names {
		if !strings.HasSuffix(name, pemSuffix) {
			continue
		}
		kids = append(kids, strings.TrimSuffix(name, pemSuffix))
	}
	return kids, nil
}

// DeletePublic removes the public PEM for the given KID and evicts it
// from the public cache. A missing file is not an error.
func (r *Repository) DeletePublic(ctx context.Context, kid string) error {
	const op = errors.Op("keystore.DeletePublic")
	return r.deletePEM(ctx, op, kid, r.public, publicName)
}

// DeletePrivate removes the private PEM for the given KID and evicts
// it from the private cache. A missing file is not an error.
func (r *Repository) DeletePrivate(ctx context.Context, kid string) error {
	const op = errors.Op("keystore.DeletePrivate")
	return r.deletePEM(ctx, op, kid, r.private, privateName)
}

func (r *Repository) deletePEM(ctx context.Context, op errors.Op, kid string, cache *pemCache, name func(domain, kid string) string) error {
	parsed, err := r.crypto.ParseKID(kid)
	if err != nil {
		return errors.E(op, err)
	}
	if err := r.store.Delete(ctx, name(parsed.Domain, kid)); err != nil {
		return errors.E(op, err)
	}
	cache.Evict(kid)
	return nil
}

func privateName(domain, kid string) string {
	return path.Join(keysRoot, domain, privateDir, kid+pemSuffix)
}

func publicName(domain, kid string) string {
	return path.Join(keysRoot, domain, publicDir, kid+pemSuffix)
}
