// Copyright 2024 Canonical.

package keyturntest

import (
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/canonical/keyturn/internal/blob"
	"github.com/canonical/keyturn/internal/generator"
	"github.com/canonical/keyturn/internal/janitor"
	"github.com/canonical/keyturn/internal/jwks"
	"github.com/canonical/keyturn/internal/keystore"
	"github.com/canonical/keyturn/internal/metadata"
	"github.com/canonical/keyturn/internal/rotation"
	"github.com/canonical/keyturn/internal/signer"
)

// A Fixture assembles the full component graph over a temporary
// directory, with a test clock and in-memory external collaborators.
type Fixture struct {
	Clock      *testclock.Clock
	Store      *blob.LocalStore
	Crypto     *Provider
	Index      *keystore.CacheIndex
	Repository *keystore.Repository
	Registry   *keystore.MemoryRegistry
	Resolver   *keystore.Resolver
	Metadata   *metadata.Manager
	Janitor    *janitor.Janitor
	Generator  *generator.Generator
	Signer     *signer.Signer
	JWKS       *jwks.Builder
	Locks      *LockStore
	Rotator    *rotation.Rotator
}

// NewFixture builds a fixture rooted at a fresh temporary directory,
// with the clock set to the given time.
func NewFixture(t testing.TB, now time.Time) *Fixture {
	store, err := blob.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("cannot create blob store: %v", err)
	}

	clk := testclock.NewClock(now)
	crypto := NewProvider(clk)
	index := keystore.NewCacheIndex()
	repository := keystore.NewRepository(store, crypto, index)
	registry := keystore.NewMemoryRegistry()
	resolver := keystore.NewResolver(registry, repository)
	meta := metadata.NewManager(store, clk)
	jan := janitor.NewJanitor(repository, meta, index, clk, 0)
	gen := generator.NewGenerator(crypto, repository, meta, clk)
	locks := NewLockStore(clk)

	return &Fixture{
		Clock:      clk,
		Store:      store,
		Crypto:     crypto,
		Index:      index,
		Repository: repository,
		Registry:   registry,
		Resolver:   resolver,
		Metadata:   meta,
		Janitor:    jan,
		Generator:  gen,
		Signer:     signer.New(crypto, resolver, index, signer.Params{Clock: clk}),
		JWKS:       jwks.NewBuilder(repository, crypto, index),
		Locks:      locks,
		Rotator:    rotation.NewRotator(gen, resolver, jan, locks),
	}
}
