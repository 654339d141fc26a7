// Copyright 2024 Canonical.

// Package generator mints new key pairs: KID, PEM artifacts and
// origin metadata.
package generator

import (
	"context"

	"github.com/juju/clock"
	"github.com/juju/zaputil/zapctx"
	"go.uber.org/zap"

	"github.com/canonical/keyturn/internal/errors"
	"github.com/canonical/keyturn/internal/keycrypto"
	"github.com/canonical/keyturn/internal/keystore"
	"github.com/canonical/keyturn/internal/metadata"
	"github.com/canonical/keyturn/internal/servermon"
)

// A Generator creates new keys for a domain. Creation is not
// transactional: a failure part way through leaves whatever was
// already persisted in place, and only the rotator wraps generation
// in a rollback-capable envelope.
type Generator struct {
	crypto     keycrypto.Provider
	repository *keystore.Repository
	metadata   *metadata.Manager
	clock      clock.Clock
}

// NewGenerator returns a generator using the given collaborators.
func NewGenerator(crypto keycrypto.Provider, repository *keystore.Repository, meta *metadata.Manager, clk clock.Clock) *Generator {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Generator{
		crypto:     crypto,
		repository: repository,
		metadata:   meta,
		clock:      clk,
	}
}

// Generate mints a KID for the domain, generates a key pair, persists
// both PEM artifacts and writes the origin metadata record. It
// returns the new KID. Failure at any step surfaces to the caller
// with no partial cleanup.
func (g *Generator) Generate(ctx context.Context, domain string) (string, error) {
	const op = errors.Op("generator.Generate")

	d, err := keycrypto.NormalizeDomain(domain)
	if err != nil {
		return "", errors.E(op, err)
	}
	kid, err := g.crypto.MintKID(d)
	if err != nil {
		return "", errors.E(op, err)
	}
	if err := g.repository.EnsureDirs(ctx, d); err != nil {
		return "", errors.E(op, err)
	}
	publicPEM, privatePEM, err := g.crypto.GenerateKeyPair()
	if err != nil {
		return "", errors.E(op, err)
	}
	if err := g.repository.SaveKeyPair(ctx, d, kid, publicPEM, privatePEM); err != nil {
		return "", errors.E(op, err)
	}
	if err := g.metadata.Create(ctx, d, kid, g.clock.Now()); err != nil {
		return "", errors.E(op, err)
	}

	servermon.KeysGeneratedCount.WithLabelValues(d).Inc()
	zapctx.Info(ctx, "generated key pair", zap.String("domain", d), zap.String("kid", kid))
	return kid, nil
}
