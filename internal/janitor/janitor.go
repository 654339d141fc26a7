// Copyright 2024 Canonical.

// Package janitor removes retired key artifacts: PEM files, metadata
// records and the cache entries that reference them. Its reaper
// deletes every archived key whose grace period has elapsed.
package janitor

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/zaputil/zapctx"
	"go.uber.org/zap"

	"github.com/canonical/keyturn/internal/errors"
	"github.com/canonical/keyturn/internal/keystore"
	"github.com/canonical/keyturn/internal/metadata"
	"github.com/canonical/keyturn/internal/servermon"
)

// DefaultGracePeriod is the interval between a key's retirement and
// its reaping. The public PEM remains readable during this window so
// previously issued tokens can still be verified.
const DefaultGracePeriod = 7 * 24 * time.Hour

// A Janitor is the composite cleanup surface over the key repository,
// the metadata manager and the process caches.
type Janitor struct {
	repository  *keystore.Repository
	metadata    *metadata.Manager
	cacheIndex  *keystore.CacheIndex
	clock       clock.Clock
	gracePeriod time.Duration
}

// NewJanitor returns a janitor. A non-positive gracePeriod selects
// DefaultGracePeriod.
func NewJanitor(repository *keystore.Repository, meta *metadata.Manager, index *keystore.CacheIndex, clk clock.Clock, gracePeriod time.Duration) *Janitor {
	if clk == nil {
		clk = clock.WallClock
	}
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	return &Janitor{
		repository:  repository,
		metadata:    meta,
		cacheIndex:  index,
		clock:       clk,
		gracePeriod: gracePeriod,
	}
}

// DeletePrivate removes the private PEM for the given KID and
// invalidates every cache holding entries for it.
func (j *Janitor) DeletePrivate(ctx context.Context, domain, kid string) error {
	const op = errors.Op("janitor.DeletePrivate")

	if err := j.repository.DeletePrivate(ctx, kid); err != nil {
		return errors.E(op, err)
	}
	j.cacheIndex.Invalidate(kid)
	zapctx.Debug(ctx, "deleted private key", zap.String("domain", domain), zap.String("kid", kid))
	return nil
}

// DeletePublic removes the public PEM for the given KID and
// invalidates every cache holding entries for it.
func (j *Janitor) DeletePublic(ctx context.Context, domain, kid string) error {
	const op = errors.Op("janitor.DeletePublic")

	if err := j.repository.DeletePublic(ctx, kid); err != nil {
		return errors.E(op, err)
	}
	j.cacheIndex.Invalidate(kid)
	zapctx.Debug(ctx, "deleted public key", zap.String("domain", domain), zap.String("kid", kid))
	return nil
}

// AddKeyExpiry archives the given KID with an expiry of now plus the
// grace period and returns the archived record.
func (j *Janitor) AddKeyExpiry(ctx context.Context, domain, kid string) (metadata.Record, error) {
	const op = errors.Op("janitor.AddKeyExpiry")

	r, err := j.metadata.AddExpiry(ctx, domain, kid, j.clock.Now().Add(j.gracePeriod))
	if err != nil {
		return metadata.Record{}, errors.E(op, err)
	}
	return r, nil
}

// DeleteOriginMetadata removes the origin metadata record for the
// given KID. A missing record is not an error.
func (j *Janitor) DeleteOriginMetadata(ctx context.Context, domain, kid string) error {
	const op = errors.Op("janitor.DeleteOriginMetadata")

	if err := j.metadata.DeleteOrigin(ctx, domain, kid); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// DeleteArchivedMetadata removes the archive metadata record for the
// given KID. A missing record is not an error.
func (j *Janitor) DeleteArchivedMetadata(ctx context.Context, kid string) error {
	const op = errors.Op("janitor.DeleteArchivedMetadata")

	if err := j.metadata.DeleteArchive(ctx, kid); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// Reap deletes the public PEM and archive record of every key whose
// expiry is in the past. Failures are isolated per record: a bad
// record is logged and skipped, and never fails the sweep. It is safe
// to run concurrently with signing and JWKS builds; evicted cache
// entries are simply repopulated on the next read while the file
// still exists.
func (j *Janitor) Reap(ctx context.Context) error {
	const op = errors.Op("janitor.Reap")

	expired, err := j.metadata.ListExpired(ctx)
	if err != nil {
		return errors.E(op, err)
	}
	for _, r := range expired {
		if err := j.DeletePublic(ctx, r.Domain, r.KID); err != nil {
			servermon.ReapErrorCount.Inc()
			zapctx.Error(ctx, "failed to delete expired public key",
				zap.String("kid", r.KID),
				zap.Error(err),
			)
			continue
		}
		if err := j.DeleteArchivedMetadata(ctx, r.KID); err != nil {
			servermon.ReapErrorCount.Inc()
			zapctx.Error(ctx, "failed to delete archive record",
				zap.String("kid", r.KID),
				zap.Error(err),
			)
			continue
		}
		servermon.KeysReapedCount.Inc()
		zapctx.Info(ctx, "reaped expired key",
			zap.String("domain", r.Domain),
			zap.String("kid", r.KID),
		)
	}
	return nil
}
