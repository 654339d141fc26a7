// Copyright 2024 Canonical.

// Package rotation contains the per-domain key rotation state machine
// and the scheduler that drives it from rotation policies.
package rotation

import (
	"context"
	"time"

	"github.com/juju/zaputil/zapctx"
	"go.uber.org/zap"

	"github.com/canonical/keyturn/internal/errors"
	"github.com/canonical/keyturn/internal/generator"
	"github.com/canonical/keyturn/internal/janitor"
	"github.com/canonical/keyturn/internal/keycrypto"
	"github.com/canonical/keyturn/internal/keystore"
	"github.com/canonical/keyturn/internal/policy"
	"github.com/canonical/keyturn/internal/servermon"
)

// LeaseTTL bounds how long a rotation may hold a domain's lease. The
// lock store expires stale leases after this interval so a crashed
// rotator cannot deadlock a domain.
const LeaseTTL = 300 * time.Second

const leasePrefix = "rotation:"

// A Rotator rotates a domain's signing key under a distributed lease,
// bracketing an externally supplied database transaction. A Rotator
// holds only collaborator references; the state of an in-flight
// rotation is local to each RotateKeys call, so distinct domains may
// rotate concurrently through one instance.
type Rotator struct {
	generator *generator.Generator
	resolver  *keystore.Resolver
	janitor   *janitor.Janitor
	locks     policy.LockStore

	// restoreActiveOnRollback selects the best-effort restoration
	// of the previous active KID when a rollback runs after the
	// active pointer has already flipped.
	restoreActiveOnRollback bool
}

// NewRotator returns a rotator using the given collaborators.
func NewRotator(gen *generator.Generator, resolver *keystore.Resolver, jan *janitor.Janitor, locks policy.LockStore) *Rotator {
	return &Rotator{
		generator:               gen,
		resolver:                resolver,
		janitor:                 jan,
		locks:                   locks,
		restoreActiveOnRollback: true,
	}
}

// rotationState tracks the KIDs involved in one in-flight rotation.
type rotationState struct {
	previousKid string
	upcomingKid string
}

// An Outcome reports how a rotation ended when no hard error
// occurred.
type Outcome struct {
	// NewActiveKid is the KID now active for the domain. It is
	// empty when the rotation did not complete.
	NewActiveKid string

	// RolledBack reports that the rotation was undone and the
	// previous state restored. When false with an empty
	// NewActiveKid, the rotation never started: the domain's lease
	// was held elsewhere.
	RolledBack bool

	// Reason carries the failure that triggered the rollback.
	Reason error
}

// Rotated reports whether the rotation completed.
func (o Outcome) Rotated() bool {
	return o.NewActiveKid != ""
}

// RotateKeys rotates the given domain's signing key. The dbUpdate
// callback runs inside the transaction of the given session, between
// the new key being prepared and the old key being retired, so
// database state and key state move forward together or not at all.
//
// Benign failures are reported in the Outcome: lease contention
// leaves it zero, a controlled rollback sets RolledBack with the
// cause in Reason. Invalid arguments and broken invariants return an
// error.
func (r *Rotator) RotateKeys(ctx context.Context, domain string, dbUpdate func(policy.Session) error, session policy.Session) (_ Outcome, err error) {
	const op = errors.Op("rotation.RotateKeys")

	d, err := keycrypto.NormalizeDomain(domain)
	if err != nil {
		return Outcome{}, errors.E(op, err)
	}
	if dbUpdate == nil {
		return Outcome{}, errors.E(op, errors.CodeBadRequest, "missing database update callback")
	}
	if session == nil {
		return Outcome{}, errors.E(op, errors.CodeBadRequest, "missing session")
	}

	durationObserver := servermon.DurationObserver(servermon.RotationDurationHistogram, d)
	defer durationObserver()

	leaseKey := leasePrefix + d
	token, err := r.locks.Acquire(ctx, leaseKey, LeaseTTL)
	if err != nil {
		return Outcome{}, errors.E(op, err)
	}
	if token == "" {
		// Someone else is rotating this domain.
		servermon.RotationSkippedCount.WithLabelValues(d).Inc()
		zapctx.Debug(ctx, "rotation lease contended", zap.String("domain", d))
		return Outcome{}, nil
	}
	defer func() {
		session.EndSession(ctx)
		if _, rerr := r.locks.Release(ctx, leaseKey, token); rerr != nil {
			zapctx.Warn(ctx, "failed to release rotation lease",
				zap.String("domain", d),
				zap.Error(rerr),
			)
		}
	}()

	var st rotationState
	newActive, txnStarted, rotateErr := r.rotate(ctx, d, &st, dbUpdate, session)
	if rotateErr == nil {
		servermon.RotationSuccessCount.WithLabelValues(d).Inc()
		zapctx.Info(ctx, "rotated signing key",
			zap.String("domain", d),
			zap.String("kid", newActive),
		)
		return Outcome{NewActiveKid: newActive}, nil
	}

	zapctx.Error(ctx, "rotation failed, rolling back",
		zap.String("domain", d),
		zap.Error(rotateErr),
	)
	activeKid, rbErr := r.rollback(ctx, d, &st)
	if txnStarted {
		if aerr := session.AbortTransaction(ctx); aerr != nil {
			zapctx.Warn(ctx, "failed to abort rotation transaction", zap.Error(aerr))
		}
	}
	if rbErr != nil {
		servermon.RotationFailCount.WithLabelValues(d).Inc()
		return Outcome{}, errors.E(op, rbErr)
	}
	servermon.RotationSkippedCount.WithLabelValues(d).Inc()
	zapctx.Info(ctx, "rotation rolled back",
		zap.String("domain", d),
		zap.String("activeKid", activeKid),
	)
	return Outcome{RolledBack: true, Reason: rotateErr}, nil
}

// rotate runs the forward path: prepare, database callback, pointer
// flip, database commit, retirement cleanup. It reports whether the
// session transaction was started so the caller knows whether a
// failure requires an abort.
func (r *Rotator) rotate(ctx context.Context, domain string, st *rotationState, dbUpdate func(policy.Session) error, session policy.Session) (string, bool, error) {
	if err := r.prepare(ctx, domain, st); err != nil {
		return "", false, err
	}
	if err := session.StartTransaction(ctx); err != nil {
		return "", false, err
	}
	if err := dbUpdate(session); err != nil {
		return "", true, err
	}
	if err := r.flipActive(ctx, domain, st); err != nil {
		return "", true, err
	}
	if err := session.CommitTransaction(ctx); err != nil {
		return "", true, err
	}
	// The rotation is durable from here on. Cleanup failures leave a
	// lingering private PEM behind; they must not undo the rotation.
	r.retirePrevious(ctx, domain, st)
	return st.upcomingKid, true, nil
}

// prepare generates the upcoming key and archives the current active
// key with its retirement expiry. The origin metadata of the outgoing
// key is left in place until commit.
func (r *Rotator) prepare(ctx context.Context, domain string, st *rotationState) error {
	const op = errors.Op("rotation.prepare")

	upcoming, err := r.generator.Generate(ctx, domain)
	if err != nil {
		return errors.E(op, err)
	}
	st.upcomingKid = upcoming

	current, err := r.resolver.ActiveKID(domain)
	if err != nil {
		return errors.E(op, err)
	}
	if current == "" {
		return errors.E(op, errors.CodeIntegrityViolation, "rotation requires an existing active key")
	}
	st.previousKid = current

	if _, err := r.janitor.AddKeyExpiry(ctx, domain, current); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// flipActive repoints the domain at the upcoming key. Nothing is
// deleted here: until the database transaction commits, every
// artifact of the previous key is still in place, so a rollback from
// any later failure restores a fully usable key. A concurrent signer
// observes either the old active key with its private PEM present, or
// the new one.
func (r *Rotator) flipActive(ctx context.Context, domain string, st *rotationState) error {
	const op = errors.Op("rotation.flipActive")

	previous, err := r.resolver.ActiveKID(domain)
	if err != nil {
		return errors.E(op, err)
	}
	if previous == "" {
		return errors.E(op, errors.CodeIntegrityViolation, "no active key at commit")
	}
	st.previousKid = previous

	if _, err := r.resolver.SetActive(domain, st.upcomingKid); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// retirePrevious removes the previous key's private PEM and origin
// metadata. It runs only after the database transaction has
// committed, so failures are logged rather than returned: the worst
// outcome is a retired private key lingering on disk, never a domain
// whose active key lost its material.
func (r *Rotator) retirePrevious(ctx context.Context, domain string, st *rotationState) {
	if err := r.janitor.DeletePrivate(ctx, domain, st.previousKid); err != nil {
		zapctx.Warn(ctx, "failed to remove retired private key",
			zap.String("domain", domain),
			zap.String("kid", st.previousKid),
			zap.Error(err),
		)
	}
	if err := r.janitor.DeleteOriginMetadata(ctx, domain, st.previousKid); err != nil {
		zapctx.Warn(ctx, "failed to remove retired origin metadata",
			zap.String("domain", domain),
			zap.String("kid", st.previousKid),
			zap.Error(err),
		)
	}
}

// rollback restores the pre-rotation state: the upcoming key's
// artifacts are removed best-effort, the archive record written in
// prepare is deleted, and the previous active KID is restored if the
// pointer had already flipped. It returns the KID left active.
func (r *Rotator) rollback(ctx context.Context, domain string, st *rotationState) (string, error) {
	const op = errors.Op("rotation.rollback")

	if st.upcomingKid != "" {
		for _, del := range []func() error{
			func() error { return r.janitor.DeletePrivate(ctx, domain, st.upcomingKid) },
			func() error { return r.janitor.DeletePublic(ctx, domain, st.upcomingKid) },
			func() error { return r.janitor.DeleteOriginMetadata(ctx, domain, st.upcomingKid) },
		} {
			if err := del(); err != nil {
				zapctx.Warn(ctx, "rollback cleanup failed",
					zap.String("kid", st.upcomingKid),
					zap.Error(err),
				)
			}
		}
	}

	active, err := r.resolver.ActiveKID(domain)
	if err != nil {
		return "", errors.E(op, err)
	}
	if r.restoreActiveOnRollback && st.previousKid != "" && active != st.previousKid {
		if _, err := r.resolver.SetActive(domain, st.previousKid); err != nil {
			return "", errors.E(op, err)
		}
		active = st.previousKid
	}
	if active == "" {
		return "", errors.E(op, errors.CodeIntegrityViolation, "no active key after rollback")
	}

	if err := r.janitor.DeleteArchivedMetadata(ctx, active); err != nil {
		zapctx.Warn(ctx, "rollback failed to remove archive record",
			zap.String("kid", active),
			zap.Error(err),
		)
	}
	st.upcomingKid = ""
	return active, nil
}
