// Copyright 2024 Canonical.

// Package policy defines the external collaborator contracts the
// rotation engine depends on: the rotation policy store, the
// transaction session it hands to rotation callbacks, and the
// distributed lock store serializing per-domain rotations.
package policy

import (
	"context"
	"time"
)

// A Policy describes when a domain's signing key is due for
// rotation.
type Policy struct {
	// Domain is the normalized domain the policy applies to.
	Domain string

	// RotationInterval is the interval between rotations.
	RotationInterval time.Duration

	// NextRotation is the time the next rotation falls due.
	NextRotation time.Time
}

// A Session is an externally supplied transaction context bracketing
// the database work of one rotation.
type Session interface {
	// StartTransaction begins the session's transaction.
	StartTransaction(ctx context.Context) error

	// CommitTransaction commits the session's transaction.
	CommitTransaction(ctx context.Context) error

	// AbortTransaction rolls the session's transaction back.
	AbortTransaction(ctx context.Context) error

	// EndSession releases the session's resources. It is called
	// exactly once, after the transaction has been committed or
	// aborted.
	EndSession(ctx context.Context)
}

// A Store provides access to rotation policies.
type Store interface {
	// GetDueForRotation returns every policy whose next rotation
	// time has passed.
	GetDueForRotation(ctx context.Context) ([]Policy, error)

	// FindByDomain returns the policy for the given domain. An
	// error with a code of errors.CodeNotFound is returned if the
	// domain has no policy.
	FindByDomain(ctx context.Context, domain string) (Policy, error)

	// GetSession returns a fresh session for one rotation's
	// database work.
	GetSession(ctx context.Context) (Session, error)

	// AcknowledgeSuccessfulRotation records, inside the given
	// session's transaction, that the policy's domain rotated now,
	// advancing its next rotation time.
	AcknowledgeSuccessfulRotation(ctx context.Context, p Policy, session Session) error
}

// A LockStore provides TTL-bounded distributed mutual exclusion. The
// store must expire stale leases so a crashed holder cannot deadlock
// a domain.
type LockStore interface {
	// Acquire attempts to take the lease with the given key,
	// returning an opaque holder token. The empty token with a nil
	// error means the lease is held by someone else.
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Release releases the lease iff the given token still holds
	// it. It reports whether a lease was released.
	Release(ctx context.Context, key, token string) (bool, error)
}
