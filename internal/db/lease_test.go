// Copyright 2024 Canonical.

package db_test

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestAcquireAndRelease(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	d, _ := newDatabase(c)

	token, err := d.Acquire(ctx, "rotation:USER", 5*time.Minute)
	c.Assert(err, qt.IsNil)
	c.Assert(token, qt.Not(qt.Equals), "")

	// A held lease cannot be acquired again.
	other, err := d.Acquire(ctx, "rotation:USER", 5*time.Minute)
	c.Assert(err, qt.IsNil)
	c.Check(other, qt.Equals, "")

	// A different key is independent.
	otherKey, err := d.Acquire(ctx, "rotation:ORDER", 5*time.Minute)
	c.Assert(err, qt.IsNil)
	c.Check(otherKey, qt.Not(qt.Equals), "")

	released, err := d.Release(ctx, "rotation:USER", token)
	c.Assert(err, qt.IsNil)
	c.Check(released, qt.IsTrue)

	// After release the lease is free again.
	token2, err := d.Acquire(ctx, "rotation:USER", 5*time.Minute)
	c.Assert(err, qt.IsNil)
	c.Check(token2, qt.Not(qt.Equals), "")
	c.Check(token2, qt.Not(qt.Equals), token)
}

func TestReleaseRequiresHolderToken(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	d, _ := newDatabase(c)

	token, err := d.Acquire(ctx, "rotation:USER", 5*time.Minute)
	c.Assert(err, qt.IsNil)

	released, err := d.Release(ctx, "rotation:USER", "not-the-token")
	c.Assert(err, qt.IsNil)
	c.Check(released, qt.IsFalse)

	// Releasing a key that was never acquired is not an error.
	released, err = d.Release(ctx, "rotation:AUDIT", token)
	c.Assert(err, qt.IsNil)
	c.Check(released, qt.IsFalse)
}

func TestAcquireTakesOverExpiredLease(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	d, clk := newDatabase(c)

	stale, err := d.Acquire(ctx, "rotation:USER", 5*time.Minute)
	c.Assert(err, qt.IsNil)
	c.Assert(stale, qt.Not(qt.Equals), "")

	// Just before expiry the lease still holds.
	clk.Advance(5*time.Minute - time.Second)
	token, err := d.Acquire(ctx, "rotation:USER", 5*time.Minute)
	c.Assert(err, qt.IsNil)
	c.Check(token, qt.Equals, "")

	// A crashed holder's lease lapses and can be taken over.
	clk.Advance(2 * time.Second)
	token, err = d.Acquire(ctx, "rotation:USER", 5*time.Minute)
	c.Assert(err, qt.IsNil)
	c.Check(token, qt.Not(qt.Equals), "")

	// The stale token can no longer release it.
	released, err := d.Release(ctx, "rotation:USER", stale)
	c.Assert(err, qt.IsNil)
	c.Check(released, qt.IsFalse)
}

func TestAcquireExpiredLeaseHasOneWinner(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	d, clk := newDatabase(c)

	stale, err := d.Acquire(ctx, "rotation:USER", 5*time.Minute)
	c.Assert(err, qt.IsNil)
	c.Assert(stale, qt.Not(qt.Equals), "")

	clk.Advance(6 * time.Minute)

	// The first taker of the lapsed lease renews its expiry, so the
	// second taker's guarded update matches nothing and it loses.
	winner, err := d.Acquire(ctx, "rotation:USER", 5*time.Minute)
	c.Assert(err, qt.IsNil)
	c.Check(winner, qt.Not(qt.Equals), "")
	loser, err := d.Acquire(ctx, "rotation:USER", 5*time.Minute)
	c.Assert(err, qt.IsNil)
	c.Check(loser, qt.Equals, "")

	// Only the winner's token releases the lease.
	released, err := d.Release(ctx, "rotation:USER", stale)
	c.Assert(err, qt.IsNil)
	c.Check(released, qt.IsFalse)
	released, err = d.Release(ctx, "rotation:USER", winner)
	c.Assert(err, qt.IsNil)
	c.Check(released, qt.IsTrue)
}
