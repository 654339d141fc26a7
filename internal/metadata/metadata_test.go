// Copyright 2024 Canonical.

package metadata_test

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/juju/clock/testclock"

	"github.com/canonical/keyturn/internal/blob"
	"github.com/canonical/keyturn/internal/errors"
	"github.com/canonical/keyturn/internal/metadata"
)

const testKID = "USER-20260109-133000-ABCDEF01"

func newManager(c *qt.C, now time.Time) (*metadata.Manager, *testclock.Clock) {
	store, err := blob.NewLocalStore(c.TempDir())
	c.Assert(err, qt.IsNil)
	clk := testclock.NewClock(now)
	return metadata.NewManager(store, clk), clk
}

func TestCreateAndRead(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 9, 13, 30, 0, 0, time.UTC)
	m, _ := newManager(c, now)

	err := m.Create(ctx, "USER", testKID, now)
	c.Assert(err, qt.IsNil)

	r, err := m.Read(ctx, "USER", testKID)
	c.Assert(err, qt.IsNil)
	c.Check(r.KID, qt.Equals, testKID)
	c.Check(r.Domain, qt.Equals, "USER")
	c.Check(r.CreatedAt.Equal(now), qt.IsTrue)
	c.Check(r.ExpiredAt, qt.IsNil)
}

func TestCreateRefusesOverwrite(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 9, 13, 30, 0, 0, time.UTC)
	m, _ := newManager(c, now)

	c.Assert(m.Create(ctx, "USER", testKID, now), qt.IsNil)
	err := m.Create(ctx, "USER", testKID, now)
	c.Check(errors.ErrorCode(err), qt.Equals, errors.CodeAlreadyExists)
}

func TestReadMissing(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	m, _ := newManager(c, time.Now())

	_, err := m.Read(ctx, "USER", testKID)
	c.Check(errors.ErrorCode(err), qt.Equals, errors.CodeNotFound)
}

func TestAddExpiryWritesArchiveLeavesOrigin(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 9, 13, 30, 0, 0, time.UTC)
	m, _ := newManager(c, now)

	c.Assert(m.Create(ctx, "USER", testKID, now), qt.IsNil)

	expiry := now.Add(7 * 24 * time.Hour)
	r, err := m.AddExpiry(ctx, "USER", testKID, expiry)
	c.Assert(err, qt.IsNil)
	c.Assert(r.ExpiredAt, qt.Not(qt.IsNil))
	c.Check(r.ExpiredAt.Equal(expiry), qt.IsTrue)

	// The origin record is untouched: deleting the archive record
	// must still leave the origin readable without an expiry.
	c.Assert(m.DeleteArchive(ctx, testKID), qt.IsNil)
	r, err = m.Read(ctx, "USER", testKID)
	c.Assert(err, qt.IsNil)
	c.Check(r.ExpiredAt, qt.IsNil)
}

func TestAddExpiryIdempotent(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 9, 13, 30, 0, 0, time.UTC)
	m, _ := newManager(c, now)

	c.Assert(m.Create(ctx, "USER", testKID, now), qt.IsNil)

	expiry := now.Add(time.Hour)
	first, err := m.AddExpiry(ctx, "USER", testKID, expiry)
	c.Assert(err, qt.IsNil)
	second, err := m.AddExpiry(ctx, "USER", testKID, expiry)
	c.Assert(err, qt.IsNil)
	c.Check(first.ExpiredAt.Equal(*second.ExpiredAt), qt.IsTrue)
}

func TestAddExpiryMissingRecord(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	m, _ := newManager(c, time.Now())

	_, err := m.AddExpiry(ctx, "USER", testKID, time.Now())
	c.Check(errors.ErrorCode(err), qt.Equals, errors.CodeNotFound)
}

func TestReadFallsBackToArchive(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 9, 13, 30, 0, 0, time.UTC)
	m, _ := newManager(c, now)

	c.Assert(m.Create(ctx, "USER", testKID, now), qt.IsNil)
	_, err := m.AddExpiry(ctx, "USER", testKID, now.Add(time.Hour))
	c.Assert(err, qt.IsNil)
	c.Assert(m.DeleteOrigin(ctx, "USER", testKID), qt.IsNil)

	r, err := m.Read(ctx, "USER", testKID)
	c.Assert(err, qt.IsNil)
	c.Check(r.ExpiredAt, qt.Not(qt.IsNil))
}

func TestDeleteIdempotent(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	m, _ := newManager(c, time.Now())

	c.Check(m.DeleteOrigin(ctx, "USER", testKID), qt.IsNil)
	c.Check(m.DeleteArchive(ctx, testKID), qt.IsNil)
}

func TestListExpired(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 9, 13, 30, 0, 0, time.UTC)
	m, clk := newManager(c, now)

	const liveKID = "USER-20260109-133001-ABCDEF02"

	c.Assert(m.Create(ctx, "USER", testKID, now), qt.IsNil)
	c.Assert(m.Create(ctx, "USER", liveKID, now), qt.IsNil)

	_, err := m.AddExpiry(ctx, "USER", testKID, now.Add(time.Hour))
	c.Assert(err, qt.IsNil)
	_, err = m.AddExpiry(ctx, "USER", liveKID, now.Add(48*time.Hour))
	c.Assert(err, qt.IsNil)

	// Nothing has expired yet.
	expired, err := m.ListExpired(ctx)
	c.Assert(err, qt.IsNil)
	c.Check(expired, qt.HasLen, 0)

	clk.Advance(2 * time.Hour)
	expired, err = m.ListExpired(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(expired, qt.HasLen, 1)
	c.Check(expired[0].KID, qt.Equals, testKID)
}

func TestListExpiredBoundaryIsStrict(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 9, 13, 30, 0, 0, time.UTC)
	m, _ := newManager(c, now)

	c.Assert(m.Create(ctx, "USER", testKID, now), qt.IsNil)
	_, err := m.AddExpiry(ctx, "USER", testKID, now)
	c.Assert(err, qt.IsNil)

	// expiredAt == now is not yet expired.
	expired, err := m.ListExpired(ctx)
	c.Assert(err, qt.IsNil)
	c.Check(expired, qt.HasLen, 0)
}
