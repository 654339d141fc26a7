// Copyright 2024 Canonical.

package keyturn_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/juju/clock/testclock"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/canonical/keyturn"
	"github.com/canonical/keyturn/internal/errors"
	"github.com/canonical/keyturn/internal/signer"
)

var now = time.Date(2026, 1, 9, 13, 30, 0, 0, time.UTC)

func newService(c *qt.C) (*keyturn.Service, *testclock.Clock) {
	dir := c.TempDir()
	clk := testclock.NewClock(now)
	svc, err := keyturn.NewService(context.Background(), keyturn.Params{
		DSN:    "file:" + filepath.Join(dir, "keyturn.db"),
		KeyDir: filepath.Join(dir, "keys"),
		Clock:  clk,
	})
	c.Assert(err, qt.IsNil)
	c.Cleanup(svc.Cleanup)
	return svc, clk
}

func TestServiceLifecycle(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	svc, _ := newService(c)

	c.Assert(svc.CreateDomain(ctx, "user", 24*time.Hour), qt.IsNil)
	kid, err := svc.Resolver.ActiveKID("USER")
	c.Assert(err, qt.IsNil)
	c.Assert(kid, qt.Not(qt.Equals), "")

	// Creating the domain again keeps the existing key.
	c.Assert(svc.CreateDomain(ctx, "USER", 48*time.Hour), qt.IsNil)
	kidAgain, err := svc.Resolver.ActiveKID("USER")
	c.Assert(err, qt.IsNil)
	c.Check(kidAgain, qt.Equals, kid)

	token, err := svc.Signer.Sign(ctx, "USER", map[string]any{"sub": "alice"}, signer.Options{})
	c.Assert(err, qt.IsNil)
	c.Check(token, qt.Not(qt.Equals), "")

	rotated, err := svc.TriggerRotation(ctx, "USER")
	c.Assert(err, qt.IsNil)
	c.Check(rotated, qt.IsTrue)

	newKid, err := svc.Resolver.ActiveKID("USER")
	c.Assert(err, qt.IsNil)
	c.Check(newKid, qt.Not(qt.Equals), kid)
}

func TestServiceHTTP(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	svc, _ := newService(c)

	c.Assert(svc.CreateDomain(ctx, "USER", 24*time.Hour), qt.IsNil)

	srv := httptest.NewServer(svc)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/.well-known/jwks/USER.json")
	c.Assert(err, qt.IsNil)
	defer resp.Body.Close()
	c.Assert(resp.StatusCode, qt.Equals, http.StatusOK)

	set, err := jwk.ParseReader(resp.Body)
	c.Assert(err, qt.IsNil)
	c.Check(set.Len(), qt.Equals, 1)

	resp, err = http.Get(srv.URL + "/debug/info")
	c.Assert(err, qt.IsNil)
	resp.Body.Close()
	c.Check(resp.StatusCode, qt.Equals, http.StatusOK)

	resp, err = http.Get(srv.URL + "/metrics")
	c.Assert(err, qt.IsNil)
	resp.Body.Close()
	c.Check(resp.StatusCode, qt.Equals, http.StatusOK)
}

func TestServiceRequiresKeyStorage(t *testing.T) {
	c := qt.New(t)

	_, err := keyturn.NewService(context.Background(), keyturn.Params{
		DSN: "file:" + filepath.Join(c.TempDir(), "keyturn.db"),
	})
	c.Check(errors.ErrorCode(err), qt.Equals, errors.CodeServerConfiguration)
}
