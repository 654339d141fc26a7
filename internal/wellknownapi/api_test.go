// Copyright 2024 Canonical.

package wellknownapi_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/canonical/keyturn/internal/keyturntest"
	"github.com/canonical/keyturn/internal/wellknownapi"
)

var now = time.Date(2026, 1, 9, 13, 30, 0, 0, time.UTC)

func get(c *qt.C, f *keyturntest.Fixture, path string) *httptest.ResponseRecorder {
	handler := wellknownapi.NewWellKnownHandler(f.JWKS).Routes()
	rr := httptest.NewRecorder()
	req, err := http.NewRequest("GET", path, nil)
	c.Assert(err, qt.IsNil)
	handler.ServeHTTP(rr, req)
	return rr
}

func TestServeJWKS(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	f := keyturntest.NewFixture(t, now)

	kid, err := f.Generator.Generate(ctx, "USER")
	c.Assert(err, qt.IsNil)

	rr := get(c, f, "/jwks/USER.json")
	resp := rr.Result()
	defer resp.Body.Close()
	c.Assert(rr.Code, qt.Equals, http.StatusOK)
	c.Check(resp.Header.Get("Content-Type"), qt.Contains, "application/json")
	c.Check(resp.Header.Get("Cache-Control"), qt.Equals, "must-revalidate, max-age=3600")

	b, err := io.ReadAll(resp.Body)
	c.Assert(err, qt.IsNil)
	set, err := jwk.Parse(b)
	c.Assert(err, qt.IsNil)
	c.Assert(set.Len(), qt.Equals, 1)
	key, ok := set.Key(0)
	c.Assert(ok, qt.IsTrue)
	c.Check(key.KeyID(), qt.Equals, kid)
}

func TestServeJWKSEmptyDomain(t *testing.T) {
	c := qt.New(t)
	f := keyturntest.NewFixture(t, now)

	// A domain with no keys serves an empty set rather than an
	// error.
	rr := get(c, f, "/jwks/AUDIT.json")
	c.Assert(rr.Code, qt.Equals, http.StatusOK)

	set, err := jwk.Parse(rr.Body.Bytes())
	c.Assert(err, qt.IsNil)
	c.Check(set.Len(), qt.Equals, 0)
}

func TestServeJWKSInvalidDomain(t *testing.T) {
	c := qt.New(t)
	f := keyturntest.NewFixture(t, now)

	rr := get(c, f, "/jwks/bad%20domain.json")
	c.Assert(rr.Code, qt.Equals, http.StatusBadRequest)
}
