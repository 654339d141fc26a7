// Copyright 2024 Canonical.

package debugapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/canonical/keyturn/internal/debugapi"
	"github.com/canonical/keyturn/internal/errors"
	"github.com/canonical/keyturn/version"
)

func get(c *qt.C, checks map[string]debugapi.StatusCheck, path string) *httptest.ResponseRecorder {
	handler := debugapi.NewDebugHandler(checks).Routes()
	rr := httptest.NewRecorder()
	req, err := http.NewRequest("GET", path, nil)
	c.Assert(err, qt.IsNil)
	handler.ServeHTTP(rr, req)
	return rr
}

func TestInfo(t *testing.T) {
	c := qt.New(t)

	rr := get(c, nil, "/info")
	c.Assert(rr.Code, qt.Equals, http.StatusOK)

	var v version.Version
	c.Assert(json.Unmarshal(rr.Body.Bytes(), &v), qt.IsNil)
	c.Check(v, qt.Equals, version.VersionInfo)
}

func TestStatus(t *testing.T) {
	c := qt.New(t)

	checks := map[string]debugapi.StatusCheck{
		"ok": debugapi.MakeStatusCheck("check that passes", func(context.Context) (interface{}, error) {
			return "fine", nil
		}),
		"bad": debugapi.MakeStatusCheck("check that fails", func(context.Context) (interface{}, error) {
			return nil, errors.E("broken")
		}),
	}
	rr := get(c, checks, "/status")
	c.Assert(rr.Code, qt.Equals, http.StatusOK)

	var results map[string]struct {
		Name   string
		Value  interface{}
		Passed bool
	}
	c.Assert(json.Unmarshal(rr.Body.Bytes(), &results), qt.IsNil)
	c.Assert(results, qt.HasLen, 2)
	c.Check(results["ok"].Passed, qt.IsTrue)
	c.Check(results["ok"].Value, qt.Equals, "fine")
	c.Check(results["bad"].Passed, qt.IsFalse)
	c.Check(results["bad"].Value, qt.Equals, "broken")
}
