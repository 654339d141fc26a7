// Copyright 2024 Canonical.

// Package debugapi serves the /debug endpoints: build information and
// the results of registered status checks.
package debugapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/canonical/keyturn/version"
)

// DebugHandler holds the grouped router to be mounted and the status
// checks it reports on.
type DebugHandler struct {
	Router       *chi.Mux
	StatusChecks map[string]StatusCheck
}

// NewDebugHandler returns a new DebugHandler.
func NewDebugHandler(statusChecks map[string]StatusCheck) *DebugHandler {
	return &DebugHandler{Router: chi.NewRouter(), StatusChecks: statusChecks}
}

// Routes returns the grouped routers routes with group specific
// middlewares.
func (h *DebugHandler) Routes() chi.Router {
	h.SetupMiddleware()
	h.Router.Get("/info", h.Info)
	h.Router.Get("/status", h.Status)
	return h.Router
}

// SetupMiddleware applies middlewares.
func (h *DebugHandler) SetupMiddleware() {
	h.Router.Use(
		render.SetContentType(
			render.ContentTypeJSON,
		),
	)
}

// Info handles /info, returning the version of the running server.
func (h *DebugHandler) Info(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, version.VersionInfo)
}

// Status handles /status, running all registered status checks
// concurrently and reporting their results.
func (h *DebugHandler) Status(w http.ResponseWriter, r *http.Request) {
	var mu sync.Mutex
	results := make(map[string]statusResult, len(h.StatusChecks))
	var wg sync.WaitGroup
	wg.Add(len(h.StatusChecks))
	for k, check := range h.StatusChecks {
		k, check := k, check
		go func() {
			defer wg.Done()
			result := statusResult{
				Name: check.Name(),
			}
			start := time.Now()
			v, err := check.Check(r.Context())
			result.Duration = time.Since(start)
			if err == nil {
				result.Passed = true
				result.Value = v
			} else {
				result.Value = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			results[k] = result
		}()
	}
	wg.Wait()
	render.JSON(w, r, results)
}

// A statusResult is the type that represents the result of a status
// check in the /status response body.
type statusResult struct {
	Name     string
	Value    interface{}
	Passed   bool
	Duration time.Duration
}

// A StatusCheck is a check that is performed as part of the /status
// endpoint.
type StatusCheck interface {
	// Name is a human-readable name for the status check.
	Name() string

	// Check runs the actual check.
	Check(ctx context.Context) (interface{}, error)
}

// MakeStatusCheck creates a status check with the given human
// readable name which runs the given function.
func MakeStatusCheck(name string, f func(context.Context) (interface{}, error)) StatusCheck {
	return statusCheck{
		name: name,
		f:    f,
	}
}

// A statusCheck is the implementation of StatusCheck returned from
// MakeStatusCheck.
type statusCheck struct {
	name string
	f    func(context.Context) (interface{}, error)
}

// Name implements StatusCheck.Name.
func (c statusCheck) Name() string {
	return c.name
}

// Check implements StatusCheck.Check.
func (c statusCheck) Check(ctx context.Context) (interface{}, error) {
	return c.f(ctx)
}

var startTime = time.Now().UTC()

// ServerStartTime is a StatusCheck that returns the server start
// time.
var ServerStartTime = MakeStatusCheck("server start time", func(_ context.Context) (interface{}, error) {
	return startTime, nil
})
