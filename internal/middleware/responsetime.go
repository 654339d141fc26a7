// Copyright 2024 Canonical.

package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/canonical/keyturn/internal/servermon"
)

// MeasureResponseTime tracks response time of requests. The route
// label uses the matched chi pattern, resolved after the handler has
// run, so parameterized paths like /jwks/{domain}.json stay a single
// series instead of one per domain.
func MeasureResponseTime(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		duration := time.Since(start)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		servermon.ResponseTimeHistogram.WithLabelValues(route, r.Method).Observe(duration.Seconds())
	})
}
