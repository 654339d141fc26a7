// Copyright 2024 Canonical.

// Package wellknownapi serves the public verification surface: the
// per-domain JWKS documents under /.well-known.
package wellknownapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/juju/zaputil/zapctx"
	"go.uber.org/zap"

	"github.com/canonical/keyturn/internal/errors"
	"github.com/canonical/keyturn/internal/jwks"
)

// DefaultMaxAge is how long clients may cache a served JWKS. It
// matches the server-side JWK cache lifetime, so a client refreshing
// on schedule never lags the server by more than one cache window.
const DefaultMaxAge = time.Hour

// WellKnownHandler holds the grouped router to be mounted and the
// JWKS builder backing it.
type WellKnownHandler struct {
	Router *chi.Mux
	JWKS   *jwks.Builder

	// MaxAge overrides DefaultMaxAge when positive.
	MaxAge time.Duration
}

// NewWellKnownHandler returns a new WellKnownHandler.
func NewWellKnownHandler(builder *jwks.Builder) *WellKnownHandler {
	return &WellKnownHandler{Router: chi.NewRouter(), JWKS: builder}
}

// Routes returns the grouped routers routes with group specific
// middlewares.
func (wkh *WellKnownHandler) Routes() chi.Router {
	wkh.SetupMiddleware()
	wkh.Router.Get("/jwks/{domain}.json", wkh.ServeJWKS)
	return wkh.Router
}

// SetupMiddleware applies middlewares.
func (wkh *WellKnownHandler) SetupMiddleware() {
	wkh.Router.Use(
		render.SetContentType(
			render.ContentTypeJSON,
		),
	)
}

// ServeJWKS handles /jwks/{domain}.json, serving the JWK set token
// verifiers fetch to check signatures from the domain. Retired keys
// remain in the set until they are reaped, so tokens signed before a
// rotation keep verifying through their grace period.
func (wkh *WellKnownHandler) ServeJWKS(w http.ResponseWriter, r *http.Request) {
	const op = errors.Op("wellknownapi.ServeJWKS")
	ctx := r.Context()
	if wkh == nil || wkh.JWKS == nil {
		zapctx.Error(ctx, "nil reference in JWKS handler")
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, errors.E(op, "JWKS builder not configured"))
		return
	}

	domain := chi.URLParam(r, "domain")
	ks, err := wkh.JWKS.GetJWKS(ctx, domain)
	if err != nil {
		if errors.ErrorCode(err) == errors.CodeBadRequest {
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, errors.E(op, errors.CodeBadRequest, "invalid domain"))
			return
		}
		zapctx.Error(ctx, "HTTP error", zap.NamedError("/jwks/{domain}.json", errors.E(op, err)))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, errors.E(op, "failed to assemble JWKS"))
		return
	}

	maxAge := wkh.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	w.Header().Add("Cache-Control", fmt.Sprintf("must-revalidate, max-age=%d", int64(maxAge.Seconds())))
	render.JSON(w, r, ks)
}
