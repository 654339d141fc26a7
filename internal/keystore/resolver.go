// Copyright 2024 Canonical.

package keystore

import (
	"context"

	"github.com/canonical/keyturn/internal/errors"
	"github.com/canonical/keyturn/internal/keycrypto"
)

// A Resolver is a thin facade over the active registry and the key
// repository, mapping a domain to its active KID and that KID's
// signing material. Every entry point normalizes its domain input
// first.
type Resolver struct {
	registry   ActiveRegistry
	repository *Repository
}

// NewResolver returns a resolver over the given registry and
// repository.
func NewResolver(registry ActiveRegistry, repository *Repository) *Resolver {
	return &Resolver{registry: registry, repository: repository}
}

// ActiveKID returns the active KID for the given domain, or the
// empty string if none is set.
func (r *Resolver) ActiveKID(domain string) (string, error) {
	const op = errors.Op("keystore.ActiveKID")

	d, err := keycrypto.NormalizeDomain(domain)
	if err != nil {
		return "", errors.E(op, err)
	}
	return r.registry.GetActive(d), nil
}

// SigningKey returns the private PEM of the domain's active key. The
// PEM is not parsed into a signing handle here; that is the signer's
// concern. An error with a code of CodeNoActiveKey is returned if the
// domain has no active KID.
func (r *Resolver) SigningKey(ctx context.Context, domain string) ([]byte, error) {
	const op = errors.Op("keystore.SigningKey")

	kid, err := r.ActiveKID(domain)
	if err != nil {
		return nil, errors.E(op, err)
	}
	if kid == "" {
		return nil, errors.E(op, errors.CodeNoActiveKey, "no active key for domain "+domain)
	}
	pem, err := r.repository.ReadPrivatePEM(ctx, kid)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return pem, nil
}

// SetActive records the given KID as the domain's active key.
func (r *Resolver) SetActive(domain, kid string) (string, error) {
	const op = errors.Op("keystore.SetActive")

	d, err := keycrypto.NormalizeDomain(domain)
	if err != nil {
		return "", errors.E(op, err)
	}
	return r.registry.SetActive(d, kid), nil
}

// ClearActive removes the domain's active KID.
func (r *Resolver) ClearActive(domain string) error {
	const op = errors.Op("keystore.ClearActive")

	d, err := keycrypto.NormalizeDomain(domain)
	if err != nil {
		return errors.E(op, err)
	}
	r.registry.ClearActive(d)
	return nil
}
