// Copyright 2024 Canonical.

package keystore

import (
	"sync"
)

// An ActiveRegistry records the single active KID per domain. The
// core requires only last-writer-wins semantics because mutations are
// always serialized by the rotation lease; implementations may
// substitute a durable backend.
type ActiveRegistry interface {
	// GetActive returns the active KID for the domain, or the empty
	// string if none is set.
	GetActive(domain string) string

	// SetActive records the active KID for the domain and returns
	// it. The KID is not validated to exist; the rotator guarantees
	// that precondition.
	SetActive(domain, kid string) string

	// ClearActive removes the active KID for the domain.
	ClearActive(domain string)

	// ClearAll removes every recorded active KID.
	ClearAll()
}

// A MemoryRegistry is the default process-local ActiveRegistry.
type MemoryRegistry struct {
	mu     sync.RWMutex
	active map[string]string
}

// NewMemoryRegistry returns an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{active: make(map[string]string)}
}

// GetActive implements ActiveRegistry.GetActive.
func (r *MemoryRegistry) GetActive(domain string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[domain]
}

// SetActive implements ActiveRegistry.SetActive.
func (r *MemoryRegistry) SetActive(domain, kid string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[domain] = kid
	return kid
}

// ClearActive implements ActiveRegistry.ClearActive.
func (r *MemoryRegistry) ClearActive(domain string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, domain)
}

// ClearAll implements ActiveRegistry.ClearAll.
func (r *MemoryRegistry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = make(map[string]string)
}

var _ ActiveRegistry = (*MemoryRegistry)(nil)
