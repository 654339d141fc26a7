// Copyright 2024 Canonical.

package keyturntest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/canonical/keyturn/internal/errors"
	"github.com/canonical/keyturn/internal/policy"
)

// Session is a recording policy.Session fake.
type Session struct {
	mu        sync.Mutex
	Started   int
	Committed int
	Aborted   int
	Ended     int

	// CommitError, when set, is returned by CommitTransaction
	// instead of recording a commit.
	CommitError error
}

// StartTransaction implements policy.Session.
func (s *Session) StartTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Started++
	return nil
}

// CommitTransaction implements policy.Session.
func (s *Session) CommitTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CommitError != nil {
		return s.CommitError
	}
	s.Committed++
	return nil
}

// AbortTransaction implements policy.Session.
func (s *Session) AbortTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Aborted++
	return nil
}

// EndSession implements policy.Session.
func (s *Session) EndSession(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Ended++
}

var _ policy.Session = (*Session)(nil)

// LockStore is an in-memory policy.LockStore with TTL expiry.
type LockStore struct {
	Clock clock.Clock

	mu     sync.Mutex
	leases map[string]lease
}

type lease struct {
	token   string
	expires time.Time
}

// NewLockStore returns an in-memory lock store expiring leases
// against the given clock.
func NewLockStore(clk clock.Clock) *LockStore {
	if clk == nil {
		clk = clock.WallClock
	}
	return &LockStore{Clock: clk, leases: make(map[string]lease)}
}

// Acquire implements policy.LockStore.
func (s *LockStore) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Clock.Now()
	if l, ok := s.leases[key]; ok && l.expires.After(now) {
		return "", nil
	}
	token := uuid.NewString()
	s.leases[key] = lease{token: token, expires: now.Add(ttl)}
	return token, nil
}

// Release implements policy.LockStore.
func (s *LockStore) Release(ctx context.Context, key, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[key]
	if !ok || l.token != token {
		return false, nil
	}
	delete(s.leases, key)
	return true, nil
}

var _ policy.LockStore = (*LockStore)(nil)

// PolicyStore is an in-memory policy.Store. Rotation callbacks can be
// made to fail a set number of times through FailAcknowledge, which
// is how scheduler retry behaviour is exercised.
type PolicyStore struct {
	Clock clock.Clock

	mu              sync.Mutex
	policies        map[string]policy.Policy
	sessions        []*Session
	acknowledged    []string
	failAcknowledge map[string]int
}

// NewPolicyStore returns an empty in-memory policy store.
func NewPolicyStore(clk clock.Clock) *PolicyStore {
	if clk == nil {
		clk = clock.WallClock
	}
	return &PolicyStore{
		Clock:           clk,
		policies:        make(map[string]policy.Policy),
		failAcknowledge: make(map[string]int),
	}
}

// AddPolicy stores a policy.
func (s *PolicyStore) AddPolicy(p policy.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.Domain] = p
}

// FailAcknowledge makes the next n acknowledgements for the domain
// return an error.
func (s *PolicyStore) FailAcknowledge(domain string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAcknowledge[domain] = n
}

// Acknowledged returns the domains acknowledged so far, in order.
func (s *PolicyStore) Acknowledged() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.acknowledged...)
}

// Sessions returns every session handed out so far.
func (s *PolicyStore) Sessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Session(nil), s.sessions...)
}

// GetDueForRotation implements policy.Store.
func (s *PolicyStore) GetDueForRotation(ctx context.Context) ([]policy.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Clock.Now()
	var due []policy.Policy
	for _, p := range s.policies {
		if !p.NextRotation.After(now) {
			due = append(due, p)
		}
	}
	return due, nil
}

// FindByDomain implements policy.Store.
func (s *PolicyStore) FindByDomain(ctx context.Context, domain string) (policy.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[domain]
	if !ok {
		return policy.Policy{}, errors.E(errors.CodeNotFound)
	}
	return p, nil
}

// GetSession implements policy.Store.
func (s *PolicyStore) GetSession(ctx context.Context) (policy.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := &Session{}
	s.sessions = append(s.sessions, session)
	return session, nil
}

// AcknowledgeSuccessfulRotation implements policy.Store.
func (s *PolicyStore) AcknowledgeSuccessfulRotation(ctx context.Context, p policy.Policy, session policy.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.failAcknowledge[p.Domain]; n > 0 {
		s.failAcknowledge[p.Domain] = n - 1
		return errors.E(errors.CodeUnavailable, "acknowledge failure injected for "+p.Domain)
	}
	stored, ok := s.policies[p.Domain]
	if !ok {
		return errors.E(errors.CodeNotFound)
	}
	stored.NextRotation = s.Clock.Now().Add(stored.RotationInterval)
	s.policies[p.Domain] = stored
	s.acknowledged = append(s.acknowledged, p.Domain)
	return nil
}

var _ policy.Store = (*PolicyStore)(nil)
