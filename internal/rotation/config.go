// Copyright 2024 Canonical.

package rotation

import (
	"fmt"
	"sync"
	"time"

	"github.com/canonical/keyturn/internal/errors"
)

// Limits bounds the runtime-updatable scheduler settings.
type Limits struct {
	MinRetryInterval time.Duration
	MaxRetryInterval time.Duration
	MinRetries       int
	MaxRetries       int
}

// DefaultLimits are the production bounds for scheduler settings.
var DefaultLimits = Limits{
	MinRetryInterval: time.Minute,
	MaxRetryInterval: 10 * time.Minute,
	MinRetries:       1,
	MaxRetries:       10,
}

// A Config holds the scheduler's runtime-updatable settings. Updates
// are atomic per field and validated against the configured limits
// before any field is committed.
type Config struct {
	mu            sync.RWMutex
	limits        Limits
	maxRetries    int
	retryInterval time.Duration
}

// NewConfig returns a config with the given limits, starting at the
// given initial values. Initial values outside the limits are
// rejected.
func NewConfig(limits Limits, maxRetries int, retryInterval time.Duration) (*Config, error) {
	const op = errors.Op("rotation.NewConfig")

	c := &Config{
		limits:        limits,
		maxRetries:    limits.MinRetries,
		retryInterval: limits.MinRetryInterval,
	}
	if err := c.SetMaxRetries(maxRetries); err != nil {
		return nil, errors.E(op, err)
	}
	if err := c.SetRetryInterval(retryInterval); err != nil {
		return nil, errors.E(op, err)
	}
	return c, nil
}

// MaxRetries returns the current sweep attempt bound.
func (c *Config) MaxRetries() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxRetries
}

// RetryInterval returns the current sleep between sweep attempts.
func (c *Config) RetryInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.retryInterval
}

// SetMaxRetries updates the sweep attempt bound. A value outside the
// configured limits is rejected and the current value is kept.
func (c *Config) SetMaxRetries(n int) error {
	const op = errors.Op("rotation.SetMaxRetries")

	c.mu.Lock()
	defer c.mu.Unlock()
	if n < c.limits.MinRetries || n > c.limits.MaxRetries {
		return errors.E(op, errors.CodeServerConfiguration,
			fmt.Sprintf("max retries %d outside [%d, %d]", n, c.limits.MinRetries, c.limits.MaxRetries))
	}
	c.maxRetries = n
	return nil
}

// SetRetryInterval updates the sleep between sweep attempts. A value
// outside the configured limits is rejected and the current value is
// kept.
func (c *Config) SetRetryInterval(d time.Duration) error {
	const op = errors.Op("rotation.SetRetryInterval")

	c.mu.Lock()
	defer c.mu.Unlock()
	if d < c.limits.MinRetryInterval || d > c.limits.MaxRetryInterval {
		return errors.E(op, errors.CodeServerConfiguration,
			fmt.Sprintf("retry interval %v outside [%v, %v]", d, c.limits.MinRetryInterval, c.limits.MaxRetryInterval))
	}
	c.retryInterval = d
	return nil
}
