// Copyright 2024 Canonical.

package rotation_test

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/canonical/keyturn/internal/errors"
	"github.com/canonical/keyturn/internal/rotation"
)

func TestNewConfig(t *testing.T) {
	c := qt.New(t)

	cfg, err := rotation.NewConfig(rotation.DefaultLimits, 3, 2*time.Minute)
	c.Assert(err, qt.IsNil)
	c.Check(cfg.MaxRetries(), qt.Equals, 3)
	c.Check(cfg.RetryInterval(), qt.Equals, 2*time.Minute)

	_, err = rotation.NewConfig(rotation.DefaultLimits, 0, 2*time.Minute)
	c.Check(errors.ErrorCode(err), qt.Equals, errors.CodeServerConfiguration)

	_, err = rotation.NewConfig(rotation.DefaultLimits, 3, time.Second)
	c.Check(errors.ErrorCode(err), qt.Equals, errors.CodeServerConfiguration)
}

func TestConfigUpdateBounds(t *testing.T) {
	c := qt.New(t)

	cfg, err := rotation.NewConfig(rotation.DefaultLimits, 3, 2*time.Minute)
	c.Assert(err, qt.IsNil)

	err = cfg.SetMaxRetries(rotation.DefaultLimits.MaxRetries + 1)
	c.Check(errors.ErrorCode(err), qt.Equals, errors.CodeServerConfiguration)
	c.Check(cfg.MaxRetries(), qt.Equals, 3)

	err = cfg.SetRetryInterval(time.Hour)
	c.Check(errors.ErrorCode(err), qt.Equals, errors.CodeServerConfiguration)
	c.Check(cfg.RetryInterval(), qt.Equals, 2*time.Minute)

	// A rejected update on one field never disturbs the other.
	c.Assert(cfg.SetMaxRetries(5), qt.IsNil)
	err = cfg.SetRetryInterval(0)
	c.Check(err, qt.IsNotNil)
	c.Check(cfg.MaxRetries(), qt.Equals, 5)
	c.Check(cfg.RetryInterval(), qt.Equals, 2*time.Minute)
}
