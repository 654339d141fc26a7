// Copyright 2024 Canonical.

// Package db contains routines to store and retrieve data from a
// database.
package db

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"gorm.io/gorm"

	"github.com/canonical/keyturn/internal/dbmodel"
	"github.com/canonical/keyturn/internal/errors"
)

// A Database provides access to the database model. A Database
// instance is safe to use from multiple goroutines.
type Database struct {
	// DB contains the gorm database storing the data.
	DB *gorm.DB

	// Clock supplies the time used for lease expiry and rotation
	// scheduling. A nil Clock selects the wall clock.
	Clock clock.Clock

	// migrated holds whether the database has been successfully
	// migrated to the current database model. The value of migrated
	// should always be read using atomic.LoadUint32 and will contain
	// a 0 if the migration is yet to be run, or 1 if it has been run
	// successfully.
	migrated uint32
}

// Transaction starts a new transaction using the database. This
// allows a set of changes to be performed as a single atomic unit.
// All of the transaction steps should be performed in the given
// function, if this function returns an error then all changes in
// the transaction will be aborted and the error returned.
// Transactions may be nested.
func (d *Database) Transaction(f func(*Database) error) error {
	if err := d.ready(); err != nil {
		return err
	}
	return d.DB.Transaction(func(tx *gorm.DB) error {
		d := *d
		d.DB = tx
		return f(&d)
	})
}

// Migrate migrates the configured database to have the structure
// required by the current data model.
func (d *Database) Migrate(ctx context.Context) error {
	const op = errors.Op("db.Migrate")

	if d == nil || d.DB == nil {
		return errors.E(op, errors.CodeServerConfiguration, "database not configured")
	}
	db := d.DB.WithContext(ctx)
	if err := db.AutoMigrate(
		&dbmodel.RotationPolicy{},
		&dbmodel.RotationLease{},
	); err != nil {
		return errors.E(op, dbError(err))
	}
	atomic.StoreUint32(&d.migrated, 1)
	return nil
}

// ready checks that the database is ready to accept requests. An
// error is returned if the database is not yet initialised.
func (d *Database) ready() error {
	if d == nil || d.DB == nil {
		return errors.E(errors.CodeServerConfiguration, "database not configured")
	}
	if atomic.LoadUint32(&d.migrated) == 0 {
		return errors.E(errors.CodeUnavailable, "database not migrated")
	}
	return nil
}

// now returns the current time in UTC truncated to milliseconds,
// which is the resolution supported on all databases.
func (d *Database) now() time.Time {
	clk := d.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	return clk.Now().UTC().Truncate(time.Millisecond)
}

// Close closes open connections to the underlying database backend.
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return errors.E(err, "failed to get the internal DB object")
	}
	if err := sqlDB.Close(); err != nil {
		return errors.E(err, "failed to close database connection")
	}
	return nil
}
