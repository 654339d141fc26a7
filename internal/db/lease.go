// Copyright 2024 Canonical.

package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/canonical/keyturn/internal/dbmodel"
	"github.com/canonical/keyturn/internal/errors"
	"github.com/canonical/keyturn/internal/policy"
	"github.com/canonical/keyturn/internal/servermon"
)

// Acquire implements policy.LockStore. An unexpired lease held under
// a different token yields the empty token without error; an expired
// lease is taken over.
func (d *Database) Acquire(ctx context.Context, key string, ttl time.Duration) (_ string, err error) {
	const op = errors.Op("db.Acquire")

	if err := d.ready(); err != nil {
		return "", errors.E(op, err)
	}

	durationObserver := servermon.DurationObserver(servermon.DBQueryDurationHistogram, string(op))
	defer durationObserver()
	defer servermon.ErrorCounter(servermon.DBQueryErrorCount, &err, string(op))

	token := uuid.NewString()
	now := d.now()
	err = d.Transaction(func(d *Database) error {
		var l dbmodel.RotationLease
		err := d.DB.WithContext(ctx).Where("name = ?", key).First(&l).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			l = dbmodel.RotationLease{
				Name:    key,
				Token:   token,
				Expires: now.Add(ttl),
			}
			return d.DB.WithContext(ctx).Create(&l).Error
		case err != nil:
			return err
		}
		// The expiry check runs inside the UPDATE itself, so two
		// acquirers racing for a lapsed lease cannot both win: the
		// loser's update matches zero rows once the winner's new
		// expiry is visible.
		result := d.DB.WithContext(ctx).
			Model(&dbmodel.RotationLease{}).
			Where("name = ? AND expires <= ?", key, now).
			Updates(map[string]any{
				"token":   token,
				"expires": now.Add(ttl),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errors.E(errors.CodeConflict, "lease held")
		}
		return nil
	})
	if err != nil {
		// A lost race surfaces either as the held-lease conflict
		// above or as a unique violation from a concurrent insert.
		// Both mean the lease belongs to someone else.
		err = dbError(err)
		switch errors.ErrorCode(err) {
		case errors.CodeConflict, errors.CodeAlreadyExists:
			return "", nil
		}
		return "", errors.E(op, err)
	}
	return token, nil
}

// Release implements policy.LockStore. The lease is removed only if
// the given token still holds it.
func (d *Database) Release(ctx context.Context, key, token string) (_ bool, err error) {
	const op = errors.Op("db.Release")

	if err := d.ready(); err != nil {
		return false, errors.E(op, err)
	}

	durationObserver := servermon.DurationObserver(servermon.DBQueryDurationHistogram, string(op))
	defer durationObserver()
	defer servermon.ErrorCounter(servermon.DBQueryErrorCount, &err, string(op))

	result := d.DB.WithContext(ctx).
		Where("name = ? AND token = ?", key, token).
		Delete(&dbmodel.RotationLease{})
	if result.Error != nil {
		return false, errors.E(op, dbError(result.Error))
	}
	return result.RowsAffected > 0, nil
}

var _ policy.LockStore = (*Database)(nil)
