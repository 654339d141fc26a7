// Copyright 2024 Canonical.

package db

import (
	"context"

	"gorm.io/gorm"

	"github.com/canonical/keyturn/internal/dbmodel"
	"github.com/canonical/keyturn/internal/errors"
	"github.com/canonical/keyturn/internal/keycrypto"
	"github.com/canonical/keyturn/internal/policy"
	"github.com/canonical/keyturn/internal/servermon"
)

// SetPolicy creates or updates the rotation policy for a domain.
func (d *Database) SetPolicy(ctx context.Context, p policy.Policy) (err error) {
	const op = errors.Op("db.SetPolicy")

	if err := d.ready(); err != nil {
		return errors.E(op, err)
	}
	domain, err := keycrypto.NormalizeDomain(p.Domain)
	if err != nil {
		return errors.E(op, err)
	}

	durationObserver := servermon.DurationObserver(servermon.DBQueryDurationHistogram, string(op))
	defer durationObserver()
	defer servermon.ErrorCounter(servermon.DBQueryErrorCount, &err, string(op))

	err = d.Transaction(func(d *Database) error {
		rp := dbmodel.RotationPolicy{Domain: domain}
		err := d.DB.WithContext(ctx).Where("domain = ?", domain).First(&rp).Error
		if err != nil && err != gorm.ErrRecordNotFound {
			return err
		}
		rp.Domain = domain
		rp.RotationInterval = p.RotationInterval
		rp.NextRotation = p.NextRotation.UTC()
		return d.DB.WithContext(ctx).Save(&rp).Error
	})
	if err != nil {
		return errors.E(op, dbError(err))
	}
	return nil
}

// RemovePolicy removes the rotation policy for a domain. An error
// with a code of errors.CodeNotFound is returned if the domain has
// no policy.
func (d *Database) RemovePolicy(ctx context.Context, domain string) (err error) {
	const op = errors.Op("db.RemovePolicy")

	if err := d.ready(); err != nil {
		return errors.E(op, err)
	}
	domain, err = keycrypto.NormalizeDomain(domain)
	if err != nil {
		return errors.E(op, err)
	}

	durationObserver := servermon.DurationObserver(servermon.DBQueryDurationHistogram, string(op))
	defer durationObserver()
	defer servermon.ErrorCounter(servermon.DBQueryErrorCount, &err, string(op))

	result := d.DB.WithContext(ctx).Where("domain = ?", domain).Delete(&dbmodel.RotationPolicy{})
	if result.Error != nil {
		return errors.E(op, dbError(result.Error))
	}
	if result.RowsAffected == 0 {
		return errors.E(op, errors.CodeNotFound, "no rotation policy for domain "+domain)
	}
	return nil
}

// ListPolicies returns every rotation policy, ordered by domain.
func (d *Database) ListPolicies(ctx context.Context) (_ []policy.Policy, err error) {
	const op = errors.Op("db.ListPolicies")

	if err := d.ready(); err != nil {
		return nil, errors.E(op, err)
	}

	durationObserver := servermon.DurationObserver(servermon.DBQueryDurationHistogram, string(op))
	defer durationObserver()
	defer servermon.ErrorCounter(servermon.DBQueryErrorCount, &err, string(op))

	var rps []dbmodel.RotationPolicy
	if err := d.DB.WithContext(ctx).Order("domain").Find(&rps).Error; err != nil {
		return nil, errors.E(op, dbError(err))
	}
	policies := make([]policy.Policy, len(rps))
	for i, rp := range rps {
		policies[i] = toPolicy(rp)
	}
	return policies, nil
}

// GetDueForRotation implements policy.Store.
func (d *Database) GetDueForRotation(ctx context.Context) (_ []policy.Policy, err error) {
	const op = errors.Op("db.GetDueForRotation")

	if err := d.ready(); err != nil {
		return nil, errors.E(op, err)
	}

	durationObserver := servermon.DurationObserver(servermon.DBQueryDurationHistogram, string(op))
	defer durationObserver()
	defer servermon.ErrorCounter(servermon.DBQueryErrorCount, &err, string(op))

	var rps []dbmodel.RotationPolicy
	err = d.DB.WithContext(ctx).
		Where("next_rotation <= ?", d.now()).
		Order("domain").
		Find(&rps).Error
	if err != nil {
		return nil, errors.E(op, dbError(err))
	}
	policies := make([]policy.Policy, len(rps))
	for i, rp := range rps {
		policies[i] = toPolicy(rp)
	}
	return policies, nil
}

// FindByDomain implements policy.Store.
func (d *Database) FindByDomain(ctx context.Context, domain string) (_ policy.Policy, err error) {
	const op = errors.Op("db.FindByDomain")

	if err := d.ready(); err != nil {
		return policy.Policy{}, errors.E(op, err)
	}
	domain, err = keycrypto.NormalizeDomain(domain)
	if err != nil {
		return policy.Policy{}, errors.E(op, err)
	}

	durationObserver := servermon.DurationObserver(servermon.DBQueryDurationHistogram, string(op))
	defer durationObserver()
	defer servermon.ErrorCounter(servermon.DBQueryErrorCount, &err, string(op))

	var rp dbmodel.RotationPolicy
	if err := d.DB.WithContext(ctx).Where("domain = ?", domain).First(&rp).Error; err != nil {
		return policy.Policy{}, errors.E(op, dbError(err))
	}
	return toPolicy(rp), nil
}

// GetSession implements policy.Store.
func (d *Database) GetSession(ctx context.Context) (policy.Session, error) {
	const op = errors.Op("db.GetSession")

	if err := d.ready(); err != nil {
		return nil, errors.E(op, err)
	}
	return &Session{db: d}, nil
}

// AcknowledgeSuccessfulRotation implements policy.Store. When the
// given session holds an open transaction the update runs inside it,
// so it commits or aborts with the rest of the rotation's database
// work.
func (d *Database) AcknowledgeSuccessfulRotation(ctx context.Context, p policy.Policy, session policy.Session) (err error) {
	const op = errors.Op("db.AcknowledgeSuccessfulRotation")

	if err := d.ready(); err != nil {
		return errors.E(op, err)
	}
	domain, err := keycrypto.NormalizeDomain(p.Domain)
	if err != nil {
		return errors.E(op, err)
	}

	durationObserver := servermon.DurationObserver(servermon.DBQueryDurationHistogram, string(op))
	defer durationObserver()
	defer servermon.ErrorCounter(servermon.DBQueryErrorCount, &err, string(op))

	db := d.DB.WithContext(ctx)
	if s, ok := session.(*Session); ok && s.tx != nil {
		db = s.tx
	}

	var rp dbmodel.RotationPolicy
	if err := db.Where("domain = ?", domain).First(&rp).Error; err != nil {
		return errors.E(op, dbError(err))
	}
	rp.NextRotation = d.now().Add(rp.RotationInterval)
	if err := db.Save(&rp).Error; err != nil {
		return errors.E(op, dbError(err))
	}
	return nil
}

func toPolicy(rp dbmodel.RotationPolicy) policy.Policy {
	return policy.Policy{
		Domain:           rp.Domain,
		RotationInterval: rp.RotationInterval,
		NextRotation:     rp.NextRotation,
	}
}

var _ policy.Store = (*Database)(nil)

// A Session is a policy.Session backed by one database transaction.
type Session struct {
	db *Database
	tx *gorm.DB
}

// StartTransaction implements policy.Session.
func (s *Session) StartTransaction(ctx context.Context) error {
	const op = errors.Op("db.StartTransaction")

	if s.tx != nil {
		return errors.E(op, errors.CodeConflict, "transaction already started")
	}
	tx := s.db.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return errors.E(op, dbError(tx.Error))
	}
	s.tx = tx
	return nil
}

// CommitTransaction implements policy.Session.
func (s *Session) CommitTransaction(ctx context.Context) error {
	const op = errors.Op("db.CommitTransaction")

	if s.tx == nil {
		return errors.E(op, errors.CodeConflict, "no transaction in progress")
	}
	err := s.tx.Commit().Error
	s.tx = nil
	if err != nil {
		return errors.E(op, dbError(err))
	}
	return nil
}

// AbortTransaction implements policy.Session.
func (s *Session) AbortTransaction(ctx context.Context) error {
	const op = errors.Op("db.AbortTransaction")

	if s.tx == nil {
		return errors.E(op, errors.CodeConflict, "no transaction in progress")
	}
	err := s.tx.Rollback().Error
	s.tx = nil
	if err != nil {
		return errors.E(op, dbError(err))
	}
	return nil
}

// EndSession implements policy.Session. A transaction still open at
// the end of the session is rolled back.
func (s *Session) EndSession(ctx context.Context) {
	if s.tx != nil {
		s.tx.Rollback()
		s.tx = nil
	}
}

var _ policy.Session = (*Session)(nil)
