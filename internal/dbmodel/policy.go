// Copyright 2024 Canonical.

// Package dbmodel contains the database model for the key lifecycle
// service.
package dbmodel

import (
	"time"
)

// A RotationPolicy holds the rotation schedule for one domain.
type RotationPolicy struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// Domain is the normalized domain this policy applies to.
	Domain string `gorm:"not null;uniqueIndex"`

	// RotationInterval is how long a key stays active before the
	// scheduler rotates it.
	RotationInterval time.Duration `gorm:"not null"`

	// NextRotation is when the domain is next due for rotation.
	NextRotation time.Time `gorm:"not null;index"`
}

// TableName overrides the table name used by RotationPolicy.
func (RotationPolicy) TableName() string {
	return "rotation_policies"
}
