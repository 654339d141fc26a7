// Copyright 2024 Canonical.

package dbmodel

import (
	"time"
)

// A RotationLease records exclusive ownership of a named lock. At
// most one unexpired lease exists per name.
type RotationLease struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// Name identifies the lock, for example "rotation:USER".
	Name string `gorm:"not null;uniqueIndex"`

	// Token authenticates release attempts by the lease holder.
	Token string `gorm:"not null"`

	// Expires is when the lease lapses. A lapsed lease may be taken
	// over by any acquirer.
	Expires time.Time `gorm:"not null"`
}

// TableName overrides the table name used by RotationLease.
func (RotationLease) TableName() string {
	return "rotation_leases"
}
