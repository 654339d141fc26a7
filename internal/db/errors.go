// Copyright 2024 Canonical.

package db

import (
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/canonical/keyturn/internal/errors"
)

// postgresql error codes from
// https://www.postgresql.org/docs/11/errcodes-appendix.html.
const pgUniqueViolation = "23505"

// dbError translates an error returned from the database into the
// error form understood by the rest of the system.
func dbError(err error) error {
	code := errors.Code(errors.ErrorCode(err))

	if err == gorm.ErrRecordNotFound {
		code = errors.CodeNotFound
	}
	if err == gorm.ErrDuplicatedKey {
		code = errors.CodeAlreadyExists
	}

	if e, ok := err.(*pgconn.PgError); ok {
		if e.Code == pgUniqueViolation {
			code = errors.CodeAlreadyExists
		}
	}

	return errors.E(code, err)
}
