// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package platformdb

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/zeebo/errs"
)

func errsCombine(errors ...error) error {
	return errs.Combine(errors...)
}

// isUniqueViolation reports whether err is a postgres unique constraint
// failure.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// rowsChanged reports whether the statement changed at least one row, the
// predicated-update idiom used all over this package.
func rowsChanged(result sql.Result) (bool, error) {
	count, err := result.RowsAffected()
	if err != nil {
		return false, Error.Wrap(err)
	}
	return count > 0, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	value := t.Time
	return &value
}

func timeNullable(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// nullUUID reads a nullable uuid column.
func nullUUID(raw sql.NullString) (uuid.UUID, error) {
	if !raw.Valid || raw.String == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(raw.String)
}

// uuidNullable writes uuid.Nil as NULL.
func uuidNullable(id uuid.UUID) interface{} {
	if id == uuid.Nil {
		return nil
	}
	return id
}
