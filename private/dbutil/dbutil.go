// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package dbutil contains helpers for opening and using SQL databases.
package dbutil

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq" // registers the postgres driver
	"github.com/zeebo/errs"
)

// Error is the default dbutil errs class.
var Error = errs.Class("dbutil")

// Config configures the connection pool.
type Config struct {
	URL              string        `help:"database connection url" default:"postgres://localhost/brightbroom?sslmode=disable"`
	MaxOpenConns     int           `help:"maximum open database connections" default:"25"`
	MaxIdleConns     int           `help:"maximum idle database connections" default:"5"`
	ConnMaxLifetime  time.Duration `help:"maximum lifetime of a database connection" default:"30m"`
	StatementTimeout time.Duration `help:"per statement timeout applied to every query" default:"10s"`
}

// Open opens a postgres database with pool settings applied.
func Open(ctx context.Context, config Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", config.URL)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		return nil, Error.Wrap(errs.Combine(err, db.Close()))
	}
	return db, nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on failure or panic.
func WithTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			err = errs.Combine(err, tx.Rollback())
		} else {
			err = Error.Wrap(tx.Commit())
		}
	}()
	return fn(ctx, tx)
}

// WithOrgTx runs fn inside a transaction pinned to an organization.
//
// It sets the transaction-local app.current_org_id variable so row level
// security policies can refuse cross-org reads as a safety net. Explicit
// org predicates in queries remain mandatory.
func WithOrgTx(ctx context.Context, db *sql.DB, orgID string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	return WithTx(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT set_config('app.current_org_id', $1, true)`, orgID); err != nil {
			return Error.Wrap(err)
		}
		return fn(ctx, tx)
	})
}
