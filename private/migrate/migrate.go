// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package migrate implements a minimal versioned SQL migration runner.
package migrate

import (
	"context"
	"database/sql"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// Error is the default migrate errs class.
var Error = errs.Class("migrate")

// Migration describes a migration steps.
type Migration struct {
	// Table is the name of the versions table.
	Table string
	Steps []*Step
}

// Step describes a single migration step.
type Step struct {
	Description string
	Version     int
	Action      Action
}

// Action is something that can run a migration step inside a transaction.
type Action interface {
	Run(ctx context.Context, log *zap.Logger, tx *sql.Tx) error
}

// SQL is an Action that executes a list of statements.
type SQL []string

// Run executes the SQL statements.
func (sqls SQL) Run(ctx context.Context, log *zap.Logger, tx *sql.Tx) error {
	for _, query := range sqls {
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

// Func is an Action that runs an arbitrary function.
type Func func(ctx context.Context, log *zap.Logger, tx *sql.Tx) error

// Run runs the migration function.
func (fn Func) Run(ctx context.Context, log *zap.Logger, tx *sql.Tx) error {
	return fn(ctx, log, tx)
}

// Run applies all unapplied steps in order, each in its own transaction.
func (migration *Migration) Run(ctx context.Context, log *zap.Logger, db *sql.DB) error {
	if migration.Table == "" {
		migration.Table = "versions"
	}
	if err := migration.ensureVersionTable(ctx, db); err != nil {
		return err
	}

	version, err := migration.currentVersion(ctx, db)
	if err != nil {
		return err
	}

	last := -1
	for _, step := range migration.Steps {
		if step.Version <= last {
			return Error.New("steps have non-increasing versions: %d after %d", step.Version, last)
		}
		last = step.Version
		if step.Version <= version {
			continue
		}

		log.Info("applying migration step",
			zap.Int("version", step.Version),
			zap.String("description", step.Description))

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return Error.Wrap(err)
		}
		if err := step.Action.Run(ctx, log, tx); err != nil {
			return Error.Wrap(errs.Combine(err, tx.Rollback()))
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO `+migration.Table+` (version, commited_at) VALUES ($1, now())`,
			step.Version); err != nil {
			return Error.Wrap(errs.Combine(err, tx.Rollback()))
		}
		if err := tx.Commit(); err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

func (migration *Migration) ensureVersionTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+migration.Table+` (
			version integer NOT NULL PRIMARY KEY,
			commited_at timestamptz NOT NULL
		)`)
	return Error.Wrap(err)
}

func (migration *Migration) currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version sql.NullInt64
	err := db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM `+migration.Table).Scan(&version)
	if err != nil {
		return -1, Error.Wrap(err)
	}
	if !version.Valid {
		return -1, nil
	}
	return int(version.Int64), nil
}
