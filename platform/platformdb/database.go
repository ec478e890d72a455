// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package platformdb implements every repository on PostgreSQL.
//
// Each domain gets a thin adapter that satisfies its DB interface; the
// repositories themselves run over either the pool or a transaction, so
// the same query code serves both paths.
package platformdb

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	monkit "github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/brightbroom/brightbroom/platform/booking"
	"github.com/brightbroom/brightbroom/platform/console"
	"github.com/brightbroom/brightbroom/platform/invoice"
	"github.com/brightbroom/brightbroom/platform/jobs"
	"github.com/brightbroom/brightbroom/platform/lead"
	"github.com/brightbroom/brightbroom/platform/outbox"
	"github.com/brightbroom/brightbroom/platform/photos"
	"github.com/brightbroom/brightbroom/platform/web"
	"github.com/brightbroom/brightbroom/private/dbutil"
)

var (
	// Error is the default platformdb errs class.
	Error = errs.Class("platformdb")

	mon = monkit.Package()
)

// driver is what every repository runs over: the pool or a transaction.
type driver interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB is the master database: one pool, one adapter per domain.
//
// architecture: Database
type DB struct {
	log  *zap.Logger
	pool *sql.DB
}

// Open connects the pool and verifies connectivity.
func Open(ctx context.Context, log *zap.Logger, config dbutil.Config) (*DB, error) {
	pool, err := dbutil.Open(ctx, config)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &DB{log: log, pool: pool}, nil
}

// Close releases the pool.
func (db *DB) Close() error {
	return Error.Wrap(db.pool.Close())
}

// Ping reports backend connectivity, used by the readiness endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return Error.Wrap(db.pool.PingContext(ctx))
}

// MigrateToLatest applies all pending schema steps.
func (db *DB) MigrateToLatest(ctx context.Context) error {
	return Migration().Run(ctx, db.log.Named("migrate"), db.pool)
}

// Console returns the identity surface.
func (db *DB) Console() console.DB { return &consoleDB{db: db} }

// Leads returns the lead surface.
func (db *DB) Leads() lead.DB { return &leadDB{db: db} }

// Bookings returns the booking surface.
func (db *DB) Bookings() booking.DB { return &bookingDB{db: db} }

// Invoices returns the invoice surface.
func (db *DB) Invoices() invoice.DB { return &invoiceDB{db: db} }

// Photos returns the photo surface.
func (db *DB) Photos() photos.DB { return &photoDB{db: db} }

// Outbox returns the full event repository.
func (db *DB) Outbox() outbox.Events { return &outboxEvents{src: db.pool} }

// Heartbeats returns the job heartbeat repository.
func (db *DB) Heartbeats() jobs.Heartbeats { return &heartbeats{src: db.pool} }

// Idempotency returns the stored-response repository for admin writes.
func (db *DB) Idempotency() web.IdempotencyKeys { return &idempotencyKeys{src: db.pool} }

// withOrgTx pins fn to the org inside one transaction.
func (db *DB) withOrgTx(ctx context.Context, orgID uuid.UUID, fn func(ctx context.Context, tx *sql.Tx) error) (err error) {
	defer mon.Task()(&ctx)(&err)
	return Error.Wrap(dbutil.WithOrgTx(ctx, db.pool, orgID.String(), fn))
}

type consoleDB struct{ db *DB }

func (c *consoleDB) Organizations() console.Organizations { return &organizations{src: c.db.pool} }
func (c *consoleDB) Users() console.Users                 { return &users{src: c.db.pool} }
func (c *consoleDB) Sessions() console.Sessions           { return &sessions{src: c.db.pool} }

func (c *consoleDB) WithTx(ctx context.Context, orgID uuid.UUID, fn func(ctx context.Context, tx console.Tx) error) error {
	return c.db.withOrgTx(ctx, orgID, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &consoleTx{tx: tx})
	})
}

type consoleTx struct{ tx *sql.Tx }

func (t *consoleTx) Users() console.Users { return &users{src: t.tx} }

type leadDB struct{ db *DB }

func (l *leadDB) Leads() lead.Leads     { return &leads{src: l.db.pool} }
func (l *leadDB) Credits() lead.Credits { return &credits{src: l.db.pool} }

func (l *leadDB) WithTx(ctx context.Context, orgID uuid.UUID, fn func(ctx context.Context, tx lead.Tx) error) error {
	return l.db.withOrgTx(ctx, orgID, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &leadTx{tx: tx})
	})
}

type leadTx struct{ tx *sql.Tx }

func (t *leadTx) Leads() lead.Leads     { return &leads{src: t.tx} }
func (t *leadTx) Credits() lead.Credits { return &credits{src: t.tx} }
func (t *leadTx) Outbox() outbox.Queue  { return &outboxEvents{src: t.tx} }

type bookingDB struct{ db *DB }

func (b *bookingDB) Bookings() booking.Bookings { return &bookings{src: b.db.pool} }
func (b *bookingDB) Teams() booking.Teams       { return &teams{src: b.db.pool} }

func (b *bookingDB) WithTx(ctx context.Context, orgID uuid.UUID, fn func(ctx context.Context, tx booking.Tx) error) error {
	return b.db.withOrgTx(ctx, orgID, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &bookingTx{tx: tx})
	})
}

type bookingTx struct{ tx *sql.Tx }

func (t *bookingTx) Bookings() booking.Bookings      { return &bookings{src: t.tx} }
func (t *bookingTx) Teams() booking.Teams            { return &teams{src: t.tx} }
func (t *bookingTx) Webhooks() booking.WebhookEvents { return &webhookEvents{src: t.tx} }
func (t *bookingTx) Leads() lead.Leads               { return &leads{src: t.tx} }
func (t *bookingTx) Credits() lead.Credits           { return &credits{src: t.tx} }
func (t *bookingTx) Outbox() outbox.Queue            { return &outboxEvents{src: t.tx} }

type invoiceDB struct{ db *DB }

func (i *invoiceDB) Invoices() invoice.Invoices { return &invoices{src: i.db.pool} }
func (i *invoiceDB) Items() invoice.Items       { return &invoiceItems{src: i.db.pool} }

func (i *invoiceDB) WithTx(ctx context.Context, orgID uuid.UUID, fn func(ctx context.Context, tx invoice.Tx) error) error {
	return i.db.withOrgTx(ctx, orgID, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &invoiceTx{tx: tx})
	})
}

type invoiceTx struct{ tx *sql.Tx }

func (t *invoiceTx) Sequences() invoice.Sequences { return &invoiceSequences{src: t.tx} }
func (t *invoiceTx) Invoices() invoice.Invoices   { return &invoices{src: t.tx} }
func (t *invoiceTx) Items() invoice.Items         { return &invoiceItems{src: t.tx} }
func (t *invoiceTx) Payments() invoice.Payments   { return &invoicePayments{src: t.tx} }
func (t *invoiceTx) Outbox() outbox.Queue         { return &outboxEvents{src: t.tx} }

type photoDB struct{ db *DB }

func (p *photoDB) Photos() photos.Photos { return &photoRows{src: p.db.pool} }

func (p *photoDB) WithTx(ctx context.Context, orgID uuid.UUID, fn func(ctx context.Context, tx photos.Tx) error) error {
	return p.db.withOrgTx(ctx, orgID, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &photoTx{tx: tx})
	})
}

type photoTx struct{ tx *sql.Tx }

func (t *photoTx) Photos() photos.Photos { return &photoRows{src: t.tx} }
func (t *photoTx) Outbox() outbox.Queue  { return &outboxEvents{src: t.tx} }
