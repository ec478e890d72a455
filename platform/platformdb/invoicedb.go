// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package platformdb

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/brightbroom/brightbroom/platform/invoice"
)

type invoiceSequences struct{ src driver }

// Next allocates atomically: the upsert either starts the (org, year)
// sequence at one or bumps it, and either way returns the winner.
func (repo *invoiceSequences) Next(ctx context.Context, orgID uuid.UUID, year int) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	var n int64
	err = repo.src.QueryRowContext(ctx, `
		INSERT INTO invoice_sequences (org_id, year, n)
		VALUES ($1, $2, 1)
		ON CONFLICT (org_id, year) DO UPDATE SET n = invoice_sequences.n + 1
		RETURNING n`, orgID, year).Scan(&n)
	return n, Error.Wrap(err)
}

type invoices struct{ src driver }

const invoiceColumns = `id, org_id, booking_id, number, status, currency,
	total_cents, paid_cents, due_at, public_token_hash, created_at, updated_at`

func (repo *invoices) Insert(ctx context.Context, row *invoice.Invoice) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		row.ID, row.OrgID, uuidNullable(row.BookingID), row.Number, row.Status, row.Currency,
		row.TotalCents, row.PaidCents, row.DueAt, row.PublicTokenHash, row.CreatedAt, row.UpdatedAt)
	return Error.Wrap(err)
}

func scanInvoice(scan func(...interface{}) error) (*invoice.Invoice, error) {
	row := &invoice.Invoice{}
	var bookingID sql.NullString
	err := scan(&row.ID, &row.OrgID, &bookingID, &row.Number, &row.Status, &row.Currency,
		&row.TotalCents, &row.PaidCents, &row.DueAt, &row.PublicTokenHash, &row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		return nil, err
	}
	row.BookingID, err = nullUUID(bookingID)
	return row, err
}

func (repo *invoices) queryMany(ctx context.Context, query string, args ...interface{}) (_ []invoice.Invoice, err error) {
	rows, err := repo.src.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errsCombine(err, rows.Close(), rows.Err())) }()

	var out []invoice.Invoice
	for rows.Next() {
		row, err := scanInvoice(rows.Scan)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		out = append(out, *row)
	}
	return out, nil
}

func (repo *invoices) Get(ctx context.Context, orgID, id uuid.UUID) (_ *invoice.Invoice, err error) {
	defer mon.Task()(&ctx)(&err)

	row, err := scanInvoice(repo.src.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+` FROM invoices WHERE org_id = $1 AND id = $2`, orgID, id).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return row, Error.Wrap(err)
}

func (repo *invoices) GetByTokenHash(ctx context.Context, tokenHash string) (_ *invoice.Invoice, err error) {
	defer mon.Task()(&ctx)(&err)

	if tokenHash == "" {
		return nil, nil
	}
	row, err := scanInvoice(repo.src.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+` FROM invoices WHERE public_token_hash = $1`, tokenHash).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return row, Error.Wrap(err)
}

func (repo *invoices) List(ctx context.Context, orgID uuid.UUID, status invoice.Status, limit, offset int) (_ []invoice.Invoice, err error) {
	defer mon.Task()(&ctx)(&err)

	return repo.queryMany(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE org_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`, orgID, string(status), limit, offset)
}

func (repo *invoices) ListForBooking(ctx context.Context, orgID, bookingID uuid.UUID) (_ []invoice.Invoice, err error) {
	defer mon.Task()(&ctx)(&err)

	return repo.queryMany(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE org_id = $1 AND booking_id = $2
		ORDER BY created_at`, orgID, bookingID)
}

func (repo *invoices) UpdateStatus(ctx context.Context, orgID, id uuid.UUID, from []invoice.Status, to invoice.Status, now time.Time) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	fromStrings := make([]string, 0, len(from))
	for _, status := range from {
		fromStrings = append(fromStrings, string(status))
	}
	result, err := repo.src.ExecContext(ctx, `
		UPDATE invoices SET status = $3, updated_at = $4
		WHERE org_id = $1 AND id = $2 AND status = ANY ($5)`,
		orgID, id, to, now, pq.Array(fromStrings))
	if err != nil {
		return false, Error.Wrap(err)
	}
	return rowsChanged(result)
}

func (repo *invoices) SetPublicToken(ctx context.Context, orgID, id uuid.UUID, tokenHash string, now time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		UPDATE invoices SET public_token_hash = $3, updated_at = $4
		WHERE org_id = $1 AND id = $2`, orgID, id, tokenHash, now)
	return Error.Wrap(err)
}

func (repo *invoices) RecordPaid(ctx context.Context, orgID, id uuid.UUID, paidCents int64, status invoice.Status, now time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		UPDATE invoices SET paid_cents = $3, status = $4, updated_at = $5
		WHERE org_id = $1 AND id = $2`, orgID, id, paidCents, status, now)
	return Error.Wrap(err)
}

func (repo *invoices) ListDue(ctx context.Context, before time.Time, limit int) (_ []invoice.Invoice, err error) {
	defer mon.Task()(&ctx)(&err)

	return repo.queryMany(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE status IN ('SENT', 'PARTIAL') AND due_at < $1
		ORDER BY due_at
		LIMIT $2`, before, limit)
}

type invoiceItems struct{ src driver }

func (repo *invoiceItems) Insert(ctx context.Context, item *invoice.Item) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		INSERT INTO invoice_items (id, invoice_id, description, qty, unit_price_cents, tax_rate_bps)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		item.ID, item.InvoiceID, item.Description, item.Qty, item.UnitPriceCents, item.TaxRateBps)
	return Error.Wrap(err)
}

// ListByInvoice joins through invoices for the org predicate; items carry
// no org column of their own.
func (repo *invoiceItems) ListByInvoice(ctx context.Context, orgID, invoiceID uuid.UUID) (_ []invoice.Item, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := repo.src.QueryContext(ctx, `
		SELECT i.id, i.invoice_id, i.description, i.qty, i.unit_price_cents, i.tax_rate_bps
		FROM invoice_items i
		JOIN invoices v ON v.id = i.invoice_id
		WHERE v.org_id = $1 AND i.invoice_id = $2
		ORDER BY i.id`, orgID, invoiceID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errsCombine(err, rows.Close(), rows.Err())) }()

	var out []invoice.Item
	for rows.Next() {
		var item invoice.Item
		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.Description, &item.Qty,
			&item.UnitPriceCents, &item.TaxRateBps); err != nil {
			return nil, Error.Wrap(err)
		}
		out = append(out, item)
	}
	return out, nil
}

type invoicePayments struct{ src driver }

func (repo *invoicePayments) Insert(ctx context.Context, payment *invoice.Payment) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		INSERT INTO invoice_payments (id, invoice_id, amount_cents, method, note, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		payment.ID, payment.InvoiceID, payment.AmountCents, payment.Method, payment.Note, payment.ReceivedAt)
	return Error.Wrap(err)
}

func (repo *invoicePayments) ListByInvoice(ctx context.Context, orgID, invoiceID uuid.UUID) (_ []invoice.Payment, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := repo.src.QueryContext(ctx, `
		SELECT p.id, p.invoice_id, p.amount_cents, p.method, p.note, p.received_at
		FROM invoice_payments p
		JOIN invoices v ON v.id = p.invoice_id
		WHERE v.org_id = $1 AND p.invoice_id = $2
		ORDER BY p.received_at`, orgID, invoiceID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errsCombine(err, rows.Close(), rows.Err())) }()

	var out []invoice.Payment
	for rows.Next() {
		var payment invoice.Payment
		if err := rows.Scan(&payment.ID, &payment.InvoiceID, &payment.AmountCents,
			&payment.Method, &payment.Note, &payment.ReceivedAt); err != nil {
			return nil, Error.Wrap(err)
		}
		out = append(out, payment)
	}
	return out, nil
}
