// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package invoice

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	monkit "github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"github.com/brightbroom/brightbroom/platform/apperrs"
	"github.com/brightbroom/brightbroom/platform/audit"
	"github.com/brightbroom/brightbroom/platform/outbox"
)

var mon = monkit.Package()

// Config configures invoice behavior.
type Config struct {
	DuePeriod time.Duration `help:"invoices fall due this long after sending" default:"336h"`
	Currency  string        `help:"default invoice currency" default:"usd"`
	PublicURL string        `help:"public base url for invoice links" default:"http://localhost:8080"`
}

// Service implements the invoice ledger.
//
// architecture: Service
type Service struct {
	log    *zap.Logger
	audit  *audit.Log
	db     DB
	config Config

	nowFn func() time.Time
}

// NewService creates an invoice service.
func NewService(log *zap.Logger, auditLog *audit.Log, db DB, config Config) *Service {
	if config.DuePeriod <= 0 {
		config.DuePeriod = 14 * 24 * time.Hour
	}
	if config.Currency == "" {
		config.Currency = "usd"
	}
	return &Service{
		log:    log,
		audit:  auditLog,
		db:     db,
		config: config,
		nowFn:  time.Now,
	}
}

// ItemInput is one requested invoice line.
type ItemInput struct {
	Description    string  `json:"description"`
	Qty            float64 `json:"qty"`
	UnitPriceCents int64   `json:"unit_price_cents"`
	TaxRateBps     int     `json:"tax_rate_bps"`
}

// CreateInvoice is the input for creating a draft invoice.
type CreateInvoice struct {
	BookingID uuid.UUID
	Currency  string
	Items     []ItemInput
}

// Create allocates the next number of the (org, year) sequence and
// inserts the invoice with its items in one transaction. Totals are
// computed here, never taken from the caller.
func (service *Service) Create(ctx context.Context, orgID uuid.UUID, create CreateInvoice) (_ *Invoice, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(create.Items) == 0 {
		return nil, apperrs.ErrValidation.Wrap(Error.New("invoice needs at least one item"))
	}
	for i := range create.Items {
		item := &create.Items[i]
		if strings.TrimSpace(item.Description) == "" {
			return nil, apperrs.ErrValidation.Wrap(Error.New("item %d has no description", i))
		}
		if item.Qty <= 0 || item.UnitPriceCents < 0 || item.TaxRateBps < 0 {
			return nil, apperrs.ErrValidation.Wrap(Error.New("item %d has invalid amounts", i))
		}
	}

	currency := create.Currency
	if currency == "" {
		currency = service.config.Currency
	}

	now := service.nowFn()
	created := &Invoice{
		ID:        uuid.New(),
		OrgID:     orgID,
		BookingID: create.BookingID,
		Status:    StatusDraft,
		Currency:  currency,
		DueAt:     now.Add(service.config.DuePeriod),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = service.db.WithTx(ctx, orgID, func(ctx context.Context, tx Tx) error {
		next, err := tx.Sequences().Next(ctx, orgID, now.UTC().Year())
		if err != nil {
			return Error.Wrap(err)
		}
		created.Number = FormatNumber(now.UTC().Year(), next)

		var total int64
		for _, input := range create.Items {
			item := &Item{
				ID:             uuid.New(),
				InvoiceID:      created.ID,
				Description:    input.Description,
				Qty:            input.Qty,
				UnitPriceCents: input.UnitPriceCents,
				TaxRateBps:     input.TaxRateBps,
			}
			total += item.TotalCents()
			if err := tx.Items().Insert(ctx, item); err != nil {
				return Error.Wrap(err)
			}
		}
		created.TotalCents = total
		return Error.Wrap(tx.Invoices().Insert(ctx, created))
	})
	if err != nil {
		return nil, err
	}

	service.audit.Event(ctx, "invoice.created",
		zap.String("org_id", orgID.String()),
		zap.String("invoice_id", created.ID.String()),
		zap.String("number", created.Number))
	return created, nil
}

// Get returns an invoice of the org.
func (service *Service) Get(ctx context.Context, orgID, id uuid.UUID) (_ *Invoice, err error) {
	defer mon.Task()(&ctx)(&err)

	found, err := service.db.Invoices().Get(ctx, orgID, id)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if found == nil {
		return nil, apperrs.ErrNotFound.Wrap(Error.New("invoice not found"))
	}
	return found, nil
}

// List returns the org's invoices, optionally filtered by status.
func (service *Service) List(ctx context.Context, orgID uuid.UUID, status Status, limit, offset int) (_ []Invoice, err error) {
	defer mon.Task()(&ctx)(&err)

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	invoices, err := service.db.Invoices().List(ctx, orgID, status, limit, offset)
	return invoices, Error.Wrap(err)
}

// Items returns the lines of an invoice.
func (service *Service) Items(ctx context.Context, orgID, id uuid.UUID) (_ []Item, err error) {
	defer mon.Task()(&ctx)(&err)

	items, err := service.db.Items().ListByInvoice(ctx, orgID, id)
	return items, Error.Wrap(err)
}

// SendResult carries the freshly rotated public link; the token is not
// recoverable later.
type SendResult struct {
	Invoice   *Invoice
	Token     string
	PublicURL string
}

// Send rotates the public link token and enqueues the invoice email.
// Previously issued links stop working; sending again re-sends with a
// fresh link.
func (service *Service) Send(ctx context.Context, orgID, id uuid.UUID, recipient string) (_ *SendResult, err error) {
	defer mon.Task()(&ctx)(&err)

	token, hash, err := NewPublicToken()
	if err != nil {
		return nil, err
	}

	result := &SendResult{Token: token}
	err = service.db.WithTx(ctx, orgID, func(ctx context.Context, tx Tx) error {
		current, err := tx.Invoices().Get(ctx, orgID, id)
		if err != nil {
			return Error.Wrap(err)
		}
		if current == nil {
			return apperrs.ErrNotFound.Wrap(Error.New("invoice not found"))
		}
		if current.Status == StatusVoid {
			return apperrs.ErrStatusTransition.Wrap(Error.New("cannot send a void invoice"))
		}

		now := service.nowFn()
		if err := tx.Invoices().SetPublicToken(ctx, orgID, id, hash, now); err != nil {
			return Error.Wrap(err)
		}
		if current.Status == StatusDraft {
			if _, err := tx.Invoices().UpdateStatus(ctx, orgID, id, []Status{StatusDraft}, StatusSent, now); err != nil {
				return Error.Wrap(err)
			}
			current.Status = StatusSent
		}
		current.PublicTokenHash = hash
		result.Invoice = current
		result.PublicURL = fmt.Sprintf("%s/i/%s", strings.TrimRight(service.config.PublicURL, "/"), token)

		if recipient == "" {
			return nil
		}
		payload, err := json.Marshal(outbox.EmailPayload{
			To:       recipient,
			Template: "invoice_sent",
			Data: map[string]interface{}{
				"number":      current.Number,
				"total_cents": current.TotalCents,
				"currency":    current.Currency,
				"link":        result.PublicURL,
			},
		})
		if err != nil {
			return Error.Wrap(err)
		}
		// rotation produces a fresh send; the hash prefix keys the dedupe
		dedupe := fmt.Sprintf("email:-:%s:invoice_sent:%s", current.ID, hash[:8])
		_, err = tx.Outbox().Enqueue(ctx, outbox.New(orgID, outbox.KindEmail, dedupe, payload))
		return Error.Wrap(err)
	})
	if err != nil {
		return nil, err
	}

	service.audit.Event(ctx, "invoice.sent",
		zap.String("org_id", orgID.String()),
		zap.String("invoice_id", id.String()))
	return result, nil
}

// GetByPublicToken resolves a public link token. Lookup is by hash, so a
// rotated token no longer matches.
func (service *Service) GetByPublicToken(ctx context.Context, token string) (_ *Invoice, _ []Item, err error) {
	defer mon.Task()(&ctx)(&err)

	found, err := service.db.Invoices().GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		return nil, nil, Error.Wrap(err)
	}
	if found == nil || found.Status == StatusVoid {
		return nil, nil, apperrs.ErrNotFound.Wrap(Error.New("invoice link not found"))
	}
	items, err := service.db.Items().ListByInvoice(ctx, found.OrgID, found.ID)
	if err != nil {
		return nil, nil, Error.Wrap(err)
	}
	return found, items, nil
}

// RecordPayment records a payment and rolls the status forward: below the
// total is PARTIAL, at or above it is PAID.
func (service *Service) RecordPayment(ctx context.Context, orgID, id uuid.UUID, amountCents int64, method, note string) (_ *Invoice, err error) {
	defer mon.Task()(&ctx)(&err)

	if amountCents <= 0 {
		return nil, apperrs.ErrValidation.Wrap(Error.New("payment amount must be positive"))
	}

	var updated *Invoice
	err = service.db.WithTx(ctx, orgID, func(ctx context.Context, tx Tx) error {
		current, err := tx.Invoices().Get(ctx, orgID, id)
		if err != nil {
			return Error.Wrap(err)
		}
		if current == nil {
			return apperrs.ErrNotFound.Wrap(Error.New("invoice not found"))
		}
		switch current.Status {
		case StatusVoid:
			return apperrs.ErrStatusTransition.Wrap(Error.New("cannot pay a void invoice"))
		case StatusPaid:
			return apperrs.ErrStatusTransition.Wrap(Error.New("invoice already paid"))
		}

		now := service.nowFn()
		if err := tx.Payments().Insert(ctx, &Payment{
			ID:          uuid.New(),
			InvoiceID:   id,
			AmountCents: amountCents,
			Method:      method,
			Note:        note,
			ReceivedAt:  now,
		}); err != nil {
			return Error.Wrap(err)
		}

		payments, err := tx.Payments().ListByInvoice(ctx, orgID, id)
		if err != nil {
			return Error.Wrap(err)
		}
		var paid int64
		for i := range payments {
			paid += payments[i].AmountCents
		}

		status := StatusPartial
		if paid >= current.TotalCents {
			status = StatusPaid
		}
		if err := tx.Invoices().RecordPaid(ctx, orgID, id, paid, status, now); err != nil {
			return Error.Wrap(err)
		}
		current.PaidCents = paid
		current.Status = status
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	service.audit.Event(ctx, "invoice.payment",
		zap.String("org_id", orgID.String()),
		zap.String("invoice_id", id.String()),
		zap.Int64("amount_cents", amountCents),
		zap.String("status", string(updated.Status)))
	return updated, nil
}

// Void cancels an invoice. VOID is terminal and blocks further payments
// and sends.
func (service *Service) Void(ctx context.Context, orgID, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = service.db.WithTx(ctx, orgID, func(ctx context.Context, tx Tx) error {
		current, err := tx.Invoices().Get(ctx, orgID, id)
		if err != nil {
			return Error.Wrap(err)
		}
		if current == nil {
			return apperrs.ErrNotFound.Wrap(Error.New("invoice not found"))
		}
		moved, err := tx.Invoices().UpdateStatus(ctx, orgID, id,
			[]Status{StatusDraft, StatusSent, StatusPartial, StatusOverdue}, StatusVoid, service.nowFn())
		if err != nil {
			return Error.Wrap(err)
		}
		if !moved {
			return apperrs.ErrStatusTransition.Wrap(
				Error.New("cannot void invoice in status %s", current.Status))
		}
		return nil
	})
	if err != nil {
		return err
	}

	service.audit.Event(ctx, "invoice.voided",
		zap.String("org_id", orgID.String()),
		zap.String("invoice_id", id.String()))
	return nil
}

// SweepOverdue moves SENT and PARTIAL invoices past their due date to
// OVERDUE. Payments still apply afterwards.
func (service *Service) SweepOverdue(ctx context.Context, now time.Time) (moved int, err error) {
	defer mon.Task()(&ctx)(&err)

	due, err := service.db.Invoices().ListDue(ctx, now, 100)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	for i := range due {
		current := &due[i]
		changed, err := service.db.Invoices().UpdateStatus(ctx, current.OrgID, current.ID,
			[]Status{StatusSent, StatusPartial}, StatusOverdue, now)
		if err != nil {
			service.log.Warn("overdue sweep failed for invoice",
				zap.String("invoice_id", current.ID.String()), zap.Error(err))
			continue
		}
		if changed {
			moved++
		}
	}
	return moved, nil
}
