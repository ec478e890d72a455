// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package invoice implements the invoice ledger: atomic numbering, items
// and payments, and hashed public-link tokens.
package invoice

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"github.com/brightbroom/brightbroom/platform/outbox"
)

// Error is the default invoice errs class.
var Error = errs.Class("invoice")

// Status is the invoice lifecycle state.
type Status string

// Invoice statuses. VOID is terminal.
const (
	StatusDraft   Status = "DRAFT"
	StatusSent    Status = "SENT"
	StatusPartial Status = "PARTIAL"
	StatusPaid    Status = "PAID"
	StatusOverdue Status = "OVERDUE"
	StatusVoid    Status = "VOID"
)

// Invoice is one billing document. Totals are derived from items on the
// server; the paid amount is the sum of recorded payments.
type Invoice struct {
	ID        uuid.UUID
	OrgID     uuid.UUID
	BookingID uuid.UUID
	Number    string
	Status    Status
	Currency  string

	TotalCents int64
	PaidCents  int64

	DueAt time.Time
	// PublicTokenHash is the only stored form of the public link token;
	// the plaintext exists just in the send response.
	PublicTokenHash string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is one invoice line. The line total is qty times unit price plus
// the per-line tax, each rounded half up to whole cents.
type Item struct {
	ID             uuid.UUID
	InvoiceID      uuid.UUID
	Description    string
	Qty            float64
	UnitPriceCents int64
	TaxRateBps     int
}

// TotalCents returns the rounded line total.
func (item *Item) TotalCents() int64 {
	subtotal := roundHalfUp(item.Qty * float64(item.UnitPriceCents))
	tax := roundHalfUp(float64(subtotal) * float64(item.TaxRateBps) / 10000)
	return subtotal + tax
}

func roundHalfUp(v float64) int64 {
	return int64(math.Floor(v + 0.5))
}

// Payment is one recorded payment against an invoice.
type Payment struct {
	ID          uuid.UUID
	InvoiceID   uuid.UUID
	AmountCents int64
	Method      string
	Note        string
	ReceivedAt  time.Time
}

// Sequences allocates invoice numbers per (org, year).
//
// architecture: Database
type Sequences interface {
	// Next returns the next number in the (org, year) sequence with an
	// atomic upsert, so concurrent allocations never collide.
	Next(ctx context.Context, orgID uuid.UUID, year int) (int64, error)
}

// Invoices is the invoice repository.
//
// architecture: Database
type Invoices interface {
	Insert(ctx context.Context, inv *Invoice) error
	Get(ctx context.Context, orgID, id uuid.UUID) (*Invoice, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*Invoice, error)
	List(ctx context.Context, orgID uuid.UUID, status Status, limit, offset int) ([]Invoice, error)
	ListForBooking(ctx context.Context, orgID, bookingID uuid.UUID) ([]Invoice, error)
	// UpdateStatus moves the invoice from one of the expected statuses
	// with a predicated update and reports whether a row changed.
	UpdateStatus(ctx context.Context, orgID, id uuid.UUID, from []Status, to Status, now time.Time) (bool, error)
	// SetPublicToken replaces the stored token hash, invalidating any
	// previously issued link.
	SetPublicToken(ctx context.Context, orgID, id uuid.UUID, tokenHash string, now time.Time) error
	// RecordPaid updates the paid total and status together.
	RecordPaid(ctx context.Context, orgID, id uuid.UUID, paidCents int64, status Status, now time.Time) error
	// ListDue returns SENT and PARTIAL invoices whose due date has
	// passed, for the overdue sweep.
	ListDue(ctx context.Context, before time.Time, limit int) ([]Invoice, error)
}

// Items is the invoice line repository.
//
// architecture: Database
type Items interface {
	Insert(ctx context.Context, item *Item) error
	ListByInvoice(ctx context.Context, orgID, invoiceID uuid.UUID) ([]Item, error)
}

// Payments is the invoice payment repository.
//
// architecture: Database
type Payments interface {
	Insert(ctx context.Context, payment *Payment) error
	ListByInvoice(ctx context.Context, orgID, invoiceID uuid.UUID) ([]Payment, error)
}

// DB is the transactional surface the invoice service needs.
//
// architecture: Database
type DB interface {
	Invoices() Invoices
	Items() Items
	WithTx(ctx context.Context, orgID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the per-transaction repository set: number allocation, rows and
// the send email commit together.
type Tx interface {
	Sequences() Sequences
	Invoices() Invoices
	Items() Items
	Payments() Payments
	Outbox() outbox.Queue
}

// FormatNumber renders the canonical invoice number.
func FormatNumber(year int, n int64) string {
	return fmt.Sprintf("INV-%d-%06d", year, n)
}

// NewPublicToken generates a public link token and its stored hash. The
// token is 48 random bytes, base64url without padding.
func NewPublicToken() (token, hash string, err error) {
	var buf [48]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", "", Error.Wrap(err)
	}
	token = base64.RawURLEncoding.EncodeToString(buf[:])
	return token, HashToken(token), nil
}

// HashToken returns the stored form of a public link token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
