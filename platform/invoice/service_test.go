// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package invoice_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/brightbroom/brightbroom/platform/apperrs"
	"github.com/brightbroom/brightbroom/platform/audit"
	"github.com/brightbroom/brightbroom/platform/invoice"
	"github.com/brightbroom/brightbroom/platform/outbox"
)

// fakeDB is an in-memory invoice.DB. WithTx takes a global lock, matching
// the serialization the sequence row gives in SQL.
type fakeDB struct {
	mu        sync.Mutex
	sequences map[string]int64
	invoices  map[uuid.UUID]*invoice.Invoice
	items     map[uuid.UUID][]invoice.Item
	payments  map[uuid.UUID][]invoice.Payment
	outbox    []*outbox.Event
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		sequences: map[string]int64{},
		invoices:  map[uuid.UUID]*invoice.Invoice{},
		items:     map[uuid.UUID][]invoice.Item{},
		payments:  map[uuid.UUID][]invoice.Payment{},
	}
}

func (db *fakeDB) Invoices() invoice.Invoices { return &fakeInvoices{db} }
func (db *fakeDB) Items() invoice.Items       { return &fakeItems{db} }

func (db *fakeDB) WithTx(ctx context.Context, orgID uuid.UUID, fn func(ctx context.Context, tx invoice.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return fn(ctx, &fakeTx{db})
}

type fakeTx struct{ db *fakeDB }

func (tx *fakeTx) Sequences() invoice.Sequences { return &fakeSequences{tx.db} }
func (tx *fakeTx) Invoices() invoice.Invoices   { return &fakeInvoices{tx.db} }
func (tx *fakeTx) Items() invoice.Items         { return &fakeItems{tx.db} }
func (tx *fakeTx) Payments() invoice.Payments   { return &fakePayments{tx.db} }
func (tx *fakeTx) Outbox() outbox.Queue         { return &fakeQueue{tx.db} }

type fakeSequences struct{ db *fakeDB }

func (f *fakeSequences) Next(ctx context.Context, orgID uuid.UUID, year int) (int64, error) {
	key := fmt.Sprintf("%s:%d", orgID, year)
	f.db.sequences[key]++
	return f.db.sequences[key], nil
}

type fakeInvoices struct{ db *fakeDB }

func (f *fakeInvoices) Insert(ctx context.Context, inv *invoice.Invoice) error {
	clone := *inv
	f.db.invoices[inv.ID] = &clone
	return nil
}

func (f *fakeInvoices) Get(ctx context.Context, orgID, id uuid.UUID) (*invoice.Invoice, error) {
	if inv, ok := f.db.invoices[id]; ok && inv.OrgID == orgID {
		clone := *inv
		return &clone, nil
	}
	return nil, nil
}

func (f *fakeInvoices) GetByTokenHash(ctx context.Context, tokenHash string) (*invoice.Invoice, error) {
	for _, inv := range f.db.invoices {
		if inv.PublicTokenHash != "" && inv.PublicTokenHash == tokenHash {
			clone := *inv
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeInvoices) List(ctx context.Context, orgID uuid.UUID, status invoice.Status, limit, offset int) ([]invoice.Invoice, error) {
	var out []invoice.Invoice
	for _, inv := range f.db.invoices {
		if inv.OrgID == orgID && (status == "" || inv.Status == status) {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (f *fakeInvoices) ListForBooking(ctx context.Context, orgID, bookingID uuid.UUID) ([]invoice.Invoice, error) {
	var out []invoice.Invoice
	for _, inv := range f.db.invoices {
		if inv.OrgID == orgID && inv.BookingID == bookingID {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (f *fakeInvoices) UpdateStatus(ctx context.Context, orgID, id uuid.UUID, from []invoice.Status, to invoice.Status, now time.Time) (bool, error) {
	inv, ok := f.db.invoices[id]
	if !ok || inv.OrgID != orgID {
		return false, nil
	}
	for _, status := range from {
		if inv.Status == status {
			inv.Status = to
			inv.UpdatedAt = now
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeInvoices) SetPublicToken(ctx context.Context, orgID, id uuid.UUID, tokenHash string, now time.Time) error {
	if inv, ok := f.db.invoices[id]; ok && inv.OrgID == orgID {
		inv.PublicTokenHash = tokenHash
		inv.UpdatedAt = now
	}
	return nil
}

func (f *fakeInvoices) RecordPaid(ctx context.Context, orgID, id uuid.UUID, paidCents int64, status invoice.Status, now time.Time) error {
	if inv, ok := f.db.invoices[id]; ok && inv.OrgID == orgID {
		inv.PaidCents = paidCents
		inv.Status = status
		inv.UpdatedAt = now
	}
	return nil
}

func (f *fakeInvoices) ListDue(ctx context.Context, before time.Time, limit int) ([]invoice.Invoice, error) {
	var out []invoice.Invoice
	for _, inv := range f.db.invoices {
		if (inv.Status == invoice.StatusSent || inv.Status == invoice.StatusPartial) && inv.DueAt.Before(before) {
			out = append(out, *inv)
		}
	}
	return out, nil
}

type fakeItems struct{ db *fakeDB }

func (f *fakeItems) Insert(ctx context.Context, item *invoice.Item) error {
	f.db.items[item.InvoiceID] = append(f.db.items[item.InvoiceID], *item)
	return nil
}

func (f *fakeItems) ListByInvoice(ctx context.Context, orgID, invoiceID uuid.UUID) ([]invoice.Item, error) {
	return f.db.items[invoiceID], nil
}

type fakePayments struct{ db *fakeDB }

func (f *fakePayments) Insert(ctx context.Context, payment *invoice.Payment) error {
	f.db.payments[payment.InvoiceID] = append(f.db.payments[payment.InvoiceID], *payment)
	return nil
}

func (f *fakePayments) ListByInvoice(ctx context.Context, orgID, invoiceID uuid.UUID) ([]invoice.Payment, error) {
	return f.db.payments[invoiceID], nil
}

type fakeQueue struct{ db *fakeDB }

func (f *fakeQueue) Enqueue(ctx context.Context, event *outbox.Event) (bool, error) {
	for _, existing := range f.db.outbox {
		if existing.OrgID == event.OrgID && existing.DedupeKey == event.DedupeKey {
			return false, nil
		}
	}
	clone := *event
	f.db.outbox = append(f.db.outbox, &clone)
	return true, nil
}

func newService(t *testing.T, db *fakeDB) *invoice.Service {
	log := zaptest.NewLogger(t)
	return invoice.NewService(log, audit.NewLog(log), db, invoice.Config{
		DuePeriod: 14 * 24 * time.Hour,
		Currency:  "usd",
		PublicURL: "https://pay.example.com",
	})
}

func oneItem(cents int64) []invoice.ItemInput {
	return []invoice.ItemInput{{Description: "Standard clean", Qty: 1, UnitPriceCents: cents}}
}

func TestCreateComputesTotals(t *testing.T) {
	db := newFakeDB()
	service := newService(t, db)
	orgID := uuid.New()

	created, err := service.Create(context.Background(), orgID, invoice.CreateInvoice{
		Items: []invoice.ItemInput{
			{Description: "Deep clean", Qty: 3.5, UnitPriceCents: 4500},              // 15750
			{Description: "Supplies", Qty: 1, UnitPriceCents: 1999, TaxRateBps: 825}, // 1999 + 165
		},
	})
	require.NoError(t, err)
	require.Equal(t, invoice.StatusDraft, created.Status)
	require.Equal(t, int64(15750+1999+165), created.TotalCents)
	require.Equal(t, invoice.FormatNumber(time.Now().UTC().Year(), 1), created.Number)
	require.Equal(t, "usd", created.Currency)
}

func TestCreateRejectsBadItems(t *testing.T) {
	db := newFakeDB()
	service := newService(t, db)
	orgID := uuid.New()

	_, err := service.Create(context.Background(), orgID, invoice.CreateInvoice{})
	require.True(t, apperrs.ErrValidation.Has(err))

	_, err = service.Create(context.Background(), orgID, invoice.CreateInvoice{
		Items: []invoice.ItemInput{{Description: "bad", Qty: -1, UnitPriceCents: 100}},
	})
	require.True(t, apperrs.ErrValidation.Has(err))
}

func TestNumberSequenceUnderConcurrency(t *testing.T) {
	db := newFakeDB()
	service := newService(t, db)
	orgID := uuid.New()

	const n = 50
	numbers := make([]string, n)
	errors := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created, err := service.Create(context.Background(), orgID, invoice.CreateInvoice{Items: oneItem(5000)})
			if err != nil {
				errors[i] = err
				return
			}
			numbers[i] = created.Number
		}(i)
	}
	wg.Wait()
	for _, err := range errors {
		require.NoError(t, err)
	}

	sort.Strings(numbers)
	year := time.Now().UTC().Year()
	for i, number := range numbers {
		require.Equal(t, invoice.FormatNumber(year, int64(i+1)), number)
	}
}

func TestSendRotatesToken(t *testing.T) {
	db := newFakeDB()
	service := newService(t, db)
	ctx := context.Background()
	orgID := uuid.New()

	created, err := service.Create(ctx, orgID, invoice.CreateInvoice{Items: oneItem(10000)})
	require.NoError(t, err)

	first, err := service.Send(ctx, orgID, created.ID, "client@example.com")
	require.NoError(t, err)
	require.Equal(t, invoice.StatusSent, first.Invoice.Status)
	require.Contains(t, first.PublicURL, "/i/"+first.Token)

	resolved, items, err := service.GetByPublicToken(ctx, first.Token)
	require.NoError(t, err)
	require.Equal(t, created.ID, resolved.ID)
	require.Len(t, items, 1)

	second, err := service.Send(ctx, orgID, created.ID, "client@example.com")
	require.NoError(t, err)
	require.NotEqual(t, first.Token, second.Token)

	// the rotated-out link is dead, the fresh one works
	_, _, err = service.GetByPublicToken(ctx, first.Token)
	require.True(t, apperrs.ErrNotFound.Has(err))
	_, _, err = service.GetByPublicToken(ctx, second.Token)
	require.NoError(t, err)

	// each rotation produced its own email
	require.Len(t, db.outbox, 2)
}

func TestRecordPaymentTransitions(t *testing.T) {
	db := newFakeDB()
	service := newService(t, db)
	ctx := context.Background()
	orgID := uuid.New()

	created, err := service.Create(ctx, orgID, invoice.CreateInvoice{Items: oneItem(10000)})
	require.NoError(t, err)

	partial, err := service.RecordPayment(ctx, orgID, created.ID, 4000, "card", "")
	require.NoError(t, err)
	require.Equal(t, invoice.StatusPartial, partial.Status)
	require.Equal(t, int64(4000), partial.PaidCents)

	paid, err := service.RecordPayment(ctx, orgID, created.ID, 6000, "card", "")
	require.NoError(t, err)
	require.Equal(t, invoice.StatusPaid, paid.Status)
	require.Equal(t, int64(10000), paid.PaidCents)

	_, err = service.RecordPayment(ctx, orgID, created.ID, 100, "card", "")
	require.True(t, apperrs.ErrStatusTransition.Has(err))

	_, err = service.RecordPayment(ctx, orgID, created.ID, -5, "card", "")
	require.True(t, apperrs.ErrValidation.Has(err))
}

func TestVoidIsTerminal(t *testing.T) {
	db := newFakeDB()
	service := newService(t, db)
	ctx := context.Background()
	orgID := uuid.New()

	created, err := service.Create(ctx, orgID, invoice.CreateInvoice{Items: oneItem(10000)})
	require.NoError(t, err)
	sent, err := service.Send(ctx, orgID, created.ID, "")
	require.NoError(t, err)

	require.NoError(t, service.Void(ctx, orgID, created.ID))

	// void blocks payments, sends and the public link
	_, err = service.RecordPayment(ctx, orgID, created.ID, 100, "card", "")
	require.True(t, apperrs.ErrStatusTransition.Has(err))
	_, err = service.Send(ctx, orgID, created.ID, "")
	require.True(t, apperrs.ErrStatusTransition.Has(err))
	_, _, err = service.GetByPublicToken(ctx, sent.Token)
	require.True(t, apperrs.ErrNotFound.Has(err))
	err = service.Void(ctx, orgID, created.ID)
	require.True(t, apperrs.ErrStatusTransition.Has(err))
}

func TestSweepOverdue(t *testing.T) {
	db := newFakeDB()
	service := newService(t, db)
	ctx := context.Background()
	orgID := uuid.New()

	created, err := service.Create(ctx, orgID, invoice.CreateInvoice{Items: oneItem(10000)})
	require.NoError(t, err)
	_, err = service.Send(ctx, orgID, created.ID, "")
	require.NoError(t, err)

	// not due yet
	moved, err := service.SweepOverdue(ctx, time.Now())
	require.NoError(t, err)
	require.Zero(t, moved)

	moved, err = service.SweepOverdue(ctx, time.Now().Add(15*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, moved)

	got, err := service.Get(ctx, orgID, created.ID)
	require.NoError(t, err)
	require.Equal(t, invoice.StatusOverdue, got.Status)

	// overdue invoices still take payments
	paid, err := service.RecordPayment(ctx, orgID, created.ID, 10000, "transfer", "late")
	require.NoError(t, err)
	require.Equal(t, invoice.StatusPaid, paid.Status)
}
