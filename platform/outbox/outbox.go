// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package outbox implements the durable side effect queue.
//
// Events are enqueued inside the business transaction that caused them and
// drained by a scheduler worker. Delivery is at-least-once: handlers are
// idempotent on the dedupe key and tolerate re-delivery.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
)

// Error is the default outbox errs class.
var Error = errs.Class("outbox")

// Kind names a handler family.
type Kind string

// Event kinds.
const (
	KindEmail            Kind = "email"
	KindExportWebhook    Kind = "export_webhook"
	KindIntegrationEvent Kind = "integration_event"
	KindStorageDelete    Kind = "storage_delete"
)

// Status is the delivery state of an event.
type Status string

// Event statuses. DELIVERED and DEAD are terminal.
const (
	StatusPending   Status = "PENDING"
	StatusInFlight  Status = "IN_FLIGHT"
	StatusDelivered Status = "DELIVERED"
	StatusDead      Status = "DEAD"
)

// Event is one durable side effect awaiting delivery.
type Event struct {
	ID            uuid.UUID
	OrgID         uuid.UUID
	Kind          Kind
	DedupeKey     string
	Payload       []byte
	Attempts      int
	NextAttemptAt time.Time
	Status        Status
	LeaseOwner    string
	LeasedAt      *time.Time
	LastError     string
	CreatedAt     time.Time
	DeliveredAt   *time.Time
}

// Queue is the enqueue-only surface handed to business transactions.
//
// architecture: Database
type Queue interface {
	// Enqueue inserts the event unless (org_id, dedupe_key) already
	// exists, in which case it reports inserted=false without error.
	Enqueue(ctx context.Context, event *Event) (inserted bool, err error)
}

// Events is the full repository used by the drainer and the DLQ surface.
//
// architecture: Database
type Events interface {
	Queue

	// ClaimDue atomically marks due PENDING events (and IN_FLIGHT events
	// whose lease is older than leaseTTL) as IN_FLIGHT with the given
	// lease owner and returns them.
	ClaimDue(ctx context.Context, now time.Time, batch int, leaseOwner string, leaseTTL time.Duration) ([]Event, error)
	// MarkDelivered finalizes an event this worker holds.
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error
	// Reschedule returns an event to PENDING with a future attempt time.
	Reschedule(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastError string) error
	// MarkDead finalizes an event as DEAD.
	MarkDead(ctx context.Context, id uuid.UUID, attempts int, lastError string) error

	Get(ctx context.Context, orgID, id uuid.UUID) (*Event, error)
	ListDead(ctx context.Context, orgID uuid.UUID, kind Kind, limit int) ([]Event, error)
	// Replay resets a DEAD event of the org to PENDING with zero attempts
	// and reports whether a row changed.
	Replay(ctx context.Context, orgID, id uuid.UUID) (bool, error)
	// RequeueDeadKind returns DEAD events of one kind to PENDING across
	// all orgs, for kinds that must eventually succeed.
	RequeueDeadKind(ctx context.Context, kind Kind, before time.Time, limit int) (int64, error)
	// DeleteFinished removes DELIVERED and DEAD events older than before.
	DeleteFinished(ctx context.Context, before time.Time) (int64, error)
}

// New builds an event ready to enqueue.
func New(orgID uuid.UUID, kind Kind, dedupeKey string, payload []byte) *Event {
	return &Event{
		ID:        uuid.New(),
		OrgID:     orgID,
		Kind:      kind,
		DedupeKey: dedupeKey,
		Payload:   payload,
		Status:    StatusPending,
	}
}

type permanentError struct {
	err  error
	code string
}

func (p *permanentError) Error() string { return p.code + ": " + p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as non-retryable; the event goes straight to DEAD
// with the given error code.
func Permanent(err error, code string) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err, code: code}
}

// Error codes recorded on DEAD events.
const (
	CodeRejected    = "destination_rejected"
	CodeBlocked     = "blocked_destination"
	CodeBadPayload  = "bad_payload"
	CodeUnknownKind = "unknown_kind"
	CodeExhausted   = "attempts_exhausted"
)

func permanentCode(err error) (string, bool) {
	var p *permanentError
	if errs.IsFunc(err, func(e error) bool {
		var ok bool
		p, ok = e.(*permanentError)
		return ok
	}) {
		return p.code, true
	}
	return "", false
}
