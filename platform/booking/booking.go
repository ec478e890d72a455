// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package booking implements slot reservation, the booking state machine
// and deposit coordination with the payment provider.
package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"github.com/brightbroom/brightbroom/platform/lead"
	"github.com/brightbroom/brightbroom/platform/outbox"
)

// Error is the default booking errs class.
var Error = errs.Class("booking")

// Status is the booking lifecycle state.
type Status string

// Booking statuses. DONE, CANCELLED and EXPIRED are terminal.
const (
	StatusPending         Status = "PENDING"
	StatusAwaitingDeposit Status = "AWAITING_DEPOSIT"
	StatusConfirmed       Status = "CONFIRMED"
	StatusInProgress      Status = "IN_PROGRESS"
	StatusDone            Status = "DONE"
	StatusCancelled       Status = "CANCELLED"
	StatusExpired         Status = "EXPIRED"
)

// transitions is the closed transition table; anything else is a CONFLICT.
var transitions = map[Status][]Status{
	StatusPending:         {StatusAwaitingDeposit, StatusConfirmed, StatusCancelled, StatusExpired},
	StatusAwaitingDeposit: {StatusConfirmed, StatusCancelled, StatusExpired},
	StatusConfirmed:       {StatusInProgress, StatusCancelled},
	StatusInProgress:      {StatusDone},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func Terminal(status Status) bool {
	return status == StatusDone || status == StatusCancelled || status == StatusExpired
}

// Booking is one scheduled visit of a team.
type Booking struct {
	ID          uuid.UUID
	OrgID       uuid.UUID
	LeadID      uuid.UUID
	TeamID      uuid.UUID
	StartsAt    time.Time
	DurationMin int
	Status      Status

	// Deposit fields are frozen at creation; policy changes never alter
	// existing bookings.
	DepositRequired  bool
	DepositReasons   []string
	DepositCents     int64
	DepositSessionID string
	DepositPaidAt    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// End returns the end of the reserved interval.
func (b *Booking) End() time.Time {
	return b.StartsAt.Add(time.Duration(b.DurationMin) * time.Minute)
}

// Team is a crew that bookings are reserved against.
type Team struct {
	ID    uuid.UUID
	OrgID uuid.UUID
	Name  string
	// Working window in whole UTC hours.
	WorkStartHour int
	WorkEndHour   int
	// Blackouts are ISO dates (2006-01-02) the team does not work.
	Blackouts []string
	CreatedAt time.Time
}

// WorksOn reports whether the team works on the given UTC day.
func (team *Team) WorksOn(day time.Time) bool {
	date := day.UTC().Format("2006-01-02")
	for _, blackout := range team.Blackouts {
		if blackout == date {
			return false
		}
	}
	return true
}

// Teams is the team repository.
//
// architecture: Database
type Teams interface {
	Insert(ctx context.Context, team *Team) error
	Get(ctx context.Context, orgID, id uuid.UUID) (*Team, error)
	List(ctx context.Context, orgID uuid.UUID) ([]Team, error)
	Update(ctx context.Context, team *Team) error
	// Lock acquires the team row lock for the rest of the transaction,
	// serializing slot reservation per team.
	Lock(ctx context.Context, orgID, id uuid.UUID) error
}

// Bookings is the booking repository.
//
// architecture: Database
type Bookings interface {
	Insert(ctx context.Context, booking *Booking) error
	Get(ctx context.Context, orgID, id uuid.UUID) (*Booking, error)
	GetByDepositSession(ctx context.Context, sessionID string) (*Booking, error)
	List(ctx context.Context, orgID uuid.UUID, status Status, limit, offset int) ([]Booking, error)
	// ListOverlapping returns non-cancelled bookings of the team whose
	// interval intersects [from, to).
	ListOverlapping(ctx context.Context, orgID, teamID uuid.UUID, from, to time.Time) ([]Booking, error)
	ListForLead(ctx context.Context, orgID, leadID uuid.UUID) ([]Booking, error)
	// UpdateStatus moves the booking from one of the expected statuses
	// with a predicated update and reports whether a row changed.
	UpdateStatus(ctx context.Context, orgID, id uuid.UUID, from []Status, to Status, now time.Time) (bool, error)
	// UpdateSlot moves the reserved interval, same predication.
	UpdateSlot(ctx context.Context, orgID, id uuid.UUID, startsAt time.Time, durationMin int, now time.Time) error
	MarkDepositPaid(ctx context.Context, orgID, id uuid.UUID, at time.Time) error
	// ListStale returns PENDING and AWAITING_DEPOSIT bookings created
	// before the cutoff, for the expiry sweep.
	ListStale(ctx context.Context, before time.Time, limit int) ([]Booking, error)
	CountCreatedSince(ctx context.Context, orgID uuid.UUID, since time.Time) (int, error)
	// ListUpcoming returns CONFIRMED bookings starting inside the window,
	// for reminder emails.
	ListUpcoming(ctx context.Context, from, to time.Time) ([]Booking, error)
}

// WebhookEvents records processed provider event ids so replays are no-ops.
//
// architecture: Database
type WebhookEvents interface {
	// Record inserts the provider event id and reports false when the
	// event was already processed.
	Record(ctx context.Context, provider, eventID string) (bool, error)
}

// DB is the transactional surface the booking service needs.
//
// architecture: Database
type DB interface {
	Bookings() Bookings
	Teams() Teams
	WithTx(ctx context.Context, orgID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the per-transaction repository set: slot checks, state changes,
// side effect enqueues and referral resolution commit together.
type Tx interface {
	Bookings() Bookings
	Teams() Teams
	Webhooks() WebhookEvents
	Leads() lead.Leads
	Credits() lead.Credits
	Outbox() outbox.Queue
}
