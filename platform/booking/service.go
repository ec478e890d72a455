// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	monkit "github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"github.com/brightbroom/brightbroom/platform/apperrs"
	"github.com/brightbroom/brightbroom/platform/audit"
	"github.com/brightbroom/brightbroom/platform/console"
	"github.com/brightbroom/brightbroom/platform/entitlements"
	"github.com/brightbroom/brightbroom/platform/lead"
	"github.com/brightbroom/brightbroom/platform/metrics"
	"github.com/brightbroom/brightbroom/platform/outbox"
	"github.com/brightbroom/brightbroom/platform/payments"
)

var mon = monkit.Package()

// Config configures booking behavior.
type Config struct {
	PendingTTL   time.Duration `help:"pending and awaiting-deposit bookings expire after this" default:"24h"`
	ReminderLead time.Duration `help:"reminder emails go out this long before the visit" default:"24h"`
	Currency     string        `help:"deposit currency" default:"usd"`
	MinDuration  time.Duration `help:"shortest bookable visit" default:"1h"`
	MaxDuration  time.Duration `help:"longest bookable visit" default:"8h"`

	Deposit DepositPolicy
}

// Service implements the booking state machine.
//
// architecture: Service
type Service struct {
	log      *zap.Logger
	audit    *audit.Log
	db       DB
	orgs     console.Organizations
	provider payments.Provider
	config   Config

	nowFn func() time.Time
}

// NewService creates a booking service.
func NewService(log *zap.Logger, auditLog *audit.Log, db DB, orgs console.Organizations, provider payments.Provider, config Config) *Service {
	if config.PendingTTL <= 0 {
		config.PendingTTL = 24 * time.Hour
	}
	if config.Currency == "" {
		config.Currency = "usd"
	}
	return &Service{
		log:      log,
		audit:    auditLog,
		db:       db,
		orgs:     orgs,
		provider: provider,
		config:   config,
		nowFn:    time.Now,
	}
}

// CreateBooking is the input for reserving a slot.
type CreateBooking struct {
	LeadID      uuid.UUID
	TeamID      uuid.UUID
	StartsAt    time.Time
	DurationMin int
}

// CreateResult is the created booking plus the checkout URL when a deposit
// is required.
type CreateResult struct {
	Booking     *Booking
	CheckoutURL string
}

// Create reserves the slot atomically. The team row lock serializes
// competing reservations; the loser receives SLOT_TAKEN.
func (service *Service) Create(ctx context.Context, orgID uuid.UUID, create CreateBooking) (_ *CreateResult, err error) {
	defer mon.Task()(&ctx)(&err)

	now := service.nowFn()
	duration := time.Duration(create.DurationMin) * time.Minute
	if duration < service.config.MinDuration || duration > service.config.MaxDuration {
		return nil, apperrs.ErrValidation.Wrap(Error.New("duration out of range"))
	}
	if create.StartsAt.Before(now) {
		return nil, apperrs.ErrValidation.Wrap(Error.New("booking starts in the past"))
	}

	org, err := service.orgs.Get(ctx, orgID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if org == nil {
		return nil, apperrs.ErrNotFound.Wrap(Error.New("unknown org"))
	}

	result := &CreateResult{}
	err = service.db.WithTx(ctx, orgID, func(ctx context.Context, tx Tx) error {
		if err := tx.Teams().Lock(ctx, orgID, create.TeamID); err != nil {
			return Error.Wrap(err)
		}

		// the monthly cap is counted under the team lock so concurrent
		// reservations cannot slip past it
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		thisMonth, err := tx.Bookings().CountCreatedSince(ctx, orgID, monthStart)
		if err != nil {
			return Error.Wrap(err)
		}
		if err := entitlements.CheckBookings(org.Plan, thisMonth); err != nil {
			return err
		}
		team, err := tx.Teams().Get(ctx, orgID, create.TeamID)
		if err != nil {
			return Error.Wrap(err)
		}
		if team == nil {
			return apperrs.ErrNotFound.Wrap(Error.New("team not found"))
		}
		if err := service.checkWorkingWindow(team, create.StartsAt, duration); err != nil {
			return err
		}

		booked, err := tx.Bookings().ListOverlapping(ctx, orgID, create.TeamID, create.StartsAt, create.StartsAt.Add(duration))
		if err != nil {
			return Error.Wrap(err)
		}
		if overlaps(booked, create.StartsAt, create.StartsAt.Add(duration), uuid.Nil) {
			return apperrs.ErrSlotTaken.Wrap(Error.New("slot already reserved"))
		}

		var prospect *lead.Lead
		priorConfirmed := false
		if create.LeadID != uuid.Nil {
			prospect, err = tx.Leads().Get(ctx, orgID, create.LeadID)
			if err != nil {
				return Error.Wrap(err)
			}
			if prospect == nil {
				return apperrs.ErrNotFound.Wrap(Error.New("lead not found"))
			}
			history, err := tx.Bookings().ListForLead(ctx, orgID, create.LeadID)
			if err != nil {
				return Error.Wrap(err)
			}
			for i := range history {
				if history[i].Status == StatusConfirmed || history[i].Status == StatusDone {
					priorConfirmed = true
					break
				}
			}
		}

		decision := service.config.Deposit.Evaluate(create.StartsAt, prospect, priorConfirmed)
		created := &Booking{
			ID:              uuid.New(),
			OrgID:           orgID,
			LeadID:          create.LeadID,
			TeamID:          create.TeamID,
			StartsAt:        create.StartsAt.UTC(),
			DurationMin:     create.DurationMin,
			DepositRequired: decision.Required,
			DepositReasons:  decision.Reasons,
			DepositCents:    decision.Cents,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		if decision.Required {
			session, err := service.provider.CreateCheckoutSession(ctx, payments.CheckoutParams{
				OrgID:         orgID,
				BookingID:     created.ID,
				AmountCents:   decision.Cents,
				Currency:      service.config.Currency,
				Description:   "Cleaning deposit",
				CustomerEmail: leadEmail(prospect),
			})
			if err != nil {
				return err
			}
			created.Status = StatusAwaitingDeposit
			created.DepositSessionID = session.ID
			result.CheckoutURL = session.URL
			if err := service.enqueueEmail(ctx, tx, created, prospect, "booking_pending"); err != nil {
				return err
			}
		} else {
			created.Status = StatusConfirmed
			if err := service.onConfirmed(ctx, tx, created, prospect); err != nil {
				return err
			}
		}

		if err := tx.Bookings().Insert(ctx, created); err != nil {
			return Error.Wrap(err)
		}
		if prospect != nil {
			if err := tx.Leads().UpdateStatus(ctx, orgID, prospect.ID, lead.StatusBooked); err != nil {
				return Error.Wrap(err)
			}
		}
		result.Booking = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.BookingLifecycle.WithLabelValues("created").Inc()
	service.audit.Event(ctx, "booking.created",
		zap.String("org_id", orgID.String()),
		zap.String("booking_id", result.Booking.ID.String()),
		zap.String("status", string(result.Booking.Status)),
		zap.Bool("deposit_required", result.Booking.DepositRequired))
	return result, nil
}

// Get returns a booking of the org.
func (service *Service) Get(ctx context.Context, orgID, id uuid.UUID) (_ *Booking, err error) {
	defer mon.Task()(&ctx)(&err)

	found, err := service.db.Bookings().Get(ctx, orgID, id)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if found == nil {
		return nil, apperrs.ErrNotFound.Wrap(Error.New("booking not found"))
	}
	return found, nil
}

// List returns the org's bookings, optionally filtered by status.
func (service *Service) List(ctx context.Context, orgID uuid.UUID, status Status, limit, offset int) (_ []Booking, err error) {
	defer mon.Task()(&ctx)(&err)

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	bookings, err := service.db.Bookings().List(ctx, orgID, status, limit, offset)
	return bookings, Error.Wrap(err)
}

// Confirm moves a booking to CONFIRMED without a deposit, an admin
// override for AWAITING_DEPOSIT and PENDING bookings.
func (service *Service) Confirm(ctx context.Context, orgID, id uuid.UUID) error {
	return service.transition(ctx, orgID, id, []Status{StatusPending, StatusAwaitingDeposit}, StatusConfirmed, "confirm")
}

// Start moves a confirmed booking to IN_PROGRESS.
func (service *Service) Start(ctx context.Context, orgID, id uuid.UUID) error {
	return service.transition(ctx, orgID, id, []Status{StatusConfirmed}, StatusInProgress, "start")
}

// Complete moves an in-progress booking to DONE.
func (service *Service) Complete(ctx context.Context, orgID, id uuid.UUID) error {
	return service.transition(ctx, orgID, id, []Status{StatusInProgress}, StatusDone, "complete")
}

// Cancel compensates a booking: the slot is released, the referral credit
// reversed and the cancellation email enqueued, in one transaction.
func (service *Service) Cancel(ctx context.Context, orgID, id uuid.UUID) error {
	return service.transition(ctx, orgID, id,
		[]Status{StatusPending, StatusAwaitingDeposit, StatusConfirmed}, StatusCancelled, "cancel")
}

func (service *Service) transition(ctx context.Context, orgID, id uuid.UUID, from []Status, to Status, action string) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = service.db.WithTx(ctx, orgID, func(ctx context.Context, tx Tx) error {
		current, err := tx.Bookings().Get(ctx, orgID, id)
		if err != nil {
			return Error.Wrap(err)
		}
		if current == nil {
			return apperrs.ErrNotFound.Wrap(Error.New("booking not found"))
		}

		moved, err := tx.Bookings().UpdateStatus(ctx, orgID, id, from, to, service.nowFn())
		if err != nil {
			return Error.Wrap(err)
		}
		if !moved {
			return apperrs.ErrStatusTransition.Wrap(
				Error.New("cannot %s booking in status %s", action, current.Status))
		}

		var prospect *lead.Lead
		if current.LeadID != uuid.Nil {
			prospect, err = tx.Leads().Get(ctx, orgID, current.LeadID)
			if err != nil {
				return Error.Wrap(err)
			}
		}

		switch to {
		case StatusConfirmed:
			return service.onConfirmed(ctx, tx, current, prospect)
		case StatusCancelled:
			return service.onCancelled(ctx, tx, current, prospect)
		case StatusDone:
			if prospect != nil {
				return Error.Wrap(tx.Leads().UpdateStatus(ctx, orgID, prospect.ID, lead.StatusDone))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.BookingLifecycle.WithLabelValues(action).Inc()
	service.audit.Event(ctx, "booking."+action,
		zap.String("org_id", orgID.String()),
		zap.String("booking_id", id.String()))
	return nil
}

// Reschedule moves the reserved interval, re-checking slot exclusivity
// under the team lock.
func (service *Service) Reschedule(ctx context.Context, orgID, id uuid.UUID, startsAt time.Time, durationMin int) (err error) {
	defer mon.Task()(&ctx)(&err)

	duration := time.Duration(durationMin) * time.Minute
	if duration < service.config.MinDuration || duration > service.config.MaxDuration {
		return apperrs.ErrValidation.Wrap(Error.New("duration out of range"))
	}

	err = service.db.WithTx(ctx, orgID, func(ctx context.Context, tx Tx) error {
		current, err := tx.Bookings().Get(ctx, orgID, id)
		if err != nil {
			return Error.Wrap(err)
		}
		if current == nil {
			return apperrs.ErrNotFound.Wrap(Error.New("booking not found"))
		}
		if Terminal(current.Status) || current.Status == StatusInProgress {
			return apperrs.ErrStatusTransition.Wrap(
				Error.New("cannot reschedule booking in status %s", current.Status))
		}

		if err := tx.Teams().Lock(ctx, orgID, current.TeamID); err != nil {
			return Error.Wrap(err)
		}
		booked, err := tx.Bookings().ListOverlapping(ctx, orgID, current.TeamID, startsAt, startsAt.Add(duration))
		if err != nil {
			return Error.Wrap(err)
		}
		if overlaps(booked, startsAt, startsAt.Add(duration), id) {
			return apperrs.ErrSlotTaken.Wrap(Error.New("slot already reserved"))
		}
		return Error.Wrap(tx.Bookings().UpdateSlot(ctx, orgID, id, startsAt.UTC(), durationMin, service.nowFn()))
	})
	if err != nil {
		return err
	}

	metrics.BookingLifecycle.WithLabelValues("reschedule").Inc()
	service.audit.Event(ctx, "booking.rescheduled",
		zap.String("org_id", orgID.String()),
		zap.String("booking_id", id.String()))
	return nil
}

// SweepExpired expires stale PENDING and AWAITING_DEPOSIT bookings,
// releasing their slots.
func (service *Service) SweepExpired(ctx context.Context, now time.Time) (expired int, err error) {
	defer mon.Task()(&ctx)(&err)

	stale, err := service.db.Bookings().ListStale(ctx, now.Add(-service.config.PendingTTL), 100)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	for i := range stale {
		current := &stale[i]
		err := service.db.WithTx(ctx, current.OrgID, func(ctx context.Context, tx Tx) error {
			moved, err := tx.Bookings().UpdateStatus(ctx, current.OrgID, current.ID,
				[]Status{StatusPending, StatusAwaitingDeposit}, StatusExpired, now)
			if err != nil {
				return Error.Wrap(err)
			}
			if moved {
				expired++
				metrics.BookingLifecycle.WithLabelValues("expired").Inc()
			}
			return nil
		})
		if err != nil {
			service.log.Warn("expiry sweep failed for booking",
				zap.String("booking_id", current.ID.String()), zap.Error(err))
		}
	}
	return expired, nil
}

// EnqueueReminders enqueues reminder emails for confirmed bookings
// starting within the reminder window. The dedupe key makes the job safe
// to run repeatedly.
func (service *Service) EnqueueReminders(ctx context.Context, now time.Time) (enqueued int, err error) {
	defer mon.Task()(&ctx)(&err)

	upcoming, err := service.db.Bookings().ListUpcoming(ctx, now, now.Add(service.config.ReminderLead))
	if err != nil {
		return 0, Error.Wrap(err)
	}
	for i := range upcoming {
		current := &upcoming[i]
		if current.LeadID == uuid.Nil {
			continue
		}
		err := service.db.WithTx(ctx, current.OrgID, func(ctx context.Context, tx Tx) error {
			prospect, err := tx.Leads().Get(ctx, current.OrgID, current.LeadID)
			if err != nil {
				return Error.Wrap(err)
			}
			return service.enqueueEmail(ctx, tx, current, prospect, "booking_reminder")
		})
		if err != nil {
			service.log.Warn("reminder enqueue failed",
				zap.String("booking_id", current.ID.String()), zap.Error(err))
			continue
		}
		enqueued++
	}
	return enqueued, nil
}

// onConfirmed runs the confirmation side effects inside the transaction:
// the confirmation email and the referral credit grant.
func (service *Service) onConfirmed(ctx context.Context, tx Tx, current *Booking, prospect *lead.Lead) error {
	if err := service.enqueueEmail(ctx, tx, current, prospect, "booking_confirmed"); err != nil {
		return err
	}
	if prospect != nil && prospect.ReferredBy != uuid.Nil {
		if _, err := tx.Credits().Resolve(ctx, current.OrgID, prospect.ID, lead.CreditGranted, service.nowFn()); err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

// onCancelled reverses the referral credit and enqueues the cancellation
// email.
func (service *Service) onCancelled(ctx context.Context, tx Tx, current *Booking, prospect *lead.Lead) error {
	if err := service.enqueueEmail(ctx, tx, current, prospect, "booking_cancelled"); err != nil {
		return err
	}
	if prospect != nil {
		if err := tx.Leads().UpdateStatus(ctx, current.OrgID, prospect.ID, lead.StatusCancelled); err != nil {
			return Error.Wrap(err)
		}
		if prospect.ReferredBy != uuid.Nil {
			if _, err := tx.Credits().Resolve(ctx, current.OrgID, prospect.ID, lead.CreditVoided, service.nowFn()); err != nil {
				return Error.Wrap(err)
			}
		}
	}
	return nil
}

func (service *Service) enqueueEmail(ctx context.Context, tx Tx, current *Booking, prospect *lead.Lead, template string) error {
	to := leadEmail(prospect)
	if to == "" {
		return nil
	}
	payload, err := json.Marshal(outbox.EmailPayload{
		To:       to,
		Template: template,
		Data: map[string]interface{}{
			"booking_id": current.ID.String(),
			"starts_at":  current.StartsAt.Format(time.RFC3339),
			"name":       prospect.Name,
		},
	})
	if err != nil {
		return Error.Wrap(err)
	}
	// synthetic (booking, invoice, type) dedupe key; "-" stands for null
	dedupe := fmt.Sprintf("email:%s:-:%s", current.ID, template)
	_, err = tx.Outbox().Enqueue(ctx, outbox.New(current.OrgID, outbox.KindEmail, dedupe, payload))
	return Error.Wrap(err)
}

func (service *Service) checkWorkingWindow(team *Team, startsAt time.Time, duration time.Duration) error {
	if !team.WorksOn(startsAt) {
		return apperrs.ErrSlotTaken.Wrap(Error.New("team does not work that day"))
	}
	day := startsAt.UTC().Truncate(24 * time.Hour)
	workStart := day.Add(time.Duration(team.WorkStartHour) * time.Hour)
	workEnd := day.Add(time.Duration(team.WorkEndHour) * time.Hour)
	if startsAt.Before(workStart) || startsAt.Add(duration).After(workEnd) {
		return apperrs.ErrValidation.Wrap(Error.New("outside working hours"))
	}
	return nil
}

func leadEmail(prospect *lead.Lead) string {
	if prospect == nil {
		return ""
	}
	return prospect.Email
}
