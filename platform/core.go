// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package platform

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/brightbroom/brightbroom/platform/jobs"
	"github.com/brightbroom/brightbroom/platform/outbox"
)

// SchedulerConfig configures the Core peer's background loops.
type SchedulerConfig struct {
	Supervisor jobs.Config

	OutboxDrainInterval  time.Duration `help:"how often the outbox drain claims due events" default:"10s"`
	BookingSweepInterval time.Duration `help:"how often stale holds are expired" default:"5m"`
	ReminderInterval     time.Duration `help:"how often reminder emails are enqueued" default:"10m"`
	RetentionInterval    time.Duration `help:"how often retention cleanup runs" default:"1h"`
	JanitorInterval      time.Duration `help:"how often dead storage deletes are requeued" default:"5m"`

	FinishedRetention    time.Duration `help:"delivered and dead events older than this are deleted" default:"720h"`
	IdempotencyRetention time.Duration `help:"stored idempotent responses older than this are deleted" default:"24h"`
	JanitorRequeueAfter  time.Duration `help:"dead storage deletes older than this are requeued" default:"1h"`
}

// Core is the scheduler peer. It owns the background loops; the HTTP
// surface lives on the API peer.
//
// architecture: Peer
type Core struct {
	Log      *zap.Logger
	DB       DB
	Services *Services

	Jobs *jobs.Supervisor
}

// NewCore assembles the scheduler peer and registers its jobs.
func NewCore(log *zap.Logger, db DB, config Config, services *Services) (*Core, error) {
	peer := &Core{
		Log:      log,
		DB:       db,
		Services: services,
		Jobs:     jobs.NewSupervisor(log.Named("jobs"), db.Heartbeats(), config.Scheduler.Supervisor),
	}

	scheduler := config.Scheduler
	if scheduler.OutboxDrainInterval <= 0 {
		scheduler.OutboxDrainInterval = 10 * time.Second
	}
	if scheduler.BookingSweepInterval <= 0 {
		scheduler.BookingSweepInterval = 5 * time.Minute
	}
	if scheduler.ReminderInterval <= 0 {
		scheduler.ReminderInterval = 10 * time.Minute
	}
	if scheduler.RetentionInterval <= 0 {
		scheduler.RetentionInterval = time.Hour
	}
	if scheduler.JanitorInterval <= 0 {
		scheduler.JanitorInterval = 5 * time.Minute
	}
	if scheduler.FinishedRetention <= 0 {
		scheduler.FinishedRetention = 720 * time.Hour
	}
	if scheduler.IdempotencyRetention <= 0 {
		scheduler.IdempotencyRetention = 24 * time.Hour
	}
	if scheduler.JanitorRequeueAfter <= 0 {
		scheduler.JanitorRequeueAfter = time.Hour
	}

	{ // outbox drain
		peer.Jobs.Register(jobs.JobOutboxDrain, scheduler.OutboxDrainInterval,
			func(ctx context.Context) error {
				_, err := services.Outbox.DrainDue(ctx, time.Now())
				return err
			})
	}

	{ // booking sweep
		peer.Jobs.Register(jobs.JobBookingSweep, scheduler.BookingSweepInterval,
			func(ctx context.Context) error {
				_, err := services.Bookings.SweepExpired(ctx, time.Now())
				return err
			})
	}

	{ // email reminders
		peer.Jobs.Register(jobs.JobEmailReminders, scheduler.ReminderInterval,
			func(ctx context.Context) error {
				_, err := services.Bookings.EnqueueReminders(ctx, time.Now())
				return err
			})
	}

	{ // retention cleanup
		peer.Jobs.Register(jobs.JobRetentionCleanup, scheduler.RetentionInterval,
			func(ctx context.Context) error {
				return peer.retentionCleanup(ctx, scheduler)
			})
	}

	{ // storage janitor
		peer.Jobs.Register(jobs.JobStorageJanitor, scheduler.JanitorInterval,
			func(ctx context.Context) error {
				requeued, err := services.Outbox.RequeueDead(ctx, outbox.KindStorageDelete,
					time.Now().Add(-scheduler.JanitorRequeueAfter))
				if requeued > 0 {
					log.Info("requeued dead storage deletes", zap.Int64("count", requeued))
				}
				return err
			})
	}

	return peer, nil
}

// retentionCleanup runs every delete-old-data concern in one iteration so
// a single heartbeat covers them all.
func (peer *Core) retentionCleanup(ctx context.Context, scheduler SchedulerConfig) (err error) {
	defer mon.Task()(&ctx)(&err)
	now := time.Now()

	_, overdueErr := peer.Services.Invoices.SweepOverdue(ctx, now)

	erased, leadErr := peer.Services.Leads.SweepRetention(ctx, now, peer.eraseLeadPhotos)
	if erased > 0 {
		peer.Log.Info("erased expired leads", zap.Int("count", erased))
	}

	_, eventsErr := peer.Services.Outbox.DeleteFinished(ctx, now.Add(-scheduler.FinishedRetention))
	_, sessionsErr := peer.DB.Console().Sessions().DeleteExpired(ctx, now)
	_, idempotencyErr := peer.DB.Idempotency().DeleteOlderThan(ctx, now.Add(-scheduler.IdempotencyRetention))

	return errs.Combine(overdueErr, leadErr, eventsErr, sessionsErr, idempotencyErr)
}

// eraseLeadPhotos is the retention cascade: before a lead row is erased,
// every photo on the lead's bookings goes away, which also enqueues the
// storage deletes for the underlying objects.
func (peer *Core) eraseLeadPhotos(ctx context.Context, orgID, leadID uuid.UUID) error {
	bookings, err := peer.DB.Bookings().Bookings().ListForLead(ctx, orgID, leadID)
	if err != nil {
		return Error.Wrap(err)
	}
	for i := range bookings {
		photos, err := peer.Services.Photos.ListForBooking(ctx, orgID, bookings[i].ID)
		if err != nil {
			return Error.Wrap(err)
		}
		for j := range photos {
			if err := peer.Services.Photos.Delete(ctx, orgID, photos[j].ID); err != nil {
				return Error.Wrap(err)
			}
		}
	}
	return nil
}

// Run starts the supervisor until the context is canceled.
func (peer *Core) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	return Error.Wrap(peer.Jobs.Run(ctx))
}

// Close stops the background loops.
func (peer *Core) Close() error {
	return Error.Wrap(peer.Jobs.Close())
}
