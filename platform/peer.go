// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package platform assembles the BrightBroom peers.
//
// Two peers share one database and one service bundle: the API peer
// serves HTTP, the Core peer runs the background jobs. A deployment can
// run them as one process or split them across hosts.
package platform

import (
	"context"
	"net/http"
	"time"

	monkit "github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/brightbroom/brightbroom/platform/audit"
	"github.com/brightbroom/brightbroom/platform/booking"
	"github.com/brightbroom/brightbroom/platform/console"
	"github.com/brightbroom/brightbroom/platform/console/consoleauth"
	"github.com/brightbroom/brightbroom/platform/invoice"
	"github.com/brightbroom/brightbroom/platform/jobs"
	"github.com/brightbroom/brightbroom/platform/lead"
	"github.com/brightbroom/brightbroom/platform/mailservice"
	"github.com/brightbroom/brightbroom/platform/objectstore"
	"github.com/brightbroom/brightbroom/platform/outbox"
	"github.com/brightbroom/brightbroom/platform/payments"
	"github.com/brightbroom/brightbroom/platform/photos"
	"github.com/brightbroom/brightbroom/platform/pricing"
	"github.com/brightbroom/brightbroom/platform/ratelimit"
	"github.com/brightbroom/brightbroom/platform/web"
	"github.com/brightbroom/brightbroom/private/dbutil"
)

var (
	// Error is the default platform errs class.
	Error = errs.Class("platform")

	mon = monkit.Package()
)

// DB is the master database every peer runs against.
//
// architecture: Master Database
type DB interface {
	// MigrateToLatest initializes the database.
	MigrateToLatest(ctx context.Context) error
	// Ping reports backend connectivity.
	Ping(ctx context.Context) error
	// Close closes the database.
	Close() error

	// Console returns the identity surface.
	Console() console.DB
	// Leads returns the lead surface.
	Leads() lead.DB
	// Bookings returns the booking surface.
	Bookings() booking.DB
	// Invoices returns the invoice surface.
	Invoices() invoice.DB
	// Photos returns the photo surface.
	Photos() photos.DB
	// Outbox returns the full event repository.
	Outbox() outbox.Events
	// Heartbeats returns the job heartbeat repository.
	Heartbeats() jobs.Heartbeats
	// Idempotency returns the stored-response repository for admin writes.
	Idempotency() web.IdempotencyKeys
}

// Config is the global configuration for every peer.
type Config struct {
	Database dbutil.Config
	Auth     consoleauth.Config

	Lead         lead.Config
	Booking      booking.Config
	Invoice      invoice.Config
	Photos       photos.Config
	Pricing      pricing.Config
	Outbox       outbox.Config
	Destinations outbox.DestinationConfig

	Mail     mailservice.Config
	Payments payments.Config
	Store    objectstore.Config

	RateLimit ratelimit.Config
	Server    web.Config
	Scheduler SchedulerConfig
}

// Services is the bundle shared by the API and Core peers. Both peers
// build the same bundle so an event enqueued by one is drainable by the
// other.
type Services struct {
	Audit    *audit.Log
	Signer   *consoleauth.Signer
	Pricing  *pricing.Evaluator
	Store    objectstore.Store
	Mail     *mailservice.Service
	Payments payments.Provider

	Console  *console.Service
	Leads    *lead.Service
	Bookings *booking.Service
	Invoices *invoice.Service
	Photos   *photos.Service
	Outbox   *outbox.Service
}

// NewServices constructs the shared bundle and registers the outbox
// handlers.
func NewServices(log *zap.Logger, db DB, config Config) (*Services, error) {
	auditLog := audit.NewLog(log.Named("audit"))

	signer, err := consoleauth.NewSigner(config.Auth)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	evaluator, err := pricing.NewEvaluator(config.Pricing)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	store, err := objectstore.Open(config.Store)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	mail, err := mailservice.New(log.Named("mail"), config.Mail)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	provider, err := payments.Open(config.Payments)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	services := &Services{
		Audit:    auditLog,
		Signer:   signer,
		Pricing:  evaluator,
		Store:    store,
		Mail:     mail,
		Payments: provider,

		Console:  console.NewService(log.Named("console"), auditLog, db.Console(), signer, config.Auth),
		Leads:    lead.NewService(log.Named("lead"), auditLog, db.Leads(), config.Lead),
		Bookings: booking.NewService(log.Named("booking"), auditLog, db.Bookings(),
			db.Console().Organizations(), provider, config.Booking),
		Invoices: invoice.NewService(log.Named("invoice"), auditLog, db.Invoices(), config.Invoice),
		Photos: photos.NewService(log.Named("photos"), auditLog, db.Photos(),
			db.Bookings().Bookings(), db.Console().Organizations(), store, signer, config.Photos),
		Outbox: outbox.NewService(log.Named("outbox"), db.Outbox(), config.Outbox),
	}

	{ // outbox handlers
		checker := outbox.NewDestinationChecker(config.Destinations)
		client := &http.Client{Timeout: 10 * time.Second}
		services.Outbox.Register(outbox.KindEmail,
			outbox.NewEmailHandler(log.Named("outbox:email"), mail))
		services.Outbox.Register(outbox.KindExportWebhook,
			outbox.NewWebhookHandler(log.Named("outbox:export"), checker, client))
		services.Outbox.Register(outbox.KindIntegrationEvent,
			outbox.NewWebhookHandler(log.Named("outbox:integration"), checker, client))
		services.Outbox.Register(outbox.KindStorageDelete,
			outbox.NewStorageJanitorHandler(log.Named("outbox:janitor"), store))
	}

	return services, nil
}
