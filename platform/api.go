// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package platform

import (
	"context"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brightbroom/brightbroom/platform/jobs"
	"github.com/brightbroom/brightbroom/platform/ratelimit"
	"github.com/brightbroom/brightbroom/platform/web"
)

// API is the HTTP peer.
//
// architecture: Peer
type API struct {
	Log      *zap.Logger
	DB       DB
	Services *Services

	Limiter        ratelimit.Limiter
	TrustedProxies []*net.IPNet

	Server *web.Server
}

// NewAPI assembles the HTTP peer. The supervisor is the Core peer's when
// both run in one process, nil otherwise; readiness then skips the job
// heartbeat check.
func NewAPI(log *zap.Logger, db DB, config Config, services *Services, supervisor *jobs.Supervisor) (*API, error) {
	peer := &API{
		Log:      log,
		DB:       db,
		Services: services,
	}

	{ // setup rate limiting
		limit := config.RateLimit.PerMinute + config.RateLimit.Burst
		if config.RateLimit.RedisURL != "" {
			limiter, err := ratelimit.NewRedis(log.Named("ratelimit"), config.RateLimit.RedisURL, limit)
			if err != nil {
				return nil, Error.Wrap(err)
			}
			peer.Limiter = limiter
		} else {
			peer.Limiter = ratelimit.NewLocal(limit)
		}

		trusted, err := ratelimit.ParseTrusted(config.RateLimit.TrustedProxies)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		peer.TrustedProxies = trusted
	}

	{ // setup http server
		server, err := web.NewServer(log.Named("web"), services.Audit, config.Server,
			web.Services{
				Console:  services.Console,
				Leads:    services.Leads,
				Bookings: services.Bookings,
				Invoices: services.Invoices,
				Photos:   services.Photos,
				Outbox:   services.Outbox,
				Events:   db.Outbox(),
				Jobs:     supervisor,
				Pricing:  services.Pricing,
				Store:    services.Store,
			},
			services.Signer, peer.Limiter, peer.TrustedProxies,
			db.Idempotency(), db.Ping)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		peer.Server = server
	}

	return peer, nil
}

// Run starts the HTTP server until the context is canceled.
func (peer *API) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return peer.Server.Run(ctx)
	})
	return Error.Wrap(group.Wait())
}

// Close releases the peer's resources.
func (peer *API) Close() error {
	return Error.Wrap(peer.Server.Close())
}
