// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package web is the HTTP surface: routing, middleware, authentication
// and the single translation from domain failures to problem responses.
package web

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	monkit "github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brightbroom/brightbroom/platform/audit"
	"github.com/brightbroom/brightbroom/platform/booking"
	"github.com/brightbroom/brightbroom/platform/console"
	"github.com/brightbroom/brightbroom/platform/console/consoleauth"
	"github.com/brightbroom/brightbroom/platform/invoice"
	"github.com/brightbroom/brightbroom/platform/jobs"
	"github.com/brightbroom/brightbroom/platform/lead"
	"github.com/brightbroom/brightbroom/platform/metrics"
	"github.com/brightbroom/brightbroom/platform/objectstore"
	"github.com/brightbroom/brightbroom/platform/outbox"
	"github.com/brightbroom/brightbroom/platform/photos"
	"github.com/brightbroom/brightbroom/platform/pricing"
	"github.com/brightbroom/brightbroom/platform/ratelimit"
	"github.com/brightbroom/brightbroom/private/requestid"
)

var (
	// Error is the default web errs class.
	Error = errs.Class("web")

	mon = monkit.Package()
)

// Config configures the HTTP server.
type Config struct {
	Address        string        `help:"server address" default:":8080"`
	Environment    string        `help:"deployment environment: development, staging or production" default:"development"`
	RequestTimeout time.Duration `help:"handler ceiling for every request" default:"30s"`
	AllowedOrigin  string        `help:"origin allowed for cross-origin requests, empty disables cors" default:""`

	AdminLogin    string `help:"operator basic auth login, empty disables operator access" default:""`
	AdminPassword string `help:"operator basic auth password" default:""`

	AdminSafety AdminSafetyConfig
	Metrics     metrics.Config
}

// Services are the domain collaborators the surface dispatches into.
type Services struct {
	Console  *console.Service
	Leads    *lead.Service
	Bookings *booking.Service
	Invoices *invoice.Service
	Photos   *photos.Service
	Outbox   *outbox.Service
	Events   outbox.Events
	Jobs     *jobs.Supervisor
	Pricing  *pricing.Evaluator
	Store    objectstore.Store
}

// Server is the HTTP peer surface.
//
// architecture: Endpoint
type Server struct {
	log      *zap.Logger
	audit    *audit.Log
	config   Config
	services Services

	signer         *consoleauth.Signer
	limiter        ratelimit.Limiter
	trustedProxies []*net.IPNet
	idempotency    IdempotencyKeys
	gate           *adminGate
	ready          func(ctx context.Context) error

	flagsMu sync.RWMutex
	flags   map[string]bool

	router *mux.Router
	server http.Server
}

// NewServer assembles the router. The ready callback reports backend
// health for the readiness endpoint.
func NewServer(log *zap.Logger, auditLog *audit.Log, config Config, services Services,
	signer *consoleauth.Signer, limiter ratelimit.Limiter, trustedProxies []*net.IPNet,
	idempotency IdempotencyKeys, ready func(ctx context.Context) error) (*Server, error) {

	gate, err := newAdminGate(log.Named("admin-gate"), signer, config.AdminSafety)
	if err != nil {
		return nil, err
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}

	server := &Server{
		log:            log,
		audit:          auditLog,
		config:         config,
		services:       services,
		signer:         signer,
		limiter:        limiter,
		trustedProxies: trustedProxies,
		idempotency:    idempotency,
		gate:           gate,
		ready:          ready,
		flags:          map[string]bool{},
	}
	server.router = server.buildRouter()
	return server, nil
}

// Handler exposes the full middleware chain, also used by tests.
func (server *Server) Handler() http.Handler {
	handler := http.Handler(server.router)
	handler = server.resolvePrincipal(handler)
	handler = server.withTimeout(handler)
	handler = server.observe(handler)
	handler = server.recoverPanics(handler)
	handler = server.cors(handler)
	handler = requestid.Propagate(handler)
	return handler
}

func (server *Server) buildRouter() *mux.Router {
	router := mux.NewRouter()

	// operational endpoints stay unversioned
	router.HandleFunc("/healthz", server.handleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/readyz", server.handleReadyz).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler(server.config.Metrics)).Methods(http.MethodGet)

	v1 := router.PathPrefix("/v1").Subrouter()

	public := v1.NewRoute().Subrouter()
	public.Use(server.limitGroup("public"))
	public.HandleFunc("/estimate", server.handleEstimate).Methods(http.MethodPost)
	public.HandleFunc("/chat/turn", server.handleChatTurn).Methods(http.MethodPost)
	public.HandleFunc("/leads", server.handleLeadIntake).Methods(http.MethodPost)
	public.HandleFunc("/slots", server.handleSlots).Methods(http.MethodGet)
	public.HandleFunc("/bookings", server.handleCreateBooking).Methods(http.MethodPost)
	public.HandleFunc("/stripe/webhook", server.handleStripeWebhook).Methods(http.MethodPost)
	public.HandleFunc("/i/{token}", server.handlePublicInvoice).Methods(http.MethodGet)
	public.HandleFunc("/i/{token}.pdf", server.handlePublicInvoiceDocument).Methods(http.MethodGet)
	public.HandleFunc("/i/{token}/signed_url", server.handlePublicInvoiceSignedURL).Methods(http.MethodGet)
	public.HandleFunc("/i/s/{token}", server.handleShortInvoice).Methods(http.MethodGet)
	public.HandleFunc("/photos/download", server.handlePhotoDownload).Methods(http.MethodGet)
	public.HandleFunc("/objects/{key:.+}", server.handleObjectProxy).Methods(http.MethodGet)

	authGroup := v1.PathPrefix("/auth").Subrouter()
	authGroup.Use(server.limitGroup("auth"))
	authGroup.HandleFunc("/login", server.handleLogin).Methods(http.MethodPost)
	authGroup.HandleFunc("/refresh", server.handleRefresh).Methods(http.MethodPost)
	authGroup.HandleFunc("/logout", server.handleLogout).Methods(http.MethodPost)
	authGroup.HandleFunc("/change-password", server.handleChangePassword).Methods(http.MethodPost)

	server.registerAdminRoutes(v1)
	server.registerWorkerRoutes(v1)
	server.registerClientRoutes(v1)
	server.registerPhotoRoutes(v1)

	return router
}

// Run serves until ctx is cancelled.
func (server *Server) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	listener, err := net.Listen("tcp", server.config.Address)
	if err != nil {
		return Error.Wrap(err)
	}

	server.server = http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return Error.Wrap(server.server.Shutdown(shutdownCtx))
	})
	group.Go(func() error {
		server.log.Info("http server started", zap.String("address", listener.Addr().String()))
		err := server.server.Serve(listener)
		if err == http.ErrServerClosed {
			return nil
		}
		return Error.Wrap(err)
	})
	return group.Wait()
}

// Close stops the server immediately.
func (server *Server) Close() error {
	return Error.Wrap(server.server.Close())
}

func (server *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	server.serveJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (server *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if server.ready != nil {
		if err := server.ready(r.Context()); err != nil {
			server.serveJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"reason": "backend not ready",
			})
			return
		}
	}
	if server.services.Jobs != nil {
		if err := server.services.Jobs.Healthy(r.Context()); err != nil {
			server.serveJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"reason": "job heartbeat stale",
			})
			return
		}
	}
	server.serveJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// FeatureFlag reports a named flag; unknown flags are off.
func (server *Server) FeatureFlag(name string) bool {
	server.flagsMu.RLock()
	defer server.flagsMu.RUnlock()
	return server.flags[name]
}
