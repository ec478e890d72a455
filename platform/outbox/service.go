// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package outbox

import (
	"context"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	monkit "github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"github.com/brightbroom/brightbroom/platform/metrics"
)

var mon = monkit.Package()

// Config configures delivery behavior.
type Config struct {
	BatchSize   int           `help:"events claimed per drain iteration" default:"50"`
	MaxAttempts int           `help:"attempts before an event goes dead" default:"8"`
	BackoffBase time.Duration `help:"first retry delay" default:"30s"`
	BackoffMax  time.Duration `help:"retry delay ceiling" default:"4h"`
	LeaseTTL    time.Duration `help:"in-flight lease reclaimed after this" default:"5m"`
}

// Handler delivers events of one kind. Implementations are idempotent on
// the dedupe key: re-delivery of the same event must be harmless.
type Handler interface {
	Handle(ctx context.Context, event *Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event *Event) error

// Handle implements Handler.
func (fn HandlerFunc) Handle(ctx context.Context, event *Event) error { return fn(ctx, event) }

// Service drains due events and routes them to kind handlers.
//
// architecture: Service
type Service struct {
	log      *zap.Logger
	db       Events
	config   Config
	handlers map[Kind]Handler
	worker   string

	nowFn func() time.Time
}

// NewService creates an outbox service.
func NewService(log *zap.Logger, db Events, config Config) *Service {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 8
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = 30 * time.Second
	}
	if config.BackoffMax <= 0 {
		config.BackoffMax = 4 * time.Hour
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = 5 * time.Minute
	}
	hostname, _ := os.Hostname()
	return &Service{
		log:      log,
		db:       db,
		config:   config,
		handlers: map[Kind]Handler{},
		worker:   hostname + "-" + strconv.Itoa(os.Getpid()),
		nowFn:    time.Now,
	}
}

// Register installs the handler for a kind. Registration happens once at
// startup.
func (service *Service) Register(kind Kind, handler Handler) {
	service.handlers[kind] = handler
}

// DrainDue claims a batch of due events and delivers them. It returns the
// number of events processed so the scheduler can drain hot queues faster.
func (service *Service) DrainDue(ctx context.Context, now time.Time) (processed int, err error) {
	defer mon.Task()(&ctx)(&err)

	events, err := service.db.ClaimDue(ctx, now, service.config.BatchSize, service.worker, service.config.LeaseTTL)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	for i := range events {
		if ctx.Err() != nil {
			// the lease TTL reclaims whatever we leave in flight
			return processed, nil
		}
		service.deliver(ctx, &events[i])
		processed++
	}
	return processed, nil
}

func (service *Service) deliver(ctx context.Context, event *Event) {
	log := service.log.With(
		zap.String("event_id", event.ID.String()),
		zap.String("org_id", event.OrgID.String()),
		zap.String("kind", string(event.Kind)),
		zap.Int("attempt", event.Attempts+1))

	handler, ok := service.handlers[event.Kind]
	if !ok {
		service.kill(ctx, event, Error.New("no handler registered"), CodeUnknownKind, log)
		return
	}

	err := handler.Handle(ctx, event)
	if err == nil {
		if err := service.db.MarkDelivered(ctx, event.ID, service.nowFn()); err != nil {
			log.Error("mark delivered failed", zap.Error(err))
			return
		}
		metrics.OutboxEvents.WithLabelValues(string(event.Kind), "delivered").Inc()
		log.Debug("event delivered")
		return
	}

	if code, permanent := permanentCode(err); permanent {
		service.kill(ctx, event, err, code, log)
		return
	}

	attempts := event.Attempts + 1
	if attempts >= service.config.MaxAttempts {
		service.kill(ctx, event, err, CodeExhausted, log)
		return
	}

	next := service.nowFn().Add(service.Backoff(attempts))
	if err := service.db.Reschedule(ctx, event.ID, attempts, next, err.Error()); err != nil {
		log.Error("reschedule failed", zap.Error(err))
		return
	}
	metrics.OutboxEvents.WithLabelValues(string(event.Kind), "retried").Inc()
	log.Warn("delivery failed, will retry", zap.Time("next_attempt", next), zap.Error(err))
}

func (service *Service) kill(ctx context.Context, event *Event, cause error, code string, log *zap.Logger) {
	if err := service.db.MarkDead(ctx, event.ID, event.Attempts+1, code+": "+cause.Error()); err != nil {
		log.Error("mark dead failed", zap.Error(err))
		return
	}
	metrics.OutboxEvents.WithLabelValues(string(event.Kind), "dead").Inc()
	log.Error("event dead lettered", zap.String("code", code), zap.Error(cause))
}

// Backoff computes the delay before the given attempt number: exponential
// from the base, capped, with up to 10% jitter.
func (service *Service) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := service.config.BackoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= service.config.BackoffMax {
			delay = service.config.BackoffMax
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/10 + 1))
	if delay+jitter > service.config.BackoffMax {
		return service.config.BackoffMax
	}
	return delay + jitter
}

// ListDead returns dead lettered events of an org for the DLQ surface.
func (service *Service) ListDead(ctx context.Context, orgID uuid.UUID, kind Kind, limit int) (_ []Event, err error) {
	defer mon.Task()(&ctx)(&err)

	if limit <= 0 || limit > 500 {
		limit = 100
	}
	events, err := service.db.ListDead(ctx, orgID, kind, limit)
	return events, Error.Wrap(err)
}

// Replay resets a dead event of the org back to PENDING.
func (service *Service) Replay(ctx context.Context, orgID, id uuid.UUID) (replayed bool, err error) {
	defer mon.Task()(&ctx)(&err)

	replayed, err = service.db.Replay(ctx, orgID, id)
	if err != nil {
		return false, Error.Wrap(err)
	}
	if replayed {
		metrics.OutboxEvents.WithLabelValues("all", "replayed").Inc()
	}
	return replayed, nil
}

// RequeueDead returns dead events of the kind to PENDING. The storage
// janitor uses it so deletes exhaust their attempts and come back instead
// of orphaning objects.
func (service *Service) RequeueDead(ctx context.Context, kind Kind, before time.Time) (requeued int64, err error) {
	defer mon.Task()(&ctx)(&err)

	requeued, err = service.db.RequeueDeadKind(ctx, kind, before, service.config.BatchSize)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	if requeued > 0 {
		metrics.OutboxEvents.WithLabelValues(string(kind), "requeued").Add(float64(requeued))
	}
	return requeued, nil
}

// DeleteFinished removes terminal events older than the retention window.
func (service *Service) DeleteFinished(ctx context.Context, before time.Time) (removed int64, err error) {
	defer mon.Task()(&ctx)(&err)

	removed, err = service.db.DeleteFinished(ctx, before)
	return removed, Error.Wrap(err)
}
