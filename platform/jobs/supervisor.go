// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package jobs

import (
	"context"
	"errors"
	"time"

	monkit "github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brightbroom/brightbroom/platform/metrics"
	"github.com/brightbroom/brightbroom/private/sync2"
)

var mon = monkit.Package()

// Config configures the supervisor.
type Config struct {
	IterationTimeout time.Duration `help:"per-iteration timeout for every job" default:"60s"`
	DrainBudget      time.Duration `help:"how long shutdown waits for running iterations" default:"15s"`

	StrictHeartbeat bool          `help:"readiness fails when a job heartbeat is stale" default:"false"`
	HeartbeatTTL    time.Duration `help:"heartbeats older than this make readiness fail in strict mode" default:"5m"`
}

// Func is one job iteration. It must respect ctx cancellation.
type Func func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration
	fn       Func
	cycle    *sync2.Cycle
}

// Supervisor owns the job cycles. Jobs are registered before Run; every
// iteration writes a heartbeat whether it succeeded or failed.
//
// architecture: Service
type Supervisor struct {
	log    *zap.Logger
	beats  Heartbeats
	config Config

	jobs  []*job
	nowFn func() time.Time
}

// NewSupervisor creates an empty supervisor.
func NewSupervisor(log *zap.Logger, beats Heartbeats, config Config) *Supervisor {
	if config.IterationTimeout <= 0 {
		config.IterationTimeout = time.Minute
	}
	if config.HeartbeatTTL <= 0 {
		config.HeartbeatTTL = 5 * time.Minute
	}
	return &Supervisor{
		log:    log,
		beats:  beats,
		config: config,
		nowFn:  time.Now,
	}
}

// Register adds a job. Must be called before Run.
func (supervisor *Supervisor) Register(name string, interval time.Duration, fn Func) {
	supervisor.jobs = append(supervisor.jobs, &job{
		name:     name,
		interval: interval,
		fn:       fn,
		cycle:    sync2.NewCycle(interval),
	})
}

// Run drives all registered jobs until ctx is cancelled. Job failures are
// recorded and logged, never fatal to the supervisor.
func (supervisor *Supervisor) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for _, registered := range supervisor.jobs {
		registered := registered
		group.Go(func() error {
			return registered.cycle.Run(ctx, func(ctx context.Context) error {
				supervisor.iterate(ctx, registered)
				return nil
			})
		})
	}
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops all cycles; pending iterations finish on their own.
func (supervisor *Supervisor) Close() error {
	for _, registered := range supervisor.jobs {
		registered.cycle.Stop()
	}
	return nil
}

// Trigger runs the named job once, synchronously with its loop. Used by
// admin endpoints and tests.
func (supervisor *Supervisor) Trigger(name string) bool {
	for _, registered := range supervisor.jobs {
		if registered.name == name {
			registered.cycle.TriggerWait()
			return true
		}
	}
	return false
}

func (supervisor *Supervisor) iterate(ctx context.Context, registered *job) {
	iterCtx, cancel := context.WithTimeout(ctx, supervisor.config.IterationTimeout)
	defer cancel()

	start := supervisor.nowFn()
	err := registered.fn(iterCtx)
	if ctx.Err() != nil && err != nil {
		// shutdown cut the iteration short; the next process run resumes
		return
	}

	now := supervisor.nowFn()
	beat := &Heartbeat{
		Job:        registered.name,
		LastBeatAt: now,
	}
	if err == nil {
		beat.LastSuccessAt = &now
	} else {
		beat.LastError = err.Error()
		// a failed iteration keeps the previous success time
		previous, getErr := supervisor.beats.Get(ctx, registered.name)
		if getErr == nil && previous != nil {
			beat.ConsecutiveFailures = previous.ConsecutiveFailures + 1
			beat.LastSuccessAt = previous.LastSuccessAt
		} else {
			beat.ConsecutiveFailures = 1
		}
		supervisor.log.Warn("job iteration failed",
			zap.String("job", registered.name),
			zap.Duration("elapsed", supervisor.nowFn().Sub(start)),
			zap.Error(err))
	}
	if upsertErr := supervisor.beats.Upsert(ctx, beat); upsertErr != nil {
		supervisor.log.Warn("heartbeat write failed",
			zap.String("job", registered.name), zap.Error(upsertErr))
	}
	metrics.JobHeartbeatAge.WithLabelValues(registered.name).Set(0)
}

// Status returns the stored heartbeats and refreshes the age gauges.
func (supervisor *Supervisor) Status(ctx context.Context) (_ []Heartbeat, err error) {
	defer mon.Task()(&ctx)(&err)

	beats, err := supervisor.beats.List(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	now := supervisor.nowFn()
	for i := range beats {
		metrics.JobHeartbeatAge.WithLabelValues(beats[i].Job).Set(now.Sub(beats[i].LastBeatAt).Seconds())
	}
	return beats, nil
}

// Healthy implements the strict-heartbeat readiness check: every
// registered job must have beaten within the TTL.
func (supervisor *Supervisor) Healthy(ctx context.Context) error {
	if !supervisor.config.StrictHeartbeat {
		return nil
	}
	now := supervisor.nowFn()
	for _, registered := range supervisor.jobs {
		beat, err := supervisor.beats.Get(ctx, registered.name)
		if err != nil {
			return Error.Wrap(err)
		}
		if beat == nil || now.Sub(beat.LastBeatAt) > supervisor.config.HeartbeatTTL {
			return Error.New("job %s heartbeat is stale", registered.name)
		}
	}
	return nil
}
