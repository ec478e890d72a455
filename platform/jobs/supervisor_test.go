// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package jobs_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/brightbroom/brightbroom/platform/jobs"
)

type fakeHeartbeats struct {
	mu    sync.Mutex
	beats map[string]*jobs.Heartbeat
}

func newFakeHeartbeats() *fakeHeartbeats {
	return &fakeHeartbeats{beats: map[string]*jobs.Heartbeat{}}
}

func (f *fakeHeartbeats) Upsert(ctx context.Context, beat *jobs.Heartbeat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *beat
	f.beats[beat.Job] = &clone
	return nil
}

func (f *fakeHeartbeats) Get(ctx context.Context, job string) (*jobs.Heartbeat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if beat, ok := f.beats[job]; ok {
		clone := *beat
		return &clone, nil
	}
	return nil, nil
}

func (f *fakeHeartbeats) List(ctx context.Context) ([]jobs.Heartbeat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []jobs.Heartbeat
	for _, beat := range f.beats {
		out = append(out, *beat)
	}
	return out, nil
}

func TestSupervisorBeatsAndFailures(t *testing.T) {
	beats := newFakeHeartbeats()
	supervisor := jobs.NewSupervisor(zaptest.NewLogger(t), beats, jobs.Config{
		IterationTimeout: time.Second,
	})

	var okRuns, failRuns atomic.Int32
	supervisor.Register("ticker", time.Hour, func(ctx context.Context) error {
		okRuns.Add(1)
		return nil
	})
	supervisor.Register("flaky", time.Hour, func(ctx context.Context) error {
		failRuns.Add(1)
		return jobs.Error.New("boom")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- supervisor.Run(ctx) }()

	// both jobs run once immediately
	require.Eventually(t, func() bool {
		return okRuns.Load() >= 1 && failRuns.Load() >= 1
	}, 5*time.Second, 10*time.Millisecond, "waiting for first iterations")

	// failures do not kill the supervisor; trigger more failing runs
	require.True(t, supervisor.Trigger("flaky"))
	require.True(t, supervisor.Trigger("flaky"))
	require.False(t, supervisor.Trigger("no_such_job"))

	cancel()
	require.NoError(t, <-done)

	ok, err := beats.Get(context.Background(), "ticker")
	require.NoError(t, err)
	require.NotNil(t, ok.LastSuccessAt)
	require.Zero(t, ok.ConsecutiveFailures)

	flaky, err := beats.Get(context.Background(), "flaky")
	require.NoError(t, err)
	require.Nil(t, flaky.LastSuccessAt)
	require.GreaterOrEqual(t, flaky.ConsecutiveFailures, 3)
	require.Contains(t, flaky.LastError, "boom")
}

func TestHeartbeatKeepsLastSuccessAcrossFailures(t *testing.T) {
	beats := newFakeHeartbeats()
	supervisor := jobs.NewSupervisor(zaptest.NewLogger(t), beats, jobs.Config{
		IterationTimeout: time.Second,
	})

	var fail atomic.Bool
	supervisor.Register("wobbly", time.Hour, func(ctx context.Context) error {
		if fail.Load() {
			return jobs.Error.New("down")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- supervisor.Run(ctx) }()

	require.Eventually(t, func() bool {
		beat, _ := beats.Get(context.Background(), "wobbly")
		return beat != nil && beat.LastSuccessAt != nil
	}, 5*time.Second, 10*time.Millisecond, "waiting for first success")

	succeededAt, err := beats.Get(context.Background(), "wobbly")
	require.NoError(t, err)
	lastSuccess := *succeededAt.LastSuccessAt

	fail.Store(true)
	require.True(t, supervisor.Trigger("wobbly"))

	cancel()
	require.NoError(t, <-done)

	beat, err := beats.Get(context.Background(), "wobbly")
	require.NoError(t, err)
	require.GreaterOrEqual(t, beat.ConsecutiveFailures, 1)
	require.NotNil(t, beat.LastSuccessAt)
	require.Equal(t, lastSuccess, *beat.LastSuccessAt)
	require.True(t, beat.LastBeatAt.After(lastSuccess) || beat.LastBeatAt.Equal(lastSuccess))
}

func TestHealthyStrictMode(t *testing.T) {
	beats := newFakeHeartbeats()
	supervisor := jobs.NewSupervisor(zaptest.NewLogger(t), beats, jobs.Config{
		StrictHeartbeat: true,
		HeartbeatTTL:    time.Minute,
	})
	supervisor.Register(jobs.JobOutboxDrain, time.Hour, func(ctx context.Context) error { return nil })

	ctx := context.Background()

	// no heartbeat yet
	require.Error(t, supervisor.Healthy(ctx))

	require.NoError(t, beats.Upsert(ctx, &jobs.Heartbeat{
		Job: jobs.JobOutboxDrain, LastBeatAt: time.Now(),
	}))
	require.NoError(t, supervisor.Healthy(ctx))

	// stale heartbeat fails readiness
	require.NoError(t, beats.Upsert(ctx, &jobs.Heartbeat{
		Job: jobs.JobOutboxDrain, LastBeatAt: time.Now().Add(-2 * time.Minute),
	}))
	require.Error(t, supervisor.Healthy(ctx))
}

func TestHealthyLenientMode(t *testing.T) {
	supervisor := jobs.NewSupervisor(zaptest.NewLogger(t), newFakeHeartbeats(), jobs.Config{})
	supervisor.Register(jobs.JobBookingSweep, time.Hour, func(ctx context.Context) error { return nil })
	require.NoError(t, supervisor.Healthy(context.Background()))
}
