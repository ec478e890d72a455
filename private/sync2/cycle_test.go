// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package sync2_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brightbroom/brightbroom/private/sync2"
)

func TestCycle_RunsImmediately(t *testing.T) {
	cycle := sync2.NewCycle(time.Hour)

	var count int64
	done := make(chan error, 1)
	go func() {
		done <- cycle.Run(context.Background(), func(ctx context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&count) == 1
	}, time.Second, time.Millisecond)

	cycle.Stop()
	require.NoError(t, <-done)
}

func TestCycle_TriggerWait(t *testing.T) {
	cycle := sync2.NewCycle(time.Hour)

	var count int64
	done := make(chan error, 1)
	go func() {
		done <- cycle.Run(context.Background(), func(ctx context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&count) >= 1
	}, time.Second, time.Millisecond)

	cycle.TriggerWait()
	require.Equal(t, int64(2), atomic.LoadInt64(&count))

	cycle.Stop()
	require.NoError(t, <-done)
}

func TestCycle_ContextCancel(t *testing.T) {
	cycle := sync2.NewCycle(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- cycle.Run(ctx, func(ctx context.Context) error { return nil })
	}()

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
