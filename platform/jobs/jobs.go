// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package jobs runs the background loops: outbox drain, booking sweeps,
// reminders, retention and the storage janitor.
package jobs

import (
	"context"
	"time"

	"github.com/zeebo/errs"
)

// Error is the default jobs errs class.
var Error = errs.Class("jobs")

// Job names. The readiness check treats all registered jobs as required.
const (
	JobOutboxDrain      = "outbox_drain"
	JobBookingSweep     = "booking_sweep"
	JobEmailReminders   = "email_reminders"
	JobRetentionCleanup = "retention_cleanup"
	JobStorageJanitor   = "storage_janitor"
)

// Heartbeat is the persisted liveness record of one job. LastSuccessAt is
// nil until the job succeeds once.
type Heartbeat struct {
	Job                 string
	LastBeatAt          time.Time
	LastSuccessAt       *time.Time
	ConsecutiveFailures int
	LastError           string
}

// Heartbeats is the heartbeat repository.
//
// architecture: Database
type Heartbeats interface {
	// Upsert records the latest iteration outcome for the job.
	Upsert(ctx context.Context, beat *Heartbeat) error
	Get(ctx context.Context, job string) (*Heartbeat, error)
	List(ctx context.Context) ([]Heartbeat, error)
}
