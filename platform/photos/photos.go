// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package photos implements before/after evidence photos: validated
// uploads, short-lived download tokens and janitored deletes.
package photos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"github.com/brightbroom/brightbroom/platform/outbox"
)

// Error is the default photos errs class.
var Error = errs.Class("photos")

// Photo is one stored evidence image. The bytes live behind the storage
// gateway under Key; the row is the source of truth for existence.
type Photo struct {
	ID        uuid.UUID
	OrgID     uuid.UUID
	BookingID uuid.UUID
	Key       string
	MIME      string
	SizeBytes int64
	Caption   string
	// UploadedBy is the console user or worker subject that uploaded it.
	UploadedBy uuid.UUID
	CreatedAt  time.Time
}

// Photos is the photo repository.
//
// architecture: Database
type Photos interface {
	Insert(ctx context.Context, photo *Photo) error
	Get(ctx context.Context, orgID, id uuid.UUID) (*Photo, error)
	ListForBooking(ctx context.Context, orgID, bookingID uuid.UUID) ([]Photo, error)
	Delete(ctx context.Context, orgID, id uuid.UUID) error
	// SumSizeForOrg returns the stored bytes of the org, for plan quota
	// checks.
	SumSizeForOrg(ctx context.Context, orgID uuid.UUID) (int64, error)
}

// DB is the transactional surface the photo service needs.
//
// architecture: Database
type DB interface {
	Photos() Photos
	WithTx(ctx context.Context, orgID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the per-transaction repository set: the row delete and the
// storage janitor event commit together.
type Tx interface {
	Photos() Photos
	Outbox() outbox.Queue
}
