// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package console

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Organization is the top level tenant boundary.
type Organization struct {
	ID            uuid.UUID
	Name          string
	Plan          string
	BillingStatus string
	CreatedAt     time.Time
}

// Organizations is the organization repository.
//
// architecture: Database
type Organizations interface {
	Insert(ctx context.Context, org *Organization) error
	Get(ctx context.Context, id uuid.UUID) (*Organization, error)
	List(ctx context.Context) ([]Organization, error)
	UpdateBillingStatus(ctx context.Context, id uuid.UUID, status string) error
}
