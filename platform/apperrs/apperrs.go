// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package apperrs defines the closed set of failure kinds shared by all
// domain services. The HTTP layer is the only place that translates these
// into response statuses.
package apperrs

import "github.com/zeebo/errs"

var (
	// ErrValidation is returned for malformed or failing input.
	ErrValidation = errs.Class("validation")
	// ErrUnauthenticated is returned when no valid credentials are present.
	ErrUnauthenticated = errs.Class("unauthenticated")
	// ErrForbidden is returned when credentials are valid but not permitted.
	ErrForbidden = errs.Class("forbidden")
	// ErrNotFound is returned when a resource does not exist in this org.
	ErrNotFound = errs.Class("not found")
	// ErrConflict is returned for business conflicts.
	ErrConflict = errs.Class("conflict")
	// ErrSlotTaken is the slot reservation conflict.
	ErrSlotTaken = errs.Class("slot taken")
	// ErrStatusTransition is an invalid state machine transition.
	ErrStatusTransition = errs.Class("status transition")
	// ErrIdempotencyMismatch is a retried idempotency key with a different body.
	ErrIdempotencyMismatch = errs.Class("idempotency mismatch")
	// ErrPlanLimit is returned when a plan quota is exceeded.
	ErrPlanLimit = errs.Class("plan limit")
	// ErrRateLimited is returned when a request exceeds the rate limit.
	ErrRateLimited = errs.Class("rate limited")
	// ErrDependency is returned when a backing dependency is unavailable.
	ErrDependency = errs.Class("dependency unavailable")
	// ErrIntegration is returned for rejected integrations: bad webhook
	// signatures and blocked export destinations.
	ErrIntegration = errs.Class("integration rejected")
)
