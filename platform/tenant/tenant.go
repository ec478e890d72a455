// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package tenant resolves the organization and principal for a request.
package tenant

import (
	"context"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"github.com/brightbroom/brightbroom/platform/apperrs"
)

// Error is the default tenant errs class.
var Error = errs.Class("tenant")

// DefaultOrgID is the fixed organization used by single-tenant deployments.
var DefaultOrgID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// Kind identifies how a principal authenticated.
type Kind int

// Principal kinds, ordered by privilege: when multiple credentials are
// presented the highest wins deterministically.
const (
	KindNone Kind = iota
	KindClient
	KindWorker
	KindOrgUser
	KindAdminOperator
)

// String returns the audit name of the kind.
func (kind Kind) String() string {
	switch kind {
	case KindClient:
		return "client"
	case KindWorker:
		return "worker"
	case KindOrgUser:
		return "org-user"
	case KindAdminOperator:
		return "admin-operator"
	default:
		return "none"
	}
}

// Principal is the authenticated identity attached to a request context.
type Principal struct {
	Kind      Kind
	OrgID     uuid.UUID
	UserID    uuid.UUID
	SessionID uuid.UUID
	Role      string
	// LeadID is set for magic-link clients.
	LeadID uuid.UUID
	// TeamID is set for workers.
	TeamID uuid.UUID
}

type contextKey struct{}

// WithPrincipal attaches the principal to the context.
func WithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, principal)
}

// FromContext returns the request principal, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(contextKey{}).(Principal)
	return principal, ok
}

// OrgID returns the org of the request principal or ORG_REQUIRED failure.
func OrgID(ctx context.Context) (uuid.UUID, error) {
	principal, ok := FromContext(ctx)
	if !ok || principal.OrgID == uuid.Nil {
		return uuid.Nil, apperrs.ErrUnauthenticated.Wrap(Error.New("ORG_REQUIRED"))
	}
	return principal.OrgID, nil
}
