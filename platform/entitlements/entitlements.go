// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package entitlements maps roles to permitted actions and plans to quotas.
package entitlements

import (
	"github.com/zeebo/errs"

	"github.com/brightbroom/brightbroom/platform/apperrs"
)

// Error is the default entitlements errs class.
var Error = errs.Class("entitlements")

// Action names a permission checked before an operation.
type Action string

// Actions.
const (
	BookingRead   Action = "booking.read"
	BookingWrite  Action = "booking.write"
	InvoiceRead   Action = "invoice.read"
	InvoiceWrite  Action = "invoice.write"
	LeadRead      Action = "lead.read"
	LeadWrite     Action = "lead.write"
	PhotoRead     Action = "photo.read"
	PhotoWrite    Action = "photo.write"
	IAMRead       Action = "iam.read"
	IAMWrite      Action = "iam.write"
	IAMReset      Action = "iam.reset"
	OutboxRead    Action = "outbox.read"
	OutboxReplay  Action = "outbox.replay"
	ConfigRead    Action = "config.read"
	ConfigWrite   Action = "config.write"
	TeamWrite     Action = "team.write"
	ReportRead    Action = "report.read"
	BreakGlass    Action = "break-glass"
	PaymentRecord Action = "payment.record"
)

var allActions = []Action{
	BookingRead, BookingWrite, InvoiceRead, InvoiceWrite, LeadRead, LeadWrite,
	PhotoRead, PhotoWrite, IAMRead, IAMWrite, IAMReset, OutboxRead, OutboxReplay,
	ConfigRead, ConfigWrite, TeamWrite, ReportRead, BreakGlass, PaymentRecord,
}

// rolePermissions is the static role to action table, keyed by the role
// name carried on the principal. OWNER holds every action; VIEWER is read
// only.
var rolePermissions = map[string]map[Action]bool{
	"OWNER": permit(allActions...),
	"ADMIN": permit(
		BookingRead, BookingWrite, InvoiceRead, InvoiceWrite, LeadRead, LeadWrite,
		PhotoRead, PhotoWrite, IAMRead, IAMWrite, IAMReset, OutboxRead, OutboxReplay,
		ConfigRead, TeamWrite, ReportRead, BreakGlass, PaymentRecord,
	),
	"DISPATCHER": permit(
		BookingRead, BookingWrite, LeadRead, LeadWrite, PhotoRead, PhotoWrite, TeamWrite,
	),
	"FINANCE": permit(
		BookingRead, InvoiceRead, InvoiceWrite, LeadRead, ReportRead, PaymentRecord,
	),
	"VIEWER": permit(
		BookingRead, InvoiceRead, LeadRead, PhotoRead, ReportRead,
	),
}

func permit(actions ...Action) map[Action]bool {
	set := make(map[Action]bool, len(actions))
	for _, action := range actions {
		set[action] = true
	}
	return set
}

// Can reports whether the role may perform the action.
func Can(role string, action Action) bool {
	return rolePermissions[role][action]
}

// Require returns a FORBIDDEN failure unless the role may perform the
// action.
func Require(role string, action Action) error {
	if !Can(role, action) {
		return apperrs.ErrForbidden.Wrap(Error.New("role %s may not %s", role, action))
	}
	return nil
}

// Quotas are the per-plan resource ceilings.
type Quotas struct {
	MaxWorkers       int
	MaxStorageBytes  int64
	BookingsPerMonth int
}

// planQuotas maps an org plan to its quotas. Zero means unlimited.
var planQuotas = map[string]Quotas{
	"free":     {MaxWorkers: 2, MaxStorageBytes: 512 << 20, BookingsPerMonth: 50},
	"pro":      {MaxWorkers: 10, MaxStorageBytes: 10 << 30, BookingsPerMonth: 1000},
	"business": {},
}

// QuotasForPlan returns the quotas of the plan, defaulting unknown plans to
// free.
func QuotasForPlan(plan string) Quotas {
	if quotas, ok := planQuotas[plan]; ok {
		return quotas
	}
	return planQuotas["free"]
}

// CheckWorkers returns PLAN_LIMIT when adding one more worker would exceed
// the plan.
func CheckWorkers(plan string, current int) error {
	quotas := QuotasForPlan(plan)
	if quotas.MaxWorkers > 0 && current+1 > quotas.MaxWorkers {
		return apperrs.ErrPlanLimit.Wrap(Error.New("plan %s allows %d workers", plan, quotas.MaxWorkers))
	}
	return nil
}

// CheckStorage returns PLAN_LIMIT when storing size more bytes would exceed
// the plan.
func CheckStorage(plan string, usedBytes, size int64) error {
	quotas := QuotasForPlan(plan)
	if quotas.MaxStorageBytes > 0 && usedBytes+size > quotas.MaxStorageBytes {
		return apperrs.ErrPlanLimit.Wrap(Error.New("plan %s allows %d storage bytes", plan, quotas.MaxStorageBytes))
	}
	return nil
}

// CheckBookings returns PLAN_LIMIT when creating one more booking this
// month would exceed the plan.
func CheckBookings(plan string, thisMonth int) error {
	quotas := QuotasForPlan(plan)
	if quotas.BookingsPerMonth > 0 && thisMonth+1 > quotas.BookingsPerMonth {
		return apperrs.ErrPlanLimit.Wrap(Error.New("plan %s allows %d bookings per month", plan, quotas.BookingsPerMonth))
	}
	return nil
}
