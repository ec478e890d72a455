// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package lead implements lead intake, attribution and referral credits.
package lead

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
)

// Error is the default lead errs class.
var Error = errs.Class("lead")

// Status is the pipeline position of a lead.
type Status string

// Lead statuses.
const (
	StatusNew       Status = "NEW"
	StatusContacted Status = "CONTACTED"
	StatusBooked    Status = "BOOKED"
	StatusDone      Status = "DONE"
	StatusCancelled Status = "CANCELLED"
)

// Valid reports whether the status is known.
func (status Status) Valid() bool {
	switch status {
	case StatusNew, StatusContacted, StatusBooked, StatusDone, StatusCancelled:
		return true
	}
	return false
}

// Lead is a captured prospect with its immutable estimate snapshot.
type Lead struct {
	ID               uuid.UUID
	OrgID            uuid.UUID
	Name             string
	Phone            string
	Email            string
	Address          string
	Inputs           json.RawMessage
	EstimateSnapshot json.RawMessage
	ReferralCode     string
	ReferredBy       uuid.UUID
	Status           Status
	CreatedAt        time.Time
}

// Leads is the lead repository.
//
// architecture: Database
type Leads interface {
	Insert(ctx context.Context, lead *Lead) error
	Get(ctx context.Context, orgID, id uuid.UUID) (*Lead, error)
	GetByReferralCode(ctx context.Context, orgID uuid.UUID, code string) (*Lead, error)
	List(ctx context.Context, orgID uuid.UUID, status Status, limit, offset int) ([]Lead, error)
	UpdateStatus(ctx context.Context, orgID, id uuid.UUID, status Status) error
	// ListOlderThan returns leads created before the cutoff, for the
	// retention sweep.
	ListOlderThan(ctx context.Context, before time.Time, limit int) ([]Lead, error)
	Delete(ctx context.Context, orgID, id uuid.UUID) error
}

// CreditState is the resolution state of a referral credit.
type CreditState string

// Credit states.
const (
	CreditPending CreditState = "PENDING"
	CreditGranted CreditState = "GRANTED"
	CreditVoided  CreditState = "VOIDED"
)

// ReferralCredit rewards the referrer when the referred lead's booking
// confirms.
type ReferralCredit struct {
	ID            uuid.UUID
	OrgID         uuid.UUID
	BeneficiaryID uuid.UUID
	SourceLeadID  uuid.UUID
	AmountCents   int64
	State         CreditState
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

// Credits is the referral credit repository.
//
// architecture: Database
type Credits interface {
	Insert(ctx context.Context, credit *ReferralCredit) error
	ListByBeneficiary(ctx context.Context, orgID, leadID uuid.UUID) ([]ReferralCredit, error)
	// Resolve transitions the credit of the source lead with a predicated
	// update and reports whether a row changed, so each resolution
	// happens exactly once under replays. GRANTED requires the credit to
	// be PENDING; VOIDED accepts PENDING or GRANTED.
	Resolve(ctx context.Context, orgID, sourceLeadID uuid.UUID, state CreditState, at time.Time) (bool, error)
	// DeleteForLead removes every credit naming the lead on either side,
	// for retention erasure.
	DeleteForLead(ctx context.Context, orgID, leadID uuid.UUID) error
}

// referral codes avoid 0/O and 1/I so they survive being read aloud
const referralAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewReferralCode generates an 8 character case normalized referral code.
func NewReferralCode() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", Error.Wrap(err)
	}
	for i := range buf {
		buf[i] = referralAlphabet[int(buf[i])%len(referralAlphabet)]
	}
	return string(buf[:]), nil
}
