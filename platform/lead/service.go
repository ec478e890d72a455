// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package lead

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	monkit "github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"github.com/brightbroom/brightbroom/platform/apperrs"
	"github.com/brightbroom/brightbroom/platform/audit"
	"github.com/brightbroom/brightbroom/platform/outbox"
)

var mon = monkit.Package()

// Config configures intake and referral behavior.
type Config struct {
	ReferralCreditCents int64         `help:"credit granted per confirmed referral" default:"2000"`
	ExportMode          string        `help:"lead export mode: off or webhook" default:"off"`
	ExportURL           string        `help:"destination for lead export webhooks" default:""`
	Retention           time.Duration `help:"leads older than this are erased, zero disables the sweep" default:"0"`
}

// DB is the transactional surface the lead service needs.
//
// architecture: Database
type DB interface {
	Leads() Leads
	Credits() Credits
	// WithTx runs fn in one transaction pinned to the org; the Tx repos
	// all operate inside it.
	WithTx(ctx context.Context, orgID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the per-transaction repository set.
type Tx interface {
	Leads() Leads
	Credits() Credits
	Outbox() outbox.Queue
}

// Service implements lead intake and referral resolution.
//
// architecture: Service
type Service struct {
	log    *zap.Logger
	audit  *audit.Log
	db     DB
	config Config

	nowFn func() time.Time
}

// NewService creates a lead service.
func NewService(log *zap.Logger, auditLog *audit.Log, db DB, config Config) *Service {
	return &Service{log: log, audit: auditLog, db: db, config: config, nowFn: time.Now}
}

// CreateLead is the public intake input.
type CreateLead struct {
	Name             string
	Phone            string
	Email            string
	Address          string
	Inputs           json.RawMessage
	EstimateSnapshot json.RawMessage
	ReferredByCode   string
}

// Intake captures a lead, issues its referral code and records a pending
// credit for the referrer. The export webhook event commits with the lead.
func (service *Service) Intake(ctx context.Context, orgID uuid.UUID, create CreateLead) (_ *Lead, err error) {
	defer mon.Task()(&ctx)(&err)

	create.Name = strings.TrimSpace(create.Name)
	create.Phone = strings.TrimSpace(create.Phone)
	if create.Name == "" || create.Phone == "" {
		return nil, apperrs.ErrValidation.Wrap(Error.New("name and phone are required"))
	}
	if err := validateSnapshot(create.EstimateSnapshot); err != nil {
		return nil, err
	}

	var referrer *Lead
	if code := normalizeCode(create.ReferredByCode); code != "" {
		referrer, err = service.db.Leads().GetByReferralCode(ctx, orgID, code)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		if referrer == nil {
			return nil, apperrs.ErrValidation.Wrap(Error.New("unknown referral code"))
		}
	}

	created := &Lead{
		ID:               uuid.New(),
		OrgID:            orgID,
		Name:             create.Name,
		Phone:            create.Phone,
		Email:            strings.ToLower(strings.TrimSpace(create.Email)),
		Address:          strings.TrimSpace(create.Address),
		Inputs:           create.Inputs,
		EstimateSnapshot: create.EstimateSnapshot,
		Status:           StatusNew,
		CreatedAt:        service.nowFn(),
	}
	if referrer != nil {
		created.ReferredBy = referrer.ID
	}

	// referral codes are random; a collision within the org reissues the
	// code and retries the whole transaction
	const codeAttempts = 5
	for attempt := 0; ; attempt++ {
		code, err := NewReferralCode()
		if err != nil {
			return nil, err
		}
		created.ReferralCode = code

		err = service.db.WithTx(ctx, orgID, func(ctx context.Context, tx Tx) error {
			if err := tx.Leads().Insert(ctx, created); err != nil {
				if apperrs.ErrConflict.Has(err) {
					return err
				}
				return Error.Wrap(err)
			}
			if referrer != nil {
				if err := tx.Credits().Insert(ctx, &ReferralCredit{
					ID:            uuid.New(),
					OrgID:         orgID,
					BeneficiaryID: referrer.ID,
					SourceLeadID:  created.ID,
					AmountCents:   service.config.ReferralCreditCents,
					State:         CreditPending,
					CreatedAt:     created.CreatedAt,
				}); err != nil {
					return Error.Wrap(err)
				}
			}
			return service.enqueueExport(ctx, tx, created)
		})
		if err == nil {
			break
		}
		if apperrs.ErrConflict.Has(err) && attempt+1 < codeAttempts {
			continue
		}
		return nil, err
	}

	service.audit.Event(ctx, "lead.created",
		zap.String("org_id", orgID.String()),
		zap.String("lead_id", created.ID.String()),
		zap.Bool("referred", referrer != nil))
	return created, nil
}

// Get returns a lead of the org.
func (service *Service) Get(ctx context.Context, orgID, id uuid.UUID) (_ *Lead, err error) {
	defer mon.Task()(&ctx)(&err)

	found, err := service.db.Leads().Get(ctx, orgID, id)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if found == nil {
		return nil, apperrs.ErrNotFound.Wrap(Error.New("lead not found"))
	}
	return found, nil
}

// List returns the org's leads, optionally filtered by status.
func (service *Service) List(ctx context.Context, orgID uuid.UUID, status Status, limit, offset int) (_ []Lead, err error) {
	defer mon.Task()(&ctx)(&err)

	if status != "" && !status.Valid() {
		return nil, apperrs.ErrValidation.Wrap(Error.New("unknown status %q", status))
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	leads, err := service.db.Leads().List(ctx, orgID, status, limit, offset)
	return leads, Error.Wrap(err)
}

// UpdateStatus moves a lead along the pipeline.
func (service *Service) UpdateStatus(ctx context.Context, orgID, id uuid.UUID, status Status) (err error) {
	defer mon.Task()(&ctx)(&err)

	if !status.Valid() {
		return apperrs.ErrValidation.Wrap(Error.New("unknown status %q", status))
	}
	if _, err := service.Get(ctx, orgID, id); err != nil {
		return err
	}
	if err := service.db.Leads().UpdateStatus(ctx, orgID, id, status); err != nil {
		return Error.Wrap(err)
	}
	service.audit.Event(ctx, "lead.status_changed",
		zap.String("org_id", orgID.String()),
		zap.String("lead_id", id.String()),
		zap.String("status", string(status)))
	return nil
}

// CreditsFor lists the referral credits a lead has earned.
func (service *Service) CreditsFor(ctx context.Context, orgID, leadID uuid.UUID) (_ []ReferralCredit, err error) {
	defer mon.Task()(&ctx)(&err)

	credits, err := service.db.Credits().ListByBeneficiary(ctx, orgID, leadID)
	return credits, Error.Wrap(err)
}

// SweepRetention erases leads older than the retention window together
// with their referral credits. The cascade callback runs before each
// erase so the caller can remove dependent data (photo objects, stored
// exports); when it fails the lead is skipped and the sweep moves on.
func (service *Service) SweepRetention(ctx context.Context, now time.Time, cascade func(ctx context.Context, orgID, leadID uuid.UUID) error) (erased int, err error) {
	defer mon.Task()(&ctx)(&err)

	if service.config.Retention <= 0 {
		return 0, nil
	}
	stale, err := service.db.Leads().ListOlderThan(ctx, now.Add(-service.config.Retention), 100)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	for i := range stale {
		current := &stale[i]
		if cascade != nil {
			if err := cascade(ctx, current.OrgID, current.ID); err != nil {
				service.log.Warn("retention cascade failed",
					zap.String("lead_id", current.ID.String()), zap.Error(err))
				continue
			}
		}
		err := service.db.WithTx(ctx, current.OrgID, func(ctx context.Context, tx Tx) error {
			if err := tx.Credits().DeleteForLead(ctx, current.OrgID, current.ID); err != nil {
				return Error.Wrap(err)
			}
			return Error.Wrap(tx.Leads().Delete(ctx, current.OrgID, current.ID))
		})
		if err != nil {
			return erased, err
		}
		service.audit.Event(ctx, "lead.erased",
			zap.String("org_id", current.OrgID.String()),
			zap.String("lead_id", current.ID.String()))
		erased++
	}
	return erased, nil
}

func (service *Service) enqueueExport(ctx context.Context, tx Tx, created *Lead) error {
	if service.config.ExportMode != "webhook" || service.config.ExportURL == "" {
		return nil
	}
	body, err := json.Marshal(map[string]interface{}{
		"lead_id":           created.ID,
		"name":              created.Name,
		"phone":             created.Phone,
		"email":             created.Email,
		"referral_code":     created.ReferralCode,
		"estimate_snapshot": created.EstimateSnapshot,
		"created_at":        created.CreatedAt,
	})
	if err != nil {
		return Error.Wrap(err)
	}
	payload, err := json.Marshal(outbox.WebhookPayload{URL: service.config.ExportURL, Body: body})
	if err != nil {
		return Error.Wrap(err)
	}
	_, err = tx.Outbox().Enqueue(ctx, outbox.New(
		created.OrgID, outbox.KindExportWebhook, "lead_export:"+created.ID.String(), payload))
	return Error.Wrap(err)
}

func validateSnapshot(snapshot json.RawMessage) error {
	if len(snapshot) == 0 {
		return apperrs.ErrValidation.Wrap(Error.New("estimate snapshot is required"))
	}
	var decoded struct {
		TotalBeforeTax *float64 `json:"total_before_tax"`
	}
	if err := json.Unmarshal(snapshot, &decoded); err != nil {
		return apperrs.ErrValidation.Wrap(Error.New("estimate snapshot is not an object"))
	}
	if decoded.TotalBeforeTax == nil || *decoded.TotalBeforeTax < 0 {
		return apperrs.ErrValidation.Wrap(Error.New("estimate snapshot missing total_before_tax"))
	}
	return nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizeCode exposes referral code normalization to the HTTP layer.
func NormalizeCode(code string) string { return normalizeCode(code) }
