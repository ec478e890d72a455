// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package lead_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/brightbroom/brightbroom/platform/apperrs"
	"github.com/brightbroom/brightbroom/platform/audit"
	"github.com/brightbroom/brightbroom/platform/lead"
	"github.com/brightbroom/brightbroom/platform/outbox"
)

type fakeDB struct {
	leads   map[uuid.UUID]*lead.Lead
	credits map[uuid.UUID]*lead.ReferralCredit
	outbox  []*outbox.Event

	// pending forced referral-code conflicts for Insert
	insertConflicts int
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		leads:   map[uuid.UUID]*lead.Lead{},
		credits: map[uuid.UUID]*lead.ReferralCredit{},
	}
}

func (db *fakeDB) Leads() lead.Leads     { return &fakeLeads{db} }
func (db *fakeDB) Credits() lead.Credits { return &fakeCredits{db} }

func (db *fakeDB) WithTx(ctx context.Context, orgID uuid.UUID, fn func(ctx context.Context, tx lead.Tx) error) error {
	return fn(ctx, &fakeTx{db})
}

type fakeTx struct{ db *fakeDB }

func (tx *fakeTx) Leads() lead.Leads     { return &fakeLeads{tx.db} }
func (tx *fakeTx) Credits() lead.Credits { return &fakeCredits{tx.db} }
func (tx *fakeTx) Outbox() outbox.Queue  { return &fakeQueue{tx.db} }

type fakeLeads struct{ db *fakeDB }

func (f *fakeLeads) Insert(ctx context.Context, row *lead.Lead) error {
	if f.db.insertConflicts > 0 {
		f.db.insertConflicts--
		return apperrs.ErrConflict.Wrap(lead.Error.New("referral code already issued"))
	}
	for _, existing := range f.db.leads {
		if existing.OrgID == row.OrgID && existing.ReferralCode == row.ReferralCode {
			return apperrs.ErrConflict.Wrap(lead.Error.New("referral code already issued"))
		}
	}
	clone := *row
	f.db.leads[row.ID] = &clone
	return nil
}

func (f *fakeLeads) Get(ctx context.Context, orgID, id uuid.UUID) (*lead.Lead, error) {
	if row, ok := f.db.leads[id]; ok && row.OrgID == orgID {
		clone := *row
		return &clone, nil
	}
	return nil, nil
}

func (f *fakeLeads) GetByReferralCode(ctx context.Context, orgID uuid.UUID, code string) (*lead.Lead, error) {
	for _, row := range f.db.leads {
		if row.OrgID == orgID && row.ReferralCode == code {
			clone := *row
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeLeads) List(ctx context.Context, orgID uuid.UUID, status lead.Status, limit, offset int) ([]lead.Lead, error) {
	var out []lead.Lead
	for _, row := range f.db.leads {
		if row.OrgID == orgID && (status == "" || row.Status == status) {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (f *fakeLeads) UpdateStatus(ctx context.Context, orgID, id uuid.UUID, status lead.Status) error {
	if row, ok := f.db.leads[id]; ok && row.OrgID == orgID {
		row.Status = status
	}
	return nil
}

func (f *fakeLeads) ListOlderThan(ctx context.Context, before time.Time, limit int) ([]lead.Lead, error) {
	var out []lead.Lead
	for _, row := range f.db.leads {
		if row.CreatedAt.Before(before) {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (f *fakeLeads) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	if row, ok := f.db.leads[id]; ok && row.OrgID == orgID {
		delete(f.db.leads, id)
	}
	return nil
}

type fakeCredits struct{ db *fakeDB }

func (f *fakeCredits) Insert(ctx context.Context, credit *lead.ReferralCredit) error {
	clone := *credit
	f.db.credits[credit.ID] = &clone
	return nil
}

func (f *fakeCredits) ListByBeneficiary(ctx context.Context, orgID, leadID uuid.UUID) ([]lead.ReferralCredit, error) {
	var out []lead.ReferralCredit
	for _, credit := range f.db.credits {
		if credit.OrgID == orgID && credit.BeneficiaryID == leadID {
			out = append(out, *credit)
		}
	}
	return out, nil
}

func (f *fakeCredits) Resolve(ctx context.Context, orgID, sourceLeadID uuid.UUID, state lead.CreditState, at time.Time) (bool, error) {
	for _, credit := range f.db.credits {
		if credit.OrgID == orgID && credit.SourceLeadID == sourceLeadID && credit.State == lead.CreditPending {
			credit.State = state
			resolved := at
			credit.ResolvedAt = &resolved
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCredits) DeleteForLead(ctx context.Context, orgID, leadID uuid.UUID) error {
	for id, credit := range f.db.credits {
		if credit.OrgID == orgID && (credit.BeneficiaryID == leadID || credit.SourceLeadID == leadID) {
			delete(f.db.credits, id)
		}
	}
	return nil
}

type fakeQueue struct{ db *fakeDB }

func (f *fakeQueue) Enqueue(ctx context.Context, event *outbox.Event) (bool, error) {
	for _, existing := range f.db.outbox {
		if existing.OrgID == event.OrgID && existing.DedupeKey == event.DedupeKey {
			return false, nil
		}
	}
	f.db.outbox = append(f.db.outbox, event)
	return true, nil
}

func newService(t *testing.T, db *fakeDB, config lead.Config) *lead.Service {
	log := zaptest.NewLogger(t)
	return lead.NewService(log, audit.NewLog(log), db, config)
}

func snapshot(t *testing.T, total float64) json.RawMessage {
	raw, err := json.Marshal(map[string]interface{}{"total_before_tax": total})
	require.NoError(t, err)
	return raw
}

func TestIntakeIssuesReferralCode(t *testing.T) {
	db := newFakeDB()
	service := newService(t, db, lead.Config{})
	orgID := uuid.New()

	created, err := service.Intake(context.Background(), orgID, lead.CreateLead{
		Name:             "Dana",
		Phone:            "555-0101",
		Email:            "Dana@Example.com",
		EstimateSnapshot: snapshot(t, 180),
	})
	require.NoError(t, err)
	require.Len(t, created.ReferralCode, 8)
	require.Equal(t, "dana@example.com", created.Email)
	require.Equal(t, lead.StatusNew, created.Status)
}

func TestIntakeReissuesReferralCodeOnCollision(t *testing.T) {
	db := newFakeDB()
	service := newService(t, db, lead.Config{})
	orgID := uuid.New()

	// the first two codes collide; intake reissues and succeeds
	db.insertConflicts = 2
	created, err := service.Intake(context.Background(), orgID, lead.CreateLead{
		Name:             "Dana",
		Phone:            "555-0101",
		EstimateSnapshot: snapshot(t, 180),
	})
	require.NoError(t, err)
	require.Len(t, created.ReferralCode, 8)
	require.Len(t, db.leads, 1)

	// a persistent conflict gives up after a bounded number of attempts
	db.insertConflicts = 100
	_, err = service.Intake(context.Background(), orgID, lead.CreateLead{
		Name:             "Eli",
		Phone:            "555-0102",
		EstimateSnapshot: snapshot(t, 180),
	})
	require.Error(t, err)
	require.True(t, apperrs.ErrConflict.Has(err))
	require.Equal(t, 95, db.insertConflicts)
}

func TestIntakeValidation(t *testing.T) {
	db := newFakeDB()
	service := newService(t, db, lead.Config{})
	orgID := uuid.New()

	_, err := service.Intake(context.Background(), orgID, lead.CreateLead{
		Phone:            "555-0101",
		EstimateSnapshot: snapshot(t, 180),
	})
	require.True(t, apperrs.ErrValidation.Has(err))

	_, err = service.Intake(context.Background(), orgID, lead.CreateLead{
		Name:             "Dana",
		Phone:            "555-0101",
		EstimateSnapshot: json.RawMessage(`{"note":"no total"}`),
	})
	require.True(t, apperrs.ErrValidation.Has(err))

	_, err = service.Intake(context.Background(), orgID, lead.CreateLead{
		Name:             "Dana",
		Phone:            "555-0101",
		EstimateSnapshot: snapshot(t, 180),
		ReferredByCode:   "NOSUCHCO",
	})
	require.True(t, apperrs.ErrValidation.Has(err))
}

func TestIntakeRecordsPendingReferralCredit(t *testing.T) {
	db := newFakeDB()
	service := newService(t, db, lead.Config{ReferralCreditCents: 2500})
	orgID := uuid.New()

	referrer, err := service.Intake(context.Background(), orgID, lead.CreateLead{
		Name:             "Referrer",
		Phone:            "555-0100",
		EstimateSnapshot: snapshot(t, 120),
	})
	require.NoError(t, err)

	referred, err := service.Intake(context.Background(), orgID, lead.CreateLead{
		Name:             "Referred",
		Phone:            "555-0102",
		EstimateSnapshot: snapshot(t, 200),
		ReferredByCode:   "  " + referrer.ReferralCode + " ",
	})
	require.NoError(t, err)
	require.Equal(t, referrer.ID, referred.ReferredBy)

	credits, err := service.CreditsFor(context.Background(), orgID, referrer.ID)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	require.Equal(t, lead.CreditPending, credits[0].State)
	require.Equal(t, int64(2500), credits[0].AmountCents)
	require.Equal(t, referred.ID, credits[0].SourceLeadID)
}

func TestIntakeExportWebhook(t *testing.T) {
	db := newFakeDB()
	service := newService(t, db, lead.Config{
		ExportMode: "webhook",
		ExportURL:  "https://crm.example.com/hooks/leads",
	})

	created, err := service.Intake(context.Background(), uuid.New(), lead.CreateLead{
		Name:             "Dana",
		Phone:            "555-0101",
		EstimateSnapshot: snapshot(t, 180),
	})
	require.NoError(t, err)
	require.Len(t, db.outbox, 1)
	require.Equal(t, outbox.KindExportWebhook, db.outbox[0].Kind)
	require.Equal(t, "lead_export:"+created.ID.String(), db.outbox[0].DedupeKey)
}

func TestUpdateStatusUnknownLead(t *testing.T) {
	db := newFakeDB()
	service := newService(t, db, lead.Config{})

	err := service.UpdateStatus(context.Background(), uuid.New(), uuid.New(), lead.StatusContacted)
	require.True(t, apperrs.ErrNotFound.Has(err))

	err = service.UpdateStatus(context.Background(), uuid.New(), uuid.New(), lead.Status("BOGUS"))
	require.True(t, apperrs.ErrValidation.Has(err))
}

func TestSweepRetention(t *testing.T) {
	db := newFakeDB()
	service := newService(t, db, lead.Config{Retention: 30 * 24 * time.Hour})
	orgID := uuid.New()
	now := time.Now()

	referrer, err := service.Intake(context.Background(), orgID, lead.CreateLead{
		Name:             "Old",
		Phone:            "555-0100",
		EstimateSnapshot: snapshot(t, 100),
	})
	require.NoError(t, err)
	_, err = service.Intake(context.Background(), orgID, lead.CreateLead{
		Name:             "Fresh",
		Phone:            "555-0101",
		EstimateSnapshot: snapshot(t, 100),
		ReferredByCode:   referrer.ReferralCode,
	})
	require.NoError(t, err)
	// age the referrer past the window
	db.leads[referrer.ID].CreatedAt = now.Add(-31 * 24 * time.Hour)

	var cascaded []uuid.UUID
	erased, err := service.SweepRetention(context.Background(), now,
		func(ctx context.Context, cascadeOrg, leadID uuid.UUID) error {
			require.Equal(t, orgID, cascadeOrg)
			cascaded = append(cascaded, leadID)
			return nil
		})
	require.NoError(t, err)
	require.Equal(t, 1, erased)
	require.Equal(t, []uuid.UUID{referrer.ID}, cascaded)
	require.NotContains(t, db.leads, referrer.ID)
	require.Empty(t, db.credits)
}

func TestSweepRetentionDisabled(t *testing.T) {
	db := newFakeDB()
	service := newService(t, db, lead.Config{})

	erased, err := service.SweepRetention(context.Background(), time.Now(), nil)
	require.NoError(t, err)
	require.Zero(t, erased)
}
