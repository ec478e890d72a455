// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package platformdb

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/brightbroom/brightbroom/platform/apperrs"
	"github.com/brightbroom/brightbroom/platform/lead"
)

type leads struct{ src driver }

const leadColumns = `id, org_id, name, phone, email, address,
	inputs, estimate_snapshot, referral_code, referred_by, status, created_at`

func (repo *leads) Insert(ctx context.Context, row *lead.Lead) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		INSERT INTO leads (`+leadColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		row.ID, row.OrgID, row.Name, row.Phone, row.Email, row.Address,
		[]byte(row.Inputs), []byte(row.EstimateSnapshot), row.ReferralCode,
		uuidNullable(row.ReferredBy), row.Status, row.CreatedAt)
	if isUniqueViolation(err) {
		return apperrs.ErrConflict.Wrap(Error.New("referral code already issued"))
	}
	return Error.Wrap(err)
}

func scanLead(scan func(...interface{}) error) (*lead.Lead, error) {
	row := &lead.Lead{}
	var inputs, snapshot []byte
	var referredBy sql.NullString
	err := scan(&row.ID, &row.OrgID, &row.Name, &row.Phone, &row.Email, &row.Address,
		&inputs, &snapshot, &row.ReferralCode, &referredBy, &row.Status, &row.CreatedAt)
	if err != nil {
		return nil, err
	}
	row.Inputs = inputs
	row.EstimateSnapshot = snapshot
	row.ReferredBy, err = nullUUID(referredBy)
	return row, err
}

func (repo *leads) Get(ctx context.Context, orgID, id uuid.UUID) (_ *lead.Lead, err error) {
	defer mon.Task()(&ctx)(&err)

	row, err := scanLead(repo.src.QueryRowContext(ctx, `
		SELECT `+leadColumns+` FROM leads WHERE org_id = $1 AND id = $2`, orgID, id).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return row, Error.Wrap(err)
}

func (repo *leads) GetByReferralCode(ctx context.Context, orgID uuid.UUID, code string) (_ *lead.Lead, err error) {
	defer mon.Task()(&ctx)(&err)

	row, err := scanLead(repo.src.QueryRowContext(ctx, `
		SELECT `+leadColumns+` FROM leads WHERE org_id = $1 AND referral_code = $2`, orgID, code).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return row, Error.Wrap(err)
}

func (repo *leads) List(ctx context.Context, orgID uuid.UUID, status lead.Status, limit, offset int) (_ []lead.Lead, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := repo.src.QueryContext(ctx, `
		SELECT `+leadColumns+` FROM leads
		WHERE org_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`, orgID, string(status), limit, offset)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errsCombine(err, rows.Close(), rows.Err())) }()

	var out []lead.Lead
	for rows.Next() {
		row, err := scanLead(rows.Scan)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		out = append(out, *row)
	}
	return out, nil
}

func (repo *leads) UpdateStatus(ctx context.Context, orgID, id uuid.UUID, status lead.Status) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		UPDATE leads SET status = $3 WHERE org_id = $1 AND id = $2`, orgID, id, status)
	return Error.Wrap(err)
}

func (repo *leads) ListOlderThan(ctx context.Context, before time.Time, limit int) (_ []lead.Lead, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := repo.src.QueryContext(ctx, `
		SELECT `+leadColumns+` FROM leads
		WHERE created_at < $1
		ORDER BY created_at
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errsCombine(err, rows.Close(), rows.Err())) }()

	var out []lead.Lead
	for rows.Next() {
		row, err := scanLead(rows.Scan)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		out = append(out, *row)
	}
	return out, nil
}

func (repo *leads) Delete(ctx context.Context, orgID, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		DELETE FROM leads WHERE org_id = $1 AND id = $2`, orgID, id)
	return Error.Wrap(err)
}

type credits struct{ src driver }

func (repo *credits) Insert(ctx context.Context, credit *lead.ReferralCredit) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		INSERT INTO referral_credits (id, org_id, beneficiary_id, source_lead_id,
			amount_cents, state, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		credit.ID, credit.OrgID, credit.BeneficiaryID, credit.SourceLeadID,
		credit.AmountCents, credit.State, credit.CreatedAt, timeNullable(credit.ResolvedAt))
	return Error.Wrap(err)
}

func (repo *credits) ListByBeneficiary(ctx context.Context, orgID, leadID uuid.UUID) (_ []lead.ReferralCredit, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := repo.src.QueryContext(ctx, `
		SELECT id, org_id, beneficiary_id, source_lead_id, amount_cents, state, created_at, resolved_at
		FROM referral_credits
		WHERE org_id = $1 AND beneficiary_id = $2
		ORDER BY created_at`, orgID, leadID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errsCombine(err, rows.Close(), rows.Err())) }()

	var out []lead.ReferralCredit
	for rows.Next() {
		var credit lead.ReferralCredit
		var resolvedAt sql.NullTime
		if err := rows.Scan(&credit.ID, &credit.OrgID, &credit.BeneficiaryID, &credit.SourceLeadID,
			&credit.AmountCents, &credit.State, &credit.CreatedAt, &resolvedAt); err != nil {
			return nil, Error.Wrap(err)
		}
		credit.ResolvedAt = nullTimePtr(resolvedAt)
		out = append(out, credit)
	}
	return out, nil
}

func (repo *credits) Resolve(ctx context.Context, orgID, sourceLeadID uuid.UUID, state lead.CreditState, at time.Time) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	// GRANTED only resolves a pending credit; VOIDED also claws back a
	// granted one.
	from := `('PENDING')`
	if state == lead.CreditVoided {
		from = `('PENDING', 'GRANTED')`
	}
	result, err := repo.src.ExecContext(ctx, `
		UPDATE referral_credits SET state = $3, resolved_at = $4
		WHERE org_id = $1 AND source_lead_id = $2 AND state IN `+from,
		orgID, sourceLeadID, state, at)
	if err != nil {
		return false, Error.Wrap(err)
	}
	return rowsChanged(result)
}

func (repo *credits) DeleteForLead(ctx context.Context, orgID, leadID uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		DELETE FROM referral_credits
		WHERE org_id = $1 AND (beneficiary_id = $2 OR source_lead_id = $2)`, orgID, leadID)
	return Error.Wrap(err)
}
