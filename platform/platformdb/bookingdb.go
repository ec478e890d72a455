// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package platformdb

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/brightbroom/brightbroom/platform/booking"
)

type teams struct{ src driver }

func (repo *teams) Insert(ctx context.Context, team *booking.Team) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		INSERT INTO teams (id, org_id, name, work_start_hour, work_end_hour, blackouts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		team.ID, team.OrgID, team.Name, team.WorkStartHour, team.WorkEndHour,
		pq.Array(team.Blackouts), team.CreatedAt)
	return Error.Wrap(err)
}

func (repo *teams) Get(ctx context.Context, orgID, id uuid.UUID) (_ *booking.Team, err error) {
	defer mon.Task()(&ctx)(&err)

	team := &booking.Team{}
	err = repo.src.QueryRowContext(ctx, `
		SELECT id, org_id, name, work_start_hour, work_end_hour, blackouts, created_at
		FROM teams WHERE org_id = $1 AND id = $2`, orgID, id).
		Scan(&team.ID, &team.OrgID, &team.Name, &team.WorkStartHour, &team.WorkEndHour,
			pq.Array(&team.Blackouts), &team.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return team, Error.Wrap(err)
}

func (repo *teams) List(ctx context.Context, orgID uuid.UUID) (_ []booking.Team, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := repo.src.QueryContext(ctx, `
		SELECT id, org_id, name, work_start_hour, work_end_hour, blackouts, created_at
		FROM teams WHERE org_id = $1 ORDER BY name`, orgID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errsCombine(err, rows.Close(), rows.Err())) }()

	var out []booking.Team
	for rows.Next() {
		var team booking.Team
		if err := rows.Scan(&team.ID, &team.OrgID, &team.Name, &team.WorkStartHour, &team.WorkEndHour,
			pq.Array(&team.Blackouts), &team.CreatedAt); err != nil {
			return nil, Error.Wrap(err)
		}
		out = append(out, team)
	}
	return out, nil
}

func (repo *teams) Update(ctx context.Context, team *booking.Team) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		UPDATE teams SET name = $3, work_start_hour = $4, work_end_hour = $5, blackouts = $6
		WHERE org_id = $1 AND id = $2`,
		team.OrgID, team.ID, team.Name, team.WorkStartHour, team.WorkEndHour, pq.Array(team.Blackouts))
	return Error.Wrap(err)
}

// Lock takes the team row lock for the rest of the transaction. Outside a
// transaction the lock releases immediately, which is useless, so this is
// only ever called on the Tx surface.
func (repo *teams) Lock(ctx context.Context, orgID, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	var locked uuid.UUID
	err = repo.src.QueryRowContext(ctx, `
		SELECT id FROM teams WHERE org_id = $1 AND id = $2 FOR UPDATE`, orgID, id).Scan(&locked)
	if err == sql.ErrNoRows {
		return nil
	}
	return Error.Wrap(err)
}

type bookings struct{ src driver }

const bookingColumns = `id, org_id, lead_id, team_id, starts_at, duration_min, status,
	deposit_required, deposit_reasons, deposit_cents, deposit_session_id, deposit_paid_at,
	created_at, updated_at`

func (repo *bookings) Insert(ctx context.Context, row *booking.Booking) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		row.ID, row.OrgID, uuidNullable(row.LeadID), row.TeamID, row.StartsAt, row.DurationMin, row.Status,
		row.DepositRequired, pq.Array(row.DepositReasons), row.DepositCents, row.DepositSessionID,
		timeNullable(row.DepositPaidAt), row.CreatedAt, row.UpdatedAt)
	return Error.Wrap(err)
}

func scanBooking(scan func(...interface{}) error) (*booking.Booking, error) {
	row := &booking.Booking{}
	var leadID sql.NullString
	var paidAt sql.NullTime
	err := scan(&row.ID, &row.OrgID, &leadID, &row.TeamID, &row.StartsAt, &row.DurationMin, &row.Status,
		&row.DepositRequired, pq.Array(&row.DepositReasons), &row.DepositCents, &row.DepositSessionID,
		&paidAt, &row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		return nil, err
	}
	row.DepositPaidAt = nullTimePtr(paidAt)
	row.LeadID, err = nullUUID(leadID)
	return row, err
}

func (repo *bookings) queryMany(ctx context.Context, query string, args ...interface{}) (_ []booking.Booking, err error) {
	rows, err := repo.src.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errsCombine(err, rows.Close(), rows.Err())) }()

	var out []booking.Booking
	for rows.Next() {
		row, err := scanBooking(rows.Scan)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		out = append(out, *row)
	}
	return out, nil
}

func (repo *bookings) Get(ctx context.Context, orgID, id uuid.UUID) (_ *booking.Booking, err error) {
	defer mon.Task()(&ctx)(&err)

	row, err := scanBooking(repo.src.QueryRowContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE org_id = $1 AND id = $2`, orgID, id).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return row, Error.Wrap(err)
}

func (repo *bookings) GetByDepositSession(ctx context.Context, sessionID string) (_ *booking.Booking, err error) {
	defer mon.Task()(&ctx)(&err)

	row, err := scanBooking(repo.src.QueryRowContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE deposit_session_id = $1`, sessionID).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return row, Error.Wrap(err)
}

func (repo *bookings) List(ctx context.Context, orgID uuid.UUID, status booking.Status, limit, offset int) (_ []booking.Booking, err error) {
	defer mon.Task()(&ctx)(&err)

	return repo.queryMany(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE org_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY starts_at DESC
		LIMIT $3 OFFSET $4`, orgID, string(status), limit, offset)
}

func (repo *bookings) ListOverlapping(ctx context.Context, orgID, teamID uuid.UUID, from, to time.Time) (_ []booking.Booking, err error) {
	defer mon.Task()(&ctx)(&err)

	return repo.queryMany(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE org_id = $1 AND team_id = $2
			AND status NOT IN ('CANCELLED', 'EXPIRED')
			AND starts_at < $4
			AND starts_at + make_interval(mins => duration_min) > $3
		ORDER BY starts_at`, orgID, teamID, from, to)
}

func (repo *bookings) ListForLead(ctx context.Context, orgID, leadID uuid.UUID) (_ []booking.Booking, err error) {
	defer mon.Task()(&ctx)(&err)

	return repo.queryMany(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE org_id = $1 AND lead_id = $2
		ORDER BY starts_at DESC`, orgID, leadID)
}

func (repo *bookings) UpdateStatus(ctx context.Context, orgID, id uuid.UUID, from []booking.Status, to booking.Status, now time.Time) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	fromStrings := make([]string, 0, len(from))
	for _, status := range from {
		fromStrings = append(fromStrings, string(status))
	}
	result, err := repo.src.ExecContext(ctx, `
		UPDATE bookings SET status = $3, updated_at = $4
		WHERE org_id = $1 AND id = $2 AND status = ANY ($5)`,
		orgID, id, to, now, pq.Array(fromStrings))
	if err != nil {
		return false, Error.Wrap(err)
	}
	return rowsChanged(result)
}

func (repo *bookings) UpdateSlot(ctx context.Context, orgID, id uuid.UUID, startsAt time.Time, durationMin int, now time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		UPDATE bookings SET starts_at = $3, duration_min = $4, updated_at = $5
		WHERE org_id = $1 AND id = $2`, orgID, id, startsAt, durationMin, now)
	return Error.Wrap(err)
}

func (repo *bookings) MarkDepositPaid(ctx context.Context, orgID, id uuid.UUID, at time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		UPDATE bookings SET deposit_paid_at = $3, updated_at = $3
		WHERE org_id = $1 AND id = $2`, orgID, id, at)
	return Error.Wrap(err)
}

func (repo *bookings) ListStale(ctx context.Context, before time.Time, limit int) (_ []booking.Booking, err error) {
	defer mon.Task()(&ctx)(&err)

	return repo.queryMany(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE status IN ('PENDING', 'AWAITING_DEPOSIT') AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, before, limit)
}

func (repo *bookings) CountCreatedSince(ctx context.Context, orgID uuid.UUID, since time.Time) (_ int, err error) {
	defer mon.Task()(&ctx)(&err)

	var count int
	err = repo.src.QueryRowContext(ctx, `
		SELECT count(*) FROM bookings WHERE org_id = $1 AND created_at >= $2`,
		orgID, since).Scan(&count)
	return count, Error.Wrap(err)
}

func (repo *bookings) ListUpcoming(ctx context.Context, from, to time.Time) (_ []booking.Booking, err error) {
	defer mon.Task()(&ctx)(&err)

	return repo.queryMany(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE status = 'CONFIRMED' AND starts_at >= $1 AND starts_at < $2
		ORDER BY starts_at`, from, to)
}

type webhookEvents struct{ src driver }

func (repo *webhookEvents) Record(ctx context.Context, provider, eventID string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := repo.src.ExecContext(ctx, `
		INSERT INTO webhook_events (provider, event_id)
		VALUES ($1, $2)
		ON CONFLICT (provider, event_id) DO NOTHING`, provider, eventID)
	if err != nil {
		return false, Error.Wrap(err)
	}
	return rowsChanged(result)
}
