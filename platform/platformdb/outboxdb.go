// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package platformdb

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/brightbroom/brightbroom/platform/outbox"
)

type outboxEvents struct{ src driver }

const outboxColumns = `id, org_id, kind, dedupe_key, payload, attempts,
	next_attempt_at, status, lease_owner, leased_at, last_error, created_at, delivered_at`

func (repo *outboxEvents) Enqueue(ctx context.Context, event *outbox.Event) (inserted bool, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := repo.src.ExecContext(ctx, `
		INSERT INTO outbox_events (id, org_id, kind, dedupe_key, payload,
			attempts, next_attempt_at, status, lease_owner, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, '', '', $6)
		ON CONFLICT (org_id, dedupe_key) DO NOTHING`,
		event.ID, event.OrgID, event.Kind, event.DedupeKey, event.Payload,
		time.Now().UTC(), outbox.StatusPending)
	if err != nil {
		return false, Error.Wrap(err)
	}
	return rowsChanged(result)
}

func scanOutboxEvent(scan func(...interface{}) error) (*outbox.Event, error) {
	event := &outbox.Event{}
	var leasedAt, deliveredAt sql.NullTime
	err := scan(&event.ID, &event.OrgID, &event.Kind, &event.DedupeKey, &event.Payload,
		&event.Attempts, &event.NextAttemptAt, &event.Status, &event.LeaseOwner,
		&leasedAt, &event.LastError, &event.CreatedAt, &deliveredAt)
	if err != nil {
		return nil, err
	}
	event.LeasedAt = nullTimePtr(leasedAt)
	event.DeliveredAt = nullTimePtr(deliveredAt)
	return event, nil
}

// ClaimDue leases due work with SKIP LOCKED so concurrent drainers never
// double-claim, and reclaims IN_FLIGHT rows whose lease expired.
func (repo *outboxEvents) ClaimDue(ctx context.Context, now time.Time, batch int, leaseOwner string, leaseTTL time.Duration) (_ []outbox.Event, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := repo.src.QueryContext(ctx, `
		UPDATE outbox_events SET status = $3, lease_owner = $4, leased_at = $1
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE (status = $5 AND next_attempt_at <= $1)
				OR (status = $3 AND leased_at < $2)
			ORDER BY next_attempt_at
			LIMIT $6
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+outboxColumns,
		now, now.Add(-leaseTTL), outbox.StatusInFlight, leaseOwner, outbox.StatusPending, batch)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errsCombine(err, rows.Close(), rows.Err())) }()

	var out []outbox.Event
	for rows.Next() {
		event, err := scanOutboxEvent(rows.Scan)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		out = append(out, *event)
	}
	return out, nil
}

func (repo *outboxEvents) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		UPDATE outbox_events SET status = $2, delivered_at = $3, lease_owner = '', leased_at = NULL
		WHERE id = $1`, id, outbox.StatusDelivered, at)
	return Error.Wrap(err)
}

func (repo *outboxEvents) Reschedule(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastError string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = $2, attempts = $3, next_attempt_at = $4, last_error = $5,
			lease_owner = '', leased_at = NULL
		WHERE id = $1`, id, outbox.StatusPending, attempts, next, lastError)
	return Error.Wrap(err)
}

func (repo *outboxEvents) MarkDead(ctx context.Context, id uuid.UUID, attempts int, lastError string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = $2, attempts = $3, last_error = $4, lease_owner = '', leased_at = NULL
		WHERE id = $1`, id, outbox.StatusDead, attempts, lastError)
	return Error.Wrap(err)
}

func (repo *outboxEvents) Get(ctx context.Context, orgID, id uuid.UUID) (_ *outbox.Event, err error) {
	defer mon.Task()(&ctx)(&err)

	event, err := scanOutboxEvent(repo.src.QueryRowContext(ctx, `
		SELECT `+outboxColumns+` FROM outbox_events
		WHERE org_id = $1 AND id = $2`, orgID, id).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return event, Error.Wrap(err)
}

func (repo *outboxEvents) ListDead(ctx context.Context, orgID uuid.UUID, kind outbox.Kind, limit int) (_ []outbox.Event, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := repo.src.QueryContext(ctx, `
		SELECT `+outboxColumns+` FROM outbox_events
		WHERE org_id = $1 AND status = $2 AND ($3 = '' OR kind = $3)
		ORDER BY created_at DESC
		LIMIT $4`, orgID, outbox.StatusDead, string(kind), limit)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errsCombine(err, rows.Close(), rows.Err())) }()

	var out []outbox.Event
	for rows.Next() {
		event, err := scanOutboxEvent(rows.Scan)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		out = append(out, *event)
	}
	return out, nil
}

func (repo *outboxEvents) Replay(ctx context.Context, orgID, id uuid.UUID) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := repo.src.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = $3, attempts = 0, next_attempt_at = now(), last_error = '',
			lease_owner = '', leased_at = NULL
		WHERE org_id = $1 AND id = $2 AND status = $4`,
		orgID, id, outbox.StatusPending, outbox.StatusDead)
	if err != nil {
		return false, Error.Wrap(err)
	}
	return rowsChanged(result)
}

func (repo *outboxEvents) RequeueDeadKind(ctx context.Context, kind outbox.Kind, before time.Time, limit int) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := repo.src.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = $3, attempts = 0, next_attempt_at = now(), lease_owner = '', leased_at = NULL
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE status = $4 AND kind = $1 AND created_at < $2
			ORDER BY created_at
			LIMIT $5
		)`, kind, before, outbox.StatusPending, outbox.StatusDead, limit)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	count, err := result.RowsAffected()
	return count, Error.Wrap(err)
}

func (repo *outboxEvents) DeleteFinished(ctx context.Context, before time.Time) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := repo.src.ExecContext(ctx, `
		DELETE FROM outbox_events
		WHERE status IN ($1, $2) AND created_at < $3`,
		outbox.StatusDelivered, outbox.StatusDead, before)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	count, err := result.RowsAffected()
	return count, Error.Wrap(err)
}
