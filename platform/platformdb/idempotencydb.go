// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package platformdb

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/brightbroom/brightbroom/platform/web"
)

type idempotencyKeys struct{ src driver }

func (repo *idempotencyKeys) Get(ctx context.Context, orgID uuid.UUID, key string) (_ *web.IdempotencyRecord, err error) {
	defer mon.Task()(&ctx)(&err)

	record := &web.IdempotencyRecord{}
	err = repo.src.QueryRowContext(ctx, `
		SELECT org_id, key, request_hash, status, body, created_at
		FROM admin_idempotency WHERE org_id = $1 AND key = $2`, orgID, key).
		Scan(&record.OrgID, &record.Key, &record.RequestHash, &record.Status, &record.Body, &record.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return record, Error.Wrap(err)
}

// Put lets the first writer win; a concurrent duplicate sees inserted=false
// and replays the stored response instead.
func (repo *idempotencyKeys) Put(ctx context.Context, record *web.IdempotencyRecord) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := repo.src.ExecContext(ctx, `
		INSERT INTO admin_idempotency (org_id, key, request_hash, status, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (org_id, key) DO NOTHING`,
		record.OrgID, record.Key, record.RequestHash, record.Status, record.Body, record.CreatedAt)
	if err != nil {
		return false, Error.Wrap(err)
	}
	return rowsChanged(result)
}

func (repo *idempotencyKeys) DeleteOlderThan(ctx context.Context, before time.Time) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := repo.src.ExecContext(ctx, `
		DELETE FROM admin_idempotency WHERE created_at < $1`, before)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	count, err := result.RowsAffected()
	return count, Error.Wrap(err)
}
