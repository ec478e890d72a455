// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package platformdb

import (
	"context"
	"database/sql"

	"github.com/brightbroom/brightbroom/platform/jobs"
)

type heartbeats struct{ src driver }

func (repo *heartbeats) Upsert(ctx context.Context, beat *jobs.Heartbeat) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		INSERT INTO job_heartbeats (job, last_beat_at, last_success_at, consecutive_failures, last_error)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job) DO UPDATE SET
			last_beat_at = EXCLUDED.last_beat_at,
			last_success_at = EXCLUDED.last_success_at,
			consecutive_failures = EXCLUDED.consecutive_failures,
			last_error = EXCLUDED.last_error`,
		beat.Job, beat.LastBeatAt, timeNullable(beat.LastSuccessAt), beat.ConsecutiveFailures, beat.LastError)
	return Error.Wrap(err)
}

func (repo *heartbeats) Get(ctx context.Context, job string) (_ *jobs.Heartbeat, err error) {
	defer mon.Task()(&ctx)(&err)

	beat := &jobs.Heartbeat{}
	var lastSuccess sql.NullTime
	err = repo.src.QueryRowContext(ctx, `
		SELECT job, last_beat_at, last_success_at, consecutive_failures, last_error
		FROM job_heartbeats WHERE job = $1`, job).
		Scan(&beat.Job, &beat.LastBeatAt, &lastSuccess, &beat.ConsecutiveFailures, &beat.LastError)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	beat.LastSuccessAt = nullTimePtr(lastSuccess)
	return beat, nil
}

func (repo *heartbeats) List(ctx context.Context) (_ []jobs.Heartbeat, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := repo.src.QueryContext(ctx, `
		SELECT job, last_beat_at, last_success_at, consecutive_failures, last_error
		FROM job_heartbeats ORDER BY job`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errsCombine(err, rows.Close(), rows.Err())) }()

	var out []jobs.Heartbeat
	for rows.Next() {
		var beat jobs.Heartbeat
		var lastSuccess sql.NullTime
		if err := rows.Scan(&beat.Job, &beat.LastBeatAt, &lastSuccess,
			&beat.ConsecutiveFailures, &beat.LastError); err != nil {
			return nil, Error.Wrap(err)
		}
		beat.LastSuccessAt = nullTimePtr(lastSuccess)
		out = append(out, beat)
	}
	return out, nil
}
