// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package platformdb

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/brightbroom/brightbroom/platform/photos"
)

type photoRows struct{ src driver }

const photoColumns = `id, org_id, booking_id, key, mime, size_bytes, caption, uploaded_by, created_at`

func (repo *photoRows) Insert(ctx context.Context, photo *photos.Photo) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		INSERT INTO photos (`+photoColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		photo.ID, photo.OrgID, photo.BookingID, photo.Key, photo.MIME,
		photo.SizeBytes, photo.Caption, photo.UploadedBy, photo.CreatedAt)
	return Error.Wrap(err)
}

func (repo *photoRows) Get(ctx context.Context, orgID, id uuid.UUID) (_ *photos.Photo, err error) {
	defer mon.Task()(&ctx)(&err)

	photo := &photos.Photo{}
	err = repo.src.QueryRowContext(ctx, `
		SELECT `+photoColumns+` FROM photos WHERE org_id = $1 AND id = $2`, orgID, id).
		Scan(&photo.ID, &photo.OrgID, &photo.BookingID, &photo.Key, &photo.MIME,
			&photo.SizeBytes, &photo.Caption, &photo.UploadedBy, &photo.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return photo, Error.Wrap(err)
}

func (repo *photoRows) ListForBooking(ctx context.Context, orgID, bookingID uuid.UUID) (_ []photos.Photo, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := repo.src.QueryContext(ctx, `
		SELECT `+photoColumns+` FROM photos
		WHERE org_id = $1 AND booking_id = $2
		ORDER BY created_at`, orgID, bookingID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errsCombine(err, rows.Close(), rows.Err())) }()

	var out []photos.Photo
	for rows.Next() {
		var photo photos.Photo
		if err := rows.Scan(&photo.ID, &photo.OrgID, &photo.BookingID, &photo.Key, &photo.MIME,
			&photo.SizeBytes, &photo.Caption, &photo.UploadedBy, &photo.CreatedAt); err != nil {
			return nil, Error.Wrap(err)
		}
		out = append(out, photo)
	}
	return out, nil
}

func (repo *photoRows) Delete(ctx context.Context, orgID, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		DELETE FROM photos WHERE org_id = $1 AND id = $2`, orgID, id)
	return Error.Wrap(err)
}

func (repo *photoRows) SumSizeForOrg(ctx context.Context, orgID uuid.UUID) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	var total int64
	err = repo.src.QueryRowContext(ctx, `
		SELECT COALESCE(sum(size_bytes), 0) FROM photos WHERE org_id = $1`, orgID).Scan(&total)
	return total, Error.Wrap(err)
}
