// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package platformdb

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/brightbroom/brightbroom/platform/apperrs"
	"github.com/brightbroom/brightbroom/platform/console"
)

type organizations struct{ src driver }

func (repo *organizations) Insert(ctx context.Context, org *console.Organization) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		INSERT INTO organizations (id, name, plan, billing_status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		org.ID, org.Name, org.Plan, org.BillingStatus, org.CreatedAt)
	return Error.Wrap(err)
}

func (repo *organizations) Get(ctx context.Context, id uuid.UUID) (_ *console.Organization, err error) {
	defer mon.Task()(&ctx)(&err)

	org := &console.Organization{}
	err = repo.src.QueryRowContext(ctx, `
		SELECT id, name, plan, billing_status, created_at
		FROM organizations WHERE id = $1`, id).
		Scan(&org.ID, &org.Name, &org.Plan, &org.BillingStatus, &org.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return org, Error.Wrap(err)
}

func (repo *organizations) List(ctx context.Context) (_ []console.Organization, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := repo.src.QueryContext(ctx, `
		SELECT id, name, plan, billing_status, created_at
		FROM organizations ORDER BY created_at`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errsCombine(err, rows.Close(), rows.Err())) }()

	var out []console.Organization
	for rows.Next() {
		var org console.Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.Plan, &org.BillingStatus, &org.CreatedAt); err != nil {
			return nil, Error.Wrap(err)
		}
		out = append(out, org)
	}
	return out, nil
}

func (repo *organizations) UpdateBillingStatus(ctx context.Context, id uuid.UUID, status string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		UPDATE organizations SET billing_status = $2 WHERE id = $1`, id, status)
	return Error.Wrap(err)
}

type users struct{ src driver }

func (repo *users) Insert(ctx context.Context, user *console.User) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, must_change_password, deactivated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Email, user.PasswordHash, user.MustChangePassword, user.Deactivated, user.CreatedAt)
	if isUniqueViolation(err) {
		return apperrs.ErrConflict.Wrap(Error.New("email already registered"))
	}
	return Error.Wrap(err)
}

func (repo *users) Get(ctx context.Context, id uuid.UUID) (_ *console.User, err error) {
	defer mon.Task()(&ctx)(&err)

	user := &console.User{}
	err = repo.src.QueryRowContext(ctx, `
		SELECT id, email, password_hash, must_change_password, deactivated, created_at
		FROM users WHERE id = $1`, id).
		Scan(&user.ID, &user.Email, &user.PasswordHash, &user.MustChangePassword, &user.Deactivated, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return user, Error.Wrap(err)
}

func (repo *users) GetByEmail(ctx context.Context, orgID uuid.UUID, email string) (_ *console.User, err error) {
	defer mon.Task()(&ctx)(&err)

	user := &console.User{}
	err = repo.src.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.password_hash, u.must_change_password, u.deactivated, u.created_at
		FROM users u
		JOIN memberships m ON m.user_id = u.id
		WHERE m.org_id = $1 AND u.email = $2`, orgID, email).
		Scan(&user.ID, &user.Email, &user.PasswordHash, &user.MustChangePassword, &user.Deactivated, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return user, Error.Wrap(err)
}

func (repo *users) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string, mustChange bool) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		UPDATE users SET password_hash = $2, must_change_password = $3 WHERE id = $1`,
		id, hash, mustChange)
	return Error.Wrap(err)
}

func (repo *users) Deactivate(ctx context.Context, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		UPDATE users SET deactivated = true WHERE id = $1`, id)
	return Error.Wrap(err)
}

func (repo *users) InsertMembership(ctx context.Context, membership *console.Membership) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		INSERT INTO memberships (user_id, org_id, role, created_at)
		VALUES ($1, $2, $3, $4)`,
		membership.UserID, membership.OrgID, membership.Role, membership.CreatedAt)
	return Error.Wrap(err)
}

func (repo *users) GetMembership(ctx context.Context, userID, orgID uuid.UUID) (_ *console.Membership, err error) {
	defer mon.Task()(&ctx)(&err)

	membership := &console.Membership{}
	err = repo.src.QueryRowContext(ctx, `
		SELECT user_id, org_id, role, created_at
		FROM memberships WHERE user_id = $1 AND org_id = $2`, userID, orgID).
		Scan(&membership.UserID, &membership.OrgID, &membership.Role, &membership.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return membership, Error.Wrap(err)
}

func (repo *users) ListMemberships(ctx context.Context, orgID uuid.UUID) (_ []console.Membership, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := repo.src.QueryContext(ctx, `
		SELECT user_id, org_id, role, created_at
		FROM memberships WHERE org_id = $1 ORDER BY created_at`, orgID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errsCombine(err, rows.Close(), rows.Err())) }()

	var out []console.Membership
	for rows.Next() {
		var membership console.Membership
		if err := rows.Scan(&membership.UserID, &membership.OrgID, &membership.Role, &membership.CreatedAt); err != nil {
			return nil, Error.Wrap(err)
		}
		out = append(out, membership)
	}
	return out, nil
}

func (repo *users) DeleteMembership(ctx context.Context, userID, orgID uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		DELETE FROM memberships WHERE user_id = $1 AND org_id = $2`, userID, orgID)
	return Error.Wrap(err)
}

type sessions struct{ src driver }

func (repo *sessions) Insert(ctx context.Context, session *console.Session) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = repo.src.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, org_id, access_jti, refresh_hash,
			issued_at, expires_at, refresh_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		session.ID, session.UserID, session.OrgID, session.AccessJTI, session.RefreshHash,
		session.IssuedAt, session.ExpiresAt, session.RefreshExpiresAt)
	return Error.Wrap(err)
}

func (repo *sessions) Get(ctx context.Context, id uuid.UUID) (_ *console.Session, err error) {
	defer mon.Task()(&ctx)(&err)
	return repo.scanOne(ctx, `WHERE id = $1`, id)
}

func (repo *sessions) GetByRefreshHash(ctx context.Context, hash string) (_ *console.Session, err error) {
	defer mon.Task()(&ctx)(&err)
	return repo.scanOne(ctx, `WHERE refresh_hash = $1`, hash)
}

func (repo *sessions) scanOne(ctx context.Context, where string, arg interface{}) (*console.Session, error) {
	session := &console.Session{}
	var revokedAt sql.NullTime
	err := repo.src.QueryRowContext(ctx, `
		SELECT id, user_id, org_id, access_jti, refresh_hash,
			issued_at, expires_at, refresh_expires_at, revoked_reason, revoked_at
		FROM sessions `+where, arg).
		Scan(&session.ID, &session.UserID, &session.OrgID, &session.AccessJTI, &session.RefreshHash,
			&session.IssuedAt, &session.ExpiresAt, &session.RefreshExpiresAt, &session.RevokedReason, &revokedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	session.RevokedAt = nullTimePtr(revokedAt)
	return session, nil
}

func (repo *sessions) Revoke(ctx context.Context, id uuid.UUID, reason string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := repo.src.ExecContext(ctx, `
		UPDATE sessions SET revoked_reason = $2, revoked_at = now()
		WHERE id = $1 AND revoked_reason = ''`, id, reason)
	if err != nil {
		return false, Error.Wrap(err)
	}
	return rowsChanged(result)
}

func (repo *sessions) RevokeAllForUser(ctx context.Context, userID uuid.UUID, reason string) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := repo.src.ExecContext(ctx, `
		UPDATE sessions SET revoked_reason = $2, revoked_at = now()
		WHERE user_id = $1 AND revoked_reason = ''`, userID, reason)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	count, err := result.RowsAffected()
	return count, Error.Wrap(err)
}

func (repo *sessions) DeleteExpired(ctx context.Context, before time.Time) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	result, err := repo.src.ExecContext(ctx, `
		DELETE FROM sessions WHERE refresh_expires_at < $1`, before)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	count, err := result.RowsAffected()
	return count, Error.Wrap(err)
}
