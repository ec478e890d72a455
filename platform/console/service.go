// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package console implements identity, membership and session lifecycle.
package console

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	monkit "github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/brightbroom/brightbroom/platform/apperrs"
	"github.com/brightbroom/brightbroom/platform/audit"
	"github.com/brightbroom/brightbroom/platform/console/consoleauth"
	"github.com/brightbroom/brightbroom/platform/entitlements"
)

var (
	// Error is the default console errs class.
	Error = errs.Class("console")

	mon = monkit.Package()
)

// DB gathers the console repositories.
//
// architecture: Database
type DB interface {
	Organizations() Organizations
	Users() Users
	Sessions() Sessions

	// WithTx runs fn in one transaction pinned to the org; the Tx repos
	// share that transaction.
	WithTx(ctx context.Context, orgID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the transactional slice of the console repositories.
type Tx interface {
	Users() Users
}

// Service implements authentication and session lifecycle.
//
// architecture: Service
type Service struct {
	log    *zap.Logger
	audit  *audit.Log
	db     DB
	signer *consoleauth.Signer
	config consoleauth.Config

	nowFn func() time.Time
}

// NewService creates a console service.
func NewService(log *zap.Logger, auditLog *audit.Log, db DB, signer *consoleauth.Signer, config consoleauth.Config) *Service {
	return &Service{
		log:    log,
		audit:  auditLog,
		db:     db,
		signer: signer,
		config: config,
		nowFn:  time.Now,
	}
}

// SessionPair is the result of authentication: a short lived access token
// and an opaque refresh token.
type SessionPair struct {
	SessionID        uuid.UUID
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	MustChange       bool
}

// Authenticate verifies credentials and opens a session. The failure is the
// same whether the identifier existed or the password mismatched.
func (service *Service) Authenticate(ctx context.Context, orgID uuid.UUID, email, password string) (_ *SessionPair, err error) {
	defer mon.Task()(&ctx)(&err)

	email = strings.ToLower(strings.TrimSpace(email))
	user, err := service.db.Users().GetByEmail(ctx, orgID, email)
	if err != nil || user == nil || user.Deactivated {
		return nil, apperrs.ErrUnauthenticated.Wrap(Error.New("INVALID_CREDENTIALS"))
	}

	ok, legacy := verifyPassword(user.PasswordHash, password)
	if !ok {
		service.audit.Event(ctx, "auth.login_failed", zap.String("org_id", orgID.String()))
		return nil, apperrs.ErrUnauthenticated.Wrap(Error.New("INVALID_CREDENTIALS"))
	}
	if legacy {
		// successful legacy verification rehashes on the fly
		if rehash, err := HashPassword(password); err == nil {
			if err := service.db.Users().UpdatePasswordHash(ctx, user.ID, rehash, user.MustChangePassword); err != nil {
				service.log.Warn("legacy rehash failed", zap.Error(err))
			}
		}
	}

	membership, err := service.db.Users().GetMembership(ctx, user.ID, orgID)
	if err != nil || membership == nil {
		return nil, apperrs.ErrUnauthenticated.Wrap(Error.New("INVALID_CREDENTIALS"))
	}

	pair, err := service.openSession(ctx, user, orgID, string(membership.Role))
	if err != nil {
		return nil, err
	}
	service.audit.Event(ctx, "auth.session_issued",
		zap.String("org_id", orgID.String()),
		zap.String("user_id", user.ID.String()),
		zap.String("session_id", pair.SessionID.String()))
	return pair, nil
}

// Refresh rotates a session: the predecessor is revoked with reason
// "rotated" and a successor pair is issued. Of N concurrent attempts with
// the same refresh token at most one wins.
func (service *Service) Refresh(ctx context.Context, refreshToken string) (_ *SessionPair, err error) {
	defer mon.Task()(&ctx)(&err)

	now := service.nowFn()
	session, err := service.db.Sessions().GetByRefreshHash(ctx, consoleauth.HashSecret(refreshToken))
	if err != nil || session == nil || !session.Active(now) {
		return nil, apperrs.ErrUnauthenticated.Wrap(Error.New("invalid refresh token"))
	}

	// the predicated revoke decides the single rotation winner
	won, err := service.db.Sessions().Revoke(ctx, session.ID, RevokedRotated)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if !won {
		return nil, apperrs.ErrUnauthenticated.Wrap(Error.New("refresh token already rotated"))
	}

	user, err := service.db.Users().Get(ctx, session.UserID)
	if err != nil || user == nil || user.Deactivated {
		return nil, apperrs.ErrUnauthenticated.Wrap(Error.New("invalid refresh token"))
	}
	membership, err := service.db.Users().GetMembership(ctx, session.UserID, session.OrgID)
	if err != nil || membership == nil {
		return nil, apperrs.ErrUnauthenticated.Wrap(Error.New("invalid refresh token"))
	}

	pair, err := service.openSession(ctx, user, session.OrgID, string(membership.Role))
	if err != nil {
		return nil, err
	}
	service.audit.Event(ctx, "auth.session_refreshed",
		zap.String("org_id", session.OrgID.String()),
		zap.String("user_id", session.UserID.String()),
		zap.String("predecessor", session.ID.String()),
		zap.String("session_id", pair.SessionID.String()))
	return pair, nil
}

// Revoke revokes a single session.
func (service *Service) Revoke(ctx context.Context, sessionID uuid.UUID, reason string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := service.db.Sessions().Revoke(ctx, sessionID, reason); err != nil {
		return Error.Wrap(err)
	}
	service.audit.Event(ctx, "auth.session_revoked",
		zap.String("session_id", sessionID.String()),
		zap.String("reason", reason))
	return nil
}

// RevokeAllForUser bulk revokes every active session of a user.
func (service *Service) RevokeAllForUser(ctx context.Context, userID uuid.UUID, reason string) (count int64, err error) {
	defer mon.Task()(&ctx)(&err)

	count, err = service.db.Sessions().RevokeAllForUser(ctx, userID, reason)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	service.audit.Event(ctx, "auth.sessions_bulk_revoked",
		zap.String("user_id", userID.String()),
		zap.String("reason", reason),
		zap.Int64("count", count))
	return count, nil
}

// ChangePassword writes a new hash, clears the must-change flag and bulk
// revokes every session of the user.
func (service *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, replacement string) (err error) {
	defer mon.Task()(&ctx)(&err)

	user, err := service.db.Users().Get(ctx, userID)
	if err != nil || user == nil {
		return apperrs.ErrUnauthenticated.Wrap(Error.New("INVALID_CREDENTIALS"))
	}
	if ok, _ := verifyPassword(user.PasswordHash, current); !ok {
		return apperrs.ErrUnauthenticated.Wrap(Error.New("INVALID_CREDENTIALS"))
	}
	if err := validatePassword(replacement); err != nil {
		return err
	}

	hash, err := HashPassword(replacement)
	if err != nil {
		return Error.Wrap(err)
	}
	if err := service.db.Users().UpdatePasswordHash(ctx, userID, hash, false); err != nil {
		return Error.Wrap(err)
	}
	if _, err := service.RevokeAllForUser(ctx, userID, RevokedPasswordChange); err != nil {
		return err
	}
	return nil
}

// InviteUser creates a user with a temporary password and a membership.
// The org's plan caps how many members it may hold.
func (service *Service) InviteUser(ctx context.Context, create CreateUser) (_ *User, err error) {
	defer mon.Task()(&ctx)(&err)

	create.Email = strings.ToLower(strings.TrimSpace(create.Email))
	if create.Email == "" {
		return nil, apperrs.ErrValidation.Wrap(Error.New("email is required"))
	}
	if !create.Role.Valid() {
		return nil, apperrs.ErrValidation.Wrap(Error.New("unknown role %q", create.Role))
	}
	if err := validatePassword(create.Password); err != nil {
		return nil, err
	}

	org, err := service.db.Organizations().Get(ctx, create.OrgID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if org == nil {
		return nil, apperrs.ErrNotFound.Wrap(Error.New("unknown org"))
	}
	memberships, err := service.db.Users().ListMemberships(ctx, create.OrgID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := entitlements.CheckWorkers(org.Plan, len(memberships)); err != nil {
		return nil, err
	}

	hash, err := HashPassword(create.Password)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	user := &User{
		ID:                 uuid.New(),
		Email:              create.Email,
		PasswordHash:       hash,
		MustChangePassword: create.MustChangePassword,
		CreatedAt:          service.nowFn(),
	}
	err = service.db.WithTx(ctx, create.OrgID, func(ctx context.Context, tx Tx) error {
		existing, err := tx.Users().GetByEmail(ctx, create.OrgID, create.Email)
		if err != nil {
			return Error.Wrap(err)
		}
		if existing != nil {
			return apperrs.ErrConflict.Wrap(Error.New("email already invited"))
		}
		if err := tx.Users().Insert(ctx, user); err != nil {
			if apperrs.ErrConflict.Has(err) {
				return err
			}
			return Error.Wrap(err)
		}
		return Error.Wrap(tx.Users().InsertMembership(ctx, &Membership{
			UserID:    user.ID,
			OrgID:     create.OrgID,
			Role:      create.Role,
			CreatedAt: user.CreatedAt,
		}))
	})
	if err != nil {
		return nil, err
	}

	service.audit.Event(ctx, "iam.user_invited",
		zap.String("org_id", create.OrgID.String()),
		zap.String("user_id", user.ID.String()),
		zap.String("role", string(create.Role)))
	return user, nil
}

// AdminResetPassword sets a temporary password, forces a change on next
// login and revokes every session.
func (service *Service) AdminResetPassword(ctx context.Context, userID uuid.UUID, temporary string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := validatePassword(temporary); err != nil {
		return err
	}
	hash, err := HashPassword(temporary)
	if err != nil {
		return Error.Wrap(err)
	}
	if err := service.db.Users().UpdatePasswordHash(ctx, userID, hash, true); err != nil {
		return Error.Wrap(err)
	}
	_, err = service.RevokeAllForUser(ctx, userID, RevokedAdminReset)
	return err
}

func (service *Service) openSession(ctx context.Context, user *User, orgID uuid.UUID, role string) (*SessionPair, error) {
	now := service.nowFn()
	refresh, refreshHash, err := consoleauth.NewRefreshSecret()
	if err != nil {
		return nil, Error.Wrap(err)
	}

	session := &Session{
		ID:               uuid.New(),
		UserID:           user.ID,
		OrgID:            orgID,
		AccessJTI:        uuid.New(),
		RefreshHash:      refreshHash,
		IssuedAt:         now,
		ExpiresAt:        now.Add(service.config.AccessTTL),
		RefreshExpiresAt: now.Add(service.config.RefreshTTL),
	}
	if err := service.db.Sessions().Insert(ctx, session); err != nil {
		return nil, Error.Wrap(err)
	}

	access, err := service.signer.SignAccess(consoleauth.AccessClaims{
		UserID:    user.ID,
		OrgID:     orgID,
		Role:      role,
		SessionID: session.ID,
		JTI:       session.AccessJTI,
		IssuedAt:  now,
		ExpiresAt: session.ExpiresAt,
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &SessionPair{
		SessionID:        session.ID,
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  session.ExpiresAt,
		RefreshExpiresAt: session.RefreshExpiresAt,
		MustChange:       user.MustChangePassword,
	}, nil
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return apperrs.ErrValidation.Wrap(Error.New("password must be at least 8 characters"))
	}
	return nil
}
