// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package console

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Revocation reasons recorded on sessions.
const (
	RevokedRotated        = "rotated"
	RevokedLogout         = "logout"
	RevokedPasswordChange = "password_change"
	RevokedAdminReset     = "admin_reset"
)

// Session is the server-side record backing an access+refresh token pair.
type Session struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	OrgID            uuid.UUID
	AccessJTI        uuid.UUID
	RefreshHash      string
	IssuedAt         time.Time
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	RevokedReason    string
	RevokedAt        *time.Time
}

// Active reports whether the session can still be used.
func (session *Session) Active(now time.Time) bool {
	return session.RevokedReason == "" && now.Before(session.RefreshExpiresAt)
}

// Sessions is the session repository.
//
// architecture: Database
type Sessions interface {
	Insert(ctx context.Context, session *Session) error
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	GetByRefreshHash(ctx context.Context, hash string) (*Session, error)
	// Revoke marks the session revoked if it is not revoked yet and
	// reports whether this call won the revocation.
	Revoke(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	// RevokeAllForUser revokes every active session of a user and returns
	// the number revoked.
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, reason string) (int64, error)
	// DeleteExpired removes sessions whose refresh window has passed.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
