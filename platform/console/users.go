// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package console

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role is a membership role inside an organization.
type Role string

// Membership roles.
const (
	RoleOwner      Role = "OWNER"
	RoleAdmin      Role = "ADMIN"
	RoleDispatcher Role = "DISPATCHER"
	RoleFinance    Role = "FINANCE"
	RoleViewer     Role = "VIEWER"
)

// Valid reports whether the role is one of the known roles.
func (role Role) Valid() bool {
	switch role {
	case RoleOwner, RoleAdmin, RoleDispatcher, RoleFinance, RoleViewer:
		return true
	}
	return false
}

// User is an account that can belong to organizations.
type User struct {
	ID                 uuid.UUID
	Email              string
	PasswordHash       string
	MustChangePassword bool
	Deactivated        bool
	CreatedAt          time.Time
}

// Membership binds a user to an organization with a role.
type Membership struct {
	UserID    uuid.UUID
	OrgID     uuid.UUID
	Role      Role
	CreatedAt time.Time
}

// CreateUser contains the input for inviting a user.
type CreateUser struct {
	OrgID    uuid.UUID
	Email    string
	Password string
	Role     Role
	// MustChangePassword forces a password change on first login.
	MustChangePassword bool
}

// Users is the user repository.
//
// architecture: Database
type Users interface {
	Insert(ctx context.Context, user *User) error
	Get(ctx context.Context, id uuid.UUID) (*User, error)
	// GetByEmail looks the user up within an organization.
	GetByEmail(ctx context.Context, orgID uuid.UUID, email string) (*User, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string, mustChange bool) error
	Deactivate(ctx context.Context, id uuid.UUID) error

	InsertMembership(ctx context.Context, membership *Membership) error
	GetMembership(ctx context.Context, userID, orgID uuid.UUID) (*Membership, error)
	ListMemberships(ctx context.Context, orgID uuid.UUID) ([]Membership, error)
	DeleteMembership(ctx context.Context, userID, orgID uuid.UUID) error
}
