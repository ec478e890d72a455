// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package console_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/pbkdf2"

	"github.com/brightbroom/brightbroom/platform/apperrs"
	"github.com/brightbroom/brightbroom/platform/audit"
	"github.com/brightbroom/brightbroom/platform/console"
	"github.com/brightbroom/brightbroom/platform/console/consoleauth"
)

type fakeDB struct {
	orgs     fakeOrganizations
	users    fakeUsers
	sessions fakeSessions
}

func newFakeDB() *fakeDB {
	db := &fakeDB{}
	db.users.byID = map[uuid.UUID]*console.User{}
	db.users.memberships = map[uuid.UUID]map[uuid.UUID]*console.Membership{}
	db.sessions.byID = map[uuid.UUID]*console.Session{}
	return db
}

func (db *fakeDB) Organizations() console.Organizations { return &db.orgs }
func (db *fakeDB) Users() console.Users                 { return &db.users }
func (db *fakeDB) Sessions() console.Sessions           { return &db.sessions }

func (db *fakeDB) WithTx(ctx context.Context, orgID uuid.UUID, fn func(ctx context.Context, tx console.Tx) error) error {
	return fn(ctx, db)
}

type fakeOrganizations struct {
	mu   sync.Mutex
	orgs []console.Organization
}

func (f *fakeOrganizations) Insert(ctx context.Context, org *console.Organization) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orgs = append(f.orgs, *org)
	return nil
}

func (f *fakeOrganizations) Get(ctx context.Context, id uuid.UUID) (*console.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.orgs {
		if f.orgs[i].ID == id {
			org := f.orgs[i]
			return &org, nil
		}
	}
	return nil, nil
}

func (f *fakeOrganizations) List(ctx context.Context) ([]console.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]console.Organization(nil), f.orgs...), nil
}

func (f *fakeOrganizations) UpdateBillingStatus(ctx context.Context, id uuid.UUID, status string) error {
	return nil
}

type fakeUsers struct {
	mu          sync.Mutex
	byID        map[uuid.UUID]*console.User
	memberships map[uuid.UUID]map[uuid.UUID]*console.Membership
}

func (f *fakeUsers) Insert(ctx context.Context, user *console.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *user
	f.byID[user.ID] = &clone
	return nil
}

func (f *fakeUsers) Get(ctx context.Context, id uuid.UUID) (*console.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.byID[id]; ok {
		clone := *user
		return &clone, nil
	}
	return nil, nil
}

func (f *fakeUsers) GetByEmail(ctx context.Context, orgID uuid.UUID, email string) (*console.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.byID {
		if user.Email == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string, mustChange bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.byID[id]; ok {
		user.PasswordHash = hash
		user.MustChangePassword = mustChange
	}
	return nil
}

func (f *fakeUsers) Deactivate(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.byID[id]; ok {
		user.Deactivated = true
	}
	return nil
}

func (f *fakeUsers) InsertMembership(ctx context.Context, membership *console.Membership) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.memberships[membership.UserID] == nil {
		f.memberships[membership.UserID] = map[uuid.UUID]*console.Membership{}
	}
	clone := *membership
	f.memberships[membership.UserID][membership.OrgID] = &clone
	return nil
}

func (f *fakeUsers) GetMembership(ctx context.Context, userID, orgID uuid.UUID) (*console.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if membership, ok := f.memberships[userID][orgID]; ok {
		clone := *membership
		return &clone, nil
	}
	return nil, nil
}

func (f *fakeUsers) ListMemberships(ctx context.Context, orgID uuid.UUID) ([]console.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []console.Membership
	for _, byOrg := range f.memberships {
		if membership, ok := byOrg[orgID]; ok {
			out = append(out, *membership)
		}
	}
	return out, nil
}

func (f *fakeUsers) DeleteMembership(ctx context.Context, userID, orgID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.memberships[userID], orgID)
	return nil
}

type fakeSessions struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*console.Session
}

func (f *fakeSessions) Insert(ctx context.Context, session *console.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *session
	f.byID[session.ID] = &clone
	return nil
}

func (f *fakeSessions) Get(ctx context.Context, id uuid.UUID) (*console.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session, ok := f.byID[id]; ok {
		clone := *session
		return &clone, nil
	}
	return nil, nil
}

func (f *fakeSessions) GetByRefreshHash(ctx context.Context, hash string) (*console.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, session := range f.byID {
		if session.RefreshHash == hash {
			clone := *session
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeSessions) Revoke(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.byID[id]
	if !ok || session.RevokedReason != "" {
		return false, nil
	}
	session.RevokedReason = reason
	now := time.Now()
	session.RevokedAt = &now
	return true, nil
}

func (f *fakeSessions) RevokeAllForUser(ctx context.Context, userID uuid.UUID, reason string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	now := time.Now()
	for _, session := range f.byID {
		if session.UserID == userID && session.RevokedReason == "" {
			session.RevokedReason = reason
			session.RevokedAt = &now
			count++
		}
	}
	return count, nil
}

func (f *fakeSessions) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func newTestService(t *testing.T) (*console.Service, *fakeDB, uuid.UUID) {
	db := newFakeDB()
	config := consoleauth.Config{
		Secret:     "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 30 * 24 * time.Hour,
	}
	signer, err := consoleauth.NewSigner(config)
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	service := console.NewService(log, audit.NewLog(log), db, signer, config)

	orgID := uuid.New()
	require.NoError(t, db.Organizations().Insert(context.Background(), &console.Organization{
		ID:   orgID,
		Name: "brightbroom",
		Plan: "business",
	}))
	user, err := service.InviteUser(context.Background(), console.CreateUser{
		OrgID:    orgID,
		Email:    "owner@example.com",
		Password: "correct horse",
		Role:     console.RoleOwner,
	})
	require.NoError(t, err)
	require.NotNil(t, user)
	return service, db, orgID
}

func TestInviteUserDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	service, _, orgID := newTestService(t)

	// a second invite for the owner's address, case and spacing aside
	_, err := service.InviteUser(ctx, console.CreateUser{
		OrgID:    orgID,
		Email:    " Owner@Example.com",
		Password: "another pass",
		Role:     console.RoleViewer,
	})
	require.Error(t, err)
	require.True(t, apperrs.ErrConflict.Has(err))
}

func TestInviteUserWorkerQuota(t *testing.T) {
	ctx := context.Background()
	service, db, _ := newTestService(t)

	// the free plan seats two members
	orgID := uuid.New()
	require.NoError(t, db.Organizations().Insert(ctx, &console.Organization{
		ID:   orgID,
		Name: "tiny",
		Plan: "free",
	}))
	for i, email := range []string{"one@example.com", "two@example.com"} {
		_, err := service.InviteUser(ctx, console.CreateUser{
			OrgID:    orgID,
			Email:    email,
			Password: "correct horse",
			Role:     console.RoleViewer,
		})
		require.NoError(t, err, "invite %d", i)
	}

	_, err := service.InviteUser(ctx, console.CreateUser{
		OrgID:    orgID,
		Email:    "three@example.com",
		Password: "correct horse",
		Role:     console.RoleViewer,
	})
	require.Error(t, err)
	require.True(t, apperrs.ErrPlanLimit.Has(err))
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	service, _, orgID := newTestService(t)

	pair, err := service.Authenticate(ctx, orgID, "Owner@Example.com ", "correct horse")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	_, err = service.Authenticate(ctx, orgID, "owner@example.com", "wrong")
	require.Error(t, err)
	wrongUser := err.Error()
	_, err = service.Authenticate(ctx, orgID, "nobody@example.com", "wrong")
	require.Error(t, err)
	// mismatch and unknown identifier are indistinguishable
	require.Equal(t, wrongUser, err.Error())
}

func TestAuthenticateLegacyRehash(t *testing.T) {
	ctx := context.Background()
	service, db, orgID := newTestService(t)

	salt := []byte("0123456789abcdef")
	derived := pbkdf2.Key([]byte("legacy pass"), salt, 29000, 32, sha256.New)
	legacy := "pbkdf2$29000$" + base64.StdEncoding.EncodeToString(salt) + "$" + base64.StdEncoding.EncodeToString(derived)

	var userID uuid.UUID
	for id, user := range db.users.byID {
		user.PasswordHash = legacy
		userID = id
	}

	_, err := service.Authenticate(ctx, orgID, "owner@example.com", "legacy pass")
	require.NoError(t, err)

	// hash upgraded to the current scheme
	rehashed := db.users.byID[userID].PasswordHash
	require.NotEqual(t, legacy, rehashed)
	require.True(t, rehashed[0] == '$')
}

func TestRefreshRotationSingleWinner(t *testing.T) {
	ctx := context.Background()
	service, _, orgID := newTestService(t)

	pair, err := service.Authenticate(ctx, orgID, "owner@example.com", "correct horse")
	require.NoError(t, err)

	const attempts = 8
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = service.Refresh(ctx, pair.RefreshToken)
		}(i)
	}
	wg.Wait()

	var won int
	for _, err := range results {
		if err == nil {
			won++
		}
	}
	require.Equal(t, 1, won)

	// the rotated token is dead
	_, err = service.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err)
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	ctx := context.Background()
	service, db, orgID := newTestService(t)

	pair, err := service.Authenticate(ctx, orgID, "owner@example.com", "correct horse")
	require.NoError(t, err)

	var userID uuid.UUID
	for id := range db.users.byID {
		userID = id
	}
	require.NoError(t, service.ChangePassword(ctx, userID, "correct horse", "new password 1"))

	_, err = service.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err)

	_, err = service.Authenticate(ctx, orgID, "owner@example.com", "new password 1")
	require.NoError(t, err)
}
