// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package consoleauth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testSigner(t *testing.T) *Signer {
	signer, err := NewSigner(Config{
		Secret:    "test-secret",
		AccessTTL: 15 * time.Minute,
	})
	require.NoError(t, err)
	return signer
}

func TestAccessTokenRoundTrip(t *testing.T) {
	signer := testSigner(t)

	now := time.Now().Truncate(time.Second)
	claims := AccessClaims{
		UserID:    uuid.New(),
		OrgID:     uuid.New(),
		Role:      "ADMIN",
		SessionID: uuid.New(),
		JTI:       uuid.New(),
		IssuedAt:  now,
		ExpiresAt: now.Add(15 * time.Minute),
	}
	raw, err := signer.SignAccess(claims)
	require.NoError(t, err)

	got, err := signer.VerifyAccess(raw)
	require.NoError(t, err)
	require.Equal(t, claims.UserID, got.UserID)
	require.Equal(t, claims.OrgID, got.OrgID)
	require.Equal(t, claims.Role, got.Role)
	require.Equal(t, claims.SessionID, got.SessionID)
}

func TestAccessTokenExpiry(t *testing.T) {
	signer := testSigner(t)

	now := time.Now()
	raw, err := signer.SignAccess(AccessClaims{
		UserID:    uuid.New(),
		OrgID:     uuid.New(),
		Role:      "VIEWER",
		SessionID: uuid.New(),
		JTI:       uuid.New(),
		IssuedAt:  now.Add(-time.Hour),
		ExpiresAt: now.Add(-time.Minute),
	})
	require.NoError(t, err)

	_, err = signer.VerifyAccess(raw)
	require.Error(t, err)
}

func TestAccessTokenWrongSecret(t *testing.T) {
	signer := testSigner(t)
	other, err := NewSigner(Config{Secret: "other-secret"})
	require.NoError(t, err)

	now := time.Now()
	raw, err := signer.SignAccess(AccessClaims{
		UserID:    uuid.New(),
		OrgID:     uuid.New(),
		SessionID: uuid.New(),
		JTI:       uuid.New(),
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Minute),
	})
	require.NoError(t, err)

	_, err = other.VerifyAccess(raw)
	require.Error(t, err)
}

func TestScopeToken(t *testing.T) {
	signer := testSigner(t)
	now := time.Now()

	claims := ScopeClaims{
		Scope:     ScopeWorker,
		OrgID:     uuid.New(),
		SubjectID: uuid.New(),
		TeamID:    uuid.New(),
		ExpiresAt: now.Add(time.Hour).Unix(),
	}
	raw, err := signer.SignScope(claims)
	require.NoError(t, err)

	got, err := signer.VerifyScope(raw, ScopeWorker, now)
	require.NoError(t, err)
	require.Equal(t, claims.OrgID, got.OrgID)
	require.Equal(t, claims.TeamID, got.TeamID)

	// scope confusion is rejected
	_, err = signer.VerifyScope(raw, ScopeClient, now)
	require.Error(t, err)

	// expiry is enforced
	_, err = signer.VerifyScope(raw, ScopeWorker, now.Add(2*time.Hour))
	require.Error(t, err)

	// tampering is rejected
	_, err = signer.VerifyScope(raw+"x", ScopeWorker, now)
	require.Error(t, err)
}
