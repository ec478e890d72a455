// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package objectstore

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestBuildKey(t *testing.T) {
	orgID, bookingID, photoID := uuid.New(), uuid.New(), uuid.New()

	key, err := BuildKey(orgID, bookingID, photoID, "jpg")
	require.NoError(t, err)
	require.Equal(t, "orders/"+orgID.String()+"/"+bookingID.String()+"/"+photoID.String()+".jpg", key)

	gotOrg, err := KeyOrg(key)
	require.NoError(t, err)
	require.Equal(t, orgID, gotOrg)
}

func TestValidateKey(t *testing.T) {
	valid := "orders/" + uuid.NewString() + "/" + uuid.NewString() + "/" + uuid.NewString() + ".png"
	require.NoError(t, ValidateKey(valid))

	for _, key := range []string{
		"",
		"etc/passwd",
		"orders/../secret/a/b",
		"orders/a/b",
		"orders/a/b/c/d",
		"orders/a/b/..",
		"orders/a/b/c d",
		"orders/a//c",
		"orders/a/b/c%2e%2e",
	} {
		require.Error(t, ValidateKey(key), key)
	}
}

func newTestLocal(t *testing.T) *Local {
	global := Config{
		Backend:       "local",
		PhotoURLTTL:   60 * time.Second,
		GeneralURLTTL: 600 * time.Second,
	}
	local, err := NewLocal(LocalConfig{
		Directory: t.TempDir(),
		BaseURL:   "http://localhost:8080",
		SigSecret: "test-secret",
	}, global)
	require.NoError(t, err)
	return local
}

func TestLocalPutOpenDelete(t *testing.T) {
	ctx := context.Background()
	local := newTestLocal(t)

	key, err := BuildKey(uuid.New(), uuid.New(), uuid.New(), "jpg")
	require.NoError(t, err)

	stored, err := local.Put(ctx, key, strings.NewReader("jpeg bytes"), 10, "image/jpeg")
	require.NoError(t, err)
	require.Equal(t, int64(10), stored.Size)

	reader, err := local.Open(ctx, key)
	require.NoError(t, err)
	require.NoError(t, reader.Close())

	require.NoError(t, local.Delete(ctx, key))
	_, err = local.Open(ctx, key)
	require.Error(t, err)

	// deleting a gone object is not an error, the janitor retries
	require.NoError(t, local.Delete(ctx, key))
}

func TestLocalSignedURLTTL(t *testing.T) {
	ctx := context.Background()
	local := newTestLocal(t)

	key, err := BuildKey(uuid.New(), uuid.New(), uuid.New(), "jpg")
	require.NoError(t, err)

	signed, err := local.SignDownload(ctx, key, 30*time.Second)
	require.NoError(t, err)

	parsed, err := url.Parse(signed)
	require.NoError(t, err)
	exp := parsed.Query().Get("exp")
	sig := parsed.Query().Get("sig")
	require.NotEmpty(t, exp)
	require.NotEmpty(t, sig)

	now := time.Now()
	require.NoError(t, local.VerifySignature(key, exp, sig, now))

	// refused after the ttl elapsed
	require.Error(t, local.VerifySignature(key, exp, sig, now.Add(31*time.Second)))
	// refused for a different key
	require.Error(t, local.VerifySignature(key+"x", exp, sig, now))
	// refused with a tampered signature
	require.Error(t, local.VerifySignature(key, exp, sig+"x", now))
}

func TestLocalTTLCeiling(t *testing.T) {
	ctx := context.Background()
	local := newTestLocal(t)

	key, err := BuildKey(uuid.New(), uuid.New(), uuid.New(), "jpg")
	require.NoError(t, err)

	// a requested ttl above the photo ceiling is clamped to 60s
	signed, err := local.SignDownload(ctx, key, time.Hour)
	require.NoError(t, err)

	parsed, err := url.Parse(signed)
	require.NoError(t, err)
	require.NoError(t, local.VerifySignature(key, parsed.Query().Get("exp"), parsed.Query().Get("sig"), time.Now()))
	require.Error(t, local.VerifySignature(key, parsed.Query().Get("exp"), parsed.Query().Get("sig"), time.Now().Add(61*time.Second)))
}
