// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package photos_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/brightbroom/brightbroom/platform/apperrs"
	"github.com/brightbroom/brightbroom/platform/audit"
	"github.com/brightbroom/brightbroom/platform/booking"
	"github.com/brightbroom/brightbroom/platform/console"
	"github.com/brightbroom/brightbroom/platform/console/consoleauth"
	"github.com/brightbroom/brightbroom/platform/objectstore"
	"github.com/brightbroom/brightbroom/platform/outbox"
	"github.com/brightbroom/brightbroom/platform/photos"
)

type fakeDB struct {
	mu     sync.Mutex
	photos map[uuid.UUID]*photos.Photo
	outbox []*outbox.Event
}

func newFakeDB() *fakeDB {
	return &fakeDB{photos: map[uuid.UUID]*photos.Photo{}}
}

func (db *fakeDB) Photos() photos.Photos { return &fakePhotos{db} }

func (db *fakeDB) WithTx(ctx context.Context, orgID uuid.UUID, fn func(ctx context.Context, tx photos.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return fn(ctx, &fakeTx{db})
}

type fakeTx struct{ db *fakeDB }

func (tx *fakeTx) Photos() photos.Photos { return &fakePhotos{tx.db} }
func (tx *fakeTx) Outbox() outbox.Queue  { return &fakeQueue{tx.db} }

type fakePhotos struct{ db *fakeDB }

func (f *fakePhotos) Insert(ctx context.Context, photo *photos.Photo) error {
	clone := *photo
	f.db.photos[photo.ID] = &clone
	return nil
}

func (f *fakePhotos) Get(ctx context.Context, orgID, id uuid.UUID) (*photos.Photo, error) {
	if photo, ok := f.db.photos[id]; ok && photo.OrgID == orgID {
		clone := *photo
		return &clone, nil
	}
	return nil, nil
}

func (f *fakePhotos) ListForBooking(ctx context.Context, orgID, bookingID uuid.UUID) ([]photos.Photo, error) {
	var out []photos.Photo
	for _, photo := range f.db.photos {
		if photo.OrgID == orgID && photo.BookingID == bookingID {
			out = append(out, *photo)
		}
	}
	return out, nil
}

func (f *fakePhotos) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	if photo, ok := f.db.photos[id]; ok && photo.OrgID == orgID {
		delete(f.db.photos, id)
	}
	return nil
}

func (f *fakePhotos) SumSizeForOrg(ctx context.Context, orgID uuid.UUID) (int64, error) {
	var sum int64
	for _, photo := range f.db.photos {
		if photo.OrgID == orgID {
			sum += photo.SizeBytes
		}
	}
	return sum, nil
}

type fakeQueue struct{ db *fakeDB }

func (f *fakeQueue) Enqueue(ctx context.Context, event *outbox.Event) (bool, error) {
	for _, existing := range f.db.outbox {
		if existing.OrgID == event.OrgID && existing.DedupeKey == event.DedupeKey {
			return false, nil
		}
	}
	clone := *event
	f.db.outbox = append(f.db.outbox, &clone)
	return true, nil
}

type fakeBookings struct {
	booking.Bookings
	bookings map[uuid.UUID]*booking.Booking
}

func (f *fakeBookings) Get(ctx context.Context, orgID, id uuid.UUID) (*booking.Booking, error) {
	if b, ok := f.bookings[id]; ok && b.OrgID == orgID {
		clone := *b
		return &clone, nil
	}
	return nil, nil
}

type fakeOrgs struct {
	console.Organizations
	plan string
}

func (f *fakeOrgs) Get(ctx context.Context, id uuid.UUID) (*console.Organization, error) {
	return &console.Organization{ID: id, Plan: f.plan}, nil
}

type fixture struct {
	db        *fakeDB
	store     objectstore.Store
	service   *photos.Service
	orgID     uuid.UUID
	teamID    uuid.UUID
	leadID    uuid.UUID
	bookingID uuid.UUID
}

func newFixture(t *testing.T, plan string) *fixture {
	f := &fixture{
		db:        newFakeDB(),
		orgID:     uuid.New(),
		teamID:    uuid.New(),
		leadID:    uuid.New(),
		bookingID: uuid.New(),
	}

	store, err := objectstore.NewLocal(objectstore.LocalConfig{
		Directory: t.TempDir(),
		BaseURL:   "http://localhost:8080",
		SigSecret: "photo-test-secret",
	}, objectstore.Config{PhotoURLTTL: time.Minute})
	require.NoError(t, err)
	f.store = store

	signer, err := consoleauth.NewSigner(consoleauth.Config{Secret: "token-test-secret"})
	require.NoError(t, err)

	bookings := &fakeBookings{bookings: map[uuid.UUID]*booking.Booking{
		f.bookingID: {
			ID:     f.bookingID,
			OrgID:  f.orgID,
			TeamID: f.teamID,
			LeadID: f.leadID,
			Status: booking.StatusConfirmed,
		},
	}}

	log := zaptest.NewLogger(t)
	f.service = photos.NewService(log, audit.NewLog(log), f.db, bookings, &fakeOrgs{plan: plan},
		store, signer, photos.Config{
			MaxSizeBytes: 1 << 20,
			TokenTTL:     time.Minute,
			URLTTL:       time.Minute,
			BindUA:       true,
		})
	return f
}

func (f *fixture) upload(t *testing.T) *photos.Photo {
	body := bytes.Repeat([]byte{0xab}, 64)
	photo, err := f.service.Upload(context.Background(), f.orgID, photos.UploadPhoto{
		BookingID: f.bookingID,
		MIME:      "image/jpeg",
		Size:      int64(len(body)),
		Body:      bytes.NewReader(body),
	})
	require.NoError(t, err)
	return photo
}

func TestUploadValidation(t *testing.T) {
	f := newFixture(t, "pro")
	ctx := context.Background()

	_, err := f.service.Upload(ctx, f.orgID, photos.UploadPhoto{
		BookingID: f.bookingID, MIME: "application/pdf", Size: 64, Body: bytes.NewReader(nil),
	})
	require.True(t, apperrs.ErrValidation.Has(err))

	_, err = f.service.Upload(ctx, f.orgID, photos.UploadPhoto{
		BookingID: f.bookingID, MIME: "image/png", Size: 2 << 20, Body: bytes.NewReader(nil),
	})
	require.True(t, apperrs.ErrValidation.Has(err))

	_, err = f.service.Upload(ctx, f.orgID, photos.UploadPhoto{
		BookingID: uuid.New(), MIME: "image/png", Size: 64, Body: bytes.NewReader(make([]byte, 64)),
	})
	require.True(t, apperrs.ErrNotFound.Has(err))

	photo := f.upload(t)
	require.Contains(t, photo.Key, "orders/"+f.orgID.String()+"/")
	require.Contains(t, photo.Key, ".jpg")
}

func TestUploadQuota(t *testing.T) {
	f := newFixture(t, "free")
	ctx := context.Background()

	// a free plan holds 512 MiB; a single oversized sum trips the quota
	f.db.photos[uuid.New()] = &photos.Photo{
		ID: uuid.New(), OrgID: f.orgID, SizeBytes: 512 << 20,
	}
	_, err := f.service.Upload(ctx, f.orgID, photos.UploadPhoto{
		BookingID: f.bookingID, MIME: "image/jpeg", Size: 64, Body: bytes.NewReader(make([]byte, 64)),
	})
	require.True(t, apperrs.ErrPlanLimit.Has(err))
}

func TestDownloadTokenRoundTrip(t *testing.T) {
	f := newFixture(t, "pro")
	ctx := context.Background()
	photo := f.upload(t)

	token, err := f.service.IssueDownloadToken(ctx, f.orgID, photo.ID, photos.Caller{Admin: true}, "test-agent")
	require.NoError(t, err)

	url, err := f.service.RedeemDownloadToken(ctx, token, "test-agent")
	require.NoError(t, err)
	require.Contains(t, url, "sig=")

	// a different user agent cannot redeem the bound token
	_, err = f.service.RedeemDownloadToken(ctx, token, "other-agent")
	require.True(t, apperrs.ErrUnauthenticated.Has(err))

	_, err = f.service.RedeemDownloadToken(ctx, "garbage.token", "test-agent")
	require.True(t, apperrs.ErrUnauthenticated.Has(err))
}

func TestDownloadAuthorization(t *testing.T) {
	f := newFixture(t, "pro")
	ctx := context.Background()
	photo := f.upload(t)

	// worker on the assigned team
	_, err := f.service.IssueDownloadToken(ctx, f.orgID, photo.ID, photos.Caller{TeamID: f.teamID}, "")
	require.NoError(t, err)
	// client owning the booking
	_, err = f.service.IssueDownloadToken(ctx, f.orgID, photo.ID, photos.Caller{LeadID: f.leadID}, "")
	require.NoError(t, err)

	// wrong team, wrong lead, or no identity at all
	_, err = f.service.IssueDownloadToken(ctx, f.orgID, photo.ID, photos.Caller{TeamID: uuid.New()}, "")
	require.True(t, apperrs.ErrForbidden.Has(err))
	_, err = f.service.IssueDownloadToken(ctx, f.orgID, photo.ID, photos.Caller{LeadID: uuid.New()}, "")
	require.True(t, apperrs.ErrForbidden.Has(err))
	_, err = f.service.IssueDownloadToken(ctx, f.orgID, photo.ID, photos.Caller{}, "")
	require.True(t, apperrs.ErrForbidden.Has(err))
}

func TestDeleteEnqueuesJanitor(t *testing.T) {
	f := newFixture(t, "pro")
	ctx := context.Background()
	photo := f.upload(t)

	require.NoError(t, f.service.Delete(ctx, f.orgID, photo.ID))

	// row is gone immediately
	_, err := f.service.Get(ctx, f.orgID, photo.ID)
	require.True(t, apperrs.ErrNotFound.Has(err))

	// the janitor event carries the storage key, deduped on it
	require.Len(t, f.db.outbox, 1)
	require.Equal(t, outbox.KindStorageDelete, f.db.outbox[0].Kind)
	require.Equal(t, "storage_delete:"+photo.Key, f.db.outbox[0].DedupeKey)

	// deleting again is NOT_FOUND, not a duplicate janitor event
	err = f.service.Delete(ctx, f.orgID, photo.ID)
	require.True(t, apperrs.ErrNotFound.Has(err))
	require.Len(t, f.db.outbox, 1)
}
