// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package photos

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	monkit "github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"github.com/brightbroom/brightbroom/platform/apperrs"
	"github.com/brightbroom/brightbroom/platform/audit"
	"github.com/brightbroom/brightbroom/platform/booking"
	"github.com/brightbroom/brightbroom/platform/console"
	"github.com/brightbroom/brightbroom/platform/console/consoleauth"
	"github.com/brightbroom/brightbroom/platform/entitlements"
	"github.com/brightbroom/brightbroom/platform/objectstore"
	"github.com/brightbroom/brightbroom/platform/outbox"
)

var mon = monkit.Package()

// Config configures photo handling.
type Config struct {
	MaxSizeBytes int64         `help:"upload size ceiling in bytes" default:"10485760"`
	TokenTTL     time.Duration `help:"download token lifetime" default:"60s"`
	URLTTL       time.Duration `help:"signed download url lifetime" default:"60s"`
	BindUA       bool          `help:"bind download tokens to the requesting user agent" default:"true"`
}

// allowedMIME is the upload allowlist, checked before any bytes are read.
var allowedMIME = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/heic": "heic",
}

// Service implements photo upload, download vending and deletion.
//
// architecture: Service
type Service struct {
	log      *zap.Logger
	audit    *audit.Log
	db       DB
	bookings booking.Bookings
	orgs     console.Organizations
	store    objectstore.Store
	signer   *consoleauth.Signer
	config   Config

	nowFn func() time.Time
}

// NewService creates a photo service.
func NewService(log *zap.Logger, auditLog *audit.Log, db DB, bookings booking.Bookings, orgs console.Organizations, store objectstore.Store, signer *consoleauth.Signer, config Config) *Service {
	if config.MaxSizeBytes <= 0 {
		config.MaxSizeBytes = 10 << 20
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = time.Minute
	}
	return &Service{
		log:      log,
		audit:    auditLog,
		db:       db,
		bookings: bookings,
		orgs:     orgs,
		store:    store,
		signer:   signer,
		config:   config,
		nowFn:    time.Now,
	}
}

// UploadPhoto is the input for storing one photo. Size and MIME come from
// the request envelope and are validated before Body is read.
type UploadPhoto struct {
	BookingID  uuid.UUID
	MIME       string
	Size       int64
	Caption    string
	UploadedBy uuid.UUID
	Body       io.Reader
}

// Upload validates, persists the row and stores the bytes. The row goes
// first so a failed byte store leaves an orphan row rather than an orphan
// blob; the janitor removes rows whose objects never arrived.
func (service *Service) Upload(ctx context.Context, orgID uuid.UUID, upload UploadPhoto) (_ *Photo, err error) {
	defer mon.Task()(&ctx)(&err)

	ext, ok := allowedMIME[upload.MIME]
	if !ok {
		return nil, apperrs.ErrValidation.Wrap(Error.New("unsupported content type %q", upload.MIME))
	}
	if upload.Size <= 0 || upload.Size > service.config.MaxSizeBytes {
		return nil, apperrs.ErrValidation.Wrap(Error.New("size %d outside allowed range", upload.Size))
	}

	target, err := service.bookings.Get(ctx, orgID, upload.BookingID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if target == nil {
		return nil, apperrs.ErrNotFound.Wrap(Error.New("booking not found"))
	}

	org, err := service.orgs.Get(ctx, orgID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	used, err := service.db.Photos().SumSizeForOrg(ctx, orgID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := entitlements.CheckStorage(org.Plan, used, upload.Size); err != nil {
		return nil, err
	}

	photo := &Photo{
		ID:         uuid.New(),
		OrgID:      orgID,
		BookingID:  upload.BookingID,
		MIME:       upload.MIME,
		SizeBytes:  upload.Size,
		Caption:    upload.Caption,
		UploadedBy: upload.UploadedBy,
		CreatedAt:  service.nowFn(),
	}
	photo.Key, err = objectstore.BuildKey(orgID, upload.BookingID, photo.ID, ext)
	if err != nil {
		return nil, err
	}

	if err := service.db.Photos().Insert(ctx, photo); err != nil {
		return nil, Error.Wrap(err)
	}
	if _, err := service.store.Put(ctx, photo.Key, io.LimitReader(upload.Body, upload.Size), upload.Size, upload.MIME); err != nil {
		return nil, apperrs.ErrDependency.Wrap(err)
	}

	service.audit.Event(ctx, "photo.uploaded",
		zap.String("org_id", orgID.String()),
		zap.String("photo_id", photo.ID.String()),
		zap.Int64("size", upload.Size))
	return photo, nil
}

// Get returns a photo of the org.
func (service *Service) Get(ctx context.Context, orgID, id uuid.UUID) (_ *Photo, err error) {
	defer mon.Task()(&ctx)(&err)

	found, err := service.db.Photos().Get(ctx, orgID, id)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if found == nil {
		return nil, apperrs.ErrNotFound.Wrap(Error.New("photo not found"))
	}
	return found, nil
}

// ListForBooking returns the photos attached to a booking.
func (service *Service) ListForBooking(ctx context.Context, orgID, bookingID uuid.UUID) (_ []Photo, err error) {
	defer mon.Task()(&ctx)(&err)

	list, err := service.db.Photos().ListForBooking(ctx, orgID, bookingID)
	return list, Error.Wrap(err)
}

// Caller describes who is asking for a photo. Exactly one of the three
// viewer kinds applies.
type Caller struct {
	// Admin is true for console users whose role passed photo.read.
	Admin bool
	// TeamID is set for worker-scope tokens.
	TeamID uuid.UUID
	// LeadID is set for client magic-link tokens.
	LeadID uuid.UUID
}

// IssueDownloadToken authorizes the caller against the photo's booking
// and mints a short-lived token bound to the photo id and, when
// configured, the caller's user agent.
func (service *Service) IssueDownloadToken(ctx context.Context, orgID, photoID uuid.UUID, caller Caller, userAgent string) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	photo, err := service.Get(ctx, orgID, photoID)
	if err != nil {
		return "", err
	}
	target, err := service.bookings.Get(ctx, orgID, photo.BookingID)
	if err != nil {
		return "", Error.Wrap(err)
	}
	if err := authorize(caller, target); err != nil {
		return "", err
	}

	claims := consoleauth.ScopeClaims{
		Scope:     consoleauth.ScopePhoto,
		OrgID:     orgID,
		SubjectID: photoID,
		ExpiresAt: service.nowFn().Add(service.config.TokenTTL).Unix(),
	}
	if service.config.BindUA && userAgent != "" {
		claims.UAHash = hashUA(userAgent)
	}
	token, err := service.signer.SignScope(claims)
	return token, Error.Wrap(err)
}

// RedeemDownloadToken verifies a download token and returns the signed
// storage URL for the photo it names.
func (service *Service) RedeemDownloadToken(ctx context.Context, token, userAgent string) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	claims, err := service.signer.VerifyScope(token, consoleauth.ScopePhoto, service.nowFn())
	if err != nil {
		return "", apperrs.ErrUnauthenticated.Wrap(err)
	}
	if claims.UAHash != "" && claims.UAHash != hashUA(userAgent) {
		return "", apperrs.ErrUnauthenticated.Wrap(Error.New("token bound to a different client"))
	}

	photo, err := service.db.Photos().Get(ctx, claims.OrgID, claims.SubjectID)
	if err != nil {
		return "", Error.Wrap(err)
	}
	if photo == nil {
		return "", apperrs.ErrNotFound.Wrap(Error.New("photo not found"))
	}
	url, err := service.store.SignDownload(ctx, photo.Key, service.config.URLTTL)
	if err != nil {
		return "", apperrs.ErrDependency.Wrap(err)
	}
	return url, nil
}

// Delete removes the row and enqueues the storage delete in the same
// transaction. The janitor retries the object removal on transient
// failures.
func (service *Service) Delete(ctx context.Context, orgID, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	photo, err := service.Get(ctx, orgID, id)
	if err != nil {
		return err
	}

	err = service.db.WithTx(ctx, orgID, func(ctx context.Context, tx Tx) error {
		if err := tx.Photos().Delete(ctx, orgID, id); err != nil {
			return Error.Wrap(err)
		}
		payload, err := json.Marshal(outbox.StorageDeletePayload{Key: photo.Key})
		if err != nil {
			return Error.Wrap(err)
		}
		dedupe := fmt.Sprintf("storage_delete:%s", photo.Key)
		_, err = tx.Outbox().Enqueue(ctx, outbox.New(orgID, outbox.KindStorageDelete, dedupe, payload))
		return Error.Wrap(err)
	})
	if err != nil {
		return err
	}

	service.audit.Event(ctx, "photo.deleted",
		zap.String("org_id", orgID.String()),
		zap.String("photo_id", id.String()))
	return nil
}

func authorize(caller Caller, target *booking.Booking) error {
	if caller.Admin {
		return nil
	}
	if target == nil {
		return apperrs.ErrForbidden.Wrap(Error.New("photo has no booking to authorize against"))
	}
	if caller.TeamID != uuid.Nil && caller.TeamID == target.TeamID {
		return nil
	}
	if caller.LeadID != uuid.Nil && caller.LeadID == target.LeadID {
		return nil
	}
	return apperrs.ErrForbidden.Wrap(Error.New("caller may not view this photo"))
}

func hashUA(userAgent string) string {
	sum := sha256.Sum256([]byte(userAgent))
	return hex.EncodeToString(sum[:8])
}
