// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package objectstore is the uniform gateway over blob storage backends.
//
// Keys are always tenant scoped: orders/{org_id}/{booking_id}/{photo_id}
// with an optional extension. The gateway mints time limited signed URLs
// and never returns raw bucket locations.
package objectstore

import (
	"context"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	monkit "github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"github.com/brightbroom/brightbroom/platform/apperrs"
)

var (
	// Error is the default objectstore errs class.
	Error = errs.Class("objectstore")

	mon = monkit.Package()
)

// Config selects and configures the backend.
type Config struct {
	Backend string `help:"storage backend: local, s3 or imagecdn" default:"local"`

	PhotoURLTTL   time.Duration `help:"ceiling for photo download url lifetime" default:"60s"`
	GeneralURLTTL time.Duration `help:"ceiling for general download url lifetime" default:"600s"`

	Local    LocalConfig
	S3       S3Config
	ImageCDN ImageCDNConfig
}

// Stored describes a stored object.
type Stored struct {
	Key  string
	Size int64
	MIME string
}

// Store is the capability contract every backend implements.
//
// architecture: Service
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, mime string) (Stored, error)
	Delete(ctx context.Context, key string) error
	// SignDownload mints a URL valid for ttl. The ttl is clamped to the
	// configured ceiling.
	SignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)
	// SignUpload mints a direct upload URL when the backend supports it.
	SignUpload(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
}

// Open instantiates the configured backend. The variant is chosen once at
// startup.
func Open(config Config) (Store, error) {
	switch config.Backend {
	case "local":
		return NewLocal(config.Local, config)
	case "s3":
		return NewS3(config.S3, config)
	case "imagecdn":
		return NewImageCDN(config.ImageCDN, config)
	default:
		return nil, Error.New("unknown storage backend %q", config.Backend)
	}
}

var keyComponent = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// BuildKey constructs the canonical org scoped object key.
func BuildKey(orgID, bookingID, photoID uuid.UUID, ext string) (string, error) {
	key := "orders/" + orgID.String() + "/" + bookingID.String() + "/" + photoID.String()
	if ext != "" {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		key += ext
	}
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// ValidateKey rejects keys that are not tenant scoped or contain traversal
// sequences or characters outside the allowed set.
func ValidateKey(key string) error {
	if !strings.HasPrefix(key, "orders/") {
		return apperrs.ErrValidation.Wrap(Error.New("key must be under orders/"))
	}
	parts := strings.Split(key, "/")
	if len(parts) != 4 {
		return apperrs.ErrValidation.Wrap(Error.New("key must have 4 components"))
	}
	for _, part := range parts {
		if part == "" || part == "." || part == ".." || !keyComponent.MatchString(part) {
			return apperrs.ErrValidation.Wrap(Error.New("invalid key component %q", part))
		}
	}
	return nil
}

// KeyOrg extracts the org component of a valid key.
func KeyOrg(key string) (uuid.UUID, error) {
	if err := ValidateKey(key); err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(strings.Split(key, "/")[1])
}

// clampTTL enforces the configured ceiling on signed URL lifetimes. Photo
// keys under orders/ get the tight photo ceiling, everything else the
// general one.
func (config Config) clampTTL(key string, ttl time.Duration) time.Duration {
	ceiling := config.GeneralURLTTL
	if ceiling <= 0 {
		ceiling = 600 * time.Second
	}
	if strings.HasPrefix(key, "orders/") {
		ceiling = config.PhotoURLTTL
		if ceiling <= 0 {
			ceiling = 60 * time.Second
		}
	}
	if ttl <= 0 || ttl > ceiling {
		return ceiling
	}
	return ttl
}
