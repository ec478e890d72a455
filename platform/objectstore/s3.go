// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package objectstore

import (
	"context"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/brightbroom/brightbroom/platform/apperrs"
)

// S3Config configures the S3 compatible backend.
type S3Config struct {
	Endpoint  string `help:"s3 endpoint host:port" default:""`
	Bucket    string `help:"bucket name" default:""`
	AccessKey string `help:"access key id" default:""`
	SecretKey string `help:"secret access key" default:""`
	Region    string `help:"bucket region" default:"us-east-1"`
	UseTLS    bool   `help:"connect over https" default:"true"`
}

// S3 stores objects in an S3 compatible bucket with presigned GET/PUT.
type S3 struct {
	client *minio.Client
	config S3Config
	global Config
}

// NewS3 creates the S3 compatible backend.
func NewS3(config S3Config, global Config) (*S3, error) {
	if config.Endpoint == "" || config.Bucket == "" {
		return nil, Error.New("s3 backend requires endpoint and bucket")
	}
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseTLS,
		Region: config.Region,
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &S3{client: client, config: config, global: global}, nil
}

// Put implements Store.
func (s3 *S3) Put(ctx context.Context, key string, body io.Reader, size int64, mime string) (_ Stored, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := ValidateKey(key); err != nil {
		return Stored{}, err
	}
	info, err := s3.client.PutObject(ctx, s3.config.Bucket, key, body, size,
		minio.PutObjectOptions{ContentType: mime})
	if err != nil {
		return Stored{}, apperrs.ErrDependency.Wrap(Error.Wrap(err))
	}
	return Stored{Key: key, Size: info.Size, MIME: mime}, nil
}

// Delete implements Store.
func (s3 *S3) Delete(ctx context.Context, key string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := ValidateKey(key); err != nil {
		return err
	}
	err = s3.client.RemoveObject(ctx, s3.config.Bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		return apperrs.ErrDependency.Wrap(Error.Wrap(err))
	}
	return nil
}

// SignDownload implements Store with a presigned GET.
func (s3 *S3) SignDownload(ctx context.Context, key string, ttl time.Duration) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := ValidateKey(key); err != nil {
		return "", err
	}
	signed, err := s3.client.PresignedGetObject(ctx, s3.config.Bucket, key,
		s3.global.clampTTL(key, ttl), url.Values{})
	if err != nil {
		return "", apperrs.ErrDependency.Wrap(Error.Wrap(err))
	}
	return signed.String(), nil
}

// SignUpload implements Store with a presigned PUT.
func (s3 *S3) SignUpload(ctx context.Context, key string, ttl time.Duration) (_ string, _ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := ValidateKey(key); err != nil {
		return "", false, err
	}
	signed, err := s3.client.PresignedPutObject(ctx, s3.config.Bucket, key,
		s3.global.clampTTL(key, ttl))
	if err != nil {
		return "", false, apperrs.ErrDependency.Wrap(Error.Wrap(err))
	}
	return signed.String(), true, nil
}
