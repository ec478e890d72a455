// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package objectstore

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/brightbroom/brightbroom/platform/apperrs"
)

// ImageCDNConfig configures the image CDN backend.
type ImageCDNConfig struct {
	UploadURL string `help:"cdn upload endpoint" default:""`
	ServeURL  string `help:"cdn serving base url" default:""`
	APIKey    string `help:"cdn api key" default:""`
	SigSecret string `help:"secret for provider signed exp/sig parameters" default:""`
}

// ImageCDN stores images with a CDN provider and serves them through
// provider signed redirect URLs carrying exp/sig parameters.
type ImageCDN struct {
	config ImageCDNConfig
	global Config
	client *http.Client
	secret []byte
}

// NewImageCDN creates the image CDN backend.
func NewImageCDN(config ImageCDNConfig, global Config) (*ImageCDN, error) {
	if config.UploadURL == "" || config.ServeURL == "" || config.SigSecret == "" {
		return nil, Error.New("imagecdn backend requires upload url, serve url and signing secret")
	}
	return &ImageCDN{
		config: config,
		global: global,
		client: &http.Client{Timeout: 10 * time.Second},
		secret: []byte(config.SigSecret),
	}, nil
}

// Put implements Store by uploading through the provider API.
func (cdn *ImageCDN) Put(ctx context.Context, key string, body io.Reader, size int64, mime string) (_ Stored, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := ValidateKey(key); err != nil {
		return Stored{}, err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", key)
	if err != nil {
		return Stored{}, Error.Wrap(err)
	}
	written, err := io.Copy(part, io.LimitReader(body, size))
	if err != nil {
		return Stored{}, Error.Wrap(err)
	}
	if err := writer.WriteField("key", key); err != nil {
		return Stored{}, Error.Wrap(err)
	}
	if err := writer.Close(); err != nil {
		return Stored{}, Error.Wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cdn.config.UploadURL, &buf)
	if err != nil {
		return Stored{}, Error.Wrap(err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+cdn.config.APIKey)

	resp, err := cdn.client.Do(req)
	if err != nil {
		return Stored{}, apperrs.ErrDependency.Wrap(Error.Wrap(err))
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		return Stored{}, apperrs.ErrDependency.Wrap(Error.New("cdn upload returned %d", resp.StatusCode))
	}
	return Stored{Key: key, Size: written, MIME: mime}, nil
}

// Delete implements Store.
func (cdn *ImageCDN) Delete(ctx context.Context, key string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := ValidateKey(key); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		cdn.config.UploadURL+"/"+url.PathEscape(key), nil)
	if err != nil {
		return Error.Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+cdn.config.APIKey)

	resp, err := cdn.client.Do(req)
	if err != nil {
		return apperrs.ErrDependency.Wrap(Error.Wrap(err))
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusNotFound {
		return apperrs.ErrDependency.Wrap(Error.New("cdn delete returned %d", resp.StatusCode))
	}
	return nil
}

// SignDownload implements Store with a provider signed redirect URL.
func (cdn *ImageCDN) SignDownload(ctx context.Context, key string, ttl time.Duration) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := ValidateKey(key); err != nil {
		return "", err
	}
	exp := time.Now().Add(cdn.global.clampTTL(key, ttl)).Unix()
	mac := hmac.New(sha256.New, cdn.secret)
	fmt.Fprintf(mac, "%s\n%d", key, exp)
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("%s/%s?exp=%d&sig=%s", cdn.config.ServeURL, key, exp, sig), nil
}

// SignUpload implements Store. The provider API does not issue client
// upload URLs.
func (cdn *ImageCDN) SignUpload(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	return "", false, nil
}
