// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package objectstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/brightbroom/brightbroom/platform/apperrs"
)

// LocalConfig configures the filesystem backend.
type LocalConfig struct {
	Directory string `help:"directory for stored objects" default:"/var/lib/brightbroom/objects"`
	BaseURL   string `help:"public base url of the download proxy" default:"http://localhost:8080"`
	SigSecret string `help:"hmac secret for signed proxy urls" default:""`
}

// Local stores objects on the filesystem and serves them through an HMAC
// signed proxy endpoint.
type Local struct {
	config LocalConfig
	global Config
	secret []byte
}

// NewLocal creates the filesystem backend.
func NewLocal(config LocalConfig, global Config) (*Local, error) {
	if config.SigSecret == "" {
		return nil, Error.New("local backend requires a signing secret")
	}
	if err := os.MkdirAll(config.Directory, 0o700); err != nil {
		return nil, Error.Wrap(err)
	}
	return &Local{config: config, global: global, secret: []byte(config.SigSecret)}, nil
}

// Put implements Store.
func (local *Local) Put(ctx context.Context, key string, body io.Reader, size int64, mime string) (_ Stored, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := ValidateKey(key); err != nil {
		return Stored{}, err
	}
	path := filepath.Join(local.config.Directory, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return Stored{}, apperrs.ErrDependency.Wrap(Error.Wrap(err))
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return Stored{}, apperrs.ErrDependency.Wrap(Error.Wrap(err))
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	written, err := io.Copy(tmp, io.LimitReader(body, size))
	if cerr := tmp.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return Stored{}, apperrs.ErrDependency.Wrap(Error.Wrap(err))
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return Stored{}, apperrs.ErrDependency.Wrap(Error.Wrap(err))
	}
	return Stored{Key: key, Size: written, MIME: mime}, nil
}

// Delete implements Store. Deleting a missing object succeeds so the
// janitor can retry safely.
func (local *Local) Delete(ctx context.Context, key string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := ValidateKey(key); err != nil {
		return err
	}
	err = os.Remove(filepath.Join(local.config.Directory, filepath.FromSlash(key)))
	if err != nil && !os.IsNotExist(err) {
		return apperrs.ErrDependency.Wrap(Error.Wrap(err))
	}
	return nil
}

// SignDownload implements Store.
func (local *Local) SignDownload(ctx context.Context, key string, ttl time.Duration) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := ValidateKey(key); err != nil {
		return "", err
	}
	exp := time.Now().Add(local.global.clampTTL(key, ttl)).Unix()
	sig := local.signature(key, exp)
	return fmt.Sprintf("%s/v1/objects/%s?exp=%d&sig=%s",
		local.config.BaseURL, key, exp, url.QueryEscape(sig)), nil
}

// SignUpload implements Store. Direct uploads are not supported by the
// proxy; callers fall back to uploading through the API.
func (local *Local) SignUpload(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	return "", false, nil
}

// Open returns the object contents for the proxy endpoint.
func (local *Local) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	file, err := os.Open(filepath.Join(local.config.Directory, filepath.FromSlash(key)))
	if os.IsNotExist(err) {
		return nil, apperrs.ErrNotFound.Wrap(Error.New("object not found"))
	}
	if err != nil {
		return nil, apperrs.ErrDependency.Wrap(Error.Wrap(err))
	}
	return file, nil
}

// VerifySignature checks an exp/sig pair minted by SignDownload.
func (local *Local) VerifySignature(key, expStr, sig string, now time.Time) error {
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return apperrs.ErrUnauthenticated.Wrap(Error.New("malformed signature expiry"))
	}
	if now.Unix() > exp {
		return apperrs.ErrUnauthenticated.Wrap(Error.New("signature expired"))
	}
	want := local.signature(key, exp)
	if subtle.ConstantTimeCompare([]byte(sig), []byte(want)) != 1 {
		return apperrs.ErrUnauthenticated.Wrap(Error.New("invalid signature"))
	}
	return nil
}

func (local *Local) signature(key string, exp int64) string {
	mac := hmac.New(sha256.New, local.secret)
	fmt.Fprintf(mac, "%s\n%d", key, exp)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
