// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package web

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightbroom/brightbroom/platform/apperrs"
	"github.com/brightbroom/brightbroom/platform/tenant"
)

// IdempotencyRecord is one stored admin write response.
type IdempotencyRecord struct {
	OrgID       uuid.UUID
	Key         string
	RequestHash string
	Status      int
	Body        []byte
	CreatedAt   time.Time
}

// IdempotencyKeys is the stored-response repository.
//
// architecture: Database
type IdempotencyKeys interface {
	Get(ctx context.Context, orgID uuid.UUID, key string) (*IdempotencyRecord, error)
	// Put inserts the record unless (org_id, key) exists; reports inserted.
	Put(ctx context.Context, record *IdempotencyRecord) (bool, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// captureWriter buffers the response so it can be stored for replay.
type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *captureWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// requireIdempotency wraps admin write handlers. The stored response is
// replayed for a retry with the same key and body; the same key with a
// different body is a conflict.
func (server *Server) requireIdempotency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("Idempotency-Key")
		if key == "" || len(key) > 128 {
			server.serveProblem(w, r, apperrs.ErrValidation.Wrap(Error.New("Idempotency-Key header required")))
			return
		}
		principal, ok := tenant.FromContext(r.Context())
		if !ok {
			server.serveProblem(w, r, apperrs.ErrUnauthenticated.Wrap(Error.New("authentication required")))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			server.serveProblem(w, r, apperrs.ErrValidation.Wrap(Error.Wrap(err)))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		requestHash := hashRequest(r.Method, r.URL.Path, body)

		existing, err := server.idempotency.Get(r.Context(), principal.OrgID, key)
		if err != nil {
			server.serveProblem(w, r, apperrs.ErrDependency.Wrap(err))
			return
		}
		if existing != nil {
			if existing.RequestHash != requestHash {
				server.serveProblem(w, r, apperrs.ErrIdempotencyMismatch.Wrap(
					Error.New("idempotency key reused with a different request")))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotency-Replayed", "true")
			w.WriteHeader(existing.Status)
			_, _ = w.Write(existing.Body)
			return
		}

		captured := &captureWriter{ResponseWriter: w}
		next.ServeHTTP(captured, r)

		// only settled outcomes are worth replaying
		if captured.status >= 200 && captured.status < 500 {
			_, err := server.idempotency.Put(r.Context(), &IdempotencyRecord{
				OrgID:       principal.OrgID,
				Key:         key,
				RequestHash: requestHash,
				Status:      captured.status,
				Body:        captured.body.Bytes(),
				CreatedAt:   time.Now(),
			})
			if err != nil {
				server.log.Warn("idempotency store failed", zap.Error(err))
			}
		}
	})
}

func hashRequest(method, path string, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(method))
	sum.Write([]byte{0})
	sum.Write([]byte(path))
	sum.Write([]byte{0})
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}
