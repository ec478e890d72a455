// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package requestid attaches an identifier to every request context.
package requestid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey struct{}

// Header is the request and response header carrying the id.
const Header = "X-Request-Id"

// WithValue returns a context carrying the given request id.
func WithValue(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the request id or empty string.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// Propagate is middleware that assigns a request id when the client did not
// provide one and echoes it on the response.
func Propagate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(Header, id)
		next.ServeHTTP(w, r.WithContext(WithValue(r.Context(), id)))
	})
}
