// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package web

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/brightbroom/brightbroom/platform/apperrs"
	"github.com/brightbroom/brightbroom/platform/metrics"
	"github.com/brightbroom/brightbroom/platform/ratelimit"
	"github.com/brightbroom/brightbroom/private/requestid"
)

// statusWriter captures the response status for logging and metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// routeTemplate returns the templated mux path, never the raw URL, so
// metric labels stay bounded.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if template, err := route.GetPathTemplate(); err == nil {
			return template
		}
	}
	return "unmatched"
}

// observe logs each request and feeds the HTTP metrics.
func (server *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(wrapped, r)

		elapsed := time.Since(start)
		route := routeTemplate(r)
		statusClass := strconv.Itoa(wrapped.status/100) + "xx"
		metrics.HTTPRequests.WithLabelValues(route, r.Method, statusClass).Inc()
		metrics.HTTPDuration.WithLabelValues(route, r.Method).Observe(elapsed.Seconds())

		server.log.Debug("request",
			zap.String("request_id", requestid.FromContext(r.Context())),
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", wrapped.status),
			zap.Duration("elapsed", elapsed))
	})
}

// recoverPanics converts handler panics into opaque 500 problems.
func (server *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				server.serveProblem(w, r, Error.New("panic: %v", recovered))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withTimeout bounds every handler with the configured ceiling.
func (server *Server) withTimeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), server.config.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// limitGroup applies the rate limiter keyed by client and route group.
func (server *Server) limitGroup(group string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if server.limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			key := fmt.Sprintf("%s:%s", ratelimit.ClientKey(r, server.trustedProxies), group)
			allowed, err := server.limiter.Allow(r.Context(), key, time.Now())
			if err != nil {
				// the limiter itself failed open already; never block here
				server.log.Warn("rate limiter error", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				server.serveProblem(w, r, apperrs.ErrRateLimited.Wrap(Error.New("rate limit exceeded")))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// cors answers preflight and tags simple cross-origin responses. The API
// is same-origin in production; this exists for local tooling.
func (server *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && server.config.AllowedOrigin != "" {
			if origin == server.config.AllowedOrigin {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Idempotency-Key, X-Request-Id")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
