// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package metrics registers the business counters and serves the token
// gated scrape endpoint. HTTP labels use templated route paths only, never
// raw URLs, to keep label cardinality bounded.
package metrics

import (
	"crypto/subtle"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures the scrape endpoint.
type Config struct {
	Enabled bool   `help:"enable the metrics endpoint" default:"true"`
	Token   string `help:"bearer token required to scrape" default:""`
}

var (
	// HTTPRequests counts requests by templated route, method and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by route, method and status class",
	}, []string{"route", "method", "status"})

	// HTTPDuration is the request latency histogram.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by templated route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	// OutboxEvents counts outbox outcomes by kind and result.
	OutboxEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_total",
		Help: "outbox delivery outcomes by kind and result",
	}, []string{"kind", "result"})

	// BookingLifecycle counts booking transitions by action.
	BookingLifecycle = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_lifecycle_total",
		Help: "booking lifecycle transitions by action",
	}, []string{"action"})

	// WebhookEvents counts payment webhook outcomes by result.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "payment webhook outcomes by result",
	}, []string{"result"})

	// EmailEvents counts email outcomes by template and status.
	EmailEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "email_events_total",
		Help: "email outcomes by template and status",
	}, []string{"template", "status"})

	// JobHeartbeatAge is the age of each job heartbeat in seconds.
	JobHeartbeatAge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "job_heartbeat_age_seconds",
		Help: "seconds since the last heartbeat of each job",
	}, []string{"job"})

	// RatelimitFailopen counts requests allowed because the shared limiter
	// backend was unavailable.
	RatelimitFailopen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ratelimit_failopen_total",
		Help: "requests allowed due to rate limiter backend outage",
	})
)

// Handler serves the scrape endpoint, requiring the configured token.
func Handler(config Config) http.Handler {
	inner := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !config.Enabled {
			http.NotFound(w, r)
			return
		}
		if config.Token != "" {
			got := r.Header.Get("Authorization")
			want := "Bearer " + config.Token
			if r.URL.Query().Get("token") != config.Token &&
				subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		inner.ServeHTTP(w, r)
	})
}
