// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package ratelimit implements fixed window request limiting keyed by
// client and route group.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/zeebo/errs"
)

// Error is the default ratelimit errs class.
var Error = errs.Class("ratelimit")

// Config configures limiting and client IP resolution.
type Config struct {
	PerMinute      int      `help:"requests allowed per key per minute" default:"120"`
	Burst          int      `help:"additional burst allowance" default:"20"`
	RedisURL       string   `help:"shared limiter backend url, empty uses the local map" default:""`
	TrustedProxies []string `help:"cidrs whose forwarded-for headers are honored" default:""`
}

// Limiter decides whether a keyed request may proceed.
type Limiter interface {
	// Allow reports whether the key may make another request in the
	// current window.
	Allow(ctx context.Context, key string, now time.Time) (bool, error)
}

// window is one minute; limits are configured per minute.
const window = time.Minute

// ClientKey resolves the client identity for limiting. Only when the peer
// address is inside a trusted proxy CIDR is the first forwarded-for entry
// honored; otherwise the peer address wins.
func ClientKey(r *http.Request, trusted []*net.IPNet) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	peerIP := net.ParseIP(peer)
	if peerIP == nil {
		return peer
	}
	for _, cidr := range trusted {
		if cidr.Contains(peerIP) {
			forwarded := r.Header.Get("X-Forwarded-For")
			if forwarded != "" {
				first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
				if net.ParseIP(first) != nil {
					return first
				}
			}
			break
		}
	}
	return peerIP.String()
}

// ParseTrusted parses trusted proxy CIDRs; bare addresses become /32 or
// /128 networks.
func ParseTrusted(entries []string) ([]*net.IPNet, error) {
	var out []*net.IPNet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			if ip := net.ParseIP(entry); ip != nil {
				if ip.To4() != nil {
					entry += "/32"
				} else {
					entry += "/128"
				}
			}
		}
		_, cidr, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		out = append(out, cidr)
	}
	return out, nil
}
