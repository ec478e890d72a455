// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package outbox

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"
)

// DestinationConfig restricts where export webhooks may be sent.
type DestinationConfig struct {
	AllowedHosts []string `help:"hostnames export webhooks may target, empty allows none" default:""`
	RequireHTTPS bool     `help:"reject plain http destinations" default:"true"`
	BlockPrivate bool     `help:"reject destinations resolving to private or link-local ranges" default:"true"`
}

// DestinationChecker validates export destinations before any bytes are
// sent. Blocked destinations are permanent failures.
type DestinationChecker struct {
	config  DestinationConfig
	lookup  func(ctx context.Context, host string) ([]net.IP, error)
	allowed map[string]bool
}

// NewDestinationChecker creates a checker from config.
func NewDestinationChecker(config DestinationConfig) *DestinationChecker {
	allowed := make(map[string]bool, len(config.AllowedHosts))
	for _, host := range config.AllowedHosts {
		host = strings.ToLower(strings.TrimSpace(host))
		if host != "" {
			allowed[host] = true
		}
	}
	resolver := &net.Resolver{}
	return &DestinationChecker{
		config:  config,
		allowed: allowed,
		lookup: func(ctx context.Context, host string) ([]net.IP, error) {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			addrs, err := resolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, err
			}
			ips := make([]net.IP, 0, len(addrs))
			for _, addr := range addrs {
				ips = append(ips, addr.IP)
			}
			return ips, nil
		},
	}
}

// Check validates the destination URL. The returned error is permanent
// with CodeBlocked when the destination is not allowed.
func (checker *DestinationChecker) Check(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Permanent(Error.Wrap(err), CodeBlocked)
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if checker.config.RequireHTTPS {
			return Permanent(Error.New("plain http destination %q", parsed.Host), CodeBlocked)
		}
	default:
		return Permanent(Error.New("unsupported scheme %q", parsed.Scheme), CodeBlocked)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return Permanent(Error.New("destination has no host"), CodeBlocked)
	}
	if !checker.allowed[host] {
		return Permanent(Error.New("host %q is not on the allowlist", host), CodeBlocked)
	}

	if !checker.config.BlockPrivate {
		return nil
	}
	ips := []net.IP{}
	if ip := net.ParseIP(host); ip != nil {
		ips = append(ips, ip)
	} else {
		resolved, err := checker.lookup(ctx, host)
		if err != nil {
			// resolution failures are transient, the retry path decides
			return Error.Wrap(err)
		}
		ips = resolved
	}
	for _, ip := range ips {
		if isDisallowedIP(ip) {
			return Permanent(Error.New("host %q resolves to blocked address %s", host, ip), CodeBlocked)
		}
	}
	return nil
}

func isDisallowedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
