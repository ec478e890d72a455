// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package web

import (
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/brightbroom/brightbroom/platform/apperrs"
	"github.com/brightbroom/brightbroom/platform/console/consoleauth"
	"github.com/brightbroom/brightbroom/platform/entitlements"
	"github.com/brightbroom/brightbroom/platform/ratelimit"
	"github.com/brightbroom/brightbroom/platform/tenant"
)

// AdminSafetyConfig configures the gate in front of admin routes.
type AdminSafetyConfig struct {
	AllowedCIDRs []string `help:"cidrs allowed to reach admin routes, empty allows all" default:""`
	ReadOnly     bool     `help:"start with admin writes disabled" default:"false"`
}

// adminGate guards admin routes: an optional network allowlist, a
// read-only switch that turns writes into conflicts during incidents, and
// a break-glass override for emergency writes.
type adminGate struct {
	log      *zap.Logger
	signer   *consoleauth.Signer
	allowed  []*net.IPNet
	readOnly atomic.Bool
}

func newAdminGate(log *zap.Logger, signer *consoleauth.Signer, config AdminSafetyConfig) (*adminGate, error) {
	allowed, err := ratelimit.ParseTrusted(config.AllowedCIDRs)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	gate := &adminGate{log: log, signer: signer, allowed: allowed}
	gate.readOnly.Store(config.ReadOnly)
	return gate, nil
}

// SetReadOnly flips the incident switch.
func (gate *adminGate) SetReadOnly(on bool) {
	gate.readOnly.Store(on)
}

// ReadOnly reports the current switch position.
func (gate *adminGate) ReadOnly() bool {
	return gate.readOnly.Load()
}

// check admits or rejects an admin request before its handler runs.
func (gate *adminGate) check(r *http.Request, principal tenant.Principal) error {
	if len(gate.allowed) > 0 {
		host := r.RemoteAddr
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		ip := net.ParseIP(host)
		admitted := false
		for _, cidr := range gate.allowed {
			if ip != nil && cidr.Contains(ip) {
				admitted = true
				break
			}
		}
		if !admitted {
			return apperrs.ErrForbidden.Wrap(Error.New("admin access not allowed from this network"))
		}
	}

	if gate.readOnly.Load() && isWrite(r.Method) {
		if gate.breakGlassValid(r, principal) {
			gate.log.Warn("break-glass write admitted",
				zap.String("path", r.URL.Path),
				zap.String("org_id", principal.OrgID.String()),
				zap.String("user_id", principal.UserID.String()))
			return nil
		}
		return apperrs.ErrConflict.Wrap(Error.New("admin surface is read-only"))
	}
	return nil
}

// breakGlassValid accepts a short-TTL break-glass token minted for the
// same org.
func (gate *adminGate) breakGlassValid(r *http.Request, principal tenant.Principal) bool {
	raw := r.Header.Get("X-Break-Glass")
	if raw == "" {
		return false
	}
	claims, err := gate.signer.VerifyScope(raw, consoleauth.ScopeBreakGlass, time.Now())
	if err != nil {
		return false
	}
	return claims.OrgID == principal.OrgID
}

func isWrite(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// requireAdmin wraps admin handlers with authentication, the entitlement
// check and the safety gate.
func (server *Server) requireAdmin(action entitlements.Action, handler func(w http.ResponseWriter, r *http.Request, principal tenant.Principal)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := requireAction(r, action)
		if err != nil {
			server.serveProblem(w, r, err)
			return
		}
		if err := server.gate.check(r, principal); err != nil {
			server.serveProblem(w, r, err)
			return
		}
		handler(w, r, principal)
	}
}
