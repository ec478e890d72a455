// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package web

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brightbroom/brightbroom/platform/apperrs"
	"github.com/brightbroom/brightbroom/platform/console"
	"github.com/brightbroom/brightbroom/platform/console/consoleauth"
	"github.com/brightbroom/brightbroom/platform/entitlements"
	"github.com/brightbroom/brightbroom/platform/tenant"
)

// resolvePrincipal attaches the request principal. Credential kinds are
// tried in privilege order: admin-operator Basic, org-user JWT, worker
// scope token, client magic link. Absence of credentials is not an error
// here; protected routes enforce presence themselves.
func (server *Server) resolvePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := server.principalFrom(r)
		if err != nil {
			server.serveProblem(w, r, err)
			return
		}
		if principal.Kind != tenant.KindNone {
			r = r.WithContext(tenant.WithPrincipal(r.Context(), principal))
		}
		next.ServeHTTP(w, r)
	})
}

func (server *Server) principalFrom(r *http.Request) (tenant.Principal, error) {
	// admin-operator Basic credentials win over everything
	if user, pass, ok := r.BasicAuth(); ok && server.config.AdminLogin != "" {
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(server.config.AdminLogin)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(server.config.AdminPassword)) == 1
		if !userOK || !passOK {
			return tenant.Principal{}, apperrs.ErrUnauthenticated.Wrap(Error.New("invalid operator credentials"))
		}
		return tenant.Principal{
			Kind:  tenant.KindAdminOperator,
			OrgID: server.adminOrg(r),
			Role:  string(console.RoleOwner),
		}, nil
	}

	raw := bearerToken(r)
	if raw != "" {
		// org-user access JWTs have three dot separated segments
		if strings.Count(raw, ".") == 2 {
			claims, err := server.signer.VerifyAccess(raw)
			if err != nil {
				return tenant.Principal{}, apperrs.ErrUnauthenticated.Wrap(err)
			}
			return tenant.Principal{
				Kind:      tenant.KindOrgUser,
				OrgID:     claims.OrgID,
				UserID:    claims.UserID,
				SessionID: claims.SessionID,
				Role:      claims.Role,
			}, nil
		}
		if claims, err := server.signer.VerifyScope(raw, consoleauth.ScopeWorker, time.Now()); err == nil {
			return tenant.Principal{
				Kind:   tenant.KindWorker,
				OrgID:  claims.OrgID,
				UserID: claims.SubjectID,
				TeamID: claims.TeamID,
			}, nil
		}
		return tenant.Principal{}, apperrs.ErrUnauthenticated.Wrap(Error.New("unrecognized bearer token"))
	}

	// client magic links arrive as a query token on portal routes
	if raw := r.URL.Query().Get("access"); raw != "" {
		claims, err := server.signer.VerifyScope(raw, consoleauth.ScopeClient, time.Now())
		if err != nil {
			return tenant.Principal{}, apperrs.ErrUnauthenticated.Wrap(err)
		}
		return tenant.Principal{
			Kind:   tenant.KindClient,
			OrgID:  claims.OrgID,
			LeadID: claims.LeadID,
		}, nil
	}

	// test override, never honored in production
	if server.config.Environment != "production" {
		if override := r.Header.Get("X-Test-Org"); override != "" {
			orgID, err := uuid.Parse(override)
			if err != nil {
				return tenant.Principal{}, apperrs.ErrValidation.Wrap(Error.New("invalid X-Test-Org"))
			}
			return tenant.Principal{
				Kind:  tenant.KindOrgUser,
				OrgID: orgID,
				Role:  string(console.RoleOwner),
			}, nil
		}
	}

	return tenant.Principal{}, nil
}

// adminOrg selects the org an operator acts on; single-tenant deployments
// fall through to the default org.
func (server *Server) adminOrg(r *http.Request) uuid.UUID {
	if raw := r.Header.Get("X-Org-Id"); raw != "" {
		if orgID, err := uuid.Parse(raw); err == nil {
			return orgID
		}
	}
	return tenant.DefaultOrgID
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// requirePrincipal enforces an authenticated caller of at least the given
// kind.
func requirePrincipal(r *http.Request, minimum tenant.Kind) (tenant.Principal, error) {
	principal, ok := tenant.FromContext(r.Context())
	if !ok || principal.Kind == tenant.KindNone {
		return tenant.Principal{}, apperrs.ErrUnauthenticated.Wrap(Error.New("authentication required"))
	}
	if principal.Kind < minimum {
		return tenant.Principal{}, apperrs.ErrForbidden.Wrap(Error.New("insufficient credentials"))
	}
	return principal, nil
}

// requireAction enforces an org-user (or operator) whose role permits the
// action.
func requireAction(r *http.Request, action entitlements.Action) (tenant.Principal, error) {
	principal, err := requirePrincipal(r, tenant.KindOrgUser)
	if err != nil {
		return tenant.Principal{}, err
	}
	if err := entitlements.Require(principal.Role, action); err != nil {
		return tenant.Principal{}, err
	}
	return principal, nil
}
