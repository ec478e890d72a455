// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package web

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/brightbroom/brightbroom/platform/apperrs"
	"github.com/brightbroom/brightbroom/platform/console"
	"github.com/brightbroom/brightbroom/platform/tenant"
)

func (server *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string    `json:"email"`
		Password string    `json:"password"`
		OrgID    uuid.UUID `json:"org_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		server.serveProblem(w, r, err)
		return
	}
	orgID := body.OrgID
	if orgID == uuid.Nil {
		orgID = tenant.DefaultOrgID
	}

	pair, err := server.services.Console.Authenticate(r.Context(), orgID, body.Email, body.Password)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusOK, renderSession(pair))
}

func (server *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &body); err != nil {
		server.serveProblem(w, r, err)
		return
	}
	if body.RefreshToken == "" {
		server.serveProblem(w, r, apperrs.ErrValidation.Wrap(Error.New("refresh_token is required")))
		return
	}

	pair, err := server.services.Console.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusOK, renderSession(pair))
}

func (server *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	principal, err := requirePrincipal(r, tenant.KindOrgUser)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	if principal.SessionID == uuid.Nil {
		// operator Basic credentials have no session to revoke
		server.serveJSON(w, http.StatusNoContent, nil)
		return
	}
	if err := server.services.Console.Revoke(r.Context(), principal.SessionID, "logout"); err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusNoContent, nil)
}

func (server *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	principal, err := requirePrincipal(r, tenant.KindOrgUser)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	if principal.UserID == uuid.Nil {
		server.serveProblem(w, r, apperrs.ErrForbidden.Wrap(Error.New("operator credentials have no password here")))
		return
	}

	var body struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		server.serveProblem(w, r, err)
		return
	}
	if err := server.services.Console.ChangePassword(r.Context(), principal.UserID, body.CurrentPassword, body.NewPassword); err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusNoContent, nil)
}

func renderSession(pair *console.SessionPair) map[string]interface{} {
	return map[string]interface{}{
		"access_token":         pair.AccessToken,
		"refresh_token":        pair.RefreshToken,
		"access_expires_at":    pair.AccessExpiresAt.UTC(),
		"refresh_expires_at":   pair.RefreshExpiresAt.UTC(),
		"must_change_password": pair.MustChange,
	}
}
