// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package web

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/brightbroom/brightbroom/platform/apperrs"
	"github.com/brightbroom/brightbroom/private/requestid"
)

// Problem is the uniform error envelope (RFC 7807 shape).
type Problem struct {
	Type      string   `json:"type"`
	Title     string   `json:"title"`
	Status    int      `json:"status"`
	Detail    string   `json:"detail,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// problemClass maps one failure class to its wire form.
type problemClass struct {
	has    func(error) bool
	status int
	kind   string
	title  string
}

// problemClasses is the single translation table from the domain failure
// taxonomy to HTTP statuses. Order matters: first match wins.
var problemClasses = []problemClass{
	{apperrs.ErrValidation.Has, http.StatusUnprocessableEntity, "validation", "Invalid input"},
	{apperrs.ErrUnauthenticated.Has, http.StatusUnauthorized, "unauthenticated", "Authentication required"},
	{apperrs.ErrForbidden.Has, http.StatusForbidden, "forbidden", "Not permitted"},
	{apperrs.ErrPlanLimit.Has, http.StatusPaymentRequired, "plan-limit", "Plan limit exceeded"},
	{apperrs.ErrNotFound.Has, http.StatusNotFound, "not-found", "Not found"},
	{apperrs.ErrSlotTaken.Has, http.StatusConflict, "slot-taken", "Slot already reserved"},
	{apperrs.ErrStatusTransition.Has, http.StatusConflict, "status-transition", "Invalid status transition"},
	{apperrs.ErrIdempotencyMismatch.Has, http.StatusConflict, "idempotency-mismatch", "Idempotency key reused with a different request"},
	{apperrs.ErrConflict.Has, http.StatusConflict, "conflict", "Conflict"},
	{apperrs.ErrRateLimited.Has, http.StatusTooManyRequests, "rate-limited", "Too many requests"},
	{apperrs.ErrIntegration.Has, http.StatusBadRequest, "integration", "Integration rejected"},
	{apperrs.ErrDependency.Has, http.StatusServiceUnavailable, "dependency", "Service temporarily unavailable"},
}

// newProblem classifies err. Unknown errors become opaque 500s; their
// detail never leaks internals.
func newProblem(r *http.Request, err error) Problem {
	problem := Problem{
		Type:      "about:blank#internal",
		Title:     "Internal error",
		Status:    http.StatusInternalServerError,
		RequestID: requestid.FromContext(r.Context()),
	}
	for _, class := range problemClasses {
		if class.has(err) {
			problem.Type = "about:blank#" + class.kind
			problem.Title = class.title
			problem.Status = class.status
			problem.Detail = err.Error()
			return problem
		}
	}
	return problem
}

// serveProblem writes the error envelope for err.
func (server *Server) serveProblem(w http.ResponseWriter, r *http.Request, err error) {
	problem := newProblem(r, err)
	if problem.Status >= http.StatusInternalServerError {
		server.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", problem.RequestID),
			zap.Error(err))
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}

// serveJSON writes a success payload.
func (server *Server) serveJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}
