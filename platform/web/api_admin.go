// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/brightbroom/brightbroom/platform/apperrs"
	"github.com/brightbroom/brightbroom/platform/booking"
	"github.com/brightbroom/brightbroom/platform/console"
	"github.com/brightbroom/brightbroom/platform/console/consoleauth"
	"github.com/brightbroom/brightbroom/platform/entitlements"
	"github.com/brightbroom/brightbroom/platform/invoice"
	"github.com/brightbroom/brightbroom/platform/lead"
	"github.com/brightbroom/brightbroom/platform/outbox"
	"github.com/brightbroom/brightbroom/platform/tenant"
)

const (
	breakGlassTTL  = 15 * time.Minute
	magicLinkTTL   = 7 * 24 * time.Hour
	workerTokenTTL = 12 * time.Hour
)

// registerAdminRoutes mounts the console surface. Every write goes through
// the idempotency layer and the admin safety gate.
func (server *Server) registerAdminRoutes(v1 *mux.Router) {
	admin := v1.PathPrefix("/admin").Subrouter()
	admin.Use(server.limitGroup("admin"))
	admin.Use(server.requireIdempotency)

	admin.HandleFunc("/leads", server.requireAdmin(entitlements.LeadRead, server.adminListLeads)).Methods(http.MethodGet)
	admin.HandleFunc("/leads/{id}/status", server.requireAdmin(entitlements.LeadWrite, server.adminUpdateLeadStatus)).Methods(http.MethodPost)
	admin.HandleFunc("/leads/{id}/credits", server.requireAdmin(entitlements.LeadRead, server.adminListCredits)).Methods(http.MethodGet)

	admin.HandleFunc("/bookings", server.requireAdmin(entitlements.BookingRead, server.adminListBookings)).Methods(http.MethodGet)
	admin.HandleFunc("/bookings/{id}/confirm", server.requireAdmin(entitlements.BookingWrite, server.adminTransitionBooking(booking.StatusConfirmed))).Methods(http.MethodPost)
	admin.HandleFunc("/bookings/{id}/cancel", server.requireAdmin(entitlements.BookingWrite, server.adminTransitionBooking(booking.StatusCancelled))).Methods(http.MethodPost)
	admin.HandleFunc("/bookings/{id}/start", server.requireAdmin(entitlements.BookingWrite, server.adminTransitionBooking(booking.StatusInProgress))).Methods(http.MethodPost)
	admin.HandleFunc("/bookings/{id}/complete", server.requireAdmin(entitlements.BookingWrite, server.adminTransitionBooking(booking.StatusDone))).Methods(http.MethodPost)
	admin.HandleFunc("/bookings/{id}/reschedule", server.requireAdmin(entitlements.BookingWrite, server.adminRescheduleBooking)).Methods(http.MethodPost)

	admin.HandleFunc("/orders/{bookingID}/invoice", server.requireAdmin(entitlements.InvoiceWrite, server.adminCreateInvoice)).Methods(http.MethodPost)
	admin.HandleFunc("/invoices", server.requireAdmin(entitlements.InvoiceRead, server.adminListInvoices)).Methods(http.MethodGet)
	admin.HandleFunc("/invoices/{id}/send", server.requireAdmin(entitlements.InvoiceWrite, server.adminSendInvoice)).Methods(http.MethodPost)
	admin.HandleFunc("/invoices/{id}/void", server.requireAdmin(entitlements.InvoiceWrite, server.adminVoidInvoice)).Methods(http.MethodPost)
	admin.HandleFunc("/invoices/{id}/payments", server.requireAdmin(entitlements.PaymentRecord, server.adminRecordPayment)).Methods(http.MethodPost)

	admin.HandleFunc("/outbox/dead", server.requireAdmin(entitlements.OutboxRead, server.adminListDeadEvents)).Methods(http.MethodGet)
	admin.HandleFunc("/outbox/{id}/replay", server.requireAdmin(entitlements.OutboxReplay, server.adminReplayEvent)).Methods(http.MethodPost)
	admin.HandleFunc("/email-scan", server.requireAdmin(entitlements.OutboxRead, server.adminEmailScan)).Methods(http.MethodGet)

	admin.HandleFunc("/jobs", server.requireAdmin(entitlements.ConfigRead, server.adminJobStatus)).Methods(http.MethodGet)
	admin.HandleFunc("/jobs/{name}/trigger", server.requireAdmin(entitlements.ConfigWrite, server.adminTriggerJob)).Methods(http.MethodPost)
	admin.HandleFunc("/pricing/reload", server.requireAdmin(entitlements.ConfigWrite, server.adminReloadPricing)).Methods(http.MethodPost)

	admin.HandleFunc("/config", server.requireAdmin(entitlements.ConfigRead, server.adminShowConfig)).Methods(http.MethodGet)
	admin.HandleFunc("/read-only", server.requireAdmin(entitlements.ConfigWrite, server.adminSetReadOnly)).Methods(http.MethodPost)
	admin.HandleFunc("/feature-flags", server.requireAdmin(entitlements.ConfigRead, server.adminListFlags)).Methods(http.MethodGet)
	admin.HandleFunc("/feature-flags", server.requireAdmin(entitlements.ConfigWrite, server.adminSetFlag)).Methods(http.MethodPost)
	admin.HandleFunc("/break-glass/start", server.requireAdmin(entitlements.BreakGlass, server.adminStartBreakGlass)).Methods(http.MethodPost)

	admin.HandleFunc("/users", server.requireAdmin(entitlements.IAMWrite, server.adminInviteUser)).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}/reset-password", server.requireAdmin(entitlements.IAMReset, server.adminResetPassword)).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}/logout-all", server.requireAdmin(entitlements.IAMWrite, server.adminLogoutAll)).Methods(http.MethodPost)

	admin.HandleFunc("/magic-link", server.requireAdmin(entitlements.LeadWrite, server.adminIssueMagicLink)).Methods(http.MethodPost)
	admin.HandleFunc("/worker-tokens", server.requireAdmin(entitlements.TeamWrite, server.adminIssueWorkerToken)).Methods(http.MethodPost)
}

func pageParams(r *http.Request) (limit, offset int) {
	limit = 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		return uuid.Nil, apperrs.ErrValidation.Wrap(Error.New("malformed %s", name))
	}
	return id, nil
}

func (server *Server) adminListLeads(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	limit, offset := pageParams(r)
	status := lead.Status(r.URL.Query().Get("status"))

	leads, err := server.services.Leads.List(r.Context(), principal.OrgID, status, limit, offset)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	rendered := make([]map[string]interface{}, 0, len(leads))
	for i := range leads {
		full := renderLead(&leads[i])
		full["phone"] = leads[i].Phone
		full["email"] = leads[i].Email
		full["address"] = leads[i].Address
		rendered = append(rendered, full)
	}
	server.serveJSON(w, http.StatusOK, map[string]interface{}{"leads": rendered})
}

func (server *Server) adminUpdateLeadStatus(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	id, err := pathID(r, "id")
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	var body struct {
		Status lead.Status `json:"status"`
	}
	if err := decodeJSON(r, &body); err != nil {
		server.serveProblem(w, r, err)
		return
	}
	if err := server.services.Leads.UpdateStatus(r.Context(), principal.OrgID, id, body.Status); err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": body.Status})
}

func (server *Server) adminListCredits(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	id, err := pathID(r, "id")
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	credits, err := server.services.Leads.CreditsFor(r.Context(), principal.OrgID, id)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusOK, map[string]interface{}{"credits": credits})
}

func (server *Server) adminListBookings(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	limit, offset := pageParams(r)
	status := booking.Status(r.URL.Query().Get("status"))

	bookings, err := server.services.Bookings.List(r.Context(), principal.OrgID, status, limit, offset)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	rendered := make([]map[string]interface{}, 0, len(bookings))
	for i := range bookings {
		rendered = append(rendered, renderBooking(&bookings[i]))
	}
	server.serveJSON(w, http.StatusOK, map[string]interface{}{"bookings": rendered})
}

// adminTransitionBooking builds the handler for one lifecycle action; the
// transition table in the service decides whether the move is legal.
func (server *Server) adminTransitionBooking(to booking.Status) func(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	return func(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
		id, err := pathID(r, "id")
		if err != nil {
			server.serveProblem(w, r, err)
			return
		}

		switch to {
		case booking.StatusConfirmed:
			err = server.services.Bookings.Confirm(r.Context(), principal.OrgID, id)
		case booking.StatusCancelled:
			err = server.services.Bookings.Cancel(r.Context(), principal.OrgID, id)
		case booking.StatusInProgress:
			err = server.services.Bookings.Start(r.Context(), principal.OrgID, id)
		case booking.StatusDone:
			err = server.services.Bookings.Complete(r.Context(), principal.OrgID, id)
		default:
			err = apperrs.ErrValidation.Wrap(Error.New("unsupported transition"))
		}
		if err != nil {
			server.serveProblem(w, r, err)
			return
		}
		server.serveJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": to})
	}
}

func (server *Server) adminRescheduleBooking(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	id, err := pathID(r, "id")
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	var body struct {
		StartsAt    time.Time `json:"starts_at"`
		DurationMin int       `json:"duration_min"`
	}
	if err := decodeJSON(r, &body); err != nil {
		server.serveProblem(w, r, err)
		return
	}
	if err := server.services.Bookings.Reschedule(r.Context(), principal.OrgID, id, body.StartsAt, body.DurationMin); err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusOK, map[string]interface{}{
		"id":           id,
		"starts_at":    body.StartsAt.UTC(),
		"duration_min": body.DurationMin,
	})
}

func (server *Server) adminCreateInvoice(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	bookingID, err := pathID(r, "bookingID")
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	var body struct {
		Currency string              `json:"currency"`
		Items    []invoice.ItemInput `json:"items"`
	}
	if err := decodeJSON(r, &body); err != nil {
		server.serveProblem(w, r, err)
		return
	}

	created, err := server.services.Invoices.Create(r.Context(), principal.OrgID, invoice.CreateInvoice{
		BookingID: bookingID,
		Currency:  body.Currency,
		Items:     body.Items,
	})
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusCreated, map[string]interface{}{
		"id":          created.ID,
		"number":      created.Number,
		"status":      created.Status,
		"total_cents": created.TotalCents,
		"due_at":      created.DueAt.UTC(),
	})
}

func (server *Server) adminListInvoices(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	limit, offset := pageParams(r)
	status := invoice.Status(r.URL.Query().Get("status"))

	invoices, err := server.services.Invoices.List(r.Context(), principal.OrgID, status, limit, offset)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	rendered := make([]map[string]interface{}, 0, len(invoices))
	for i := range invoices {
		current := &invoices[i]
		rendered = append(rendered, map[string]interface{}{
			"id":          current.ID,
			"booking_id":  current.BookingID,
			"number":      current.Number,
			"status":      current.Status,
			"total_cents": current.TotalCents,
			"paid_cents":  current.PaidCents,
			"due_at":      current.DueAt.UTC(),
		})
	}
	server.serveJSON(w, http.StatusOK, map[string]interface{}{"invoices": rendered})
}

func (server *Server) adminSendInvoice(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	id, err := pathID(r, "id")
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	var body struct {
		Recipient string `json:"recipient"`
	}
	if err := decodeJSON(r, &body); err != nil {
		server.serveProblem(w, r, err)
		return
	}
	if strings.TrimSpace(body.Recipient) == "" {
		server.serveProblem(w, r, apperrs.ErrValidation.Wrap(Error.New("recipient is required")))
		return
	}

	result, err := server.services.Invoices.Send(r.Context(), principal.OrgID, id, body.Recipient)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusOK, map[string]interface{}{
		"id":         result.Invoice.ID,
		"status":     result.Invoice.Status,
		"public_url": result.PublicURL,
	})
}

func (server *Server) adminVoidInvoice(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	id, err := pathID(r, "id")
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	if err := server.services.Invoices.Void(r.Context(), principal.OrgID, id); err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": invoice.StatusVoid})
}

func (server *Server) adminRecordPayment(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	id, err := pathID(r, "id")
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	var body struct {
		AmountCents int64  `json:"amount_cents"`
		Method      string `json:"method"`
		Note        string `json:"note"`
	}
	if err := decodeJSON(r, &body); err != nil {
		server.serveProblem(w, r, err)
		return
	}

	updated, err := server.services.Invoices.RecordPayment(r.Context(), principal.OrgID, id, body.AmountCents, body.Method, body.Note)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusOK, map[string]interface{}{
		"id":         updated.ID,
		"status":     updated.Status,
		"paid_cents": updated.PaidCents,
	})
}

func (server *Server) adminListDeadEvents(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	limit, _ := pageParams(r)
	kind := outbox.Kind(r.URL.Query().Get("kind"))

	events, err := server.services.Outbox.ListDead(r.Context(), principal.OrgID, kind, limit)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusOK, map[string]interface{}{"events": renderEvents(events)})
}

func (server *Server) adminReplayEvent(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	id, err := pathID(r, "id")
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	replayed, err := server.services.Outbox.Replay(r.Context(), principal.OrgID, id)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	if !replayed {
		server.serveProblem(w, r, apperrs.ErrNotFound.Wrap(Error.New("no dead event to replay")))
		return
	}
	server.serveJSON(w, http.StatusOK, map[string]interface{}{"id": id, "replayed": true})
}

// adminEmailScan lists dead email events so operators can see which
// notifications never left the building.
func (server *Server) adminEmailScan(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	limit, _ := pageParams(r)

	events, err := server.services.Outbox.ListDead(r.Context(), principal.OrgID, outbox.KindEmail, limit)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusOK, map[string]interface{}{"emails": renderEvents(events)})
}

func renderEvents(events []outbox.Event) []map[string]interface{} {
	rendered := make([]map[string]interface{}, 0, len(events))
	for i := range events {
		event := &events[i]
		rendered = append(rendered, map[string]interface{}{
			"id":         event.ID,
			"kind":       event.Kind,
			"dedupe_key": event.DedupeKey,
			"attempts":   event.Attempts,
			"last_error": event.LastError,
			"created_at": event.CreatedAt.UTC(),
		})
	}
	return rendered
}

func (server *Server) adminJobStatus(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	if server.services.Jobs == nil {
		server.serveJSON(w, http.StatusOK, map[string]interface{}{"jobs": []interface{}{}})
		return
	}
	status, err := server.services.Jobs.Status(r.Context())
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusOK, map[string]interface{}{"jobs": status})
}

func (server *Server) adminTriggerJob(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	name := mux.Vars(r)["name"]
	if server.services.Jobs == nil || !server.services.Jobs.Trigger(name) {
		server.serveProblem(w, r, apperrs.ErrNotFound.Wrap(Error.New("unknown job %q", name)))
		return
	}
	server.audit.Event(r.Context(), "admin.job_triggered",
		zap.String("org_id", principal.OrgID.String()),
		zap.String("job", name))
	server.serveJSON(w, http.StatusOK, map[string]interface{}{"job": name, "triggered": true})
}

func (server *Server) adminReloadPricing(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	if err := server.services.Pricing.Reload(); err != nil {
		server.serveProblem(w, r, apperrs.ErrValidation.Wrap(err))
		return
	}
	server.audit.Event(r.Context(), "admin.pricing_reloaded",
		zap.String("org_id", principal.OrgID.String()),
		zap.String("user_id", principal.UserID.String()))
	server.serveJSON(w, http.StatusOK, map[string]interface{}{"reloaded": true})
}

// adminShowConfig echoes the effective runtime configuration with secrets
// redacted.
func (server *Server) adminShowConfig(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	server.serveJSON(w, http.StatusOK, map[string]interface{}{
		"address":         server.config.Address,
		"environment":     server.config.Environment,
		"request_timeout": server.config.RequestTimeout.String(),
		"allowed_origin":  server.config.AllowedOrigin,
		"admin_login":     redact(server.config.AdminLogin),
		"admin_password":  redact(server.config.AdminPassword),
		"admin_safety": map[string]interface{}{
			"allowed_cidrs": server.config.AdminSafety.AllowedCIDRs,
			"read_only":     server.gate.ReadOnly(),
		},
	})
}

func redact(value string) string {
	if value == "" {
		return ""
	}
	return "[redacted]"
}

func (server *Server) adminSetReadOnly(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeJSON(r, &body); err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.gate.SetReadOnly(body.Enabled)
	server.audit.Event(r.Context(), "admin.read_only_set",
		zap.String("org_id", principal.OrgID.String()),
		zap.String("user_id", principal.UserID.String()),
		zap.Bool("enabled", body.Enabled))
	server.serveJSON(w, http.StatusOK, map[string]interface{}{"read_only": body.Enabled})
}

func (server *Server) adminListFlags(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	server.flagsMu.RLock()
	flags := make(map[string]bool, len(server.flags))
	for name, enabled := range server.flags {
		flags[name] = enabled
	}
	server.flagsMu.RUnlock()
	server.serveJSON(w, http.StatusOK, map[string]interface{}{"flags": flags})
}

func (server *Server) adminSetFlag(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	var body struct {
		Name    string `json:"name"`
		Enabled bool   `json:"enabled"`
	}
	if err := decodeJSON(r, &body); err != nil {
		server.serveProblem(w, r, err)
		return
	}
	if body.Name == "" {
		server.serveProblem(w, r, apperrs.ErrValidation.Wrap(Error.New("name is required")))
		return
	}
	server.flagsMu.Lock()
	server.flags[body.Name] = body.Enabled
	server.flagsMu.Unlock()

	server.audit.Event(r.Context(), "admin.flag_set",
		zap.String("org_id", principal.OrgID.String()),
		zap.String("flag", body.Name),
		zap.Bool("enabled", body.Enabled))
	server.serveJSON(w, http.StatusOK, map[string]interface{}{"name": body.Name, "enabled": body.Enabled})
}

// adminStartBreakGlass mints the override token that lets a named operator
// write through the read-only gate. The reason lands in the audit stream.
func (server *Server) adminStartBreakGlass(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &body); err != nil {
		server.serveProblem(w, r, err)
		return
	}
	if strings.TrimSpace(body.Reason) == "" {
		server.serveProblem(w, r, apperrs.ErrValidation.Wrap(Error.New("reason is required")))
		return
	}

	expiresAt := time.Now().Add(breakGlassTTL)
	token, err := server.signer.SignScope(consoleauth.ScopeClaims{
		Scope:     consoleauth.ScopeBreakGlass,
		OrgID:     principal.OrgID,
		SubjectID: principal.UserID,
		ExpiresAt: expiresAt.Unix(),
	})
	if err != nil {
		server.serveProblem(w, r, apperrs.ErrDependency.Wrap(err))
		return
	}

	server.audit.Event(r.Context(), "admin.break_glass_started",
		zap.String("org_id", principal.OrgID.String()),
		zap.String("user_id", principal.UserID.String()),
		zap.String("reason", body.Reason))
	server.serveJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expiresAt.UTC(),
	})
}

func (server *Server) adminInviteUser(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	var body struct {
		Email             string `json:"email"`
		TemporaryPassword string `json:"temporary_password"`
		Role              string `json:"role"`
	}
	if err := decodeJSON(r, &body); err != nil {
		server.serveProblem(w, r, err)
		return
	}

	user, err := server.services.Console.InviteUser(r.Context(), console.CreateUser{
		OrgID:              principal.OrgID,
		Email:              body.Email,
		Password:           body.TemporaryPassword,
		Role:               console.Role(strings.ToUpper(body.Role)),
		MustChangePassword: true,
	})
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusCreated, map[string]interface{}{
		"id":    user.ID,
		"email": user.Email,
	})
}

func (server *Server) adminResetPassword(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	id, err := pathID(r, "id")
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	var body struct {
		TemporaryPassword string `json:"temporary_password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		server.serveProblem(w, r, err)
		return
	}
	if err := server.services.Console.AdminResetPassword(r.Context(), id, body.TemporaryPassword); err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusOK, map[string]interface{}{"id": id, "reset": true})
}

func (server *Server) adminLogoutAll(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	id, err := pathID(r, "id")
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	count, err := server.services.Console.RevokeAllForUser(r.Context(), id, "admin_logout")
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusOK, map[string]interface{}{"id": id, "revoked": count})
}

// adminIssueMagicLink mints a client portal link for a lead.
func (server *Server) adminIssueMagicLink(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	var body struct {
		LeadID uuid.UUID `json:"lead_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		server.serveProblem(w, r, err)
		return
	}
	// existence check keeps links from dangling
	if _, err := server.services.Leads.Get(r.Context(), principal.OrgID, body.LeadID); err != nil {
		server.serveProblem(w, r, err)
		return
	}

	expiresAt := time.Now().Add(magicLinkTTL)
	token, err := server.signer.SignScope(consoleauth.ScopeClaims{
		Scope:     consoleauth.ScopeClient,
		OrgID:     principal.OrgID,
		SubjectID: body.LeadID,
		LeadID:    body.LeadID,
		ExpiresAt: expiresAt.Unix(),
	})
	if err != nil {
		server.serveProblem(w, r, apperrs.ErrDependency.Wrap(err))
		return
	}

	server.audit.Event(r.Context(), "admin.magic_link_issued",
		zap.String("org_id", principal.OrgID.String()),
		zap.String("lead_id", body.LeadID.String()))
	server.serveJSON(w, http.StatusCreated, map[string]interface{}{
		"url":        "/v1/portal?access=" + token,
		"expires_at": expiresAt.UTC(),
	})
}

// adminIssueWorkerToken mints the bearer token a field worker uses on the
// worker surface, bound to their team.
func (server *Server) adminIssueWorkerToken(w http.ResponseWriter, r *http.Request, principal tenant.Principal) {
	var body struct {
		UserID uuid.UUID `json:"user_id"`
		TeamID uuid.UUID `json:"team_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		server.serveProblem(w, r, err)
		return
	}
	if body.TeamID == uuid.Nil {
		server.serveProblem(w, r, apperrs.ErrValidation.Wrap(Error.New("team_id is required")))
		return
	}

	expiresAt := time.Now().Add(workerTokenTTL)
	token, err := server.signer.SignScope(consoleauth.ScopeClaims{
		Scope:     consoleauth.ScopeWorker,
		OrgID:     principal.OrgID,
		SubjectID: body.UserID,
		TeamID:    body.TeamID,
		ExpiresAt: expiresAt.Unix(),
	})
	if err != nil {
		server.serveProblem(w, r, apperrs.ErrDependency.Wrap(err))
		return
	}

	server.audit.Event(r.Context(), "admin.worker_token_issued",
		zap.String("org_id", principal.OrgID.String()),
		zap.String("team_id", body.TeamID.String()))
	server.serveJSON(w, http.StatusCreated, map[string]interface{}{
		"token":      token,
		"expires_at": expiresAt.UTC(),
	})
}
