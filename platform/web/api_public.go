// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/brightbroom/brightbroom/platform/apperrs"
	"github.com/brightbroom/brightbroom/platform/booking"
	"github.com/brightbroom/brightbroom/platform/chat"
	"github.com/brightbroom/brightbroom/platform/console/consoleauth"
	"github.com/brightbroom/brightbroom/platform/invoice"
	"github.com/brightbroom/brightbroom/platform/lead"
	"github.com/brightbroom/brightbroom/platform/objectstore"
	"github.com/brightbroom/brightbroom/platform/pricing"
	"github.com/brightbroom/brightbroom/platform/tenant"
)

const (
	maxBodyBytes    = 1 << 20
	maxWebhookBytes = 64 << 10

	invoiceLinkTTL = time.Minute
)

// publicOrg resolves the org a public request acts on. Authenticated
// callers use their own org; anonymous visitors land on the default one.
func publicOrg(r *http.Request) uuid.UUID {
	if principal, ok := tenant.FromContext(r.Context()); ok {
		return principal.OrgID
	}
	return tenant.DefaultOrgID
}

// decodeJSON reads a bounded request body into dst.
func decodeJSON(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		return apperrs.ErrValidation.Wrap(Error.New("malformed request body: %v", err))
	}
	return nil
}

func (server *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var inputs pricing.Inputs
	if err := decodeJSON(r, &inputs); err != nil {
		server.serveProblem(w, r, err)
		return
	}
	estimate, err := server.services.Pricing.Estimate(inputs)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusOK, estimate)
}

func (server *Server) handleChatTurn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		State   chat.State `json:"state"`
		Message string     `json:"message"`
	}
	if err := decodeJSON(r, &body); err != nil {
		server.serveProblem(w, r, err)
		return
	}

	state, reply := chat.Turn(body.State, body.Message)

	response := struct {
		State chat.State `json:"state"`
		Reply chat.Reply `json:"reply"`
		// Estimate is attached once the conversation has enough facts.
		Estimate *pricing.Estimate `json:"estimate,omitempty"`
	}{State: state, Reply: reply}

	if state.BedsSet && state.BathsSet {
		if estimate, err := server.services.Pricing.Estimate(state.Inputs); err == nil {
			response.Estimate = estimate
		}
	}
	server.serveJSON(w, http.StatusOK, response)
}

func (server *Server) handleLeadIntake(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name             string          `json:"name"`
		Phone            string          `json:"phone"`
		Email            string          `json:"email"`
		Address          string          `json:"address"`
		Inputs           json.RawMessage `json:"inputs"`
		EstimateSnapshot json.RawMessage `json:"estimate_snapshot"`
		ReferredByCode   string          `json:"referred_by_code"`
	}
	if err := decodeJSON(r, &body); err != nil {
		server.serveProblem(w, r, err)
		return
	}

	created, err := server.services.Leads.Intake(r.Context(), publicOrg(r), lead.CreateLead{
		Name:             body.Name,
		Phone:            body.Phone,
		Email:            body.Email,
		Address:          body.Address,
		Inputs:           body.Inputs,
		EstimateSnapshot: body.EstimateSnapshot,
		ReferredByCode:   body.ReferredByCode,
	})
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusCreated, renderLead(created))
}

func (server *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	durationMin, err := strconv.Atoi(query.Get("duration_min"))
	if err != nil || durationMin <= 0 {
		server.serveProblem(w, r, apperrs.ErrValidation.Wrap(Error.New("duration_min is required")))
		return
	}

	from := time.Now().UTC().Truncate(24 * time.Hour)
	if raw := query.Get("from"); raw != "" {
		from, err = time.Parse("2006-01-02", raw)
		if err != nil {
			server.serveProblem(w, r, apperrs.ErrValidation.Wrap(Error.New("from must be a 2006-01-02 date")))
			return
		}
	}
	count := 7
	if raw := query.Get("days"); raw != "" {
		count, err = strconv.Atoi(raw)
		if err != nil || count < 1 || count > 14 {
			server.serveProblem(w, r, apperrs.ErrValidation.Wrap(Error.New("days must be between 1 and 14")))
			return
		}
	}
	days := make([]time.Time, 0, count)
	for i := 0; i < count; i++ {
		days = append(days, from.AddDate(0, 0, i))
	}

	slots, err := server.services.Bookings.FindSlots(r.Context(), publicOrg(r), days, durationMin)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusOK, map[string]interface{}{"slots": slots})
}

func (server *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var body struct {
		LeadID          uuid.UUID `json:"lead_id"`
		TeamID          uuid.UUID `json:"team_id"`
		StartsAt        time.Time `json:"starts_at"`
		DurationMin     int       `json:"duration_min"`
		TimeOnSiteHours float64   `json:"time_on_site_hours"`
	}
	if err := decodeJSON(r, &body); err != nil {
		server.serveProblem(w, r, err)
		return
	}
	if body.DurationMin == 0 && body.TimeOnSiteHours > 0 {
		body.DurationMin = int(body.TimeOnSiteHours * 60)
	}

	result, err := server.services.Bookings.Create(r.Context(), publicOrg(r), booking.CreateBooking{
		LeadID:      body.LeadID,
		TeamID:      body.TeamID,
		StartsAt:    body.StartsAt,
		DurationMin: body.DurationMin,
	})
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}

	response := renderBooking(result.Booking)
	if result.CheckoutURL != "" {
		response["checkout_url"] = result.CheckoutURL
	}
	server.serveJSON(w, http.StatusCreated, response)
}

func (server *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		server.serveProblem(w, r, apperrs.ErrValidation.Wrap(Error.Wrap(err)))
		return
	}

	result, err := server.services.Bookings.ProcessWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusOK, map[string]string{"result": result})
}

func (server *Server) handlePublicInvoice(w http.ResponseWriter, r *http.Request) {
	current, items, err := server.services.Invoices.GetByPublicToken(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusOK, renderInvoice(current, items))
}

// handlePublicInvoiceDocument serves a printable plain text rendering of
// the invoice behind the same token as the JSON view.
func (server *Server) handlePublicInvoiceDocument(w http.ResponseWriter, r *http.Request) {
	current, items, err := server.services.Invoices.GetByPublicToken(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}

	var doc strings.Builder
	fmt.Fprintf(&doc, "Invoice %s\n", current.Number)
	fmt.Fprintf(&doc, "Status: %s\n", current.Status)
	fmt.Fprintf(&doc, "Due: %s\n\n", current.DueAt.UTC().Format("January 2, 2006"))
	for _, item := range items {
		fmt.Fprintf(&doc, "%-40s %6.2f x %8s = %10s\n",
			item.Description, item.Qty,
			formatCents(item.UnitPriceCents, current.Currency),
			formatCents(item.TotalCents(), current.Currency))
	}
	fmt.Fprintf(&doc, "\nTotal: %s\n", formatCents(current.TotalCents, current.Currency))
	fmt.Fprintf(&doc, "Paid:  %s\n", formatCents(current.PaidCents, current.Currency))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", current.Number+".txt"))
	_, _ = io.WriteString(w, doc.String())
}

// handlePublicInvoiceSignedURL mints a short-lived single invoice link
// for embedding where the long-lived token must not travel.
func (server *Server) handlePublicInvoiceSignedURL(w http.ResponseWriter, r *http.Request) {
	current, _, err := server.services.Invoices.GetByPublicToken(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}

	expiresAt := time.Now().Add(invoiceLinkTTL)
	short, err := server.signer.SignScope(consoleauth.ScopeClaims{
		Scope:     consoleauth.ScopeInvoice,
		OrgID:     current.OrgID,
		SubjectID: current.ID,
		ExpiresAt: expiresAt.Unix(),
	})
	if err != nil {
		server.serveProblem(w, r, apperrs.ErrDependency.Wrap(err))
		return
	}
	server.serveJSON(w, http.StatusOK, map[string]interface{}{
		"url":        "/v1/i/s/" + short,
		"expires_at": expiresAt.UTC(),
	})
}

func (server *Server) handleShortInvoice(w http.ResponseWriter, r *http.Request) {
	claims, err := server.signer.VerifyScope(mux.Vars(r)["token"], consoleauth.ScopeInvoice, time.Now())
	if err != nil {
		server.serveProblem(w, r, apperrs.ErrUnauthenticated.Wrap(err))
		return
	}

	current, err := server.services.Invoices.Get(r.Context(), claims.OrgID, claims.SubjectID)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	if current.Status == invoice.StatusVoid {
		server.serveProblem(w, r, apperrs.ErrNotFound.Wrap(Error.New("invoice not found")))
		return
	}
	items, err := server.services.Invoices.Items(r.Context(), claims.OrgID, claims.SubjectID)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusOK, renderInvoice(current, items))
}

// handlePhotoDownload redeems a download token for the signed storage URL
// and redirects. The token, not this endpoint, carries the authorization.
func (server *Server) handlePhotoDownload(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		server.serveProblem(w, r, apperrs.ErrValidation.Wrap(Error.New("token is required")))
		return
	}
	url, err := server.services.Photos.RedeemDownloadToken(r.Context(), token, r.UserAgent())
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// handleObjectProxy serves objects for the filesystem backend; its signed
// URLs point back at this endpoint. Other backends sign URLs of their own.
func (server *Server) handleObjectProxy(w http.ResponseWriter, r *http.Request) {
	local, ok := server.services.Store.(*objectstore.Local)
	if !ok {
		server.serveProblem(w, r, apperrs.ErrNotFound.Wrap(Error.New("object proxy not enabled")))
		return
	}

	key := mux.Vars(r)["key"]
	query := r.URL.Query()
	if err := local.VerifySignature(key, query.Get("exp"), query.Get("sig"), time.Now()); err != nil {
		server.serveProblem(w, r, err)
		return
	}

	body, err := local.Open(r.Context(), key)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	defer func() { _ = body.Close() }()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "private, no-store")
	_, _ = io.Copy(w, body)
}

func formatCents(cents int64, currency string) string {
	return fmt.Sprintf("%.2f %s", float64(cents)/100, strings.ToUpper(currency))
}

func renderLead(l *lead.Lead) map[string]interface{} {
	return map[string]interface{}{
		"id":            l.ID,
		"name":          l.Name,
		"status":        l.Status,
		"referral_code": l.ReferralCode,
		"created_at":    l.CreatedAt.UTC(),
	}
}

func renderBooking(b *booking.Booking) map[string]interface{} {
	rendered := map[string]interface{}{
		"id":           b.ID,
		"lead_id":      b.LeadID,
		"team_id":      b.TeamID,
		"starts_at":    b.StartsAt.UTC(),
		"duration_min": b.DurationMin,
		"status":       b.Status,
		"created_at":   b.CreatedAt.UTC(),
	}
	if b.DepositRequired {
		rendered["deposit"] = map[string]interface{}{
			"required":     true,
			"reasons":      b.DepositReasons,
			"amount_cents": b.DepositCents,
			"paid_at":      b.DepositPaidAt,
		}
	}
	return rendered
}

func renderInvoice(current *invoice.Invoice, items []invoice.Item) map[string]interface{} {
	lines := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		lines = append(lines, map[string]interface{}{
			"description":      item.Description,
			"qty":              item.Qty,
			"unit_price_cents": item.UnitPriceCents,
			"tax_rate_bps":     item.TaxRateBps,
			"total_cents":      item.TotalCents(),
		})
	}
	return map[string]interface{}{
		"id":          current.ID,
		"number":      current.Number,
		"status":      current.Status,
		"currency":    current.Currency,
		"total_cents": current.TotalCents,
		"paid_cents":  current.PaidCents,
		"due_at":      current.DueAt.UTC(),
		"items":       lines,
	}
}
