// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package web

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/brightbroom/brightbroom/platform/apperrs"
	"github.com/brightbroom/brightbroom/platform/booking"
	"github.com/brightbroom/brightbroom/platform/entitlements"
	"github.com/brightbroom/brightbroom/platform/photos"
	"github.com/brightbroom/brightbroom/platform/tenant"
)

// registerWorkerRoutes mounts the field worker surface. Workers carry a
// team-bound scope token; org users pass through as well.
func (server *Server) registerWorkerRoutes(v1 *mux.Router) {
	worker := v1.PathPrefix("/worker").Subrouter()
	worker.Use(server.limitGroup("portal"))

	worker.HandleFunc("/schedule", server.handleWorkerSchedule).Methods(http.MethodGet)
	worker.HandleFunc("/bookings/{id}/start", server.handleWorkerStart).Methods(http.MethodPost)
	worker.HandleFunc("/bookings/{id}/complete", server.handleWorkerComplete).Methods(http.MethodPost)
	worker.HandleFunc("/bookings/{id}/photos", server.handleWorkerUploadPhoto).Methods(http.MethodPost)
}

// registerClientRoutes mounts the magic-link client portal.
func (server *Server) registerClientRoutes(v1 *mux.Router) {
	portal := v1.PathPrefix("/portal").Subrouter()
	portal.Use(server.limitGroup("portal"))

	portal.HandleFunc("", server.handlePortal).Methods(http.MethodGet)
	portal.HandleFunc("/bookings/{id}/cancel", server.handlePortalCancel).Methods(http.MethodPost)
}

// registerPhotoRoutes mounts the authenticated photo surface; the actual
// bytes move through the public download endpoint via short-lived tokens.
func (server *Server) registerPhotoRoutes(v1 *mux.Router) {
	group := v1.NewRoute().Subrouter()
	group.Use(server.limitGroup("portal"))

	group.HandleFunc("/bookings/{id}/photos", server.handleListPhotos).Methods(http.MethodGet)
	group.HandleFunc("/photos/{id}/download-token", server.handleIssuePhotoToken).Methods(http.MethodGet)
	group.HandleFunc("/photos/{id}", server.handleDeletePhoto).Methods(http.MethodDelete)
}

// workerBooking loads the booking and checks the worker is on its team.
// Org users and operators skip the team check.
func (server *Server) workerBooking(r *http.Request, principal tenant.Principal, id uuid.UUID) (*booking.Booking, error) {
	target, err := server.services.Bookings.Get(r.Context(), principal.OrgID, id)
	if err != nil {
		return nil, err
	}
	if principal.Kind < tenant.KindOrgUser && target.TeamID != principal.TeamID {
		return nil, apperrs.ErrForbidden.Wrap(Error.New("booking belongs to another team"))
	}
	return target, nil
}

func (server *Server) handleWorkerSchedule(w http.ResponseWriter, r *http.Request) {
	principal, err := requirePrincipal(r, tenant.KindWorker)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}

	from := time.Now().UTC().Truncate(24 * time.Hour)
	to := from.AddDate(0, 0, 7)

	var upcoming []map[string]interface{}
	for _, status := range []booking.Status{booking.StatusConfirmed, booking.StatusInProgress} {
		list, err := server.services.Bookings.List(r.Context(), principal.OrgID, status, 200, 0)
		if err != nil {
			server.serveProblem(w, r, err)
			return
		}
		for i := range list {
			b := &list[i]
			if principal.TeamID != uuid.Nil && b.TeamID != principal.TeamID {
				continue
			}
			if b.StartsAt.Before(from) || !b.StartsAt.Before(to) {
				continue
			}
			upcoming = append(upcoming, renderBooking(b))
		}
	}
	server.serveJSON(w, http.StatusOK, map[string]interface{}{"bookings": upcoming})
}

func (server *Server) handleWorkerStart(w http.ResponseWriter, r *http.Request) {
	principal, err := requirePrincipal(r, tenant.KindWorker)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	if _, err := server.workerBooking(r, principal, id); err != nil {
		server.serveProblem(w, r, err)
		return
	}
	if err := server.services.Bookings.Start(r.Context(), principal.OrgID, id); err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": booking.StatusInProgress})
}

func (server *Server) handleWorkerComplete(w http.ResponseWriter, r *http.Request) {
	principal, err := requirePrincipal(r, tenant.KindWorker)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	if _, err := server.workerBooking(r, principal, id); err != nil {
		server.serveProblem(w, r, err)
		return
	}
	if err := server.services.Bookings.Complete(r.Context(), principal.OrgID, id); err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": booking.StatusDone})
}

// handleWorkerUploadPhoto accepts the raw image body; metadata travels in
// headers and the query string so the body stays streamable.
func (server *Server) handleWorkerUploadPhoto(w http.ResponseWriter, r *http.Request) {
	principal, err := requirePrincipal(r, tenant.KindWorker)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	if _, err := server.workerBooking(r, principal, id); err != nil {
		server.serveProblem(w, r, err)
		return
	}

	photo, err := server.services.Photos.Upload(r.Context(), principal.OrgID, photos.UploadPhoto{
		BookingID:  id,
		MIME:       r.Header.Get("Content-Type"),
		Size:       r.ContentLength,
		Caption:    r.URL.Query().Get("caption"),
		UploadedBy: principal.UserID,
		Body:       r.Body,
	})
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusCreated, renderPhoto(photo))
}

func (server *Server) handlePortal(w http.ResponseWriter, r *http.Request) {
	principal, err := requirePrincipal(r, tenant.KindClient)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	leadID := principal.LeadID
	if leadID == uuid.Nil {
		// org users inspect a portal by lead id
		leadID, err = uuid.Parse(r.URL.Query().Get("lead_id"))
		if err != nil {
			server.serveProblem(w, r, apperrs.ErrValidation.Wrap(Error.New("lead_id is required")))
			return
		}
	}

	prospect, err := server.services.Leads.Get(r.Context(), principal.OrgID, leadID)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	credits, err := server.services.Leads.CreditsFor(r.Context(), principal.OrgID, leadID)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}

	server.serveJSON(w, http.StatusOK, map[string]interface{}{
		"lead":    renderLead(prospect),
		"credits": credits,
	})
}

// handlePortalCancel lets the client cancel their own booking.
func (server *Server) handlePortalCancel(w http.ResponseWriter, r *http.Request) {
	principal, err := requirePrincipal(r, tenant.KindClient)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}

	target, err := server.services.Bookings.Get(r.Context(), principal.OrgID, id)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	if principal.Kind == tenant.KindClient && target.LeadID != principal.LeadID {
		server.serveProblem(w, r, apperrs.ErrForbidden.Wrap(Error.New("booking belongs to another client")))
		return
	}
	if err := server.services.Bookings.Cancel(r.Context(), principal.OrgID, id); err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": booking.StatusCancelled})
}

func (server *Server) handleListPhotos(w http.ResponseWriter, r *http.Request) {
	principal, err := requirePrincipal(r, tenant.KindClient)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}

	target, err := server.services.Bookings.Get(r.Context(), principal.OrgID, id)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	caller := callerFrom(principal)
	if !caller.Admin && target.TeamID != caller.TeamID && target.LeadID != caller.LeadID {
		server.serveProblem(w, r, apperrs.ErrForbidden.Wrap(Error.New("not a participant of this booking")))
		return
	}

	list, err := server.services.Photos.ListForBooking(r.Context(), principal.OrgID, id)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	rendered := make([]map[string]interface{}, 0, len(list))
	for i := range list {
		rendered = append(rendered, renderPhoto(&list[i]))
	}
	server.serveJSON(w, http.StatusOK, map[string]interface{}{"photos": rendered})
}

// handleIssuePhotoToken mints the short-lived download token; the photo
// service authorizes the caller against the booking.
func (server *Server) handleIssuePhotoToken(w http.ResponseWriter, r *http.Request) {
	principal, err := requirePrincipal(r, tenant.KindClient)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}

	token, err := server.services.Photos.IssueDownloadToken(r.Context(), principal.OrgID, id, callerFrom(principal), r.UserAgent())
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusOK, map[string]interface{}{
		"token":        token,
		"download_url": "/v1/photos/download?token=" + token,
	})
}

func (server *Server) handleDeletePhoto(w http.ResponseWriter, r *http.Request) {
	principal, err := requireAction(r, entitlements.PhotoWrite)
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		server.serveProblem(w, r, err)
		return
	}
	if err := server.services.Photos.Delete(r.Context(), principal.OrgID, id); err != nil {
		server.serveProblem(w, r, err)
		return
	}
	server.serveJSON(w, http.StatusNoContent, nil)
}

func callerFrom(principal tenant.Principal) photos.Caller {
	return photos.Caller{
		Admin:  principal.Kind >= tenant.KindOrgUser,
		TeamID: principal.TeamID,
		LeadID: principal.LeadID,
	}
}

func renderPhoto(photo *photos.Photo) map[string]interface{} {
	return map[string]interface{}{
		"id":         photo.ID,
		"booking_id": photo.BookingID,
		"mime":       photo.MIME,
		"size_bytes": photo.SizeBytes,
		"caption":    photo.Caption,
		"created_at": photo.CreatedAt.UTC(),
	}
}
