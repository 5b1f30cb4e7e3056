package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/liveqa/project/internal/app/events"
	"github.com/liveqa/project/internal/app/reminders"
	"github.com/liveqa/project/internal/docstore"
)

type createEventRequest struct {
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	StartTime time.Time `json:"start_time"`
	ImageURL  string    `json:"image_url"`
	AdminIDs  []string  `json:"admin_ids"`
	Guests    []string  `json:"guests"`
}

type eventResponse struct {
	Event    events.Event `json:"event"`
	Roles    events.Roles `json:"roles"`
	Notified bool         `json:"notified"`
}

func writeEventError(w http.ResponseWriter, h *Handler, op string, err error) {
	switch {
	case errors.Is(err, events.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, events.ErrNotAllowed):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, events.ErrInvalidTitle), errors.Is(err, events.ErrInvalidType), errors.Is(err, docstore.ErrInvalidCursor):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, reminders.ErrSignInRequired):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, reminders.ErrAlreadyStarted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, reminders.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.internalError(w, op, err)
	}
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	var (
		page events.Page
		err  error
	)
	if cursor := strings.TrimSpace(r.URL.Query().Get("cursor")); cursor != "" {
		page, err = h.Events.ListAfter(r.Context(), cursor, limit)
	} else {
		page, err = h.Events.List(r.Context(), limit)
	}
	if err != nil {
		writeEventError(w, h, "list events", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleCountEvents(w http.ResponseWriter, r *http.Request) {
	n, err := h.Events.Count(r.Context())
	if err != nil {
		writeEventError(w, h, "count events", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (h *Handler) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	e, err := h.Events.Get(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeEventError(w, h, "get event", err)
		return
	}
	actor, roles := h.actorFor(r.Context(), e)
	writeJSON(w, http.StatusOK, eventResponse{Event: e, Roles: roles, Notified: actor.SignedIn() && e.Notified(actor.UserID)})
}

func (h *Handler) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromContext(r.Context())
	p, err := h.Identity.Profile(r.Context(), claims.Subject)
	if err != nil || !p.IsAdmin {
		writeError(w, http.StatusForbidden, events.ErrNotAllowed.Error())
		return
	}
	var req createEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	e, err := h.Events.Create(r.Context(), events.Event{
		Title:     req.Title,
		Type:      events.Type(strings.ToUpper(strings.TrimSpace(req.Type))),
		StartTime: docstore.TimestampFrom(req.StartTime),
		ImageURL:  req.ImageURL,
		AdminIDs:  req.AdminIDs,
		Guests:    req.Guests,
	})
	if err != nil {
		writeEventError(w, h, "create event", err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// withEvent loads the path's event and the caller's roles on it.
func (h *Handler) withEvent(w http.ResponseWriter, r *http.Request, op string) (events.Event, events.Roles, bool) {
	e, err := h.Events.Get(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeEventError(w, h, op, err)
		return events.Event{}, events.Roles{}, false
	}
	_, roles := h.actorFor(r.Context(), e)
	return e, roles, true
}

func (h *Handler) handleStartEvent(w http.ResponseWriter, r *http.Request) {
	e, roles, ok := h.withEvent(w, r, "start event")
	if !ok {
		return
	}
	if err := h.Events.Start(r.Context(), roles, e.ID); err != nil {
		writeEventError(w, h, "start event", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEndEvent(w http.ResponseWriter, r *http.Request) {
	e, roles, ok := h.withEvent(w, r, "end event")
	if !ok {
		return
	}
	if err := h.Events.End(r.Context(), roles, e.ID); err != nil {
		writeEventError(w, h, "end event", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTogglePause(w http.ResponseWriter, r *http.Request) {
	e, roles, ok := h.withEvent(w, r, "pause event")
	if !ok {
		return
	}
	paused, err := h.Events.TogglePause(r.Context(), roles, e.ID)
	if err != nil {
		writeEventError(w, h, "pause event", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"submissions_paused": paused})
}

func (h *Handler) handleScheduleReminder(w http.ResponseWriter, r *http.Request) {
	e, _, ok := h.withEvent(w, r, "schedule reminder")
	if !ok {
		return
	}
	claims, _ := claimsFromContext(r.Context())
	rem, err := h.Reminders.Schedule(e, claims.Subject)
	if err != nil {
		writeEventError(w, h, "schedule reminder", err)
		return
	}
	if err := h.Events.SetNotified(r.Context(), e.ID, claims.Subject, true); err != nil {
		_ = h.Reminders.Cancel(rem.ID)
		writeEventError(w, h, "schedule reminder", err)
		return
	}
	writeJSON(w, http.StatusCreated, rem)
}

func (h *Handler) handleCancelReminder(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromContext(r.Context())
	eventID := chi.URLParam(r, "eventID")
	if err := h.Reminders.Cancel(chi.URLParam(r, "reminderID")); err != nil {
		writeEventError(w, h, "cancel reminder", err)
		return
	}
	if err := h.Events.SetNotified(r.Context(), eventID, claims.Subject, false); err != nil {
		writeEventError(w, h, "cancel reminder", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleOpenLink reports whether a reminder tap should navigate to the
// event or is a repeat of one just handled.
func (h *Handler) handleOpenLink(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromContext(r.Context())
	follow := h.links.For(sessionKey(claims)).Open(chi.URLParam(r, "eventID"))
	writeJSON(w, http.StatusOK, map[string]bool{"follow": follow})
}
