package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/liveqa/project/internal/app/questions"
	"github.com/liveqa/project/services/frontend"
)

// handleWatchPage serves the browser page for an event's question stream.
func (h *Handler) handleWatchPage(w http.ResponseWriter, r *http.Request) {
	tab, err := questions.ParseTab(r.URL.Query().Get("tab"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	e, err := h.Events.Get(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeEventError(w, h, "watch page", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	page := frontend.WatchPage(e.ID, e.Title, string(tab), r.URL.Query().Get("token"))
	if err := page.Render(r.Context(), w); err != nil {
		h.Log.WithError(err).WithField("event_id", e.ID).Warn("render watch page failed")
	}
}
