package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/liveqa/project/internal/app/events"
	"github.com/liveqa/project/internal/app/questions"
)

type textRequest struct {
	Text string `json:"text"`
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

type questionsResponse struct {
	Tab       questions.Tab        `json:"tab"`
	Strategy  questions.Strategy   `json:"strategy"`
	Questions []questions.Question `json:"questions"`
}

func advisoryStatus(err error) int {
	switch {
	case errors.Is(err, questions.ErrSignInRequired):
		return http.StatusUnauthorized
	case errors.Is(err, questions.ErrNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, questions.ErrEventMissing), errors.Is(err, questions.ErrQuestionMissing):
		return http.StatusNotFound
	case errors.Is(err, questions.ErrEventNotLive), errors.Is(err, questions.ErrSubmissionsPaused):
		return http.StatusConflict
	case errors.Is(err, questions.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, questions.ErrEmptyText), errors.Is(err, questions.ErrNoSelection):
		return http.StatusBadRequest
	}
	return http.StatusServiceUnavailable
}

// writeAdvisory answers a failed question action with the notice the user
// should see. The service has already logged store failures.
func writeAdvisory(w http.ResponseWriter, err error) {
	writeJSON(w, advisoryStatus(err), questions.AdvisoryFor(err))
}

// handleListQuestions serves a one-shot ranked read of a tab.
func (h *Handler) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	tab, err := questions.ParseTab(r.URL.Query().Get("tab"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	eventID := chi.URLParam(r, "eventID")
	docs, strategy := questions.NewLoader(h.Store, h.Log).Load(r.Context(), eventID)
	coll := questions.NewCollection()
	coll.Upsert(docs)
	writeJSON(w, http.StatusOK, questionsResponse{Tab: tab, Strategy: strategy, Questions: coll.Filtered(tab)})
}

// questionActor loads the event for a question action. A missing event
// still yields an actor so the service can reject it in order.
func (h *Handler) questionActor(r *http.Request) (questions.Actor, string) {
	eventID := chi.URLParam(r, "eventID")
	e, err := h.Events.Get(r.Context(), eventID)
	if err != nil {
		if !errors.Is(err, events.ErrNotFound) {
			h.Log.WithError(err).WithField("event_id", eventID).Warn("event lookup failed")
		}
		e = events.Event{ID: eventID}
	}
	actor, _ := h.actorFor(r.Context(), e)
	return actor, eventID
}

func (h *Handler) handlePostQuestion(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor, eventID := h.questionActor(r)
	id, err := h.Questions.Post(r.Context(), actor, eventID, req.Text)
	if err != nil {
		writeAdvisory(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) handleLike(w http.ResponseWriter, r *http.Request) {
	actor, eventID := h.questionActor(r)
	liked, err := h.Questions.ToggleLike(r.Context(), actor, eventID, chi.URLParam(r, "questionID"))
	if err != nil {
		writeAdvisory(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"liked": liked})
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor, eventID := h.questionActor(r)
	if err := h.Questions.Answer(r.Context(), actor, eventID, chi.URLParam(r, "questionID"), req.Text); err != nil {
		writeAdvisory(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDismiss(w http.ResponseWriter, r *http.Request) {
	actor, eventID := h.questionActor(r)
	if err := h.Questions.Dismiss(r.Context(), actor, eventID, chi.URLParam(r, "questionID")); err != nil {
		writeAdvisory(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRecover(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor, eventID := h.questionActor(r)
	if err := h.Questions.Recover(r.Context(), actor, eventID, req.IDs...); err != nil {
		writeAdvisory(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteQuestions(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor, eventID := h.questionActor(r)
	if err := h.Questions.Delete(r.Context(), actor, eventID, req.IDs...); err != nil {
		writeAdvisory(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
