// Package api serves the events, questions and identity services over HTTP,
// with server-sent question streams per connection.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/liveqa/project/internal/app/events"
	"github.com/liveqa/project/internal/app/identity"
	"github.com/liveqa/project/internal/app/questions"
	"github.com/liveqa/project/internal/app/reminders"
	"github.com/liveqa/project/internal/docstore"
	"github.com/liveqa/project/internal/platform/logging"
	"github.com/liveqa/project/internal/platform/metrics"
	"github.com/liveqa/project/services/frontend"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	Store     docstore.Store
	Events    *events.Service
	Questions *questions.Service
	Identity  *identity.Service
	Reminders *reminders.Scheduler
	Log       logrus.FieldLogger

	AllowedOrigin string
	// Ready reports backend readiness for /readyz. Nil means always ready.
	Ready func(ctx context.Context) error
	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration

	announcements *Hub
	streams       *streamRegistry
	links         *linkRegistry
}

// NewHandler wires the question service's announcements into the stream
// hub, so answers reach every open stream of the event.
func NewHandler(store docstore.Store, eventSvc *events.Service, questionSvc *questions.Service, identitySvc *identity.Service, scheduler *reminders.Scheduler, log logrus.FieldLogger) *Handler {
	h := &Handler{
		Store:         store,
		Events:        eventSvc,
		Questions:     questionSvc,
		Identity:      identitySvc,
		Reminders:     scheduler,
		Log:           logging.OrDiscard(log),
		Heartbeat:     25 * time.Second,
		announcements: NewHub(),
		streams:       newStreamRegistry(),
		links:         newLinkRegistry(),
	}
	questionSvc.Announce = h.announcements.Publish
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(h.corsMiddleware)
	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})
	r.Get("/readyz", h.handleReady)
	r.Handle("/metrics", metrics.DefaultHandler())
	r.Handle("/static/*", http.StripPrefix("/static/", frontend.StaticHandler()))
	r.Get("/events/{eventID}/watch", h.handleWatchPage)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", h.handleRegister)
		r.Post("/auth/login", h.handleLogin)
		r.Post("/auth/anonymous", h.handleAnonymous)
		r.Post("/auth/refresh", h.handleRefresh)
		r.Post("/auth/logout", h.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(h.optionalAuth)
			r.Get("/events", h.handleListEvents)
			r.Get("/events/count", h.handleCountEvents)
			r.Get("/events/{eventID}", h.handleGetEvent)
			r.Get("/events/{eventID}/questions", h.handleListQuestions)
			r.Get("/events/{eventID}/stream", h.handleStream)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware)
			r.Get("/me", h.handleProfile)
			r.Post("/events", h.handleCreateEvent)
			r.Post("/events/{eventID}/start", h.handleStartEvent)
			r.Post("/events/{eventID}/end", h.handleEndEvent)
			r.Post("/events/{eventID}/pause", h.handleTogglePause)
			r.Post("/events/{eventID}/reminder", h.handleScheduleReminder)
			r.Delete("/events/{eventID}/reminder/{reminderID}", h.handleCancelReminder)
			r.Get("/events/{eventID}/open", h.handleOpenLink)

			r.Post("/events/{eventID}/questions", h.handlePostQuestion)
			r.Post("/events/{eventID}/questions/recover", h.handleRecover)
			r.Delete("/events/{eventID}/questions", h.handleDeleteQuestions)
			r.Post("/events/{eventID}/questions/{questionID}/like", h.handleLike)
			r.Post("/events/{eventID}/questions/{questionID}/answer", h.handleAnswer)
			r.Post("/events/{eventID}/questions/{questionID}/dismiss", h.handleDismiss)
		})
	})
	return r
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 1500*time.Millisecond)
		defer cancel()
		if err := h.Ready(ctx); err != nil {
			writeText(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeText(w, http.StatusOK, "ok")
}

// Start watches identity sessions and closes the question streams of a
// session when it signs out. Other sessions of the same user stay open. The watch is registered before Start returns and
// ends with ctx.
func (h *Handler) Start(ctx context.Context) {
	if h.Identity == nil {
		return
	}
	sessions, cancel := h.Identity.Watch()
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sessions:
				if !ok {
					return
				}
				if ev.Kind == identity.SignedOut {
					h.signedOut(ev)
				}
			}
		}
	}()
}

func (h *Handler) signedOut(ev identity.SessionEvent) {
	key := ev.SessionID
	if key == "" {
		key = ev.UserID
	}
	n := h.streams.Cancel(key)
	h.links.Forget(key)
	h.Questions.Submissions.Forget(key)
	h.Questions.Announcements.Forget(key)
	h.Log.WithFields(logrus.Fields{
		"user_id":    ev.UserID,
		"session_id": ev.SessionID,
		"streams":    n,
	}).Info("signed out, closed question streams")
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin, Access-Control-Request-Headers")
		w.Header().Set("Access-Control-Allow-Origin", h.allowedOriginForRequest(r.Header.Get("Origin")))
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")

		requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers"))
		if requestHeaders != "" {
			w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
		} else {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) allowedOriginForRequest(requestOrigin string) string {
	allowed := strings.TrimSpace(h.AllowedOrigin)
	if allowed == "" || allowed == "*" {
		return "*"
	}
	origin := strings.TrimSpace(requestOrigin)
	if origin == "" {
		return allowed
	}
	if origin == allowed || isEquivalentLoopbackOrigin(origin, allowed) {
		return origin
	}
	return allowed
}

func isEquivalentLoopbackOrigin(originA, originB string) bool {
	a, err := url.Parse(originA)
	if err != nil {
		return false
	}
	b, err := url.Parse(originB)
	if err != nil {
		return false
	}
	if !isLoopbackHost(a.Hostname()) || !isLoopbackHost(b.Hostname()) {
		return false
	}
	return a.Port() == b.Port() && strings.EqualFold(a.Scheme, b.Scheme)
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}
