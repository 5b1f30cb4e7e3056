package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/liveqa/project/internal/app/questions"
	"github.com/liveqa/project/services/frontend"
	"github.com/sirupsen/logrus"
)

const (
	formatJSON = "json"
	formatHTML = "html"
)

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// send writes one SSE frame, one data line per payload line.
func (s sseWriter) send(event string, payload []byte) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "event: %s\n", event)
	for _, line := range strings.Split(string(payload), "\n") {
		fmt.Fprintf(&buf, "data: %s\n", line)
	}
	buf.WriteString("\n")
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s sseWriter) ping() error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// handleStream keeps a reconciled question session open for the life of
// the connection and pushes the ranked tab after every change.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	tab, err := questions.ParseTab(r.URL.Query().Get("tab"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = formatJSON
	}
	if format != formatJSON && format != formatHTML {
		writeError(w, http.StatusBadRequest, "format must be json or html")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	eventID := chi.URLParam(r, "eventID")
	if _, err := h.Events.Get(r.Context(), eventID); err != nil {
		writeEventError(w, h, "stream", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := h.Log.WithFields(logrus.Fields{"event_id": eventID, "tab": tab})
	if claims, ok := claimsFromContext(ctx); ok {
		release := h.streams.Add(sessionKey(claims), cancel)
		defer release()
		log = log.WithField("user_id", claims.Subject)
	}

	session := questions.Open(ctx, h.Store, eventID, log)
	defer session.Close()
	notices, unsubscribe := h.announcements.Subscribe(eventID)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	out := sseWriter{w: w, flusher: flusher}
	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case _, ok := <-session.Updates():
			if !ok {
				return
			}
			err = h.pushQuestions(ctx, out, format, tab, session)
		case a := <-notices:
			err = h.pushAnnouncement(ctx, out, format, a)
		case <-ticker.C:
			err = out.ping()
		}
		if err != nil {
			log.WithError(err).Debug("question stream write failed")
			return
		}
	}
}

func (h *Handler) pushQuestions(ctx context.Context, out sseWriter, format string, tab questions.Tab, session *questions.Session) error {
	list := session.Questions(tab)
	if format == formatHTML {
		var buf bytes.Buffer
		if err := frontend.QuestionList(tab, list).Render(ctx, &buf); err != nil {
			return err
		}
		return out.send("questions", buf.Bytes())
	}
	payload, err := json.Marshal(questionsResponse{Tab: tab, Strategy: session.Strategy(), Questions: list})
	if err != nil {
		return err
	}
	return out.send("questions", payload)
}

func (h *Handler) pushAnnouncement(ctx context.Context, out sseWriter, format string, a questions.Announcement) error {
	if format == formatHTML {
		var buf bytes.Buffer
		if err := frontend.AnnouncementToast(a).Render(ctx, &buf); err != nil {
			return err
		}
		return out.send("announcement", buf.Bytes())
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return out.send("announcement", payload)
}
