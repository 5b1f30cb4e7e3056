package questions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/liveqa/project/internal/app/events"
	"github.com/liveqa/project/internal/docstore"
	"github.com/liveqa/project/internal/platform/logging"
	"github.com/liveqa/project/internal/platform/metrics"
	"github.com/liveqa/project/internal/ratelimit"
	"github.com/sirupsen/logrus"
)

var (
	ErrSignInRequired    = errors.New("sign in required")
	ErrNotAllowed        = errors.New("not allowed")
	ErrEventMissing      = errors.New("event not loaded")
	ErrEventNotLive      = errors.New("event is not live")
	ErrSubmissionsPaused = errors.New("submissions are paused")
	ErrRateLimited       = errors.New("rate limited")
	ErrEmptyText         = errors.New("text is empty")
	ErrNoSelection       = errors.New("no questions selected")
	ErrQuestionMissing   = errors.New("question missing")
)

// Actor is the caller of a mutating operation together with the roles it
// holds on the event being acted on.
type Actor struct {
	UserID      string
	SessionID   string
	DisplayName string
	Admin       bool
	Guest       bool
}

func (a Actor) SignedIn() bool { return strings.TrimSpace(a.UserID) != "" }

// windowKey scopes rate limits to one sign-in session, so two devices of
// the same user keep separate windows. Callers without a session fall
// back to the user.
func (a Actor) windowKey() string {
	if a.SessionID != "" {
		return a.SessionID
	}
	return a.UserID
}

func (a Actor) CanModerate() bool { return a.Admin || a.Guest }

// OpError records which operation failed. Errors returned by Service
// methods are OpErrors wrapping a sentinel or a store error.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *OpError) Unwrap() error { return e.Err }

const (
	OpLike    = "like"
	OpPost    = "post"
	OpAnswer  = "answer"
	OpDismiss = "dismiss"
	OpRecover = "recover"
	OpDelete  = "delete"
)

func opErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}

// EventSource resolves the event a question belongs to.
type EventSource interface {
	Get(ctx context.Context, id string) (events.Event, error)
}

// Announcement is the notice shown after a question is answered.
type Announcement struct {
	EventID    string    `json:"eventId"`
	QuestionID string    `json:"questionId"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}

type Service struct {
	Store         docstore.Store
	Events        EventSource
	Submissions   *ratelimit.Keyed
	Announcements *ratelimit.Keyed
	Announce      func(Announcement)
	Log           logrus.FieldLogger
	Now           func() time.Time
}

func NewService(store docstore.Store, eventsSource EventSource, log logrus.FieldLogger) *Service {
	return &Service{
		Store:         store,
		Events:        eventsSource,
		Submissions:   ratelimit.NewKeyed(ratelimit.Submissions),
		Announcements: ratelimit.NewKeyed(ratelimit.Announcements),
		Log:           logging.OrDiscard(log),
		Now:           func() time.Time { return time.Now().UTC() },
	}
}

// ToggleLike adds the actor's like when absent and removes it otherwise,
// keeping likes equal to the number of markers. It reports whether the
// actor likes the question afterwards.
func (s *Service) ToggleLike(ctx context.Context, actor Actor, eventID, questionID string) (bool, error) {
	if !actor.SignedIn() {
		return false, opErr(OpLike, ErrSignInRequired)
	}
	qRef := questionRef(eventID, questionID)
	mRef := likeRef(eventID, questionID, actor.UserID)

	var liked bool
	err := s.Store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		qDoc, err := tx.Get(ctx, qRef)
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrQuestionMissing
		}
		if err != nil {
			return err
		}
		_, err = tx.Get(ctx, mRef)
		markerExists := err == nil
		if err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		likes, _ := docstore.Int64(qDoc.Fields, "likes")

		if markerExists {
			liked = false
			if err := tx.Delete(ctx, mRef); err != nil {
				return err
			}
			return tx.Update(ctx, qRef, map[string]any{"likes": max(0, likes-1)})
		}
		liked = true
		if err := tx.Set(ctx, mRef, map[string]any{"uid": actor.UserID, "createdAt": docstore.ServerTimestamp}); err != nil {
			return err
		}
		return tx.Update(ctx, qRef, map[string]any{"likes": likes + 1})
	})
	if err != nil {
		metrics.LikeToggles.WithLabelValues("error").Inc()
		s.logFailure(OpLike, eventID, questionID, err)
		return false, opErr(OpLike, err)
	}
	if liked {
		metrics.LikeToggles.WithLabelValues("liked").Inc()
	} else {
		metrics.LikeToggles.WithLabelValues("unliked").Inc()
	}
	return liked, nil
}

// Liked reports whether userID has a like marker on the question.
func (s *Service) Liked(ctx context.Context, eventID, questionID, userID string) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, nil
	}
	_, err := s.Store.Get(ctx, likeRef(eventID, questionID, userID))
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Post submits a question to a live event with open submissions.
func (s *Service) Post(ctx context.Context, actor Actor, eventID, text string) (string, error) {
	if !actor.SignedIn() {
		return "", opErr(OpPost, ErrSignInRequired)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", opErr(OpPost, ErrEmptyText)
	}
	window := s.Submissions.For(actor.windowKey())
	if window.Remaining() == 0 {
		metrics.RateLimited.WithLabelValues(window.Name).Inc()
		return "", opErr(OpPost, ErrRateLimited)
	}
	event, err := s.Events.Get(ctx, eventID)
	if err != nil {
		if !errors.Is(err, events.ErrNotFound) {
			s.logFailure(OpPost, eventID, "", err)
		}
		return "", opErr(OpPost, ErrEventMissing)
	}
	if !event.Live() {
		return "", opErr(OpPost, ErrEventNotLive)
	}
	if event.SubmissionsPaused {
		return "", opErr(OpPost, ErrSubmissionsPaused)
	}
	if !window.Allow() {
		metrics.RateLimited.WithLabelValues(window.Name).Inc()
		return "", opErr(OpPost, ErrRateLimited)
	}

	ref, err := s.Store.Add(ctx, questionsPath(eventID), map[string]any{
		"text":      text,
		"authorId":  actor.UserID,
		"createdAt": docstore.ServerTimestamp,
		"likes":     0,
		"state":     string(StateAsked),
	})
	if err != nil {
		window.Release()
		s.logFailure(OpPost, eventID, "", err)
		return "", opErr(OpPost, err)
	}
	return ref.ID, nil
}

// Answer records an answer and marks the question answered. A successful
// answer produces an announcement unless the actor's announcement window
// is exhausted.
func (s *Service) Answer(ctx context.Context, actor Actor, eventID, questionID, draft string) error {
	if !actor.SignedIn() {
		return opErr(OpAnswer, ErrSignInRequired)
	}
	if !actor.CanModerate() {
		return opErr(OpAnswer, ErrNotAllowed)
	}
	draft = strings.TrimSpace(draft)
	if draft == "" {
		return opErr(OpAnswer, ErrEmptyText)
	}

	var text string
	ref := questionRef(eventID, questionID)
	err := s.Store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		doc, err := tx.Get(ctx, ref)
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrQuestionMissing
		}
		if err != nil {
			return err
		}
		text, _ = docstore.String(doc.Fields, "text")
		return tx.Update(ctx, ref, map[string]any{
			"state":      string(StateAnswered),
			"answerText": draft,
			"answeredBy": actor.UserID,
			"answeredAt": docstore.ServerTimestamp,
		})
	})
	if err != nil {
		s.logFailure(OpAnswer, eventID, questionID, err)
		return opErr(OpAnswer, err)
	}
	s.announce(actor, eventID, questionID, text)
	return nil
}

func (s *Service) announce(actor Actor, eventID, questionID, text string) {
	window := s.Announcements.For(actor.windowKey())
	if !window.Allow() {
		metrics.RateLimited.WithLabelValues(window.Name).Inc()
		return
	}
	if s.Announce == nil {
		return
	}
	s.Announce(Announcement{
		EventID:    eventID,
		QuestionID: questionID,
		Message:    AnsweredMessage(actor.DisplayName, text),
		At:         s.Now(),
	})
}

// AnsweredMessage formats the answer notice, quoting at most 60
// characters of the question.
func AnsweredMessage(answerer, text string) string {
	if strings.TrimSpace(answerer) == "" {
		answerer = "Guest"
	}
	if utf8.RuneCountInString(text) > 60 {
		text = string([]rune(text)[:60])
	}
	return fmt.Sprintf("%s answered: %q", answerer, text)
}

// Dismiss moves a question to the private tab.
func (s *Service) Dismiss(ctx context.Context, actor Actor, eventID, questionID string) error {
	if !actor.SignedIn() {
		return opErr(OpDismiss, ErrSignInRequired)
	}
	if !actor.CanModerate() {
		return opErr(OpDismiss, ErrNotAllowed)
	}
	return s.setState(ctx, OpDismiss, eventID, []string{questionID}, StatePrivate)
}

// Recover returns questions to the asked tab.
func (s *Service) Recover(ctx context.Context, actor Actor, eventID string, ids ...string) error {
	if !actor.Admin {
		return opErr(OpRecover, ErrNotAllowed)
	}
	if len(ids) == 0 {
		return opErr(OpRecover, ErrNoSelection)
	}
	return s.setState(ctx, OpRecover, eventID, ids, StateAsked)
}

// Delete removes questions in one batch.
func (s *Service) Delete(ctx context.Context, actor Actor, eventID string, ids ...string) error {
	if !actor.Admin {
		return opErr(OpDelete, ErrNotAllowed)
	}
	if len(ids) == 0 {
		return opErr(OpDelete, ErrNoSelection)
	}
	writes := make([]docstore.Write, 0, len(ids))
	for _, id := range ids {
		writes = append(writes, docstore.DeleteWrite(questionRef(eventID, id)))
	}
	if err := s.Store.RunBatch(ctx, writes); err != nil {
		s.logFailure(OpDelete, eventID, strings.Join(ids, ","), err)
		return opErr(OpDelete, err)
	}
	return nil
}

func (s *Service) setState(ctx context.Context, op, eventID string, ids []string, state State) error {
	writes := make([]docstore.Write, 0, len(ids))
	for _, id := range ids {
		writes = append(writes, docstore.UpdateWrite(questionRef(eventID, id), map[string]any{"state": string(state)}))
	}
	err := s.Store.RunBatch(ctx, writes)
	if errors.Is(err, docstore.ErrNotFound) {
		err = ErrQuestionMissing
	}
	if err != nil {
		s.logFailure(op, eventID, strings.Join(ids, ","), err)
		return opErr(op, err)
	}
	return nil
}

func (s *Service) logFailure(op, eventID, questionID string, err error) {
	entry := logging.OrDiscard(s.Log).WithError(err).WithFields(logrus.Fields{"op": op, "event_id": eventID})
	if questionID != "" {
		entry = entry.WithField("question_id", questionID)
	}
	entry.Warn("question operation failed")
}
