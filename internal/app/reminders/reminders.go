// Package reminders arms start-time reminders for events and de-duplicates
// the deep links they open.
package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/liveqa/project/internal/app/events"
	"github.com/liveqa/project/internal/contracts"
	"github.com/liveqa/project/internal/platform/logging"
	"github.com/liveqa/project/internal/platform/natsutil"
	"github.com/liveqa/project/internal/sharding"
	"github.com/sirupsen/logrus"
)

var (
	ErrSignInRequired = errors.New("sign in to set reminders")
	ErrAlreadyStarted = errors.New("event has already started")
	ErrNotFound       = errors.New("reminder not found")
)

type Reminder struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	StartTime time.Time `json:"start_time"`
}

// DeliverFunc hands a fired reminder to whatever shows it to the user.
type DeliverFunc func(ctx context.Context, r Reminder) error

type Scheduler struct {
	Deliver DeliverFunc
	Log     logrus.FieldLogger
	Now     func() time.Time
	NewID   func() string

	mu      sync.Mutex
	pending map[string]*time.Timer
}

func NewScheduler(deliver DeliverFunc, log logrus.FieldLogger) *Scheduler {
	return &Scheduler{
		Deliver: deliver,
		Log:     logging.OrDiscard(log),
		Now:     func() time.Time { return time.Now().UTC() },
		NewID:   uuid.NewString,
		pending: map[string]*time.Timer{},
	}
}

// Schedule arms a reminder that fires when the event starts.
func (s *Scheduler) Schedule(e events.Event, userID string) (Reminder, error) {
	if strings.TrimSpace(userID) == "" {
		return Reminder{}, ErrSignInRequired
	}
	start := e.StartTime.Time()
	delay := start.Sub(s.Now())
	if delay <= 0 {
		return Reminder{}, ErrAlreadyStarted
	}

	r := Reminder{
		ID:        s.NewID(),
		EventID:   e.ID,
		UserID:    userID,
		Title:     e.Title + " starting",
		Body:      fmt.Sprintf("%s is starting now, open the app to join.", e.Type),
		StartTime: start,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[r.ID] = time.AfterFunc(delay, func() { s.fire(r) })
	return r, nil
}

func (s *Scheduler) fire(r Reminder) {
	s.mu.Lock()
	_, armed := s.pending[r.ID]
	delete(s.pending, r.ID)
	s.mu.Unlock()
	if !armed || s.Deliver == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Deliver(ctx, r); err != nil {
		s.Log.WithError(err).WithFields(logrus.Fields{
			"reminder_id": r.ID,
			"event_id":    r.EventID,
			"user_id":     r.UserID,
		}).Warn("reminder delivery failed")
	}
}

// Cancel disarms a pending reminder.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.pending[id]
	if !ok {
		return ErrNotFound
	}
	t.Stop()
	delete(s.pending, id)
	return nil
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop disarms every pending reminder.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
}

// NATSDelivery publishes fired reminders to the user's notify subject.
func NATSDelivery(pub natsutil.Publisher, now func() time.Time) DeliverFunc {
	return func(ctx context.Context, r Reminder) error {
		payload, err := json.Marshal(contracts.ReminderNotice{
			ReminderID:  r.ID,
			EventID:     r.EventID,
			UserID:      r.UserID,
			Title:       r.Title,
			Body:        r.Body,
			StartTime:   r.StartTime,
			DeliveredAt: now(),
		})
		if err != nil {
			return err
		}
		return pub.Publish(sharding.NotifySubject(r.UserID), payload)
	}
}
