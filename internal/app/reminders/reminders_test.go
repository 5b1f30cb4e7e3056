package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/liveqa/project/internal/app/events"
	"github.com/liveqa/project/internal/contracts"
	"github.com/liveqa/project/internal/docstore"
	"github.com/liveqa/project/internal/platform/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	got  []Reminder
	done chan struct{}
}

func newRecorder() *recorder { return &recorder{done: make(chan struct{}, 8)} }

func (r *recorder) deliver(ctx context.Context, rem Reminder) error {
	r.mu.Lock()
	r.got = append(r.got, rem)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func eventAt(start time.Time) events.Event {
	return events.Event{ID: "e1", Title: "Launch", Type: events.TypeAMA, StartTime: docstore.TimestampFrom(start)}
}

func TestScheduleFiresAtStart(t *testing.T) {
	rec := newRecorder()
	s := NewScheduler(rec.deliver, logging.Discard())

	r, err := s.Schedule(eventAt(time.Now().Add(30*time.Millisecond)), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Launch starting", r.Title)
	assert.Equal(t, "AMA is starting now, open the app to join.", r.Body)
	assert.Equal(t, 1, s.Pending())

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("reminder never fired")
	}
	require.Len(t, rec.got, 1)
	assert.Equal(t, r.ID, rec.got[0].ID)
	assert.Zero(t, s.Pending())
}

func TestScheduleRejects(t *testing.T) {
	s := NewScheduler(newRecorder().deliver, nil)

	_, err := s.Schedule(eventAt(time.Now().Add(time.Hour)), " ")
	require.ErrorIs(t, err, ErrSignInRequired)
	_, err = s.Schedule(eventAt(time.Now().Add(-time.Minute)), "u1")
	require.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestCancelDisarms(t *testing.T) {
	rec := newRecorder()
	s := NewScheduler(rec.deliver, nil)

	r, err := s.Schedule(eventAt(time.Now().Add(20*time.Millisecond)), "u1")
	require.NoError(t, err)
	require.NoError(t, s.Cancel(r.ID))
	require.ErrorIs(t, s.Cancel(r.ID), ErrNotFound)

	select {
	case <-rec.done:
		t.Fatal("cancelled reminder fired")
	case <-time.After(80 * time.Millisecond):
	}
}

func TestStopDisarmsAll(t *testing.T) {
	s := NewScheduler(newRecorder().deliver, nil)
	for i := 0; i < 3; i++ {
		_, err := s.Schedule(eventAt(time.Now().Add(time.Hour)), "u1")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, s.Pending())
	s.Stop()
	assert.Zero(t, s.Pending())
}

type capturePublisher struct {
	subject string
	payload []byte
	err     error
}

func (c *capturePublisher) Publish(subject string, payload []byte) error {
	c.subject = subject
	c.payload = payload
	return c.err
}

func TestNATSDelivery(t *testing.T) {
	pub := &capturePublisher{}
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	deliver := NATSDelivery(pub, func() time.Time { return at })

	err := deliver(context.Background(), Reminder{ID: "r1", EventID: "e1", UserID: "u1", Title: "Launch starting", StartTime: at})
	require.NoError(t, err)
	assert.Equal(t, "app.notify.u1", pub.subject)

	var notice contracts.ReminderNotice
	require.NoError(t, json.Unmarshal(pub.payload, &notice))
	assert.Equal(t, "r1", notice.ReminderID)
	assert.Equal(t, "e1", notice.EventID)
	assert.True(t, notice.DeliveredAt.Equal(at))

	pub.err = errors.New("nats down")
	require.Error(t, deliver(context.Background(), Reminder{ID: "r2", UserID: "u1"}))
}

func TestDeepLinksDedupe(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	d := NewDeepLinks()
	d.Now = func() time.Time { return now }

	assert.True(t, d.Open("e1"))
	now = now.Add(time.Second)
	assert.False(t, d.Open("e1"))
	assert.True(t, d.Open("e2"))
	assert.True(t, d.Open("e1"))
	now = now.Add(DedupeWindow)
	assert.True(t, d.Open("e1"))
	assert.False(t, d.Open(""))
}
