package questions

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/liveqa/project/internal/app/events"
	"github.com/liveqa/project/internal/docstore"
	"github.com/liveqa/project/internal/docstore/memstore"
	"github.com/liveqa/project/internal/platform/logging"
	"github.com/liveqa/project/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvents map[string]events.Event

func (f fakeEvents) Get(ctx context.Context, id string) (events.Event, error) {
	e, ok := f[id]
	if !ok {
		return events.Event{}, events.ErrNotFound
	}
	return e, nil
}

// failingStore fails the configured operations and delegates the rest.
type failingStore struct {
	docstore.Store
	failOrdered func(orders []docstore.Order) bool
	failWrites  bool
	calls       int
}

var errBackend = errors.New("backend unavailable")

func (f *failingStore) GetOrdered(ctx context.Context, c string, orders []docstore.Order, limit int) ([]docstore.Document, error) {
	if f.failOrdered != nil && f.failOrdered(orders) {
		return nil, errBackend
	}
	return f.Store.GetOrdered(ctx, c, orders, limit)
}

func (f *failingStore) Add(ctx context.Context, c string, fields map[string]any) (docstore.Ref, error) {
	f.calls++
	if f.failWrites {
		return docstore.Ref{}, errBackend
	}
	return f.Store.Add(ctx, c, fields)
}

func (f *failingStore) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	f.calls++
	if f.failWrites {
		return errBackend
	}
	return f.Store.RunTransaction(ctx, fn)
}

func (f *failingStore) RunBatch(ctx context.Context, writes []docstore.Write) error {
	f.calls++
	if f.failWrites {
		return errBackend
	}
	return f.Store.RunBatch(ctx, writes)
}

func liveEvent() fakeEvents {
	return fakeEvents{eventID: {ID: eventID, State: events.StateLive}}
}

func newService(t *testing.T, store docstore.Store, ev fakeEvents) *Service {
	t.Helper()
	s := NewService(store, ev, logging.Discard())
	return s
}

func seedQuestion(t *testing.T, store docstore.Store, id string, fields map[string]any) {
	t.Helper()
	require.NoError(t, store.RunBatch(context.Background(), []docstore.Write{
		docstore.SetWrite(questionRef(eventID, id), fields),
	}))
}

func likes(t *testing.T, store docstore.Store, id string) int64 {
	t.Helper()
	doc, err := store.Get(context.Background(), questionRef(eventID, id))
	require.NoError(t, err)
	n, _ := docstore.Int64(doc.Fields, "likes")
	return n
}

func markerExists(t *testing.T, store docstore.Store, qid, uid string) bool {
	t.Helper()
	_, err := store.Get(context.Background(), likeRef(eventID, qid, uid))
	if errors.Is(err, docstore.ErrNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestToggleLikeRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedQuestion(t, store, "q1", map[string]any{"text": "hi", "likes": 0})
	svc := newService(t, store, liveEvent())
	alice := Actor{UserID: "alice"}

	liked, err := svc.ToggleLike(ctx, alice, eventID, "q1")
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, int64(1), likes(t, store, "q1"))
	assert.True(t, markerExists(t, store, "q1", "alice"))

	marker, err := store.Get(ctx, likeRef(eventID, "q1", "alice"))
	require.NoError(t, err)
	assert.Equal(t, "alice", marker.Fields["uid"])
	_, hasStamp := docstore.TimestampField(marker.Fields, "createdAt")
	assert.True(t, hasStamp)

	liked, err = svc.ToggleLike(ctx, alice, eventID, "q1")
	require.NoError(t, err)
	assert.False(t, liked)
	assert.Equal(t, int64(0), likes(t, store, "q1"))
	assert.False(t, markerExists(t, store, "q1", "alice"))
}

func TestToggleLikeClampsAtZero(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedQuestion(t, store, "q1", map[string]any{"likes": 0})
	require.NoError(t, store.RunBatch(ctx, []docstore.Write{
		docstore.SetWrite(likeRef(eventID, "q1", "bob"), map[string]any{"uid": "bob"}),
	}))
	svc := newService(t, store, liveEvent())

	liked, err := svc.ToggleLike(ctx, Actor{UserID: "bob"}, eventID, "q1")
	require.NoError(t, err)
	assert.False(t, liked)
	assert.Equal(t, int64(0), likes(t, store, "q1"))
}

func TestToggleLikeMissingQuestionWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := newService(t, store, liveEvent())

	_, err := svc.ToggleLike(ctx, Actor{UserID: "alice"}, eventID, "ghost")
	require.ErrorIs(t, err, ErrQuestionMissing)
	assert.False(t, markerExists(t, store, "ghost", "alice"))
	assert.Equal(t, "Like failed", AdvisoryFor(err).Title)
}

func TestToggleLikeConcurrentUsersConserveCount(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedQuestion(t, store, "q1", map[string]any{"likes": 0})
	svc := newService(t, store, liveEvent())

	users := []string{"u1", "u2", "u3"}
	var wg sync.WaitGroup
	results := make([]error, len(users))
	for i, uid := range users {
		wg.Add(1)
		go func(i int, uid string) {
			defer wg.Done()
			_, results[i] = svc.ToggleLike(ctx, Actor{UserID: uid}, eventID, "q1")
		}(i, uid)
	}
	wg.Wait()

	markers := int64(0)
	for i, uid := range users {
		if markerExists(t, store, "q1", uid) {
			markers++
		} else {
			require.ErrorIs(t, results[i], docstore.ErrAborted)
		}
	}
	assert.Equal(t, markers, likes(t, store, "q1"))
}

func TestPreconditionsRejectBeforeStoreCalls(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: memstore.New()}
	paused := fakeEvents{
		"scheduled": {ID: "scheduled", State: events.StateScheduled},
		"paused":    {ID: "paused", State: events.StateLive, SubmissionsPaused: true},
	}
	svc := newService(t, store, paused)
	user := Actor{UserID: "u1"}

	cases := []struct {
		name string
		err  error
		call func() error
	}{
		{"like signed out", ErrSignInRequired, func() error { _, err := svc.ToggleLike(ctx, Actor{}, eventID, "q1"); return err }},
		{"post signed out", ErrSignInRequired, func() error { _, err := svc.Post(ctx, Actor{}, "paused", "hi"); return err }},
		{"post empty", ErrEmptyText, func() error { _, err := svc.Post(ctx, user, "paused", "   "); return err }},
		{"post unknown event", ErrEventMissing, func() error { _, err := svc.Post(ctx, user, "nope", "hi"); return err }},
		{"post not live", ErrEventNotLive, func() error { _, err := svc.Post(ctx, user, "scheduled", "hi"); return err }},
		{"post paused", ErrSubmissionsPaused, func() error { _, err := svc.Post(ctx, user, "paused", "hi"); return err }},
		{"answer as member", ErrNotAllowed, func() error { return svc.Answer(ctx, user, eventID, "q1", "yes") }},
		{"answer empty", ErrEmptyText, func() error { return svc.Answer(ctx, Actor{UserID: "g", Guest: true}, eventID, "q1", " ") }},
		{"dismiss as member", ErrNotAllowed, func() error { return svc.Dismiss(ctx, user, eventID, "q1") }},
		{"recover as guest", ErrNotAllowed, func() error { return svc.Recover(ctx, Actor{UserID: "g", Guest: true}, eventID, "q1") }},
		{"recover nothing", ErrNoSelection, func() error { return svc.Recover(ctx, Actor{UserID: "a", Admin: true}, eventID) }},
		{"delete as guest", ErrNotAllowed, func() error { return svc.Delete(ctx, Actor{UserID: "g", Guest: true}, eventID, "q1") }},
		{"delete nothing", ErrNoSelection, func() error { return svc.Delete(ctx, Actor{UserID: "a", Admin: true}, eventID) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			require.ErrorIs(t, err, tc.err)
			var opErr *OpError
			require.ErrorAs(t, err, &opErr)
			assert.NotEmpty(t, AdvisoryFor(err).Title)
		})
	}
	assert.Zero(t, store.calls, "no write may reach the store")
}

func TestPostCreatesAskedQuestion(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := newService(t, store, liveEvent())

	id, err := svc.Post(ctx, Actor{UserID: "u1"}, eventID, "  Why Go?  ")
	require.NoError(t, err)

	doc, err := store.Get(ctx, questionRef(eventID, id))
	require.NoError(t, err)
	q := FromDocument(doc)
	assert.Equal(t, "Why Go?", q.Text)
	assert.Equal(t, "u1", q.AuthorID)
	assert.Equal(t, StateAsked, q.State)
	assert.Equal(t, int64(0), q.Likes)
	assert.False(t, q.CreatedAt.IsZero())
}

func TestPostRateLimitAndRefundOnFailure(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: memstore.New()}
	svc := newService(t, store, liveEvent())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.Submissions = ratelimit.NewKeyed(func() *ratelimit.Window {
		w := ratelimit.Submissions()
		w.Now = func() time.Time { return now }
		return w
	})
	user := Actor{UserID: "u1"}

	store.failWrites = true
	_, err := svc.Post(ctx, user, eventID, "lost")
	require.ErrorIs(t, err, errBackend)
	assert.Equal(t, "Could not post question. Try again.", AdvisoryFor(err).Message)
	store.failWrites = false

	for i := 0; i < 5; i++ {
		_, err := svc.Post(ctx, user, eventID, "q")
		require.NoError(t, err, "post %d", i+1)
	}
	_, err = svc.Post(ctx, user, eventID, "sixth")
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, "Rate limit", AdvisoryFor(err).Title)

	_, err = svc.Post(ctx, Actor{UserID: "u2"}, eventID, "other user")
	require.NoError(t, err)
}

// countingEvents records how often the event was read.
type countingEvents struct {
	fakeEvents
	reads int
}

func (c *countingEvents) Get(ctx context.Context, id string) (events.Event, error) {
	c.reads++
	return c.fakeEvents.Get(ctx, id)
}

func TestPostRateLimitedBeforeEventRead(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, memstore.New(), liveEvent())
	source := &countingEvents{fakeEvents: liveEvent()}
	svc.Events = source
	user := Actor{UserID: "u1", SessionID: "s1"}

	for i := 0; i < 5; i++ {
		_, err := svc.Post(ctx, user, eventID, "q")
		require.NoError(t, err)
	}
	require.Equal(t, 5, source.reads)

	_, err := svc.Post(ctx, user, eventID, "sixth")
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 5, source.reads)
}

func TestSubmissionWindowsArePerSession(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, memstore.New(), liveEvent())
	phone := Actor{UserID: "u1", SessionID: "phone"}
	laptop := Actor{UserID: "u1", SessionID: "laptop"}

	for i := 0; i < 5; i++ {
		_, err := svc.Post(ctx, phone, eventID, "q")
		require.NoError(t, err)
	}
	_, err := svc.Post(ctx, phone, eventID, "sixth")
	require.ErrorIs(t, err, ErrRateLimited)

	_, err = svc.Post(ctx, laptop, eventID, "from the laptop")
	require.NoError(t, err)
	assert.Equal(t, 4, svc.Submissions.For("laptop").Remaining())
}

func TestAnswerUpdatesQuestionAndAnnounces(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	long := strings.Repeat("x", 70)
	seedQuestion(t, store, "q1", map[string]any{"text": long, "state": "asked"})
	seedQuestion(t, store, "q2", map[string]any{"text": "two"})
	seedQuestion(t, store, "q3", map[string]any{"text": "three"})
	svc := newService(t, store, liveEvent())
	var got []Announcement
	svc.Announce = func(a Announcement) { got = append(got, a) }
	guest := Actor{UserID: "g1", Guest: true}

	require.NoError(t, svc.Answer(ctx, guest, eventID, "q1", "  because  "))
	require.NoError(t, svc.Answer(ctx, guest, eventID, "q2", "ok"))
	require.NoError(t, svc.Answer(ctx, guest, eventID, "q3", "ok"))

	doc, err := store.Get(ctx, questionRef(eventID, "q1"))
	require.NoError(t, err)
	q := FromDocument(doc)
	assert.Equal(t, StateAnswered, q.State)
	assert.Equal(t, "because", q.AnswerText)
	assert.Equal(t, "g1", q.AnsweredBy)
	require.NotNil(t, q.AnsweredAt)

	require.Len(t, got, 2, "announcements are limited to two per minute")
	assert.Equal(t, `Guest answered: "`+strings.Repeat("x", 60)+`"`, got[0].Message)

	err = svc.Answer(ctx, guest, eventID, "ghost", "x")
	require.ErrorIs(t, err, ErrQuestionMissing)
}

func TestDismissRecoverDelete(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	for _, id := range []string{"q1", "q2", "q3"} {
		seedQuestion(t, store, id, map[string]any{"state": "asked"})
	}
	svc := newService(t, store, liveEvent())
	admin := Actor{UserID: "a1", Admin: true}

	require.NoError(t, svc.Dismiss(ctx, admin, eventID, "q1"))
	require.NoError(t, svc.Dismiss(ctx, Actor{UserID: "g", Guest: true}, eventID, "q2"))
	doc, _ := store.Get(ctx, questionRef(eventID, "q2"))
	assert.Equal(t, "private", doc.Fields["state"])

	require.NoError(t, svc.Recover(ctx, admin, eventID, "q1", "q2"))
	doc, _ = store.Get(ctx, questionRef(eventID, "q1"))
	assert.Equal(t, "asked", doc.Fields["state"])

	require.NoError(t, svc.Delete(ctx, admin, eventID, "q1", "q3"))
	n, err := store.Count(ctx, questionsPath(eventID))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	err = svc.Recover(ctx, admin, eventID, "q1")
	require.ErrorIs(t, err, ErrQuestionMissing)
}

func TestWriteFailureSurfacesAdvisory(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: memstore.New(), failWrites: true}
	svc := newService(t, store, liveEvent())
	admin := Actor{UserID: "a1", Admin: true}

	err := svc.Delete(ctx, admin, eventID, "q1")
	require.ErrorIs(t, err, errBackend)
	assert.Equal(t, Advisory{Title: "Failed", Message: "Could not delete questions."}, AdvisoryFor(err))

	err = svc.Answer(ctx, admin, eventID, "q1", "x")
	assert.Equal(t, "Could not submit answer. Try again.", AdvisoryFor(err).Message)
}

func TestLiked(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedQuestion(t, store, "q1", map[string]any{"likes": 0})
	svc := newService(t, store, liveEvent())

	liked, err := svc.Liked(ctx, eventID, "q1", "u1")
	require.NoError(t, err)
	assert.False(t, liked)
	_, err = svc.ToggleLike(ctx, Actor{UserID: "u1"}, eventID, "q1")
	require.NoError(t, err)
	liked, err = svc.Liked(ctx, eventID, "q1", "u1")
	require.NoError(t, err)
	assert.True(t, liked)
}

func TestAnsweredMessage(t *testing.T) {
	assert.Equal(t, `Ana answered: "hi"`, AnsweredMessage("Ana", "hi"))
	assert.Equal(t, `Guest answered: "hi"`, AnsweredMessage(" ", "hi"))
	assert.Equal(t, `Guest answered: "`+strings.Repeat("é", 60)+`"`, AnsweredMessage("", strings.Repeat("é", 61)))
}
