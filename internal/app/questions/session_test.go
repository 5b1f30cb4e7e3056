package questions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/liveqa/project/internal/docstore"
	"github.com/liveqa/project/internal/docstore/memstore"
	"github.com/liveqa/project/internal/platform/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// blockingStore holds initial loads until release is closed and refuses
// subscriptions.
type blockingStore struct {
	docstore.Store
	release chan struct{}
}

func (b *blockingStore) GetOrdered(ctx context.Context, c string, orders []docstore.Order, limit int) ([]docstore.Document, error) {
	<-b.release
	return b.Store.GetOrdered(context.Background(), c, orders, limit)
}

func (b *blockingStore) Subscribe(ctx context.Context, c string, orders []docstore.Order) (*docstore.Subscription, error) {
	return nil, errors.New("stream unavailable")
}

// gatedStore holds subscriptions until open is closed.
type gatedStore struct {
	docstore.Store
	open chan struct{}
}

func (g *gatedStore) Subscribe(ctx context.Context, c string, orders []docstore.Order) (*docstore.Subscription, error) {
	<-g.open
	return g.Store.Subscribe(ctx, c, orders)
}

// staleLoadStore reads the initial load at once but holds the result until
// release is closed. read is closed after the first successful read.
type staleLoadStore struct {
	docstore.Store
	read     chan struct{}
	readOnce sync.Once
	release  chan struct{}
}

func (b *staleLoadStore) GetOrdered(ctx context.Context, c string, orders []docstore.Order, limit int) ([]docstore.Document, error) {
	docs, err := b.Store.GetOrdered(ctx, c, orders, limit)
	if err != nil {
		return nil, err
	}
	b.readOnce.Do(func() { close(b.read) })
	<-b.release
	return docs, nil
}

func waitReady(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Ready():
	case <-time.After(waitFor):
		t.Fatal("session never became ready")
	}
}

func TestSessionLoadsAndRanks(t *testing.T) {
	store := memstore.New()
	seedLoaderQuestions(t, store)
	s := Open(context.Background(), store, eventID, logging.Discard())
	defer s.Close()

	waitReady(t, s)
	assert.Equal(t, StrategyFallback, s.Strategy())
	require.Eventually(t, func() bool { return s.Len() == 3 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"q2", "q3", "q1"}, ids(s.Questions(StateAsked)))
}

func TestSessionFollowsChanges(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedLoaderQuestions(t, store)
	s := Open(ctx, store, eventID, logging.Discard())
	defer s.Close()
	waitReady(t, s)

	require.NoError(t, store.RunBatch(ctx, []docstore.Write{
		docstore.UpdateWrite(questionRef(eventID, "q1"), map[string]any{"likes": 9}),
		docstore.UpdateWrite(questionRef(eventID, "q2"), map[string]any{"state": "answered"}),
		docstore.DeleteWrite(questionRef(eventID, "q3")),
	}))

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"q1"}, ids(s.Questions(StateAsked)))
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"q2"}, ids(s.Questions(StateAnswered)))
	_, ok := s.Get("q3")
	assert.False(t, ok)
}

func TestSessionDropsQuestionDeletedBeforeSubscribe(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New()
	seedLoaderQuestions(t, inner)
	store := &gatedStore{Store: inner, open: make(chan struct{})}
	s := Open(ctx, store, eventID, logging.Discard())
	defer s.Close()
	waitReady(t, s)
	require.Equal(t, 3, s.Len())
	assert.True(t, s.ToggleSelected("q3"))

	require.NoError(t, inner.RunBatch(ctx, []docstore.Write{
		docstore.DeleteWrite(questionRef(eventID, "q3")),
	}))
	close(store.open)

	require.Eventually(t, func() bool {
		_, ok := s.Get("q3")
		return !ok
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, 2, s.Len())
	assert.Empty(t, s.SelectedIDs())
	assert.Equal(t, []string{"q2", "q1"}, ids(s.Questions(StateAsked)))
}

func TestSessionStaleLoadCannotRestoreDeletedQuestion(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New()
	seedLoaderQuestions(t, inner)
	store := &staleLoadStore{Store: inner, read: make(chan struct{}), release: make(chan struct{})}
	s := Open(ctx, store, eventID, logging.Discard())
	defer s.Close()
	select {
	case <-store.read:
	case <-time.After(waitFor):
		t.Fatal("initial load never read")
	}
	require.NoError(t, inner.RunBatch(ctx, []docstore.Write{
		docstore.DeleteWrite(questionRef(eventID, "q3")),
	}))
	require.Eventually(t, func() bool { return s.Len() == 2 }, waitFor, 5*time.Millisecond)

	close(store.release)
	waitReady(t, s)
	assert.Never(t, func() bool {
		_, ok := s.Get("q3")
		return ok
	}, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 2, s.Len())
}

func TestSessionSelectionSurvivesUpdates(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedLoaderQuestions(t, store)
	s := Open(ctx, store, eventID, logging.Discard())
	defer s.Close()
	require.Eventually(t, func() bool { return s.Len() == 3 }, waitFor, 5*time.Millisecond)

	assert.True(t, s.ToggleSelected("q1"))
	require.NoError(t, store.RunBatch(ctx, []docstore.Write{
		docstore.UpdateWrite(questionRef(eventID, "q1"), map[string]any{"likes": 2}),
	}))
	require.Eventually(t, func() bool {
		q, _ := s.Get("q1")
		return q.Likes == 2
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"q1"}, s.SelectedIDs())

	s.ClearSelection()
	assert.Empty(t, s.SelectedIDs())
}

func TestSessionCloseDetaches(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seedLoaderQuestions(t, store)
	s := Open(ctx, store, eventID, logging.Discard())
	require.Eventually(t, func() bool { return s.Len() == 3 }, waitFor, 5*time.Millisecond)

	s.Close()
	s.Close()

	require.NoError(t, store.RunBatch(ctx, []docstore.Write{
		docstore.DeleteWrite(questionRef(eventID, "q1")),
	}))
	assert.Never(t, func() bool { return s.Len() != 3 }, 100*time.Millisecond, 10*time.Millisecond)

	for range s.Updates() {
	}
}

func TestSessionLateLoadIsDiscarded(t *testing.T) {
	inner := memstore.New()
	seedLoaderQuestions(t, inner)
	store := &blockingStore{Store: inner, release: make(chan struct{})}

	s := Open(context.Background(), store, eventID, logging.Discard())
	s.Close()
	waitReady(t, s)
	close(store.release)

	assert.Never(t, func() bool { return s.Len() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestSessionUpdatesCoalesce(t *testing.T) {
	store := memstore.New()
	s := Open(context.Background(), store, eventID, logging.Discard())
	defer s.Close()
	waitReady(t, s)

	for i := 0; i < 5; i++ {
		s.ToggleSelected("q1")
	}
	select {
	case _, ok := <-s.Updates():
		assert.True(t, ok)
	case <-time.After(waitFor):
		t.Fatal("no update signal")
	}
	assert.LessOrEqual(t, len(s.Updates()), 1)
}
