package questions

import (
	"context"
	"sync"

	"github.com/liveqa/project/internal/docstore"
	"github.com/liveqa/project/internal/platform/logging"
	"github.com/liveqa/project/internal/platform/metrics"
	"github.com/sirupsen/logrus"
)

// Session owns the reconciled questions of one event for one view. The
// initial load and the change stream run concurrently and both merge into
// the same Collection.
type Session struct {
	eventID string
	log     logrus.FieldLogger
	cancel  context.CancelFunc

	mu       sync.Mutex
	coll     *Collection
	sub      *docstore.Subscription
	closed   bool
	strategy Strategy
	updates  chan struct{}

	ready     chan struct{}
	readyOnce sync.Once
}

// Open starts loading and streaming the questions of eventID. Failures of
// either path are logged; the session then shows whatever the other path
// delivers.
func Open(ctx context.Context, store docstore.Store, eventID string, log logrus.FieldLogger) *Session {
	log = logging.OrDiscard(log).WithField("event_id", eventID)
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		eventID: eventID,
		log:     log,
		cancel:  cancel,
		coll:    NewCollection(),
		updates: make(chan struct{}, 1),
		ready:   make(chan struct{}),
	}
	metrics.OpenSessions.Inc()

	loader := NewLoader(store, log)
	go s.load(ctx, loader)
	go s.stream(ctx, store)
	return s
}

func (s *Session) EventID() string { return s.eventID }

func (s *Session) load(ctx context.Context, loader *Loader) {
	defer s.markReady()
	docs, strategy := loader.Load(ctx, s.eventID)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.coll.Upsert(docs)
	s.strategy = strategy
	s.notifyLocked()
	s.mu.Unlock()
}

func (s *Session) stream(ctx context.Context, store docstore.Store) {
	sub, err := store.Subscribe(ctx, questionsPath(s.eventID), StreamOrder)
	if err != nil {
		if ctx.Err() == nil {
			s.log.WithError(err).Warn("question stream subscribe failed")
		}
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	s.sub = sub
	s.mu.Unlock()

	for batch := range sub.C() {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.coll.Apply(batch)
		for _, change := range batch.Changes {
			metrics.ChangesApplied.WithLabelValues(string(change.Kind)).Inc()
		}
		s.notifyLocked()
		s.mu.Unlock()
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if err := sub.Err(); err != nil && !closed {
		s.log.WithError(err).Warn("question stream ended")
	}
}

// notifyLocked coalesces pending updates into one signal.
func (s *Session) notifyLocked() {
	if s.closed {
		return
	}
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func (s *Session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Updates signals after the collection changed. Signals coalesce, so a
// reader should re-read Questions on each receive. Closed by Close.
func (s *Session) Updates() <-chan struct{} { return s.updates }

// Ready is closed once the initial load has resolved or the session closed.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Strategy reports which ordering served the initial load.
func (s *Session) Strategy() Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strategy
}

// Questions returns the ranked questions of a tab.
func (s *Session) Questions(tab Tab) []Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coll.Filtered(tab)
}

func (s *Session) Get(id string) (Question, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coll.Get(id)
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coll.Len()
}

func (s *Session) ToggleSelected(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	selected := s.coll.ToggleSelected(id)
	s.notifyLocked()
	return selected
}

func (s *Session) SelectedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coll.SelectedIDs()
}

func (s *Session) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coll.ClearSelection()
	s.notifyLocked()
}

// Close detaches the change stream before returning. A load that resolves
// afterwards is discarded.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.sub
	close(s.updates)
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	s.cancel()
	s.markReady()
	metrics.OpenSessions.Dec()
}
