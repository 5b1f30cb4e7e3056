package api

import (
	"context"
	"sync"

	"github.com/liveqa/project/internal/app/questions"
	"github.com/liveqa/project/internal/app/reminders"
)

// Hub fans answer announcements out to the open streams of an event.
type Hub struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]chan questions.Announcement
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[int]chan questions.Announcement{}}
}

func (h *Hub) Subscribe(eventID string) (<-chan questions.Announcement, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan questions.Announcement, 8)
	if h.subs[eventID] == nil {
		h.subs[eventID] = map[int]chan questions.Announcement{}
	}
	h.subs[eventID][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[eventID], id)
			if len(h.subs[eventID]) == 0 {
				delete(h.subs, eventID)
			}
			h.mu.Unlock()
		})
	}
}

// Publish drops the announcement for streams whose buffer is full.
func (h *Hub) Publish(a questions.Announcement) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[a.EventID] {
		select {
		case ch <- a:
		default:
		}
	}
}

// streamRegistry tracks open streams by sign-in session.
type streamRegistry struct {
	mu        sync.Mutex
	next      int
	bySession map[string]map[int]context.CancelFunc
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{bySession: map[string]map[int]context.CancelFunc{}}
}

// Add tracks a session's stream and returns the func that forgets it.
func (s *streamRegistry) Add(sessionID string, cancel context.CancelFunc) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	if s.bySession[sessionID] == nil {
		s.bySession[sessionID] = map[int]context.CancelFunc{}
	}
	s.bySession[sessionID][id] = cancel
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.bySession[sessionID], id)
		if len(s.bySession[sessionID]) == 0 {
			delete(s.bySession, sessionID)
		}
	}
}

// Cancel ends every stream of the session and reports how many there were.
func (s *streamRegistry) Cancel(sessionID string) int {
	s.mu.Lock()
	leases := s.bySession[sessionID]
	delete(s.bySession, sessionID)
	s.mu.Unlock()

	for _, cancel := range leases {
		cancel()
	}
	return len(leases)
}

func (s *streamRegistry) Count(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bySession[sessionID])
}

type linkRegistry struct {
	mu        sync.Mutex
	bySession map[string]*reminders.DeepLinks
}

func newLinkRegistry() *linkRegistry {
	return &linkRegistry{bySession: map[string]*reminders.DeepLinks{}}
}

func (l *linkRegistry) For(sessionID string) *reminders.DeepLinks {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.bySession[sessionID]
	if !ok {
		d = reminders.NewDeepLinks()
		l.bySession[sessionID] = d
	}
	return d
}

func (l *linkRegistry) Forget(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.bySession, sessionID)
}
