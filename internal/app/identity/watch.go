package identity

import "sync"

type SessionKind string

const (
	SignedIn  SessionKind = "signed-in"
	SignedOut SessionKind = "signed-out"
	Restored  SessionKind = "restored"
)

// SessionEvent reports a change to one of a user's sign-in sessions.
type SessionEvent struct {
	Kind      SessionKind `json:"kind"`
	UserID    string      `json:"user_id"`
	SessionID string      `json:"session_id"`
}

type watchers struct {
	mu   sync.Mutex
	next int
	subs map[int]chan SessionEvent
}

func (w *watchers) add(buffer int) (<-chan SessionEvent, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.subs == nil {
		w.subs = map[int]chan SessionEvent{}
	}
	id := w.next
	w.next++
	ch := make(chan SessionEvent, buffer)
	w.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.subs, id)
			w.mu.Unlock()
			close(ch)
		})
	}
}

// emit never blocks; a watcher that stopped reading misses events.
func (w *watchers) emit(ev SessionEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
