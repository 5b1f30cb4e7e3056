package reminders

import (
	"sync"
	"time"
)

// DedupeWindow is how long repeated opens of the same event are ignored.
const DedupeWindow = 2 * time.Second

// DeepLinks filters rapid repeat opens of a reminder link. Only the last
// opened event is remembered, so alternating between two events always
// passes.
type DeepLinks struct {
	Now func() time.Time

	mu       sync.Mutex
	lastID   string
	lastOpen time.Time
}

func NewDeepLinks() *DeepLinks {
	return &DeepLinks{Now: time.Now}
}

// Open reports whether the link for eventID should be followed.
func (d *DeepLinks) Open(eventID string) bool {
	if eventID == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.Now()
	if d.lastID == eventID && now.Sub(d.lastOpen) < DedupeWindow {
		return false
	}
	d.lastID = eventID
	d.lastOpen = now
	return true
}
