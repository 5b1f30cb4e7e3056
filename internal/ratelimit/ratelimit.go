// Package ratelimit holds the sliding-window throttles used for question
// submissions and answer announcements.
//
// These limits are advisory. They shape the experience of a well-behaved
// client and are not a security boundary: nothing stops a caller that
// bypasses them from writing to the store directly.
package ratelimit

import (
	"sync"
	"time"
)

const DefaultWindow = time.Minute

// Window permits at most Limit events per rolling window.
type Window struct {
	Name   string
	Limit  int
	Period time.Duration
	Now    func() time.Time

	mu     sync.Mutex
	stamps []time.Time
}

func NewWindow(name string, limit int, period time.Duration) *Window {
	return &Window{
		Name:   name,
		Limit:  limit,
		Period: period,
		Now:    time.Now,
	}
}

// Announcements throttles answer toasts to 2 per minute.
func Announcements() *Window { return NewWindow("announcements", 2, DefaultWindow) }

// Submissions throttles question posts to 5 per minute.
func Submissions() *Window { return NewWindow("submissions", 5, DefaultWindow) }

// Allow drops timestamps at or before now-Period, then denies without
// recording when the remaining count has reached Limit.
func (w *Window) Allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.Now()
	cutoff := now.Add(-w.Period)
	kept := w.stamps[:0]
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.stamps = kept

	if len(w.stamps) >= w.Limit {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

// Release forgets the most recent admission, for callers whose admitted
// action failed before taking effect.
func (w *Window) Release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n := len(w.stamps); n > 0 {
		w.stamps = w.stamps[:n-1]
	}
}

// Remaining reports how many events the window would still admit now.
func (w *Window) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := w.Now().Add(-w.Period)
	n := 0
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			n++
		}
	}
	if n >= w.Limit {
		return 0
	}
	return w.Limit - n
}

// Keyed holds one window per key, typically a user id.
type Keyed struct {
	New func() *Window

	mu      sync.Mutex
	windows map[string]*Window
}

func NewKeyed(factory func() *Window) *Keyed {
	return &Keyed{New: factory, windows: map[string]*Window{}}
}

func (k *Keyed) For(key string) *Window {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.windows == nil {
		k.windows = map[string]*Window{}
	}
	w, ok := k.windows[key]
	if !ok {
		w = k.New()
		k.windows[key] = w
	}
	return w
}

func (k *Keyed) Allow(key string) bool {
	return k.For(key).Allow()
}

// Forget drops the window of a key, e.g. when its session ends.
func (k *Keyed) Forget(key string) {
	k.mu.Lock()
	delete(k.windows, key)
	k.mu.Unlock()
}
