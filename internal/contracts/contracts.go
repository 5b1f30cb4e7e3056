package contracts

import (
	"encoding/json"
	"time"
)

// ChangeEnvelope is published by a document store after a commit and
// consumed by every subscription on the same collection.
type ChangeEnvelope struct {
	EnvelopeID  string           `json:"envelope_id"`
	Collection  string           `json:"collection"`
	ShardID     int              `json:"shard_id"`
	CommittedAt time.Time        `json:"committed_at"`
	Changes     []DocumentChange `json:"changes"`
}

// DocumentChange carries the full document for added/modified and only
// the id for removed.
type DocumentChange struct {
	Kind    string          `json:"kind"`
	ID      string          `json:"id"`
	Version int64           `json:"version"`
	Fields  json.RawMessage `json:"fields,omitempty"`
}

// ReminderNotice is published on app.notify.{user} when a reminder fires.
type ReminderNotice struct {
	ReminderID  string    `json:"reminder_id"`
	EventID     string    `json:"event_id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	StartTime   time.Time `json:"start_time"`
	DeliveredAt time.Time `json:"delivered_at"`
}
