package events

import (
	"strings"

	"github.com/liveqa/project/internal/docstore"
)

const Collection = "events"

type Type string

const (
	TypeAMA        Type = "AMA"
	TypeWatchParty Type = "WATCHPARTY"
)

type State string

const (
	StateScheduled State = "scheduled"
	StateLive      State = "live"
	StateEnded     State = "ended"
)

type Event struct {
	ID                string              `json:"id"`
	Title             string              `json:"title"`
	Type              Type                `json:"type,omitempty"`
	State             State               `json:"state,omitempty"`
	ImageURL          string              `json:"imageUrl,omitempty"`
	StartTime         docstore.Timestamp  `json:"startTime"`
	SubmissionsPaused bool                `json:"submissionsPaused"`
	AdminIDs          []string            `json:"adminIds,omitempty"`
	Guests            []string            `json:"guests,omitempty"`
	NotifiedUsers     []string            `json:"notifiedUsers,omitempty"`
	StartedAt         *docstore.Timestamp `json:"startedAt,omitempty"`
	EndedAt           *docstore.Timestamp `json:"endedAt,omitempty"`
}

func (e Event) Live() bool { return e.State == StateLive }

func FromDocument(doc docstore.Document) Event {
	f := doc.Fields
	e := Event{ID: doc.ID()}
	e.Title, _ = docstore.String(f, "title")
	if t, ok := docstore.String(f, "type"); ok {
		e.Type = Type(t)
	}
	if s, ok := docstore.String(f, "state"); ok {
		e.State = State(s)
	}
	e.ImageURL, _ = docstore.String(f, "imageUrl")
	e.StartTime, _ = docstore.TimestampField(f, "startTime")
	e.SubmissionsPaused, _ = docstore.Bool(f, "submissionsPaused")
	e.AdminIDs = docstore.Strings(f, "adminIds")
	e.Guests = docstore.Strings(f, "guests")
	e.NotifiedUsers = docstore.Strings(f, "notifiedUsers")
	if at, ok := docstore.TimestampField(f, "startedAt"); ok {
		e.StartedAt = &at
	}
	if at, ok := docstore.TimestampField(f, "endedAt"); ok {
		e.EndedAt = &at
	}
	return e
}

func (e Event) fields() map[string]any {
	f := map[string]any{
		"title":             e.Title,
		"type":              string(e.Type),
		"state":             string(e.State),
		"startTime":         e.StartTime,
		"submissionsPaused": e.SubmissionsPaused,
		"createdAt":         docstore.ServerTimestamp,
	}
	if e.ImageURL != "" {
		f["imageUrl"] = e.ImageURL
	}
	if len(e.AdminIDs) > 0 {
		f["adminIds"] = e.AdminIDs
	}
	if len(e.Guests) > 0 {
		f["guests"] = e.Guests
	}
	return f
}

// Notified reports whether userID asked for a start reminder.
func (e Event) Notified(userID string) bool {
	for _, id := range e.NotifiedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// Roles are the per-event permissions of one user.
type Roles struct {
	Admin bool `json:"admin"`
	Guest bool `json:"guest"`
}

// RolesFor derives roles. Admin: a global admin profile or membership in
// adminIds. Guest: membership in guests, comparing trimmed ids.
func RolesFor(e Event, globalAdmin bool, userID string) Roles {
	if userID == "" {
		return Roles{}
	}
	roles := Roles{Admin: globalAdmin}
	for _, id := range e.AdminIDs {
		if id == userID {
			roles.Admin = true
			break
		}
	}
	uid := strings.TrimSpace(userID)
	for _, g := range e.Guests {
		if strings.TrimSpace(g) == uid {
			roles.Guest = true
			break
		}
	}
	return roles
}
