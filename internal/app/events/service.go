package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/liveqa/project/internal/docstore"
	"github.com/liveqa/project/internal/platform/logging"
	"github.com/sirupsen/logrus"
)

// PageSize is the default number of events per listing page.
const PageSize = 8

var (
	ErrNotFound     = errors.New("event not found")
	ErrNotAllowed   = errors.New("not allowed to manage this event")
	ErrInvalidTitle = errors.New("event title is required")
	ErrInvalidType  = errors.New("event type must be AMA or WATCHPARTY")
)

var ListOrder = []docstore.Order{docstore.OrderBy("startTime", docstore.Asc)}

type Page struct {
	Events  []Event `json:"events"`
	Next    string  `json:"next,omitempty"`
	HasMore bool    `json:"hasMore"`
}

type Service struct {
	Store docstore.Store
	Log   logrus.FieldLogger
	Now   func() time.Time
}

func NewService(store docstore.Store, log logrus.FieldLogger) *Service {
	return &Service{
		Store: store,
		Log:   logging.OrDiscard(log),
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

func ref(id string) docstore.Ref { return docstore.Doc(Collection, id) }

func (s *Service) Get(ctx context.Context, id string) (Event, error) {
	if strings.TrimSpace(id) == "" {
		return Event{}, ErrNotFound
	}
	doc, err := s.Store.Get(ctx, ref(id))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Event{}, ErrNotFound
		}
		return Event{}, err
	}
	return FromDocument(doc), nil
}

// List returns the first page of events ordered by start time.
func (s *Service) List(ctx context.Context, pageSize int) (Page, error) {
	pageSize = normalizePageSize(pageSize)
	docs, err := s.Store.GetOrdered(ctx, Collection, ListOrder, pageSize)
	if err != nil {
		return Page{}, err
	}
	return toPage(docs, pageSize)
}

// ListAfter continues a listing from a Page.Next token.
func (s *Service) ListAfter(ctx context.Context, token string, pageSize int) (Page, error) {
	cursor, err := docstore.DecodeCursor(token)
	if err != nil {
		return Page{}, err
	}
	pageSize = normalizePageSize(pageSize)
	docs, err := s.Store.GetOrderedAfter(ctx, Collection, ListOrder, cursor, pageSize)
	if err != nil {
		return Page{}, err
	}
	return toPage(docs, pageSize)
}

func normalizePageSize(n int) int {
	if n <= 0 || n > 100 {
		return PageSize
	}
	return n
}

func toPage(docs []docstore.Document, pageSize int) (Page, error) {
	page := Page{Events: make([]Event, 0, len(docs))}
	for _, d := range docs {
		page.Events = append(page.Events, FromDocument(d))
	}
	if len(docs) == 0 {
		return page, nil
	}
	page.HasMore = len(docs) >= pageSize
	next, err := docstore.CursorAfter(docs[len(docs)-1], ListOrder).Encode()
	if err != nil {
		return Page{}, err
	}
	page.Next = next
	return page, nil
}

func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.Store.Count(ctx, Collection)
}

func (s *Service) Create(ctx context.Context, e Event) (Event, error) {
	e.Title = strings.TrimSpace(e.Title)
	if e.Title == "" {
		return Event{}, ErrInvalidTitle
	}
	switch e.Type {
	case TypeAMA, TypeWatchParty:
	default:
		return Event{}, ErrInvalidType
	}
	if e.State == "" {
		e.State = StateScheduled
	}
	r, err := s.Store.Add(ctx, Collection, e.fields())
	if err != nil {
		return Event{}, fmt.Errorf("create event: %w", err)
	}
	e.ID = r.ID
	return e, nil
}

// Start marks the event live. Only admins who are not also the guest may
// start an event.
func (s *Service) Start(ctx context.Context, roles Roles, id string) error {
	if !roles.Admin || roles.Guest {
		return ErrNotAllowed
	}
	return s.update(ctx, id, map[string]any{"state": string(StateLive), "startedAt": docstore.ServerTimestamp})
}

func (s *Service) End(ctx context.Context, roles Roles, id string) error {
	if !roles.Admin && !roles.Guest {
		return ErrNotAllowed
	}
	return s.update(ctx, id, map[string]any{"state": string(StateEnded), "endedAt": docstore.ServerTimestamp})
}

// TogglePause flips submissionsPaused and returns the new value.
func (s *Service) TogglePause(ctx context.Context, roles Roles, id string) (bool, error) {
	if !roles.Admin && !roles.Guest {
		return false, ErrNotAllowed
	}
	var paused bool
	err := s.Store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		doc, err := tx.Get(ctx, ref(id))
		if err != nil {
			return err
		}
		current, _ := docstore.Bool(doc.Fields, "submissionsPaused")
		paused = !current
		return tx.Update(ctx, ref(id), map[string]any{"submissionsPaused": paused})
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return false, ErrNotFound
	}
	if err != nil {
		s.Log.WithError(err).WithField("event_id", id).Warn("toggle pause failed")
		return false, err
	}
	return paused, nil
}

// SetNotified adds or removes userID from the event's reminder list.
func (s *Service) SetNotified(ctx context.Context, id, userID string, on bool) error {
	err := s.Store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		doc, err := tx.Get(ctx, ref(id))
		if err != nil {
			return err
		}
		current := docstore.Strings(doc.Fields, "notifiedUsers")
		next := make([]string, 0, len(current)+1)
		for _, uid := range current {
			if uid != userID {
				next = append(next, uid)
			}
		}
		if on {
			next = append(next, userID)
		}
		return tx.Update(ctx, ref(id), map[string]any{"notifiedUsers": next})
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *Service) update(ctx context.Context, id string, fields map[string]any) error {
	err := s.Store.RunBatch(ctx, []docstore.Write{docstore.UpdateWrite(ref(id), fields)})
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		s.Log.WithError(err).WithField("event_id", id).Warn("event update failed")
	}
	return err
}
