// Package memstore is an in-process docstore.Store. It backs tests, the
// qactl demo and local runs without PostgreSQL or NATS.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/liveqa/project/internal/docstore"
	"github.com/liveqa/project/internal/platform/metrics"
)

var errConflict = errors.New("transaction conflict")

type Option func(*Store)

// WithCompositeIndexes declares a multi-field ordering as indexed for a
// collection group (the last segment of a collection path). Multi-field
// orderings without a declared index fail with docstore.ErrMissingIndex.
func WithCompositeIndexes(group string, orders ...docstore.Order) Option {
	return func(s *Store) {
		s.indexes[indexKey(group, orders)] = true
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithIDs(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

type record struct {
	data    []byte
	version int64
	created time.Time
	updated time.Time
}

type Store struct {
	mu          sync.Mutex
	collections map[string]map[string]*record
	version     int64
	subs        map[string]map[int]*watcher
	nextSub     int
	indexes     map[string]bool

	now   func() time.Time
	newID func() string
}

func New(opts ...Option) *Store {
	s := &Store{
		collections: map[string]map[string]*record{},
		subs:        map[string]map[int]*watcher{},
		indexes:     map[string]bool{},
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ docstore.Store = (*Store)(nil)

func (s *Store) Get(ctx context.Context, ref docstore.Ref) (docstore.Document, error) {
	if err := ref.Validate(); err != nil {
		return docstore.Document{}, err
	}
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.collections[ref.Collection][ref.ID]
	if !ok {
		return docstore.Document{}, fmt.Errorf("%s: %w", ref.Path(), docstore.ErrNotFound)
	}
	return decode(ref, rec)
}

func (s *Store) GetOrdered(ctx context.Context, collection string, orders []docstore.Order, limit int) ([]docstore.Document, error) {
	return s.query(ctx, collection, orders, nil, limit)
}

func (s *Store) GetOrderedAfter(ctx context.Context, collection string, orders []docstore.Order, after docstore.Cursor, limit int) ([]docstore.Document, error) {
	if err := after.Check(orders); err != nil {
		return nil, err
	}
	return s.query(ctx, collection, orders, &after, limit)
}

func (s *Store) query(ctx context.Context, collection string, orders []docstore.Order, after *docstore.Cursor, limit int) ([]docstore.Document, error) {
	if err := s.checkQuery(collection, orders); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	docs, err := s.matching(collection, orders)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if after != nil {
		kept := docs[:0]
		for _, d := range docs {
			if after.Before(d, orders) {
				kept = append(kept, d)
			}
		}
		docs = kept
	}
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (s *Store) checkQuery(collection string, orders []docstore.Order) error {
	if err := docstore.ValidateCollection(collection); err != nil {
		return err
	}
	if err := docstore.ValidateOrders(orders); err != nil {
		return err
	}
	if len(orders) > 1 && !s.indexes[indexKey(collectionGroup(collection), orders)] {
		return fmt.Errorf("%w: %s on %s", docstore.ErrMissingIndex, docstore.FormatOrders(orders), collection)
	}
	return nil
}

// matching returns the ordered documents of a collection; callers hold s.mu.
func (s *Store) matching(collection string, orders []docstore.Order) ([]docstore.Document, error) {
	docs := make([]docstore.Document, 0, len(s.collections[collection]))
	for id, rec := range s.collections[collection] {
		doc, err := decode(docstore.Doc(collection, id), rec)
		if err != nil {
			return nil, err
		}
		if docstore.HasFields(doc.Fields, orders) {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		return docstore.CompareDocs(docs[i], docs[j], orders) < 0
	})
	return docs, nil
}

func (s *Store) Count(ctx context.Context, collection string) (int64, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.collections[collection])), nil
}

func (s *Store) Add(ctx context.Context, collection string, fields map[string]any) (docstore.Ref, error) {
	ref := docstore.Doc(collection, s.newID())
	if err := s.RunBatch(ctx, []docstore.Write{{Op: docstore.OpCreate, Ref: ref, Fields: fields}}); err != nil {
		return docstore.Ref{}, err
	}
	return ref, nil
}

// RunBatch applies every write or none of them.
func (s *Store) RunBatch(ctx context.Context, writes []docstore.Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, w := range writes {
		if err := w.Ref.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]staged, 0, len(writes))
	current := map[string]map[string]any{}
	lookup := func(ref docstore.Ref) (map[string]any, bool, error) {
		if fields, ok := current[ref.Path()]; ok {
			return fields, fields != nil, nil
		}
		rec, ok := s.collections[ref.Collection][ref.ID]
		if !ok {
			return nil, false, nil
		}
		doc, err := decode(ref, rec)
		return doc.Fields, true, err
	}
	for _, w := range writes {
		fields, found, err := lookup(w.Ref)
		if err != nil {
			return err
		}
		next := w.Fields
		switch w.Op {
		case docstore.OpCreate:
			if found {
				return fmt.Errorf("%s: %w", w.Ref.Path(), docstore.ErrAlreadyExists)
			}
		case docstore.OpSet:
		case docstore.OpUpdate:
			if !found {
				return fmt.Errorf("%s: %w", w.Ref.Path(), docstore.ErrNotFound)
			}
			next = docstore.ApplyUpdate(fields, w.Fields)
		case docstore.OpDelete:
			current[w.Ref.Path()] = nil
			pending = append(pending, staged{ref: w.Ref, delete: true})
			continue
		default:
			return fmt.Errorf("unknown write op %d", w.Op)
		}
		if next == nil {
			next = map[string]any{}
		}
		current[w.Ref.Path()] = next
		pending = append(pending, staged{ref: w.Ref, fields: next})
	}
	return s.commitLocked(pending)
}

type staged struct {
	ref    docstore.Ref
	fields map[string]any
	delete bool
}

// commitLocked encodes every staged write before touching state so an
// encoding failure leaves the store unchanged. Callers hold s.mu.
func (s *Store) commitLocked(writes []staged) error {
	now := s.now()
	ts := docstore.TimestampFrom(now)
	encoded := make([][]byte, len(writes))
	for i, w := range writes {
		if w.delete {
			continue
		}
		data, err := docstore.EncodeFields(w.fields, ts)
		if err != nil {
			return fmt.Errorf("%s: %w", w.ref.Path(), err)
		}
		encoded[i] = data
	}

	touched := map[string]map[string]bool{}
	var order []string
	for i, w := range writes {
		coll := s.collections[w.ref.Collection]
		if coll == nil {
			coll = map[string]*record{}
			s.collections[w.ref.Collection] = coll
		}
		if w.delete {
			delete(coll, w.ref.ID)
		} else {
			s.version++
			rec, ok := coll[w.ref.ID]
			if !ok {
				rec = &record{created: now}
				coll[w.ref.ID] = rec
			}
			rec.data = encoded[i]
			rec.version = s.version
			rec.updated = now
		}
		if touched[w.ref.Collection] == nil {
			touched[w.ref.Collection] = map[string]bool{}
			order = append(order, w.ref.Collection)
		}
		touched[w.ref.Collection][w.ref.ID] = true
	}
	for _, collection := range order {
		s.notifyLocked(collection, touched[collection])
	}
	return nil
}

func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	for attempt := 1; attempt <= docstore.MaxTransactionAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &memTx{store: s, reads: map[string]int64{}, overlay: map[string]*overlay{}}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		err := tx.commit()
		if err == nil {
			return nil
		}
		if !errors.Is(err, errConflict) {
			return err
		}
		metrics.StoreRetries.WithLabelValues("memory").Inc()
	}
	return fmt.Errorf("%w after %d attempts", docstore.ErrAborted, docstore.MaxTransactionAttempts)
}

func decode(ref docstore.Ref, rec *record) (docstore.Document, error) {
	fields, err := docstore.DecodeFields(rec.data)
	if err != nil {
		return docstore.Document{}, fmt.Errorf("decode %s: %w", ref.Path(), err)
	}
	return docstore.Document{
		Ref:        ref,
		Fields:     fields,
		Version:    rec.version,
		CreateTime: rec.created,
		UpdateTime: rec.updated,
	}, nil
}

func collectionGroup(collection string) string {
	return collection[strings.LastIndex(collection, "/")+1:]
}

func indexKey(group string, orders []docstore.Order) string {
	return group + ":" + docstore.FormatOrders(orders)
}
