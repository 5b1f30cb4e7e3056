package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/liveqa/project/internal/docstore"
)

type watcher struct {
	orders  []docstore.Order
	visible map[string]bool

	mu     sync.Mutex
	queue  []docstore.ChangeBatch
	signal chan struct{}
}

func (w *watcher) push(batch docstore.ChangeBatch) {
	w.mu.Lock()
	w.queue = append(w.queue, batch)
	w.mu.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *watcher) drain() []docstore.ChangeBatch {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.queue
	w.queue = nil
	return out
}

// Subscribe registers the watcher and takes its snapshot under one lock,
// so no commit falls between the snapshot and the first live batch.
func (s *Store) Subscribe(ctx context.Context, collection string, orders []docstore.Order) (*docstore.Subscription, error) {
	if err := s.checkQuery(collection, orders); err != nil {
		return nil, err
	}
	w := &watcher{
		orders:  append([]docstore.Order(nil), orders...),
		visible: map[string]bool{},
		signal:  make(chan struct{}, 1),
	}

	s.mu.Lock()
	docs, err := s.matching(collection, orders)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	snapshot := docstore.ChangeBatch{Collection: collection, Snapshot: true, Changes: make([]docstore.Change, 0, len(docs))}
	for _, d := range docs {
		w.visible[d.Ref.ID] = true
		snapshot.Changes = append(snapshot.Changes, docstore.Change{Kind: docstore.Added, Doc: d})
	}
	w.push(snapshot)
	id := s.nextSub
	s.nextSub++
	if s.subs[collection] == nil {
		s.subs[collection] = map[int]*watcher{}
	}
	s.subs[collection][id] = w
	s.mu.Unlock()

	detach := func() {
		s.mu.Lock()
		delete(s.subs[collection], id)
		s.mu.Unlock()
	}
	sub := docstore.NewSubscription(16, detach)

	go func() {
		for {
			for _, batch := range w.drain() {
				if !sub.Send(batch) {
					sub.Close(nil)
					return
				}
			}
			select {
			case <-w.signal:
			case <-sub.Done():
				sub.Close(nil)
				return
			case <-ctx.Done():
				detach()
				sub.Close(ctx.Err())
				return
			}
		}
	}()
	return sub, nil
}

// notifyLocked fans one commit out to the watchers of a collection.
// Callers hold s.mu.
func (s *Store) notifyLocked(collection string, ids map[string]bool) {
	watchers := s.subs[collection]
	if len(watchers) == 0 {
		return
	}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	docs := make(map[string]*docstore.Document, len(ids))
	for _, id := range sorted {
		rec, ok := s.collections[collection][id]
		if !ok {
			docs[id] = nil
			continue
		}
		doc, err := decode(docstore.Doc(collection, id), rec)
		if err != nil {
			docs[id] = nil
			continue
		}
		docs[id] = &doc
	}

	for _, w := range watchers {
		batch := docstore.ChangeBatch{Collection: collection}
		for _, id := range sorted {
			doc := docs[id]
			inQuery := doc != nil && docstore.HasFields(doc.Fields, w.orders)
			switch {
			case inQuery && w.visible[id]:
				batch.Changes = append(batch.Changes, docstore.Change{Kind: docstore.Modified, Doc: *doc})
			case inQuery:
				w.visible[id] = true
				batch.Changes = append(batch.Changes, docstore.Change{Kind: docstore.Added, Doc: *doc})
			case w.visible[id]:
				delete(w.visible, id)
				batch.Changes = append(batch.Changes, docstore.Change{Kind: docstore.Removed, Doc: docstore.Document{Ref: docstore.Doc(collection, id)}})
			}
		}
		if len(batch.Changes) > 0 {
			w.push(batch)
		}
	}
}
