package memstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/liveqa/project/internal/docstore"
)

type overlay struct {
	ref    docstore.Ref
	fields map[string]any
	delete bool
}

// memTx buffers writes and validates the versions it read at commit.
type memTx struct {
	store   *Store
	reads   map[string]int64
	overlay map[string]*overlay
	order   []string
}

func (t *memTx) Get(ctx context.Context, ref docstore.Ref) (docstore.Document, error) {
	if err := ref.Validate(); err != nil {
		return docstore.Document{}, err
	}
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, err
	}
	if o, ok := t.overlay[ref.Path()]; ok {
		if o.delete {
			return docstore.Document{}, fmt.Errorf("%s: %w", ref.Path(), docstore.ErrNotFound)
		}
		return docstore.Document{Ref: ref, Fields: docstore.ApplyUpdate(nil, o.fields)}, nil
	}

	t.store.mu.Lock()
	rec, ok := t.store.collections[ref.Collection][ref.ID]
	var doc docstore.Document
	var err error
	if ok {
		doc, err = decode(ref, rec)
	}
	t.store.mu.Unlock()

	if _, seen := t.reads[ref.Path()]; !seen {
		if ok {
			t.reads[ref.Path()] = rec.version
		} else {
			t.reads[ref.Path()] = 0
		}
	}
	if err != nil {
		return docstore.Document{}, err
	}
	if !ok {
		return docstore.Document{}, fmt.Errorf("%s: %w", ref.Path(), docstore.ErrNotFound)
	}
	return doc, nil
}

func (t *memTx) exists(ctx context.Context, ref docstore.Ref) (docstore.Document, bool, error) {
	doc, err := t.Get(ctx, ref)
	if err == nil {
		return doc, true, nil
	}
	if isNotFound(err) {
		return docstore.Document{}, false, nil
	}
	return docstore.Document{}, false, err
}

func (t *memTx) Create(ctx context.Context, ref docstore.Ref, fields map[string]any) error {
	_, found, err := t.exists(ctx, ref)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("%s: %w", ref.Path(), docstore.ErrAlreadyExists)
	}
	t.stage(ref, fields, false)
	return nil
}

func (t *memTx) Set(ctx context.Context, ref docstore.Ref, fields map[string]any) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	t.stage(ref, fields, false)
	return nil
}

func (t *memTx) Update(ctx context.Context, ref docstore.Ref, fields map[string]any) error {
	doc, found, err := t.exists(ctx, ref)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s: %w", ref.Path(), docstore.ErrNotFound)
	}
	t.stage(ref, docstore.ApplyUpdate(doc.Fields, fields), false)
	return nil
}

func (t *memTx) Delete(ctx context.Context, ref docstore.Ref) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	t.stage(ref, nil, true)
	return nil
}

func (t *memTx) stage(ref docstore.Ref, fields map[string]any, del bool) {
	path := ref.Path()
	if _, ok := t.overlay[path]; !ok {
		t.order = append(t.order, path)
	}
	if fields == nil && !del {
		fields = map[string]any{}
	}
	t.overlay[path] = &overlay{ref: ref, fields: fields, delete: del}
}

func (t *memTx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for path, version := range t.reads {
		ref, err := docstore.ParseRef(path)
		if err != nil {
			return err
		}
		current := int64(0)
		if rec, ok := s.collections[ref.Collection][ref.ID]; ok {
			current = rec.version
		}
		if current != version {
			return errConflict
		}
	}
	if len(t.order) == 0 {
		return nil
	}
	writes := make([]staged, 0, len(t.order))
	for _, path := range t.order {
		o := t.overlay[path]
		writes = append(writes, staged{ref: o.ref, fields: o.fields, delete: o.delete})
	}
	return s.commitLocked(writes)
}

func isNotFound(err error) bool {
	return errors.Is(err, docstore.ErrNotFound)
}
