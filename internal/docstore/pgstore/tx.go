package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/liveqa/project/internal/docstore"
)

type committed struct {
	ref     docstore.Ref
	kind    docstore.ChangeKind
	version int64
	data    []byte
}

// pgTx applies writes immediately inside the PostgreSQL transaction, so
// later reads in the same body see them.
type pgTx struct {
	tx      pgx.Tx
	now     docstore.Timestamp
	changes map[string]committed
	order   []string
}

func (t *pgTx) Get(ctx context.Context, ref docstore.Ref) (docstore.Document, error) {
	if err := ref.Validate(); err != nil {
		return docstore.Document{}, err
	}
	return getDocument(ctx, t.tx, ref, true)
}

func (t *pgTx) Create(ctx context.Context, ref docstore.Ref, fields map[string]any) error {
	_, err := t.Get(ctx, ref)
	switch {
	case err == nil:
		return fmt.Errorf("%s: %w", ref.Path(), docstore.ErrAlreadyExists)
	case !errors.Is(err, docstore.ErrNotFound):
		return err
	}
	return t.upsert(ctx, ref, fields)
}

func (t *pgTx) Set(ctx context.Context, ref docstore.Ref, fields map[string]any) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	return t.upsert(ctx, ref, fields)
}

func (t *pgTx) Update(ctx context.Context, ref docstore.Ref, fields map[string]any) error {
	doc, err := t.Get(ctx, ref)
	if err != nil {
		return err
	}
	return t.upsert(ctx, ref, docstore.ApplyUpdate(doc.Fields, fields))
}

func (t *pgTx) Delete(ctx context.Context, ref docstore.Ref) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	var version int64
	err := t.tx.QueryRow(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2 RETURNING nextval('document_versions')`,
		ref.Collection, ref.ID,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	t.record(committed{ref: ref, kind: docstore.Removed, version: version})
	return nil
}

func (t *pgTx) upsert(ctx context.Context, ref docstore.Ref, fields map[string]any) error {
	data, err := docstore.EncodeFields(fields, t.now)
	if err != nil {
		return fmt.Errorf("%s: %w", ref.Path(), err)
	}
	var version int64
	var inserted bool
	err = t.tx.QueryRow(ctx,
		`INSERT INTO documents (collection, id, data, version)
		 VALUES ($1, $2, $3::jsonb, nextval('document_versions'))
		 ON CONFLICT (collection, id) DO UPDATE
		 SET data = EXCLUDED.data, version = EXCLUDED.version, updated_at = now()
		 RETURNING version, (xmax = 0)`,
		ref.Collection, ref.ID, string(data),
	).Scan(&version, &inserted)
	if err != nil {
		return err
	}
	kind := docstore.Modified
	if inserted {
		kind = docstore.Added
	}
	t.record(committed{ref: ref, kind: kind, version: version, data: data})
	return nil
}

// record keeps the last change per document in first-touch order.
func (t *pgTx) record(c committed) {
	if t.changes == nil {
		t.changes = map[string]committed{}
	}
	path := c.ref.Path()
	if prev, ok := t.changes[path]; ok {
		if prev.kind == docstore.Added && c.kind == docstore.Modified {
			c.kind = docstore.Added
		}
	} else {
		t.order = append(t.order, path)
	}
	t.changes[path] = c
}

func (t *pgTx) committed() []committed {
	out := make([]committed, 0, len(t.order))
	for _, path := range t.order {
		out = append(out, t.changes[path])
	}
	return out
}
