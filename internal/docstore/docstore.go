// Package docstore defines the document database surface the application
// relies on: point reads, ordered pagination, change-stream subscriptions,
// transactions and unconditional batches over schema-less documents.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
	ErrMissingIndex  = errors.New("query requires a composite index")
	ErrInvalidPath   = errors.New("invalid document path")
	ErrInvalidField  = errors.New("invalid field name")
	ErrInvalidCursor = errors.New("invalid cursor")
	ErrAborted       = errors.New("transaction aborted")
	ErrUnsupported   = errors.New("unsupported field value")
)

// MaxTransactionAttempts bounds how often a conflicting transaction body runs.
const MaxTransactionAttempts = 5

// Ref addresses one document inside a collection.
type Ref struct {
	Collection string
	ID         string
}

func Doc(collection, id string) Ref {
	return Ref{Collection: collection, ID: id}
}

func (r Ref) Path() string {
	return r.Collection + "/" + r.ID
}

// Sub returns the path of a sub-collection nested under this document.
func (r Ref) Sub(name string) string {
	return r.Path() + "/" + name
}

func (r Ref) Validate() error {
	if err := ValidateCollection(r.Collection); err != nil {
		return err
	}
	if r.ID == "" || strings.Contains(r.ID, "/") {
		return fmt.Errorf("%w: document id %q", ErrInvalidPath, r.ID)
	}
	return nil
}

// Collection joins path segments into a collection path, e.g.
// Collection("events", "E1", "questions").
func Collection(segments ...string) string {
	return strings.Join(segments, "/")
}

// ValidateCollection accepts paths with an odd number of non-empty segments.
func ValidateCollection(path string) error {
	segments := strings.Split(path, "/")
	if len(segments)%2 == 0 {
		return fmt.Errorf("%w: %q is not a collection", ErrInvalidPath, path)
	}
	for _, seg := range segments {
		if strings.TrimSpace(seg) == "" {
			return fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, path)
		}
	}
	return nil
}

// ParseRef splits a document path into its collection and id.
func ParseRef(path string) (Ref, error) {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	ref := Ref{Collection: path[:idx], ID: path[idx+1:]}
	return ref, ref.Validate()
}

type Document struct {
	Ref        Ref
	Fields     map[string]any
	Version    int64
	CreateTime time.Time
	UpdateTime time.Time
}

func (d Document) ID() string { return d.Ref.ID }

type ChangeKind string

const (
	Added    ChangeKind = "added"
	Modified ChangeKind = "modified"
	Removed  ChangeKind = "removed"
)

func (k ChangeKind) Valid() bool {
	switch k {
	case Added, Modified, Removed:
		return true
	}
	return false
}

type Change struct {
	Kind ChangeKind
	Doc  Document
}

// ChangeBatch is one delivery on a subscription. The first batch of every
// subscription is the snapshot and lists each matching document as Added.
type ChangeBatch struct {
	Collection string
	Snapshot   bool
	Changes    []Change
}

type WriteOp int

const (
	OpSet WriteOp = iota
	OpCreate
	OpUpdate
	OpDelete
)

func (op WriteOp) String() string {
	switch op {
	case OpSet:
		return "set"
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

type Write struct {
	Op     WriteOp
	Ref    Ref
	Fields map[string]any
}

func SetWrite(ref Ref, fields map[string]any) Write {
	return Write{Op: OpSet, Ref: ref, Fields: fields}
}

func UpdateWrite(ref Ref, fields map[string]any) Write {
	return Write{Op: OpUpdate, Ref: ref, Fields: fields}
}

func DeleteWrite(ref Ref) Write {
	return Write{Op: OpDelete, Ref: ref}
}

// Tx is the handle passed to a transaction body. Reads observe the body's
// own earlier writes.
type Tx interface {
	Get(ctx context.Context, ref Ref) (Document, error)
	Create(ctx context.Context, ref Ref, fields map[string]any) error
	Set(ctx context.Context, ref Ref, fields map[string]any) error
	Update(ctx context.Context, ref Ref, fields map[string]any) error
	Delete(ctx context.Context, ref Ref) error
}

type TxFunc func(ctx context.Context, tx Tx) error

type Store interface {
	Get(ctx context.Context, ref Ref) (Document, error)
	GetOrdered(ctx context.Context, collection string, orders []Order, limit int) ([]Document, error)
	GetOrderedAfter(ctx context.Context, collection string, orders []Order, after Cursor, limit int) ([]Document, error)
	Count(ctx context.Context, collection string) (int64, error)
	Add(ctx context.Context, collection string, fields map[string]any) (Ref, error)
	RunTransaction(ctx context.Context, fn TxFunc) error
	RunBatch(ctx context.Context, writes []Write) error
	Subscribe(ctx context.Context, collection string, orders []Order) (*Subscription, error)
}

// ApplyUpdate merges top-level fields of patch over base.
func ApplyUpdate(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
