// Package pgstore keeps documents as jsonb rows in PostgreSQL and fans
// committed changes out over NATS JetStream.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/liveqa/project/internal/contracts"
	"github.com/liveqa/project/internal/docstore"
	"github.com/liveqa/project/internal/platform/logging"
	"github.com/liveqa/project/internal/platform/metrics"
	"github.com/liveqa/project/internal/sharding"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// ChangePublisher publishes one change envelope; JetStream drops
// duplicates that share msgID.
type ChangePublisher interface {
	PublishWithID(subject, msgID string, payload []byte) error
}

type Store struct {
	Pool      *pgxpool.Pool
	JS        nats.JetStreamContext
	Publisher ChangePublisher
	Log       logrus.FieldLogger
	Now       func() time.Time
	NewID     func() string
}

func New(pool *pgxpool.Pool, js nats.JetStreamContext, publisher ChangePublisher, log logrus.FieldLogger) *Store {
	return &Store{
		Pool:      pool,
		JS:        js,
		Publisher: publisher,
		Log:       logging.OrDiscard(log),
		Now:       func() time.Time { return time.Now().UTC() },
		NewID:     uuid.NewString,
	}
}

var _ docstore.Store = (*Store)(nil)

var schema = []string{
	`CREATE SEQUENCE IF NOT EXISTS document_versions`,
	`CREATE TABLE IF NOT EXISTS documents (
  collection text NOT NULL,
  id text NOT NULL,
  data jsonb NOT NULL,
  version bigint NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (collection, id)
)`,
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, ref docstore.Ref) (docstore.Document, error) {
	if err := ref.Validate(); err != nil {
		return docstore.Document{}, err
	}
	return getDocument(ctx, s.Pool, ref, false)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getDocument(ctx context.Context, q querier, ref docstore.Ref, lock bool) (docstore.Document, error) {
	sql := `SELECT data, version, created_at, updated_at FROM documents WHERE collection = $1 AND id = $2`
	if lock {
		sql += ` FOR UPDATE`
	}
	var data []byte
	doc := docstore.Document{Ref: ref}
	err := q.QueryRow(ctx, sql, ref.Collection, ref.ID).Scan(&data, &doc.Version, &doc.CreateTime, &doc.UpdateTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return docstore.Document{}, fmt.Errorf("%s: %w", ref.Path(), docstore.ErrNotFound)
		}
		return docstore.Document{}, err
	}
	if doc.Fields, err = docstore.DecodeFields(data); err != nil {
		return docstore.Document{}, fmt.Errorf("decode %s: %w", ref.Path(), err)
	}
	return doc, nil
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
	if err := docstore.ValidateCollection(collection); err != nil {
		return nil, err
	}
	sql, args, err := orderedQuery(collection, orders, after, limit)
	if err != nil {
		return nil, err
	}
	rows, err := s.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]docstore.Document, 0)
	for rows.Next() {
		var data []byte
		doc := docstore.Document{Ref: docstore.Ref{Collection: collection}}
		if err := rows.Scan(&doc.Ref.ID, &data, &doc.Version, &doc.CreateTime, &doc.UpdateTime); err != nil {
			return nil, err
		}
		if doc.Fields, err = docstore.DecodeFields(data); err != nil {
			return nil, fmt.Errorf("decode %s: %w", doc.Ref.Path(), err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Store) Count(ctx context.Context, collection string) (int64, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return 0, err
	}
	var n int64
	err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM documents WHERE collection = $1`, collection).Scan(&n)
	return n, err
}

func (s *Store) Add(ctx context.Context, collection string, fields map[string]any) (docstore.Ref, error) {
	ref := docstore.Doc(collection, s.NewID())
	if err := s.RunBatch(ctx, []docstore.Write{{Op: docstore.OpCreate, Ref: ref, Fields: fields}}); err != nil {
		return docstore.Ref{}, err
	}
	return ref, nil
}

func (s *Store) RunBatch(ctx context.Context, writes []docstore.Write) error {
	for _, w := range writes {
		if err := w.Ref.Validate(); err != nil {
			return err
		}
	}
	return s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		for _, w := range writes {
			var err error
			switch w.Op {
			case docstore.OpCreate:
				err = tx.Create(ctx, w.Ref, w.Fields)
			case docstore.OpSet:
				err = tx.Set(ctx, w.Ref, w.Fields)
			case docstore.OpUpdate:
				err = tx.Update(ctx, w.Ref, w.Fields)
			case docstore.OpDelete:
				err = tx.Delete(ctx, w.Ref)
			default:
				err = fmt.Errorf("unknown write op %d", w.Op)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// RunTransaction runs fn in a PostgreSQL transaction, retrying on
// serialization failures, deadlocks and racing inserts.
func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	for attempt := 1; attempt <= docstore.MaxTransactionAttempts; attempt++ {
		changes, err := s.runOnce(ctx, fn)
		if err == nil {
			s.publish(changes)
			return nil
		}
		if !retryable(err) {
			return err
		}
		metrics.StoreRetries.WithLabelValues("postgres").Inc()
		s.Log.WithError(err).WithField("attempt", attempt).Debug("retrying document transaction")
	}
	return fmt.Errorf("%w after %d attempts", docstore.ErrAborted, docstore.MaxTransactionAttempts)
}

func (s *Store) runOnce(ctx context.Context, fn docstore.TxFunc) ([]committed, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ptx := &pgTx{tx: tx, now: docstore.TimestampFrom(s.Now())}
	if err := fn(ctx, ptx); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ptx.committed(), nil
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "23505":
		return true
	}
	return false
}

// publish sends one envelope per touched collection. A failed publish
// leaves the commit in place; subscribers pick the state up on their next
// snapshot.
func (s *Store) publish(changes []committed) {
	if s.Publisher == nil || len(changes) == 0 {
		return
	}
	byCollection := map[string][]contracts.DocumentChange{}
	var order []string
	for _, c := range changes {
		if _, ok := byCollection[c.ref.Collection]; !ok {
			order = append(order, c.ref.Collection)
		}
		byCollection[c.ref.Collection] = append(byCollection[c.ref.Collection], contracts.DocumentChange{
			Kind:    string(c.kind),
			ID:      c.ref.ID,
			Version: c.version,
			Fields:  c.data,
		})
	}
	for _, collection := range order {
		env := contracts.ChangeEnvelope{
			EnvelopeID:  s.NewID(),
			Collection:  collection,
			ShardID:     sharding.GetShardID(collection),
			CommittedAt: s.Now(),
			Changes:     byCollection[collection],
		}
		payload, err := json.Marshal(env)
		if err != nil {
			s.Log.WithError(err).WithField("collection", collection).Error("encode change envelope")
			continue
		}
		if err := s.Publisher.PublishWithID(sharding.ChangeSubject(collection), env.EnvelopeID, payload); err != nil {
			s.Log.WithError(err).WithField("collection", collection).Error("publish change envelope")
		}
	}
}

// orderedQuery builds the ordered read. Each ordered field contributes two
// sort keys so Timestamp objects order by seconds then nanos while plain
// values order by themselves.
func orderedQuery(collection string, orders []docstore.Order, after *docstore.Cursor, limit int) (string, []any, error) {
	if err := docstore.ValidateOrders(orders); err != nil {
		return "", nil, err
	}
	args := []any{collection}
	where := []string{"collection = $1"}
	type key struct {
		expr string
		dir  docstore.Direction
	}
	keys := make([]key, 0, len(orders)*2+1)
	for _, o := range orders {
		where = append(where, fmt.Sprintf("data ? '%s'", o.Field))
		keys = append(keys,
			key{expr: fmt.Sprintf("COALESCE(data->'%[1]s'->'seconds', data->'%[1]s')", o.Field), dir: o.Dir},
			key{expr: fmt.Sprintf("COALESCE(data->'%s'->'nanos', '-1'::jsonb)", o.Field), dir: o.Dir},
		)
	}

	if after != nil {
		values := make([]string, 0, len(keys)+1)
		for _, v := range after.Values {
			primary, nanos, err := cursorKeys(v)
			if err != nil {
				return "", nil, err
			}
			args = append(args, primary, nanos)
			values = append(values, fmt.Sprintf("$%d::jsonb", len(args)-1), fmt.Sprintf("$%d::jsonb", len(args)))
		}
		args = append(args, after.ID)
		idParam := fmt.Sprintf("$%d", len(args))

		var alternatives []string
		for i := 0; i <= len(keys); i++ {
			var terms []string
			for j := 0; j < i; j++ {
				terms = append(terms, keys[j].expr+" = "+values[j])
			}
			if i == len(keys) {
				terms = append(terms, "id > "+idParam)
			} else {
				op := ">"
				if keys[i].dir == docstore.Desc {
					op = "<"
				}
				terms = append(terms, keys[i].expr+" "+op+" "+values[i])
			}
			alternatives = append(alternatives, "("+strings.Join(terms, " AND ")+")")
		}
		where = append(where, "("+strings.Join(alternatives, " OR ")+")")
	}

	orderBy := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		orderBy = append(orderBy, k.expr+" "+strings.ToUpper(k.dir.String()))
	}
	orderBy = append(orderBy, "id ASC")

	sql := "SELECT id, data, version, created_at, updated_at FROM documents WHERE " +
		strings.Join(where, " AND ") + " ORDER BY " + strings.Join(orderBy, ", ")
	if limit > 0 {
		args = append(args, limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return sql, args, nil
}

func cursorKeys(v any) (string, string, error) {
	if ts, ok := v.(docstore.Timestamp); ok {
		return fmt.Sprint(ts.Seconds), fmt.Sprint(ts.Nanos), nil
	}
	data, err := docstore.EncodeValue(v)
	if err != nil {
		return "", "", err
	}
	return string(data), "-1", nil
}
