package pgstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/liveqa/project/internal/contracts"
	"github.com/liveqa/project/internal/docstore"
	"github.com/liveqa/project/internal/platform/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderedQueryPrimaryOrdering(t *testing.T) {
	orders := []docstore.Order{docstore.OrderBy("likes", docstore.Desc), docstore.OrderBy("createdAt", docstore.Asc)}
	sql, args, err := orderedQuery("events/E1/questions", orders, nil, 200)
	require.NoError(t, err)

	assert.Contains(t, sql, "data ? 'likes' AND data ? 'createdAt'")
	assert.Contains(t, sql, "ORDER BY COALESCE(data->'likes'->'seconds', data->'likes') DESC")
	assert.Contains(t, sql, "COALESCE(data->'createdAt'->'nanos', '-1'::jsonb) ASC, id ASC")
	assert.True(t, strings.HasSuffix(sql, "LIMIT $2"))
	assert.Equal(t, []any{"events/E1/questions", 200}, args)
}

func TestOrderedQueryCursor(t *testing.T) {
	orders := []docstore.Order{docstore.OrderBy("startTime", docstore.Asc)}
	cursor := docstore.Cursor{ID: "e2", Values: []any{docstore.Timestamp{Seconds: 20, Nanos: 3}}}
	sql, args, err := orderedQuery("events", orders, &cursor, 8)
	require.NoError(t, err)

	assert.Contains(t, sql, "COALESCE(data->'startTime'->'seconds', data->'startTime') > $2::jsonb")
	assert.Contains(t, sql, "COALESCE(data->'startTime'->'nanos', '-1'::jsonb) > $3::jsonb")
	assert.Contains(t, sql, "id > $4")
	assert.Equal(t, []any{"events", "20", "3", "e2", 8}, args)
}

func TestOrderedQueryRejectsUnsafeField(t *testing.T) {
	_, _, err := orderedQuery("events", []docstore.Order{docstore.OrderBy("x' OR '1'='1", docstore.Asc)}, nil, 0)
	require.ErrorIs(t, err, docstore.ErrInvalidField)
}

func TestCursorKeysPlainValue(t *testing.T) {
	primary, nanos, err := cursorKeys(int64(3))
	require.NoError(t, err)
	assert.Equal(t, "3", primary)
	assert.Equal(t, "-1", nanos)

	primary, _, err = cursorKeys("a\"b")
	require.NoError(t, err)
	assert.Equal(t, `"a\"b"`, primary)
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(&pgconn.PgError{Code: "40001"}))
	assert.True(t, retryable(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40P01"})))
	assert.True(t, retryable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, retryable(&pgconn.PgError{Code: "42P01"}))
	assert.False(t, retryable(errors.New("boom")))
}

func envelope(t *testing.T, changes ...contracts.DocumentChange) contracts.ChangeEnvelope {
	t.Helper()
	return contracts.ChangeEnvelope{Collection: "events/E1/questions", CommittedAt: time.Unix(100, 0), Changes: changes}
}

func fields(t *testing.T, m map[string]any) json.RawMessage {
	t.Helper()
	data, err := docstore.EncodeFields(m, docstore.Timestamp{})
	require.NoError(t, err)
	return data
}

func TestQueryViewDropsChangesOlderThanSnapshot(t *testing.T) {
	orders := []docstore.Order{docstore.OrderBy("createdAt", docstore.Asc)}
	view := newQueryView("events/E1/questions", orders)
	snapshot := view.seed([]docstore.Document{{
		Ref:     docstore.Doc("events/E1/questions", "q1"),
		Fields:  map[string]any{"createdAt": docstore.Timestamp{Seconds: 1}},
		Version: 10,
	}})
	require.True(t, snapshot.Snapshot)
	require.Len(t, snapshot.Changes, 1)

	log := logging.Discard()
	stale := view.apply(envelope(t, contracts.DocumentChange{Kind: "modified", ID: "q1", Version: 9,
		Fields: fields(t, map[string]any{"createdAt": docstore.Timestamp{Seconds: 1}, "likes": 1})}), log)
	assert.Empty(t, stale.Changes)

	fresh := view.apply(envelope(t,
		contracts.DocumentChange{Kind: "modified", ID: "q1", Version: 11,
			Fields: fields(t, map[string]any{"createdAt": docstore.Timestamp{Seconds: 1}, "likes": 2})},
		contracts.DocumentChange{Kind: "added", ID: "q2", Version: 12,
			Fields: fields(t, map[string]any{"createdAt": docstore.Timestamp{Seconds: 2}})},
		contracts.DocumentChange{Kind: "added", ID: "q3", Version: 13,
			Fields: fields(t, map[string]any{"text": "unordered"})},
	), log)
	require.Len(t, fresh.Changes, 2)
	assert.Equal(t, docstore.Modified, fresh.Changes[0].Kind)
	assert.Equal(t, int64(2), fresh.Changes[0].Doc.Fields["likes"])
	assert.Equal(t, docstore.Added, fresh.Changes[1].Kind)

	removed := view.apply(envelope(t, contracts.DocumentChange{Kind: "removed", ID: "q2", Version: 14}), log)
	require.Len(t, removed.Changes, 1)
	assert.Equal(t, docstore.Removed, removed.Changes[0].Kind)
	assert.Equal(t, "q2", removed.Changes[0].Doc.ID())
}

func TestRecordKeepsAddedKindAcrossRewrites(t *testing.T) {
	tx := &pgTx{}
	ref := docstore.Doc("events/E1/questions", "q1")
	tx.record(committed{ref: ref, kind: docstore.Added, version: 1})
	tx.record(committed{ref: ref, kind: docstore.Modified, version: 2})
	other := docstore.Doc("events", "E1")
	tx.record(committed{ref: other, kind: docstore.Modified, version: 3})

	out := tx.committed()
	require.Len(t, out, 2)
	assert.Equal(t, docstore.Added, out[0].kind)
	assert.Equal(t, int64(2), out[0].version)
	assert.Equal(t, other, out[1].ref)
}
