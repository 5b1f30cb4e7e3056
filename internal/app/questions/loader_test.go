package questions

import (
	"context"
	"testing"

	"github.com/liveqa/project/internal/docstore"
	"github.com/liveqa/project/internal/docstore/memstore"
	"github.com/liveqa/project/internal/platform/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedLoaderQuestions(t *testing.T, store docstore.Store) {
	t.Helper()
	seedQuestion(t, store, "q1", map[string]any{"likes": 1, "createdAt": docstore.Timestamp{Seconds: 10}})
	seedQuestion(t, store, "q2", map[string]any{"likes": 4, "createdAt": docstore.Timestamp{Seconds: 20}})
	seedQuestion(t, store, "q3", map[string]any{"likes": 1, "createdAt": docstore.Timestamp{Seconds: 5}})
}

func TestLoadPrimaryWhenIndexed(t *testing.T) {
	store := memstore.New(memstore.WithCompositeIndexes("questions", PrimaryOrder...))
	seedLoaderQuestions(t, store)

	docs, strategy := NewLoader(store, logging.Discard()).Load(context.Background(), eventID)
	assert.Equal(t, StrategyPrimary, strategy)
	require.Len(t, docs, 3)
	got := []string{docs[0].ID(), docs[1].ID(), docs[2].ID()}
	assert.Equal(t, []string{"q2", "q3", "q1"}, got)
}

func TestLoadFallsBackWithoutIndex(t *testing.T) {
	store := memstore.New()
	seedLoaderQuestions(t, store)

	docs, strategy := NewLoader(store, logging.Discard()).Load(context.Background(), eventID)
	assert.Equal(t, StrategyFallback, strategy)
	require.Len(t, docs, 3)

	coll := NewCollection()
	coll.Upsert(docs)
	assert.Equal(t, []string{"q2", "q3", "q1"}, ids(coll.Filtered(StateAsked)))
}

func TestLoadBothFailing(t *testing.T) {
	store := &failingStore{Store: memstore.New(), failOrdered: func([]docstore.Order) bool { return true }}

	docs, strategy := NewLoader(store, logging.Discard()).Load(context.Background(), eventID)
	assert.Equal(t, StrategyNone, strategy)
	assert.Empty(t, docs)
}

func TestLoadHonoursLimit(t *testing.T) {
	store := memstore.New()
	seedLoaderQuestions(t, store)
	loader := NewLoader(store, nil)
	loader.Limit = 2

	docs, _ := loader.Load(context.Background(), eventID)
	require.Len(t, docs, 2)
	assert.Equal(t, "q3", docs[0].ID())
}
