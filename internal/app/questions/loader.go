package questions

import (
	"context"

	"github.com/liveqa/project/internal/docstore"
	"github.com/liveqa/project/internal/platform/logging"
	"github.com/liveqa/project/internal/platform/metrics"
	"github.com/sirupsen/logrus"
)

// InitialLimit caps the questions fetched on cold load.
const InitialLimit = 200

var (
	// PrimaryOrder surfaces the most liked questions first. It needs a
	// composite index and is the ordering most likely to be rejected.
	PrimaryOrder = []docstore.Order{
		docstore.OrderBy("likes", docstore.Desc),
		docstore.OrderBy("createdAt", docstore.Asc),
	}
	FallbackOrder = []docstore.Order{docstore.OrderBy("createdAt", docstore.Asc)}
	StreamOrder   = []docstore.Order{docstore.OrderBy("createdAt", docstore.Asc)}
)

type Strategy string

const (
	StrategyPrimary  Strategy = "primary"
	StrategyFallback Strategy = "fallback"
	StrategyNone     Strategy = "none"
)

type Loader struct {
	Store docstore.Store
	Log   logrus.FieldLogger
	Limit int
}

func NewLoader(store docstore.Store, log logrus.FieldLogger) *Loader {
	return &Loader{Store: store, Log: logging.OrDiscard(log), Limit: InitialLimit}
}

// Load fetches the initial batch with PrimaryOrder, falling back to
// FallbackOrder. When both fail it logs and returns nothing.
func (l *Loader) Load(ctx context.Context, eventID string) ([]docstore.Document, Strategy) {
	log := logging.OrDiscard(l.Log).WithField("event_id", eventID)
	path := questionsPath(eventID)

	docs, err := l.Store.GetOrdered(ctx, path, PrimaryOrder, l.limit())
	if err == nil {
		metrics.InitialLoads.WithLabelValues(string(StrategyPrimary), "ok").Inc()
		return docs, StrategyPrimary
	}
	metrics.InitialLoads.WithLabelValues(string(StrategyPrimary), "error").Inc()
	log.WithError(err).WithField("strategy", StrategyPrimary).Warn("initial question load failed, falling back")

	docs, err = l.Store.GetOrdered(ctx, path, FallbackOrder, l.limit())
	if err == nil {
		metrics.InitialLoads.WithLabelValues(string(StrategyFallback), "ok").Inc()
		return docs, StrategyFallback
	}
	metrics.InitialLoads.WithLabelValues(string(StrategyFallback), "error").Inc()
	log.WithError(err).WithField("strategy", StrategyFallback).Warn("fallback question load failed")
	return nil, StrategyNone
}

func (l *Loader) limit() int {
	if l.Limit <= 0 {
		return InitialLimit
	}
	return l.Limit
}
