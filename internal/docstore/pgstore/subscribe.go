package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/liveqa/project/internal/contracts"
	"github.com/liveqa/project/internal/docstore"
	"github.com/liveqa/project/internal/sharding"
	"github.com/nats-io/nats.go"
)

var ErrNoChangeFeed = errors.New("pgstore: change feed is not configured")

type envelopeQueue struct {
	mu     sync.Mutex
	items  []contracts.ChangeEnvelope
	signal chan struct{}
}

func (q *envelopeQueue) push(env contracts.ChangeEnvelope) {
	q.mu.Lock()
	q.items = append(q.items, env)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *envelopeQueue) drain() []contracts.ChangeEnvelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Subscribe attaches to the change feed before reading the snapshot and
// drops feed entries whose version the snapshot already reflects.
func (s *Store) Subscribe(ctx context.Context, collection string, orders []docstore.Order) (*docstore.Subscription, error) {
	if s.JS == nil {
		return nil, ErrNoChangeFeed
	}
	if err := docstore.ValidateCollection(collection); err != nil {
		return nil, err
	}
	if err := docstore.ValidateOrders(orders); err != nil {
		return nil, err
	}

	queue := &envelopeQueue{signal: make(chan struct{}, 1)}
	natsSub, err := s.JS.Subscribe(sharding.ChangeFilter(collection), func(msg *nats.Msg) {
		var env contracts.ChangeEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			s.Log.WithError(err).WithField("subject", msg.Subject).Warn("drop malformed change envelope")
			return
		}
		if env.Collection != collection {
			return
		}
		queue.push(env)
	}, nats.DeliverNew(), nats.AckNone())
	if err != nil {
		return nil, err
	}

	snapshot, err := s.GetOrdered(ctx, collection, orders, 0)
	if err != nil {
		_ = natsSub.Unsubscribe()
		return nil, err
	}

	view := newQueryView(collection, orders)
	first := view.seed(snapshot)
	sub := docstore.NewSubscription(16, func() {
		_ = natsSub.Unsubscribe()
	})

	go func() {
		if !sub.Send(first) {
			sub.Close(nil)
			return
		}
		for {
			for _, env := range queue.drain() {
				batch := view.apply(env, s.Log)
				if len(batch.Changes) == 0 {
					continue
				}
				if !sub.Send(batch) {
					sub.Close(nil)
					return
				}
			}
			select {
			case <-queue.signal:
			case <-sub.Done():
				sub.Close(nil)
				return
			case <-ctx.Done():
				_ = natsSub.Unsubscribe()
				sub.Close(ctx.Err())
				return
			}
		}
	}()
	return sub, nil
}
