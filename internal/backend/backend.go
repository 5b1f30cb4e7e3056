// Package backend assembles the document store and identity provider a
// process runs against: PostgreSQL with a JetStream change feed, or an
// in-memory store for demos.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/liveqa/project/internal/app/identity"
	"github.com/liveqa/project/internal/app/questions"
	"github.com/liveqa/project/internal/config"
	"github.com/liveqa/project/internal/docstore"
	"github.com/liveqa/project/internal/docstore/memstore"
	"github.com/liveqa/project/internal/docstore/pgstore"
	"github.com/liveqa/project/internal/platform/auth"
	"github.com/liveqa/project/internal/platform/dbpool"
	"github.com/liveqa/project/internal/platform/natsutil"
	"github.com/sirupsen/logrus"
)

var ErrNoIdentity = errors.New("identity provider needs the postgres backend")

type Backend struct {
	Store    docstore.Store
	Identity *identity.Service
	// Publisher is nil for the memory backend.
	Publisher natsutil.Publisher

	pool *pgxpool.Pool
	nats *natsutil.Client
}

// Open connects to PostgreSQL and NATS, creating tables and streams as
// needed.
func Open(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*Backend, error) {
	pool, err := dbpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	client, err := natsutil.ConnectJetStreamWithRetry(cfg.NATSURL, cfg.NATSConnectTimeout)
	if err != nil {
		pool.Close()
		return nil, err
	}

	publisher := natsutil.JetStreamPublisher{JS: client.JS}
	store := pgstore.New(pool, client.JS, publisher, log)
	identityRepo := identity.NewPostgresRepository(pool)
	if err := dbpool.WaitReady(ctx, pool, log, cfg.DBReadyTimeout, store.EnsureSchema, identityRepo.EnsureSchema); err != nil {
		client.Close()
		pool.Close()
		return nil, err
	}

	return &Backend{
		Store:     store,
		Identity:  identity.NewService(identityRepo, auth.NewManager(cfg.JWTSecret, cfg.AccessTokenTTL)),
		Publisher: publisher,
		pool:      pool,
		nats:      client,
	}, nil
}

// Memory builds an in-process backend with no identity provider.
func Memory(cfg config.Config) *Backend {
	var opts []memstore.Option
	if cfg.MemoryIndexes {
		opts = append(opts, memstore.WithCompositeIndexes("questions", questions.PrimaryOrder...))
	}
	return &Backend{Store: memstore.New(opts...)}
}

// Ready checks PostgreSQL and NATS. The memory backend is always ready.
func (b *Backend) Ready(ctx context.Context) error {
	if b.nats != nil {
		if err := b.nats.Healthy(); err != nil {
			return err
		}
	}
	if b.pool != nil {
		if err := b.pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
	}
	return nil
}

func (b *Backend) Close() {
	if b.nats != nil {
		b.nats.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}
