// Package app assembles the engine from configuration. The binaries share
// it so that the searcher, the indexer and occuctl open the same store,
// catalog, provider and cache in the same way.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/indexer/builder"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/sqldb"
)

const (
	CacheRedis  = "redis"
	CacheMemory = "memory"
)

// App owns every long-lived component. Close releases them in reverse
// order of creation.
type App struct {
	Config   *config.Config
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Store    *store.Store
	Engine   *indexer.Engine
	DB       *sqldb.Client
	Catalog  *catalog.SQL
	Provider embedding.Provider
	Builder  *builder.Builder
	Cache    cache.Cache
	Service  *searcher.Service

	redis   *pkgredis.Client
	closers []func() error
	logger  *slog.Logger
}

// Open builds the application and loads the persisted index. It does not
// build the index from the catalog; see EnsureIndex.
func Open(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg, logger: slog.Default().With("component", "app")}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	a.Provider, err = embedding.New(cfg.Embedding, cfg.Index.Dimension)
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	a.Store, err = store.Open(cfg.Index.DataDir, cfg.Index.InMemory)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Store.Close)
	dropped, err := a.Store.CheckModel(a.Provider.Model(), a.Provider.Dimension())
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		a.logger.Warn("stored vectors belong to another model and were dropped", "dropped", dropped)
	}

	a.Engine, err = indexer.NewEngine(cfg.Index, cfg.Sparse, a.Store, a.Metrics)
	if err != nil {
		return nil, err
	}
	if _, err := a.Engine.Load(ctx); err != nil {
		return nil, err
	}

	a.DB, err = sqldb.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	a.closers = append(a.closers, a.DB.Close)
	a.Catalog = catalog.NewSQL(a.DB)
	if err := a.Catalog.Migrate(ctx); err != nil {
		return nil, err
	}

	a.Builder, err = builder.New(cfg, a.Engine, a.Provider, a.Metrics)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { a.Builder.Close(); return nil })

	a.Cache = a.openCache(ctx)
	a.Service, err = searcher.NewService(cfg, searcher.Dependencies{
		Engine:   a.Engine,
		Provider: a.Provider,
		Cache:    a.Cache,
		Metrics:  a.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// openCache prefers Redis and falls back to the in-process LRU when Redis
// is not reachable.
func (a *App) openCache(ctx context.Context) cache.Cache {
	cfg := a.Config.Cache
	if !cfg.Enabled {
		a.logger.Info("result cache disabled")
		return nil
	}
	if cfg.Backend == CacheRedis {
		client, err := pkgredis.NewClient(ctx, a.Config.Redis)
		if err == nil {
			a.redis = client
			a.closers = append(a.closers, client.Close)
			a.logger.Info("result cache enabled", "backend", CacheRedis, "addr", a.Config.Redis.Addr, "ttl", cfg.TTL)
			return cache.NewRedis(client)
		}
		a.logger.Warn("redis unavailable, using in-process result cache", "error", err)
	}
	a.logger.Info("result cache enabled", "backend", CacheMemory, "entries", cfg.MaxEntries, "ttl", cfg.TTL)
	return cache.NewLRU(cfg.MaxEntries, cfg.TTL)
}

// EnsureIndex builds the index from the catalog when it holds no documents,
// or when its vectors were dropped after a model change.
func (a *App) EnsureIndex(ctx context.Context) (builder.Result, bool, error) {
	st := a.Engine.Stats()
	vectors := 0
	for _, n := range st.Spaces {
		vectors += n
	}
	if st.Documents > 0 && vectors > 0 {
		return builder.Result{}, false, nil
	}
	a.logger.Info("index incomplete, building from catalog", "documents", st.Documents, "vectors", vectors)
	res, err := a.Builder.BuildFromCatalog(ctx, a.Catalog)
	return res, true, err
}

// Rebuild empties the index and builds it again from the catalog.
func (a *App) Rebuild(ctx context.Context) (builder.Result, error) {
	if err := a.Engine.Reset(); err != nil {
		return builder.Result{}, err
	}
	return a.Builder.BuildFromCatalog(ctx, a.Catalog)
}

// Health returns a checker covering the catalog, the index, the result
// cache and the dense-path breakers.
func (a *App) Health() *health.Checker {
	c := health.NewChecker(0)
	c.Register("catalog", func(ctx context.Context) health.ComponentHealth {
		return health.FromError(a.DB.DB.PingContext(ctx))
	})
	c.Register("index", func(context.Context) health.ComponentHealth {
		st := a.Engine.Stats()
		if st.Documents == 0 {
			return health.Degraded("index is empty")
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d occupations", st.Documents)}
	})
	c.Register("breakers", func(context.Context) health.ComponentHealth {
		for name, state := range a.Service.Fallback().States() {
			if state != resilience.StateClosed {
				return health.Degraded(fmt.Sprintf("%s breaker %s", name, state))
			}
		}
		return health.Up()
	})
	if a.redis != nil {
		c.Register("redis", func(ctx context.Context) health.ComponentHealth {
			if err := a.redis.Ping(ctx); err != nil {
				return health.Degraded(err.Error())
			}
			return health.Up()
		})
	}
	return c
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
