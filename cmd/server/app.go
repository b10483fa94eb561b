package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phrazzld/dispatch/internal/backend"
	"github.com/phrazzld/dispatch/internal/cache"
	"github.com/phrazzld/dispatch/internal/config"
	"github.com/phrazzld/dispatch/internal/events"
	"github.com/phrazzld/dispatch/internal/fallback"
	"github.com/phrazzld/dispatch/internal/observability"
	"github.com/phrazzld/dispatch/internal/orchestrator"
	"github.com/phrazzld/dispatch/internal/platform/postgres"
	"github.com/phrazzld/dispatch/internal/pool"
	"github.com/phrazzld/dispatch/internal/queue"
	"github.com/phrazzld/dispatch/internal/ratelimit"
	"github.com/phrazzld/dispatch/internal/registry"
	"github.com/phrazzld/dispatch/internal/store"
	"github.com/phrazzld/dispatch/internal/task"
)

// application holds the wired components and their shutdown order.
type application struct {
	config  *config.Config
	logger  *slog.Logger
	metrics *observability.Registry

	db          *sql.DB
	redisClient *redis.Client

	pools *pool.Manager
	queue *queue.Queue
	orch  *orchestrator.Orchestrator
}

// newApplication wires every component from the configuration.
func newApplication(cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config:  cfg,
		logger:  logger,
		metrics: observability.NewRegistry(),
	}

	processes, err := app.setupProcessStore()
	if err != nil {
		return nil, err
	}

	resultCache := app.setupCache()
	reg, err := app.setupBackends()
	if err != nil {
		return nil, err
	}

	app.pools = pool.NewManager(logger, app.metrics)
	for name, pc := range cfg.Pools {
		policy := pool.PolicyBlock
		if pc.Policy == "reject" {
			policy = pool.PolicyReject
		}
		_, err := app.pools.Create(name, pool.Config{
			Capacity:     pc.Capacity,
			QueueDepth:   pc.QueueDepth,
			Policy:       policy,
			BlockTimeout: pc.BlockTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create pool %q: %w", name, err)
		}
	}

	limiter := ratelimit.New(ratelimit.Config{
		Window:       cfg.RateLimit.Window,
		DefaultLimit: cfg.RateLimit.DefaultLimit,
		Limits:       cfg.RateLimit.Limits,
	}, logger)

	controller := fallback.New(reg, logger)

	poolFor := app.buildPoolFor()

	app.orch = orchestrator.New(
		orchestrator.Config{
			CacheTTL:    cfg.Cache.TTL,
			RateMaxWait: cfg.RateLimit.MaxWait,
			Chains:      app.buildChains(reg),
			PoolFor:     poolFor,
			DefaultPool: cfg.Queue.DefaultPool,
		},
		limiter, resultCache, app.pools, controller, processes, logger, app.metrics,
	)

	emitter := events.NewInMemoryEmitter(logger)
	emitter.RegisterHandler(events.NewLogHandler(logger))

	app.queue = queue.New(
		app.pools,
		func(ctx context.Context, t *task.Task) (any, error) {
			// The queue already holds a pool slot for the task, so
			// the executor calls the pipeline without pool dispatch.
			return app.orch.ProcessInline(ctx, t.Kind, t.Payload)
		},
		queue.Config{
			Retention:   cfg.Queue.Retention,
			PoolFor:     poolFor,
			DefaultPool: cfg.Queue.DefaultPool,
			Emitter:     emitter,
		},
		logger, app.metrics,
	)

	return app, nil
}

// setupProcessStore selects the audit store: PostgreSQL when a
// database URL is configured, in-memory otherwise.
func (app *application) setupProcessStore() (store.ProcessStore, error) {
	if app.config.Database.URL == "" {
		app.logger.Info("No database configured, using in-memory process store")
		return store.NewMemoryProcessStore(), nil
	}

	db, err := setupAppDatabase(app.config, app.logger)
	if err != nil {
		return nil, err
	}
	app.db = db

	if err := runMigrations(db, app.logger); err != nil {
		return nil, err
	}
	return postgres.NewProcessStore(db), nil
}

// setupCache selects Redis when an address is configured, falling
// back to the in-process LRU cache.
func (app *application) setupCache() cache.Cache {
	if app.config.Cache.RedisAddr == "" {
		app.logger.Info("No Redis configured, using in-memory cache",
			"max_entries", app.config.Cache.MaxEntries)
		return cache.NewMemory(app.config.Cache.MaxEntries)
	}

	app.redisClient = redis.NewClient(&redis.Options{
		Addr:     app.config.Cache.RedisAddr,
		Password: app.config.Cache.RedisPassword,
		DB:       app.config.Cache.RedisDB,
	})
	app.logger.Info("Using Redis cache", "addr", app.config.Cache.RedisAddr)
	return cache.NewRedis(app.redisClient)
}

// setupBackends registers the configured backends.
func (app *application) setupBackends() (*registry.Registry, error) {
	reg := registry.New()

	for _, sc := range app.config.Backends.Static {
		reg.Register(&backend.Static{
			BackendName: sc.Name,
			Value:       sc.Value,
			ServedKinds: parseKinds(sc.Kinds),
		})
	}

	for _, hc := range app.config.Backends.HTTP {
		b, err := backend.NewHTTP(app.logger, backend.HTTPConfig{
			Name:    hc.Name,
			URL:     hc.URL,
			APIKey:  hc.APIKey,
			Kinds:   parseKinds(hc.Kinds),
			Timeout: hc.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build HTTP backend %q: %w", hc.Name, err)
		}
		reg.Register(b)
	}

	if app.config.Backends.Gemini.APIKey != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		g, err := backend.NewGemini(ctx, app.logger, backend.GeminiConfig{
			APIKey: app.config.Backends.Gemini.APIKey,
			Model:  app.config.Backends.Gemini.Model,
			Kinds:  parseKinds(app.config.Backends.Gemini.Kinds),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build Gemini backend: %w", err)
		}
		reg.Register(g)
	}

	if len(reg.Names()) == 0 {
		return nil, fmt.Errorf("no backends configured")
	}
	app.logger.Info("Backends registered", "backends", reg.Names())
	return reg, nil
}

// buildChains turns the configured chains into fallback endpoints.
// Kinds without explicit configuration get a chain of every
// registered backend serving that kind, in registration name order.
func (app *application) buildChains(reg *registry.Registry) map[task.Kind][]fallback.Endpoint {
	chains := make(map[task.Kind][]fallback.Endpoint)

	for rawKind, entries := range app.config.Chains {
		kind := task.Kind(rawKind)
		if !kind.Valid() {
			app.logger.Warn("Ignoring chain for unknown kind", "kind", rawKind)
			continue
		}
		eps := make([]fallback.Endpoint, 0, len(entries))
		for _, e := range entries {
			eps = append(eps, fallback.Endpoint{
				Name:       e.Name,
				Timeout:    e.Timeout,
				MaxRetries: e.MaxRetries,
				BaseDelay:  e.BaseDelay,
				MaxDelay:   e.MaxDelay,
			})
		}
		chains[kind] = eps
	}

	for _, kind := range []task.Kind{task.KindAudio, task.KindImage, task.KindText, task.KindUpload, task.KindQuery, task.KindGeneric} {
		if _, ok := chains[kind]; ok {
			continue
		}
		for _, name := range reg.ForKind(kind) {
			chains[kind] = append(chains[kind], fallback.Endpoint{
				Name:       name,
				Timeout:    60 * time.Second,
				MaxRetries: 3,
			})
		}
	}

	return chains
}

// buildPoolFor converts the configured kind-to-pool routing. Entries
// for unknown kinds are dropped with a warning; Load has already
// checked that every target pool exists.
func (app *application) buildPoolFor() map[task.Kind]string {
	routing := make(map[task.Kind]string, len(app.config.PoolFor))
	for rawKind, name := range app.config.PoolFor {
		kind := task.Kind(rawKind)
		if !kind.Valid() {
			app.logger.Warn("Ignoring pool routing for unknown kind", "kind", rawKind)
			continue
		}
		routing[kind] = name
	}
	return routing
}

// cleanup releases resources in reverse dependency order.
func (app *application) cleanup() {
	if app.queue != nil {
		app.queue.Close()
	}
	if app.pools != nil {
		dropped := app.pools.ShutdownAll(app.config.Server.ShutdownTimeout)
		if dropped > 0 {
			app.logger.Warn("Dropped queued work during shutdown", "dropped", dropped)
		}
	}
	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			app.logger.Error("Failed to close Redis client", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Failed to close database connection", "error", err)
		}
	}
}

func parseKinds(raw []string) []task.Kind {
	kinds := make([]task.Kind, 0, len(raw))
	for _, r := range raw {
		k := task.Kind(r)
		if k.Valid() {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
