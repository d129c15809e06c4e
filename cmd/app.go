package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/changepipe/internal/cache"
	"github.com/wegman-software/changepipe/internal/changeset"
	"github.com/wegman-software/changepipe/internal/geometry"
	"github.com/wegman-software/changepipe/internal/logger"
	"github.com/wegman-software/changepipe/internal/metrics"
	"github.com/wegman-software/changepipe/internal/osmapi"
	"github.com/wegman-software/changepipe/internal/overlap"
	"github.com/wegman-software/changepipe/internal/region"
	"github.com/wegman-software/changepipe/internal/watch"
)

// app wires the cache, the API resolver and the overlap engine from cfg
type app struct {
	store      cache.Store
	entities   *cache.Entities
	resolver   *osmapi.Resolver
	changesets *changeset.Resolver
	engine     *overlap.Engine
	watcher    *watch.Watcher
	region     region.Region
}

func newApp(ctx context.Context) (*app, error) {
	r, err := resolveRegion()
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	entities := cache.NewEntities(store)

	client := osmapi.NewClient(osmapi.Options{
		BaseURL:         cfg.APIURL,
		Timeout:         cfg.APITimeout,
		MaxRetries:      cfg.APIRetries,
		RetryDelay:      2 * time.Second,
		UserAgent:       cfg.UserAgent,
		BreakerFailures: 5,
		BreakerCooldown: time.Minute,
	})
	resolver := osmapi.NewResolver(client, entities, osmapi.ResolverOptions{
		BatchSize:   cfg.BatchSize,
		Concurrency: cfg.BatchConcurrency,
	})

	changesets := changeset.NewResolver(entities, resolver)
	engine := overlap.NewEngine(entities,
		geometry.NewBuilder(entities, resolver),
		changesets,
		overlap.WithNearBuffer(cfg.NearBuffer))

	logger.Get().Debug("Pipeline ready",
		zap.String("backend", cfg.Backend),
		zap.Stringer("region", r),
		zap.String("api", client.BaseURL()))

	return &app{
		store:      store,
		entities:   entities,
		resolver:   resolver,
		changesets: changesets,
		engine:     engine,
		watcher:    watch.NewWatcher(entities, engine, cfg.Workers),
		region:     r,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logger.Get().Warn("Failed to close cache", zap.Error(err))
	}
}

// purge drops expired rows on backends that do not expire keys themselves
func (a *app) purge(ctx context.Context) {
	pg, ok := a.store.(*cache.PostgresStore)
	if !ok {
		return
	}
	if _, err := pg.Purge(ctx); err != nil {
		logger.Get().Warn("Failed to purge cache", zap.Error(err))
	}
}

func resolveRegion() (region.Region, error) {
	presets := region.Builtin()
	if cfg.RegionsFile != "" {
		var err error
		if presets, err = region.LoadPresets(cfg.RegionsFile); err != nil {
			return region.Region{}, err
		}
	}
	return presets.Resolve(cfg.Region, cfg.BBox)
}

func openStore(ctx context.Context) (cache.Store, error) {
	switch cfg.Backend {
	case "memory":
		return cache.NewMemoryStore(cfg.CacheTTL), nil
	case "redis":
		store, err := cache.OpenRedis(ctx, cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, cfg.CacheTTL)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		store, err := cache.OpenPostgres(ctx, cfg.ConnectionString(), cfg.DBSchema, cfg.CacheTTL)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q (want memory, redis or postgres)", cfg.Backend)
	}
}

// serveMetrics exposes /metrics until ctx is cancelled
func serveMetrics(ctx context.Context, addr string) {
	log := logger.Get()
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		log.Info("Serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Metrics server failed", zap.Error(err))
		}
	}()
}

// startCollector logs system metrics every cfg.MetricsInterval until ctx is cancelled
func startCollector(ctx context.Context) {
	if cfg.MetricsInterval <= 0 {
		return
	}
	go metrics.NewCollector(cfg.MetricsInterval, logger.Named("metrics")).Start(ctx)
}
