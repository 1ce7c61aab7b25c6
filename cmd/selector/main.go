package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sidmenon/shardselect/internal/events"
	"github.com/sidmenon/shardselect/internal/registry"
	"github.com/sidmenon/shardselect/internal/selection"
	selcache "github.com/sidmenon/shardselect/internal/selection/cache"
	"github.com/sidmenon/shardselect/internal/server"
	"github.com/sidmenon/shardselect/internal/stats"
	"github.com/sidmenon/shardselect/pkg/config"
	"github.com/sidmenon/shardselect/pkg/health"
	"github.com/sidmenon/shardselect/pkg/kafka"
	"github.com/sidmenon/shardselect/pkg/logger"
	"github.com/sidmenon/shardselect/pkg/metrics"
	"github.com/sidmenon/shardselect/pkg/middleware"
	"github.com/sidmenon/shardselect/pkg/postgres"
	pkgredis "github.com/sidmenon/shardselect/pkg/redis"
	"github.com/sidmenon/shardselect/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting shard selection service",
		"port", cfg.Server.Port,
		"stats_path", cfg.Stats.Path,
	)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdownMetrics(ctx)
		}()
	}

	store := stats.NewStore()
	if err := store.Load(cfg.Stats.Path); err != nil {
		slog.Error("failed to load statistics snapshot", "path", cfg.Stats.Path, "error", err)
		os.Exit(1)
	}
	if m != nil {
		observeSnapshot(m, store.Snapshot())
	}

	var selCache *selcache.SelectionCache
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, selection caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		selCache = selcache.New(redisClient, cfg.Redis)
		slog.Info("selection cache enabled",
			"addr", cfg.Redis.Addr,
			"ttl", cfg.Redis.CacheTTL.Std(),
		)
	}

	var reg *registry.Registry
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, shard registry disabled", "error", err)
		} else {
			defer pgClient.Close()
			reg = registry.New(pgClient)
			slog.Info("shard registry enabled", "host", cfg.Postgres.Host)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SelectionEvents)
	defer producer.Close()
	collector := events.NewCollector(producer, 10000)
	collector.Start(ctx)
	defer collector.Close()
	slog.Info("selection event collector started", "topic", cfg.Kafka.Topics.SelectionEvents)

	// A stats-published event reloads the snapshot (with retry, the file may
	// still be mid-publish) and drops every cached ranking derived from the
	// previous one.
	reloadConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.StatsPublished,
		func(ctx context.Context, key, value []byte) error {
			statsPath := cfg.Stats.Path
			if len(value) > 0 {
				notice, err := kafka.DecodeJSON[events.StatsPublished](value)
				if err != nil {
					slog.Warn("malformed stats-published payload, using configured path", "error", err)
				} else if notice.Path != "" {
					statsPath = notice.Path
				}
			}
			err := resilience.Retry(ctx, "stats-reload", resilience.RetryConfig{MaxAttempts: 5}, func() error {
				return resilience.WithTimeout(ctx, 30*time.Second, "stats-load", func(ctx context.Context) error {
					return store.Load(statsPath)
				})
			})
			if err != nil {
				if m != nil {
					m.SnapshotLoadsTotal.WithLabelValues("error").Inc()
				}
				return err
			}
			if m != nil {
				m.SnapshotLoadsTotal.WithLabelValues("ok").Inc()
				observeSnapshot(m, store.Snapshot())
			}
			if selCache != nil {
				if err := selCache.Invalidate(ctx); err != nil {
					slog.Error("cache invalidation after reload failed", "error", err)
				}
			}
			snap := store.Snapshot()
			if reg != nil {
				if err := reg.SyncDocumentCounts(ctx, snapshotCounts(snap)); err != nil {
					slog.Error("registry sync after reload failed", "error", err)
				}
			}
			if err := producer.Publish(ctx, kafka.Event{
				Key: string(events.EventSnapshotLoad),
				Value: events.SnapshotEvent{
					Type:      events.EventSnapshotLoad,
					Path:      statsPath,
					Shards:    snap.ShardCount(),
					Dropped:   snap.Dropped(),
					Timestamp: time.Now().UTC(),
				},
			}); err != nil {
				slog.Error("failed to publish snapshot event", "error", err)
			}
			return nil
		})
	go func() {
		if err := reloadConsumer.Start(ctx); err != nil {
			slog.Error("stats reload consumer error", "error", err)
		}
	}()

	checker := health.NewChecker()
	checker.Register("stats_snapshot", func(ctx context.Context) health.ComponentHealth {
		snap := store.Snapshot()
		if snap == nil || snap.ShardCount() == 0 {
			return health.ComponentHealth{Status: health.StatusDown, Message: "no snapshot loaded"}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d shards, loaded %s", snap.ShardCount(), snap.LoadedAt().Format(time.RFC3339)),
		}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	evaluator := selection.NewEvaluator(store, cfg.Selection, m)
	h := server.New(evaluator, selCache, collector, reg, store, *cfg, m)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/select", h.Select)
	mux.HandleFunc("POST /api/v1/stats/reload", h.ReloadStats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.Timeout(cfg.Server.WriteTimeout.Std())(chain)
	chain = middleware.RequestID(chain)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("shard selection service listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("shard selection service stopped")
}

func snapshotCounts(snap *stats.Snapshot) map[int]int64 {
	if snap == nil {
		return nil
	}
	counts := make(map[int]int64, snap.ShardCount())
	for shardID := 0; shardID < snap.ShardCount(); shardID++ {
		counts[shardID] = snap.DocumentCount(shardID)
	}
	return counts
}

func observeSnapshot(m *metrics.Metrics, snap *stats.Snapshot) {
	if snap == nil {
		return
	}
	m.ActiveShards.Set(float64(snap.ShardCount()))
	for shardID := 0; shardID < snap.ShardCount(); shardID++ {
		m.ShardDocCount.WithLabelValues(fmt.Sprintf("%d", shardID)).
			Set(float64(snap.DocumentCount(shardID)))
	}
	if snap.Dropped() > 0 {
		m.RecordsDroppedTotal.Add(float64(snap.Dropped()))
	}
}
