// inkwell-permd serves the unified permission resolution engine: the
// internal query API, health and metrics endpoints, and the in-process
// expiry sweeper.
package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inkwellhq/inkwell/pkg/config"
	"github.com/inkwellhq/inkwell/pkg/observability"
	"github.com/inkwellhq/inkwell/pkg/permissions"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.LogLevel, os.Stdout)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	if err := permissions.RunMigrations(ctx, db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	registry := prometheus.NewRegistry()
	metrics := permissions.NewMetrics(registry)

	store := permissions.NewStore(db)
	index := permissions.NewHierarchyIndex(
		permissions.NewSQLChainSource(db),
		cfg.Engine.HierarchyCacheSize,
		cfg.Engine.HierarchyCacheTTL,
	)
	service := permissions.NewQueryService(store, index, metrics)

	// The cached service doubles as the materializer's invalidation hook so
	// an actor sees their own change on the next check.
	var redisClient *redis.Client
	var cached permissions.Service
	var invalidator permissions.CheckCacheInvalidator
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		defer redisClient.Close()
		redisCache := permissions.NewRedisCheckCache(service, redisClient, cfg.Engine.CheckCacheTTL, metrics)
		cached, invalidator = redisCache, redisCache
	} else {
		memCache := permissions.NewCachedService(service, cfg.Engine.CheckCacheSize, cfg.Engine.CheckCacheTTL, metrics)
		cached, invalidator = memCache, memCache
	}

	materializer := permissions.NewMaterializer(
		store,
		permissions.NewSQLGroupDirectory(db),
		index,
		logger,
		permissions.WithCheckCacheInvalidator(invalidator),
		permissions.WithMaterializerMetrics(metrics),
		permissions.WithFanoutWorkers(cfg.Engine.FanoutWorkers),
	)

	sweeper := permissions.NewSweeper(store, cfg.Engine.SweepInterval, logger, metrics)
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	go sweeper.Run(sweepCtx)

	router := mux.NewRouter()
	router.Use(permissions.RequestID)
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(observability.WithLogger(r.Context(), logger)))
		})
	})
	permissions.NewHandlers(cached, logger).RegisterRoutes(router)
	permissions.NewEventHandlers(materializer, logger).RegisterRoutes(router)

	health := observability.NewHealthChecker(db, redisClient, sweeper, 5*cfg.Engine.SweepInterval)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	healthMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	go func() {
		logger.Infof("permission engine listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server failed: %v", err)
		}
	}()
	go func() {
		logger.Infof("health/metrics listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Health server failed: %v", err)
		}
	}()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.Register(func(context.Context) error {
		stopSweeper()
		return nil
	})
	if err := shutdown.Wait(); err != nil {
		logger.WithError(err).Error("shutdown finished with errors")
		os.Exit(1)
	}
}
