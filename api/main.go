package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/rollups/api/config"
	"github.com/malbeclabs/rollups/api/db"
	"github.com/malbeclabs/rollups/api/handlers"
	"github.com/malbeclabs/rollups/api/metrics"
	"github.com/malbeclabs/rollups/api/store"
	"github.com/malbeclabs/rollups/utils/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultMetricsAddr = "0.0.0.0:0"
	defaultPort        = "8080"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics")
	migrationsEnableFlag := flag.Bool("migrations-enable", false, "run ClickHouse and PostgreSQL migrations on startup")
	flag.Parse()

	// Load .env files if they exist. godotenv does not override existing env vars.
	_ = godotenv.Load()           // .env in current working directory
	_ = godotenv.Load("api/.env") // api/.env when running from repo root

	if os.Getenv("VERBOSE") == "true" {
		*verboseFlag = true
	}
	if os.Getenv("MIGRATIONS_ENABLE") == "true" {
		*migrationsEnableFlag = true
	}

	log := logger.New(*verboseFlag)
	slog.SetDefault(log)

	log.Info("starting rollups-api", "version", version, "commit", commit, "date", date)
	handlers.SetBuildInfo(version, commit, date)

	// Sentry is optional; a no-op when SENTRY_DSN is not set
	sentryDSN := os.Getenv("SENTRY_DSN")
	if sentryDSN != "" {
		sentryEnv := os.Getenv("SENTRY_ENVIRONMENT")
		if sentryEnv == "" {
			sentryEnv = "development"
		}
		release := version
		if commit != "none" {
			release = version + "-" + commit
		}
		tracesSampleRate := 0.1
		if sentryEnv == "development" {
			tracesSampleRate = 1.0
		}
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              sentryDSN,
			Environment:      sentryEnv,
			Release:          release,
			EnableTracing:    true,
			TracesSampleRate: tracesSampleRate,
		})
		if err != nil {
			log.Warn("sentry initialization failed", "error", err)
		} else {
			log.Info("sentry initialized", "env", sentryEnv, "release", release)
			defer sentry.Flush(2 * time.Second)
		}
	}

	if err := config.Load(); err != nil {
		return fmt.Errorf("failed to load clickhouse: %w", err)
	}
	defer config.Close()

	if err := config.LoadPostgres(); err != nil {
		return fmt.Errorf("failed to load postgres: %w", err)
	}
	defer config.ClosePostgres()

	if err := config.LoadRedis(); err != nil {
		return fmt.Errorf("failed to load redis: %w", err)
	}
	defer func() { _ = config.CloseRedis() }()

	if *migrationsEnableFlag {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := db.MigrateClickHouse(ctx, log, config.Options(config.ClickHouse()))
		if err == nil {
			err = db.MigratePostgres(ctx, log, config.PostgresURL())
		}
		cancel()
		if err != nil {
			return err
		}
	}

	registry, err := store.NewSourceRegistry(store.SourceRegistryConfig{
		Logger:   log,
		Postgres: config.PgPool,
	})
	if err != nil {
		return fmt.Errorf("failed to create source registry: %w", err)
	}

	cacheTTL := config.SourceCacheTTL(store.DefaultSourceCacheTTL)
	var cache store.SourceCache
	if config.Redis != nil {
		cache = store.NewRedisCache(config.Redis, cacheTTL)
	} else {
		cache = store.NewMemoryCache(clockwork.NewRealClock(), cacheTTL)
	}

	rollups, err := store.NewRollupStore(store.RollupStoreConfig{
		Logger:     log,
		ClickHouse: config.DB,
		Sources:    store.NewCachedResolver(log, registry, cache),
	})
	if err != nil {
		return fmt.Errorf("failed to create rollup store: %w", err)
	}

	handlers.InitAggregations(rollups)
	handlers.InitSources(registry)

	// Start metrics server
	var metricsServer *http.Server
	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		listener, err := net.Listen("tcp", *metricsAddrFlag)
		if err != nil {
			log.Error("failed to start prometheus metrics server listener", "error", err)
		} else {
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			metricsServer = &http.Server{Handler: mux}
			go func() {
				if err := metricsServer.Serve(listener); err != nil && err != http.ErrServerClosed {
					log.Error("metrics server error", "error", err)
				}
			}()
		}
	}

	r := chi.NewRouter()

	r.Use(middleware.Logger)

	// Sentry middleware goes before Recoverer so panics are captured
	if sentryDSN != "" {
		sentryHandler := sentryhttp.New(sentryhttp.Options{
			Repanic: true,
		})
		r.Use(sentryHandler.Handle)
	}

	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	corsOrigins := []string{"*"}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		corsOrigins = strings.Split(origins, ",")
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	handlers.Routes(r)

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("API server starting", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		log.Info("received signal, shutting down gracefully", "signal", sig.String())
	}

	// Readiness probe returns 503 from here on
	handlers.MarkShuttingDown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown error", "error", err)
	} else {
		log.Info("server stopped gracefully")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error("metrics server shutdown error", "error", err)
		}
	}

	return nil
}
