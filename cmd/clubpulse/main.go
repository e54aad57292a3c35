// Package main is the entry point for the clubpulse dashboard server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/pitabwire/clubpulse/internal/aggregate"
	"github.com/pitabwire/clubpulse/internal/config"
	"github.com/pitabwire/clubpulse/internal/dashboard"
	"github.com/pitabwire/clubpulse/internal/daterange"
	"github.com/pitabwire/clubpulse/internal/drilldown"
	"github.com/pitabwire/clubpulse/internal/export"
	"github.com/pitabwire/clubpulse/internal/lookup"
	"github.com/pitabwire/clubpulse/internal/observability"
	"github.com/pitabwire/clubpulse/internal/query"
	"github.com/pitabwire/clubpulse/internal/reporting"
	"github.com/pitabwire/clubpulse/internal/session"
	"github.com/pitabwire/clubpulse/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

const sweepInterval = 10 * time.Minute

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags and load .env files.
	configPath := flag.StringP("config", "c", "config.yaml", "path to configuration file")
	envFile := flag.String("env-file", ".env", "optional dotenv file")
	showVersion := flag.BoolP("version", "v", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("clubpulse %s (%s)\n", version, commit)
		return 0
	}

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "env file error: %v\n", err)
		return 1
	}

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "clubpulse", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.InitMetrics(registry)

	// Step 4: Reporting API client, optionally checked against its contract.
	if cfg.Reporting.SpecFile != "" {
		missing, err := reporting.VerifyContract(ctx, cfg.Reporting.SpecFile)
		if err != nil {
			logger.Error("reporting contract check failed", zap.Error(err))
			return 1
		}
		for _, endpoint := range missing {
			logger.Warn("reporting API does not declare endpoint", zap.String("endpoint", endpoint))
		}
	}

	clock := clockwork.NewRealClock()
	client := reporting.NewClient(cfg.Reporting,
		reporting.WithServiceToken(os.Getenv(cfg.Reporting.TokenEnv)),
		reporting.WithMetrics(metrics),
		reporting.WithLogger(logger),
		reporting.WithClock(clock),
	)

	// Step 5: Date ranges and query building.
	loc, err := cfg.Dashboard.Location()
	if err != nil {
		logger.Error("invalid dashboard time zone", zap.String("timezone", cfg.Dashboard.Timezone), zap.Error(err))
		return 1
	}
	builder := query.NewBuilder(daterange.NewCalculator(clock, loc))

	// Step 6: Lookups with the optional shared cache.
	lookupOpts := []lookup.Option{
		lookup.WithClock(clock),
		lookup.WithMetrics(metrics),
		lookup.WithLogger(logger),
	}
	lookupRedis, err := buildLookupRedis(ctx, cfg.Lookup.Redis, logger)
	if err != nil {
		logger.Error("lookup cache initialization failed", zap.Error(err))
		return 1
	}
	if lookupRedis != nil {
		lookupOpts = append(lookupOpts, lookup.WithSharedCache(lookup.NewRedisCache(lookupRedis, cfg.Lookup.Redis.TTL)))
	}
	lookups := lookup.NewProvider(client, cfg.Lookup.Cache.TTL, cfg.Lookup.Cache.MaxEntries, lookupOpts...)

	// Step 7: Session store.
	store, storeCloser, err := buildSessionStore(ctx, cfg.Session, clock, logger)
	if err != nil {
		logger.Error("session store initialization failed", zap.Error(err))
		return 1
	}

	// Step 8: Dashboard components.
	aggregator := aggregate.New(client, builder, lookups,
		aggregate.WithClock(clock),
		aggregate.WithMetrics(metrics),
		aggregate.WithLogger(logger),
	)
	controller := drilldown.NewController(client, builder, lookups,
		drilldown.WithPageSize(cfg.Dashboard.PageSize),
		drilldown.WithMetrics(metrics),
		drilldown.WithLogger(logger),
	)
	service := dashboard.NewService(store, aggregator, controller, cfg.Dashboard,
		dashboard.WithMetrics(metrics),
		dashboard.WithLogger(logger),
	)
	exporter := export.New(client, builder, lookups,
		export.WithMetrics(metrics),
		export.WithLogger(logger),
	)

	// Step 9: Build HTTP router.
	authenticate, err := transport.NewAuthenticator(cfg.Identity, os.Getenv)
	if err != nil {
		logger.Error("identity initialization failed", zap.Error(err))
		return 1
	}
	if cfg.Identity.Disabled {
		logger.Warn("token validation disabled, all requests run as the anonymous subject",
			zap.String("subject", cfg.Identity.AnonymousSubject))
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Authenticate: authenticate,
		Dashboard:    service,
		Lookups:      lookups,
		Exporter:     exporter,
		Metrics:      metrics,
		Gatherer:     registry,
		Readiness: observability.ReadinessChecks{
			SessionStore: store,
			Reporting:    client,
			LookupCache:  lookups,
		},
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 10: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	go runSessionSweeper(bgCtx, store, clock, logger)
	if lookupRedis != nil {
		// Bumps from other replicas drop the local entries.
		lookup.Subscribe(bgCtx, lookupRedis, lookups.Flush)
	}

	// Step 11: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("session_driver", cfg.Session.Driver),
		zap.Bool("shared_lookup_cache", lookupRedis != nil),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	bgCancel()

	if storeCloser != nil {
		storeCloser()
	}
	if lookupRedis != nil {
		_ = lookupRedis.Close()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildLookupRedis connects the shared lookup cache. Returns nil when it is
// disabled.
func buildLookupRedis(ctx context.Context, cfg config.RedisCacheConfig, logger *zap.Logger) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	addr := os.Getenv(cfg.AddrEnv)
	if addr == "" {
		return nil, fmt.Errorf("lookup cache: %s environment variable not set", cfg.AddrEnv)
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("lookup cache: ping: %w", err)
	}
	logger.Info("using redis shared lookup cache", zap.Int("db", cfg.DB))
	return client, nil
}

// buildSessionStore creates the session store based on config.
func buildSessionStore(ctx context.Context, cfg config.SessionConfig, clock clockwork.Clock, logger *zap.Logger) (session.Store, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory session store")
		return session.NewMemoryStore(cfg.TTL, clock), nil, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("session store: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("session store: ping: %w", err)
		}
		logger.Info("using redis session store", zap.Int("db", cfg.DB))
		return session.NewRedisStore(client, cfg.TTL), func() { _ = client.Close() }, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("session store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("session store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("session store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("session store: ping: %w", err)
		}

		if err := session.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("session store: %w", err)
		}
		logger.Info("using postgres session store")
		return session.NewPgStore(pool, cfg.TTL), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session store driver: %q", cfg.Driver)
	}
}

// runSessionSweeper periodically removes expired sessions.
func runSessionSweeper(ctx context.Context, store session.Store, clock clockwork.Clock, logger *zap.Logger) {
	ticker := clock.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			n, err := store.DeleteExpired(ctx, clock.Now())
			if err != nil {
				logger.Error("session sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("expired sessions removed", zap.Int("count", n))
			}
		}
	}
}
