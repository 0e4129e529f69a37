// Package main is the entry point for the API server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/artisan/internal/api"
	"github.com/onnwee/artisan/internal/auth"
	"github.com/onnwee/artisan/internal/broadcast"
	"github.com/onnwee/artisan/internal/catalog"
	"github.com/onnwee/artisan/internal/config"
	"github.com/onnwee/artisan/internal/counters"
	"github.com/onnwee/artisan/internal/db"
	"github.com/onnwee/artisan/internal/embedding"
	"github.com/onnwee/artisan/internal/health"
	"github.com/onnwee/artisan/internal/jobs"
	"github.com/onnwee/artisan/internal/middleware"
	"github.com/onnwee/artisan/internal/ranking"
	"github.com/onnwee/artisan/internal/toggle"
	"github.com/onnwee/artisan/internal/tracing"
	"github.com/onnwee/artisan/internal/trust"
	"github.com/onnwee/artisan/internal/trustcache"
)

const (
	serviceName         = "artisan-api"
	shutdownTimeout     = 10 * time.Second
	startupPingTimeout  = 5 * time.Second
	rateLimitSweepEvery = 5 * time.Minute
	scoreEventCapacity  = 256
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Artisan Marketplace API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	summary := make([]any, 0, 2*len(cfg.LogSummary()))
	for k, v := range cfg.LogSummary() {
		summary = append(summary, k, v)
	}
	logger.Info("configuration loaded", summary...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize server", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	a.start(ctx)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		logger.Error("server error", "error", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	a.close(shutdownCtx)

	logger.Info("server stopped")
}

// trustStore is the event ledger and score history in one backend.
type trustStore interface {
	trust.EventStore
	trust.SnapshotStore
}

// app is the fully wired service: the HTTP handler plus the background
// loops and connections that outlive a single request.
type app struct {
	logger  *slog.Logger
	handler http.Handler

	reconcile *trust.ReconcileJob
	refresh   *trustcache.RefreshScheduler
	limits    *middleware.InMemoryRateLimitStore
	tracer    *tracing.Provider
	db        *sql.DB
	redis     *redis.Client

	stopSweep chan struct{}
}

// newApp builds every component from cfg. Without a database URL the trust
// and catalog stores are in memory, which config validation only permits
// outside production.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger, stopSweep: make(chan struct{})}

	tracer, err := tracing.NewProvider(tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Enabled:        cfg.TracingEnabled,
		Environment:    cfg.Env,
		ExporterType:   cfg.TracingExporter,
		OTLPEndpoint:   cfg.TracingEndpoint,
		SamplingRate:   cfg.TracingSampleRate,
		InsecureMode:   cfg.TracingInsecure,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracer = tracer

	registry := prometheus.NewRegistry()
	eventCounters := counters.NewPrometheus()
	trustMetrics := trust.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	httpMetrics := middleware.NewMetrics()
	for _, r := range []interface {
		Register(prometheus.Registerer) error
	}{eventCounters, trustMetrics, jobMetrics, httpMetrics} {
		if err := r.Register(registry); err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	checkers := map[string]health.Checker{}

	var (
		store    trustStore
		listings catalog.ListingRepository
	)
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(ctx, cfg.DatabaseURL, db.Options{})
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.db = conn
		store = trust.NewPostgresStore(conn)
		listings = catalog.NewPostgresListingRepository(conn)
		checkers["database"] = health.NewDBChecker(conn)
		logger.Info("using postgres stores")
	} else {
		mem := trust.NewMemoryStore()
		store = mem
		listings = catalog.NewInMemoryListingRepository(mem)
		logger.Warn("no database configured, using in-memory stores")
	}

	var (
		cacheBackend trustcache.Backend
		limitStore   middleware.RateLimitStore
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		a.redis = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable at startup, continuing", "error", err)
		}
		cancel()
		cacheBackend = trustcache.NewRedisBackend(a.redis)
		limitStore = middleware.NewRedisRateLimitStore(a.redis)
		checkers["redis"] = health.NewRedisChecker(a.redis)
	} else {
		a.limits = middleware.NewInMemoryRateLimitStore()
		limitStore = a.limits
	}

	toggles := toggle.NewStatic(map[string]bool{
		toggle.ReputationEdges: cfg.ReputationEdgesEnabled,
		toggle.RankTrust:       cfg.RankTrustEnabled,
	})

	scores := trustcache.NewService(trustcache.Config{
		Logger:       logger,
		TTL:          cfg.TrustCacheTTL,
		ChunkTimeout: cfg.TrustChunkTimeout,
		Counters:     eventCounters,
		Backend:      cacheBackend,
	}, store)
	scoreEvents := trust.NewScoreEventLog(scoreEventCapacity)
	live := broadcast.New(broadcast.Config{Logger: logger})

	persister := trust.NewPersister(trust.PersisterConfig{
		Logger:    logger,
		Listeners: []trust.ScoreListener{scores, scoreEvents, live},
	}, store)
	recomputer := trust.NewRecomputer(store, persister, nil)
	dirty := trust.NewDirtyTracker()
	ledger := trust.NewLedger(trust.LedgerConfig{
		Logger:   logger,
		Metrics:  trustMetrics,
		Counters: eventCounters,
		Toggles:  toggles,
		Dirty:    dirty,
	}, store, recomputer)

	a.reconcile = trust.NewReconcileJob(trust.ReconcileJobConfig{
		Interval:   cfg.TrustReconcileInterval,
		Logger:     logger,
		Metrics:    trustMetrics,
		JobMetrics: jobMetrics,
	}, dirty, recomputer)
	a.refresh = trustcache.NewRefreshScheduler(trustcache.RefreshConfig{
		Interval:   cfg.TrustRefreshInterval,
		TopN:       cfg.TrustPreloadTopN,
		Timeout:    cfg.TrustRefreshTimeout,
		Logger:     logger,
		JobMetrics: jobMetrics,
	}, scores)

	var similarity embedding.Similarity
	if cfg.EmbeddingURL != "" {
		scorer := embedding.NewCosineScorer(embedding.CosineConfig{Logger: logger},
			embedding.NewClient(cfg.EmbeddingURL, cfg.EmbeddingModel))
		similarity = scorer
		listings = catalog.NewIndexingRepository(catalog.IndexingConfig{Logger: logger}, listings, scorer)
	} else {
		logger.Info("no embedding provider configured, semantic signal disabled")
	}
	weights, err := ranking.LoadCalibration(cfg.RankingCalibrationPath)
	if err != nil {
		logger.Warn("ranking calibration not applied", "error", err)
	}
	ranker := ranking.NewRanker(ranking.RankerConfig{
		Logger:   logger,
		Weights:  weights,
		Counters: eventCounters,
		Toggles:  toggles,
	}, similarity, scores)

	verifier := auth.NewVerifier(auth.VerifierConfig{
		Secret:         cfg.JWTSecret,
		PreviousSecret: cfg.JWTPreviousSecret,
		Issuer:         cfg.JWTIssuer,
	})

	writeLimit := middleware.DefaultWriteLimit()
	searchLimit := middleware.DefaultSearchLimit()
	mux := api.NewRouter(api.RouterConfig{
		Health: api.NewHealthHandlers(api.HealthHandlersConfig{
			Checkers: checkers,
			Logger:   logger,
		}),
		Ledger: api.NewLedgerHandlers(ledger, logger),
		Trust: api.NewTrustHandlers(api.TrustHandlersConfig{
			Logger:      logger,
			Snapshots:   store,
			Scores:      scores,
			Dirty:       dirty,
			Events:      scoreEvents,
			Broadcaster: live,
		}),
		Search:   api.NewSearchHandlers(api.SearchHandlersConfig{Logger: logger}, listings, ranker),
		Verifier: verifier,
		Limits: api.RateLimits{
			Write:  middleware.RateLimiter(limitStore, writeLimit, middleware.UserKeyFunc(), middleware.PolicyWrite, httpMetrics),
			Search: middleware.RateLimiter(limitStore, searchLimit, middleware.IPKeyFunc(), middleware.PolicySearch, httpMetrics),
		},
		Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	})

	a.handler = api.Chain(mux, serviceName, middleware.Logging(logger), httpMetrics)
	return a, nil
}

// start launches the background loops. They stop when ctx is cancelled or
// close is called.
func (a *app) start(ctx context.Context) {
	a.reconcile.Start(ctx)
	a.refresh.Start(ctx)

	if a.limits != nil {
		go func() {
			ticker := time.NewTicker(rateLimitSweepEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					a.limits.Cleanup()
				case <-a.stopSweep:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	}
}

// close stops background work and releases connections. Safe to call more
// than once and on a partially built app.
func (a *app) close(ctx context.Context) {
	if a.refresh != nil {
		a.refresh.Stop()
	}
	if a.reconcile != nil {
		a.reconcile.Stop()
	}
	select {
	case <-a.stopSweep:
	default:
		close(a.stopSweep)
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("failed to close redis", "error", err)
		}
		a.redis = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("failed to close database", "error", err)
		}
		a.db = nil
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Error("failed to shut down tracing", "error", err)
		}
		a.tracer = nil
	}
}
