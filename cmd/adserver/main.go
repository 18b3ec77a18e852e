package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/patrickwarner/adengine/internal/analytics"
	"github.com/patrickwarner/adengine/internal/api"
	"github.com/patrickwarner/adengine/internal/archive"
	"github.com/patrickwarner/adengine/internal/cache"
	"github.com/patrickwarner/adengine/internal/config"
	"github.com/patrickwarner/adengine/internal/db"
	"github.com/patrickwarner/adengine/internal/geoip"
	"github.com/patrickwarner/adengine/internal/logic"
	"github.com/patrickwarner/adengine/internal/logic/ratelimit"
	"github.com/patrickwarner/adengine/internal/logic/selectors"
	"github.com/patrickwarner/adengine/internal/models"
	"github.com/patrickwarner/adengine/internal/observability"
	"github.com/patrickwarner/adengine/internal/offers"
	"github.com/patrickwarner/adengine/internal/rollup"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.OTLPEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.OfferTable, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	redisStore, err := db.NewRedisStore(ctx, cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() { _ = redisStore.Close() }()

	metricsRegistry := observability.NewPrometheusRegistry()

	analyticsSvc, err := analytics.InitClickHouse(cfg.ClickHouseDSN, cfg.CHMaxOpenConns, metricsRegistry)
	if err != nil {
		return fmt.Errorf("connect clickhouse: %w", err)
	}
	defer analyticsSvc.Close()

	geoSvc, err := geoip.Init(cfg.GeoIPDB)
	if err != nil {
		return fmt.Errorf("load geoip db: %w", err)
	}
	defer func() { _ = geoSvc.Close() }()

	blocklist, err := logic.LoadBlocklist(cfg.BlocklistPath)
	if err != nil {
		return fmt.Errorf("load blocklist: %w", err)
	}
	geography, err := logic.LoadGeography(cfg.GeographyPath)
	if err != nil {
		return fmt.Errorf("load geography: %w", err)
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimitEnabled {
		rules, err := ratelimit.ParseRules(cfg.RateLimits)
		if err != nil {
			return fmt.Errorf("parse rate limits: %w", err)
		}
		limiter = ratelimit.NewLimiter(rules)
		limiter.StartCleanup(10*time.Minute, ctx.Done())
	}

	dataStore := models.NewInMemoryAdDataStore()

	local := cache.New(4096)
	local.StartCleanup(time.Minute, ctx.Done())
	pacer := logic.NewPacer(redisStore, local, cfg.CountersTTL)

	var sticky *cache.Cache
	if cfg.StickyTTL > 0 {
		sticky = cache.New(8192)
		sticky.StartCleanup(time.Minute, ctx.Done())
	}
	selector := selectors.NewTieredSelector(dataStore, pacer, geography, sticky, cfg.StickyTTL)

	ledger := &offers.Ledger{
		PG:          pg,
		Redis:       redisStore,
		Analytics:   analyticsSvc,
		Metrics:     metricsRegistry,
		BaseURL:     cfg.BaseURL,
		ProxySecret: cfg.ProxySecret,
		NonceTTL:    cfg.NonceTTL,
		DoNotTrack:  cfg.DoNotTrack,
	}
	tracker := &offers.Tracker{
		PG:          pg,
		Redis:       redisStore,
		Data:        dataStore,
		Analytics:   analyticsSvc,
		Metrics:     metricsRegistry,
		Blocklist:   blocklist,
		Geo:         geography,
		Limiter:     limiter,
		RecordViews: cfg.RecordViews,
		MaxViewTime: cfg.MaxViewTime,
	}

	server := &api.Server{
		Logger:    logger,
		Redis:     redisStore,
		PG:        pg,
		Analytics: analyticsSvc,
		GeoIP:     geoSvc,
		Data:      dataStore,
		Selector:  selector,
		Ledger:    ledger,
		Tracker:   tracker,
		Blocklist: blocklist,
		Geography: geography,
		Metrics:   metricsRegistry,
		Config:    cfg,
	}

	if err := server.Reload(ctx); err != nil {
		return fmt.Errorf("initial data load: %w", err)
	}

	rollupWorker := &rollup.Worker{
		PG:      pg,
		Redis:   redisStore,
		Data:    dataStore,
		Metrics: metricsRegistry,
		Logger:  logger,
	}
	if err := rollupWorker.Run(ctx); err != nil {
		logger.Warn("initial rollup failed", zap.Error(err))
	}
	rollupCron, err := rollupWorker.Start(cfg.RollupInterval)
	if err != nil {
		return err
	}
	defer rollupCron.Stop()

	if cfg.ArchiveBucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		archiver := &archive.Archiver{
			PG:      pg,
			S3:      s3.NewFromConfig(awsCfg),
			Bucket:  cfg.ArchiveBucket,
			Prefix:  cfg.ArchivePrefix,
			Metrics: metricsRegistry,
			Logger:  logger,
		}
		// Yesterday's offers are exported once a day after UTC midnight.
		go runDailyArchive(ctx, archiver, cfg.OfferTable, logger)
	}

	if cfg.ReloadInterval > 0 {
		ticker := time.NewTicker(cfg.ReloadInterval)
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := server.Reload(ctx); err != nil {
						logger.Error("auto reload", zap.Error(err))
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	router := server.Router()
	router.Handle("/metrics", promhttp.Handler())

	var handler http.Handler = router
	if cfg.TracingEnabled {
		handler = otelhttp.NewHandler(router, cfg.ServiceName)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("ad engine running", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// runDailyArchive exports the previous UTC day shortly after midnight.
func runDailyArchive(ctx context.Context, archiver *archive.Archiver, table string, logger *zap.Logger) {
	for {
		now := time.Now().UTC()
		next := now.Truncate(24 * time.Hour).Add(24*time.Hour + 10*time.Minute)
		select {
		case <-time.After(next.Sub(now)):
			yesterday := time.Now().UTC().Add(-24 * time.Hour)
			if _, err := archiver.ArchiveDay(ctx, table, yesterday); err != nil {
				logger.Error("daily archive failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
