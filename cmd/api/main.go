package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/gengenie/internal/config"
	"github.com/suPer8Hu/gengenie/internal/credits"
	"github.com/suPer8Hu/gengenie/internal/db"
	"github.com/suPer8Hu/gengenie/internal/dispatch"
	"github.com/suPer8Hu/gengenie/internal/httpapi"
	"github.com/suPer8Hu/gengenie/internal/logging"
	"github.com/suPer8Hu/gengenie/internal/media"
	"github.com/suPer8Hu/gengenie/internal/metrics"
	"github.com/suPer8Hu/gengenie/internal/queue"
	"github.com/suPer8Hu/gengenie/internal/store/rabbitmq"
	"github.com/suPer8Hu/gengenie/internal/store/redisstore"
	"github.com/suPer8Hu/gengenie/internal/synth"
	"github.com/suPer8Hu/gengenie/internal/telemetry"
	"github.com/suPer8Hu/gengenie/internal/tryon"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.AppEnv).With().Str("component", "api").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.TraceServiceName + "-api",
		Exporter:     cfg.TraceExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: cfg.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("setup tracing")
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := db.Migrate(gdb); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}

	m := metrics.New()

	var (
		events  *redisstore.Store
		limiter *redisstore.RateLimiter
	)
	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := rds.Ping(ctx); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, push events and rate limiting disabled")
	} else {
		defer rds.Close()
		events = rds
		if cfg.RateLimitSubmits > 0 {
			limiter, err = rds.NewRateLimiter(cfg.RateLimitSubmits, cfg.RateLimitWindow, "gengenie:submit")
			if err != nil {
				logger.Fatal().Err(err).Msg("rate limiter")
			}
		}
	}

	store, err := media.NewStore(media.Config{
		Endpoint: cfg.MinioEndpoint,
		Access:   cfg.MinioAccessKey,
		Secret:   cfg.MinioSecretKey,
		Bucket:   cfg.MinioBucket,
		Region:   cfg.MinioRegion,
		UseSSL:   cfg.MinioUseSSL,
		URLTTL:   cfg.MediaURLTTL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("media store")
	}
	if err := store.EnsureBucket(ctx); err != nil {
		logger.Warn().Err(err).Msg("media bucket not ready")
	}

	opts := []tryon.Option{
		tryon.WithStartingGrant(credits.Grant{Image: cfg.StartImageCredits, Video: cfg.StartVideoCredits}),
		tryon.WithMetrics(m),
		tryon.WithLogger(logger),
		tryon.WithResolver(store),
	}
	if events != nil {
		opts = append(opts, tryon.WithNotifier(events))
	}
	svc := tryon.NewService(gdb, tryon.NewRepo(gdb), credits.NewLedger(gdb), opts...)

	switch cfg.DispatchBackend {
	case "rabbitmq":
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			logger.Fatal().Err(err).Msg("rabbit publisher")
		}
		defer pub.Close()
		svc.SetDispatcher(pub)
	case "asynq":
		client := queue.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, cfg.AsynqQueue, cfg.SynthTimeout)
		defer client.Close()
		svc.SetDispatcher(client)
	case "local":
		local := runLocalWorker(ctx, cfg, svc, store, m, logger)
		defer local.Wait()
		svc.SetDispatcher(local)
	default:
		logger.Fatal().Str("backend", cfg.DispatchBackend).Msg("unsupported DISPATCH_BACKEND")
	}

	deps := httpapi.Deps{
		Cfg:     cfg,
		Tryon:   svc,
		Uploads: store,
		Metrics: m,
		Logger:  logger,
	}
	if events != nil {
		deps.Events = events
	}
	if limiter != nil {
		deps.Limiter = limiter
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
		// no WriteTimeout: /tryon/events is a long-lived stream
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("dispatch", cfg.DispatchBackend).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info().Msg("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// runLocalWorker executes jobs inside the api process, with the reaper, for
// single-binary development setups.
func runLocalWorker(ctx context.Context, cfg config.Config, svc *tryon.Service, store *media.Store, m *metrics.Metrics, logger zerolog.Logger) *dispatch.Local {
	exec := &dispatch.Executor{
		Providers: synth.DefaultRegistry(cfg),
		Provider:  cfg.SynthProvider,
		Timeout:   cfg.SynthTimeout,
		Media:     store,
		Metrics:   m,
		Logger:    logger,
	}
	handler := dispatch.NewHandler(svc, exec, logger)

	reaper := &dispatch.Reaper{
		Jobs:       svc,
		StaleAfter: cfg.JobStaleAfter,
		Interval:   cfg.ReapInterval,
		Logger:     logger,
	}
	go reaper.Run(ctx)

	return dispatch.NewLocal(ctx, handler, cfg.WorkerConcurrency, logger)
}
