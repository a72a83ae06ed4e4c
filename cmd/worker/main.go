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
	logger := logging.New(cfg.AppEnv).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.TraceServiceName + "-worker",
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

	m := metrics.New()

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

	opts := []tryon.Option{
		tryon.WithStartingGrant(credits.Grant{Image: cfg.StartImageCredits, Video: cfg.StartVideoCredits}),
		tryon.WithMetrics(m),
		tryon.WithLogger(logger),
		tryon.WithResolver(store),
	}
	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()
	if err := rds.Ping(ctx); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, completion events disabled")
	} else {
		opts = append(opts, tryon.WithNotifier(rds))
	}
	svc := tryon.NewService(gdb, tryon.NewRepo(gdb), credits.NewLedger(gdb), opts...)

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

	metricsServer := serveMetrics(cfg.WorkerMetricsAddr, m, logger)

	logger.Info().
		Str("backend", cfg.DispatchBackend).
		Str("provider", cfg.SynthProvider).
		Int("concurrency", cfg.WorkerConcurrency).
		Msg("worker started")

	switch cfg.DispatchBackend {
	case "rabbitmq":
		consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
			URL:         cfg.RabbitURL,
			Queue:       cfg.RabbitQueue,
			Concurrency: cfg.WorkerConcurrency,
			MaxRetries:  3,
			RetryDelay:  5 * time.Second,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("rabbit consumer")
		}
		defer consumer.Close()
		if err := consumer.Run(ctx, handler.Handle); err != nil {
			logger.Error().Err(err).Msg("consumer stopped")
		}
	case "asynq":
		srv := queue.NewServer(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, cfg.AsynqQueue, cfg.WorkerConcurrency, handler.Handle, logger)
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("asynq server")
		}
		<-ctx.Done()
		srv.Shutdown()
	default:
		logger.Fatal().Str("backend", cfg.DispatchBackend).Msg("worker needs DISPATCH_BACKEND rabbitmq or asynq")
	}

	logger.Info().Msg("worker shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}

func serveMetrics(addr string, m *metrics.Metrics, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return srv
}
