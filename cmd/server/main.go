package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/recoverydesk/case-service/config"
	"github.com/recoverydesk/case-service/internal/app"
	"github.com/recoverydesk/case-service/internal/handlers"
	"github.com/recoverydesk/case-service/internal/ingest"
	"github.com/recoverydesk/case-service/internal/middleware"
	"github.com/recoverydesk/case-service/internal/progress"
	"github.com/recoverydesk/case-service/internal/storage"
	"github.com/recoverydesk/case-service/internal/sweepers"
	"github.com/recoverydesk/case-service/internal/telemetry"
)

func main() {
	cfg, err := config.Load(os.Getenv("CASE_SERVICE_CONFIG"))
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := app.InitLogger(cfg.Logging, "case-service")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Case service stopped with error")
	}
	logger.Info().Msg("Server exited")
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	logger.Info().Msg("Starting case service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: cfg.Telemetry.Environment,
	})
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			logger.Warn().Err(err).Msg("Telemetry shutdown failed")
		}
	}()

	st, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	reg, err := app.OpenRegistry(ctx, cfg.Registry, logger)
	if err != nil {
		return err
	}
	defer reg.Close()
	tasks := reg.Registry

	staging, err := storage.NewLocalStorage(cfg.Storage.BasePath)
	if err != nil {
		return err
	}

	res, err := app.NewResolver(st, cfg.Ingestion, logger)
	if err != nil {
		return err
	}
	runnerCfg, err := app.RunnerConfig(cfg.Ingestion)
	if err != nil {
		return err
	}
	dispatcher := app.NewDispatcher(cfg.Webhook, logger)
	if dispatcher == nil {
		logger.Info().Msg("Webhook relay disabled (no webhook.url)")
	}
	runner := ingest.NewRunner(tasks, res, dispatcher, runnerCfg, logger)
	streamer := progress.NewStreamer(tasks, cfg.Ingestion.PollInterval, logger)

	router := newRouter(ctx, cfg, logger)
	router.GET("/health", handlers.HealthCheck(handlers.Pinger(st.Ping), handlers.Pinger(reg.Ping)))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/ingest")
	if cfg.Server.APIKey != "" {
		api.Use(middleware.APIKey(cfg.Server.APIKey))
	}
	handlers.NewIngestHandler(tasks, staging, runner, streamer, handlers.IngestConfig{
		AllowedExtensions: cfg.Ingestion.AllowedExtensions,
		AutoStart:         cfg.Ingestion.AutoStart,
		MaxUploadBytes:    cfg.Server.MaxUploadBytes,
	}, logger).Register(api)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: cors.New(cors.Options{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Content-Type", middleware.APIKeyHeader},
			AllowCredentials: true,
		}).Handler(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	var sweeper *sweepers.StagingSweeper
	if cfg.Sweeper.Enabled {
		sweeper = sweepers.NewStagingSweeper(tasks, staging, cfg.Sweeper.Retention, cfg.Sweeper.TaskRetention, cfg.Sweeper.Interval, &logger)
		g.Go(func() error {
			sweeper.Start(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server...")
		if sweeper != nil {
			sweeper.Stop()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Server forced to shutdown")
		}
		if err := runner.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Ingestion tasks interrupted by shutdown")
		}
		return nil
	})

	return g.Wait()
}

func newRouter(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *gin.Engine {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	if cfg.Server.RequestsPerSecond > 0 {
		router.Use(middleware.RateLimit(ctx, middleware.RateLimiterConfig{
			RequestsPerSecond: cfg.Server.RequestsPerSecond,
			BurstSize:         cfg.Server.Burst,
		}))
	}
	return router
}
