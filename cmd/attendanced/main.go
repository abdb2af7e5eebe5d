package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"faceattend/internal/app"
	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/capture"
	"faceattend/internal/config"
	"faceattend/internal/httpapi"
	"faceattend/internal/httpmiddleware"
	"faceattend/internal/logger"
	"faceattend/internal/metrics"
	"faceattend/internal/pipeline"
)

func main() {
	log := logger.Init()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal(ctx, "config invalid", logger.Error(err))
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "unknown log level, keeping info", logger.String("level", cfg.LogLevel))
	}

	// Set Gin mode based on environment
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal(ctx, "attendanced failed", logger.Error(err))
	}
}

func run(ctx context.Context, cfg config.App, log logger.Logger) error {
	rec := metrics.New(metrics.WithRuntimeCollectors())

	ledger, err := app.OpenLedger(ctx, cfg)
	if err != nil {
		log.Fatal(ctx, "ledger store unavailable",
			logger.String("driver", cfg.StoreDriver), logger.Error(err))
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			log.Warn(context.Background(), "close store", logger.Error(err))
		}
	}()

	face := app.NewFaceClient(cfg)
	if err := face.Health(ctx); err != nil {
		log.Warn(ctx, "face service not reachable, frames will be skipped until it is",
			logger.String("url", cfg.FaceServiceURL), logger.Error(err))
	}

	q, rdb, err := app.NewQueue(ctx, cfg)
	if err != nil {
		log.Fatal(ctx, "frame queue unavailable",
			logger.String("backend", cfg.QueueBackend), logger.Error(err))
	}
	if rdb != nil {
		defer rdb.Close()
	}

	exporter, err := app.NewExporter(cfg, ledger.Ledger, rec, log)
	if err != nil {
		return err
	}
	signer, err := auth.NewSigner(cfg.JWTIssuer, cfg.JWTSigningKey)
	if err != nil {
		return err
	}

	// runCtx ends on a signal or an operator stop.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	frames, err := capture.NewQueueSource(q, log.Named("capture")).Frames(runCtx)
	if err != nil {
		return err
	}
	pipe := pipeline.New(
		attendance.NewSamplingGate(cfg.SampleEvery),
		face,
		attendance.NewCooldownGate(cfg.Cooldown),
		ledger.Ledger,
		pipeline.WithMetrics(rec),
		pipeline.WithLogger(log.Named("pipeline")),
	)
	pipeDone := make(chan error, 1)
	go func() { pipeDone <- pipe.Run(runCtx, frames) }()

	health := map[string]httpapi.HealthCheck{"store": ledger.Healthy}
	if rdb != nil {
		health["redis"] = func(ctx context.Context) error {
			if !rdb.Healthy(ctx) {
				return errors.New("redis not reachable")
			}
			return nil
		}
	}

	api := httpapi.New(httpapi.Deps{
		Ledger:      ledger.Ledger,
		Roster:      app.NewRoster(cfg),
		Exporter:    exporter,
		Queue:       q,
		Signer:      signer,
		Limiter:     httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin),
		Metrics:     rec.Handler(),
		CORSOrigins: cfg.CORSOrigins,
		Health:      health,
		Stop:        cancelRun,
		Log:         log.Named("http"),
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // export now runs inline
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Info(ctx, "starting server", logger.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "server error", logger.Error(err))
			cancelRun()
		}
	}()

	<-runCtx.Done()
	log.Info(context.Background(), "shutting down, exporting final report")
	if err := <-pipeDone; err != nil && !errors.Is(err, context.Canceled) {
		log.Warn(context.Background(), "pipeline ended with error", logger.Error(err))
	}

	exportCtx, cancelExport := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelExport()
	if res, err := exporter.Run(exportCtx); err != nil {
		log.Error(exportCtx, "final export failed", logger.Error(err))
	} else if !res.Empty {
		log.Info(exportCtx, "final export written",
			logger.String("csv", res.CSVPath), logger.String("log", res.LogPath))
	}

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "server forced shutdown", logger.Error(err))
	}

	log.Info(context.Background(), "server exited")
	return nil
}
