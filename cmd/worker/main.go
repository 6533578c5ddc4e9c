package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sabobeh/lectureweaver-backend/internal/generation"
	"github.com/sabobeh/lectureweaver-backend/internal/transfer"
	"github.com/sabobeh/lectureweaver-backend/internal/uploads"
	"github.com/sabobeh/lectureweaver-backend/internal/uploads/consumer"
	"github.com/sabobeh/lectureweaver-backend/internal/videostore"
	"github.com/sabobeh/lectureweaver-backend/pkg/config"
	"github.com/sabobeh/lectureweaver-backend/pkg/db"
	"github.com/sabobeh/lectureweaver-backend/pkg/logger"
	"github.com/sabobeh/lectureweaver-backend/pkg/metrics"
	"github.com/sabobeh/lectureweaver-backend/pkg/migrate"
	"github.com/sabobeh/lectureweaver-backend/pkg/pubsub"
	"github.com/sabobeh/lectureweaver-backend/pkg/redis"
	"github.com/sabobeh/lectureweaver-backend/pkg/storage/blob"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildService(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to build worker", err)
		os.Exit(1)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logg.Error(context.Background(), "error during worker shutdown", err)
		}
	}()

	logg.Info(logg.WithField(ctx, "env", cfg.App.Env), "starting worker")

	go serveMetrics(ctx, cfg, logg, svc.metricsHandler())

	if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(context.Background(), "worker shut down gracefully")
}

func buildService(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*Service, error) {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, err
	}

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return nil, err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return nil, err
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return nil, err
	}

	blobClient, err := blob.NewClient(ctx, cfg.Blob, cfg.GCP, logg)
	if err != nil {
		return nil, err
	}

	quota, err := videostore.NewMonitor(filepath.Dir(cfg.VideoStore.Path))
	if err != nil {
		return nil, err
	}

	store, err := videostore.Open(ctx, cfg.VideoStore, quota, logg)
	if err != nil {
		return nil, err
	}

	if ok, err := store.RequestPersistence(ctx); err != nil {
		logg.Warn(ctx, "could not tune video store persistence")
	} else if !ok {
		logg.Warn(ctx, "video store persistence mode not granted")
	}

	migrator, err := videostore.NewMigrator(redisClient, store, cfg.VideoStore.LegacyKey, logg)
	if err != nil {
		return nil, err
	}

	generationClient, err := generation.NewClient(cfg.Generation)
	if err != nil {
		return nil, err
	}

	archiveClient, err := transfer.NewClient(cfg.Archive)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	engine, err := transfer.NewEngine(
		cfg.Archive.MaxAttempts,
		cfg.Archive.BaseDelay,
		metrics.NewTransferMetrics(registry),
		logg,
	)
	if err != nil {
		return nil, err
	}

	uploadsConsumer, err := consumer.NewConsumer(
		uploads.NewRepository(dbClient.DB()),
		generationClient,
		store,
		blobClient,
		cfg.Blob.BucketName,
		archiveClient,
		engine,
		pubsubClient.UploadsSubscription(),
		metrics.NewUploadMetrics(registry),
		logg,
	)
	if err != nil {
		return nil, err
	}

	return NewService(ServiceParams{
		Config:         cfg,
		Logger:         logg,
		DB:             dbClient,
		Redis:          redisClient,
		PubSub:         pubsubClient,
		Blob:           blobClient,
		VideoStore:     store,
		LegacyMigrator: migrator,
		Consumer:       uploadsConsumer,
		Registry:       registry,
	})
}

// serveMetrics exposes the worker's prometheus registry until the context
// ends. A failure to bind is logged, not fatal.
func serveMetrics(ctx context.Context, cfg *config.Config, logg *logger.Logger, handler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	server := &http.Server{Addr: ":" + cfg.App.Port, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "metrics server stopped unexpectedly", err)
	}
}
