package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sabobeh/lectureweaver-backend/api/controllers"
	"github.com/sabobeh/lectureweaver-backend/api/routes"
	"github.com/sabobeh/lectureweaver-backend/internal/uploads"
	"github.com/sabobeh/lectureweaver-backend/internal/videostore"
	"github.com/sabobeh/lectureweaver-backend/pkg/config"
	"github.com/sabobeh/lectureweaver-backend/pkg/db"
	"github.com/sabobeh/lectureweaver-backend/pkg/logger"
	"github.com/sabobeh/lectureweaver-backend/pkg/migrate"
	"github.com/sabobeh/lectureweaver-backend/pkg/pubsub"
	"github.com/sabobeh/lectureweaver-backend/pkg/redis"
	"github.com/sabobeh/lectureweaver-backend/pkg/storage/blob"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx := context.Background()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	blobClient, err := blob.NewClient(ctx, cfg.Blob, cfg.GCP, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap blob storage", err)
		os.Exit(1)
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "error closing pubsub", err)
		}
	}()

	quota, err := videostore.NewMonitor(filepath.Dir(cfg.VideoStore.Path))
	if err != nil {
		logg.Error(ctx, "failed to create quota monitor", err)
		os.Exit(1)
	}

	store, err := videostore.Open(ctx, cfg.VideoStore, quota, logg)
	if err != nil {
		logg.Error(ctx, "failed to open video store", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logg.Error(ctx, "error closing video store", err)
		}
	}()

	migrator, err := videostore.NewMigrator(redisClient, store, cfg.VideoStore.LegacyKey, logg)
	if err != nil {
		logg.Error(ctx, "failed to create legacy migrator", err)
		os.Exit(1)
	}

	publisher, err := uploads.NewPublisher(pubsubClient.UploadsPublisher())
	if err != nil {
		logg.Error(ctx, "failed to create event publisher", err)
		os.Exit(1)
	}

	uploadsService, err := uploads.NewService(
		uploads.NewRepository(dbClient.DB()),
		blobClient,
		publisher,
		cfg.Upload,
		cfg.Blob,
		logg,
	)
	if err != nil {
		logg.Error(ctx, "failed to create uploads service", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	handler := routes.NewRouter(routes.Deps{
		Config:         cfg,
		Logger:         logg,
		Uploads:        uploadsService,
		Videos:         store,
		Quota:          quota,
		LegacyMigrator: migrator,
		Registry:       registry,
		Readiness: []controllers.Dependency{
			{Name: "database", Pinger: dbClient},
			{Name: "redis", Pinger: redisClient},
			{Name: "blob", Pinger: blobClient},
			{Name: "pubsub", Pinger: pubsubClient},
			{Name: "videostore", Pinger: store},
		},
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
