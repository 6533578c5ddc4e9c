package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/sabobeh/lectureweaver-backend/internal/uploads/consumer"
	"github.com/sabobeh/lectureweaver-backend/internal/videostore"
	"github.com/sabobeh/lectureweaver-backend/pkg/config"
	"github.com/sabobeh/lectureweaver-backend/pkg/db"
	"github.com/sabobeh/lectureweaver-backend/pkg/logger"
	"github.com/sabobeh/lectureweaver-backend/pkg/pubsub"
	"github.com/sabobeh/lectureweaver-backend/pkg/redis"
	"github.com/sabobeh/lectureweaver-backend/pkg/storage/blob"
)

type ServiceParams struct {
	Config         *config.Config
	Logger         *logger.Logger
	DB             *db.Client
	Redis          *redis.Client
	PubSub         *pubsub.Client
	Blob           *blob.Client
	VideoStore     *videostore.Store
	LegacyMigrator *videostore.Migrator
	Consumer       *consumer.Consumer
	Registry       *prometheus.Registry
}

type Service struct {
	cfg      *config.Config
	logg     *logger.Logger
	db       *db.Client
	redis    *redis.Client
	pubsub   *pubsub.Client
	blob     *blob.Client
	store    *videostore.Store
	migrator *videostore.Migrator
	consumer *consumer.Consumer
	registry *prometheus.Registry
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.Blob == nil {
		return nil, errors.New("blob client is required")
	}
	if params.VideoStore == nil {
		return nil, errors.New("video store is required")
	}
	if params.LegacyMigrator == nil {
		return nil, errors.New("legacy migrator is required")
	}
	if params.Consumer == nil {
		return nil, errors.New("uploads consumer is required")
	}

	return &Service{
		cfg:      params.Config,
		logg:     params.Logger,
		db:       params.DB,
		redis:    params.Redis,
		pubsub:   params.PubSub,
		blob:     params.Blob,
		store:    params.VideoStore,
		migrator: params.LegacyMigrator,
		consumer: params.Consumer,
		registry: params.Registry,
	}, nil
}

func (s *Service) metricsHandler() http.Handler {
	if s.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "redis", s.redis.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "pubsub", s.pubsub.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "blob", s.blob.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "videostore", s.store.Ping); err != nil {
		return err
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// drainLegacyVideo runs the one-shot redis migration at startup. Failure is
// logged but never fatal; the key stays put and the next boot retries.
func (s *Service) drainLegacyVideo(ctx context.Context) {
	record, err := s.migrator.Migrate(ctx)
	if err != nil {
		s.logg.Error(ctx, "legacy video migration failed", err)
		return
	}
	if record != nil {
		s.logg.Info(s.logg.WithVideoID(ctx, record.ID), "legacy video migrated into local store")
	}
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	s.drainLegacyVideo(ctx)

	if err := s.consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logg.Error(ctx, "consumer stopped unexpectedly", err)
		return err
	}
	return nil
}

// Close releases every owned client, reporting all failures together.
func (s *Service) Close() error {
	var err error
	err = multierr.Append(err, s.store.Close())
	err = multierr.Append(err, s.pubsub.Close())
	err = multierr.Append(err, s.redis.Close())
	err = multierr.Append(err, s.db.Close())
	return err
}
