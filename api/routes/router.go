package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sabobeh/lectureweaver-backend/api/controllers"
	"github.com/sabobeh/lectureweaver-backend/api/middleware"
	"github.com/sabobeh/lectureweaver-backend/internal/uploads"
	"github.com/sabobeh/lectureweaver-backend/pkg/config"
	"github.com/sabobeh/lectureweaver-backend/pkg/logger"
)

// Deps bundles everything the router wires into handlers.
type Deps struct {
	Config         *config.Config
	Logger         *logger.Logger
	Uploads        uploads.Service
	Videos         controllers.VideoCatalog
	Quota          controllers.QuotaReader
	LegacyMigrator controllers.LegacyMigrator
	Registry       *prometheus.Registry
	Readiness      []controllers.Dependency
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Readiness...))
	})

	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/uploads", func(r chi.Router) {
			r.Get("/", controllers.UploadList(deps.Uploads, logg))
			r.Post("/", controllers.UploadCreate(deps.Uploads, cfg.Upload, logg))
			r.Route("/{uploadId}", func(r chi.Router) {
				r.Get("/", controllers.UploadDetail(deps.Uploads, logg))
				r.Post("/retry", controllers.UploadRetry(deps.Uploads, logg))
				r.Post("/archive", controllers.UploadArchive(deps.Uploads, logg))
				r.Put("/script", controllers.UploadUpdateScript(deps.Uploads, logg))
				r.Get("/deck-url", controllers.UploadDeckURL(deps.Uploads, logg))
			})
		})

		r.Route("/videos", func(r chi.Router) {
			r.Get("/", controllers.VideoList(deps.Videos, logg))
			r.Delete("/", controllers.VideoClear(deps.Videos, logg))
			r.Get("/latest", controllers.VideoLatest(deps.Videos, logg))
			r.Post("/migrate-legacy", controllers.VideoMigrateLegacy(deps.LegacyMigrator, logg))
			r.Route("/{videoId}", func(r chi.Router) {
				r.Get("/", controllers.VideoDetail(deps.Videos, logg))
				r.Get("/content", controllers.VideoContent(deps.Videos, logg))
				r.Delete("/", controllers.VideoDelete(deps.Videos, logg))
			})
		})

		r.Get("/storage/quota", controllers.StorageQuota(deps.Quota, logg))
	})

	return r
}
