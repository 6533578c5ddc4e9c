package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/sabobeh/lectureweaver-backend/api/responses"
	"github.com/sabobeh/lectureweaver-backend/pkg/config"
	pkgerrors "github.com/sabobeh/lectureweaver-backend/pkg/errors"
	"github.com/sabobeh/lectureweaver-backend/pkg/logger"
)

const envHeader = "X-LectureWeaver-Env"

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependency names a pinger for the readiness report.
type Dependency struct {
	Name   string
	Pinger Pinger
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every wired dependency with a short deadline and reports
// per-dependency state. Any failure flips the response to 503.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps ...Dependency) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		states := map[string]string{}
		healthy := true
		for _, dep := range deps {
			if dep.Pinger == nil {
				continue
			}
			if err := dep.Pinger.Ping(ctx); err != nil {
				healthy = false
				states[dep.Name] = "unreachable"
				if logg != nil {
					logg.Error(logg.WithField(ctx, "dependency", dep.Name), "readiness check failed", err)
				}
				continue
			}
			states[dep.Name] = "ok"
		}

		if !healthy {
			responses.WriteError(ctx, nil, w,
				pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").WithDetails(states))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "dependencies": states})
	}
}
