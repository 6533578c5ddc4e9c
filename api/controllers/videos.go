package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sabobeh/lectureweaver-backend/api/responses"
	"github.com/sabobeh/lectureweaver-backend/internal/videostore"
	pkgerrors "github.com/sabobeh/lectureweaver-backend/pkg/errors"
	"github.com/sabobeh/lectureweaver-backend/pkg/logger"
)

// VideoCatalog is the slice of the local video store the API needs.
type VideoCatalog interface {
	ListAll(ctx context.Context) ([]videostore.VideoMeta, error)
	Load(ctx context.Context, id string) (*videostore.VideoRecord, error)
	LoadMostRecent(ctx context.Context) (*videostore.VideoRecord, error)
	Delete(ctx context.Context, id string) (bool, error)
	Clear(ctx context.Context) error
}

// LegacyMigrator drains the old redis-held video into the local store.
type LegacyMigrator interface {
	Migrate(ctx context.Context) (*videostore.VideoRecord, error)
}

func videoIDParam(r *http.Request) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, "videoId"))
	if id == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "video id is required")
	}
	return id, nil
}

func VideoList(store VideoCatalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metas, err := store.ListAll(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, metas)
	}
}

// VideoLatest streams the newest stored video.
func VideoLatest(store VideoCatalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		record, err := store.LoadMostRecent(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteBinary(w, record.MimeType, record.Data)
	}
}

func VideoDetail(store VideoCatalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := videoIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := store.Load(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, videostore.VideoMeta{
			ID:           record.ID,
			FileName:     record.FileName,
			MimeType:     record.MimeType,
			SizeBytes:    record.SizeBytes,
			ThumbnailURL: record.ThumbnailURL,
			Timestamp:    record.Timestamp,
		})
	}
}

// VideoContent streams the stored bytes for one video.
func VideoContent(store VideoCatalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := videoIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := store.Load(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteBinary(w, record.MimeType, record.Data)
	}
}

// VideoDelete removes one video. Deleting an unknown id succeeds.
func VideoDelete(store VideoCatalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := videoIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		removed, err := store.Delete(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"deleted": removed})
	}
}

func VideoClear(store VideoCatalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Clear(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "cleared"})
	}
}

// VideoMigrateLegacy runs the one-shot redis migration and reports what moved.
func VideoMigrateLegacy(migrator LegacyMigrator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if migrator == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "legacy migrator unavailable"))
			return
		}

		record, err := migrator.Migrate(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if record == nil {
			responses.WriteSuccess(w, map[string]any{"migrated": false})
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"migrated": true,
			"video_id": record.ID,
		})
	}
}
