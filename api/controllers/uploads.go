package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sabobeh/lectureweaver-backend/api/middleware"
	"github.com/sabobeh/lectureweaver-backend/api/responses"
	"github.com/sabobeh/lectureweaver-backend/api/validators"
	"github.com/sabobeh/lectureweaver-backend/internal/uploads"
	"github.com/sabobeh/lectureweaver-backend/pkg/config"
	"github.com/sabobeh/lectureweaver-backend/pkg/db/models"
	pkgerrors "github.com/sabobeh/lectureweaver-backend/pkg/errors"
	"github.com/sabobeh/lectureweaver-backend/pkg/logger"
)

// multipartMemoryLimit bounds the in-memory part of multipart parsing; the
// rest spills to temp files.
const multipartMemoryLimit = 32 << 20

type uploadResponse struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	FileName        string    `json:"file_name"`
	FileType        string    `json:"file_type"`
	SizeBytes       int64     `json:"size_bytes"`
	Script          *string   `json:"script,omitempty"`
	Status          string    `json:"status"`
	ErrorMessage    *string   `json:"error_message,omitempty"`
	SSHStatus       string    `json:"ssh_status"`
	SSHProgress     int       `json:"ssh_progress"`
	SSHErrorMessage *string   `json:"ssh_error_message,omitempty"`
	VideoID         *string   `json:"video_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toUploadResponse(u *models.Upload) uploadResponse {
	return uploadResponse{
		ID:              u.ID,
		Title:           u.Title,
		FileName:        u.FileName,
		FileType:        u.FileType,
		SizeBytes:       u.SizeBytes,
		Script:          u.Script,
		Status:          u.Status.String(),
		ErrorMessage:    u.ErrorMessage,
		SSHStatus:       u.SSHStatus.String(),
		SSHProgress:     u.SSHProgress,
		SSHErrorMessage: u.SSHErrorMessage,
		VideoID:         u.VideoID,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}

func requestUserID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	uid, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return uid, nil
}

func uploadIDParam(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "uploadId")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid upload id")
	}
	return id, nil
}

// UploadCreate accepts a multipart deck submission: a "file" part plus
// "title" and optional "script" fields.
func UploadCreate(svc uploads.Service, cfg config.UploadConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := requestUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		// The cap leaves headroom for the non-file form fields.
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes()+multipartMemoryLimit)
		if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid multipart body"))
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "deck file is required"))
			return
		}
		defer file.Close()

		created, err := svc.CreateUpload(r.Context(), uid, uploads.CreateUploadInput{
			Title:     r.FormValue("title"),
			FileName:  header.Filename,
			SizeBytes: header.Size,
			Data:      file,
			Script:    r.FormValue("script"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, toUploadResponse(created))
	}
}

func UploadList(svc uploads.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := requestUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.List(r.Context(), uid)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]uploadResponse, 0, len(rows))
		for i := range rows {
			out = append(out, toUploadResponse(&rows[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

func UploadDetail(svc uploads.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := requestUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := uploadIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		upload, err := svc.Get(r.Context(), uid, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toUploadResponse(upload))
	}
}

// UploadRetry requeues a failed upload for processing.
func UploadRetry(svc uploads.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := requestUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := uploadIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		upload, err := svc.RetryProcessing(r.Context(), uid, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toUploadResponse(upload))
	}
}

// UploadArchive asks the worker to push the rendered video to the archive host.
func UploadArchive(svc uploads.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := requestUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := uploadIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		upload, err := svc.RequestArchive(r.Context(), uid, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, toUploadResponse(upload))
	}
}

type updateScriptRequest struct {
	Script string `json:"script" validate:"required"`
}

func UploadUpdateScript(svc uploads.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := requestUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := uploadIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateScriptRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		upload, err := svc.UpdateScript(r.Context(), uid, id, payload.Script)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toUploadResponse(upload))
	}
}

// UploadDeckURL returns a short-lived signed URL for the original deck.
func UploadDeckURL(svc uploads.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := requestUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := uploadIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		url, err := svc.DeckDownloadURL(r.Context(), uid, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"url": url})
	}
}
