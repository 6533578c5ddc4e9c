package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/sabobeh/lectureweaver-backend/internal/videostore"
	pkgerrors "github.com/sabobeh/lectureweaver-backend/pkg/errors"
)

type stubCatalog struct {
	metas   []videostore.VideoMeta
	record  *videostore.VideoRecord
	deleted []string
	cleared bool
}

func (s *stubCatalog) ListAll(ctx context.Context) ([]videostore.VideoMeta, error) {
	return s.metas, nil
}

func (s *stubCatalog) Load(ctx context.Context, id string) (*videostore.VideoRecord, error) {
	if s.record == nil || s.record.ID != id {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "video not found")
	}
	return s.record, nil
}

func (s *stubCatalog) LoadMostRecent(ctx context.Context) (*videostore.VideoRecord, error) {
	if s.record == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no videos stored")
	}
	return s.record, nil
}

func (s *stubCatalog) Delete(ctx context.Context, id string) (bool, error) {
	s.deleted = append(s.deleted, id)
	return s.record != nil && s.record.ID == id, nil
}

func (s *stubCatalog) Clear(ctx context.Context) error {
	s.cleared = true
	return nil
}

type stubMigrator struct {
	record *videostore.VideoRecord
	err    error
}

func (s *stubMigrator) Migrate(ctx context.Context) (*videostore.VideoRecord, error) {
	return s.record, s.err
}

func withVideoID(req *http.Request, id string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("videoId", id)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	return req.WithContext(ctx)
}

func TestVideoLatestStreamsBinary(t *testing.T) {
	logg := testLogger()
	catalog := &stubCatalog{record: &videostore.VideoRecord{
		ID:       "video_1700000000000_abc123def",
		FileName: "lecture.mp4",
		MimeType: "video/mp4",
		Data:     []byte("mp4 payload"),
	}}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/videos/latest", nil)
	rec := httptest.NewRecorder()
	VideoLatest(catalog, logg).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "video/mp4" {
		t.Fatalf("expected video/mp4, got %q", got)
	}
	if rec.Body.String() != "mp4 payload" {
		t.Fatalf("payload mismatch: %q", rec.Body.String())
	}
}

func TestVideoLatestEmptyStore(t *testing.T) {
	logg := testLogger()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/videos/latest", nil)
	rec := httptest.NewRecorder()
	VideoLatest(&stubCatalog{}, logg).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for empty store, got %d", rec.Code)
	}
}

func TestVideoDetailReturnsMetadataOnly(t *testing.T) {
	logg := testLogger()
	catalog := &stubCatalog{record: &videostore.VideoRecord{
		ID:        "video_1700000000000_abc123def",
		FileName:  "lecture.mp4",
		MimeType:  "video/mp4",
		SizeBytes: 11,
		Data:      []byte("mp4 payload"),
		Timestamp: 1700000000000,
	}}

	req := withVideoID(httptest.NewRequest(http.MethodGet, "/api/v1/videos/video_1700000000000_abc123def", nil), catalog.record.ID)
	rec := httptest.NewRecorder()
	VideoDetail(catalog, logg).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var envelope struct {
		Data videostore.VideoMeta `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.ID != catalog.record.ID || envelope.Data.SizeBytes != 11 {
		t.Fatalf("unexpected metadata: %+v", envelope.Data)
	}
}

func TestVideoDeleteIsIdempotent(t *testing.T) {
	logg := testLogger()
	catalog := &stubCatalog{}

	req := withVideoID(httptest.NewRequest(http.MethodDelete, "/api/v1/videos/video_x", nil), "video_x")
	rec := httptest.NewRecorder()
	VideoDelete(catalog, logg).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 even for unknown id, got %d", rec.Code)
	}
	if len(catalog.deleted) != 1 || catalog.deleted[0] != "video_x" {
		t.Fatalf("delete not forwarded: %v", catalog.deleted)
	}

	var envelope struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if deleted, _ := envelope.Data["deleted"].(bool); deleted {
		t.Fatal("expected deleted=false for unknown id")
	}
}

func TestVideoMigrateLegacy(t *testing.T) {
	logg := testLogger()

	t.Run("nothing to migrate", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/videos/migrate-legacy", nil)
		rec := httptest.NewRecorder()
		VideoMigrateLegacy(&stubMigrator{}, logg).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var envelope struct {
			Data map[string]any `json:"data"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if migrated, _ := envelope.Data["migrated"].(bool); migrated {
			t.Fatal("expected migrated=false")
		}
	})

	t.Run("migrated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/videos/migrate-legacy", nil)
		rec := httptest.NewRecorder()
		VideoMigrateLegacy(&stubMigrator{record: &videostore.VideoRecord{ID: "video_1_abcdefghi"}}, logg).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var envelope struct {
			Data map[string]any `json:"data"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if envelope.Data["video_id"] != "video_1_abcdefghi" {
			t.Fatalf("unexpected payload: %v", envelope.Data)
		}
	})

	t.Run("corrupt payload surfaces as 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/videos/migrate-legacy", nil)
		rec := httptest.NewRecorder()
		migrator := &stubMigrator{err: pkgerrors.New(pkgerrors.CodeValidation, "legacy payload is not valid JSON")}
		VideoMigrateLegacy(migrator, logg).ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}

type stubQuota struct {
	snapshot videostore.Quota
	err      error
}

func (s *stubQuota) Snapshot(ctx context.Context) (videostore.Quota, error) {
	return s.snapshot, s.err
}

func TestStorageQuota(t *testing.T) {
	logg := testLogger()
	monitor := &stubQuota{snapshot: videostore.Quota{
		UsageBytes: 96,
		QuotaBytes: 100,
		FreeBytes:  4,
		UsageRatio: 0.96,
		Warning:    true,
		Critical:   true,
	}}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/storage/quota", nil)
	rec := httptest.NewRecorder()
	StorageQuota(monitor, logg).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var envelope struct {
		Data quotaResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !envelope.Data.Critical || envelope.Data.FreeBytes != 4 {
		t.Fatalf("unexpected quota payload: %+v", envelope.Data)
	}
}
