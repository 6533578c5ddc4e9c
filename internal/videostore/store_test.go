package videostore

import (
	"bytes"
	"context"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/sabobeh/lectureweaver-backend/pkg/config"
	pkgerrors "github.com/sabobeh/lectureweaver-backend/pkg/errors"
)

func testMonitor(t *testing.T, free uint64) *Monitor {
	t.Helper()
	monitor, err := NewMonitor(t.TempDir())
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	monitor.usage = func(ctx context.Context, path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Total: 1 << 40, Used: 1 << 30, Free: free}, nil
	}
	return monitor
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return newTestStoreWithFree(t, 1<<40)
}

func newTestStoreWithFree(t *testing.T, free uint64) *Store {
	t.Helper()
	cfg := config.VideoStoreConfig{Path: filepath.Join(t.TempDir(), "videos.db")}
	store, err := Open(context.Background(), cfg, testMonitor(t, free), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	payload := bytes.Repeat([]byte{0xAB, 0xCD}, 1024)

	thumb := "https://cdn.example.com/lecture.jpg"
	record, err := store.Save(ctx, SaveInput{
		FileName:     "lecture.mp4",
		MimeType:     "video/mp4",
		Data:         payload,
		ThumbnailURL: &thumb,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if record.SizeBytes != int64(len(payload)) {
		t.Fatalf("expected size %d, got %d", len(payload), record.SizeBytes)
	}

	loaded, err := store.Load(ctx, record.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(loaded.Data, payload) {
		t.Fatal("payload mismatch after round trip")
	}
	if loaded.FileName != "lecture.mp4" {
		t.Fatalf("unexpected file name %q", loaded.FileName)
	}
	if loaded.ThumbnailURL == nil || *loaded.ThumbnailURL != thumb {
		t.Fatalf("thumbnail url not preserved: %v", loaded.ThumbnailURL)
	}
}

func TestNewVideoIDFormat(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	idRe := regexp.MustCompile(`^video_\d+_[0-9a-z]{9}$`)

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := store.NewVideoID()
		if !idRe.MatchString(id) {
			t.Fatalf("id %q does not match expected format", id)
		}
		seen[id] = true
	}
	if len(seen) < 2 {
		t.Fatal("expected unique suffixes across generated ids")
	}
}

func TestLoadMostRecentPrefersNewestTimestamp(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.LoadMostRecent(ctx); pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND on empty store, got %v", err)
	}

	older, err := store.Save(ctx, SaveInput{FileName: "old.mp4", MimeType: "video/mp4", Data: []byte("old"), Timestamp: 1000})
	if err != nil {
		t.Fatalf("save older: %v", err)
	}
	newer, err := store.Save(ctx, SaveInput{FileName: "new.mp4", MimeType: "video/mp4", Data: []byte("new"), Timestamp: 2000})
	if err != nil {
		t.Fatalf("save newer: %v", err)
	}

	got, err := store.LoadMostRecent(ctx)
	if err != nil {
		t.Fatalf("load most recent: %v", err)
	}
	if got.ID != newer.ID {
		t.Fatalf("expected %s, got %s (older was %s)", newer.ID, got.ID, older.ID)
	}
}

func TestListAllExcludesPayload(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		if _, err := store.Save(ctx, SaveInput{FileName: name, MimeType: "video/mp4", Data: []byte(name)}); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
	}

	metas, err := store.ListAll(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(metas) != 3 {
		t.Fatalf("expected 3 records, got %d", len(metas))
	}
	for i := 1; i < len(metas); i++ {
		if metas[i].Timestamp > metas[i-1].Timestamp {
			t.Fatal("expected newest-first ordering")
		}
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	record, err := store.Save(ctx, SaveInput{FileName: "x.mp4", MimeType: "video/mp4", Data: []byte("x")})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	removed, err := store.Delete(ctx, record.ID)
	if err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if !removed {
		t.Fatal("first delete should report the record was removed")
	}

	removed, err = store.Delete(ctx, record.ID)
	if err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	if removed {
		t.Fatal("second delete should report nothing removed")
	}

	if removed, err := store.Delete(ctx, "video_0_absentabc"); err != nil || removed {
		t.Fatalf("deleting unknown id should be a no-op, got removed=%v err=%v", removed, err)
	}

	if _, err := store.Load(ctx, record.ID); pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND after delete, got %v", err)
	}
}

func TestClearEmptiesStore(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Save(ctx, SaveInput{FileName: "v.mp4", MimeType: "video/mp4", Data: []byte{byte(i)}}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	metas, err := store.ListAll(ctx)
	if err != nil {
		t.Fatalf("list after clear: %v", err)
	}
	if len(metas) != 0 {
		t.Fatalf("expected empty store, got %d records", len(metas))
	}
}

func TestSaveRejectedWhenVolumeFull(t *testing.T) {
	t.Parallel()

	store := newTestStoreWithFree(t, 4)
	_, err := store.Save(context.Background(), SaveInput{
		FileName: "big.mp4",
		MimeType: "video/mp4",
		Data:     []byte("bigger than four"),
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStorageWrite {
		t.Fatalf("expected STORAGE_WRITE_FAILED, got %v", err)
	}
	if typed.Details() == nil {
		t.Fatal("expected quota snapshot in error details")
	}
}

func TestSchemaUpgradeIsStable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := config.VideoStoreConfig{Path: filepath.Join(dir, "videos.db")}
	ctx := context.Background()

	store, err := Open(ctx, cfg, testMonitor(t, 1<<40), nil)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	thumb := "https://cdn.example.com/t.jpg"
	record, err := store.Save(ctx, SaveInput{FileName: "v.mp4", MimeType: "video/mp4", Data: []byte("v"), ThumbnailURL: &thumb})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen against the already-upgraded file.
	store, err = Open(ctx, cfg, testMonitor(t, 1<<40), nil)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer func() { _ = store.Close() }()

	loaded, err := store.Load(ctx, record.ID)
	if err != nil {
		t.Fatalf("load after reopen: %v", err)
	}
	if loaded.ThumbnailURL == nil || *loaded.ThumbnailURL != thumb {
		t.Fatalf("thumbnail url not preserved: %v", loaded.ThumbnailURL)
	}
}

func TestRequestPersistence(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	persisted, err := store.RequestPersistence(context.Background())
	if err != nil {
		t.Fatalf("request persistence: %v", err)
	}
	if !persisted {
		t.Fatal("expected wal journaling to take effect")
	}
}
