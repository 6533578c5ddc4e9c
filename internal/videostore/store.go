package videostore

import (
	"context"
	stdErrors "errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sabobeh/lectureweaver-backend/pkg/config"
	pkgerrors "github.com/sabobeh/lectureweaver-backend/pkg/errors"
	"github.com/sabobeh/lectureweaver-backend/pkg/logger"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// VideoRecord is one rendered video held in the local store. Data carries the
// raw bytes; everything else is lookup metadata.
type VideoRecord struct {
	ID           string  `gorm:"column:id;primaryKey"`
	FileName     string  `gorm:"column:file_name;not null;index"`
	MimeType     string  `gorm:"column:mime_type;not null"`
	SizeBytes    int64   `gorm:"column:size_bytes;not null"`
	Data         []byte  `gorm:"column:data"`
	ThumbnailURL *string `gorm:"column:thumbnail_url"`
	Timestamp    int64   `gorm:"column:timestamp;not null;index"`
}

func (VideoRecord) TableName() string {
	return "videos"
}

// VideoMeta is the listing projection, without the payload bytes.
type VideoMeta struct {
	ID           string  `json:"id"`
	FileName     string  `json:"file_name"`
	MimeType     string  `json:"mime_type"`
	SizeBytes    int64   `json:"size_bytes"`
	ThumbnailURL *string `json:"thumbnail_url,omitempty"`
	Timestamp    int64   `json:"timestamp"`
}

// SaveInput carries the payload for a new record. Timestamp zero means "now".
type SaveInput struct {
	FileName     string
	MimeType     string
	Data         []byte
	ThumbnailURL *string
	Timestamp    int64
}

// Store is the local binary video store. One sqlite file, owned exclusively
// by this process.
type Store struct {
	db    *gorm.DB
	quota *Monitor
	logg  *logger.Logger
	now   func() time.Time
	randN func(n int) int
}

// schemaSteps are applied in order; PRAGMA user_version tracks how far a
// store file has been upgraded. Steps are additive only.
var schemaSteps = []string{
	`CREATE TABLE IF NOT EXISTS videos (
		id TEXT PRIMARY KEY,
		file_name TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		data BLOB,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_videos_file_name ON videos (file_name);
	CREATE INDEX IF NOT EXISTS idx_videos_timestamp ON videos (timestamp);`,

	`ALTER TABLE videos ADD COLUMN thumbnail_url TEXT;`,
}

// Open creates or upgrades the store file at cfg.Path.
func Open(ctx context.Context, cfg config.VideoStoreConfig, quota *Monitor, logg *logger.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("video store path is required")
	}
	if quota == nil {
		return nil, fmt.Errorf("quota monitor is required")
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	silent := gormlogger.Default.LogMode(gormlogger.Silent)
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger:                 silent,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "opening video store")
	}

	store := &Store{
		db:    db,
		quota: quota,
		logg:  logg,
		now:   time.Now,
		randN: rand.IntN,
	}

	if err := store.upgradeSchema(ctx); err != nil {
		return nil, err
	}

	if logg != nil {
		logg.Info(ctx, "video store opened")
	}

	return store, nil
}

func (s *Store) upgradeSchema(ctx context.Context) error {
	var version int
	if err := s.db.WithContext(ctx).Raw("PRAGMA user_version").Scan(&version).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "reading store schema version")
	}
	if version > len(schemaSteps) {
		return pkgerrors.New(
			pkgerrors.CodeStorageUnavailable,
			fmt.Sprintf("store schema version %d is newer than supported %d", version, len(schemaSteps)),
		)
	}

	for ; version < len(schemaSteps); version++ {
		if err := s.db.WithContext(ctx).Exec(schemaSteps[version]).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err,
				fmt.Sprintf("applying store schema step %d", version+1))
		}
		if err := s.db.WithContext(ctx).Exec(fmt.Sprintf("PRAGMA user_version = %d", version+1)).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "bumping store schema version")
		}
	}
	return nil
}

// RequestPersistence hardens the store file against power loss by switching
// to WAL journaling with full fsync. Returns whether the request took effect.
func (s *Store) RequestPersistence(ctx context.Context) (bool, error) {
	if s == nil || s.db == nil {
		return false, pkgerrors.New(pkgerrors.CodeStorageUnavailable, "video store not open")
	}

	var mode string
	if err := s.db.WithContext(ctx).Raw("PRAGMA journal_mode = WAL").Scan(&mode).Error; err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "enabling wal journaling")
	}
	if err := s.db.WithContext(ctx).Exec("PRAGMA synchronous = FULL").Error; err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "enabling full sync")
	}
	return mode == "wal", nil
}

// NewVideoID builds a store key: video_<unix ms>_<9 char suffix>.
func (s *Store) NewVideoID() string {
	suffix := make([]byte, 9)
	for i := range suffix {
		suffix[i] = idAlphabet[s.randN(len(idAlphabet))]
	}
	return fmt.Sprintf("video_%d_%s", s.now().UnixMilli(), suffix)
}

// Save persists a new record and returns it with its generated ID. The quota
// monitor is consulted first; writes that would overfill the volume are
// rejected before touching the store.
func (s *Store) Save(ctx context.Context, input SaveInput) (*VideoRecord, error) {
	if s == nil || s.db == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStorageUnavailable, "video store not open")
	}
	if input.FileName == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file name is required")
	}
	if len(input.Data) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "video payload is empty")
	}

	ok, snapshot, err := s.quota.HasSpaceFor(ctx, int64(len(input.Data)))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "checking store quota")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeStorageWrite, "insufficient space for video").
			WithDetails(snapshot)
	}

	ts := input.Timestamp
	if ts == 0 {
		ts = s.now().UnixMilli()
	}

	record := &VideoRecord{
		ID:           s.NewVideoID(),
		FileName:     input.FileName,
		MimeType:     input.MimeType,
		SizeBytes:    int64(len(input.Data)),
		Data:         input.Data,
		ThumbnailURL: input.ThumbnailURL,
		Timestamp:    ts,
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorageWrite, err, "writing video record").
			WithDetails(snapshot)
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithVideoID(ctx, record.ID), "video saved to local store")
	}

	return record, nil
}

// Load returns the full record, payload included.
func (s *Store) Load(ctx context.Context, id string) (*VideoRecord, error) {
	if s == nil || s.db == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStorageUnavailable, "video store not open")
	}
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "video id is required")
	}

	var record VideoRecord
	err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "video not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "loading video record")
	}
	return &record, nil
}

// LoadMostRecent returns the newest record by timestamp.
func (s *Store) LoadMostRecent(ctx context.Context) (*VideoRecord, error) {
	if s == nil || s.db == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStorageUnavailable, "video store not open")
	}

	var record VideoRecord
	err := s.db.WithContext(ctx).Order("timestamp DESC").First(&record).Error
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no videos stored")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "loading most recent video")
	}
	return &record, nil
}

// ListAll returns metadata for every stored video, newest first.
func (s *Store) ListAll(ctx context.Context) ([]VideoMeta, error) {
	if s == nil || s.db == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStorageUnavailable, "video store not open")
	}

	var metas []VideoMeta
	err := s.db.WithContext(ctx).
		Model(&VideoRecord{}).
		Select("id", "file_name", "mime_type", "size_bytes", "thumbnail_url", "timestamp").
		Order("timestamp DESC").
		Find(&metas).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "listing videos")
	}
	return metas, nil
}

// Delete removes a record and reports whether one existed. Deleting an
// absent id is not an error.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if s == nil || s.db == nil {
		return false, pkgerrors.New(pkgerrors.CodeStorageUnavailable, "video store not open")
	}
	if id == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "video id is required")
	}

	result := s.db.WithContext(ctx).Delete(&VideoRecord{}, "id = ?", id)
	if result.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeStorageWrite, result.Error, "deleting video record")
	}
	return result.RowsAffected > 0, nil
}

// Clear drops every record from the store.
func (s *Store) Clear(ctx context.Context) error {
	if s == nil || s.db == nil {
		return pkgerrors.New(pkgerrors.CodeStorageUnavailable, "video store not open")
	}
	if err := s.db.WithContext(ctx).Exec("DELETE FROM videos").Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeStorageWrite, err, "clearing video store")
	}
	return nil
}

// Ping verifies the store file is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return pkgerrors.New(pkgerrors.CodeStorageUnavailable, "video store not open")
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying sqlite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
