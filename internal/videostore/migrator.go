package videostore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stdErrors "errors"
	"fmt"

	pkgerrors "github.com/sabobeh/lectureweaver-backend/pkg/errors"
	"github.com/sabobeh/lectureweaver-backend/pkg/logger"
	"github.com/sabobeh/lectureweaver-backend/pkg/redis"
)

// base64ChunkLen is the slice width used when decoding legacy payloads.
// Multiple of 4, so every chunk is a whole number of base64 quanta.
const base64ChunkLen = 512

type legacyKV interface {
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// legacyEnvelope mirrors the JSON blob the pre-store persistence scheme
// wrote under its single well-known key.
type legacyEnvelope struct {
	FileName  string `json:"fileName"`
	FileSize  int64  `json:"fileSize"`
	VideoBlob string `json:"videoBlob"`
	Timestamp int64  `json:"timestamp"`
}

// Migrator moves the legacy single-video payload into the store. The legacy
// key is removed only after the store write has succeeded, so a crash mid-run
// never loses the video.
type Migrator struct {
	kv    legacyKV
	store *Store
	key   string
	logg  *logger.Logger
}

// NewMigrator wires the migrator. key is the legacy storage key to drain.
func NewMigrator(kv legacyKV, store *Store, key string, logg *logger.Logger) (*Migrator, error) {
	if kv == nil {
		return nil, fmt.Errorf("legacy kv is required")
	}
	if store == nil {
		return nil, fmt.Errorf("video store is required")
	}
	if key == "" {
		return nil, fmt.Errorf("legacy key is required")
	}
	return &Migrator{kv: kv, store: store, key: key, logg: logg}, nil
}

// Migrate drains the legacy key if present. Returns the migrated record, or
// nil when there was nothing to migrate.
func (m *Migrator) Migrate(ctx context.Context) (*VideoRecord, error) {
	raw, err := m.kv.Get(ctx, m.key)
	if stdErrors.Is(err, redis.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading legacy video data")
	}

	var envelope legacyEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parsing legacy video data")
	}
	if envelope.FileName == "" || envelope.VideoBlob == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "legacy video data incomplete")
	}

	data, err := decodeBase64Chunks(envelope.VideoBlob)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decoding legacy video payload")
	}

	if envelope.FileSize > 0 && int64(len(data)) != envelope.FileSize && m.logg != nil {
		m.logg.Warn(
			m.logg.WithFields(ctx, map[string]any{
				"expected_bytes": envelope.FileSize,
				"decoded_bytes":  len(data),
			}),
			"legacy video size mismatch, keeping decoded payload",
		)
	}

	record, err := m.store.Save(ctx, SaveInput{
		FileName:  envelope.FileName,
		MimeType:  "video/mp4",
		Data:      data,
		Timestamp: envelope.Timestamp,
	})
	if err != nil {
		return nil, err
	}

	// The store write is confirmed; only now is the legacy copy redundant.
	if err := m.kv.Del(ctx, m.key); err != nil && m.logg != nil {
		m.logg.Warn(m.logg.WithVideoID(ctx, record.ID), "legacy key cleanup failed, will retry next run")
	}

	if m.logg != nil {
		m.logg.Info(m.logg.WithVideoID(ctx, record.ID), "legacy video migrated into store")
	}

	return record, nil
}

// decodeBase64Chunks decodes the payload one fixed-width slice at a time, so
// a single oversized allocation is never needed for the encoded form.
func decodeBase64Chunks(encoded string) ([]byte, error) {
	decoded := make([]byte, 0, base64.StdEncoding.DecodedLen(len(encoded)))
	for start := 0; start < len(encoded); start += base64ChunkLen {
		end := start + base64ChunkLen
		if end > len(encoded) {
			end = len(encoded)
		}
		chunk, err := base64.StdEncoding.DecodeString(encoded[start:end])
		if err != nil {
			return nil, fmt.Errorf("decoding chunk at offset %d: %w", start, err)
		}
		decoded = append(decoded, chunk...)
	}
	return decoded, nil
}
