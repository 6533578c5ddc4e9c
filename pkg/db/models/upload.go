package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/sabobeh/lectureweaver-backend/pkg/enums"
)

// Upload captures the metadata for one slide deck submitted for narration.
// Two independent state machines hang off the same row: Status tracks the
// generation pipeline, SSHStatus tracks the archival transfer.
type Upload struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	UserID          uuid.UUID            `gorm:"column:user_id;type:uuid;not null;index"`
	Title           string               `gorm:"column:title;not null"`
	FileName        string               `gorm:"column:file_name;not null"`
	FileType        string               `gorm:"column:file_type;not null"`
	SizeBytes       int64                `gorm:"column:size_bytes;not null"`
	StoragePath     string               `gorm:"column:storage_path;not null;unique"`
	DownloadURL     *string              `gorm:"column:download_url"`
	Script          *string              `gorm:"column:script"`
	VideoID         *string              `gorm:"column:video_id"`
	Status          enums.UploadStatus   `gorm:"column:status;not null;default:pending"`
	SSHStatus       enums.TransferStatus `gorm:"column:ssh_status;not null;default:idle"`
	SSHProgress     int                  `gorm:"column:ssh_progress;not null;default:0"`
	ErrorMessage    *string              `gorm:"column:error_message"`
	SSHErrorMessage *string              `gorm:"column:ssh_error_message"`
	CreatedAt       time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
