package uploads

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sabobeh/lectureweaver-backend/pkg/db/models"
	"github.com/sabobeh/lectureweaver-backend/pkg/enums"
	pkgerrors "github.com/sabobeh/lectureweaver-backend/pkg/errors"
)

// Repository persists upload rows and their two status machines.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs an uploads repository bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create persists an upload row.
func (r *Repository) Create(ctx context.Context, upload *models.Upload) (*models.Upload, error) {
	if err := r.db.WithContext(ctx).Create(upload).Error; err != nil {
		return nil, err
	}
	return upload, nil
}

// FindByID retrieves an upload by ID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Upload, error) {
	var upload models.Upload
	if err := r.db.WithContext(ctx).First(&upload, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &upload, nil
}

// ListByUser returns the user's uploads, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Upload, error) {
	var rows []models.Upload
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// TransitionStatus moves the processing state machine from "from" to "to".
// The WHERE clause carries the expected source status, so a concurrent
// transition loses cleanly with a STATE_CONFLICT instead of clobbering.
func (r *Repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.UploadStatus, errorMessage *string) error {
	if !from.CanTransitionTo(to) {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			"status cannot move from "+from.String()+" to "+to.String())
	}

	updates := map[string]any{
		"status":        to,
		"error_message": errorMessage,
	}
	result := r.db.WithContext(ctx).
		Model(&models.Upload{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "upload status changed concurrently")
	}
	return nil
}

// TransitionSSHStatus moves the archival state machine, guarded the same way.
// Moving out of a non-terminal state resets progress to zero.
func (r *Repository) TransitionSSHStatus(ctx context.Context, id uuid.UUID, from, to enums.TransferStatus, errorMessage *string) error {
	if !from.CanTransitionTo(to) {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			"ssh status cannot move from "+from.String()+" to "+to.String())
	}

	updates := map[string]any{
		"ssh_status":        to,
		"ssh_error_message": errorMessage,
	}
	if to == enums.TransferStatusPending || to == enums.TransferStatusTransferring {
		updates["ssh_progress"] = 0
	}
	if to == enums.TransferStatusCompleted {
		updates["ssh_progress"] = 100
	}

	result := r.db.WithContext(ctx).
		Model(&models.Upload{}).
		Where("id = ? AND ssh_status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "ssh status changed concurrently")
	}
	return nil
}

// SetSSHProgress records transfer progress for a row that is transferring.
func (r *Repository) SetSSHProgress(ctx context.Context, id uuid.UUID, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return r.db.WithContext(ctx).
		Model(&models.Upload{}).
		Where("id = ? AND ssh_status = ?", id, enums.TransferStatusTransferring).
		Update("ssh_progress", progress).Error
}

// SetCompleted records the generation result alongside the completed status.
func (r *Repository) SetCompleted(ctx context.Context, id uuid.UUID, videoID, downloadURL string) error {
	updates := map[string]any{
		"status":        enums.UploadStatusCompleted,
		"video_id":      videoID,
		"error_message": nil,
	}
	if downloadURL != "" {
		updates["download_url"] = downloadURL
	}
	result := r.db.WithContext(ctx).
		Model(&models.Upload{}).
		Where("id = ? AND status = ?", id, enums.UploadStatusProcessing).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "upload status changed concurrently")
	}
	return nil
}

// UpdateScript replaces the narration script.
func (r *Repository) UpdateScript(ctx context.Context, id uuid.UUID, script string) error {
	return r.db.WithContext(ctx).
		Model(&models.Upload{}).
		Where("id = ?", id).
		Update("script", script).Error
}
