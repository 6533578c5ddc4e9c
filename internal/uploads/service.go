package uploads

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sabobeh/lectureweaver-backend/pkg/config"
	"github.com/sabobeh/lectureweaver-backend/pkg/db/models"
	"github.com/sabobeh/lectureweaver-backend/pkg/enums"
	pkgerrors "github.com/sabobeh/lectureweaver-backend/pkg/errors"
	"github.com/sabobeh/lectureweaver-backend/pkg/logger"
	"github.com/sabobeh/lectureweaver-backend/pkg/storage/blob"
)

var contentTypeByExtension = map[string]string{
	".pdf":  "application/pdf",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
}

type uploadsRepository interface {
	Create(ctx context.Context, upload *models.Upload) (*models.Upload, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Upload, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Upload, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.UploadStatus, errorMessage *string) error
	TransitionSSHStatus(ctx context.Context, id uuid.UUID, from, to enums.TransferStatus, errorMessage *string) error
	UpdateScript(ctx context.Context, id uuid.UUID, script string) error
}

type blobStore interface {
	UploadObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts blob.UploadOptions) error
	SignedReadURL(bucket, object string, ttl time.Duration) (string, error)
}

// Service exposes the upload orchestration surface used by the API.
type Service interface {
	CreateUpload(ctx context.Context, userID uuid.UUID, input CreateUploadInput) (*models.Upload, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*models.Upload, error)
	List(ctx context.Context, userID uuid.UUID) ([]models.Upload, error)
	RetryProcessing(ctx context.Context, userID, id uuid.UUID) (*models.Upload, error)
	RequestArchive(ctx context.Context, userID, id uuid.UUID) (*models.Upload, error)
	UpdateScript(ctx context.Context, userID, id uuid.UUID, script string) (*models.Upload, error)
	DeckDownloadURL(ctx context.Context, userID, id uuid.UUID) (string, error)
}

type service struct {
	repo      uploadsRepository
	blob      blobStore
	publisher EventPublisher
	uploadCfg config.UploadConfig
	blobCfg   config.BlobConfig
	logg      *logger.Logger
}

// NewService constructs the uploads service.
func NewService(
	repo uploadsRepository,
	blobStore blobStore,
	publisher EventPublisher,
	uploadCfg config.UploadConfig,
	blobCfg config.BlobConfig,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("uploads repository required")
	}
	if blobStore == nil {
		return nil, fmt.Errorf("blob store required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("event publisher required")
	}
	if blobCfg.BucketName == "" {
		return nil, fmt.Errorf("blob bucket required")
	}
	if uploadCfg.MaxUploadMB <= 0 {
		return nil, fmt.Errorf("max upload size must be positive")
	}
	return &service{
		repo:      repo,
		blob:      blobStore,
		publisher: publisher,
		uploadCfg: uploadCfg,
		blobCfg:   blobCfg,
		logg:      logg,
	}, nil
}

// CreateUploadInput models a new slide deck submission.
type CreateUploadInput struct {
	Title     string
	FileName  string
	SizeBytes int64
	Data      io.Reader
	Script    string
}

func (s *service) CreateUpload(ctx context.Context, userID uuid.UUID, input CreateUploadInput) (*models.Upload, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user identity missing")
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title is required")
	}
	fileName := strings.TrimSpace(input.FileName)
	if fileName == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file name is required")
	}
	if input.Data == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "deck payload is required")
	}

	ext := strings.ToLower(path.Ext(fileName))
	if !s.extensionAllowed(ext) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("file type %q not allowed", ext)).
			WithDetails(map[string]any{"allowed": s.uploadCfg.AllowedExtensions})
	}

	if input.SizeBytes <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file size must be positive")
	}
	if input.SizeBytes > s.uploadCfg.MaxUploadBytes() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("file exceeds %dMB limit", s.uploadCfg.MaxUploadMB))
	}

	id := uuid.New()
	storagePath := fmt.Sprintf("decks/%s/%s%s", userID, id, ext)
	contentType := contentTypeByExtension[ext]

	err := s.blob.UploadObject(ctx, s.blobCfg.BucketName, storagePath, input.Data, input.SizeBytes, blob.UploadOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "storing slide deck")
	}

	var script *string
	if trimmed := strings.TrimSpace(input.Script); trimmed != "" {
		script = &trimmed
	}

	upload := &models.Upload{
		ID:          id,
		UserID:      userID,
		Title:       title,
		FileName:    fileName,
		FileType:    contentType,
		SizeBytes:   input.SizeBytes,
		StoragePath: storagePath,
		Script:      script,
		Status:      enums.UploadStatusPending,
		SSHStatus:   enums.TransferStatusIdle,
	}

	created, err := s.repo.Create(ctx, upload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting upload")
	}

	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithUploadID(ctx, created.ID.String())
		s.logg.Info(logCtx, "upload created")
	}

	// The row stays pending if the event cannot be published; the user can
	// retry from the UI without re-uploading the deck.
	if err := s.publisher.Publish(ctx, Event{UploadID: created.ID, Kind: EventKindProcess}); err != nil && s.logg != nil {
		s.logg.Warn(logCtx, "failed to enqueue processing event")
	}

	return created, nil
}

func (s *service) Get(ctx context.Context, userID, id uuid.UUID) (*models.Upload, error) {
	return s.findOwned(ctx, userID, id)
}

func (s *service) List(ctx context.Context, userID uuid.UUID) ([]models.Upload, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user identity missing")
	}
	rows, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing uploads")
	}
	return rows, nil
}

func (s *service) RetryProcessing(ctx context.Context, userID, id uuid.UUID) (*models.Upload, error) {
	upload, err := s.findOwned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	switch upload.Status {
	case enums.UploadStatusError, enums.UploadStatusProcessing:
		// processing is retryable too: a cancelled or crashed worker leaves
		// its claim behind with no consumer path back to pending.
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "upload is not in a retryable state")
	}

	if err := s.repo.TransitionStatus(ctx, id, upload.Status, enums.UploadStatusPending, nil); err != nil {
		return nil, err
	}

	if err := s.publisher.Publish(ctx, Event{UploadID: id, Kind: EventKindProcess}); err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithUploadID(ctx, id.String()), "failed to enqueue retry event")
	}

	return s.repo.FindByID(ctx, id)
}

func (s *service) RequestArchive(ctx context.Context, userID, id uuid.UUID) (*models.Upload, error) {
	upload, err := s.findOwned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if upload.Status != enums.UploadStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only completed uploads can be archived")
	}

	switch upload.SSHStatus {
	case enums.TransferStatusIdle, enums.TransferStatusError, enums.TransferStatusTransferring:
		// transferring rows are reclaimable: cancellation or a worker crash
		// leaves them there, and only a manual request moves them on.
		if err := s.repo.TransitionSSHStatus(ctx, id, upload.SSHStatus, enums.TransferStatusPending, nil); err != nil {
			return nil, err
		}
	case enums.TransferStatusCompleted:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "upload already archived")
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "archive already requested")
	}

	if err := s.publisher.Publish(ctx, Event{UploadID: id, Kind: EventKindArchive}); err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithUploadID(ctx, id.String()), "failed to enqueue archive event")
	}

	return s.repo.FindByID(ctx, id)
}

func (s *service) UpdateScript(ctx context.Context, userID, id uuid.UUID, script string) (*models.Upload, error) {
	upload, err := s.findOwned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if upload.Status == enums.UploadStatusProcessing {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "script is locked while processing")
	}

	if err := s.repo.UpdateScript(ctx, id, strings.TrimSpace(script)); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating script")
	}
	return s.repo.FindByID(ctx, id)
}

func (s *service) DeckDownloadURL(ctx context.Context, userID, id uuid.UUID) (string, error) {
	upload, err := s.findOwned(ctx, userID, id)
	if err != nil {
		return "", err
	}

	expiry := s.blobCfg.DownloadURLExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}

	url, err := s.blob.SignedReadURL(s.blobCfg.BucketName, upload.StoragePath, expiry)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "signing deck download url")
	}
	return url, nil
}

// findOwned loads the row and hides other users' uploads behind NOT_FOUND.
func (s *service) findOwned(ctx context.Context, userID, id uuid.UUID) (*models.Upload, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user identity missing")
	}
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "upload id is required")
	}

	upload, err := s.repo.FindByID(ctx, id)
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "upload not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading upload")
	}
	if upload.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "upload not found")
	}
	return upload, nil
}

func (s *service) extensionAllowed(ext string) bool {
	for _, allowed := range s.uploadCfg.AllowedExtensions {
		if strings.EqualFold(strings.TrimSpace(allowed), ext) {
			return true
		}
	}
	return false
}
