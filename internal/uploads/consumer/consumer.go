package consumer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sabobeh/lectureweaver-backend/internal/generation"
	"github.com/sabobeh/lectureweaver-backend/internal/transfer"
	"github.com/sabobeh/lectureweaver-backend/internal/uploads"
	"github.com/sabobeh/lectureweaver-backend/internal/videostore"
	"github.com/sabobeh/lectureweaver-backend/pkg/db/models"
	"github.com/sabobeh/lectureweaver-backend/pkg/enums"
	pkgerrors "github.com/sabobeh/lectureweaver-backend/pkg/errors"
	"github.com/sabobeh/lectureweaver-backend/pkg/logger"
	"github.com/sabobeh/lectureweaver-backend/pkg/metrics"
)

type repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Upload, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.UploadStatus, errorMessage *string) error
	TransitionSSHStatus(ctx context.Context, id uuid.UUID, from, to enums.TransferStatus, errorMessage *string) error
	SetSSHProgress(ctx context.Context, id uuid.UUID, progress int) error
	SetCompleted(ctx context.Context, id uuid.UUID, videoID, downloadURL string) error
}

type generator interface {
	Generate(ctx context.Context, input generation.GenerateInput) (*generation.GenerateOutput, error)
}

type videoStore interface {
	Save(ctx context.Context, input videostore.SaveInput) (*videostore.VideoRecord, error)
	Load(ctx context.Context, id string) (*videostore.VideoRecord, error)
}

type deckStore interface {
	DownloadObject(ctx context.Context, bucket, object string, w io.Writer) (int64, error)
}

type archiver interface {
	Push(ctx context.Context, input transfer.PushInput) error
}

// Consumer drives upload events through the generation and archival pipelines.
type Consumer struct {
	repo         repository
	generator    generator
	store        videoStore
	decks        deckStore
	bucket       string
	archiver     archiver
	engine       *transfer.Engine
	subscription *pubsub.Subscriber
	metrics      *metrics.UploadMetrics
	logg         *logger.Logger
	now          func() time.Time
}

// NewConsumer constructs a consumer that watches the uploads subscription.
func NewConsumer(
	repo repository,
	gen generator,
	store videoStore,
	decks deckStore,
	bucket string,
	arch archiver,
	engine *transfer.Engine,
	subscription *pubsub.Subscriber,
	m *metrics.UploadMetrics,
	logg *logger.Logger,
) (*Consumer, error) {
	if repo == nil {
		return nil, errors.New("uploads repository is required")
	}
	if gen == nil {
		return nil, errors.New("generation client is required")
	}
	if store == nil {
		return nil, errors.New("video store is required")
	}
	if decks == nil {
		return nil, errors.New("deck store is required")
	}
	if bucket == "" {
		return nil, errors.New("deck bucket is required")
	}
	if arch == nil {
		return nil, errors.New("archive client is required")
	}
	if engine == nil {
		return nil, errors.New("transfer engine is required")
	}
	if subscription == nil {
		return nil, errors.New("uploads subscription is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		repo:         repo,
		generator:    gen,
		store:        store,
		decks:        decks,
		bucket:       bucket,
		archiver:     arch,
		engine:       engine,
		subscription: subscription,
		metrics:      m,
		logg:         logg,
		now:          time.Now,
	}, nil
}

// Run processes messages until the context is canceled or the subscription errors.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	event, err := uploads.ParseEvent(msg.Data)
	if err != nil {
		logCtx := c.logg.WithField(ctx, "message_id", msg.ID)
		c.logg.Error(logCtx, "dropping malformed upload event", err)
		return processResult{ack: true}
	}

	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"upload_id":  event.UploadID.String(),
		"kind":       event.Kind,
	})

	switch event.Kind {
	case uploads.EventKindProcess:
		return c.handleProcess(logCtx, event.UploadID)
	case uploads.EventKindArchive:
		return c.handleArchive(logCtx, event.UploadID)
	default:
		c.logg.Warn(logCtx, "skipping unknown event kind")
		return processResult{ack: true}
	}
}

func (c *Consumer) handleProcess(ctx context.Context, id uuid.UUID) processResult {
	upload, err := c.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.logg.Warn(ctx, "upload row not found")
			return processResult{ack: true}
		}
		return c.handleDBError(ctx, err)
	}

	switch upload.Status {
	case enums.UploadStatusPending:
		// proceed
	case enums.UploadStatusCompleted, enums.UploadStatusProcessing:
		c.logg.Info(ctx, "upload already handled, skipping")
		return processResult{ack: true}
	default:
		c.logg.Info(ctx, "upload not in a runnable state, skipping")
		return processResult{ack: true}
	}

	if err := c.repo.TransitionStatus(ctx, id, enums.UploadStatusPending, enums.UploadStatusProcessing, nil); err != nil {
		if pkgerrors.As(err) != nil {
			c.logg.Warn(ctx, "lost processing claim to a concurrent worker")
			return processResult{ack: true}
		}
		return c.handleDBError(ctx, err)
	}

	done := c.metrics.TrackInFlight()
	defer done()
	started := c.now()

	record, err := c.runGeneration(ctx, upload)
	if err != nil {
		if pkgerrors.IsCancelled(err) {
			c.logg.Info(ctx, "generation cancelled, leaving upload in processing for redelivery")
			return processResult{nack: true}
		}
		c.failProcessing(ctx, id, err)
		c.metrics.IncProcessed(enums.UploadStatusError.String())
		c.metrics.ObserveProcessing(enums.UploadStatusError.String(), time.Since(started))
		return processResult{ack: true}
	}

	if err := c.repo.SetCompleted(ctx, id, record.ID, ""); err != nil {
		return c.handleDBError(ctx, err)
	}

	c.metrics.IncProcessed(enums.UploadStatusCompleted.String())
	c.metrics.ObserveProcessing(enums.UploadStatusCompleted.String(), time.Since(started))
	c.logg.Info(c.logg.WithVideoID(ctx, record.ID), "upload processed, video stored")

	// Hand the finished video straight to the archival pipeline.
	if err := c.repo.TransitionSSHStatus(ctx, id, enums.TransferStatusIdle, enums.TransferStatusPending, nil); err != nil {
		c.logg.Warn(ctx, "archive handoff skipped, ssh status not idle")
		return processResult{ack: true}
	}
	return c.handleArchive(ctx, id)
}

func (c *Consumer) runGeneration(ctx context.Context, upload *models.Upload) (*videostore.VideoRecord, error) {
	var deck bytes.Buffer
	if _, err := c.decks.DownloadObject(ctx, c.bucket, upload.StoragePath, &deck); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetching slide deck")
	}

	script := ""
	if upload.Script != nil {
		script = *upload.Script
	}

	out, err := c.generator.Generate(ctx, generation.GenerateInput{
		FileName: upload.FileName,
		FileType: upload.FileType,
		Data:     &deck,
		Script:   script,
	})
	if err != nil {
		return nil, err
	}

	return c.store.Save(ctx, videostore.SaveInput{
		FileName: videoFileName(upload),
		MimeType: out.MimeType,
		Data:     out.Data,
	})
}

func (c *Consumer) failProcessing(ctx context.Context, id uuid.UUID, cause error) {
	msg := publicFailureMessage(cause)
	if err := c.repo.TransitionStatus(ctx, id, enums.UploadStatusProcessing, enums.UploadStatusError, &msg); err != nil {
		c.logg.Error(ctx, "failed to record processing error", err)
		return
	}
	c.logg.Error(ctx, "upload processing failed", cause)
}

func (c *Consumer) handleArchive(ctx context.Context, id uuid.UUID) processResult {
	upload, err := c.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.logg.Warn(ctx, "upload row not found")
			return processResult{ack: true}
		}
		return c.handleDBError(ctx, err)
	}

	if upload.SSHStatus != enums.TransferStatusPending {
		c.logg.Info(ctx, "archive transfer not pending, skipping")
		return processResult{ack: true}
	}
	if upload.VideoID == nil || *upload.VideoID == "" {
		msg := "no rendered video to archive"
		_ = c.repo.TransitionSSHStatus(ctx, id, enums.TransferStatusPending, enums.TransferStatusTransferring, nil)
		_ = c.repo.TransitionSSHStatus(ctx, id, enums.TransferStatusTransferring, enums.TransferStatusError, &msg)
		return processResult{ack: true}
	}

	if err := c.repo.TransitionSSHStatus(ctx, id, enums.TransferStatusPending, enums.TransferStatusTransferring, nil); err != nil {
		if pkgerrors.As(err) != nil {
			c.logg.Warn(ctx, "lost archive claim to a concurrent worker")
			return processResult{ack: true}
		}
		return c.handleDBError(ctx, err)
	}

	videoID := *upload.VideoID
	err = c.engine.Execute(ctx, transfer.Job{
		Target: "archive",
		OnProgress: func(percent int) {
			if err := c.repo.SetSSHProgress(ctx, id, percent); err != nil {
				c.logg.Warn(ctx, "failed to record transfer progress")
			}
		},
		Run: func(ctx context.Context, attempt int, report func(int)) error {
			record, loadErr := c.store.Load(ctx, videoID)
			if loadErr != nil {
				return loadErr
			}
			return c.archiver.Push(ctx, transfer.PushInput{
				FileName: record.FileName,
				Data:     bytes.NewReader(record.Data),
				Size:     record.SizeBytes,
				Progress: report,
			})
		},
	})

	switch {
	case err == nil:
		if err := c.repo.TransitionSSHStatus(ctx, id, enums.TransferStatusTransferring, enums.TransferStatusCompleted, nil); err != nil {
			return c.handleDBError(ctx, err)
		}
		c.logg.Info(ctx, "video archived")
		return processResult{ack: true}

	case pkgerrors.IsCancelled(err):
		// Intentional stop. The row stays transferring and the redelivered
		// message is skipped until a manual retry resets the machine.
		c.logg.Info(ctx, "archive transfer cancelled")
		return processResult{nack: true}

	default:
		msg := publicFailureMessage(err)
		if dbErr := c.repo.TransitionSSHStatus(ctx, id, enums.TransferStatusTransferring, enums.TransferStatusError, &msg); dbErr != nil {
			return c.handleDBError(ctx, dbErr)
		}
		c.logg.Error(ctx, "archive transfer failed", err)
		return processResult{ack: true}
	}
}

func (c *Consumer) handleDBError(ctx context.Context, err error) processResult {
	c.logg.Error(ctx, "upload persistence error", err)
	if isTransientDBError(err) {
		return processResult{nack: true}
	}
	return processResult{ack: true}
}

func videoFileName(upload *models.Upload) string {
	base := strings.TrimSpace(upload.Title)
	if base == "" {
		base = strings.TrimSuffix(upload.FileName, "."+strings.ToLower(fileExt(upload.FileName)))
	}
	return fmt.Sprintf("%s.mp4", base)
}

func fileExt(name string) string {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[idx+1:]
	}
	return ""
}

func publicFailureMessage(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Message()
	}
	return "processing failed"
}

func isTransientDBError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
