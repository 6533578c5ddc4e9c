package uploads

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sabobeh/lectureweaver-backend/pkg/db/models"
	"github.com/sabobeh/lectureweaver-backend/pkg/enums"
	pkgerrors "github.com/sabobeh/lectureweaver-backend/pkg/errors"
)

var repoTestCounter int

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repoTestCounter++
	dsn := fmt.Sprintf("file:uploads_repo_%d?mode=memory&cache=shared", repoTestCounter)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Upload{}); err != nil {
		t.Fatalf("migrate uploads: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	})
	return NewRepository(db)
}

func seedUpload(t *testing.T, repo *Repository, userID uuid.UUID) *models.Upload {
	t.Helper()
	upload := &models.Upload{
		ID:          uuid.New(),
		UserID:      userID,
		Title:       "Intro to Databases",
		FileName:    "intro.pdf",
		FileType:    "application/pdf",
		SizeBytes:   2048,
		StoragePath: fmt.Sprintf("decks/%s/%s.pdf", userID, uuid.New()),
		Status:      enums.UploadStatusPending,
		SSHStatus:   enums.TransferStatusIdle,
	}
	created, err := repo.Create(context.Background(), upload)
	if err != nil {
		t.Fatalf("seed upload: %v", err)
	}
	return created
}

func TestCreateAndFindByID(t *testing.T) {
	repo := newTestRepo(t)
	userID := uuid.New()
	created := seedUpload(t, repo, userID)

	found, err := repo.FindByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if found.Title != created.Title {
		t.Fatalf("expected title %q, got %q", created.Title, found.Title)
	}
	if found.Status != enums.UploadStatusPending {
		t.Fatalf("new upload must start pending, got %s", found.Status)
	}
	if found.SSHStatus != enums.TransferStatusIdle {
		t.Fatalf("new upload transfer must start idle, got %s", found.SSHStatus)
	}
}

func TestListByUserScopesAndOrders(t *testing.T) {
	repo := newTestRepo(t)
	owner := uuid.New()
	other := uuid.New()

	for i := 0; i < 3; i++ {
		seedUpload(t, repo, owner)
	}
	seedUpload(t, repo, other)

	rows, err := repo.ListByUser(context.Background(), owner)
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows for owner, got %d", len(rows))
	}
	for _, row := range rows {
		if row.UserID != owner {
			t.Fatal("listing leaked another user's upload")
		}
	}
}

func TestTransitionStatusEnforcesMachine(t *testing.T) {
	repo := newTestRepo(t)
	upload := seedUpload(t, repo, uuid.New())
	ctx := context.Background()

	// pending → completed skips processing and must be rejected.
	err := repo.TransitionStatus(ctx, upload.ID, enums.UploadStatusPending, enums.UploadStatusCompleted, nil)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected STATE_CONFLICT, got %v", err)
	}

	if err := repo.TransitionStatus(ctx, upload.ID, enums.UploadStatusPending, enums.UploadStatusProcessing, nil); err != nil {
		t.Fatalf("pending→processing: %v", err)
	}

	msg := "generation exploded"
	if err := repo.TransitionStatus(ctx, upload.ID, enums.UploadStatusProcessing, enums.UploadStatusError, &msg); err != nil {
		t.Fatalf("processing→error: %v", err)
	}

	found, err := repo.FindByID(ctx, upload.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.ErrorMessage == nil || *found.ErrorMessage != msg {
		t.Fatalf("error message not recorded: %v", found.ErrorMessage)
	}

	// error → pending is the manual retry path and clears the message.
	if err := repo.TransitionStatus(ctx, upload.ID, enums.UploadStatusError, enums.UploadStatusPending, nil); err != nil {
		t.Fatalf("error→pending: %v", err)
	}
	found, _ = repo.FindByID(ctx, upload.ID)
	if found.ErrorMessage != nil {
		t.Fatal("retry must clear the error message")
	}
}

func TestTransitionStatusDetectsConcurrentChange(t *testing.T) {
	repo := newTestRepo(t)
	upload := seedUpload(t, repo, uuid.New())
	ctx := context.Background()

	if err := repo.TransitionStatus(ctx, upload.ID, enums.UploadStatusPending, enums.UploadStatusProcessing, nil); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	// A second worker holding the stale pending view loses.
	err := repo.TransitionStatus(ctx, upload.ID, enums.UploadStatusPending, enums.UploadStatusProcessing, nil)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected STATE_CONFLICT for stale claim, got %v", err)
	}
}

func TestTransitionSSHStatusManagesProgress(t *testing.T) {
	repo := newTestRepo(t)
	upload := seedUpload(t, repo, uuid.New())
	ctx := context.Background()

	if err := repo.TransitionSSHStatus(ctx, upload.ID, enums.TransferStatusIdle, enums.TransferStatusPending, nil); err != nil {
		t.Fatalf("idle→pending: %v", err)
	}
	if err := repo.TransitionSSHStatus(ctx, upload.ID, enums.TransferStatusPending, enums.TransferStatusTransferring, nil); err != nil {
		t.Fatalf("pending→transferring: %v", err)
	}

	if err := repo.SetSSHProgress(ctx, upload.ID, 55); err != nil {
		t.Fatalf("set progress: %v", err)
	}
	found, _ := repo.FindByID(ctx, upload.ID)
	if found.SSHProgress != 55 {
		t.Fatalf("expected progress 55, got %d", found.SSHProgress)
	}

	if err := repo.TransitionSSHStatus(ctx, upload.ID, enums.TransferStatusTransferring, enums.TransferStatusCompleted, nil); err != nil {
		t.Fatalf("transferring→completed: %v", err)
	}
	found, _ = repo.FindByID(ctx, upload.ID)
	if found.SSHProgress != 100 {
		t.Fatalf("completed transfer must pin progress to 100, got %d", found.SSHProgress)
	}

	// completed is terminal.
	err := repo.TransitionSSHStatus(ctx, upload.ID, enums.TransferStatusCompleted, enums.TransferStatusPending, nil)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected STATE_CONFLICT from terminal state, got %v", err)
	}
}

func TestSSHRetryResetsProgress(t *testing.T) {
	repo := newTestRepo(t)
	upload := seedUpload(t, repo, uuid.New())
	ctx := context.Background()

	steps := []struct{ from, to enums.TransferStatus }{
		{enums.TransferStatusIdle, enums.TransferStatusPending},
		{enums.TransferStatusPending, enums.TransferStatusTransferring},
	}
	for _, step := range steps {
		if err := repo.TransitionSSHStatus(ctx, upload.ID, step.from, step.to, nil); err != nil {
			t.Fatalf("%s→%s: %v", step.from, step.to, err)
		}
	}
	_ = repo.SetSSHProgress(ctx, upload.ID, 80)

	msg := "relay unreachable"
	if err := repo.TransitionSSHStatus(ctx, upload.ID, enums.TransferStatusTransferring, enums.TransferStatusError, &msg); err != nil {
		t.Fatalf("transferring→error: %v", err)
	}

	if err := repo.TransitionSSHStatus(ctx, upload.ID, enums.TransferStatusError, enums.TransferStatusPending, nil); err != nil {
		t.Fatalf("error→pending: %v", err)
	}

	found, _ := repo.FindByID(ctx, upload.ID)
	if found.SSHProgress != 0 {
		t.Fatalf("retry must reset progress, got %d", found.SSHProgress)
	}
	if found.SSHErrorMessage != nil {
		t.Fatal("retry must clear the transfer error message")
	}
}

func TestSetSSHProgressIgnoredOutsideTransferring(t *testing.T) {
	repo := newTestRepo(t)
	upload := seedUpload(t, repo, uuid.New())
	ctx := context.Background()

	if err := repo.SetSSHProgress(ctx, upload.ID, 50); err != nil {
		t.Fatalf("set progress: %v", err)
	}
	found, _ := repo.FindByID(ctx, upload.ID)
	if found.SSHProgress != 0 {
		t.Fatalf("progress must not move while idle, got %d", found.SSHProgress)
	}
}

func TestSetCompletedRecordsVideo(t *testing.T) {
	repo := newTestRepo(t)
	upload := seedUpload(t, repo, uuid.New())
	ctx := context.Background()

	if err := repo.TransitionStatus(ctx, upload.ID, enums.UploadStatusPending, enums.UploadStatusProcessing, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := repo.SetCompleted(ctx, upload.ID, "video_1700000000000_abc123def", "https://signed.example.com/v"); err != nil {
		t.Fatalf("set completed: %v", err)
	}

	found, _ := repo.FindByID(ctx, upload.ID)
	if found.Status != enums.UploadStatusCompleted {
		t.Fatalf("expected completed, got %s", found.Status)
	}
	if found.VideoID == nil || *found.VideoID != "video_1700000000000_abc123def" {
		t.Fatalf("video id not recorded: %v", found.VideoID)
	}

	// Completing a row that is not processing is a conflict.
	err := repo.SetCompleted(ctx, upload.ID, "video_x", "")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected STATE_CONFLICT, got %v", err)
	}
}
