package uploads

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sabobeh/lectureweaver-backend/pkg/config"
	"github.com/sabobeh/lectureweaver-backend/pkg/db/models"
	"github.com/sabobeh/lectureweaver-backend/pkg/enums"
	pkgerrors "github.com/sabobeh/lectureweaver-backend/pkg/errors"
	"github.com/sabobeh/lectureweaver-backend/pkg/storage/blob"
)

type stubRepo struct {
	rows    map[uuid.UUID]*models.Upload
	findErr error
}

func newStubRepo() *stubRepo {
	return &stubRepo{rows: map[uuid.UUID]*models.Upload{}}
}

func (s *stubRepo) Create(ctx context.Context, upload *models.Upload) (*models.Upload, error) {
	copied := *upload
	s.rows[upload.ID] = &copied
	return upload, nil
}

func (s *stubRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Upload, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	row, ok := s.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *row
	return &copied, nil
}

func (s *stubRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Upload, error) {
	var rows []models.Upload
	for _, row := range s.rows {
		if row.UserID == userID {
			rows = append(rows, *row)
		}
	}
	return rows, nil
}

func (s *stubRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.UploadStatus, errorMessage *string) error {
	row, ok := s.rows[id]
	if !ok {
		return errors.New("record not found")
	}
	if !from.CanTransitionTo(to) || row.Status != from {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "bad transition")
	}
	row.Status = to
	row.ErrorMessage = errorMessage
	return nil
}

func (s *stubRepo) TransitionSSHStatus(ctx context.Context, id uuid.UUID, from, to enums.TransferStatus, errorMessage *string) error {
	row, ok := s.rows[id]
	if !ok {
		return errors.New("record not found")
	}
	if !from.CanTransitionTo(to) || row.SSHStatus != from {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "bad transition")
	}
	row.SSHStatus = to
	row.SSHErrorMessage = errorMessage
	return nil
}

func (s *stubRepo) UpdateScript(ctx context.Context, id uuid.UUID, script string) error {
	row, ok := s.rows[id]
	if !ok {
		return errors.New("record not found")
	}
	row.Script = &script
	return nil
}

type stubBlob struct {
	objects   map[string][]byte
	uploadErr error
	signedURL string
}

func newStubBlob() *stubBlob {
	return &stubBlob{objects: map[string][]byte{}, signedURL: "https://signed.example.com/deck"}
}

func (s *stubBlob) UploadObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts blob.UploadOptions) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.objects[object] = data
	return nil
}

func (s *stubBlob) SignedReadURL(bucket, object string, ttl time.Duration) (string, error) {
	if _, ok := s.objects[object]; !ok {
		return "", errors.New("object missing")
	}
	return s.signedURL, nil
}

type stubPublisher struct {
	events []Event
	err    error
}

func (s *stubPublisher) Publish(ctx context.Context, event Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func testUploadConfig() config.UploadConfig {
	return config.UploadConfig{
		MaxUploadMB:       200,
		AllowedExtensions: []string{".pdf", ".ppt", ".pptx"},
	}
}

func testBlobConfig() config.BlobConfig {
	return config.BlobConfig{BucketName: "lectureweaver-decks", DownloadURLExpiry: time.Hour}
}

func newTestService(t *testing.T, repo *stubRepo, blobStore *stubBlob, pub *stubPublisher) Service {
	t.Helper()
	svc, err := NewService(repo, blobStore, pub, testUploadConfig(), testBlobConfig(), nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestCreateUploadHappyPath(t *testing.T) {
	t.Parallel()

	repo := newStubRepo()
	blobStore := newStubBlob()
	pub := &stubPublisher{}
	svc := newTestService(t, repo, blobStore, pub)

	userID := uuid.New()
	deck := []byte("%PDF-1.7 slides")

	created, err := svc.CreateUpload(context.Background(), userID, CreateUploadInput{
		Title:     "Operating Systems week 3",
		FileName:  "week3.pdf",
		SizeBytes: int64(len(deck)),
		Data:      bytes.NewReader(deck),
	})
	if err != nil {
		t.Fatalf("create upload: %v", err)
	}

	if created.Status != enums.UploadStatusPending {
		t.Fatalf("new upload must start pending, got %s", created.Status)
	}
	if created.SSHStatus != enums.TransferStatusIdle {
		t.Fatalf("new upload transfer must start idle, got %s", created.SSHStatus)
	}
	if created.FileType != "application/pdf" {
		t.Fatalf("unexpected file type %q", created.FileType)
	}
	if !strings.HasPrefix(created.StoragePath, "decks/"+userID.String()+"/") {
		t.Fatalf("unexpected storage path %q", created.StoragePath)
	}

	if got, ok := blobStore.objects[created.StoragePath]; !ok || !bytes.Equal(got, deck) {
		t.Fatal("deck bytes not stored")
	}

	if len(pub.events) != 1 || pub.events[0].Kind != EventKindProcess || pub.events[0].UploadID != created.ID {
		t.Fatalf("expected one process event, got %v", pub.events)
	}
}

func TestCreateUploadSurvivesPublishFailure(t *testing.T) {
	t.Parallel()

	repo := newStubRepo()
	pub := &stubPublisher{err: errors.New("broker down")}
	svc := newTestService(t, repo, newStubBlob(), pub)

	created, err := svc.CreateUpload(context.Background(), uuid.New(), CreateUploadInput{
		Title:     "Databases",
		FileName:  "db.pptx",
		SizeBytes: 10,
		Data:      bytes.NewReader(bytes.Repeat([]byte{1}, 10)),
	})
	if err != nil {
		t.Fatalf("create upload should succeed despite publish failure: %v", err)
	}
	if created.Status != enums.UploadStatusPending {
		t.Fatalf("row must stay pending for later retry, got %s", created.Status)
	}
}

func TestCreateUploadValidation(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newStubRepo(), newStubBlob(), &stubPublisher{})
	userID := uuid.New()
	ctx := context.Background()

	cases := []struct {
		name  string
		input CreateUploadInput
	}{
		{"missing title", CreateUploadInput{FileName: "x.pdf", SizeBytes: 1, Data: bytes.NewReader([]byte("x"))}},
		{"missing file name", CreateUploadInput{Title: "t", SizeBytes: 1, Data: bytes.NewReader([]byte("x"))}},
		{"disallowed extension", CreateUploadInput{Title: "t", FileName: "x.exe", SizeBytes: 1, Data: bytes.NewReader([]byte("x"))}},
		{"zero size", CreateUploadInput{Title: "t", FileName: "x.pdf", SizeBytes: 0, Data: bytes.NewReader(nil)}},
		{"over limit", CreateUploadInput{Title: "t", FileName: "x.pdf", SizeBytes: 201 << 20, Data: bytes.NewReader([]byte("x"))}},
		{"missing payload", CreateUploadInput{Title: "t", FileName: "x.pdf", SizeBytes: 1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateUpload(ctx, userID, tc.input)
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != pkgerrors.CodeValidation {
				t.Fatalf("expected VALIDATION_ERROR, got %v", err)
			}
		})
	}

	if _, err := svc.CreateUpload(ctx, uuid.Nil, CreateUploadInput{}); pkgerrors.As(err) == nil {
		t.Fatal("expected error for missing user")
	}
}

func TestGetHidesForeignUploads(t *testing.T) {
	t.Parallel()

	repo := newStubRepo()
	svc := newTestService(t, repo, newStubBlob(), &stubPublisher{})

	owner := uuid.New()
	id := uuid.New()
	repo.rows[id] = &models.Upload{ID: id, UserID: owner, Status: enums.UploadStatusPending}

	if _, err := svc.Get(context.Background(), owner, id); err != nil {
		t.Fatalf("owner get: %v", err)
	}

	_, err := svc.Get(context.Background(), uuid.New(), id)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("foreign upload must look absent, got %v", err)
	}
}

func TestGetDistinguishesOutageFromAbsence(t *testing.T) {
	t.Parallel()

	repo := newStubRepo()
	svc := newTestService(t, repo, newStubBlob(), &stubPublisher{})

	// A missing row is a 404.
	_, err := svc.Get(context.Background(), uuid.New(), uuid.New())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND for missing row, got %v", err)
	}

	// A broken database is not.
	repo.findErr = errors.New("driver: bad connection")
	_, err = svc.Get(context.Background(), uuid.New(), uuid.New())
	typed = pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected DEPENDENCY_ERROR for repository outage, got %v", err)
	}
}

func TestRetryProcessingResetsStatus(t *testing.T) {
	t.Parallel()

	repo := newStubRepo()
	pub := &stubPublisher{}
	svc := newTestService(t, repo, newStubBlob(), pub)

	owner := uuid.New()
	id := uuid.New()
	msg := "generation exploded"
	repo.rows[id] = &models.Upload{ID: id, UserID: owner, Status: enums.UploadStatusError, ErrorMessage: &msg}

	updated, err := svc.RetryProcessing(context.Background(), owner, id)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if updated.Status != enums.UploadStatusPending {
		t.Fatalf("expected pending after retry, got %s", updated.Status)
	}
	if updated.ErrorMessage != nil {
		t.Fatal("retry must clear the error message")
	}
	if len(pub.events) != 1 || pub.events[0].Kind != EventKindProcess {
		t.Fatalf("expected process event, got %v", pub.events)
	}

	// A processing claim abandoned by a cancelled or dead worker can also be
	// reset; nothing else ever moves it.
	repo.rows[id].Status = enums.UploadStatusProcessing
	updated, err = svc.RetryProcessing(context.Background(), owner, id)
	if err != nil {
		t.Fatalf("retry from processing: %v", err)
	}
	if updated.Status != enums.UploadStatusPending {
		t.Fatalf("expected pending after reclaim, got %s", updated.Status)
	}

	// Completed rows cannot be re-run through the retry path.
	repo.rows[id].Status = enums.UploadStatusCompleted
	_, err = svc.RetryProcessing(context.Background(), owner, id)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected STATE_CONFLICT, got %v", err)
	}
}

func TestRequestArchiveGuards(t *testing.T) {
	t.Parallel()

	repo := newStubRepo()
	pub := &stubPublisher{}
	svc := newTestService(t, repo, newStubBlob(), pub)

	owner := uuid.New()
	id := uuid.New()
	videoID := "video_1700000000000_abc123def"
	repo.rows[id] = &models.Upload{
		ID:        id,
		UserID:    owner,
		Status:    enums.UploadStatusCompleted,
		SSHStatus: enums.TransferStatusIdle,
		VideoID:   &videoID,
	}

	updated, err := svc.RequestArchive(context.Background(), owner, id)
	if err != nil {
		t.Fatalf("request archive: %v", err)
	}
	if updated.SSHStatus != enums.TransferStatusPending {
		t.Fatalf("expected pending transfer, got %s", updated.SSHStatus)
	}
	if len(pub.events) != 1 || pub.events[0].Kind != EventKindArchive {
		t.Fatalf("expected archive event, got %v", pub.events)
	}

	// Already-queued requests conflict.
	if _, err := svc.RequestArchive(context.Background(), owner, id); pkgerrors.As(err) == nil {
		t.Fatal("expected conflict for queued transfer")
	}

	// A transferring row left behind by cancellation or a crash is
	// reclaimable; without this the machine would never move again.
	repo.rows[id].SSHStatus = enums.TransferStatusTransferring
	updated, err = svc.RequestArchive(context.Background(), owner, id)
	if err != nil {
		t.Fatalf("reclaim stuck transfer: %v", err)
	}
	if updated.SSHStatus != enums.TransferStatusPending {
		t.Fatalf("expected pending after reclaim, got %s", updated.SSHStatus)
	}

	// Failed transfers can.
	repo.rows[id].SSHStatus = enums.TransferStatusError
	if _, err := svc.RequestArchive(context.Background(), owner, id); err != nil {
		t.Fatalf("retry archive from error: %v", err)
	}

	// Uploads that never finished processing cannot be archived.
	repo.rows[id].Status = enums.UploadStatusProcessing
	repo.rows[id].SSHStatus = enums.TransferStatusIdle
	if _, err := svc.RequestArchive(context.Background(), owner, id); pkgerrors.As(err) == nil {
		t.Fatal("expected conflict for unprocessed upload")
	}
}

func TestUpdateScriptLockedWhileProcessing(t *testing.T) {
	t.Parallel()

	repo := newStubRepo()
	svc := newTestService(t, repo, newStubBlob(), &stubPublisher{})

	owner := uuid.New()
	id := uuid.New()
	repo.rows[id] = &models.Upload{ID: id, UserID: owner, Status: enums.UploadStatusProcessing}

	_, err := svc.UpdateScript(context.Background(), owner, id, "new narration")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected STATE_CONFLICT, got %v", err)
	}

	repo.rows[id].Status = enums.UploadStatusPending
	updated, err := svc.UpdateScript(context.Background(), owner, id, "  new narration  ")
	if err != nil {
		t.Fatalf("update script: %v", err)
	}
	if updated.Script == nil || *updated.Script != "new narration" {
		t.Fatalf("script not updated: %v", updated.Script)
	}
}

func TestDeckDownloadURL(t *testing.T) {
	t.Parallel()

	repo := newStubRepo()
	blobStore := newStubBlob()
	svc := newTestService(t, repo, blobStore, &stubPublisher{})

	owner := uuid.New()
	id := uuid.New()
	repo.rows[id] = &models.Upload{ID: id, UserID: owner, StoragePath: "decks/a/b.pdf", Status: enums.UploadStatusCompleted}
	blobStore.objects["decks/a/b.pdf"] = []byte("deck")

	url, err := svc.DeckDownloadURL(context.Background(), owner, id)
	if err != nil {
		t.Fatalf("deck download url: %v", err)
	}
	if url != blobStore.signedURL {
		t.Fatalf("unexpected url %q", url)
	}
}
