package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/sabobeh/lectureweaver-backend/pkg/config"
	pkgerrors "github.com/sabobeh/lectureweaver-backend/pkg/errors"
)

// Client pushes finished videos to the archival relay, which copies them to
// long-term storage over SSH.
type Client struct {
	endpoint   string
	cfg        config.ArchiveConfig
	httpClient *http.Client
}

// NewClient builds the archival client.
func NewClient(cfg config.ArchiveConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("archive endpoint is required")
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.AttemptTimeout},
	}, nil
}

// PushInput is the payload for one archival attempt.
type PushInput struct {
	FileName string
	Data     io.Reader
	Size     int64

	// Progress receives 0-100 as the payload is consumed. Optional.
	Progress func(percent int)
}

type archiveResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Push uploads the video in one multipart request and interprets the relay's
// {success, error} envelope. Any failure is retryable from the caller's side.
func (c *Client) Push(ctx context.Context, input PushInput) error {
	if input.FileName == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "file name is required")
	}
	if input.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payload reader is required")
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		err := c.writeForm(form, input)
		if closeErr := form.Close(); err == nil {
			err = closeErr
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, pr)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeTransfer, err, "building archive request")
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if pkgerrors.IsCancelled(err) || ctx.Err() != nil {
			return pkgerrors.Wrap(pkgerrors.CodeCancelled, err, "archive push cancelled")
		}
		return pkgerrors.Wrap(pkgerrors.CodeTransfer, err, "sending archive request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeTransfer, err, "reading archive response")
	}

	var envelope archiveResponse
	if unmarshalErr := json.Unmarshal(body, &envelope); unmarshalErr != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return pkgerrors.New(pkgerrors.CodeTransfer,
				fmt.Sprintf("archive relay returned %s", resp.Status))
		}
		return pkgerrors.Wrap(pkgerrors.CodeTransfer, unmarshalErr, "parsing archive response")
	}

	if !envelope.Success {
		msg := envelope.Error
		if msg == "" {
			msg = fmt.Sprintf("archive relay returned %s", resp.Status)
		}
		return pkgerrors.New(pkgerrors.CodeTransfer, msg)
	}

	return nil
}

func (c *Client) writeForm(form *multipart.Writer, input PushInput) error {
	fields := map[string]string{
		"host":      c.cfg.Host,
		"port":      strconv.Itoa(c.cfg.Port),
		"user":      c.cfg.User,
		"targetDir": c.cfg.TargetDir,
	}
	for key, value := range fields {
		if value == "" {
			continue
		}
		if err := form.WriteField(key, value); err != nil {
			return fmt.Errorf("writing field %s: %w", key, err)
		}
	}

	part, err := form.CreateFormFile("file", input.FileName)
	if err != nil {
		return fmt.Errorf("creating file part: %w", err)
	}

	reader := io.Reader(input.Data)
	if input.Progress != nil && input.Size > 0 {
		reader = &progressReader{r: input.Data, total: input.Size, onProgress: input.Progress}
	}
	if _, err := io.Copy(part, reader); err != nil {
		return fmt.Errorf("streaming payload: %w", err)
	}
	return nil
}

// progressReader reports consumption of the underlying payload as 0-100.
type progressReader struct {
	r          io.Reader
	total      int64
	read       int64
	onProgress func(int)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.read += int64(n)
		percent := int(p.read * 100 / p.total)
		if percent > 100 {
			percent = 100
		}
		p.onProgress(percent)
	}
	return n, err
}
