package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/sabobeh/lectureweaver-backend/pkg/config"
	pkgerrors "github.com/sabobeh/lectureweaver-backend/pkg/errors"
)

// Client calls the narration service that turns a slide deck into a video.
// Generation failures are not retried automatically; the user decides whether
// to run the pipeline again.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient builds the generation client.
func NewClient(cfg config.GenerationConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("generation endpoint is required")
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// GenerateInput carries the source deck and optional narration script.
type GenerateInput struct {
	FileName string
	FileType string
	Data     io.Reader
	Script   string
}

// GenerateOutput holds the rendered video.
type GenerateOutput struct {
	Data     []byte
	MimeType string
}

type errorEnvelope struct {
	Error string `json:"error"`
}

// Generate submits the deck and returns the rendered video bytes. A non-2xx
// response carries a JSON {error} body which is surfaced verbatim.
func (c *Client) Generate(ctx context.Context, input GenerateInput) (*GenerateOutput, error) {
	if input.FileName == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file name is required")
	}
	if input.Data == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "deck reader is required")
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	part, err := form.CreateFormFile("file", input.FileName)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating file part")
	}
	if _, err := io.Copy(part, input.Data); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "buffering deck payload")
	}
	if input.Script != "" {
		if err := form.WriteField("script", input.Script); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "writing script field")
		}
	}
	if err := form.Close(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "finalizing form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building generation request")
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if pkgerrors.IsCancelled(err) || ctx.Err() != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeCancelled, err, "generation cancelled")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeRemoteService, err, "calling generation service")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		var envelope errorEnvelope
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != "" {
			return nil, pkgerrors.New(pkgerrors.CodeRemoteService, envelope.Error)
		}
		return nil, pkgerrors.New(pkgerrors.CodeRemoteService,
			fmt.Sprintf("generation service returned %s", resp.Status))
	}

	video, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeRemoteService, err, "reading generated video")
	}
	if len(video) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeRemoteService, "generation service returned empty video")
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "video/mp4"
	}

	return &GenerateOutput{Data: video, MimeType: mimeType}, nil
}
