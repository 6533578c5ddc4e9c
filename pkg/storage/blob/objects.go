package blob

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// UploadOptions tunes a resumable upload.
type UploadOptions struct {
	ContentType string

	// OnProgress receives the percentage of bytes committed so far, 0-100.
	// It is called after every chunk and never goes backwards.
	OnProgress func(percent int)
}

// UploadObject streams the reader into bucket/object using the resumable
// upload protocol, committing one chunk at a time. size must be the exact
// byte length of the payload.
func (c *Client) UploadObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts UploadOptions) error {
	if c == nil || c.tokenSource == nil {
		return errors.New("blob client not initialized")
	}
	bucket = c.resolveBucket(bucket)
	if bucket == "" {
		return errors.New("bucket is required")
	}
	if object == "" {
		return errors.New("object is required")
	}
	if size < 0 {
		return errors.New("size must be non-negative")
	}

	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return err
	}

	sessionURI, err := c.startResumableSession(ctx, token, bucket, object, opts.ContentType)
	if err != nil {
		return err
	}

	chunkSize := int64(c.uploadChunkBytes)
	if chunkSize <= 0 {
		chunkSize = 8 << 20
	}

	var sent int64
	buf := make([]byte, chunkSize)
	for sent < size || size == 0 {
		want := chunkSize
		if remaining := size - sent; remaining < want {
			want = remaining
		}
		n, readErr := io.ReadFull(r, buf[:want])
		if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
			return fmt.Errorf("reading upload payload: %w", readErr)
		}
		if int64(n) != want {
			return fmt.Errorf("upload payload truncated at %d bytes", sent+int64(n))
		}

		if err := c.putChunk(ctx, token, sessionURI, buf[:n], sent, size); err != nil {
			return err
		}
		sent += int64(n)

		if opts.OnProgress != nil && size > 0 {
			opts.OnProgress(int(sent * 100 / size))
		}
		if size == 0 {
			break
		}
	}
	if opts.OnProgress != nil && size == 0 {
		opts.OnProgress(100)
	}

	return nil
}

func (c *Client) startResumableSession(ctx context.Context, token, bucket, object, contentType string) (string, error) {
	u := fmt.Sprintf(
		"https://storage.googleapis.com/upload/storage/v1/b/%s/o?uploadType=resumable&name=%s",
		url.PathEscape(bucket),
		url.QueryEscape(object),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("X-Upload-Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("starting resumable upload: %s", resp.Status)
	}

	sessionURI := resp.Header.Get("Location")
	if sessionURI == "" {
		return "", errors.New("resumable session missing Location header")
	}
	return sessionURI, nil
}

func (c *Client) putChunk(ctx context.Context, token, sessionURI string, chunk []byte, offset, total int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURI, strings.NewReader(string(chunk)))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.ContentLength = int64(len(chunk))
	if total == 0 {
		req.Header.Set("Content-Range", "bytes */0")
	} else {
		end := offset + int64(len(chunk)) - 1
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, end, total))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return nil
	case 308: // Resume Incomplete, more chunks expected
		return nil
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if len(b) > 0 {
			return fmt.Errorf("chunk upload failed: %s: %s", resp.Status, strings.TrimSpace(string(b)))
		}
		return fmt.Errorf("chunk upload failed: %s", resp.Status)
	}
}

// DownloadObject fetches the raw object bytes and streams them to w.
func (c *Client) DownloadObject(ctx context.Context, bucket, object string, w io.Writer) (int64, error) {
	if c == nil || c.tokenSource == nil {
		return 0, errors.New("blob client not initialized")
	}
	bucket = c.resolveBucket(bucket)
	if bucket == "" {
		return 0, errors.New("bucket is required")
	}
	if object == "" {
		return 0, errors.New("object is required")
	}

	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return 0, err
	}

	u := fmt.Sprintf(
		"https://storage.googleapis.com/storage/v1/b/%s/o/%s?alt=media",
		url.PathEscape(bucket),
		url.PathEscape(object),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return 0, ErrObjectNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("object download failed: %s", resp.Status)
	}

	return io.Copy(w, resp.Body)
}

// ErrObjectNotFound is returned when the requested object does not exist.
var ErrObjectNotFound = errors.New("blob: object not found")

// DeleteObject removes bucket/object. Missing objects are not an error.
func (c *Client) DeleteObject(ctx context.Context, bucket, object string) error {
	if c == nil || c.tokenSource == nil {
		return errors.New("blob client not initialized")
	}
	bucket = c.resolveBucket(bucket)
	if bucket == "" {
		return errors.New("bucket is required")
	}
	if object == "" {
		return errors.New("object is required")
	}

	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return err
	}

	u := fmt.Sprintf(
		"https://storage.googleapis.com/storage/v1/b/%s/o/%s",
		url.PathEscape(bucket),
		url.PathEscape(object),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("object delete failed: %s", resp.Status)
	}
}

// SignedURL mints a PUT URL clients can use to upload directly.
func (c *Client) SignedURL(bucket, object, contentType string, ttl time.Duration) (string, error) {
	if c == nil || c.serviceAccount == nil {
		return "", errors.New("signed urls require service account credentials")
	}
	bucket = c.resolveBucket(bucket)
	if bucket == "" {
		return "", errors.New("bucket is required")
	}
	if object == "" {
		return "", errors.New("object is required")
	}
	if contentType == "" {
		return "", errors.New("contentType is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be positive")
	}

	expires := time.Now().Add(ttl).Unix()
	stringToSign := "PUT\n\n" + contentType + "\n" + strconv.FormatInt(expires, 10) + "\n/" + bucket + "/" + object
	return c.buildSignedURL(bucket, object, stringToSign, expires)
}

// SignedReadURL mints a GET URL for time-limited downloads.
func (c *Client) SignedReadURL(bucket, object string, ttl time.Duration) (string, error) {
	if c == nil || c.serviceAccount == nil {
		return "", errors.New("signed urls require service account credentials")
	}
	bucket = c.resolveBucket(bucket)
	if bucket == "" {
		return "", errors.New("bucket is required")
	}
	if object == "" {
		return "", errors.New("object is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be positive")
	}

	expires := time.Now().Add(ttl).Unix()
	stringToSign := "GET\n\n\n" + strconv.FormatInt(expires, 10) + "\n/" + bucket + "/" + object
	return c.buildSignedURL(bucket, object, stringToSign, expires)
}

func (c *Client) buildSignedURL(bucket, object, stringToSign string, expires int64) (string, error) {
	hash := sha256.Sum256([]byte(stringToSign))
	sig, err := rsa.SignPKCS1v15(rand.Reader, c.serviceAccount.privateKey, crypto.SHA256, hash[:])
	if err != nil {
		return "", fmt.Errorf("signing url: %w", err)
	}

	q := url.Values{}
	q.Set("GoogleAccessId", c.serviceAccount.clientEmail)
	q.Set("Expires", strconv.FormatInt(expires, 10))
	q.Set("Signature", base64.StdEncoding.EncodeToString(sig))

	return fmt.Sprintf(
		"https://storage.googleapis.com/%s/%s?%s",
		bucket,
		object,
		q.Encode(),
	), nil
}

func (c *Client) resolveBucket(bucket string) string {
	if bucket != "" {
		return bucket
	}
	return c.defaultBucket
}
