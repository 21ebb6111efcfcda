package image

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

const maxImageBytes = 10 << 20

// Reupload fetches image bytes from a source URL and posts them to an
// upload endpoint with a bearer token.
type Reupload struct {
	uploadURL string
	token     string
	client    *http.Client
}

func NewReupload(uploadURL, token string, client *http.Client) *Reupload {
	return &Reupload{uploadURL: uploadURL, token: token, client: client}
}

func (r *Reupload) Stage() Stage { return AfterAnswer }

func (r *Reupload) Upload(ctx context.Context, sourceURL string) (string, error) {
	if sourceURL == "" {
		return "", fmt.Errorf("%w: no source url", ErrUpload)
	}
	data, err := r.fetch(ctx, sourceURL)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.uploadURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Authorization", "Bearer "+r.token)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer resp.Body.Close()
	return decodeImageKey(resp)
}

func (r *Reupload) fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create fetch request: %v", ErrUpload, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch image: %v", ErrUpload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch image: status %d", ErrUpload, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read image: %v", ErrUpload, err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("%w: image larger than %d bytes", ErrUpload, maxImageBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrUpload)
	}
	return data, nil
}
