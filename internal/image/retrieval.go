package image

import (
	"context"
	"fmt"
	"net/http"
)

// Retrieval asks a fixed endpoint for an already uploaded image.
type Retrieval struct {
	url    string
	client *http.Client
}

func NewRetrieval(url string, client *http.Client) *Retrieval {
	return &Retrieval{url: url, client: client}
}

func (r *Retrieval) Stage() Stage { return BeforeAnswer }

// Upload calls the retrieval endpoint without credentials. sourceURL is unused.
func (r *Retrieval) Upload(ctx context.Context, sourceURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: create request: %v", ErrUpload, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer resp.Body.Close()
	return decodeImageKey(resp)
}
