// Package image produces image keys for image replies.
package image

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUpload means the upload endpoint did not hand back an image key.
var ErrUpload = errors.New("image upload failed")

// Modes selectable in configuration.
const (
	ModeNone      = "none"
	ModeRetrieval = "retrieval"
	ModeReupload  = "reupload"
)

// Stage says where the image reply goes relative to the answer.
type Stage int

const (
	BeforeAnswer Stage = iota
	AfterAnswer
)

// Uploader obtains an image key. sourceURL is the image to publish; it is
// ignored by uploaders that do not take a source.
type Uploader interface {
	Upload(ctx context.Context, sourceURL string) (string, error)
	Stage() Stage
}

// Config selects and configures an Uploader.
type Config struct {
	Mode         string
	RetrievalURL string
	UploadURL    string
	Token        string
	Timeout      time.Duration
}

// New returns the Uploader for cfg.Mode, or nil for ModeNone.
func New(cfg Config) (Uploader, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	switch cfg.Mode {
	case "", ModeNone:
		return nil, nil
	case ModeRetrieval:
		if cfg.RetrievalURL == "" {
			return nil, fmt.Errorf("image mode %q requires a retrieval url", cfg.Mode)
		}
		return NewRetrieval(cfg.RetrievalURL, client), nil
	case ModeReupload:
		if cfg.UploadURL == "" || cfg.Token == "" {
			return nil, fmt.Errorf("image mode %q requires an upload url and token", cfg.Mode)
		}
		return NewReupload(cfg.UploadURL, cfg.Token, client), nil
	default:
		return nil, fmt.Errorf("unknown image mode %q", cfg.Mode)
	}
}

// uploadEnvelope is the {code, data:{image_key}} response both variants read.
type uploadEnvelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
	Data *struct {
		ImageKey string `json:"image_key"`
	} `json:"data"`
}

func decodeImageKey(resp *http.Response) (string, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrUpload, err)
	}
	var env uploadEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("%w: parsing response (status %d): %v", ErrUpload, resp.StatusCode, err)
	}
	if env.Code != 0 {
		return "", fmt.Errorf("%w: code %d: %s", ErrUpload, env.Code, env.Msg)
	}
	if env.Data == nil || env.Data.ImageKey == "" {
		return "", fmt.Errorf("%w: no image key in response", ErrUpload)
	}
	return env.Data.ImageKey, nil
}
