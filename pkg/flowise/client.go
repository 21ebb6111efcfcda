// Package flowise is a client for Flowise-style prediction endpoints.
package flowise

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrTransport means the request could not be completed.
	ErrTransport = errors.New("flowise: transport error")
	// ErrProtocol means the response body was not the expected JSON.
	ErrProtocol = errors.New("flowise: protocol error")
	// ErrNoAnswer means the response carried no usable text.
	ErrNoAnswer = errors.New("flowise: no answer")
)

const defaultTimeout = 60 * time.Second

// Config holds the endpoint settings.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Client posts questions to a single prediction endpoint.
type Client struct {
	config     *Config
	httpClient *http.Client
}

// New creates a Client for the given configuration.
func New(config *Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// predictionRequest is the prediction request body.
type predictionRequest struct {
	Question       string         `json:"question"`
	OverrideConfig overrideConfig `json:"overrideConfig"`
}

type overrideConfig struct {
	SessionID string `json:"sessionId"`
}

// predictionResponse is the subset of the prediction response we read.
type predictionResponse struct {
	Text string `json:"text"`
}

// Query asks question within sessionID and returns the answer text.
// Errors wrap ErrTransport, ErrProtocol or ErrNoAnswer. Nothing is retried.
func (c *Client) Query(ctx context.Context, question, sessionID string) (string, error) {
	body, err := json.Marshal(predictionRequest{
		Question:       question,
		OverrideConfig: overrideConfig{SessionID: sessionID},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: creating request: %v", ErrTransport, err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: sending request: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d: %s", ErrTransport, resp.StatusCode, truncate(respBody, 200))
	}

	var result predictionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("%w: parsing response: %v", ErrProtocol, err)
	}

	if result.Text == "" {
		return "", ErrNoAnswer
	}
	return result.Text, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
