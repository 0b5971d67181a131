// Package embedding wraps the vector embedding service.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"curator/internal/services"
)

const (
	defaultHTTPTimeout = 60 * time.Second
	defaultBatchSize   = 64
)

// Client calls the embeddings HTTP API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	batchSize  int
	httpClient *http.Client
}

// Option customizes the embedding client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithBatchSize caps how many inputs go into one request.
func WithBatchSize(size int) Option {
	return func(c *Client) {
		if size > 0 {
			c.batchSize = size
		}
	}
}

// NewClient constructs an embedding client.
func NewClient(baseURL, apiKey, model string, opts ...Option) *Client {
	client := &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		model:      strings.TrimSpace(model),
		batchSize:  defaultBatchSize,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input string, in input order. Inputs are sent
// in batches; a failure anywhere fails the whole call so the job retries from
// the top, which is safe because embedding writes are idempotent upserts.
func (c *Client) Embed(ctx context.Context, inputs []string) ([][]float64, error) {
	if c.baseURL == "" {
		return nil, services.Wrap(
			services.ErrConfiguration, "embed", "embed",
			"embedding.base_url is not configured", nil)
	}
	if len(inputs) == 0 {
		return nil, nil
	}

	vectors := make([][]float64, 0, len(inputs))
	for start := 0; start < len(inputs); start += c.batchSize {
		end := start + c.batchSize
		if end > len(inputs) {
			end = len(inputs)
		}
		batch, err := c.embedBatch(ctx, inputs[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (c *Client) embedBatch(ctx context.Context, inputs []string) ([][]float64, error) {
	endpoint, err := url.JoinPath(c.baseURL, "/v1/embeddings")
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "embed", "embed", "invalid base url", err)
	}
	encoded, err := json.Marshal(embedRequest{Model: c.model, Input: inputs})
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "embed", "embed", "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "embed", "embed", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrTimeout, "embed", "embed", "request deadline exceeded", err)
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return nil, services.Wrap(services.ErrTimeout, "embed", "embed", "request timed out", err)
		}
		return nil, services.Wrap(services.ErrTransient, "embed", "embed", "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "embed", "embed", "read response", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, services.Wrap(services.ErrTransient, "embed", "embed", "embedding service rate limited the request", nil)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, services.Wrap(
			services.ErrExternalService, "embed", "embed",
			fmt.Sprintf("embedding service returned http %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, services.Wrap(
			services.ErrValidation, "embed", "embed",
			fmt.Sprintf("embedding request rejected: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var decoded embedResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, services.Wrap(services.ErrExternalService, "embed", "embed", "decode response", err)
	}
	if len(decoded.Data) != len(inputs) {
		return nil, services.Wrap(
			services.ErrExternalService, "embed", "embed",
			fmt.Sprintf("expected %d embeddings, got %d", len(inputs), len(decoded.Data)), nil)
	}

	vectors := make([][]float64, len(inputs))
	for _, item := range decoded.Data {
		if item.Index < 0 || item.Index >= len(inputs) {
			return nil, services.Wrap(
				services.ErrExternalService, "embed", "embed",
				fmt.Sprintf("embedding index %d out of range", item.Index), nil)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}
