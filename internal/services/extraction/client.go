// Package extraction wraps the text extraction service that turns raw
// document bytes into plain text.
package extraction

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

const defaultHTTPTimeout = 120 * time.Second

// Result is the extraction service response.
type Result struct {
	Text      string `json:"text"`
	PageCount int    `json:"page_count"`
}

// Client calls the extraction HTTP API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option customizes the extraction client.
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

// NewClient constructs an extraction client.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	client := &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type extractRequest struct {
	StorageKey  string `json:"storage_key"`
	ContentType string `json:"content_type,omitempty"`
}

// Extract submits a stored object for text extraction and waits for the
// result. Timeouts and 5xx responses come back transient so the job retries;
// 4xx responses are validation failures and fail the job immediately.
func (c *Client) Extract(ctx context.Context, storageKey, contentType string) (*Result, error) {
	if c.baseURL == "" {
		return nil, services.Wrap(
			services.ErrConfiguration, "extract", "extract",
			"extraction.base_url is not configured", nil)
	}
	endpoint, err := url.JoinPath(c.baseURL, "/v1/extract")
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "extract", "extract", "invalid base url", err)
	}
	encoded, err := json.Marshal(extractRequest{StorageKey: storageKey, ContentType: contentType})
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "extract", "extract", "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "extract", "extract", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError("extract", "extract", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "extract", "extract", "read response", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, services.Wrap(
			services.ErrExternalService, "extract", "extract",
			fmt.Sprintf("extraction service returned http %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, services.Wrap(
			services.ErrValidation, "extract", "extract",
			fmt.Sprintf("extraction rejected the document: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, services.Wrap(services.ErrExternalService, "extract", "extract", "decode response", err)
	}
	return &result, nil
}

// Fact is one key/value finding attributed to a span.
type Fact struct {
	SpanIndex int    `json:"span_index"`
	Name      string `json:"name"`
	Value     string `json:"value"`
}

type factsRequest struct {
	Spans []string `json:"spans"`
}

type factsResponse struct {
	Facts []Fact `json:"facts"`
}

// Facts asks the service for key/value findings over span texts. An empty
// fact list is a valid answer.
func (c *Client) Facts(ctx context.Context, spans []string) ([]Fact, error) {
	if c.baseURL == "" {
		return nil, services.Wrap(
			services.ErrConfiguration, "extract_facts", "facts",
			"extraction.base_url is not configured", nil)
	}
	endpoint, err := url.JoinPath(c.baseURL, "/v1/facts")
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "extract_facts", "facts", "invalid base url", err)
	}
	encoded, err := json.Marshal(factsRequest{Spans: spans})
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "extract_facts", "facts", "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "extract_facts", "facts", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError("extract_facts", "facts", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "extract_facts", "facts", "read response", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, services.Wrap(
			services.ErrExternalService, "extract_facts", "facts",
			fmt.Sprintf("extraction service returned http %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, services.Wrap(
			services.ErrValidation, "extract_facts", "facts",
			fmt.Sprintf("facts request rejected: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var decoded factsResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, services.Wrap(services.ErrExternalService, "extract_facts", "facts", "decode response", err)
	}
	return decoded.Facts, nil
}

// Healthy reports whether the service answers its health endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	if c.baseURL == "" {
		return services.Wrap(
			services.ErrConfiguration, "extract", "health",
			"extraction.base_url is not configured", nil)
	}
	endpoint, err := url.JoinPath(c.baseURL, "/healthz")
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "extract", "health", "invalid base url", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return services.Wrap(services.ErrValidation, "extract", "health", "build request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError("extract", "health", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return services.Wrap(
			services.ErrExternalService, "extract", "health",
			fmt.Sprintf("health check returned http %d", resp.StatusCode), nil)
	}
	return nil
}

func classifyTransportError(stage, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, stage, op, "request deadline exceeded", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return services.Wrap(services.ErrTimeout, stage, op, "request timed out", err)
	}
	return services.Wrap(services.ErrTransient, stage, op, "request failed", err)
}
