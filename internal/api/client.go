package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"curator/internal/queue"
	"curator/internal/services"
)

// Client talks to a running daemon over its HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// ClientOption customizes client construction.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTimeout sets the request timeout on the default HTTP client.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient builds a client for the daemon listening at baseURL. The token
// may be empty when the daemon runs without authentication.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UploadIntent declares an upcoming upload and returns the transfer grant.
func (c *Client) UploadIntent(ctx context.Context, req UploadIntentRequest) (*UploadIntentResponse, error) {
	var resp UploadIntentResponse
	if err := c.do(ctx, http.MethodPost, "/api/upload-intent", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadConfirm completes the upload handshake.
func (c *Client) UploadConfirm(ctx context.Context, documentID, versionID string) (*UploadConfirmResponse, error) {
	req := UploadConfirmRequest{DocumentID: documentID, VersionID: versionID}
	var resp UploadConfirmResponse
	if err := c.do(ctx, http.MethodPost, "/api/upload-confirm", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Jobs lists jobs matching the filter.
func (c *Client) Jobs(ctx context.Context, filter queue.Filter) (*JobListResponse, error) {
	params := url.Values{}
	if filter.Status != "" {
		params.Set("status", string(filter.Status))
	}
	if filter.Type != "" {
		params.Set("type", string(filter.Type))
	}
	if filter.Limit > 0 {
		params.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		params.Set("offset", strconv.Itoa(filter.Offset))
	}
	path := "/api/jobs"
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var resp JobListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Job returns one job by id.
func (c *Client) Job(ctx context.Context, id int64) (*Job, error) {
	var resp Job
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/jobs/%d", id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelJob cancels a queued job or flags a running one.
func (c *Client) CancelJob(ctx context.Context, id int64) (*CancelResponse, error) {
	var resp CancelResponse
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/jobs/%d", id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RetryJob requeues a failed job with a fresh attempt budget.
func (c *Client) RetryJob(ctx context.Context, id int64) (*RetryResponse, error) {
	var resp RetryResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/jobs/%d/retry", id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteDocument requests a cascading document delete.
func (c *Client) DeleteDocument(ctx context.Context, documentID string) (*DeletionStatusResponse, error) {
	var resp DeletionStatusResponse
	if err := c.do(ctx, http.MethodPost, "/api/documents/"+url.PathEscape(documentID)+"/delete", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RetryDeletion requeues a document's failed deletion tasks.
func (c *Client) RetryDeletion(ctx context.Context, documentID string) (*DeletionStatusResponse, error) {
	var resp DeletionStatusResponse
	if err := c.do(ctx, http.MethodPost, "/api/documents/"+url.PathEscape(documentID)+"/retry-deletion", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeletionStatus reports a document's teardown progress.
func (c *Client) DeletionStatus(ctx context.Context, documentID string) (*DeletionStatusResponse, error) {
	var resp DeletionStatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/documents/"+url.PathEscape(documentID)+"/deletion-status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status reports daemon and worker pool state.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueHealth reports aggregate queue depth.
func (c *Client) QueueHealth(ctx context.Context) (*QueueHealth, error) {
	var resp QueueHealth
	if err := c.do(ctx, http.MethodGet, "/api/queue/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return services.Wrap(services.ErrValidation, "api", "encode", "encode request body", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return services.Wrap(services.ErrValidation, "api", "request", "build request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrExternalService, "api", "request", "daemon unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrExternalService, "api", "decode", "decode response body", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := strings.TrimSpace(string(data))
	var envelope ErrorResponse
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error != "" {
		message = envelope.Error
	}
	marker := services.ErrExternalService
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		marker = services.ErrValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		marker = services.ErrConfiguration
	case http.StatusNotFound:
		marker = services.ErrNotFound
	case http.StatusConflict:
		marker = services.ErrValidation
	}
	return services.Wrap(marker, "api", "request", fmt.Sprintf("daemon returned %d: %s", resp.StatusCode, message), nil)
}
