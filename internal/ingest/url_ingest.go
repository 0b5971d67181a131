package ingest

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"curator/internal/queue"
	"curator/internal/services"
	"curator/internal/stage"
)

// URLIngestHandler fetches a remote document into the artifact store and
// confirms it, as one job.
type URLIngestHandler struct {
	controller    *Controller
	httpClient    *http.Client
	lookupIP      func(host string) ([]net.IP, error)
	allowLoopback bool
}

// URLOption customizes the URL ingest handler.
type URLOption func(*URLIngestHandler)

// WithHTTPClient overrides the fetch client.
func WithHTTPClient(client *http.Client) URLOption {
	return func(h *URLIngestHandler) {
		if client != nil {
			h.httpClient = client
		}
	}
}

// WithAllowLoopback disables the loopback guard, for tests that fetch from a
// local listener.
func WithAllowLoopback() URLOption {
	return func(h *URLIngestHandler) {
		h.allowLoopback = true
	}
}

// NewURLIngestHandler builds the url_ingest job handler.
func NewURLIngestHandler(controller *Controller, opts ...URLOption) *URLIngestHandler {
	h := &URLIngestHandler{
		controller: controller,
		httpClient: &http.Client{Timeout: fetchDeadline(controller.cfg.URLFetchTimeout())},
		lookupIP:   net.LookupIP,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type urlIngestPayload struct {
	URL         string `json:"url"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// URLIngestPayload builds the payload for a url_ingest job.
func URLIngestPayload(rawURL, filename, contentType string) (string, error) {
	return stage.EncodePayload(urlIngestPayload{URL: rawURL, Filename: filename, ContentType: contentType})
}

func (h *URLIngestHandler) Prepare(ctx context.Context, job *queue.Job) error {
	var payload urlIngestPayload
	if err := stage.DecodePayload(job, &payload); err != nil {
		return err
	}
	if _, err := h.guardURL(payload.URL); err != nil {
		return services.Wrap(services.ErrValidation, "url_ingest", "prepare", err.Error(), err)
	}
	return nil
}

func (h *URLIngestHandler) Execute(ctx context.Context, job *queue.Job) error {
	var payload urlIngestPayload
	if err := stage.DecodePayload(job, &payload); err != nil {
		return err
	}
	parsed, err := h.guardURL(payload.URL)
	if err != nil {
		return services.Wrap(services.ErrValidation, "url_ingest", "guard url", err.Error(), err)
	}

	filename := payload.Filename
	if filename == "" {
		filename = path.Base(parsed.Path)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, payload.URL, nil)
	if err != nil {
		return services.Wrap(services.ErrValidation, "url_ingest", "build request", err.Error(), err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "url_ingest", "fetch",
			fmt.Sprintf("%s: %s", ErrDownloadFailed, err), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		marker := services.ErrTransient
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			marker = services.ErrValidation
		}
		return services.Wrap(marker, "url_ingest", "fetch",
			fmt.Sprintf("%s: remote returned http %d", ErrDownloadFailed, resp.StatusCode), nil)
	}

	contentType := payload.ContentType
	if contentType == "" {
		contentType = resp.Header.Get("Content-Type")
	}
	resolved := resolveContentType(contentType, filename)
	if resolved == "" {
		return services.Wrap(services.ErrValidation, "url_ingest", "fetch",
			fmt.Sprintf("%s: remote content type %q is not supported", ErrUnsupportedType, contentType), nil)
	}

	// Cap the body read one byte past the limit so oversized responses are
	// detected without buffering them.
	limit := h.controller.cfg.MaxURLFetchBytes()
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return services.Wrap(services.ErrTransient, "url_ingest", "fetch",
			fmt.Sprintf("%s: %s", ErrDownloadFailed, err), err)
	}
	if int64(len(body)) > limit {
		return services.Wrap(services.ErrValidation, "url_ingest", "fetch",
			fmt.Sprintf("%s: response exceeds %d bytes", ErrFileTooLarge, limit), nil)
	}
	if len(body) == 0 {
		return services.Wrap(services.ErrValidation, "url_ingest", "fetch",
			fmt.Sprintf("%s: remote returned an empty body", ErrDownloadFailed), nil)
	}

	result, err := h.controller.Presign(ctx, PresignRequest{
		Filename:    filename,
		ContentType: resolved,
		SizeBytes:   int64(len(body)),
	})
	if err != nil {
		return services.Wrap(services.ErrValidation, "url_ingest", "register document", err.Error(), err)
	}

	version, err := h.controller.catalog.GetVersion(ctx, result.VersionID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "url_ingest", "load version", "catalog read failed", err)
	}
	if err := h.controller.artifacts.Put(ctx, version.StorageKey, strings.NewReader(string(body)), resolved); err != nil {
		return err
	}
	if _, err := h.controller.Confirm(ctx, result.DocumentID, result.VersionID); err != nil {
		return services.Wrap(services.ErrTransient, "url_ingest", "confirm", err.Error(), err)
	}
	return nil
}

func (h *URLIngestHandler) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy("url_ingest")
}

// guardURL enforces the fetch policy: http(s) only, no loopback or
// link-local targets. Hostnames are resolved so DNS aliases for blocked
// ranges are caught too.
func (h *URLIngestHandler) guardURL(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDownloadFailed, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q is not allowed", ErrSSRFBlocked, parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: url has no host", ErrSSRFBlocked)
	}
	if h.allowLoopback {
		return parsed, nil
	}

	ips := []net.IP{}
	if ip := net.ParseIP(host); ip != nil {
		ips = append(ips, ip)
	} else {
		resolved, err := h.lookupIP(host)
		if err != nil {
			return nil, fmt.Errorf("%w: unable to resolve %s: %s", ErrDownloadFailed, host, err)
		}
		ips = resolved
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return nil, fmt.Errorf("%w: %s resolves to a blocked address", ErrSSRFBlocked, host)
		}
	}
	return parsed, nil
}

var _ stage.Handler = (*URLIngestHandler)(nil)

// fetchDeadline guards against configs with a zero timeout.
func fetchDeadline(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 60 * time.Second
	}
	return timeout
}
