package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"curator/internal/api"
	"curator/internal/catalog"
	"curator/internal/config"
	"curator/internal/ingest"
	"curator/internal/logging"
	"curator/internal/queue"
	"curator/internal/services"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	mux      *http.ServeMux
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}

	token := strings.TrimSpace(cfg.Paths.APIToken)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/upload-intent", authMiddleware(token, srv.handleUploadIntent))
	mux.HandleFunc("/api/upload-confirm", authMiddleware(token, srv.handleUploadConfirm))
	mux.HandleFunc("/api/jobs", authMiddleware(token, srv.handleJobs))
	mux.HandleFunc("/api/jobs/", authMiddleware(token, srv.handleJobItem))
	mux.HandleFunc("/api/documents/", authMiddleware(token, srv.handleDocumentItem))
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("/api/queue/health", authMiddleware(token, srv.handleQueueHealth))
	srv.mux = mux

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) handleUploadIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.UploadIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := s.daemon.uploads.Presign(r.Context(), ingest.PresignRequest{
		Filename:    req.Filename,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.UploadIntentResponse{
		DocumentID: result.DocumentID,
		VersionID:  result.VersionID,
		UploadURL:  result.UploadURL,
		ExpiresAt:  result.ExpiresAt,
	})
}

func (s *apiServer) handleUploadConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.UploadConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	job, err := s.daemon.uploads.Confirm(r.Context(), req.DocumentID, req.VersionID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.UploadConfirmResponse{Job: api.ConvertJob(job)})
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	query := r.URL.Query()
	var filter queue.Filter
	if value := strings.TrimSpace(query.Get("status")); value != "" {
		status, err := queue.ParseStatus(value)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Status = status
	}
	if value := strings.TrimSpace(query.Get("type")); value != "" {
		jobType, err := queue.ParseType(value)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Type = jobType
	}
	filter.Limit, _ = strconv.Atoi(query.Get("limit"))
	filter.Offset, _ = strconv.Atoi(query.Get("offset"))
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	jobs, err := s.daemon.store.List(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{
		Jobs:   api.ConvertJobs(jobs),
		Offset: filter.Offset,
		Limit:  filter.Limit,
	})
}

func (s *apiServer) handleJobItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	idStr, action, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		job, err := s.daemon.store.Get(r.Context(), id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.ConvertJob(job))
	case action == "" && r.Method == http.MethodDelete:
		outcome, err := s.daemon.store.Cancel(r.Context(), id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		job, err := s.daemon.store.Get(r.Context(), id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.CancelResponse{Outcome: string(outcome), Job: api.ConvertJob(job)})
	case action == "retry" && r.Method == http.MethodPost:
		retried, err := s.daemon.store.RetryFailed(r.Context(), id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		if retried == 0 {
			s.writeError(w, http.StatusConflict, "job is not in a failed state")
			return
		}
		s.writeJSON(w, http.StatusOK, api.RetryResponse{Retried: retried})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleDocumentItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		s.writeError(w, http.StatusNotFound, "document not found")
		return
	}

	switch {
	case action == "delete" && r.Method == http.MethodPost:
		summary, err := s.daemon.deletes.RequestDelete(r.Context(), id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, api.ConvertDeletionSummary(summary))
	case action == "retry-deletion" && r.Method == http.MethodPost:
		summary, err := s.daemon.deletes.RetryDocumentDeletion(r.Context(), id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, api.ConvertDeletionSummary(summary))
	case action == "deletion-status" && r.Method == http.MethodGet:
		summary, err := s.daemon.deletes.Status(r.Context(), id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.ConvertDeletionSummary(summary))
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, api.ConvertStatus(status.Workflow))
}

func (s *apiServer) handleQueueHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	health, err := s.daemon.store.Health(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ConvertQueueHealth(health))
}

// writeDomainError maps sentinel errors onto HTTP status codes.
func (s *apiServer) writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ingest.ErrFileTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, ingest.ErrUnsupportedType):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, ingest.ErrUploadNotFound):
		status = http.StatusNotFound
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, queue.ErrNotFound), errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, queue.ErrCancelNotAllowed):
		status = http.StatusConflict
	case errors.Is(err, catalog.ErrStageConflict):
		status = http.StatusConflict
	case errors.Is(err, services.ErrValidation):
		status = http.StatusBadRequest
	}
	s.writeError(w, status, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
