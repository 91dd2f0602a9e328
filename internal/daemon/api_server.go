package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"docflow/internal/api"
	"docflow/internal/config"
	"docflow/internal/logging"
	"docflow/internal/logs"
	"docflow/internal/workflow"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}

	token := strings.TrimSpace(cfg.Paths.APIToken)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", authMiddleware(token, srv.handleHealth))
	mux.HandleFunc("/api/ingest", authMiddleware(token, srv.handleIngest))
	mux.HandleFunc("/api/workflows", authMiddleware(token, srv.handleWorkflows))
	mux.HandleFunc("/api/workflows/", authMiddleware(token, srv.handleWorkflow))
	mux.HandleFunc("/api/deadletters", authMiddleware(token, srv.handleDeadLetters))
	mux.HandleFunc("/api/deadletters/", authMiddleware(token, srv.handleDeadLetterRetry))
	mux.HandleFunc("/api/logs", authMiddleware(token, srv.handleLogs))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
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

// Addr reports the bound listen address, useful when the bind port is 0.
func (s *apiServer) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	stageHealth := make([]map[string]any, 0, len(status.StageHealth))
	for _, h := range status.StageHealth {
		stageHealth = append(stageHealth, map[string]any{
			"name":   h.Name,
			"ready":  h.Ready,
			"detail": h.Detail,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"running":     status.Running,
		"pid":         status.PID,
		"storePath":   status.StorePath,
		"workflows":   status.Health,
		"stageHealth": stageHealth,
	})
}

func (s *apiServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.daemon.Ingest(r.Context(), req.SubjectID, req.TenantID, req.Payload, req.Inline)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, api.IngestResponse{
		Workflow: api.FromRecord(rec),
		Inline:   req.Inline,
	})
}

func (s *apiServer) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var statuses []workflow.Status
	for _, value := range r.URL.Query()["status"] {
		status, ok := workflow.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
			return
		}
		statuses = append(statuses, status)
	}
	views, err := s.daemon.Service().List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.WorkflowListResponse{Workflows: views})
}

func (s *apiServer) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/workflows/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" || strings.Contains(action, "/") {
		s.writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		view, err := s.daemon.Service().Describe(r.Context(), id)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if view == nil {
			s.writeError(w, http.StatusNotFound, "workflow not found")
			return
		}
		s.writeJSON(w, http.StatusOK, api.WorkflowResponse{Workflow: *view})
	case action == "status" && r.Method == http.MethodGet:
		view, err := s.daemon.Service().TenantStatus(r.Context(), id)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if view == nil {
			s.writeError(w, http.StatusNotFound, "workflow not found")
			return
		}
		s.writeJSON(w, http.StatusOK, view)
	case action == "reset" && r.Method == http.MethodPost:
		ok, err := s.daemon.Service().Reset(r.Context(), id)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !ok {
			s.writeError(w, http.StatusConflict, "workflow is not failed")
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": string(workflow.StatusPending)})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	includeRetried := r.URL.Query().Get("includeRetried") == "true"
	entries, err := s.daemon.Service().DeadLetters(r.Context(), includeRetried)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.DeadLetterListResponse{Entries: entries})
}

func (s *apiServer) handleDeadLetterRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/deadletters/")
	idStr, action, _ := strings.Cut(rest, "/")
	if action != "retry" {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid dead-letter id")
		return
	}
	result, err := s.daemon.Service().RetryDeadLetter(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Outcome carries the per-entry result; non-dispatched outcomes are
	// not transport errors.
	s.writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	opts := logs.Options{Offset: -1, MaxLines: 100}
	query := r.URL.Query()
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		opts.Offset = offset
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.MaxLines = limit
	}
	if raw := query.Get("wait"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid wait")
			return
		}
		// The write timeout bounds how long a request may block.
		if seconds > 25 {
			seconds = 25
		}
		opts.WaitFor = time.Duration(seconds) * time.Second
	}

	page, err := logs.ReadPage(r.Context(), s.daemon.LogFilePath(), opts)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.LogPageResponse{
		Lines:      page.Lines,
		NextOffset: page.NextOffset,
	})
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
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	return logging.NewComponentLogger(s.logger, "api-server")
}
