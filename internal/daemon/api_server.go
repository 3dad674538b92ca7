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

	"trackrelay/internal/api"
	"trackrelay/internal/config"
	"trackrelay/internal/events"
	"trackrelay/internal/logging"
	"trackrelay/internal/scheduler"
	"trackrelay/internal/services"
)

const (
	maxEventWait    = 25 * time.Second
	maxRequestBytes = 64 << 10
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	handler  http.Handler
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
	guard := newTokenGuard(cfg.Paths.APIToken)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", guard.protect(srv.handleStatus))
	mux.HandleFunc("GET /api/tasks", guard.protect(srv.handleTasks))
	mux.HandleFunc("POST /api/tasks", guard.protect(srv.handleSubmit))
	mux.HandleFunc("DELETE /api/tasks", guard.protect(srv.handleCancelAll))
	mux.HandleFunc("GET /api/tasks/{id}", guard.protect(srv.handleTask))
	mux.HandleFunc("DELETE /api/tasks/{id}", guard.protect(srv.handleCancel))
	mux.HandleFunc("GET /api/events", guard.protect(srv.handleEvents))
	mux.HandleFunc("GET /api/wrapper", guard.protect(srv.handleWrapper))
	mux.HandleFunc("GET /api/files", guard.protect(srv.handleFiles))

	srv.handler = mux
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
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      maxEventWait + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.server = server

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
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
		s.server = nil
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// addr returns the bound listener address, useful when binding port 0.
func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.APIStatus(r.Context()))
}

func (s *apiServer) handleTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	history, _ := strconv.Atoi(query.Get("history"))
	tasks, err := s.daemon.Tasks(r.Context(), scheduler.ListOptions{
		RequesterID: strings.TrimSpace(query.Get("requester")),
		History:     history,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	items := make([]api.TaskItem, 0, len(tasks))
	for _, task := range tasks {
		items = append(items, api.FromTask(task, s.daemon.Position(task.ID)))
	}
	s.writeJSON(w, http.StatusOK, api.TaskListResponse{Tasks: items})
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	task, err := s.daemon.Submit(r.Context(), api.ToSubmitRequest(req))
	if err != nil {
		var rejection *scheduler.Rejection
		switch {
		case errors.As(err, &rejection):
			s.writeJSON(w, rejectionStatus(rejection.Code), api.SubmitResponse{
				Rejected:       true,
				RejectionCode:  string(rejection.Code),
				Message:        rejection.Message,
				ExistingTaskID: rejection.ExistingTaskID,
			})
		case errors.Is(err, services.ErrValidation):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	item := api.FromTask(task, s.daemon.Position(task.ID))
	s.writeJSON(w, http.StatusAccepted, api.SubmitResponse{Task: &item})
}

func rejectionStatus(code scheduler.RejectionCode) int {
	switch code {
	case scheduler.RejectQueueFull, scheduler.RejectUserLimit:
		return http.StatusTooManyRequests
	case scheduler.RejectDuplicate:
		return http.StatusConflict
	case scheduler.RejectShuttingDown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnprocessableEntity
	}
}

func (s *apiServer) handleTask(w http.ResponseWriter, r *http.Request) {
	task, position, ok := s.daemon.Task(r.Context(), r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.TaskResponse{Task: api.FromTask(task, position)})
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	requester := strings.TrimSpace(r.URL.Query().Get("requester"))
	if requester == "" {
		s.writeError(w, http.StatusBadRequest, "requester is required")
		return
	}
	cancelled := s.daemon.Cancel(r.Context(), r.PathValue("id"), requester)
	status := http.StatusOK
	if !cancelled {
		status = http.StatusNotFound
	}
	s.writeJSON(w, status, map[string]bool{"cancelled": cancelled})
}

func (s *apiServer) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	requester := strings.TrimSpace(r.URL.Query().Get("requester"))
	if requester == "" {
		s.writeError(w, http.StatusBadRequest, "requester is required")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"cancelled": s.daemon.CancelAll(r.Context(), requester)})
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 200
	}
	wait := query.Get("wait") == "1" || strings.EqualFold(query.Get("wait"), "true")
	filter := events.Filter{
		TaskID:      strings.TrimSpace(query.Get("task")),
		RequesterID: strings.TrimSpace(query.Get("requester")),
	}
	for _, value := range query["type"] {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			filter.Types = append(filter.Types, events.Type(trimmed))
		}
	}

	ctx := r.Context()
	if wait {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxEventWait)
		defer cancel()
	}
	evts, next, err := s.daemon.Events(ctx, since, limit, wait, filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.EventsResponse{Events: api.FromEvents(evts), Next: next})
}

func (s *apiServer) handleWrapper(w http.ResponseWriter, r *http.Request) {
	inst, sessionValid := s.daemon.Wrapper()
	s.writeJSON(w, http.StatusOK, api.FromInstance(inst, sessionValid))
}

func (s *apiServer) handleFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.daemon.Files(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.ArtifactListResponse{Artifacts: api.FromArtifacts(files)})
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
	if s.logger != nil {
		return s.logger.With(logging.String("component", "api-server"))
	}
	return logging.NewNop()
}
