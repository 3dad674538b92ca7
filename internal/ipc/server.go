package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"
	"time"

	"trackrelay/internal/api"
	"trackrelay/internal/artifacts"
	"trackrelay/internal/daemon"
	"trackrelay/internal/events"
	"trackrelay/internal/logging"
	"trackrelay/internal/scheduler"
	"trackrelay/internal/services"
	"trackrelay/internal/wrapper"
)

// ServiceName is the JSON-RPC service prefix.
const ServiceName = "TrackRelay"

const maxEventWait = 30 * time.Second

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: serverCtx}
	if err := rpcServer.RegisterName(ServiceName, srv); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file. Open client
// connections finish their in-flight call first.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun trackrelay stop"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String("component", "ipc"))
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.log().Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.log().Info("daemon started via IPC",
		logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.log().Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.Status = s.daemon.APIStatus(s.ctx)
	return nil
}

func (s *service) Submit(req SubmitRequest, resp *SubmitResponse) error {
	task, err := s.daemon.Submit(s.ctx, api.ToSubmitRequest(req))
	if err != nil {
		var rejection *scheduler.Rejection
		if errors.As(err, &rejection) {
			resp.Rejected = true
			resp.RejectionCode = string(rejection.Code)
			resp.Message = rejection.Message
			resp.ExistingTaskID = rejection.ExistingTaskID
			return nil
		}
		return err
	}
	item := api.FromTask(task, s.daemon.Position(task.ID))
	resp.Task = &item
	return nil
}

func (s *service) Cancel(req CancelRequest, resp *CancelResponse) error {
	if strings.TrimSpace(req.TaskID) == "" || strings.TrimSpace(req.RequesterID) == "" {
		return services.Wrap(services.ErrValidation, "ipc", "cancel", "task id and requester id are required", nil)
	}
	resp.Cancelled = s.daemon.Cancel(s.ctx, req.TaskID, req.RequesterID)
	return nil
}

func (s *service) CancelAll(req CancelAllRequest, resp *CancelAllResponse) error {
	if strings.TrimSpace(req.RequesterID) == "" {
		return services.Wrap(services.ErrValidation, "ipc", "cancel all", "requester id is required", nil)
	}
	resp.Cancelled = s.daemon.CancelAll(s.ctx, req.RequesterID)
	return nil
}

func (s *service) Task(req TaskRequest, resp *TaskResponse) error {
	task, position, ok := s.daemon.Task(s.ctx, strings.TrimSpace(req.TaskID))
	if !ok {
		return nil
	}
	resp.Found = true
	resp.Task = api.FromTask(task, position)
	return nil
}

func (s *service) Tasks(req TasksRequest, resp *TasksResponse) error {
	tasks, err := s.daemon.Tasks(s.ctx, scheduler.ListOptions{RequesterID: req.RequesterID, History: req.History})
	if err != nil {
		return err
	}
	resp.Tasks = make([]api.TaskItem, 0, len(tasks))
	for _, task := range tasks {
		resp.Tasks = append(resp.Tasks, api.FromTask(task, s.daemon.Position(task.ID)))
	}
	return nil
}

func (s *service) Events(req EventsRequest, resp *EventsResponse) error {
	limit := req.Limit
	if limit <= 0 {
		limit = 200
	}
	filter := events.Filter{TaskID: req.TaskID, RequesterID: req.RequesterID}
	for _, t := range req.Types {
		filter.Types = append(filter.Types, events.Type(t))
	}
	ctx := s.ctx
	wait := req.WaitMillis > 0
	if wait {
		timeout := min(time.Duration(req.WaitMillis)*time.Millisecond, maxEventWait)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, timeout)
		defer cancel()
	}
	evts, next, err := s.daemon.Events(ctx, req.Since, limit, wait, filter)
	if err != nil {
		return err
	}
	resp.Events = api.FromEvents(evts)
	resp.Next = next
	return nil
}

func (s *service) wrapperSnapshot(resp *WrapperResponse) {
	inst, sessionValid := s.daemon.Wrapper()
	resp.Wrapper = api.FromInstance(inst, sessionValid)
}

func (s *service) Wrapper(_ WrapperRequest, resp *WrapperResponse) error {
	s.wrapperSnapshot(resp)
	return nil
}

func (s *service) WrapperStart(_ WrapperRequest, resp *WrapperResponse) error {
	if err := s.daemon.WrapperStart(s.ctx); err != nil {
		return err
	}
	resp.Message = "wrapper start requested"
	s.wrapperSnapshot(resp)
	return nil
}

func (s *service) WrapperStop(_ WrapperRequest, resp *WrapperResponse) error {
	if err := s.daemon.WrapperStop(s.ctx); err != nil {
		return err
	}
	resp.Message = "wrapper stopped"
	s.wrapperSnapshot(resp)
	return nil
}

func (s *service) WrapperBuild(_ WrapperRequest, resp *WrapperResponse) error {
	s.log().Info("wrapper build requested via IPC", logging.String(logging.FieldEventType, "wrapper_build"))
	if err := s.daemon.WrapperBuild(s.ctx); err != nil {
		return err
	}
	resp.Message = "wrapper image built"
	s.wrapperSnapshot(resp)
	return nil
}

func (s *service) Login(req LoginRequest, resp *LoginResponse) error {
	if strings.TrimSpace(req.Account) == "" {
		return services.Wrap(services.ErrValidation, "ipc", "login", "account is required", nil)
	}
	result, err := s.daemon.Login(s.ctx, req.Account, req.Password, req.Code)
	if err != nil {
		return err
	}
	resp.Code = result.Code
	resp.Message = result.Message
	resp.Need2FA = result.Code == wrapper.LoginNeed2FA
	return nil
}

func (s *service) Logout(req LogoutRequest, resp *LogoutResponse) error {
	if strings.TrimSpace(req.Account) == "" {
		return services.Wrap(services.ErrValidation, "ipc", "logout", "account is required", nil)
	}
	if err := s.daemon.Logout(s.ctx, req.Account); err != nil {
		return err
	}
	resp.LoggedOut = true
	return nil
}

func (s *service) Files(_ FilesRequest, resp *FilesResponse) error {
	files, err := s.daemon.Files(s.ctx)
	if err != nil {
		return err
	}
	resp.Artifacts = api.FromArtifacts(files)
	return nil
}

func (s *service) FilesClean(req FilesCleanRequest, resp *FilesCleanResponse) error {
	filter := artifacts.Filter{
		TaskIDs:     req.TaskIDs,
		RequesterID: req.RequesterID,
		OlderThan:   time.Duration(req.OlderThanHours) * time.Hour,
		All:         req.All,
	}
	removed, err := s.daemon.CleanFiles(s.ctx, filter)
	resp.Removed = removed
	if err != nil {
		return err
	}
	s.log().Info("artifacts cleaned via IPC",
		logging.String(logging.FieldEventType, "files_clean"),
		logging.Int("removed_count", len(removed)))
	return nil
}

func (s *service) FilesSweep(_ FilesSweepRequest, resp *FilesCleanResponse) error {
	removed, err := s.daemon.Sweep(s.ctx)
	resp.Removed = removed
	return err
}

func (s *service) DatabaseHealth(_ DatabaseHealthRequest, resp *DatabaseHealthResponse) error {
	health, err := s.daemon.DatabaseHealth(s.ctx)
	if err != nil && health.Error == "" {
		return err
	}
	resp.DBPath = health.DBPath
	resp.SchemaVersion = health.SchemaVersion
	resp.TaskCount = health.TaskCount
	resp.ArtifactCount = health.ArtifactCount
	resp.IntegrityCheck = health.IntegrityCheck
	resp.Error = health.Error
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	if err != nil {
		return err
	}
	resp.Sent = sent
	resp.Message = message
	return nil
}
