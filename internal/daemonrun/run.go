package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"trackrelay/internal/artifacts"
	"trackrelay/internal/catalog"
	"trackrelay/internal/config"
	"trackrelay/internal/daemon"
	"trackrelay/internal/events"
	"trackrelay/internal/ipc"
	"trackrelay/internal/logging"
	"trackrelay/internal/notifications"
	"trackrelay/internal/pipeline"
	"trackrelay/internal/preflight"
	"trackrelay/internal/queue"
	"trackrelay/internal/scheduler"
	"trackrelay/internal/supervisor"
	"trackrelay/internal/wrapper"
)

const eventBuffer = 4096

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	Diagnostic  bool
	// SocketPath overrides the IPC socket derived from the state directory.
	SocketPath string
}

// Run starts the trackrelay daemon runtime loop and blocks until SIGINT or
// SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	runID := time.Now().UTC().Format("20060102T150405.000Z")
	if err := rotateLog(cfg.LogDir()); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to rotate daemon log: %v\n", err)
	}

	logCfg := *cfg
	if opts.LogLevel != "" {
		logCfg.Logging.Level = opts.LogLevel
	}
	if opts.Development {
		logCfg.Logging.Level = "debug"
	}
	logger, err := logging.NewFromConfig(&logCfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if opts.Diagnostic {
		sessionID := uuid.NewString()
		debugDir := filepath.Join(cfg.LogDir(), "debug")
		if err := os.MkdirAll(debugDir, 0o755); err != nil {
			return fmt.Errorf("create debug log directory: %w", err)
		}
		debugName := fmt.Sprintf("trackrelay-%s.log", runID)
		debugLogPath := filepath.Join(debugDir, debugName)
		debugLogger, debugErr := logging.New(logging.Options{
			Level:       "debug",
			Format:      "json",
			OutputPaths: []string{debugLogPath},
			Development: true,
		})
		if debugErr != nil {
			fmt.Fprintf(os.Stderr, "warn: unable to initialize debug logger: %v\n", debugErr)
		} else {
			logger = logging.TeeLogger(logger, debugLogger.Handler()).With(logging.String("session_id", sessionID))
		}
		logger.Info("diagnostic mode enabled",
			logging.String(logging.FieldEventType, "diagnostic_mode_enabled"),
			logging.String("session_id", sessionID),
			logging.String("debug_log_path", debugLogPath),
		)
		logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, debugDir, "trackrelay-*.log", debugName)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, cfg.LogDir(), "trackrelay-*.log", logging.LogFileName)

	logPreflight(signalCtx, logger, cfg)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}

	d, client, err := build(cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return err
	}
	defer client.Close()
	defer d.Close()

	socketPath := cfg.SocketPath()
	if opts.SocketPath != "" {
		socketPath = opts.SocketPath
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logging.WarnWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration and queue database access"),
			logging.String(logging.FieldImpact, "daemon will not process tasks until started"),
		)
	}

	<-signalCtx.Done()
	logger.Info("trackrelay daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// build wires the task pipeline and returns the daemon plus the wrapper
// client the caller must close.
func build(cfg *config.Config, store *queue.Store, logger *slog.Logger) (*daemon.Daemon, *wrapper.Client, error) {
	hub := events.NewHub(eventBuffer)
	client := wrapper.NewClient(wrapper.EndpointFromConfig(cfg))
	sup := supervisor.New(cfg, client, logger, supervisor.WithEvents(hub))
	files := artifacts.NewManager(cfg, store, logger, artifacts.WithEvents(hub))

	engine, err := pipeline.NewEngine(cfg, pipeline.Dependencies{
		Catalog:   catalog.NewClient(cfg, nil),
		Backend:   client,
		Artifacts: files,
	}, logger)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("create pipeline: %w", err)
	}
	sched := scheduler.New(cfg, store, engine, sup, logger, scheduler.WithEvents(hub))

	d, err := daemon.New(cfg, daemon.Components{
		Store:      store,
		Hub:        hub,
		Scheduler:  sched,
		Supervisor: sup,
		Files:      files,
		Notifier:   notifications.NewService(cfg),
	}, logger)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("create daemon: %w", err)
	}
	return d, client, nil
}

// rotateLog renames the previous daemon log so each run starts a fresh file
// and retention can prune old runs by age.
func rotateLog(logDir string) error {
	if logDir == "" {
		return nil
	}
	current := filepath.Join(logDir, logging.LogFileName)
	info, err := os.Stat(current)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
	}
	archived := filepath.Join(logDir, fmt.Sprintf("trackrelay-%s.log", info.ModTime().UTC().Format("20060102T150405.000Z")))
	return os.Rename(current, archived)
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	results := preflight.RunAll(ctx, cfg)
	attrs := []logging.Attr{logging.String(logging.FieldEventType, "preflight_snapshot")}
	for _, result := range results {
		attrs = append(attrs, logging.Bool(result.Name, result.Passed))
	}
	logger.Info("preflight snapshot", logging.Args(attrs...)...)
	for _, failed := range preflight.Failed(results) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", failed.Name),
			logging.String("detail", failed.Detail),
			logging.String(logging.FieldErrorHint, "run trackrelay status for details"),
			logging.String(logging.FieldImpact, "tasks may fail until the check passes"),
		)
	}
}
