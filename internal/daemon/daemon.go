package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"trackrelay/internal/api"
	"trackrelay/internal/artifacts"
	"trackrelay/internal/config"
	"trackrelay/internal/deps"
	"trackrelay/internal/events"
	"trackrelay/internal/logging"
	"trackrelay/internal/notifications"
	"trackrelay/internal/preflight"
	"trackrelay/internal/queue"
	"trackrelay/internal/scheduler"
	"trackrelay/internal/supervisor"
)

const stopTimeout = 15 * time.Second

// Components are the collaborators a daemon drives. Store, Hub, Scheduler,
// Supervisor and Files are required.
type Components struct {
	Store      *queue.Store
	Hub        *events.Hub
	Scheduler  *scheduler.Scheduler
	Supervisor *supervisor.Supervisor
	Files      *artifacts.Manager
	Notifier   notifications.Service
}

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	hub      *events.Hub
	sched    *scheduler.Scheduler
	sup      *supervisor.Supervisor
	files    *artifacts.Manager
	notifier notifications.Service
	sink     *notifications.Sink
	api      *apiServer
	logPath  string

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	QueueDBPath  string
	LockFilePath string
	LogPath      string
	Queue        scheduler.Stats
	Wrapper      supervisor.Instance
	SessionValid bool
	Dependencies []deps.Status
}

// New constructs a daemon around already-built components. Hub sinks for
// structured logs and push notifications are registered here.
func New(cfg *config.Config, c Components, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || c.Store == nil || c.Hub == nil || c.Scheduler == nil || c.Supervisor == nil || c.Files == nil {
		return nil, errors.New("daemon requires config, store, hub, scheduler, supervisor, and file manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := c.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    c.Store,
		hub:      c.Hub,
		sched:    c.Scheduler,
		sup:      c.Supervisor,
		files:    c.Files,
		notifier: notifier,
		sink:     notifications.NewSink(notifier, logger),
		logPath:  filepath.Join(cfg.LogDir(), logging.LogFileName),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	c.Files.SetActiveTasks(c.Scheduler.ActiveTaskIDs)
	c.Hub.AddSink(events.NewLogSink(logger))
	c.Hub.AddSink(d.sink)

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock and launches the scheduler, the wrapper
// probe loop, the artifact sweeper, notification delivery and the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another trackrelay daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if result := d.files.CleanStaging(runCtx); len(result.Removed) > 0 {
		d.logger.Info("stale staging directories removed",
			logging.Int("removed", len(result.Removed)),
			logging.String(logging.FieldEventType, "staging_cleaned"),
		)
	}
	if err := d.sched.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start scheduler: %w", err)
	}
	if d.cfg.Wrapper.Mode == config.WrapperModeRemote || d.cfg.Wrapper.AutoStart {
		if err := d.sup.Start(runCtx); err != nil {
			logging.WarnWithContext(d.logger, "wrapper start failed", "wrapper_start_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check wrapper.command or run trackrelay wrapper build"),
				logging.String(logging.FieldImpact, "tasks wait for the wrapper until it becomes healthy"),
			)
		}
	}
	if err := d.api.start(runCtx); err != nil {
		d.sched.Stop()
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.goRun(func() { d.sup.Run(runCtx) })
	d.goRun(func() { d.files.Run(runCtx, d.cfg.SweepInterval()) })
	d.goRun(func() { d.sink.Run(runCtx) })

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("trackrelay daemon started",
		logging.String("lock", d.lockPath),
		logging.String("wrapper_mode", d.cfg.Wrapper.Mode),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

func (d *Daemon) goRun(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

// Stop halts processing and releases the daemon lock. A running task is
// cancelled with daemon-stopped; queued tasks stay persisted.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.sched.Stop()
	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := d.sup.Stop(stopCtx); err != nil {
		d.logger.Warn("wrapper stop failed", logging.Error(err))
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("trackrelay daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether processing is active.
func (d *Daemon) Running() bool { return d.running.Load() }

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	stats, err := d.sched.Stats(ctx)
	if err != nil {
		d.logger.Debug("queue stats unavailable", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		LogPath:      d.logPath,
		Queue:        stats,
		Wrapper:      d.sup.Snapshot(),
		SessionValid: d.sup.SessionValid(),
		Dependencies: preflight.CheckSystemDeps(d.cfg),
	}
}

// APIStatus renders Status as the transport DTO shared by IPC and HTTP.
func (d *Daemon) APIStatus(ctx context.Context) api.DaemonStatus {
	status := d.Status(ctx)
	wrapperStatus := api.FromInstance(status.Wrapper, status.SessionValid)
	queueStats := api.FromStats(status.Queue)
	dependencies := api.FromDependencies(status.Dependencies)
	summary := api.SummarizeDependencies(dependencies)
	return api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		QueueDBPath:  status.QueueDBPath,
		LockFilePath: status.LockFilePath,
		LogPath:      status.LogPath,
		Queue:        queueStats,
		Wrapper:      wrapperStatus,
		Dependencies: dependencies,
		Checks: []api.StatusLine{
			api.QueueLine(queueStats),
			api.WrapperLine(wrapperStatus),
			{Label: "Dependencies", Severity: summary.Severity, Detail: summary.Detail},
		},
	}
}

// APIAddr returns the bound HTTP API address, or empty when disabled or
// not running.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}
