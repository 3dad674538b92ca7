package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"trackrelay/internal/config"
	"trackrelay/internal/events"
	"trackrelay/internal/logging"
	"trackrelay/internal/wrapper"
)

const defaultReadyPoll = 500 * time.Millisecond

var errNotReady = errors.New("wrapper reports not ready")

// Backend is the subset of the wrapper client the supervisor drives.
type Backend interface {
	Status(ctx context.Context) (*wrapper.Status, error)
	Login(ctx context.Context, account, password, code string) (wrapper.LoginResult, error)
	Logout(ctx context.Context, account string) error
}

// Supervisor tracks and manages one wrapper backend instance.
type Supervisor struct {
	backend Backend
	hub     *events.Hub
	logger  *slog.Logger
	now     func() time.Time

	mode             string
	requireAuth      bool
	autoStart        bool
	autoRestart      bool
	maxRestarts      int
	failureThreshold int
	probeInterval    time.Duration
	probeTimeout     time.Duration
	startTimeout     time.Duration
	readyPoll        time.Duration
	command          []string
	buildCommand     []string
	logPath          string

	mu          sync.Mutex
	inst        Instance
	changed     chan struct{}
	proc        *process
	startCancel context.CancelFunc
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithEvents publishes wrapper_state events to hub.
func WithEvents(hub *events.Hub) Option {
	return func(s *Supervisor) { s.hub = hub }
}

// WithReadyPoll sets how often EnsureReady and the start watcher re-probe.
func WithReadyPoll(interval time.Duration) Option {
	return func(s *Supervisor) {
		if interval > 0 {
			s.readyPoll = interval
		}
	}
}

// New builds a Supervisor for the configured wrapper mode. Native instances
// begin stopped; remote instances begin unknown until the first probe.
func New(cfg *config.Config, backend Backend, logger *slog.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		backend:          backend,
		logger:           logging.NewComponentLogger(logger, "supervisor"),
		now:              time.Now,
		mode:             cfg.Wrapper.Mode,
		requireAuth:      cfg.Wrapper.RequireAuth,
		autoStart:        cfg.Wrapper.AutoStart,
		autoRestart:      cfg.Wrapper.AutoRestart,
		maxRestarts:      cfg.Wrapper.MaxRestarts,
		failureThreshold: max(cfg.Wrapper.FailureThreshold, 1),
		probeInterval:    cfg.ProbeInterval(),
		probeTimeout:     cfg.ProbeTimeout(),
		startTimeout:     cfg.StartTimeout(),
		readyPoll:        defaultReadyPoll,
		command:          processCommand(cfg),
		buildCommand:     buildCommand(cfg),
		logPath:          filepath.Join(cfg.LogDir(), "wrapper.log"),
		changed:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	endpoint := ""
	if client, ok := backend.(interface{ Endpoint() wrapper.Endpoint }); ok {
		endpoint = client.Endpoint().String()
	}
	initial := StateUnknown
	if s.native() {
		initial = StateStopped
	}
	s.inst = Instance{Mode: s.mode, Endpoint: endpoint, State: initial}
	return s
}

func (s *Supervisor) native() bool { return s.mode == config.WrapperModeNative }

// State returns the current health state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inst.State
}

// Snapshot returns a copy of the instance view.
func (s *Supervisor) Snapshot() Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inst.clone()
}

// Start launches the native process, or begins probing a remote endpoint.
// Starting an instance that is already starting or up is a no-op.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.inst.Provisioning {
		s.mu.Unlock()
		return fmt.Errorf("%w: image build in progress", ErrInvalidState)
	}
	if s.activeLocked() {
		s.mu.Unlock()
		return nil
	}
	stale := s.detachProcessLocked()
	s.mu.Unlock()
	stale.terminate(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inst.Provisioning {
		return fmt.Errorf("%w: image build in progress", ErrInvalidState)
	}
	if s.activeLocked() {
		return nil
	}
	if s.native() {
		if err := s.spawnLocked(); err != nil {
			s.inst.LastError = err.Error()
			return err
		}
	}
	s.inst.ConsecutiveFailures = 0
	s.setStateLocked(StateStarting, "start requested")

	if s.startCancel != nil {
		s.startCancel()
	}
	watchCtx, cancel := context.WithTimeout(context.Background(), s.startTimeout)
	s.startCancel = cancel
	go s.watchStart(watchCtx, cancel)
	return nil
}

// Stop terminates the native process and marks the instance stopped. Remote
// instances stop being probed.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.startCancel != nil {
		s.startCancel()
		s.startCancel = nil
	}
	proc := s.detachProcessLocked()
	s.setStateLocked(StateStopped, "stop requested")
	s.mu.Unlock()
	proc.terminate(ctx)
	return nil
}

// EnsureReady returns true when the backend is healthy, starting a stopped
// instance when auto start is enabled. It probes immediately and then waits
// for a healthy state until timeout.
func (s *Supervisor) EnsureReady(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = s.startTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.mu.Lock()
	stopped := s.inst.State == StateStopped && !s.inst.Provisioning
	s.mu.Unlock()
	if stopped && s.autoStart {
		if err := s.Start(ctx); err != nil {
			logging.WarnWithContext(s.logger, "wrapper auto start failed", "wrapper_autostart_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check wrapper.command and the wrapper log"),
				logging.String(logging.FieldImpact, "tasks cannot be dispatched until the wrapper is healthy"),
			)
		}
	}

	timer := time.NewTimer(s.readyPoll)
	defer timer.Stop()
	for {
		if s.probeable() {
			_ = s.Probe(ctx)
		}
		s.mu.Lock()
		healthy := s.inst.State == StateHealthy
		changed := s.changed
		state := s.inst.State
		s.mu.Unlock()
		if healthy {
			return true
		}

		timer.Reset(s.readyPoll)
		select {
		case <-ctx.Done():
			s.logger.Info("wrapper not ready before timeout",
				logging.String(logging.FieldEventType, "wrapper_not_ready"),
				logging.String("state", string(state)),
				logging.Duration("timeout", timeout),
			)
			return false
		case <-changed:
		case <-timer.C:
		}
	}
}

// Probe queries backend status once and applies the result to the state
// machine. Stopped or provisioning instances are probed but keep their state.
func (s *Supervisor) Probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()
	status, err := s.backend.Status(probeCtx)
	if err == nil && (status == nil || !status.Ready) {
		err = errNotReady
	}
	if err != nil && ctx.Err() != nil {
		// The caller gave up; the backend was not at fault.
		return err
	}
	s.applyProbe(status, err)
	return err
}

// Run probes the backend every probe interval until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.probeInterval)
	defer ticker.Stop()
	for {
		if s.probeable() {
			if err := s.Probe(ctx); err != nil && ctx.Err() == nil {
				s.logger.Debug("wrapper probe failed", logging.Error(err))
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) probeable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inst.State != StateStopped && !s.inst.Provisioning
}

func (s *Supervisor) activeLocked() bool {
	switch s.inst.State {
	case StateStarting, StateHealthy, StateDegraded:
		return true
	default:
		return false
	}
}

func (s *Supervisor) applyProbe(status *wrapper.Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inst.LastProbe = s.now().UTC()
	if s.inst.State == StateStopped || s.inst.Provisioning {
		return
	}
	if err == nil {
		s.inst.ConsecutiveFailures = 0
		s.inst.LastError = ""
		s.inst.Regions = append([]string(nil), status.Regions...)
		s.inst.ClientCount = status.ClientCount
		s.inst.Accounts = append([]wrapper.Account(nil), status.Accounts...)
		s.setStateLocked(StateHealthy, "probe succeeded")
		return
	}

	s.inst.ConsecutiveFailures++
	s.inst.LastError = err.Error()
	switch s.inst.State {
	case StateStarting:
		return
	case StateHealthy:
		s.setStateLocked(StateDegraded, err.Error())
	}
	if s.inst.ConsecutiveFailures >= s.failureThreshold {
		reason := fmt.Sprintf("%d consecutive probe failures: %v", s.inst.ConsecutiveFailures, err)
		s.setStateLocked(StateStopped, reason)
		s.scheduleRestartLocked(reason)
	}
}

func (s *Supervisor) watchStart(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	ticker := time.NewTicker(s.readyPoll)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		starting := s.inst.State == StateStarting
		s.mu.Unlock()
		if !starting {
			return
		}
		_ = s.Probe(ctx)
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				s.startTimedOut()
			}
			return
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) startTimedOut() {
	s.mu.Lock()
	if s.inst.State != StateStarting {
		s.mu.Unlock()
		return
	}
	s.inst.LastError = fmt.Sprintf("wrapper not healthy within %s", s.startTimeout)
	s.startCancel = nil
	proc := s.detachProcessLocked()
	s.setStateLocked(StateStopped, s.inst.LastError)
	s.mu.Unlock()
	proc.terminate(context.Background())
}

func (s *Supervisor) scheduleRestartLocked(reason string) {
	if !s.native() || !s.autoRestart {
		return
	}
	if s.inst.Restarts >= s.maxRestarts {
		logging.ErrorWithContext(s.logger, "wrapper restart budget exhausted", "wrapper_restart_exhausted",
			logging.Int("restarts", s.inst.Restarts),
			logging.String("reason", reason),
			logging.String(logging.FieldErrorHint, "inspect the wrapper log and run `trackrelay wrapper start`"),
			logging.Alert("wrapper_down"),
		)
		return
	}
	s.inst.Restarts++
	attempt := s.inst.Restarts
	go s.restart(attempt, reason)
}

func (s *Supervisor) restart(attempt int, reason string) {
	s.logger.Info("restarting wrapper",
		logging.String(logging.FieldEventType, "wrapper_restart"),
		logging.Int("attempt", attempt),
		logging.Int("max_restarts", s.maxRestarts),
		logging.String("reason", reason),
	)
	if err := s.Start(context.Background()); err != nil {
		logging.WarnWithContext(s.logger, "wrapper restart failed", "wrapper_restart_failed",
			logging.Error(err),
			logging.Int("attempt", attempt),
			logging.String(logging.FieldErrorHint, "check wrapper.command and the wrapper log"),
			logging.String(logging.FieldImpact, "tasks cannot be dispatched until the wrapper is healthy"),
		)
	}
}

func (s *Supervisor) setStateLocked(next State, reason string) {
	prev := s.inst.State
	if prev == next {
		return
	}
	s.inst.State = next
	close(s.changed)
	s.changed = make(chan struct{})

	attrs := []logging.Attr{
		logging.String("previous", string(prev)),
		logging.String("state", string(next)),
		logging.String("reason", reason),
		logging.Int("consecutive_failures", s.inst.ConsecutiveFailures),
	}
	switch next {
	case StateDegraded, StateStopped:
		if prev == StateHealthy || prev == StateDegraded || prev == StateStarting {
			logging.WarnWithContext(s.logger, "wrapper state changed", "wrapper_"+string(next),
				append(attrs,
					logging.String(logging.FieldErrorHint, "check the wrapper backend and its log"),
					logging.String(logging.FieldImpact, "task dispatch waits for a healthy wrapper"),
				)...,
			)
			break
		}
		s.logger.Info("wrapper state changed", logging.Args(attrs...)...)
	default:
		s.logger.Info("wrapper state changed", logging.Args(attrs...)...)
	}
	s.publishLocked(prev, reason)
}

func (s *Supervisor) publishLocked(prev State, reason string) {
	s.hub.Publish(events.Event{
		Type:    events.WrapperState,
		Status:  string(s.inst.State),
		Message: reason,
		Fields: map[string]string{
			"mode":                 s.mode,
			"previous":             string(prev),
			"provisioning":         strconv.FormatBool(s.inst.Provisioning),
			"consecutive_failures": strconv.Itoa(s.inst.ConsecutiveFailures),
			"restarts":             strconv.Itoa(s.inst.Restarts),
		},
	})
}
