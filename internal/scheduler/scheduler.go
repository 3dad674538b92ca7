package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"trackrelay/internal/config"
	"trackrelay/internal/events"
	"trackrelay/internal/logging"
	"trackrelay/internal/pipeline"
	"trackrelay/internal/queue"
)

// AdminRequester may cancel and inspect tasks of every requester.
const AdminRequester = "*"

// Reason codes set by the scheduler itself. Stage failures carry the
// pipeline's reason codes.
const (
	ReasonCancelledByUser    = "cancelled-by-user"
	ReasonDaemonStopped      = "daemon-stopped"
	ReasonTaskTimeout        = "task-timeout"
	ReasonBackendUnavailable = "backend-unavailable"
	ReasonSessionInvalid     = pipeline.ReasonSessionInvalid
	ReasonInternal           = pipeline.ReasonInternal
)

var (
	errCancelledByUser = errors.New("cancelled by user")
	errDaemonStopped   = errors.New("daemon stopped")
	errTaskTimeout     = errors.New("task timeout exceeded")
)

// Engine runs one task's pipeline.
type Engine interface {
	Run(ctx context.Context, job pipeline.Job, observer pipeline.Observer) (pipeline.Result, error)
}

// Backend gates dispatch on wrapper health and authentication.
type Backend interface {
	EnsureReady(ctx context.Context, timeout time.Duration) bool
	SessionValid() bool
}

// Scheduler admits and dispatches tasks. It is safe for concurrent use.
type Scheduler struct {
	cfg     *config.Config
	store   *queue.Store
	engine  Engine
	backend Backend
	hub     *events.Hub
	logger  *slog.Logger
	now     func() time.Time
	backoff func(attempt int) time.Duration

	mu       sync.Mutex
	tasks    map[string]*queue.Task
	pending  []string
	current  *slot
	running  bool
	stopping bool
	cancel   context.CancelFunc
	wake     chan struct{}
	// done closes when the current run's worker exits.
	done     chan struct{}
}

// slot is the single dispatch slot. The task it names has left the pending
// list; it may still be queued while dispatch waits for the backend.
type slot struct {
	taskID string
	cancel context.CancelCauseFunc
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithEvents publishes task transitions to hub.
func WithEvents(hub *events.Hub) Option {
	return func(s *Scheduler) { s.hub = hub }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBackoff overrides the wait before retry attempt n (1-based).
func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.backoff = fn
		}
	}
}

// New constructs a scheduler. Tasks may be submitted before Start; they are
// dispatched once the worker runs.
func New(cfg *config.Config, store *queue.Store, engine Engine, backend Backend, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Scheduler{
		cfg:     cfg,
		store:   store,
		engine:  engine,
		backend: backend,
		logger:  logging.NewComponentLogger(logger, "scheduler"),
		now:     time.Now,
		backoff: cfg.RetryBackoff,
		tasks:   make(map[string]*queue.Task),
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start recovers persisted state and launches the worker. Tasks a previous
// process left running are failed with daemon-stopped; queued tasks are
// reloaded in arrival order.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}
	if s.engine == nil {
		return errors.New("scheduler requires a pipeline engine")
	}
	if err := s.recoverLocked(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.running = true
	s.stopping = false
	go func() {
		defer close(done)
		s.loop(runCtx)
	}()

	s.publishLocked(events.Event{Type: events.ProcessorStarted, Message: "scheduler started"})
	s.logger.Info("scheduler started",
		logging.Int("pending", len(s.pending)),
		logging.Int("max_queue_size", s.cfg.Queue.MaxQueueSize),
		logging.Int("max_tasks_per_user", s.cfg.Queue.MaxTasksPerUser),
		logging.String(logging.FieldEventType, "scheduler_started"),
	)
	return nil
}

func (s *Scheduler) recoverLocked(ctx context.Context) error {
	interrupted, err := s.store.FailInterrupted(ctx, ReasonDaemonStopped, "daemon stopped while the task was running", s.now().UTC())
	if err != nil {
		return err
	}
	if interrupted > 0 {
		logging.WarnWithContext(s.logger, "failed tasks interrupted by previous shutdown", "tasks_interrupted",
			logging.Int64("count", interrupted),
			logging.String(logging.FieldErrorHint, "resubmit the affected tracks"),
			logging.String(logging.FieldImpact, "interrupted tasks were not completed"),
		)
	}

	queued, err := s.store.ListTasks(ctx, queue.TaskFilter{Statuses: []queue.Status{queue.StatusQueued}})
	if err != nil {
		return err
	}
	pending := make([]string, 0, len(queued))
	for _, task := range queued {
		if _, ok := s.tasks[task.ID]; !ok {
			s.tasks[task.ID] = task
		}
		if s.current != nil && s.current.taskID == task.ID {
			continue
		}
		pending = append(pending, task.ID)
	}
	s.pending = pending
	if len(pending) > 0 {
		s.signal()
	}
	return nil
}

// Stop halts the worker. A running task is cancelled with daemon-stopped and
// Stop waits for it to reach a terminal state. Queued tasks stay persisted
// for the next Start. Concurrent callers all wait for the same shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	done := s.done
	if !s.stopping {
		s.stopping = true
		if s.current != nil {
			s.current.cancel(errDaemonStopped)
		}
		s.cancel()
	}
	s.mu.Unlock()

	<-done

	s.mu.Lock()
	if !s.running || s.done != done {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel = nil
	s.publishLocked(events.Event{Type: events.ProcessorStopped, Message: "scheduler stopped"})
	s.mu.Unlock()
	s.logger.Info("scheduler stopped", logging.String(logging.FieldEventType, "scheduler_stopped"))
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	poll := s.cfg.PollInterval()
	if poll <= 0 {
		poll = time.Second
	}
	for {
		if ctx.Err() != nil {
			return
		}
		task, taskCtx, release := s.claim(ctx)
		if task == nil {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			case <-time.After(poll):
			}
			continue
		}
		s.dispatch(taskCtx, task)
		release()
	}
}

// claim moves the head of the pending list into the dispatch slot.
func (s *Scheduler) claim(ctx context.Context) (*queue.Task, context.Context, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping || s.current != nil || len(s.pending) == 0 {
		return nil, nil, nil
	}
	id := s.pending[0]
	s.pending = slices.Delete(s.pending, 0, 1)
	task := s.tasks[id]
	if task == nil {
		return nil, nil, nil
	}
	taskCtx, cancel := context.WithCancelCause(ctx)
	s.current = &slot{taskID: id, cancel: cancel}
	s.publishPositionsLocked()

	release := func() {
		cancel(nil)
		s.mu.Lock()
		if s.current != nil && s.current.taskID == id {
			s.current = nil
		}
		s.mu.Unlock()
		s.signal()
	}
	return task.Clone(), taskCtx, release
}

// ActiveTaskIDs lists queued and running task IDs. The artifact manager
// uses it to keep staging directories of live tasks.
func (s *Scheduler) ActiveTaskIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
