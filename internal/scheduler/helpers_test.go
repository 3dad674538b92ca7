package scheduler_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trackrelay/internal/config"
	"trackrelay/internal/events"
	"trackrelay/internal/logging"
	"trackrelay/internal/pipeline"
	"trackrelay/internal/queue"
	"trackrelay/internal/scheduler"
	"trackrelay/internal/testsupport"
)

type step func(ctx context.Context, job pipeline.Job, obs pipeline.Observer) (pipeline.Result, error)

// fakeEngine runs scripted steps, one per call, and succeeds once the script
// is exhausted.
type fakeEngine struct {
	mu     sync.Mutex
	jobs   []pipeline.Job
	script []step
	always step

	running    atomic.Int32
	maxRunning atomic.Int32
	started    chan string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{started: make(chan string, 64)}
}

func (e *fakeEngine) push(steps ...step) {
	e.mu.Lock()
	e.script = append(e.script, steps...)
	e.mu.Unlock()
}

func (e *fakeEngine) Run(ctx context.Context, job pipeline.Job, obs pipeline.Observer) (pipeline.Result, error) {
	n := e.running.Add(1)
	defer e.running.Add(-1)
	for {
		peak := e.maxRunning.Load()
		if n <= peak || e.maxRunning.CompareAndSwap(peak, n) {
			break
		}
	}

	e.mu.Lock()
	idx := len(e.jobs)
	e.jobs = append(e.jobs, job)
	var next step
	if idx < len(e.script) {
		next = e.script[idx]
	} else if e.always != nil {
		next = e.always
	}
	e.mu.Unlock()

	e.started <- job.TaskID
	obs.Observe(pipeline.Update{Stage: pipeline.StageResolve, TrackID: "42", Title: "Song", Artist: "Artist"})
	if next != nil {
		return next(ctx, job, obs)
	}
	return succeed(ctx, job, obs)
}

func (e *fakeEngine) calls() []pipeline.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]pipeline.Job(nil), e.jobs...)
}

func succeed(_ context.Context, job pipeline.Job, obs pipeline.Observer) (pipeline.Result, error) {
	obs.Observe(pipeline.Update{Stage: pipeline.StagePersist, Codec: "alac"})
	return pipeline.Result{
		TrackID:      "42",
		Codec:        "alac",
		DeliveryMode: queue.DeliveryInline,
		Artifact:     &queue.Artifact{ID: "artifact-" + job.TaskID, TaskID: job.TaskID, Path: "/out/" + job.TaskID + ".m4a", Size: 10},
	}, nil
}

func failWith(stage, reason string, retryable bool) step {
	return func(context.Context, pipeline.Job, pipeline.Observer) (pipeline.Result, error) {
		return pipeline.Result{}, &pipeline.StageError{Stage: stage, Reason: reason, Retryable: retryable, Err: fmt.Errorf("injected %s", reason)}
	}
}

func waitCancelled(ctx context.Context, _ pipeline.Job, obs pipeline.Observer) (pipeline.Result, error) {
	obs.Observe(pipeline.Update{Stage: pipeline.StageDownload})
	<-ctx.Done()
	return pipeline.Result{}, pipeline.Classify(pipeline.StageDownload, ctx.Err())
}

func waitFor(release <-chan struct{}) step {
	return func(ctx context.Context, job pipeline.Job, obs pipeline.Observer) (pipeline.Result, error) {
		select {
		case <-release:
			return succeed(ctx, job, obs)
		case <-ctx.Done():
			return pipeline.Result{}, pipeline.Classify(pipeline.StageDownload, ctx.Err())
		}
	}
}

type fakeBackend struct {
	ready      atomic.Bool
	session    atomic.Bool
	readyCalls atomic.Int32
}

func newFakeBackend() *fakeBackend {
	b := &fakeBackend{}
	b.ready.Store(true)
	b.session.Store(true)
	return b
}

func (b *fakeBackend) EnsureReady(ctx context.Context, _ time.Duration) bool {
	b.readyCalls.Add(1)
	return ctx.Err() == nil && b.ready.Load()
}

func (b *fakeBackend) SessionValid() bool { return b.session.Load() }

type fixture struct {
	cfg     *config.Config
	store   *queue.Store
	hub     *events.Hub
	engine  *fakeEngine
	backend *fakeBackend
	sched   *scheduler.Scheduler
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	store := testsupport.MustOpenStore(t, cfg)
	f := &fixture{
		cfg:     cfg,
		store:   store,
		hub:     events.NewHub(1024),
		engine:  newFakeEngine(),
		backend: newFakeBackend(),
	}
	f.sched = f.newScheduler()
	t.Cleanup(f.sched.Stop)
	return f
}

func (f *fixture) newScheduler() *scheduler.Scheduler {
	return scheduler.New(f.cfg, f.store, f.engine, f.backend, logging.NewNop(),
		scheduler.WithEvents(f.hub),
		scheduler.WithBackoff(func(int) time.Duration { return 10 * time.Millisecond }),
	)
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func trackURL(n int) string {
	return fmt.Sprintf("https://music.apple.com/us/album/test/1440818830?i=%d", 1440818900+n)
}

func (f *fixture) submit(t *testing.T, requester string, n int) *queue.Task {
	t.Helper()
	task, err := f.sched.Submit(context.Background(), scheduler.SubmitRequest{RequesterID: requester, URL: trackURL(n)})
	if err != nil {
		t.Fatalf("Submit(%s, %d): %v", requester, n, err)
	}
	return task
}

func (f *fixture) waitStarted(t *testing.T, taskID string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case id := <-f.engine.started:
			if id == taskID {
				return
			}
		case <-timeout:
			t.Fatalf("task %s never reached the engine", taskID)
		}
	}
}

// waitTerminal blocks until the task publishes a terminal event and returns
// the task as reported by Status right after.
func (f *fixture) waitTerminal(t *testing.T, taskID string) *queue.Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var cursor uint64
	for {
		evts, next, err := f.hub.Fetch(ctx, cursor, 0, true, events.Filter{TaskID: taskID})
		if err != nil {
			t.Fatalf("task %s did not finish: %v", taskID, err)
		}
		cursor = next
		for _, evt := range evts {
			if evt.Type.Terminal() {
				task, ok := f.sched.Status(context.Background(), taskID)
				if !ok {
					t.Fatalf("task %s missing after terminal event", taskID)
				}
				return task
			}
		}
	}
}

func (f *fixture) eventsOf(taskID string, typ events.Type) []events.Event {
	all, _ := f.hub.Tail(0)
	var out []events.Event
	for _, evt := range all {
		if evt.TaskID == taskID && evt.Type == typ {
			out = append(out, evt)
		}
	}
	return out
}
