package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"trackrelay/internal/config"
	"trackrelay/internal/events"
	"trackrelay/internal/pipeline"
	"trackrelay/internal/queue"
	"trackrelay/internal/scheduler"
	"trackrelay/internal/services"
	"trackrelay/internal/testsupport"
)

func requireRejection(t *testing.T, err error, want scheduler.RejectionCode) {
	t.Helper()
	if !errors.Is(err, scheduler.ErrRejected) {
		t.Fatalf("expected rejection %s, got %v", want, err)
	}
	if code, _ := scheduler.RejectionCodeOf(err); code != want {
		t.Fatalf("expected rejection %s, got %s", want, code)
	}
}

func TestSubmitRejectsLinksBeforeQueueChecks(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Queue.MaxQueueSize = 1
		cfg.Queue.MaxTasksPerUser = 1
	})
	f.submit(t, "alice", 1)

	tests := []struct {
		name string
		url  string
		want scheduler.RejectionCode
	}{
		{"album", "https://music.apple.com/us/album/test-album/1440818830", scheduler.RejectNotSingleTrack},
		{"playlist", "https://music.apple.com/us/playlist/mix/pl.u-abc", scheduler.RejectNotSingleTrack},
		{"artist", "https://music.apple.com/us/artist/someone/12345", scheduler.RejectNotSingleTrack},
		{"foreign host", "https://example.com/song/1", scheduler.RejectInvalidURL},
		{"garbage", "not a link", scheduler.RejectInvalidURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.sched.Submit(context.Background(), scheduler.SubmitRequest{RequesterID: "alice", URL: tt.url})
			requireRejection(t, err, tt.want)
		})
	}
}

func TestSubmitAdmissionLimits(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Queue.MaxQueueSize = 3
		cfg.Queue.MaxTasksPerUser = 2
	})

	f.submit(t, "alice", 1)
	f.submit(t, "alice", 2)
	_, err := f.sched.Submit(context.Background(), scheduler.SubmitRequest{RequesterID: "alice", URL: trackURL(3)})
	requireRejection(t, err, scheduler.RejectUserLimit)

	_, err = f.sched.Submit(context.Background(), scheduler.SubmitRequest{RequesterID: "bob", URL: trackURL(1)})
	if err != nil {
		t.Fatalf("other requester should be admitted: %v", err)
	}
	_, err = f.sched.Submit(context.Background(), scheduler.SubmitRequest{RequesterID: "carol", URL: trackURL(4)})
	requireRejection(t, err, scheduler.RejectQueueFull)

	if got := len(f.sched.ListForUser("alice")); got != 2 {
		t.Fatalf("expected 2 active tasks for alice, got %d", got)
	}
}

func TestSubmitRejectsDuplicateTrack(t *testing.T) {
	f := newFixture(t, nil)
	first := f.submit(t, "alice", 1)
	_, err := f.sched.Submit(context.Background(), scheduler.SubmitRequest{RequesterID: "alice", URL: trackURL(1)})
	requireRejection(t, err, scheduler.RejectDuplicate)
	var rejection *scheduler.Rejection
	if !errors.As(err, &rejection) || rejection.ExistingTaskID != first.ID {
		t.Fatalf("expected collision with %s, got %+v", first.ID, rejection)
	}
	if _, err := f.sched.Submit(context.Background(), scheduler.SubmitRequest{RequesterID: "bob", URL: trackURL(1)}); err != nil {
		t.Fatalf("the same track for another requester is allowed: %v", err)
	}
}

func TestSubmitValidatesRequest(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.sched.Submit(context.Background(), scheduler.SubmitRequest{URL: trackURL(1)})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing requester, got %v", err)
	}
	_, err = f.sched.Submit(context.Background(), scheduler.SubmitRequest{RequesterID: "alice", URL: trackURL(1), Quality: "mp3"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown quality, got %v", err)
	}
	task, err := f.sched.Submit(context.Background(), scheduler.SubmitRequest{RequesterID: "alice", URL: trackURL(1), Quality: "AAC", Storefront: "JP"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if task.Quality != "aac" || task.Storefront != "jp" || task.TrackID != "1440818901" {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestSubmitAfterStopIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	f.sched.Stop()
	_, err := f.sched.Submit(context.Background(), scheduler.SubmitRequest{RequesterID: "alice", URL: trackURL(1)})
	requireRejection(t, err, scheduler.RejectShuttingDown)
}

func TestFIFOSingleFlight(t *testing.T) {
	f := newFixture(t, nil)
	release := make(chan struct{})
	f.engine.push(waitFor(release))

	a := f.submit(t, "alice", 1)
	b := f.submit(t, "bob", 2)
	f.start(t)
	f.waitStarted(t, a.ID)

	if got := f.sched.Position(a.ID); got != 0 {
		t.Fatalf("running task should have position 0, got %d", got)
	}
	if got := f.sched.Position(b.ID); got != 1 {
		t.Fatalf("expected B at position 1 while A runs, got %d", got)
	}
	if task, _ := f.sched.Status(context.Background(), b.ID); task.Status != queue.StatusQueued {
		t.Fatalf("B must stay queued while A runs, got %s", task.Status)
	}

	close(release)
	if task := f.waitTerminal(t, a.ID); task.Status != queue.StatusSucceeded {
		t.Fatalf("A: unexpected status %s", task.Status)
	}
	if task := f.waitTerminal(t, b.ID); task.Status != queue.StatusSucceeded {
		t.Fatalf("B: unexpected status %s", task.Status)
	}

	calls := f.engine.calls()
	if len(calls) != 2 || calls[0].TaskID != a.ID || calls[1].TaskID != b.ID {
		t.Fatalf("expected FIFO dispatch, got %+v", calls)
	}
	if peak := f.engine.maxRunning.Load(); peak != 1 {
		t.Fatalf("at most one pipeline may run, saw %d", peak)
	}
}

func TestSucceededTaskRecordsResult(t *testing.T) {
	f := newFixture(t, nil)
	task := f.submit(t, "alice", 1)
	f.start(t)

	done := f.waitTerminal(t, task.ID)
	if done.Status != queue.StatusSucceeded || done.ArtifactID != "artifact-"+task.ID {
		t.Fatalf("unexpected task %+v", done)
	}
	if done.DeliveryMode != queue.DeliveryInline || done.ActualCodec != "alac" || done.Title != "Song" {
		t.Fatalf("result not recorded: %+v", done)
	}
	if done.StartedAt == nil || done.FinishedAt == nil || done.Attempts != 1 {
		t.Fatalf("timestamps or attempts missing: %+v", done)
	}

	stages := f.eventsOf(task.ID, events.TaskStage)
	if len(stages) != 2 || stages[0].Stage != pipeline.StageResolve || stages[1].Stage != pipeline.StagePersist {
		t.Fatalf("unexpected stage events %+v", stages)
	}
	terminal := f.eventsOf(task.ID, events.TaskSucceeded)
	if len(terminal) != 1 || terminal[0].Fields["path"] != "/out/"+task.ID+".m4a" {
		t.Fatalf("unexpected terminal events %+v", terminal)
	}
}

func TestCancelQueuedTaskRunsNoStage(t *testing.T) {
	f := newFixture(t, nil)
	task := f.submit(t, "alice", 1)

	if f.sched.Cancel(context.Background(), task.ID, "mallory") {
		t.Fatal("another requester must not cancel the task")
	}
	if !f.sched.Cancel(context.Background(), task.ID, "alice") {
		t.Fatal("expected cancel to succeed")
	}
	got, ok := f.sched.Status(context.Background(), task.ID)
	if !ok || got.Status != queue.StatusCancelled || got.ReasonCode != scheduler.ReasonCancelledByUser {
		t.Fatalf("unexpected task after cancel %+v", got)
	}
	if f.sched.Cancel(context.Background(), task.ID, "alice") {
		t.Fatal("a terminal task cannot be cancelled again")
	}

	f.start(t)
	follow := f.submit(t, "alice", 2)
	f.waitTerminal(t, follow.ID)
	for _, job := range f.engine.calls() {
		if job.TaskID == task.ID {
			t.Fatal("cancelled task reached the engine")
		}
	}
}

func TestCancelRunningTask(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.push(waitCancelled)
	task := f.submit(t, "alice", 1)
	f.start(t)
	f.waitStarted(t, task.ID)

	if !f.sched.Cancel(context.Background(), task.ID, scheduler.AdminRequester) {
		t.Fatal("admin cancel should succeed")
	}
	done := f.waitTerminal(t, task.ID)
	if done.Status != queue.StatusCancelled || done.ReasonCode != scheduler.ReasonCancelledByUser {
		t.Fatalf("unexpected task %+v", done)
	}
	if done.ArtifactID != "" {
		t.Fatal("cancelled task must not reference an artifact")
	}
}

func TestCancelAll(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Queue.MaxTasksPerUser = 3 })
	f.engine.push(waitCancelled)
	first := f.submit(t, "alice", 1)
	second := f.submit(t, "alice", 2)
	other := f.submit(t, "bob", 3)
	f.start(t)
	f.waitStarted(t, first.ID)

	if got := f.sched.CancelAll(context.Background(), "alice"); got != 2 {
		t.Fatalf("expected 2 cancellations, got %d", got)
	}
	for _, id := range []string{first.ID, second.ID} {
		if task := f.waitTerminal(t, id); task.Status != queue.StatusCancelled {
			t.Fatalf("task %s: unexpected status %s", id, task.Status)
		}
	}
	if task := f.waitTerminal(t, other.ID); task.Status != queue.StatusSucceeded {
		t.Fatalf("bob's task should still run, got %s", task.Status)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Queue.MaxRetries = 2 })
	f.engine.always = failWith(pipeline.StageDecrypt, pipeline.ReasonSessionInvalid, true)
	task := f.submit(t, "alice", 1)
	f.start(t)

	done := f.waitTerminal(t, task.ID)
	if done.Status != queue.StatusFailed || done.ReasonCode != pipeline.ReasonSessionInvalid {
		t.Fatalf("unexpected task %+v", done)
	}
	if done.Attempts != 3 || len(f.engine.calls()) != 3 {
		t.Fatalf("expected exactly 3 attempts, got attempts=%d calls=%d", done.Attempts, len(f.engine.calls()))
	}
	if got := len(f.eventsOf(task.ID, events.TaskRetrying)); got != 2 {
		t.Fatalf("expected 2 retry events, got %d", got)
	}
}

func TestRetryRecovers(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.push(failWith(pipeline.StageDownload, pipeline.ReasonSegmentDownload, true))
	task := f.submit(t, "alice", 1)
	f.start(t)

	done := f.waitTerminal(t, task.ID)
	if done.Status != queue.StatusSucceeded || done.Attempts != 2 {
		t.Fatalf("expected success on second attempt, got %+v", done)
	}
}

func TestFatalFailureIsNotRetried(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Queue.MaxRetries = 5 })
	f.engine.push(failWith(pipeline.StageResolve, pipeline.ReasonTrackNotFound, false))
	task := f.submit(t, "alice", 1)
	f.start(t)

	done := f.waitTerminal(t, task.ID)
	if done.Status != queue.StatusFailed || done.ReasonCode != pipeline.ReasonTrackNotFound || done.Attempts != 1 {
		t.Fatalf("unexpected task %+v", done)
	}
}

func TestCancelDuringBackoffWins(t *testing.T) {
	f := newFixture(t, nil)
	f.sched = scheduler.New(f.cfg, f.store, f.engine, f.backend, nil,
		scheduler.WithEvents(f.hub),
		scheduler.WithBackoff(func(int) time.Duration { return time.Hour }),
	)
	t.Cleanup(f.sched.Stop)
	f.engine.push(failWith(pipeline.StageDownload, pipeline.ReasonSegmentDownload, true))
	task := f.submit(t, "alice", 1)
	f.start(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := f.hub.Fetch(ctx, 0, 0, true, events.Filter{TaskID: task.ID, Types: []events.Type{events.TaskRetrying}}); err != nil {
		t.Fatalf("retry never scheduled: %v", err)
	}
	f.sched.Cancel(context.Background(), task.ID, "alice")
	done := f.waitTerminal(t, task.ID)
	if done.Status != queue.StatusCancelled {
		t.Fatalf("cancel during backoff should win, got %s", done.Status)
	}
}

func TestDispatchRequiresHealthyBackend(t *testing.T) {
	tests := []struct {
		name    string
		ready   bool
		session bool
		reason  string
	}{
		{"not ready", false, true, scheduler.ReasonBackendUnavailable},
		{"no session", true, false, scheduler.ReasonSessionInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.backend.ready.Store(tt.ready)
			f.backend.session.Store(tt.session)
			task := f.submit(t, "alice", 1)
			f.start(t)

			done := f.waitTerminal(t, task.ID)
			if done.Status != queue.StatusFailed || done.ReasonCode != tt.reason {
				t.Fatalf("unexpected task %+v", done)
			}
			if len(f.engine.calls()) != 0 {
				t.Fatal("engine must not run without a usable backend")
			}
		})
	}
}

func TestTaskTimeout(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Queue.TaskTimeout = 1 })
	f.engine.push(waitCancelled)
	task := f.submit(t, "alice", 1)
	f.start(t)

	done := f.waitTerminal(t, task.ID)
	if done.Status != queue.StatusFailed || done.ReasonCode != scheduler.ReasonTaskTimeout {
		t.Fatalf("unexpected task %+v", done)
	}
}

func TestPanicBecomesInternalError(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.push(func(context.Context, pipeline.Job, pipeline.Observer) (pipeline.Result, error) {
		panic("boom")
	})
	broken := f.submit(t, "alice", 1)
	next := f.submit(t, "alice", 2)
	f.start(t)

	done := f.waitTerminal(t, broken.ID)
	if done.Status != queue.StatusFailed || done.ReasonCode != scheduler.ReasonInternal {
		t.Fatalf("unexpected task %+v", done)
	}
	if task := f.waitTerminal(t, next.ID); task.Status != queue.StatusSucceeded {
		t.Fatalf("worker should keep going after a panic, got %s", task.Status)
	}
}

func TestStopCancelsRunningAndKeepsQueued(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.push(waitCancelled)
	running := f.submit(t, "alice", 1)
	queued := f.submit(t, "bob", 2)
	f.start(t)
	f.waitStarted(t, running.ID)

	f.sched.Stop()

	stored, err := f.store.GetTask(context.Background(), running.ID)
	if err != nil || stored.Status != queue.StatusCancelled || stored.ReasonCode != scheduler.ReasonDaemonStopped {
		t.Fatalf("running task after stop: %+v (%v)", stored, err)
	}
	stored, err = f.store.GetTask(context.Background(), queued.ID)
	if err != nil || stored.Status != queue.StatusQueued {
		t.Fatalf("queued task after stop: %+v (%v)", stored, err)
	}

	restarted := f.newScheduler()
	t.Cleanup(restarted.Stop)
	if err := restarted.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	f.sched = restarted
	if task := f.waitTerminal(t, queued.ID); task.Status != queue.StatusSucceeded {
		t.Fatalf("reloaded task should run, got %s", task.Status)
	}
}

func TestConcurrentStopWaitsForShutdown(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.push(func(ctx context.Context, _ pipeline.Job, _ pipeline.Observer) (pipeline.Result, error) {
		<-ctx.Done()
		time.Sleep(100 * time.Millisecond)
		return pipeline.Result{}, pipeline.Classify(pipeline.StageDownload, ctx.Err())
	})
	running := f.submit(t, "alice", 1)
	f.start(t)
	f.waitStarted(t, running.ID)

	const callers = 4
	statuses := make(chan queue.Status, callers)
	for range callers {
		go func() {
			f.sched.Stop()
			stored, err := f.store.GetTask(context.Background(), running.ID)
			if err != nil {
				statuses <- ""
				return
			}
			statuses <- stored.Status
		}()
	}
	for range callers {
		select {
		case status := <-statuses:
			if status != queue.StatusCancelled {
				t.Fatalf("Stop returned before the running task settled: %q", status)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Stop did not return")
		}
	}

	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatalf("restart after concurrent stop: %v", err)
	}
}

func TestStartFailsInterruptedTasks(t *testing.T) {
	f := newFixture(t, nil)
	stale := testsupport.NewTask(t, f.store, "alice", queue.StatusRunning)
	waiting := testsupport.NewTask(t, f.store, "bob", queue.StatusQueued)
	f.start(t)

	stored, err := f.store.GetTask(context.Background(), stale.ID)
	if err != nil || stored.Status != queue.StatusFailed || stored.ReasonCode != scheduler.ReasonDaemonStopped {
		t.Fatalf("interrupted task not failed: %+v (%v)", stored, err)
	}
	if task := f.waitTerminal(t, waiting.ID); task.Status != queue.StatusSucceeded {
		t.Fatalf("persisted queued task should run, got %s", task.Status)
	}
}

func TestListAndStats(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.push(failWith(pipeline.StageMux, pipeline.ReasonMuxFailed, false))
	failed := f.submit(t, "alice", 1)
	ok := f.submit(t, "alice", 2)
	f.start(t)
	f.waitTerminal(t, failed.ID)
	f.waitTerminal(t, ok.ID)

	list, err := f.sched.List(context.Background(), scheduler.ListOptions{RequesterID: "alice", History: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != ok.ID {
		t.Fatalf("expected newest history first, got %d tasks", len(list))
	}
	if got := f.sched.ListForUser("alice"); len(got) != 0 {
		t.Fatalf("no active tasks expected, got %d", len(got))
	}

	stats, err := f.sched.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Counts[queue.StatusSucceeded] != 1 || stats.Counts[queue.StatusFailed] != 1 {
		t.Fatalf("unexpected counts %+v", stats.Counts)
	}
	if stats.SuccessRate != 0.5 || stats.Pending != 0 || !stats.Accepting {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestActiveTaskIDs(t *testing.T) {
	f := newFixture(t, nil)
	a := f.submit(t, "alice", 1)
	b := f.submit(t, "bob", 2)
	ids := f.sched.ActiveTaskIDs()
	if len(ids) != 2 || (ids[0] != a.ID && ids[1] != a.ID) || (ids[0] != b.ID && ids[1] != b.ID) {
		t.Fatalf("unexpected active ids %v", ids)
	}
}
