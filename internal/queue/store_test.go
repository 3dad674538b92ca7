package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"trackrelay/internal/queue"
	"trackrelay/internal/testsupport"
)

func TestInsertAndGetTaskRoundTripsFields(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	lyrics := false
	started := time.Now().UTC().Add(-time.Minute)
	task := &queue.Task{
		ID:          "task-1",
		RequesterID: "alice",
		SourceURL:   "https://music.apple.com/us/album/x/1?i=2",
		TrackID:     "2",
		Storefront:  "us",
		Quality:     "alac",
		Status:      queue.StatusQueued,
		CreatedAt:   time.Now().UTC(),
		Flags:       queue.Flags{Lyrics: &lyrics, Force: true},
	}
	if err := store.InsertTask(ctx, task); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	task.Status = queue.StatusRunning
	task.Stage = "download"
	task.StartedAt = &started
	task.Attempts = 1
	if err := store.UpdateTask(ctx, task); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	got, err := store.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got == nil {
		t.Fatal("expected task")
	}
	if got.Status != queue.StatusRunning || got.Stage != "download" || got.Attempts != 1 {
		t.Fatalf("unexpected task state %+v", got)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Fatalf("unexpected started_at %v", got.StartedAt)
	}
	if got.Flags.Lyrics == nil || *got.Flags.Lyrics || !got.Flags.Force {
		t.Fatalf("flags not preserved: %+v", got.Flags)
	}

	missing, err := store.GetTask(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for missing task, got %v %v", missing, err)
	}
}

func TestUpdateMissingTaskFails(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	err := store.UpdateTask(context.Background(), &queue.Task{ID: "ghost", Status: queue.StatusFailed})
	if err == nil {
		t.Fatal("expected error updating missing task")
	}
}

func TestListTasksPreservesArrivalOrder(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	a := testsupport.NewTask(t, store, "alice", queue.StatusQueued)
	b := testsupport.NewTask(t, store, "bob", queue.StatusQueued)
	c := testsupport.NewTask(t, store, "alice", queue.StatusSucceeded)

	queued, err := store.ListTasks(ctx, queue.TaskFilter{Statuses: []queue.Status{queue.StatusQueued}})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(queued) != 2 || queued[0].ID != a.ID || queued[1].ID != b.ID {
		t.Fatalf("unexpected queued order %v", ids(queued))
	}

	alice, err := store.ListTasks(ctx, queue.TaskFilter{RequesterID: "alice", Newest: true})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(alice) != 2 || alice[0].ID != c.ID {
		t.Fatalf("unexpected alice tasks %v", ids(alice))
	}

	limited, err := store.ListTasks(ctx, queue.TaskFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected one task, got %d", len(limited))
	}
}

func TestFailInterruptedOnlyTouchesRunning(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	running := testsupport.NewTask(t, store, "alice", queue.StatusRunning)
	queued := testsupport.NewTask(t, store, "bob", queue.StatusQueued)

	n, err := store.FailInterrupted(ctx, "daemon-stopped", "daemon restarted", time.Now())
	if err != nil {
		t.Fatalf("FailInterrupted: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one row, got %d", n)
	}
	got, _ := store.GetTask(ctx, running.ID)
	if got.Status != queue.StatusFailed || got.ReasonCode != "daemon-stopped" || got.FinishedAt == nil {
		t.Fatalf("unexpected interrupted task %+v", got)
	}
	still, _ := store.GetTask(ctx, queued.ID)
	if still.Status != queue.StatusQueued {
		t.Fatalf("queued task should be untouched, got %s", still.Status)
	}
}

func TestPruneHistoryKeepsNewestTerminal(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	old := testsupport.NewTask(t, store, "alice", queue.StatusFailed)
	mid := testsupport.NewTask(t, store, "alice", queue.StatusSucceeded)
	active := testsupport.NewTask(t, store, "alice", queue.StatusQueued)
	newest := testsupport.NewTask(t, store, "alice", queue.StatusCancelled)

	n, err := store.PruneHistory(ctx, 2)
	if err != nil {
		t.Fatalf("PruneHistory: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one pruned, got %d", n)
	}
	for _, id := range []string{mid.ID, active.ID, newest.ID} {
		if task, _ := store.GetTask(ctx, id); task == nil {
			t.Fatalf("expected %s kept", id)
		}
	}
	if task, _ := store.GetTask(ctx, old.ID); task != nil {
		t.Fatal("expected oldest terminal task pruned")
	}
}

func TestArtifactLedger(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i, tc := range []struct {
		id      string
		expires time.Time
	}{
		{"a1", base.Add(time.Hour)},
		{"a2", base.Add(2 * time.Hour)},
		{"a3", base.Add(3*time.Hour + 500*time.Millisecond)},
	} {
		artifact := &queue.Artifact{
			ID:        tc.id,
			TaskID:    "task-" + tc.id,
			Path:      "/out/" + tc.id + ".m4a",
			Size:      int64(100 * (i + 1)),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			ExpiresAt: tc.expires,
		}
		if err := store.InsertArtifact(ctx, artifact); err != nil {
			t.Fatalf("InsertArtifact: %v", err)
		}
	}

	expired, err := store.ListArtifacts(ctx, queue.ArtifactFilter{ExpiresBefore: base.Add(2 * time.Hour)})
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if got := artifactIDs(expired); len(got) != 2 || got[0] != "a1" || got[1] != "a2" {
		t.Fatalf("unexpected expired set %v", got)
	}

	deleted, err := store.MarkArtifactDeleted(ctx, "a1", base)
	if err != nil || !deleted {
		t.Fatalf("MarkArtifactDeleted: %v %v", deleted, err)
	}
	again, err := store.MarkArtifactDeleted(ctx, "a1", base)
	if err != nil || again {
		t.Fatalf("second delete should be a no-op: %v %v", again, err)
	}

	live, err := store.ListArtifacts(ctx, queue.ArtifactFilter{})
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if len(live) != 2 {
		t.Fatalf("expected two live artifacts, got %v", artifactIDs(live))
	}
	all, err := store.ListArtifacts(ctx, queue.ArtifactFilter{IncludeDeleted: true})
	if err != nil || len(all) != 3 {
		t.Fatalf("expected three artifacts including deleted, got %d (%v)", len(all), err)
	}

	byPath, err := store.LiveArtifactByPath(ctx, "/out/a2.m4a")
	if err != nil || byPath == nil || byPath.ID != "a2" {
		t.Fatalf("LiveArtifactByPath: %v %v", byPath, err)
	}
	gone, err := store.LiveArtifactByPath(ctx, "/out/a1.m4a")
	if err != nil || gone != nil {
		t.Fatalf("deleted artifact should not be live: %v %v", gone, err)
	}
}

func TestStatsComputesSuccessRate(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	start := time.Now().UTC().Add(-time.Hour)
	for i, status := range []queue.Status{queue.StatusSucceeded, queue.StatusSucceeded, queue.StatusFailed, queue.StatusQueued} {
		task := testsupport.NewTask(t, store, "alice", status)
		if status == queue.StatusSucceeded {
			started := start
			finished := start.Add(time.Duration(i+1) * 10 * time.Second)
			task.StartedAt = &started
			task.FinishedAt = &finished
			if err := store.UpdateTask(ctx, task); err != nil {
				t.Fatalf("UpdateTask: %v", err)
			}
		}
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 4 || stats.Counts[queue.StatusSucceeded] != 2 {
		t.Fatalf("unexpected counts %+v", stats)
	}
	if stats.SuccessRate < 0.66 || stats.SuccessRate > 0.67 {
		t.Fatalf("unexpected success rate %f", stats.SuccessRate)
	}
	if stats.AverageDuration != 15*time.Second {
		t.Fatalf("unexpected average duration %s", stats.AverageDuration)
	}

	health, err := store.CheckHealth(ctx)
	if err != nil || !health.IntegrityCheck || health.TaskCount != 4 {
		t.Fatalf("unexpected health %+v err=%v", health, err)
	}
}

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		from, to queue.Status
		ok       bool
	}{
		{queue.StatusQueued, queue.StatusRunning, true},
		{queue.StatusQueued, queue.StatusCancelled, true},
		{queue.StatusRunning, queue.StatusSucceeded, true},
		{queue.StatusRunning, queue.StatusQueued, false},
		{queue.StatusSucceeded, queue.StatusFailed, false},
		{queue.StatusCancelled, queue.StatusRunning, false},
		{queue.StatusFailed, queue.StatusQueued, false},
	}
	for _, tt := range tests {
		err := queue.CheckTransition(tt.from, tt.to)
		if (err == nil) != tt.ok {
			t.Fatalf("%s -> %s: got err=%v want ok=%v", tt.from, tt.to, err, tt.ok)
		}
		var invalid *queue.ErrInvalidTransition
		if err != nil && !errors.As(err, &invalid) {
			t.Fatalf("expected ErrInvalidTransition, got %T", err)
		}
	}
}

func ids(tasks []*queue.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task.ID)
	}
	return out
}

func artifactIDs(artifacts []*queue.Artifact) []string {
	out := make([]string, 0, len(artifacts))
	for _, artifact := range artifacts {
		out = append(out, artifact.ID)
	}
	return out
}
