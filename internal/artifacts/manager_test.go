package artifacts_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"trackrelay/internal/artifacts"
	"trackrelay/internal/events"
	"trackrelay/internal/logging"
	"trackrelay/internal/queue"
	"trackrelay/internal/services"
	"trackrelay/internal/staging"
	"trackrelay/internal/testsupport"
)

type fixture struct {
	mgr   *artifacts.Manager
	store *queue.Store
	hub   *events.Hub
	now   time.Time
	dir   string

	// onClock runs whenever the manager reads the time.
	onClock func()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Files.TTLHours = 1
	store := testsupport.MustOpenStore(t, cfg)
	f := &fixture{
		store: store,
		hub:   events.NewHub(64),
		now:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		dir:   cfg.Paths.StagingDir,
	}
	f.mgr = artifacts.NewManager(cfg, store, logging.NewNop(),
		artifacts.WithEvents(f.hub),
		artifacts.WithClock(func() time.Time {
			if f.onClock != nil {
				f.onClock()
			}
			return f.now
		}),
	)
	return f
}

func (f *fixture) persist(t *testing.T, taskID, rel string) *artifacts.Artifact {
	t.Helper()
	src := filepath.Join(f.dir, taskID+".m4a")
	testsupport.WriteFile(t, src, 128)
	artifact, err := f.mgr.Persist(context.Background(), src, taskID, rel, artifacts.WithCodec("alac"))
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	return artifact
}

func TestPersistPlacesFileAndRecordsExpiry(t *testing.T) {
	f := newFixture(t)
	artifact := f.persist(t, "t1", filepath.Join("Artist", "Album", "1-01 Song.m4a"))

	want := filepath.Join(f.mgr.OutputDir(), "Artist", "Album", "1-01 Song.m4a")
	if artifact.Path != want {
		t.Fatalf("expected path %s, got %s", want, artifact.Path)
	}
	info, err := os.Stat(want)
	if err != nil || info.Size() != 128 || artifact.Size != 128 {
		t.Fatalf("unexpected placed file info=%v err=%v size=%d", info, err, artifact.Size)
	}
	if !artifact.ExpiresAt.Equal(f.now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", artifact.ExpiresAt)
	}
	if artifact.Codec != "alac" {
		t.Fatalf("expected codec recorded, got %q", artifact.Codec)
	}

	found, err := f.mgr.Lookup(context.Background(), filepath.Join("Artist", "Album", "1-01 Song.m4a"))
	if err != nil || found == nil || found.ID != artifact.ID {
		t.Fatalf("Lookup: %v %v", found, err)
	}
}

func TestPersistRejectsEscapingPaths(t *testing.T) {
	f := newFixture(t)
	for _, rel := range []string{"", "../escape.m4a", "/abs/path.m4a", "."} {
		_, err := f.mgr.Persist(context.Background(), "/nonexistent", "t", rel)
		if !errors.Is(err, services.ErrValidation) {
			t.Fatalf("rel %q: expected validation error, got %v", rel, err)
		}
	}
}

func TestPersistSupersedesPreviousArtifact(t *testing.T) {
	f := newFixture(t)
	first := f.persist(t, "t1", "song.m4a")
	second := f.persist(t, "t2", "song.m4a")

	old, err := f.mgr.Get(context.Background(), first.ID)
	if err != nil || old == nil || old.Live() {
		t.Fatalf("expected first artifact retired, got %+v err=%v", old, err)
	}
	live, _ := f.mgr.List(context.Background())
	if len(live) != 1 || live[0].ID != second.ID {
		t.Fatalf("expected only second artifact live, got %d", len(live))
	}
}

func TestPersistCancelledAfterPlacementLeavesNothing(t *testing.T) {
	tests := []struct {
		name       string
		supersedes bool
	}{
		{name: "fresh path"},
		{name: "superseding path", supersedes: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			rel := filepath.Join("Artist", "Album", "1-01 Song.m4a")
			var previous *artifacts.Artifact
			if tc.supersedes {
				previous = f.persist(t, "t0", rel)
			}

			// The clock is read once the file is in place, before the
			// ledger write.
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			f.onClock = cancel

			src := filepath.Join(f.dir, "t1.m4a")
			testsupport.WriteFile(t, src, 256)
			artifact, err := f.mgr.Persist(ctx, src, "t1", rel)
			f.onClock = nil
			if !errors.Is(err, services.ErrCancelled) {
				t.Fatalf("expected cancellation, got artifact=%v err=%v", artifact, err)
			}

			target := filepath.Join(f.mgr.OutputDir(), rel)
			if _, statErr := os.Stat(target); !os.IsNotExist(statErr) {
				t.Fatalf("expected no file at %s, stat err=%v", target, statErr)
			}
			live, err := f.mgr.List(context.Background())
			if err != nil || len(live) != 0 {
				t.Fatalf("expected no live artifacts, got %d err=%v", len(live), err)
			}
			if previous != nil {
				old, err := f.mgr.Get(context.Background(), previous.ID)
				if err != nil || old == nil || old.Live() {
					t.Fatalf("expected overwritten artifact retired, got %+v err=%v", old, err)
				}
			}

			swept, err := f.mgr.SweepExpired(context.Background(), f.now.Add(1000*time.Hour))
			if err != nil || len(swept) != 0 {
				t.Fatalf("expected nothing left to sweep, got %v err=%v", swept, err)
			}
		})
	}
}

func TestSweepExpiredRemovesExactlyExpired(t *testing.T) {
	f := newFixture(t)
	early := f.persist(t, "t1", filepath.Join("A", "early.m4a"))
	f.now = f.now.Add(30 * time.Minute)
	late := f.persist(t, "t2", filepath.Join("B", "late.m4a"))

	sweepAt := early.ExpiresAt
	removed, err := f.mgr.SweepExpired(context.Background(), sweepAt)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if len(removed) != 1 || removed[0] != early.Path {
		t.Fatalf("expected only early artifact removed, got %v", removed)
	}
	if _, err := os.Stat(early.Path); !os.IsNotExist(err) {
		t.Fatal("expected early file deleted")
	}
	if _, err := os.Stat(filepath.Dir(early.Path)); !os.IsNotExist(err) {
		t.Fatal("expected empty album dir pruned")
	}
	if _, err := os.Stat(late.Path); err != nil {
		t.Fatal("late artifact must survive")
	}

	again, err := f.mgr.SweepExpired(context.Background(), sweepAt)
	if err != nil || len(again) != 0 {
		t.Fatalf("repeated sweep should be a no-op, got %v err=%v", again, err)
	}

	evts, _, _ := f.hub.Fetch(context.Background(), 0, 10, false, events.Filter{Types: []events.Type{events.ArtifactSwept}})
	if len(evts) != 1 || evts[0].TaskID != "t1" {
		t.Fatalf("expected one artifact_swept event, got %+v", evts)
	}
}

func TestSweepToleratesMissingFile(t *testing.T) {
	f := newFixture(t)
	artifact := f.persist(t, "t1", "gone.m4a")
	if err := os.Remove(artifact.Path); err != nil {
		t.Fatal(err)
	}
	removed, err := f.mgr.SweepExpired(context.Background(), artifact.ExpiresAt.Add(time.Second))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(removed) != 1 {
		t.Fatalf("expected ledger entry retired, got %v", removed)
	}
}

func TestForceClean(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := testsupport.NewTask(t, f.store, "alice", queue.StatusSucceeded)
	bob := testsupport.NewTask(t, f.store, "bob", queue.StatusSucceeded)
	a := f.persist(t, alice.ID, "alice.m4a")
	b := f.persist(t, bob.ID, "bob.m4a")

	if _, err := f.mgr.ForceClean(ctx, artifacts.Filter{}); !errors.Is(err, artifacts.ErrEmptyFilter) {
		t.Fatalf("expected ErrEmptyFilter, got %v", err)
	}

	removed, err := f.mgr.ForceClean(ctx, artifacts.Filter{RequesterID: "alice"})
	if err != nil || len(removed) != 1 || removed[0] != a.Path {
		t.Fatalf("requester clean: %v %v", removed, err)
	}

	removed, err = f.mgr.ForceClean(ctx, artifacts.Filter{RequesterID: "nobody"})
	if err != nil || len(removed) != 0 {
		t.Fatalf("unknown requester should remove nothing: %v %v", removed, err)
	}

	removed, err = f.mgr.ForceClean(ctx, artifacts.Filter{All: true})
	if err != nil || len(removed) != 1 || removed[0] != b.Path {
		t.Fatalf("clean all: %v %v", removed, err)
	}
}

func TestForceCleanOlderThan(t *testing.T) {
	f := newFixture(t)
	old := f.persist(t, "t1", "old.m4a")
	f.now = f.now.Add(2 * time.Hour)
	f.persist(t, "t2", "new.m4a")

	removed, err := f.mgr.ForceClean(context.Background(), artifacts.Filter{OlderThan: time.Hour})
	if err != nil || len(removed) != 1 || removed[0] != old.Path {
		t.Fatalf("older-than clean: %v %v", removed, err)
	}
}

func TestCleanStagingKeepsActiveTasks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Files.StagingMaxAgeHours = 1
	store := testsupport.MustOpenStore(t, cfg)
	mgr := artifacts.NewManager(cfg, store, logging.NewNop())
	mgr.SetActiveTasks(func() []string { return []string{"busy"} })

	old := time.Now().Add(-3 * time.Hour)
	for _, id := range []string{"busy", "idle"} {
		dir := staging.TaskDir(cfg.Paths.StagingDir, id)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(dir, old, old); err != nil {
			t.Fatal(err)
		}
	}

	result := mgr.CleanStaging(context.Background())
	if len(result.Removed) != 1 || filepath.Base(result.Removed[0]) != "task-idle" {
		t.Fatalf("unexpected removal %v", result.Removed)
	}
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	f := newFixture(t)
	artifact := f.persist(t, "t1", "run.m4a")
	f.now = artifact.ExpiresAt

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.mgr.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if _, err := os.Stat(artifact.Path); os.IsNotExist(err) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("run loop did not sweep expired artifact")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
