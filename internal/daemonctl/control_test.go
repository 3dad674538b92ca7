package daemonctl_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"trackrelay/internal/api"
	"trackrelay/internal/daemonctl"
	"trackrelay/internal/queue"
	"trackrelay/internal/testsupport"
)

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		write   bool
		want    int
	}{
		{"missing file", "", false, 0},
		{"valid", "4242\n", true, 4242},
		{"garbage", "not-a-pid", true, 0},
		{"negative", "-3", true, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tc.name, " ", "_")+".pid")
			if tc.write {
				if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
					t.Fatalf("write pid file: %v", err)
				}
			}
			got, err := daemonctl.ReadPID(path)
			if err != nil {
				t.Fatalf("ReadPID: %v", err)
			}
			if got != tc.want {
				t.Fatalf("ReadPID = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestSignalProcessGuards(t *testing.T) {
	dir := t.TempDir()
	if _, err := daemonctl.SignalProcess(filepath.Join(dir, "none.pid"), 0, syscall.SIGTERM); err == nil {
		t.Fatal("expected error without pid file or fallback")
	}

	self := filepath.Join(dir, "self.pid")
	if err := os.WriteFile(self, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatalf("write pid file: %v", err)
	}
	if _, err := daemonctl.SignalProcess(self, 0, syscall.SIGTERM); err == nil {
		t.Fatal("expected refusal to signal the current process")
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	socket := filepath.Join(t.TempDir(), "absent.sock")
	if _, err := daemonctl.StopAndTerminate(socket, cfg, time.Second); !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestBuildStatusSnapshotOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	testsupport.NewTask(t, store, "alice", queue.StatusQueued)
	testsupport.NewTask(t, store, "bob", queue.StatusSucceeded)
	_ = store.Close()

	snap, err := daemonctl.BuildStatusSnapshot(context.Background(), filepath.Join(t.TempDir(), "absent.sock"), cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if snap.Reachable {
		t.Fatal("expected unreachable daemon")
	}
	if snap.Status.Queue.Counts["queued"] != 1 || snap.Status.Queue.Counts["succeeded"] != 1 {
		t.Fatalf("unexpected offline counts %v", snap.Status.Queue.Counts)
	}
	if snap.Status.QueueDBPath != cfg.QueueDBPath() {
		t.Fatalf("unexpected db path %q", snap.Status.QueueDBPath)
	}
	if len(snap.SystemChecks) == 0 || !strings.Contains(snap.SystemChecks[0].Detail, "Not running") {
		t.Fatalf("unexpected system checks %+v", snap.SystemChecks)
	}
	var httpLine *api.StatusLine
	for i := range snap.SystemChecks {
		if snap.SystemChecks[i].Label == "HTTP API" {
			httpLine = &snap.SystemChecks[i]
		}
	}
	if httpLine == nil || httpLine.Severity != api.SeverityWarn {
		t.Fatalf("expected tokenless HTTP API warning, got %+v", httpLine)
	}
	for _, line := range snap.PathChecks {
		if line.Severity != api.SeverityOK {
			t.Fatalf("expected %s ready, got %+v", line.Label, line)
		}
	}
}
