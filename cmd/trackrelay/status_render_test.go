package main

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"trackrelay/internal/api"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("TrackRelay", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "TrackRelay:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("TrackRelay", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected green line, got %q", got)
	}
}

func TestDependencyLines(t *testing.T) {
	deps := []api.DependencyStatus{
		{Name: "FFmpeg", Available: false},
		{Name: "FFprobe", Available: true, Command: "ffprobe"},
		{Name: "Docker", Available: false, Optional: true, Detail: "not installed"},
	}
	lines := dependencyLines(deps, false)
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d: %v", len(lines), lines)
	}
	tests := []struct {
		line int
		want string
	}{
		{0, "[ERROR] 1/3 available"},
		{1, "[ERROR] not available"},
		{2, "[OK] Ready (ffprobe)"},
		{3, "[WARN] not installed"},
		{4, "FFmpeg, Docker"},
	}
	for _, tc := range tests {
		if !strings.Contains(lines[tc.line], tc.want) {
			t.Fatalf("line %d: expected %q in %q", tc.line, tc.want, lines[tc.line])
		}
	}
}

func TestStatusKindFromSeverity(t *testing.T) {
	tests := map[string]statusKind{
		"ok":    statusOK,
		"WARN":  statusWarn,
		"error": statusError,
		"info":  statusInfo,
		"":      statusInfo,
	}
	for severity, want := range tests {
		if got := statusKindFromSeverity(severity); got != want {
			t.Fatalf("severity %q: got %v want %v", severity, got, want)
		}
	}
}

func TestBuildQueueStatusRowsSkipsEmpty(t *testing.T) {
	rows := buildQueueStatusRows(map[string]int{"queued": 2, "failed": 1, "running": 0})
	if len(rows) != 2 || rows[0][0] != "Queued" || rows[1][0] != "Failed" || rows[1][1] != "1" {
		t.Fatalf("unexpected rows %v", rows)
	}
}

func TestFormatEvent(t *testing.T) {
	got := formatEvent(api.Event{Sequence: 7, Type: "task_failed", TaskID: "t1", ReasonCode: "mux-failed", Message: "boom"})
	for _, want := range []string{"#7 task_failed", "task=t1", "reason=mux-failed", `"boom"`} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}
