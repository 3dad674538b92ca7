package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"trackrelay/internal/config"
	"trackrelay/internal/logging"
	"trackrelay/internal/services"
)

func TestNewFromConfigWritesJSONLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Logging.Level = "info"

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("daemon started", logging.String(logging.FieldEventType, "daemon_start"))

	data, err := os.ReadFile(filepath.Join(cfg.LogDir(), logging.LogFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &line); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", data, err)
	}
	if line["msg"] != "daemon started" || line["level"] != "info" {
		t.Fatalf("unexpected log line %v", line)
	}
	if _, ok := line["ts"]; !ok {
		t.Fatalf("expected ts key in %v", line)
	}
}

func TestConsoleLoggerFormatsComponentAndTask(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.NewComponentLogger(logger, "scheduler").Info("task started",
		logging.TaskID("0123456789abcdef"),
		logging.String("quality", "alac"),
	)

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	for _, fragment := range []string{"INFO scheduler: task started", "[01234567]", "quality=alac"} {
		if !strings.Contains(line, fragment) {
			t.Fatalf("expected %q in %q", fragment, line)
		}
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", line)
	}
}

func TestConsoleLoggerTagsStage(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.With(logging.TaskID("feedface00000000")).Info("stage complete",
		logging.Stage("mux"),
		logging.TaskID("ignored-duplicate"),
	)
	logger.Info("sweep", logging.Stage("cleanup"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %q", content)
	}
	if !strings.Contains(lines[0], "stage complete [feedface mux]") || strings.Contains(lines[0], "ignored-duplicate") {
		t.Fatalf("unexpected first line %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "sweep [cleanup]") {
		t.Fatalf("unexpected second line %q", lines[1])
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWithContextAddsTaskFields(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := services.WithTaskID(context.Background(), "task-1")
	ctx = services.WithStage(ctx, "download")
	ctx = services.WithRequesterID(ctx, "alice")
	ctx = services.WithRequestID(ctx, "corr-9")
	logging.WithContext(ctx, base).Info("segment fetched")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := map[string]string{
		logging.FieldTaskID:        "task-1",
		logging.FieldStage:         "download",
		logging.FieldRequesterID:   "alice",
		logging.FieldCorrelationID: "corr-9",
	}
	for key, value := range want {
		if line[key] != value {
			t.Fatalf("expected %s=%s, got %v", key, value, line[key])
		}
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	logging.WarnWithContext(logger, "lyrics unavailable", "lyrics_skipped", logging.String(logging.FieldImpact, "no lyrics embedded"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if line[logging.FieldEventType] != "lyrics_skipped" {
		t.Fatalf("unexpected event type %v", line[logging.FieldEventType])
	}
	if line[logging.FieldImpact] != "no lyrics embedded" {
		t.Fatalf("caller impact should win, got %v", line[logging.FieldImpact])
	}
	if line[logging.FieldErrorHint] == nil {
		t.Fatal("expected default error hint")
	}
}

func TestErrorAttrsUsesServiceDetails(t *testing.T) {
	err := services.Wrap(services.ErrExternalTool, "mux", "ffmpeg", "failed", errors.New("exit 1"))
	attrs := logging.ErrorAttrs(err)
	if !logging.HasAttrKey(attrs, logging.FieldErrorKind) || !logging.HasAttrKey(attrs, logging.FieldErrorOperation) {
		t.Fatalf("expected kind and operation attrs, got %v", attrs)
	}
	if logging.ErrorAttrs(nil) != nil {
		t.Fatal("expected nil attrs for nil error")
	}
}

func TestTeeLoggerDuplicatesOutput(t *testing.T) {
	var baseBuf, teeBuf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&baseBuf, nil))
	logger := logging.TeeLogger(base, slog.NewJSONHandler(&teeBuf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	logger.Info("info only")
	logger.Warn("both")

	if strings.Count(baseBuf.String(), "\n") != 2 {
		t.Fatalf("expected two lines in base, got %q", baseBuf.String())
	}
	if strings.Count(teeBuf.String(), "\n") != 1 || !strings.Contains(teeBuf.String(), "both") {
		t.Fatalf("expected only the warning in tee, got %q", teeBuf.String())
	}
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "trackrelay-old.log")
	active := filepath.Join(dir, logging.LogFileName)
	recent := filepath.Join(dir, "trackrelay-recent.log")
	for _, path := range []string{old, active, recent} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	stale := time.Now().AddDate(0, 0, -40)
	for _, path := range []string{old, active} {
		if err := os.Chtimes(path, stale, stale); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	removed := logging.CleanupOldLogs(logging.NewNop(), 30, dir, "*.log", logging.LogFileName)
	if removed != 1 {
		t.Fatalf("expected one removal, got %d", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected old log removed, stat err=%v", err)
	}
	for _, path := range []string{active, recent} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s kept: %v", path, err)
		}
	}
}
