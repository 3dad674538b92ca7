package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"trackrelay/internal/logging"
)

const taskDirPrefix = "task-"

// TaskDir returns the work directory used for one task under stagingDir.
func TaskDir(stagingDir, taskID string) string {
	return filepath.Join(stagingDir, taskDirPrefix+taskID)
}

// TaskIDFromDir extracts the task identifier from a work directory name.
func TaskIDFromDir(name string) (string, bool) {
	if !strings.HasPrefix(name, taskDirPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(name, taskDirPrefix)
	return id, id != ""
}

// CleanStaleResult contains the outcome of a stale directory cleanup operation.
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanStale removes task work directories older than maxAge. Directories
// belonging to a task in active are kept regardless of age.
func CleanStale(ctx context.Context, stagingDir string, maxAge time.Duration, active map[string]struct{}, logger *slog.Logger) CleanStaleResult {
	result := CleanStaleResult{}

	stagingDir = strings.TrimSpace(stagingDir)
	if stagingDir == "" {
		return result
	}

	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: stagingDir, Error: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)

	for _, entry := range entries {
		if ctx != nil && ctx.Err() != nil {
			return result
		}
		if !entry.IsDir() {
			continue
		}
		if id, ok := TaskIDFromDir(entry.Name()); ok {
			if _, running := active[id]; running {
				continue
			}
		}

		dirPath := filepath.Join(stagingDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			if logger != nil {
				logger.Warn("failed to remove stale staging directory",
					logging.String("path", dirPath),
					logging.Error(err),
					logging.String(logging.FieldEventType, "staging_cleanup_failed"),
					logging.String(logging.FieldErrorHint, "check staging_dir permissions"),
					logging.String(logging.FieldImpact, "disk space not reclaimed"),
				)
			}
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		if logger != nil {
			logger.Info("removed stale staging directory",
				logging.String("path", dirPath),
				logging.Duration("age", time.Since(info.ModTime())),
				logging.String(logging.FieldEventType, "staging_cleanup"),
			)
		}
	}

	return result
}
