package queue

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Stats aggregates task counts, success rate, and average run duration.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM tasks GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	stats := Stats{Counts: make(StatusCounts)}
	for rows.Next() {
		var (
			status Status
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, err
		}
		stats.Counts[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	finished := stats.Counts[StatusSucceeded] + stats.Counts[StatusFailed]
	if finished > 0 {
		stats.SuccessRate = float64(stats.Counts[StatusSucceeded]) / float64(finished)
	}

	durRows, err := s.db.QueryContext(ctx,
		`SELECT started_at, finished_at FROM tasks
         WHERE status = ? AND started_at IS NOT NULL AND finished_at IS NOT NULL`,
		StatusSucceeded,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("task durations: %w", err)
	}
	defer durRows.Close()

	var (
		total time.Duration
		n     int
	)
	for durRows.Next() {
		var startedRaw, finishedRaw string
		if err := durRows.Scan(&startedRaw, &finishedRaw); err != nil {
			return Stats{}, err
		}
		started, err1 := parseTimeString(startedRaw)
		finished, err2 := parseTimeString(finishedRaw)
		if err1 != nil || err2 != nil || finished.Before(started) {
			continue
		}
		total += finished.Sub(started)
		n++
	}
	if n > 0 {
		stats.AverageDuration = total / time.Duration(n)
	}
	return stats, durRows.Err()
}

// DatabaseHealth captures sqlite diagnostics for the status command.
type DatabaseHealth struct {
	DBPath         string `json:"db_path"`
	SchemaVersion  int    `json:"schema_version"`
	TaskCount      int    `json:"task_count"`
	ArtifactCount  int    `json:"artifact_count"`
	IntegrityCheck bool   `json:"integrity_check"`
	Error          string `json:"error,omitempty"`
}

// CheckHealth runs lightweight integrity checks against the database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	ctx = ensureContext(ctx)
	health := DatabaseHealth{DBPath: s.path}

	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks").Scan(&health.TaskCount); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count tasks: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM artifacts WHERE deleted_at IS NULL").Scan(&health.ArtifactCount); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count artifacts: %w", err)
	}

	var integrity string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrity, "ok")
	return health, nil
}
