package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// InsertTask persists a newly admitted task.
func (s *Store) InsertTask(ctx context.Context, task *Task) error {
	if task == nil {
		return errors.New("task is nil")
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	flags, err := encodeFlags(task.Flags)
	if err != nil {
		return fmt.Errorf("encode flags: %w", err)
	}
	_, err = s.execWithRetry(
		ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.RequesterID,
		task.SourceURL,
		nullableString(task.TrackID),
		nullableString(task.Storefront),
		task.Quality,
		nullableString(task.ActualCodec),
		nullableString(task.Title),
		nullableString(task.Artist),
		nullableString(task.Stage),
		task.Status,
		task.Attempts,
		formatTime(task.CreatedAt),
		nullableTime(task.StartedAt),
		nullableTime(task.FinishedAt),
		nullableString(task.ReasonCode),
		nullableString(task.ErrorDetail),
		nullableString(task.ArtifactID),
		nullableString(string(task.DeliveryMode)),
		flags,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// UpdateTask persists the mutable fields of an existing task.
func (s *Store) UpdateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return errors.New("task is nil")
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE tasks
         SET track_id = ?, storefront = ?, actual_codec = ?, title = ?, artist = ?,
             stage = ?, status = ?, attempts = ?, started_at = ?, finished_at = ?,
             reason_code = ?, error_detail = ?, artifact_id = ?, delivery_mode = ?
         WHERE id = ?`,
		nullableString(task.TrackID),
		nullableString(task.Storefront),
		nullableString(task.ActualCodec),
		nullableString(task.Title),
		nullableString(task.Artist),
		nullableString(task.Stage),
		task.Status,
		task.Attempts,
		nullableTime(task.StartedAt),
		nullableTime(task.FinishedAt),
		nullableString(task.ReasonCode),
		nullableString(task.ErrorDetail),
		nullableString(task.ArtifactID),
		nullableString(string(task.DeliveryMode)),
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update task %s: %w", task.ID, sql.ErrNoRows)
	}
	return nil
}

// GetTask fetches a task by identifier. It returns nil, nil when absent.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// ListTasks returns tasks matching filter in arrival order.
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	var (
		clauses []string
		args    []any
	)
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, `status IN (`+makePlaceholders(len(filter.Statuses))+`)`)
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if requester := strings.TrimSpace(filter.RequesterID); requester != "" {
		clauses = append(clauses, `requester_id = ?`)
		args = append(args, requester)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, ` AND `)
	}
	if filter.Newest {
		query += ` ORDER BY seq DESC`
	} else {
		query += ` ORDER BY seq`
	}
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// FailInterrupted marks tasks left running by a previous daemon as failed.
func (s *Store) FailInterrupted(ctx context.Context, reasonCode, detail string, now time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE tasks SET status = ?, reason_code = ?, error_detail = ?, finished_at = ?
         WHERE status = ?`,
		StatusFailed,
		reasonCode,
		nullableString(detail),
		formatTime(now),
		StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted tasks: %w", err)
	}
	return res.RowsAffected()
}

// PruneHistory deletes the oldest terminal tasks beyond keep.
func (s *Store) PruneHistory(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM tasks
         WHERE status IN (?, ?, ?)
           AND seq NOT IN (
               SELECT seq FROM tasks WHERE status IN (?, ?, ?) ORDER BY seq DESC LIMIT ?
           )`,
		StatusSucceeded, StatusFailed, StatusCancelled,
		StatusSucceeded, StatusFailed, StatusCancelled,
		keep,
	)
	if err != nil {
		return 0, fmt.Errorf("prune task history: %w", err)
	}
	return res.RowsAffected()
}
