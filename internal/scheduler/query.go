package scheduler

import (
	"context"
	"slices"

	"trackrelay/internal/queue"
)

// Status returns the task with id. Active tasks come from memory; finished
// ones are read from the store.
func (s *Scheduler) Status(ctx context.Context, taskID string) (*queue.Task, bool) {
	s.mu.Lock()
	task := s.tasks[taskID]
	if task != nil {
		task = task.Clone()
	}
	s.mu.Unlock()
	if task != nil {
		return task, true
	}
	stored, err := s.store.GetTask(ctx, taskID)
	if err != nil || stored == nil {
		return nil, false
	}
	return stored, true
}

// Position returns the 1-based queue position of a pending task, or 0 when
// the task is running, finished or unknown.
func (s *Scheduler) Position(taskID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Index(s.pending, taskID) + 1
}

// ListForUser returns the active tasks of requesterID: the running task
// first, then pending tasks in queue order.
func (s *Scheduler) ListForUser(requesterID string) []*queue.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(requesterID)
}

func (s *Scheduler) activeLocked(requesterID string) []*queue.Task {
	ids := make([]string, 0, len(s.pending)+1)
	if s.current != nil {
		ids = append(ids, s.current.taskID)
	}
	ids = append(ids, s.pending...)

	var out []*queue.Task
	for _, id := range ids {
		task := s.tasks[id]
		if task == nil {
			continue
		}
		if requesterID != "" && requesterID != AdminRequester && task.RequesterID != requesterID {
			continue
		}
		out = append(out, task.Clone())
	}
	return out
}

// ListOptions narrows List.
type ListOptions struct {
	// RequesterID limits results to one requester. Empty or AdminRequester
	// lists everyone.
	RequesterID string
	// History is how many finished tasks to append, newest first.
	History int
}

// List returns active tasks followed by recent finished tasks from the
// store.
func (s *Scheduler) List(ctx context.Context, opts ListOptions) ([]*queue.Task, error) {
	s.mu.Lock()
	out := s.activeLocked(opts.RequesterID)
	s.mu.Unlock()
	if opts.History <= 0 {
		return out, nil
	}

	requester := opts.RequesterID
	if requester == AdminRequester {
		requester = ""
	}
	history, err := s.store.ListTasks(ctx, queue.TaskFilter{
		Statuses:    []queue.Status{queue.StatusSucceeded, queue.StatusFailed, queue.StatusCancelled},
		RequesterID: requester,
		Limit:       opts.History,
		Newest:      true,
	})
	if err != nil {
		return out, err
	}
	return append(out, history...), nil
}

// Stats combines persisted history counters with live queue state.
type Stats struct {
	queue.Stats
	Pending       int    `json:"pending"`
	RunningTaskID string `json:"running_task_id,omitempty"`
	MaxQueueSize  int    `json:"max_queue_size"`
	Accepting     bool   `json:"accepting"`
}

// Stats reports counters per status, success rate and average duration.
func (s *Scheduler) Stats(ctx context.Context) (Stats, error) {
	stored, err := s.store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := Stats{
		Stats:        stored,
		Pending:      len(s.pending),
		MaxQueueSize: s.cfg.Queue.MaxQueueSize,
		Accepting:    !s.stopping,
	}
	if s.current != nil {
		stats.RunningTaskID = s.current.taskID
	}
	return stats, nil
}
