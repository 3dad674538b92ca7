package scheduler

import (
	"context"
	"maps"
	"slices"

	"trackrelay/internal/events"
	"trackrelay/internal/logging"
	"trackrelay/internal/queue"
)

// The helpers in this file must be called with s.mu held. Each one mutates
// the in-memory record, publishes the matching event and writes the record
// through to the store before the lock is released.

func (s *Scheduler) publishLocked(evt events.Event) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(evt)
}

func taskEvent(typ events.Type, task *queue.Task) events.Event {
	return events.Event{
		Type:        typ,
		TaskID:      task.ID,
		RequesterID: task.RequesterID,
		Stage:       task.Stage,
		Status:      string(task.Status),
		ReasonCode:  task.ReasonCode,
		Attempt:     task.Attempts,
	}
}

func (s *Scheduler) persistLocked(task *queue.Task, insert bool) {
	ctx := context.Background()
	var err error
	if insert {
		err = s.store.InsertTask(ctx, task)
	} else {
		err = s.store.UpdateTask(ctx, task)
	}
	if err != nil {
		logging.ErrorWithContext(s.logger, "failed to persist task", "task_persist_failed",
			logging.TaskID(task.ID),
			logging.String("status", string(task.Status)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue database access"),
			logging.String(logging.FieldImpact, "task state may not survive a restart"),
		)
	}
}

// setStatusLocked applies a status transition. Invalid transitions are
// logged and ignored, which keeps terminal states final.
func (s *Scheduler) setStatusLocked(task *queue.Task, next queue.Status, reason, detail string) bool {
	if err := queue.CheckTransition(task.Status, next); err != nil {
		s.logger.Warn("ignored task transition",
			logging.TaskID(task.ID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "task_transition_rejected"),
			logging.String(logging.FieldErrorHint, "a terminal task cannot change state"),
			logging.String(logging.FieldImpact, "none"),
		)
		return false
	}
	now := s.now().UTC()
	task.Status = next
	switch next {
	case queue.StatusRunning:
		if task.StartedAt == nil {
			task.StartedAt = &now
		}
	case queue.StatusSucceeded, queue.StatusFailed, queue.StatusCancelled:
		task.FinishedAt = &now
		task.ReasonCode = reason
		task.ErrorDetail = detail
	}
	return true
}

// finishLocked moves a task to a terminal status, publishes the terminal
// event and drops it from the active set.
func (s *Scheduler) finishLocked(task *queue.Task, next queue.Status, reason, detail string, fields map[string]string) {
	if !s.setStatusLocked(task, next, reason, detail) {
		return
	}
	var typ events.Type
	switch next {
	case queue.StatusSucceeded:
		typ = events.TaskSucceeded
	case queue.StatusCancelled:
		typ = events.TaskCancelled
	default:
		typ = events.TaskFailed
	}
	evt := taskEvent(typ, task)
	evt.Message = detail
	evt.Fields = maps.Clone(fields)
	if evt.Fields == nil {
		evt.Fields = make(map[string]string, 3)
	}
	evt.Fields["track_id"] = task.TrackID
	if task.Title != "" {
		evt.Fields["title"] = task.Title
	}
	if task.Artist != "" {
		evt.Fields["artist"] = task.Artist
	}
	s.publishLocked(evt)
	s.persistLocked(task, false)
	delete(s.tasks, task.ID)
	if s.cfg.Queue.HistoryLimit > 0 {
		if _, err := s.store.PruneHistory(context.Background(), s.cfg.Queue.HistoryLimit); err != nil {
			s.logger.Debug("history prune failed", logging.Error(err))
		}
	}
}

// publishPositionsLocked announces the current position of every pending
// task.
func (s *Scheduler) publishPositionsLocked() {
	for i, id := range s.pending {
		task := s.tasks[id]
		if task == nil {
			continue
		}
		evt := taskEvent(events.QueuePositionChanged, task)
		evt.Position = i + 1
		s.publishLocked(evt)
	}
}

func (s *Scheduler) removePendingLocked(id string) bool {
	idx := slices.Index(s.pending, id)
	if idx < 0 {
		return false
	}
	s.pending = slices.Delete(s.pending, idx, idx+1)
	return true
}

func (s *Scheduler) activeForLocked(requesterID string) int {
	count := 0
	for _, task := range s.tasks {
		if task.RequesterID == requesterID {
			count++
		}
	}
	return count
}
