package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"trackrelay/internal/catalog"
	"trackrelay/internal/config"
	"trackrelay/internal/events"
	"trackrelay/internal/logging"
	"trackrelay/internal/queue"
	"trackrelay/internal/services"
)

// RejectionCode explains why a submission was refused.
type RejectionCode string

const (
	RejectNotSingleTrack RejectionCode = "not-a-single-track"
	RejectInvalidURL     RejectionCode = "invalid-url"
	RejectQueueFull      RejectionCode = "queue-full"
	RejectUserLimit      RejectionCode = "user-limit-reached"
	RejectDuplicate      RejectionCode = "duplicate-task"
	RejectShuttingDown   RejectionCode = "shutting-down"
)

// ErrRejected matches every *Rejection.
var ErrRejected = errors.New("task rejected")

// Rejection is returned by Submit when a request is not admitted.
type Rejection struct {
	Code    RejectionCode
	Message string
	// ExistingTaskID names the active task a duplicate-task rejection
	// collided with.
	ExistingTaskID string
}

func (r *Rejection) Error() string {
	if r.Message == "" {
		return fmt.Sprintf("task rejected: %s", r.Code)
	}
	return fmt.Sprintf("task rejected: %s: %s", r.Code, r.Message)
}

// Is lets errors.Is(err, ErrRejected) match.
func (r *Rejection) Is(target error) bool { return target == ErrRejected }

// RejectionCodeOf extracts the rejection code from err.
func RejectionCodeOf(err error) (RejectionCode, bool) {
	var rejection *Rejection
	if errors.As(err, &rejection) {
		return rejection.Code, true
	}
	return "", false
}

// SubmitRequest describes one track request.
type SubmitRequest struct {
	RequesterID string
	URL         string
	// Quality is the requested codec. Empty uses download.default_quality.
	Quality string
	// Storefront overrides the storefront named in the link.
	Storefront string
	Flags      queue.Flags
}

// Submit validates req and enqueues it. Link validation happens before any
// queue check, so a collection link is always not-a-single-track.
func (s *Scheduler) Submit(ctx context.Context, req SubmitRequest) (*queue.Task, error) {
	requester := strings.TrimSpace(req.RequesterID)
	if requester == "" || requester == AdminRequester {
		return nil, services.Wrap(services.ErrValidation, "submit", "validate request", "a requester id is required", nil)
	}
	ref, err := catalog.ParseTrackURL(req.URL)
	if err != nil {
		code := RejectInvalidURL
		if errors.Is(err, catalog.ErrNotSingleTrack) {
			code = RejectNotSingleTrack
		}
		return nil, s.reject(ctx, requester, &Rejection{Code: code, Message: err.Error()})
	}
	quality := strings.ToLower(strings.TrimSpace(req.Quality))
	if quality == "" {
		quality = s.cfg.Download.DefaultQuality
	}
	if !slices.Contains(config.SupportedCodecs, quality) {
		return nil, services.Wrap(services.ErrValidation, "submit", "validate quality",
			fmt.Sprintf("unsupported quality %q", req.Quality), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return nil, s.reject(ctx, requester, &Rejection{Code: RejectShuttingDown, Message: "the daemon is shutting down"})
	}
	if limit := s.cfg.Queue.MaxTasksPerUser; s.activeForLocked(requester) >= limit {
		return nil, s.reject(ctx, requester, &Rejection{
			Code:    RejectUserLimit,
			Message: fmt.Sprintf("at most %d active tasks per requester", limit),
		})
	}
	if limit := s.cfg.Queue.MaxQueueSize; len(s.pending) >= limit {
		return nil, s.reject(ctx, requester, &Rejection{
			Code:    RejectQueueFull,
			Message: fmt.Sprintf("queue holds at most %d tasks", limit),
		})
	}
	for _, active := range s.tasks {
		if active.RequesterID == requester && active.TrackID == ref.ID {
			return nil, s.reject(ctx, requester, &Rejection{
				Code:           RejectDuplicate,
				Message:        "the same track is already queued",
				ExistingTaskID: active.ID,
			})
		}
	}

	task := &queue.Task{
		ID:          uuid.NewString(),
		RequesterID: requester,
		SourceURL:   ref.URL,
		TrackID:     ref.ID,
		Storefront:  strings.ToLower(strings.TrimSpace(req.Storefront)),
		Quality:     quality,
		Status:      queue.StatusQueued,
		CreatedAt:   s.now().UTC(),
		Flags:       req.Flags,
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		return nil, services.Wrap(services.ErrTransient, "submit", "insert task", "record task", err)
	}
	s.tasks[task.ID] = task
	s.pending = append(s.pending, task.ID)

	evt := taskEvent(events.TaskEnqueued, task)
	evt.Position = len(s.pending)
	s.publishLocked(evt)
	s.signal()

	logging.WithContext(services.WithTaskID(services.WithRequesterID(ctx, requester), task.ID), s.logger).Info("task enqueued",
		logging.String("track_id", task.TrackID),
		logging.String("quality", task.Quality),
		logging.Int("position", len(s.pending)),
		logging.String(logging.FieldEventType, "task_enqueued"),
	)
	return task.Clone(), nil
}

func (s *Scheduler) reject(ctx context.Context, requester string, rejection *Rejection) error {
	logging.WithContext(services.WithRequesterID(ctx, requester), s.logger).Info("task rejected",
		logging.String("reason_code", string(rejection.Code)),
		logging.String(logging.FieldEventType, "task_rejected"),
	)
	return rejection
}

// Cancel stops a task. A queued task becomes cancelled immediately and no
// stage runs; a running task has its context cancelled and reaches the
// cancelled state once the pipeline unwinds. The requester must own the
// task unless it is AdminRequester.
func (s *Scheduler) Cancel(ctx context.Context, taskID, requesterID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(ctx, taskID, requesterID)
}

func (s *Scheduler) cancelLocked(ctx context.Context, taskID, requesterID string) bool {
	task := s.tasks[taskID]
	if task == nil {
		return false
	}
	if requesterID != AdminRequester && task.RequesterID != requesterID {
		return false
	}
	logger := logging.WithContext(services.WithTaskID(ctx, taskID), s.logger)

	if s.removePendingLocked(taskID) {
		s.finishLocked(task, queue.StatusCancelled, ReasonCancelledByUser, "cancelled while queued", nil)
		s.publishPositionsLocked()
		logger.Info("queued task cancelled",
			logging.String(logging.FieldEventType, "task_cancelled"),
			logging.String("requested_by", requesterID),
		)
		return true
	}
	if s.current != nil && s.current.taskID == taskID {
		s.current.cancel(errCancelledByUser)
		logger.Info("running task cancellation requested",
			logging.String(logging.FieldEventType, "task_cancel_requested"),
			logging.String("requested_by", requesterID),
		)
		return true
	}
	return false
}

// CancelAll cancels every active task of requesterID, or of everyone for
// AdminRequester. It returns how many tasks were cancelled or signalled.
func (s *Scheduler) CancelAll(ctx context.Context, requesterID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	if s.current != nil {
		ids = append(ids, s.current.taskID)
	}
	ids = append(ids, s.pending...)
	count := 0
	for _, id := range ids {
		task := s.tasks[id]
		if task == nil {
			continue
		}
		if requesterID != AdminRequester && task.RequesterID != requesterID {
			continue
		}
		if s.cancelLocked(ctx, id, requesterID) {
			count++
		}
	}
	return count
}
