package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"time"

	"trackrelay/internal/events"
	"trackrelay/internal/logging"
	"trackrelay/internal/pipeline"
	"trackrelay/internal/queue"
	"trackrelay/internal/services"
)

// dispatch runs one claimed task to a terminal state. ctx is the task's
// cancellation scope; its cause tells a user cancel from a daemon stop.
func (s *Scheduler) dispatch(ctx context.Context, task *queue.Task) {
	ctx = services.WithRequesterID(services.WithTaskID(ctx, task.ID), task.RequesterID)
	logger := logging.WithContext(ctx, s.logger)

	if s.backend != nil {
		if !s.backend.EnsureReady(ctx, s.cfg.ReadyTimeout()) {
			if ctx.Err() != nil {
				s.interrupted(ctx, logger, task.ID)
				return
			}
			logging.WarnWithContext(logger, "wrapper not ready; task failed", "backend_unavailable",
				logging.Duration("ready_timeout", s.cfg.ReadyTimeout()),
				logging.String(logging.FieldErrorHint, "check trackrelay wrapper status"),
				logging.String(logging.FieldImpact, "task was not attempted"),
			)
			s.fail(task.ID, ReasonBackendUnavailable, "wrapper backend did not become healthy in time")
			return
		}
		if !s.backend.SessionValid() {
			logging.WarnWithContext(logger, "no authenticated wrapper account; task failed", "backend_session_invalid",
				logging.String(logging.FieldErrorHint, "run trackrelay wrapper login"),
				logging.String(logging.FieldImpact, "task was not attempted"),
			)
			s.fail(task.ID, ReasonSessionInvalid, "no authenticated wrapper account")
			return
		}
	}

	if !s.start(task.ID) {
		return
	}
	logger.Info("task started",
		logging.String("track_id", task.TrackID),
		logging.String("quality", task.Quality),
		logging.String(logging.FieldEventType, "task_started"),
	)

	var cancelTimeout context.CancelFunc = func() {}
	if timeout := s.cfg.TaskTimeout(); timeout > 0 {
		ctx, cancelTimeout = context.WithTimeoutCause(ctx, timeout, errTaskTimeout)
	}
	defer cancelTimeout()

	job := pipeline.JobFromTask(task)
	observer := pipeline.ObserverFunc(func(u pipeline.Update) { s.observe(task.ID, u) })
	started := s.now()

	for attempt := 1; ; attempt++ {
		s.setAttempt(task.ID, attempt)
		result, err := s.runAttempt(ctx, logger, job, observer)
		if err == nil {
			s.succeed(task.ID, result)
			logger.Info("task succeeded",
				logging.String("path", artifactPath(result)),
				logging.String("delivery_mode", string(result.DeliveryMode)),
				logging.Bool("reused", result.Reused),
				logging.Int("attempts", attempt),
				logging.Duration("elapsed", s.now().Sub(started)),
				logging.String(logging.FieldEventType, "task_succeeded"),
			)
			return
		}
		if ctx.Err() != nil {
			s.interrupted(ctx, logger, task.ID)
			return
		}

		stageErr := pipeline.Classify("", err)
		if !stageErr.Retryable || attempt > s.cfg.Queue.MaxRetries {
			logging.WarnWithContext(logger, "task failed", "task_failed",
				logging.Stage(stageErr.Stage),
				logging.ReasonCode(stageErr.Reason),
				logging.Int("attempts", attempt),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "see the stage failure entry above"),
				logging.String(logging.FieldImpact, "track was not delivered"),
			)
			s.fail(task.ID, stageErr.Reason, err.Error())
			return
		}

		delay := s.backoff(attempt)
		s.retrying(task.ID, stageErr, attempt, delay)
		logger.Info("task retry scheduled",
			logging.Stage(stageErr.Stage),
			logging.ReasonCode(stageErr.Reason),
			logging.Int("attempt", attempt),
			logging.Duration("backoff", delay),
			logging.String(logging.FieldEventType, "task_retrying"),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.interrupted(ctx, logger, task.ID)
			return
		case <-timer.C:
		}
	}
}

// runAttempt runs the engine once. A panic is converted into an
// internal-error stage failure so the dispatch slot is always released.
func (s *Scheduler) runAttempt(ctx context.Context, logger *slog.Logger, job pipeline.Job, observer pipeline.Observer) (result pipeline.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			stage := s.stageOf(job.TaskID)
			logging.ErrorWithContext(logger, "pipeline panicked", "pipeline_panic",
				logging.String("panic", fmt.Sprint(r)),
				logging.String("stack", string(debug.Stack())),
				logging.String(logging.FieldErrorHint, "report this failure with the log excerpt"),
				logging.String(logging.FieldImpact, "task failed with internal-error"),
			)
			err = &pipeline.StageError{Stage: stage, Reason: pipeline.ReasonInternal, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return s.engine.Run(ctx, job, observer)
}

// interrupted finishes a task whose context ended: a task timeout fails it,
// anything else cancels it.
func (s *Scheduler) interrupted(ctx context.Context, logger *slog.Logger, taskID string) {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errTaskTimeout):
		logging.WarnWithContext(logger, "task timed out", "task_timeout",
			logging.Duration("task_timeout", s.cfg.TaskTimeout()),
			logging.String(logging.FieldErrorHint, "raise queue.task_timeout for slow backends"),
			logging.String(logging.FieldImpact, "track was not delivered"),
		)
		s.fail(taskID, ReasonTaskTimeout, fmt.Sprintf("task exceeded %s", s.cfg.TaskTimeout()))
	case errors.Is(cause, errDaemonStopped):
		logger.Info("task cancelled by shutdown", logging.String(logging.FieldEventType, "task_cancelled"))
		s.terminate(taskID, queue.StatusCancelled, ReasonDaemonStopped, "daemon stopped", nil)
	default:
		logger.Info("task cancelled", logging.String(logging.FieldEventType, "task_cancelled"))
		s.terminate(taskID, queue.StatusCancelled, ReasonCancelledByUser, "cancelled by requester", nil)
	}
}

func (s *Scheduler) stageOf(taskID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task := s.tasks[taskID]; task != nil {
		return task.Stage
	}
	return ""
}

func (s *Scheduler) start(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := s.tasks[taskID]
	if task == nil || !s.setStatusLocked(task, queue.StatusRunning, "", "") {
		return false
	}
	s.publishLocked(taskEvent(events.TaskStarted, task))
	s.persistLocked(task, false)
	return true
}

func (s *Scheduler) setAttempt(taskID string, attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task := s.tasks[taskID]; task != nil {
		task.Attempts = attempt
		s.persistLocked(task, false)
	}
}

func (s *Scheduler) observe(taskID string, u pipeline.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := s.tasks[taskID]
	if task == nil {
		return
	}
	if u.TrackID != "" {
		task.TrackID = u.TrackID
	}
	if u.Title != "" {
		task.Title = u.Title
	}
	if u.Artist != "" {
		task.Artist = u.Artist
	}
	if u.Codec != "" {
		task.ActualCodec = u.Codec
	}
	task.Stage = u.Stage
	evt := taskEvent(events.TaskStage, task)
	evt.Message = u.Message
	s.publishLocked(evt)
	s.persistLocked(task, false)
}

func (s *Scheduler) retrying(taskID string, stageErr *pipeline.StageError, attempt int, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := s.tasks[taskID]
	if task == nil {
		return
	}
	evt := taskEvent(events.TaskRetrying, task)
	evt.ReasonCode = stageErr.Reason
	evt.Stage = stageErr.Stage
	evt.Message = fmt.Sprintf("retrying in %s", delay)
	evt.Fields = map[string]string{"backoff": delay.String(), "failed_attempt": strconv.Itoa(attempt)}
	s.publishLocked(evt)
}

func (s *Scheduler) succeed(taskID string, result pipeline.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := s.tasks[taskID]
	if task == nil {
		return
	}
	task.TrackID = firstNonEmpty(result.TrackID, task.TrackID)
	task.ActualCodec = firstNonEmpty(result.Codec, task.ActualCodec)
	task.DeliveryMode = result.DeliveryMode
	fields := map[string]string{
		"delivery_mode": string(result.DeliveryMode),
		"codec":         task.ActualCodec,
		"reused":        strconv.FormatBool(result.Reused),
	}
	if result.Artifact != nil {
		task.ArtifactID = result.Artifact.ID
		fields["artifact_id"] = result.Artifact.ID
		fields["path"] = result.Artifact.Path
		fields["size"] = strconv.FormatInt(result.Artifact.Size, 10)
	}
	if result.Song != nil {
		task.Title = firstNonEmpty(result.Song.Title, task.Title)
		task.Artist = firstNonEmpty(result.Song.Artist, task.Artist)
	}
	detail := ""
	if result.IntegrityWarning != "" {
		fields["integrity_warning"] = result.IntegrityWarning
		detail = result.IntegrityWarning
	}
	s.finishLocked(task, queue.StatusSucceeded, "", detail, fields)
}

func (s *Scheduler) fail(taskID, reason, detail string) {
	s.terminate(taskID, queue.StatusFailed, reason, detail, nil)
}

func (s *Scheduler) terminate(taskID string, status queue.Status, reason, detail string, fields map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task := s.tasks[taskID]; task != nil {
		s.finishLocked(task, status, reason, detail, fields)
	}
}

func artifactPath(result pipeline.Result) string {
	if result.Artifact == nil {
		return ""
	}
	return result.Artifact.Path
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
