package api

import (
	"time"

	"trackrelay/internal/deps"
	"trackrelay/internal/events"
	"trackrelay/internal/queue"
	"trackrelay/internal/scheduler"
	"trackrelay/internal/supervisor"
)

// FromTask converts a task record to its API representation. position is the
// 1-based queue position, or 0 when the task is not pending.
func FromTask(task *queue.Task, position int) TaskItem {
	if task == nil {
		return TaskItem{}
	}
	dto := TaskItem{
		ID:           task.ID,
		RequesterID:  task.RequesterID,
		SourceURL:    task.SourceURL,
		TrackID:      task.TrackID,
		Storefront:   task.Storefront,
		Quality:      task.Quality,
		ActualCodec:  task.ActualCodec,
		Title:        task.Title,
		Artist:       task.Artist,
		Stage:        task.Stage,
		Status:       string(task.Status),
		Position:     position,
		Attempts:     task.Attempts,
		CreatedAt:    formatTime(task.CreatedAt),
		DurationMs:   task.Duration().Milliseconds(),
		ReasonCode:   task.ReasonCode,
		ErrorDetail:  task.ErrorDetail,
		ArtifactID:   task.ArtifactID,
		DeliveryMode: string(task.DeliveryMode),
		Flags: TaskFlags{
			Lyrics: task.Flags.Lyrics,
			Cover:  task.Flags.Cover,
			Force:  task.Flags.Force,
		},
	}
	if task.StartedAt != nil {
		dto.StartedAt = formatTime(*task.StartedAt)
	}
	if task.FinishedAt != nil {
		dto.FinishedAt = formatTime(*task.FinishedAt)
	}
	return dto
}

// FromTasks converts tasks without queue positions.
func FromTasks(tasks []*queue.Task) []TaskItem {
	if len(tasks) == 0 {
		return nil
	}
	out := make([]TaskItem, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, FromTask(task, 0))
	}
	return out
}

// FromArtifact converts an artifact record.
func FromArtifact(artifact *queue.Artifact) ArtifactItem {
	if artifact == nil {
		return ArtifactItem{}
	}
	dto := ArtifactItem{
		ID:        artifact.ID,
		TaskID:    artifact.TaskID,
		Path:      artifact.Path,
		Size:      artifact.Size,
		Codec:     artifact.Codec,
		CreatedAt: formatTime(artifact.CreatedAt),
		ExpiresAt: formatTime(artifact.ExpiresAt),
	}
	if artifact.DeletedAt != nil {
		dto.DeletedAt = formatTime(*artifact.DeletedAt)
	}
	return dto
}

// FromArtifacts converts a slice of artifacts.
func FromArtifacts(artifacts []*queue.Artifact) []ArtifactItem {
	out := make([]ArtifactItem, 0, len(artifacts))
	for _, artifact := range artifacts {
		out = append(out, FromArtifact(artifact))
	}
	return out
}

// FromInstance converts a supervisor snapshot.
func FromInstance(inst supervisor.Instance, sessionValid bool) WrapperStatus {
	dto := WrapperStatus{
		Mode:                inst.Mode,
		Endpoint:            inst.Endpoint,
		State:               string(inst.State),
		Provisioning:        inst.Provisioning,
		LastProbe:           formatTime(inst.LastProbe),
		LastError:           inst.LastError,
		ConsecutiveFailures: inst.ConsecutiveFailures,
		Restarts:            inst.Restarts,
		PID:                 inst.PID,
		Regions:             append([]string(nil), inst.Regions...),
		ClientCount:         inst.ClientCount,
		SessionValid:        sessionValid,
	}
	for _, acct := range inst.Accounts {
		dto.Accounts = append(dto.Accounts, WrapperAccount{
			Account:       acct.Account,
			Authenticated: acct.Authenticated,
			Pending2FA:    acct.Pending2FA,
		})
	}
	return dto
}

// FromStats converts scheduler statistics.
func FromStats(stats scheduler.Stats) QueueStats {
	counts := make(map[string]int, len(queue.AllStatuses))
	for _, status := range queue.AllStatuses {
		counts[string(status)] = stats.Counts[status]
	}
	return QueueStats{
		Counts:            counts,
		Total:             stats.Total,
		Pending:           stats.Pending,
		RunningTaskID:     stats.RunningTaskID,
		MaxQueueSize:      stats.MaxQueueSize,
		Accepting:         stats.Accepting,
		SuccessRate:       stats.SuccessRate,
		AverageDurationMs: stats.AverageDuration.Milliseconds(),
	}
}

// FromEvent converts a hub event.
func FromEvent(evt events.Event) Event {
	return Event{
		Sequence:    evt.Sequence,
		Timestamp:   formatTime(evt.Timestamp),
		Type:        string(evt.Type),
		TaskID:      evt.TaskID,
		RequesterID: evt.RequesterID,
		Stage:       evt.Stage,
		Status:      evt.Status,
		ReasonCode:  evt.ReasonCode,
		Position:    evt.Position,
		Attempt:     evt.Attempt,
		Message:     evt.Message,
		Fields:      evt.Fields,
	}
}

// FromEvents converts a page of hub events.
func FromEvents(evts []events.Event) []Event {
	out := make([]Event, 0, len(evts))
	for _, evt := range evts {
		out = append(out, FromEvent(evt))
	}
	return out
}

// FromDependencies converts dependency checks, grading each one.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, 0, len(statuses))
	for _, dep := range statuses {
		severity := SeverityOK
		if !dep.Available {
			severity = SeverityError
			if dep.Optional {
				severity = SeverityWarn
			}
		}
		out = append(out, DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
			Path:        dep.Path,
			Severity:    severity,
		})
	}
	return out
}

// ToSubmitRequest converts the transport request into the scheduler form.
func ToSubmitRequest(req SubmitRequest) scheduler.SubmitRequest {
	return scheduler.SubmitRequest{
		RequesterID: req.RequesterID,
		URL:         req.URL,
		Quality:     req.Quality,
		Storefront:  req.Storefront,
		Flags: queue.Flags{
			Lyrics: req.Lyrics,
			Cover:  req.Cover,
			Force:  req.Force,
		},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
