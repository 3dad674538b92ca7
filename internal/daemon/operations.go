package daemon

import (
	"context"
	"errors"
	"strings"
	"time"

	"trackrelay/internal/artifacts"
	"trackrelay/internal/events"
	"trackrelay/internal/logging"
	"trackrelay/internal/notifications"
	"trackrelay/internal/queue"
	"trackrelay/internal/scheduler"
	"trackrelay/internal/supervisor"
	"trackrelay/internal/wrapper"
)

// Submit admits a track request. Rejections are returned as
// *scheduler.Rejection.
func (d *Daemon) Submit(ctx context.Context, req scheduler.SubmitRequest) (*queue.Task, error) {
	return d.sched.Submit(ctx, req)
}

// Cancel cancels one task on behalf of requesterID.
func (d *Daemon) Cancel(ctx context.Context, taskID, requesterID string) bool {
	return d.sched.Cancel(ctx, taskID, requesterID)
}

// CancelAll cancels every active task of requesterID.
func (d *Daemon) CancelAll(ctx context.Context, requesterID string) int {
	return d.sched.CancelAll(ctx, requesterID)
}

// Task returns a task with its queue position. ok is false when unknown.
func (d *Daemon) Task(ctx context.Context, taskID string) (task *queue.Task, position int, ok bool) {
	task, ok = d.sched.Status(ctx, taskID)
	if !ok {
		return nil, 0, false
	}
	return task, d.sched.Position(taskID), true
}

// Tasks lists active tasks followed by recent history.
func (d *Daemon) Tasks(ctx context.Context, opts scheduler.ListOptions) ([]*queue.Task, error) {
	return d.sched.List(ctx, opts)
}

// Position returns the 1-based queue position of a pending task.
func (d *Daemon) Position(taskID string) int {
	return d.sched.Position(taskID)
}

// Events returns hub events after since. When wait is set and nothing is
// buffered, it blocks until an event arrives or ctx is done.
func (d *Daemon) Events(ctx context.Context, since uint64, limit int, wait bool, filter events.Filter) ([]events.Event, uint64, error) {
	evts, next, err := d.hub.Fetch(ctx, since, limit, wait, filter)
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return evts, next, nil
	}
	return evts, next, err
}

// Wrapper returns the supervisor snapshot and whether a session is usable.
func (d *Daemon) Wrapper() (supervisor.Instance, bool) {
	return d.sup.Snapshot(), d.sup.SessionValid()
}

// WrapperStart starts the wrapper instance.
func (d *Daemon) WrapperStart(ctx context.Context) error {
	return d.sup.Start(ctx)
}

// WrapperStop stops the wrapper instance.
func (d *Daemon) WrapperStop(ctx context.Context) error {
	return d.sup.Stop(ctx)
}

// WrapperBuild provisions the native wrapper image.
func (d *Daemon) WrapperBuild(ctx context.Context) error {
	return d.sup.Build(ctx)
}

// Login forwards credentials for account to the wrapper.
func (d *Daemon) Login(ctx context.Context, account, password, code string) (wrapper.LoginResult, error) {
	return d.sup.Login(ctx, account, password, code)
}

// Logout ends the wrapper session of account.
func (d *Daemon) Logout(ctx context.Context, account string) error {
	return d.sup.Logout(ctx, account)
}

// Files lists live artifacts.
func (d *Daemon) Files(ctx context.Context) ([]*artifacts.Artifact, error) {
	return d.files.List(ctx)
}

// CleanFiles deletes artifacts matching filter regardless of expiry.
func (d *Daemon) CleanFiles(ctx context.Context, filter artifacts.Filter) ([]string, error) {
	return d.files.ForceClean(ctx, filter)
}

// Sweep removes artifacts whose deadline has passed.
func (d *Daemon) Sweep(ctx context.Context) ([]string, error) {
	return d.files.SweepExpired(ctx, time.Now())
}

// DatabaseHealth returns store diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) (queue.DatabaseHealth, error) {
	return d.store.CheckHealth(ctx)
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		logging.WarnWithContext(d.logger, "test notification failed", "notification_test_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			logging.String(logging.FieldImpact, "push notifications will not be delivered"),
		)
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
