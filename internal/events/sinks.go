package events

import (
	"context"
	"log/slog"

	"trackrelay/internal/logging"
)

// LogSink writes every event as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink logging through logger with the events component.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logging.NewComponentLogger(logger, "events")}
}

// Append logs evt. Failures and cancellations are logged at warn level.
func (s *LogSink) Append(evt Event) {
	if s == nil || s.logger == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, string(evt.Type)),
		logging.Int64("seq", int64(evt.Sequence)),
	}
	if evt.TaskID != "" {
		attrs = append(attrs, logging.TaskID(evt.TaskID))
	}
	if evt.RequesterID != "" {
		attrs = append(attrs, logging.Requester(evt.RequesterID))
	}
	if evt.Stage != "" {
		attrs = append(attrs, logging.Stage(evt.Stage))
	}
	if evt.Status != "" {
		attrs = append(attrs, logging.String("status", evt.Status))
	}
	if evt.ReasonCode != "" {
		attrs = append(attrs, logging.ReasonCode(evt.ReasonCode))
	}
	if evt.Position > 0 {
		attrs = append(attrs, logging.Int("position", evt.Position))
	}
	if evt.Attempt > 0 {
		attrs = append(attrs, logging.Int("attempt", evt.Attempt))
	}
	for key, value := range evt.Fields {
		attrs = append(attrs, logging.String(key, value))
	}

	msg := evt.Message
	if msg == "" {
		msg = string(evt.Type)
	}
	level := slog.LevelInfo
	switch evt.Type {
	case TaskFailed:
		level = slog.LevelWarn
	case QueuePositionChanged, TaskStage:
		level = slog.LevelDebug
	}
	s.logger.LogAttrs(context.Background(), level, msg, attrs...)
}
