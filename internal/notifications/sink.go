package notifications

import (
	"context"
	"log/slog"
	"sync"

	"trackrelay/internal/events"
	"trackrelay/internal/logging"
)

const sinkBuffer = 64

type delivery struct {
	event   Event
	payload Payload
}

// Sink forwards hub events to a Service. Append never blocks: deliveries
// beyond the buffer are dropped with a warning.
type Sink struct {
	svc    Service
	logger *slog.Logger
	queue  chan delivery

	mu      sync.Mutex
	dropped int
}

// NewSink builds a sink delivering through svc. Call Run to start delivery.
func NewSink(svc Service, logger *slog.Logger) *Sink {
	return &Sink{
		svc:    svc,
		logger: logging.NewComponentLogger(logger, "notifications"),
		queue:  make(chan delivery, sinkBuffer),
	}
}

// Append implements events.Sink.
func (s *Sink) Append(evt events.Event) {
	event, payload, ok := translate(evt)
	if !ok {
		return
	}
	select {
	case s.queue <- delivery{event: event, payload: payload}:
	default:
		s.mu.Lock()
		s.dropped++
		dropped := s.dropped
		s.mu.Unlock()
		logging.WarnWithContext(s.logger, "notification dropped", "notification_dropped",
			logging.String("notification", string(event)),
			logging.Int("dropped_total", dropped),
			logging.String(logging.FieldErrorHint, "check ntfy reachability"),
			logging.String(logging.FieldImpact, "a push notification was not sent"),
		)
	}
}

// Run delivers queued notifications until ctx is done.
func (s *Sink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.queue:
			if err := s.svc.Publish(ctx, d.event, d.payload); err != nil && ctx.Err() == nil {
				logging.WarnWithContext(s.logger, "notification delivery failed", "notification_failed",
					logging.String("notification", string(d.event)),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
					logging.String(logging.FieldImpact, "a push notification was not sent"),
				)
			}
		}
	}
}

func translate(evt events.Event) (Event, Payload, bool) {
	switch evt.Type {
	case events.TaskSucceeded:
		return EventTaskSucceeded, Payload{
			"taskID":       evt.TaskID,
			"trackID":      evt.Fields["track_id"],
			"title":        evt.Fields["title"],
			"artist":       evt.Fields["artist"],
			"deliveryMode": evt.Fields["delivery_mode"],
			"path":         evt.Fields["path"],
		}, true
	case events.TaskFailed:
		return EventTaskFailed, Payload{
			"taskID":  evt.TaskID,
			"trackID": evt.Fields["track_id"],
			"title":   evt.Fields["title"],
			"artist":  evt.Fields["artist"],
			"reason":  evt.ReasonCode,
			"error":   evt.Message,
		}, true
	case events.WrapperState:
		if !notableTransition(evt.Fields["previous"], evt.Status) {
			return "", nil, false
		}
		return EventWrapperState, Payload{
			"state":    evt.Status,
			"previous": evt.Fields["previous"],
			"reason":   evt.Message,
		}, true
	default:
		return "", nil, false
	}
}

// notableTransition reports wrapper changes worth a push: losing health, and
// recovering from a loss.
func notableTransition(previous, next string) bool {
	switch next {
	case "degraded", "stopped":
		return previous == "healthy" || previous == "degraded"
	case "healthy":
		return previous == "degraded" || previous == "stopped"
	default:
		return false
	}
}
