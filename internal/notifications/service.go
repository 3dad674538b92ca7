package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"trackrelay/internal/config"
)

const userAgent = "TrackRelay-Go/0.1.0"

// Event identifies a notification kind.
type Event string

const (
	EventTaskSucceeded Event = "task_succeeded"
	EventTaskFailed    Event = "task_failed"
	EventWrapperState  Event = "wrapper_state"
	EventTest          Event = "test"
)

// Payload carries the values a message template reads.
type Payload map[string]any

// Service defines the notification surface.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := cfg.NotificationTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventTaskSucceeded: cfg.Notifications.TaskSuccess,
			EventTaskFailed:    cfg.Notifications.TaskFailure,
			EventWrapperState:  cfg.Notifications.WrapperState,
			EventTest:          true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventTaskSucceeded:
		body := fmt.Sprintf("🎵 Ready: %s", trackLabel(payload))
		if mode := payload.str("deliveryMode"); mode != "" && mode != "inline" {
			body += "\nDelivery: " + mode
		}
		if path := payload.str("path"); path != "" {
			body += "\nFile: " + path
		}
		return message{
			title: "TrackRelay - Track Ready",
			body:  body,
			tags:  []string{"trackrelay", "task", "completed"},
		}, true
	case EventTaskFailed:
		body := fmt.Sprintf("❌ Failed: %s", trackLabel(payload))
		if reason := payload.str("reason"); reason != "" {
			body += fmt.Sprintf(" (%s)", reason)
		}
		if detail := payload.str("error"); detail != "" {
			body += "\n" + detail
		}
		return message{
			title:    "TrackRelay - Track Failed",
			body:     body,
			tags:     []string{"trackrelay", "task", "failed"},
			priority: "high",
		}, true
	case EventWrapperState:
		state := payload.str("state")
		if state == "" {
			return message{}, false
		}
		body := fmt.Sprintf("Wrapper is now %s", state)
		if reason := payload.str("reason"); reason != "" {
			body += ": " + reason
		}
		msg := message{
			title: "TrackRelay - Wrapper " + strings.ToUpper(state[:1]) + state[1:],
			body:  body,
			tags:  []string{"trackrelay", "wrapper", state},
		}
		if state != "healthy" {
			msg.priority = "high"
		}
		return msg, true
	case EventTest:
		return message{
			title:    "TrackRelay - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"trackrelay", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func trackLabel(payload Payload) string {
	title := payload.str("title")
	artist := payload.str("artist")
	switch {
	case title != "" && artist != "":
		return artist + " - " + title
	case title != "":
		return title
	case payload.str("trackID") != "":
		return "track " + payload.str("trackID")
	default:
		return "unknown track"
	}
}

func (p Payload) str(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
