// Package notifications delivers task and wrapper milestones via ntfy.
//
// NewService publishes to the topic configured in config.toml and degrades to
// a no-op when no topic is set. Sink bridges the events hub to a Service: hub
// publishers never block on HTTP because Append only enqueues and a separate
// goroutine started by Run performs delivery.
//
// Per-event toggles in the notifications config section suppress individual
// event kinds without disabling the transport.
package notifications
