// Package events publishes ordered task, queue, and wrapper status events.
//
// The Hub assigns monotonically increasing sequence numbers, keeps a bounded
// in-memory buffer for long-poll readers, and forwards every event to
// registered sinks (structured logs, push notifications). Publication is
// synchronous so a reader that observes a sequence number also observes every
// transition that preceded it.
package events
