package events

import (
	"context"
	"sync"
	"time"
)

const defaultCapacity = 1024

// Sink receives every published event. Append runs on the publisher's
// goroutine and must not block.
type Sink interface {
	Append(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Append calls f(evt).
func (f SinkFunc) Append(evt Event) { f(evt) }

// Hub stores recent events and wakes waiters when new events arrive.
type Hub struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []Event
	nextSeq  uint64
	sinks    []Sink
	now      func() time.Time
}

// NewHub constructs a bounded in-memory event buffer.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	h := &Hub{capacity: capacity, now: time.Now}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// AddSink wires an additional sink that receives every published event.
func (h *Hub) AddSink(sink Sink) {
	if h == nil || sink == nil {
		return
	}
	h.mu.Lock()
	h.sinks = append(h.sinks, sink)
	h.mu.Unlock()
}

// Publish stamps evt with the next sequence number and appends it. The
// stamped event is returned.
func (h *Hub) Publish(evt Event) Event {
	if h == nil {
		return evt
	}
	h.mu.Lock()
	h.nextSeq++
	evt.Sequence = h.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = h.now().UTC()
	}
	if len(h.buffer) == h.capacity {
		copy(h.buffer, h.buffer[1:])
		h.buffer = h.buffer[:h.capacity-1]
	}
	h.buffer = append(h.buffer, evt)
	sinks := append([]Sink(nil), h.sinks...)
	h.cond.Broadcast()
	h.mu.Unlock()

	for _, sink := range sinks {
		sink.Append(evt)
	}
	return evt
}

// Fetch returns events with sequence greater than since that match filter.
// When wait is true, Fetch blocks until at least one matching event is
// available or the context ends. The returned cursor is the newest sequence
// examined and can be passed back as since.
func (h *Hub) Fetch(ctx context.Context, since uint64, limit int, wait bool, filter Filter) ([]Event, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}

	cancelWait := make(chan struct{})
	if wait && ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.mu.Lock()
				h.cond.Broadcast()
				h.mu.Unlock()
			case <-cancelWait:
			}
		}()
	}
	defer close(cancelWait)

	h.mu.Lock()
	defer h.mu.Unlock()

	cursor := since
	for {
		events, next := h.snapshotLocked(cursor, limit, filter)
		cursor = next
		if len(events) > 0 || !wait {
			return events, cursor, contextError(ctx)
		}
		if err := contextError(ctx); err != nil {
			return nil, cursor, err
		}
		h.cond.Wait()
		if err := contextError(ctx); err != nil {
			return nil, cursor, err
		}
	}
}

// Tail returns the most recent limit events without blocking.
func (h *Hub) Tail(limit int) ([]Event, uint64) {
	if h == nil {
		return nil, 0
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	start := len(h.buffer) - limit
	if start < 0 {
		start = 0
	}
	out := make([]Event, len(h.buffer)-start)
	copy(out, h.buffer[start:])
	return out, h.nextSeq
}

// LastSequence reports the sequence number of the newest event.
func (h *Hub) LastSequence() uint64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nextSeq
}

// FirstSequence reports the smallest sequence number still buffered.
func (h *Hub) FirstSequence() uint64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.buffer) == 0 {
		return h.nextSeq
	}
	return h.buffer[0].Sequence
}

// snapshotLocked collects up to limit matching events after since. The
// cursor advances past non-matching events so filtered waiters do not spin.
func (h *Hub) snapshotLocked(since uint64, limit int, filter Filter) ([]Event, uint64) {
	if since > h.nextSeq {
		// Cursor from a previous daemon run.
		since = 0
	}
	var out []Event
	cursor := since
	for _, evt := range h.buffer {
		if evt.Sequence <= since {
			continue
		}
		if len(out) == limit {
			break
		}
		cursor = evt.Sequence
		if filter.Match(evt) {
			out = append(out, evt)
		}
	}
	if len(out) < limit && h.nextSeq > cursor {
		cursor = h.nextSeq
	}
	return out, cursor
}

func contextError(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
