// Package scheduler owns task truth: admission, FIFO ordering, the single
// dispatch slot, retries and cancellation.
//
// Submit validates the link and the admission limits before a task is
// recorded. One worker goroutine dispatches tasks strictly in arrival order;
// only one pipeline runs at a time, and a task keeps the slot while it waits
// out a retry backoff. Every transition updates the in-memory record,
// publishes an event and writes through to the queue store inside one
// critical section, so a Status call made after an event was observed
// always reflects it.
package scheduler
