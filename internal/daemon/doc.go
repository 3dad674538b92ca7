// Package daemon coordinates the long-running TrackRelay process.
//
// It wires configuration, the task store, the scheduler, the wrapper
// supervisor, the artifact sweeper and the event hub into a single lifecycle
// with flock-based locking to prevent multiple instances. The daemon also
// owns the optional HTTP API used by chat front ends.
//
// Keep orchestration logic here: pipeline stages live in pipeline, admission
// and dispatch in scheduler, and the daemon focuses on startup, shutdown, and
// routing control requests to the right component.
package daemon
