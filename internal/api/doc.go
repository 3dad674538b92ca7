// Package api defines wire-format types and converters for the IPC and HTTP
// API layer. It translates scheduler tasks, artifacts, wrapper snapshots and
// hub events into transport-friendly DTOs that the CLI and chat front ends
// can render without coupling to internal types.
//
// # Key Types
//
// TaskItem: transport representation of a task with stage, queue position,
// outcome and delivery details.
//
// DaemonStatus: daemon running state, queue statistics, wrapper snapshot and
// dependency checks.
//
// Event/EventsResponse: status events for long-poll consumers.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript/TypeScript consumers. Internal
// enums (queue.Status, supervisor.State) are exposed as lowercase strings.
// Timestamps use RFC3339 with milliseconds.
package api
