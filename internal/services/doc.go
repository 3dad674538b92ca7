// Package services defines shared utilities consumed by the pipeline stages,
// the scheduler, and the wrapper integrations.
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, stage names, requester IDs, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures as
//     retryable or fatal and surface operator hints in logs.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
