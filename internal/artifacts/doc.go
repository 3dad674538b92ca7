// Package artifacts owns the lifetime of delivered track files.
//
// Persist places a finished file under the output directory atomically and
// records it with an expiry deadline. SweepExpired and ForceClean delete
// files from disk and stamp the ledger; both are idempotent and treat a file
// that is already gone as removed. Run drives periodic sweeps together with
// stale staging cleanup, independent of task activity.
package artifacts
