// Package queue persists tasks and artifacts in SQLite.
//
// The Store manages database connections, schema initialization, busy retries,
// task history, restart recovery of interrupted work, and the artifact ledger
// used for TTL sweeps. The in-memory scheduler is the source of truth for
// active tasks; every transition is written through here so history and
// queued work survive a daemon restart.
//
// Schema changes bump the version in schema.go; users clear the database to
// adopt the new schema.
package queue
