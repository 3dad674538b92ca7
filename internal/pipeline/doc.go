// Package pipeline turns one single-track request into a persisted .m4a.
//
// Engine.Run walks a fixed sequence of stages: resolve, lyrics, manifest,
// download, decrypt, mux, verify and persist. Each stage reports to an
// Observer before it starts so the scheduler can publish progress. Failures
// come back as *StageError carrying a reason code and whether a whole-task
// retry may help. The context is checked before every stage and between
// segment fetches; the task work directory under the staging root is removed
// on every exit path, so a cancelled or failed run leaves nothing behind.
package pipeline
