// Package preflight provides readiness checks for the filesystem paths,
// external tools and the wrapper backend that trackrelay depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll on start and logs every failed check so a broken
//     install is visible before the first task fails.
//   - The CLI "trackrelay status" command renders the same results next to
//     the live daemon status.
//
// Checks never mutate state; a failed check is reported, not repaired.
package preflight
