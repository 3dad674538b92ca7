// Package main hosts the trackrelay CLI entrypoint and command graph.
//
// The Cobra command tree translates terminal invocations into IPC calls
// against the daemon: submitting and cancelling track requests, watching
// task events, managing the wrapper backend, and cleaning delivered files.
// The hidden `daemon` command runs the daemon itself; `start`, `stop`, and
// `restart` manage that process in the background.
//
// Keep this package lean: behavior lives in internal packages and commands
// here only parse flags and render results.
package main
