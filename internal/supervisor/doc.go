// Package supervisor owns the lifecycle and health of the wrapper backend.
//
// A Supervisor tracks one backend instance through the states unknown,
// starting, healthy, degraded and stopped. In native mode it launches and
// restarts the backend process itself; in remote mode it only probes. The
// scheduler asks EnsureReady before every dispatch and reads SessionValid to
// decide whether an authenticated account is available.
package supervisor
