// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs. Payloads
// reuse the api package types so the CLI renders the same shapes the HTTP API
// serves. Submission rejections travel inside SubmitResponse rather than as RPC
// errors; RPC errors are reserved for malformed requests and daemon faults.
package ipc
