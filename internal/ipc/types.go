package ipc

import "trackrelay/internal/api"

// StartRequest resumes daemon processing.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest halts daemon processing.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse carries the combined daemon status.
type StatusResponse struct {
	Status api.DaemonStatus `json:"status"`
}

// SubmitRequest is a track request.
type SubmitRequest = api.SubmitRequest

// SubmitResponse is the admitted task or the rejection.
type SubmitResponse = api.SubmitResponse

// CancelRequest cancels one task.
type CancelRequest struct {
	TaskID      string `json:"task_id"`
	RequesterID string `json:"requester_id"`
}

// CancelResponse reports whether the task was cancelled.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// CancelAllRequest cancels every active task of a requester.
type CancelAllRequest struct {
	RequesterID string `json:"requester_id"`
}

// CancelAllResponse reports how many tasks were cancelled.
type CancelAllResponse struct {
	Cancelled int `json:"cancelled"`
}

// TaskRequest fetches one task.
type TaskRequest struct {
	TaskID string `json:"task_id"`
}

// TaskResponse carries one task.
type TaskResponse struct {
	Found bool         `json:"found"`
	Task  api.TaskItem `json:"task"`
}

// TasksRequest lists active tasks plus History finished ones.
type TasksRequest struct {
	RequesterID string `json:"requester_id"`
	History     int    `json:"history"`
}

// TasksResponse wraps a task list.
type TasksResponse struct {
	Tasks []api.TaskItem `json:"tasks"`
}

// EventsRequest fetches events after Since. WaitMillis > 0 long-polls.
type EventsRequest struct {
	Since       uint64   `json:"since"`
	Limit       int      `json:"limit"`
	WaitMillis  int      `json:"wait_millis"`
	TaskID      string   `json:"task_id,omitempty"`
	RequesterID string   `json:"requester_id,omitempty"`
	Types       []string `json:"types,omitempty"`
}

// EventsResponse is a page of events with the next cursor.
type EventsResponse = api.EventsResponse

// WrapperRequest fetches or acts on the wrapper instance.
type WrapperRequest struct{}

// WrapperResponse carries the wrapper snapshot after the call.
type WrapperResponse struct {
	Wrapper api.WrapperStatus `json:"wrapper"`
	Message string            `json:"message,omitempty"`
}

// LoginRequest forwards account credentials to the wrapper. Code carries the
// two-factor code on the second step.
type LoginRequest struct {
	Account  string `json:"account"`
	Password string `json:"password"`
	Code     string `json:"code,omitempty"`
}

// LoginResponse reports the wrapper login result.
type LoginResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Need2FA bool   `json:"need_2fa"`
}

// LogoutRequest ends an account session.
type LogoutRequest struct {
	Account string `json:"account"`
}

// LogoutResponse confirms the logout.
type LogoutResponse struct {
	LoggedOut bool `json:"logged_out"`
}

// FilesRequest lists live artifacts.
type FilesRequest struct{}

// FilesResponse wraps artifacts.
type FilesResponse struct {
	Artifacts []api.ArtifactItem `json:"artifacts"`
}

// FilesCleanRequest selects artifacts to delete regardless of expiry.
type FilesCleanRequest struct {
	TaskIDs        []string `json:"task_ids,omitempty"`
	RequesterID    string   `json:"requester_id,omitempty"`
	OlderThanHours int      `json:"older_than_hours,omitempty"`
	All            bool     `json:"all,omitempty"`
}

// FilesCleanResponse lists removed artifact IDs.
type FilesCleanResponse struct {
	Removed []string `json:"removed"`
}

// FilesSweepRequest removes expired artifacts now.
type FilesSweepRequest struct{}

// DatabaseHealthRequest fetches store diagnostics.
type DatabaseHealthRequest struct{}

// DatabaseHealthResponse reports store diagnostics.
type DatabaseHealthResponse struct {
	DBPath         string `json:"db_path"`
	SchemaVersion  int    `json:"schema_version"`
	TaskCount      int    `json:"task_count"`
	ArtifactCount  int    `json:"artifact_count"`
	IntegrityCheck bool   `json:"integrity_check"`
	Error          string `json:"error"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test result.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
