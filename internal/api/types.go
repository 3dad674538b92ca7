package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// TaskFlags mirrors the optional per-task overrides.
type TaskFlags struct {
	Lyrics *bool `json:"lyrics,omitempty"`
	Cover  *bool `json:"cover,omitempty"`
	Force  bool  `json:"force,omitempty"`
}

// TaskItem describes a task in a transport-friendly format.
type TaskItem struct {
	ID           string    `json:"id"`
	RequesterID  string    `json:"requesterId"`
	SourceURL    string    `json:"sourceUrl"`
	TrackID      string    `json:"trackId,omitempty"`
	Storefront   string    `json:"storefront,omitempty"`
	Quality      string    `json:"quality"`
	ActualCodec  string    `json:"actualCodec,omitempty"`
	Title        string    `json:"title,omitempty"`
	Artist       string    `json:"artist,omitempty"`
	Stage        string    `json:"stage,omitempty"`
	Status       string    `json:"status"`
	Position     int       `json:"position,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    string    `json:"createdAt,omitempty"`
	StartedAt    string    `json:"startedAt,omitempty"`
	FinishedAt   string    `json:"finishedAt,omitempty"`
	DurationMs   int64     `json:"durationMs,omitempty"`
	ReasonCode   string    `json:"reasonCode,omitempty"`
	ErrorDetail  string    `json:"errorDetail,omitempty"`
	ArtifactID   string    `json:"artifactId,omitempty"`
	DeliveryMode string    `json:"deliveryMode,omitempty"`
	Flags        TaskFlags `json:"flags"`
}

// ArtifactItem describes a persisted output file.
type ArtifactItem struct {
	ID        string `json:"id"`
	TaskID    string `json:"taskId"`
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	Codec     string `json:"codec,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	ExpiresAt string `json:"expiresAt,omitempty"`
	DeletedAt string `json:"deletedAt,omitempty"`
}

// WrapperAccount is the authentication state of one backend account.
type WrapperAccount struct {
	Account       string `json:"account"`
	Authenticated bool   `json:"authenticated"`
	Pending2FA    bool   `json:"pending2fa"`
}

// WrapperStatus is the supervisor's view of the wrapper backend.
type WrapperStatus struct {
	Mode                string           `json:"mode"`
	Endpoint            string           `json:"endpoint"`
	State               string           `json:"state"`
	Provisioning        bool             `json:"provisioning"`
	LastProbe           string           `json:"lastProbe,omitempty"`
	LastError           string           `json:"lastError,omitempty"`
	ConsecutiveFailures int              `json:"consecutiveFailures"`
	Restarts            int              `json:"restarts"`
	PID                 int              `json:"pid,omitempty"`
	Regions             []string         `json:"regions,omitempty"`
	ClientCount         int              `json:"clientCount"`
	Accounts            []WrapperAccount `json:"accounts,omitempty"`
	SessionValid        bool             `json:"sessionValid"`
}

// QueueStats combines history counters with live queue state.
type QueueStats struct {
	Counts            map[string]int `json:"counts"`
	Total             int            `json:"total"`
	Pending           int            `json:"pending"`
	RunningTaskID     string         `json:"runningTaskId,omitempty"`
	MaxQueueSize      int            `json:"maxQueueSize"`
	Accepting         bool           `json:"accepting"`
	SuccessRate       float64        `json:"successRate"`
	AverageDurationMs int64          `json:"averageDurationMs"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
	Path        string `json:"path,omitempty"`
	Severity    string `json:"severity,omitempty"`
}

// StatusLine is one rendered row of the status report.
type StatusLine struct {
	Label    string `json:"label"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// DependencySummary aggregates dependency readiness.
type DependencySummary struct {
	Total           int    `json:"total"`
	Available       int    `json:"available"`
	MissingRequired int    `json:"missingRequired"`
	MissingOptional int    `json:"missingOptional"`
	Severity        string `json:"severity"`
	Detail          string `json:"detail"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	QueueDBPath  string             `json:"queueDbPath"`
	LockFilePath string             `json:"lockFilePath"`
	LogPath      string             `json:"logPath,omitempty"`
	Queue        QueueStats         `json:"queue"`
	Wrapper      WrapperStatus      `json:"wrapper"`
	Dependencies []DependencyStatus `json:"dependencies"`
	Checks       []StatusLine       `json:"checks,omitempty"`
}

// SubmitRequest is the transport form of a track request.
type SubmitRequest struct {
	RequesterID string `json:"requesterId"`
	URL         string `json:"url"`
	Quality     string `json:"quality,omitempty"`
	Storefront  string `json:"storefront,omitempty"`
	Lyrics      *bool  `json:"lyrics,omitempty"`
	Cover       *bool  `json:"cover,omitempty"`
	Force       bool   `json:"force,omitempty"`
}

// SubmitResponse reports either the admitted task or the rejection.
type SubmitResponse struct {
	Task           *TaskItem `json:"task,omitempty"`
	Rejected       bool      `json:"rejected"`
	RejectionCode  string    `json:"rejectionCode,omitempty"`
	Message        string    `json:"message,omitempty"`
	ExistingTaskID string    `json:"existingTaskId,omitempty"`
}

// TaskListResponse wraps a collection of tasks.
type TaskListResponse struct {
	Tasks []TaskItem `json:"tasks"`
}

// TaskResponse wraps a single task.
type TaskResponse struct {
	Task TaskItem `json:"task"`
}

// ArtifactListResponse wraps a collection of artifacts.
type ArtifactListResponse struct {
	Artifacts []ArtifactItem `json:"artifacts"`
}

// Event is one status change.
type Event struct {
	Sequence    uint64            `json:"seq"`
	Timestamp   string            `json:"ts"`
	Type        string            `json:"type"`
	TaskID      string            `json:"taskId,omitempty"`
	RequesterID string            `json:"requesterId,omitempty"`
	Stage       string            `json:"stage,omitempty"`
	Status      string            `json:"status,omitempty"`
	ReasonCode  string            `json:"reasonCode,omitempty"`
	Position    int               `json:"position,omitempty"`
	Attempt     int               `json:"attempt,omitempty"`
	Message     string            `json:"message,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// EventsResponse carries a page of events and the cursor for the next fetch.
type EventsResponse struct {
	Events []Event `json:"events"`
	Next   uint64  `json:"next"`
}
