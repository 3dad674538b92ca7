package queue

import (
	"fmt"
	"time"
)

// Status represents the lifecycle of a task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// AllStatuses lists every task status in lifecycle order.
var AllStatuses = []Status{StatusQueued, StatusRunning, StatusSucceeded, StatusFailed, StatusCancelled}

// ActiveStatuses are the statuses that count toward queue and per-user limits.
var ActiveStatuses = []Status{StatusQueued, StatusRunning}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

var allowedTransitions = map[Status][]Status{
	StatusQueued:  {StatusRunning, StatusCancelled, StatusFailed},
	StatusRunning: {StatusSucceeded, StatusFailed, StatusCancelled},
}

// ErrInvalidTransition is returned when a status change would violate
// monotonic task lifecycle rules.
type ErrInvalidTransition struct {
	From Status
	To   Status
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid task transition %s -> %s", e.From, e.To)
}

// CheckTransition validates a status change. Terminal statuses have no
// outgoing edges.
func CheckTransition(from, to Status) error {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return nil
		}
	}
	return &ErrInvalidTransition{From: from, To: to}
}

// DeliveryMode describes how a succeeded task's output is handed back.
type DeliveryMode string

const (
	DeliveryInline         DeliveryMode = "inline"
	DeliveryServerRetained DeliveryMode = "server-retained"
)

// Flags are optional per-task overrides supplied at submission.
type Flags struct {
	Lyrics *bool `json:"lyrics,omitempty"`
	Cover  *bool `json:"cover,omitempty"`
	Force  bool  `json:"force,omitempty"`
}

// Task is the persisted record of one track acquisition.
type Task struct {
	ID           string       `json:"id"`
	RequesterID  string       `json:"requester_id"`
	SourceURL    string       `json:"source_url"`
	TrackID      string       `json:"track_id,omitempty"`
	Storefront   string       `json:"storefront,omitempty"`
	Quality      string       `json:"quality"`
	ActualCodec  string       `json:"actual_codec,omitempty"`
	Title        string       `json:"title,omitempty"`
	Artist       string       `json:"artist,omitempty"`
	Stage        string       `json:"stage,omitempty"`
	Status       Status       `json:"status"`
	Attempts     int          `json:"attempts"`
	CreatedAt    time.Time    `json:"created_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
	ReasonCode   string       `json:"reason_code,omitempty"`
	ErrorDetail  string       `json:"error_detail,omitempty"`
	ArtifactID   string       `json:"artifact_id,omitempty"`
	DeliveryMode DeliveryMode `json:"delivery_mode,omitempty"`
	Flags        Flags        `json:"flags"`
}

// Clone returns a deep copy safe to hand to observers.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.StartedAt != nil {
		started := *t.StartedAt
		cp.StartedAt = &started
	}
	if t.FinishedAt != nil {
		finished := *t.FinishedAt
		cp.FinishedAt = &finished
	}
	if t.Flags.Lyrics != nil {
		v := *t.Flags.Lyrics
		cp.Flags.Lyrics = &v
	}
	if t.Flags.Cover != nil {
		v := *t.Flags.Cover
		cp.Flags.Cover = &v
	}
	return &cp
}

// Duration reports how long the task ran, or zero when it never started or
// has not finished.
func (t *Task) Duration() time.Duration {
	if t == nil || t.StartedAt == nil || t.FinishedAt == nil {
		return 0
	}
	return t.FinishedAt.Sub(*t.StartedAt)
}

// TaskFilter narrows ListTasks results.
type TaskFilter struct {
	Statuses    []Status
	RequesterID string
	Limit       int
	// Newest orders results by descending arrival instead of FIFO order.
	Newest bool
}

// Artifact is a persisted output file with an expiry deadline.
type Artifact struct {
	ID        string     `json:"id"`
	TaskID    string     `json:"task_id"`
	Path      string     `json:"path"`
	Size      int64      `json:"size"`
	Codec     string     `json:"codec,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Expired reports whether the artifact deadline has elapsed at now.
func (a *Artifact) Expired(now time.Time) bool {
	return a != nil && !a.ExpiresAt.After(now)
}

// Live reports whether the artifact has not been deleted yet.
func (a *Artifact) Live() bool {
	return a != nil && a.DeletedAt == nil
}

// ArtifactFilter narrows ListArtifacts results.
type ArtifactFilter struct {
	TaskIDs        []string
	CreatedBefore  time.Time
	ExpiresBefore  time.Time
	IncludeDeleted bool
}

// StatusCounts reports how many tasks exist per status.
type StatusCounts map[Status]int

// Stats aggregates task history for the stats collector.
type Stats struct {
	Counts          StatusCounts  `json:"counts"`
	Total           int           `json:"total"`
	AverageDuration time.Duration `json:"average_duration"`
	SuccessRate     float64       `json:"success_rate"`
}
