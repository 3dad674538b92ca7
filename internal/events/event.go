package events

import "time"

// Type classifies an event.
type Type string

const (
	TaskEnqueued         Type = "task_enqueued"
	TaskStarted          Type = "task_started"
	TaskStage            Type = "task_stage"
	TaskRetrying         Type = "task_retrying"
	TaskSucceeded        Type = "task_succeeded"
	TaskFailed           Type = "task_failed"
	TaskCancelled        Type = "task_cancelled"
	QueuePositionChanged Type = "queue_position_changed"
	ProcessorStarted     Type = "processor_started"
	ProcessorStopped     Type = "processor_stopped"
	WrapperState         Type = "wrapper_state"
	ArtifactSwept        Type = "artifact_swept"
)

// Terminal reports whether the event closes a task lifecycle.
func (t Type) Terminal() bool {
	switch t {
	case TaskSucceeded, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// Event is one status change published to the hub.
type Event struct {
	Sequence    uint64            `json:"seq"`
	Timestamp   time.Time         `json:"ts"`
	Type        Type              `json:"type"`
	TaskID      string            `json:"task_id,omitempty"`
	RequesterID string            `json:"requester_id,omitempty"`
	Stage       string            `json:"stage,omitempty"`
	Status      string            `json:"status,omitempty"`
	ReasonCode  string            `json:"reason_code,omitempty"`
	Position    int               `json:"position,omitempty"`
	Attempt     int               `json:"attempt,omitempty"`
	Message     string            `json:"message,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// Filter narrows events returned to a reader. Zero values match everything.
type Filter struct {
	TaskID      string
	RequesterID string
	Types       []Type
}

// Match reports whether evt satisfies the filter.
func (f Filter) Match(evt Event) bool {
	if f.TaskID != "" && evt.TaskID != f.TaskID {
		return false
	}
	if f.RequesterID != "" && evt.RequesterID != f.RequesterID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if evt.Type == t {
			return true
		}
	}
	return false
}
