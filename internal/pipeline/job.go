package pipeline

import (
	"trackrelay/internal/artifacts"
	"trackrelay/internal/catalog"
	"trackrelay/internal/queue"
)

// Job is the immutable input of one pipeline run.
type Job struct {
	TaskID      string
	RequesterID string
	SourceURL   string
	Storefront  string // optional override of the link's storefront
	Quality     string // requested codec; empty uses download.default_quality
	Lyrics      *bool
	Cover       *bool
	Force       bool
}

// JobFromTask builds the pipeline input for a queued task.
func JobFromTask(task *queue.Task) Job {
	return Job{
		TaskID:      task.ID,
		RequesterID: task.RequesterID,
		SourceURL:   task.SourceURL,
		Storefront:  task.Storefront,
		Quality:     task.Quality,
		Lyrics:      task.Flags.Lyrics,
		Cover:       task.Flags.Cover,
		Force:       task.Flags.Force,
	}
}

// Update reports progress to the observer. Fields accumulate over the run:
// later updates repeat what earlier stages resolved.
type Update struct {
	Stage   string
	TrackID string
	Title   string
	Artist  string
	Codec   string
	Message string
}

// Observer receives stage transitions synchronously from the running engine.
type Observer interface {
	Observe(Update)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Update)

// Observe calls f(u).
func (f ObserverFunc) Observe(u Update) { f(u) }

// Result describes a finished run.
type Result struct {
	TrackID      string
	Codec        string
	Song         *catalog.Song
	Artifact     *artifacts.Artifact
	DeliveryMode queue.DeliveryMode
	// Reused is set when an existing live artifact satisfied the request.
	Reused         bool
	LyricsEmbedded bool
	CoverEmbedded  bool
	// IntegrityWarning holds the verify failure when integrity checks are
	// advisory.
	IntegrityWarning string
}
