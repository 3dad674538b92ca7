package pipeline

import (
	"context"
	"errors"
	"fmt"

	"trackrelay/internal/services"
)

// Stage names in execution order.
const (
	StageResolve  = "resolve"
	StageLyrics   = "lyrics"
	StageManifest = "manifest"
	StageDownload = "download"
	StageDecrypt  = "decrypt"
	StageMux      = "mux"
	StageVerify   = "verify"
	StagePersist  = "persist"
)

// Stages lists every stage in the order Run executes them.
var Stages = []string{
	StageResolve,
	StageLyrics,
	StageManifest,
	StageDownload,
	StageDecrypt,
	StageMux,
	StageVerify,
	StagePersist,
}

// Reason codes attached to failed tasks.
const (
	ReasonInvalidURL          = "invalid-url"
	ReasonNotSingleTrack      = "not-a-single-track"
	ReasonTrackNotFound       = "track-not-found"
	ReasonRegionUnavailable   = "region-unavailable"
	ReasonCatalogUnavailable  = "catalog-unavailable"
	ReasonUnsupportedFormat   = "unsupported-format"
	ReasonManifestInvalid     = "manifest-invalid"
	ReasonManifestUnavailable = "manifest-unavailable"
	ReasonSegmentDownload     = "segment-download-failed"
	ReasonDecryptFailed       = "decrypt-failed"
	ReasonKeyUnavailable      = "decrypt-key-unavailable"
	ReasonSessionInvalid      = "backend-session-invalid"
	ReasonMuxFailed           = "mux-failed"
	ReasonIntegrityFailed     = "integrity-check-failed"
	ReasonPersistFailed       = "persist-failed"
	ReasonCancelled           = "cancelled"
	ReasonInternal            = "internal-error"
)

// StageError classifies a pipeline failure. Retryable errors may be retried
// as a whole task; everything else terminates the task with Reason.
type StageError struct {
	Stage     string
	Reason    string
	Retryable bool
	Err       error
}

func (e *StageError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s stage %s (%s)", e.Stage, kind, e.Reason)
	}
	return fmt.Sprintf("%s stage %s (%s): %v", e.Stage, kind, e.Reason, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Cancelled reports whether the stage stopped because its context ended.
func (e *StageError) Cancelled() bool {
	return e != nil && e.Reason == ReasonCancelled
}

func fatal(stage, reason string, err error) *StageError {
	return &StageError{Stage: stage, Reason: reason, Err: err}
}

func retryable(stage, reason string, err error) *StageError {
	return &StageError{Stage: stage, Reason: reason, Retryable: true, Err: err}
}

func cancelled(stage string, err error) *StageError {
	return &StageError{Stage: stage, Reason: ReasonCancelled, Err: err}
}

// Classify converts err into a StageError. Existing StageErrors pass through,
// context cancellation becomes ReasonCancelled, and anything unclassified is a
// fatal internal error.
func Classify(stage string, err error) *StageError {
	if err == nil {
		return nil
	}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, services.ErrCancelled) {
		return cancelled(stage, err)
	}
	return fatal(stage, ReasonInternal, err)
}
