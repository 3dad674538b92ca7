package services

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrCancelled     = errors.New("cancelled")
)

// ServiceError carries the stage and operation that produced a failure along
// with the marker used for classification.
type ServiceError struct {
	Marker    error
	Stage     string
	Operation string
	Message   string
	Err       error
}

func (e *ServiceError) Error() string {
	detail := buildDetail(e.Stage, e.Operation, e.Message)
	if e.Err != nil {
		return e.Marker.Error() + ": " + detail + ": " + e.Err.Error()
	}
	return e.Marker.Error() + ": " + detail
}

// Unwrap exposes both the marker and the underlying cause to errors.Is/As.
func (e *ServiceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Marker}
	}
	return []error{e.Marker, e.Err}
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &ServiceError{
		Marker:    marker,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Err:       err,
	}
}

// IsRetryable reports whether a failure may succeed on a later attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// ErrorDetails is the structured view of an error used for log attributes.
type ErrorDetails struct {
	Kind      string
	Operation string
	Message   string
	Hint      string
	Cause     error
}

// Details extracts classification data from err.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{
		Kind:    KindOf(err),
		Message: err.Error(),
		Cause:   err,
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		details.Operation = svcErr.Operation
		if svcErr.Message != "" {
			details.Message = svcErr.Message
		}
		if svcErr.Err != nil {
			details.Cause = svcErr.Err
		}
	}
	details.Hint = hintFor(details.Kind)
	return details
}

// KindOf returns a short classification label for err.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrExternalTool):
		return "external"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "unknown"
	}
}

func hintFor(kind string) string {
	switch kind {
	case "validation":
		return "check the submitted URL and options"
	case "configuration":
		return "check trackrelay config values"
	case "not_found":
		return "verify the track exists in the configured storefront"
	case "timeout":
		return "increase the relevant timeout or check backend load"
	case "external":
		return "check ffmpeg/ffprobe and wrapper backend logs"
	case "transient":
		return "retry later; the backend or network may be unstable"
	case "cancelled":
		return ""
	default:
		return "check logs for details"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage != "" {
		parts = append(parts, stage)
	}
	if operation != "" {
		parts = append(parts, operation)
	}
	if message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
