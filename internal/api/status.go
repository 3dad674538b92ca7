package api

import "fmt"

// Severity levels used by status lines.
const (
	SeverityOK    = "ok"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// SummarizeDependencies aggregates dependency readiness into one line.
func SummarizeDependencies(dependencies []DependencyStatus) DependencySummary {
	summary := DependencySummary{Total: len(dependencies), Severity: SeverityOK}
	for _, dep := range dependencies {
		switch {
		case dep.Available:
			summary.Available++
		case dep.Optional:
			summary.MissingOptional++
		default:
			summary.MissingRequired++
		}
	}
	switch {
	case summary.Total == 0:
		summary.Detail = "no dependencies checked"
	case summary.MissingRequired > 0:
		summary.Severity = SeverityError
		summary.Detail = fmt.Sprintf("%d/%d available, %d required missing", summary.Available, summary.Total, summary.MissingRequired)
	case summary.MissingOptional > 0:
		summary.Severity = SeverityWarn
		summary.Detail = fmt.Sprintf("%d/%d available, %d optional missing", summary.Available, summary.Total, summary.MissingOptional)
	default:
		summary.Detail = fmt.Sprintf("%d/%d available", summary.Available, summary.Total)
	}
	return summary
}

// WrapperLine renders the wrapper state as a status line.
func WrapperLine(status WrapperStatus) StatusLine {
	line := StatusLine{Label: "Wrapper", Severity: SeverityOK}
	detail := status.State
	if status.Endpoint != "" {
		detail += " (" + status.Mode + ", " + status.Endpoint + ")"
	}
	switch status.State {
	case "healthy":
		if !status.SessionValid {
			line.Severity = SeverityWarn
			detail += ", no authenticated session"
		}
	case "degraded", "starting", "unknown":
		line.Severity = SeverityWarn
	default:
		line.Severity = SeverityError
	}
	if status.Provisioning {
		detail += ", image build in progress"
	}
	if status.LastError != "" && line.Severity != SeverityOK {
		detail += ": " + status.LastError
	}
	line.Detail = detail
	return line
}

// QueueLine renders queue counters as a status line.
func QueueLine(stats QueueStats) StatusLine {
	line := StatusLine{Label: "Queue", Severity: SeverityOK}
	running := "idle"
	if stats.RunningTaskID != "" {
		running = "running " + stats.RunningTaskID
	}
	line.Detail = fmt.Sprintf("%s, %d pending of %d", running, stats.Pending, stats.MaxQueueSize)
	if !stats.Accepting {
		line.Severity = SeverityWarn
		line.Detail += ", not accepting"
	}
	return line
}
