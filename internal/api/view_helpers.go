package api

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// TaskLabel returns a display label for a task: "Artist - Title" once the
// track is resolved, otherwise the track id or source link.
func TaskLabel(task TaskItem) string {
	title := strings.TrimSpace(task.Title)
	artist := strings.TrimSpace(task.Artist)
	switch {
	case title != "" && artist != "":
		return artist + " - " + title
	case title != "":
		return title
	case task.TrackID != "":
		return "track " + task.TrackID
	default:
		return task.SourceURL
	}
}

// Outcome summarises how a task ended, or its live stage.
func Outcome(task TaskItem) string {
	switch task.Status {
	case "queued":
		if task.Position > 0 {
			return "position " + itoa(task.Position)
		}
		return "waiting"
	case "running":
		if task.Stage != "" {
			return task.Stage
		}
		return "starting"
	case "succeeded":
		if task.DeliveryMode != "" && task.DeliveryMode != "inline" {
			return task.DeliveryMode
		}
		return "delivered"
	default:
		if task.ReasonCode != "" {
			return task.ReasonCode
		}
		return task.Status
	}
}

// HumanSize renders a byte count for tables.
func HumanSize(size int64) string {
	if size < 0 {
		size = 0
	}
	return humanize.IBytes(uint64(size))
}

// RelativeTime renders an API timestamp relative to now, or "-" when empty
// or unparsable.
func RelativeTime(value string) string {
	if value == "" {
		return "-"
	}
	t, err := time.Parse(dateTimeFormat, value)
	if err != nil {
		return "-"
	}
	return humanize.Time(t)
}

func itoa(n int) string {
	return humanize.Comma(int64(n))
}
