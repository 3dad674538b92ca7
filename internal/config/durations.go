package config

import "time"

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

// TaskTimeout bounds a single task from dispatch to terminal state.
func (c *Config) TaskTimeout() time.Duration { return seconds(c.Queue.TaskTimeout) }

// ReadyTimeout bounds how long dispatch waits for a healthy wrapper.
func (c *Config) ReadyTimeout() time.Duration { return seconds(c.Queue.ReadyTimeout) }

// PollInterval is the idle wake-up cadence of the scheduler worker.
func (c *Config) PollInterval() time.Duration { return seconds(c.Queue.PollInterval) }

// RetryBackoff returns the wait before retry number attempt (1-based),
// doubling from the initial backoff up to the configured maximum.
func (c *Config) RetryBackoff(attempt int) time.Duration {
	initial := seconds(c.Queue.RetryInitialBackoff)
	limit := seconds(c.Queue.RetryMaxBackoff)
	if attempt < 1 {
		attempt = 1
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	if delay > limit {
		return limit
	}
	return delay
}

// DecryptTimeout bounds the decrypt stream for one track.
func (c *Config) DecryptTimeout() time.Duration { return seconds(c.Download.DecryptTimeout) }

// SegmentTimeout bounds each encrypted segment download.
func (c *Config) SegmentTimeout() time.Duration { return seconds(c.Download.SegmentTimeout) }

// CatalogTimeout bounds catalog metadata requests.
func (c *Config) CatalogTimeout() time.Duration { return seconds(c.Catalog.RequestTimeout) }

// ProbeInterval is the wrapper health probe cadence.
func (c *Config) ProbeInterval() time.Duration { return seconds(c.Wrapper.ProbeInterval) }

// ProbeTimeout bounds a single wrapper health probe.
func (c *Config) ProbeTimeout() time.Duration { return seconds(c.Wrapper.ProbeTimeout) }

// StartTimeout bounds the starting phase of the wrapper backend.
func (c *Config) StartTimeout() time.Duration { return seconds(c.Wrapper.StartTimeout) }

// StagingMaxAge is the age after which orphaned work directories are removed.
func (c *Config) StagingMaxAge() time.Duration {
	return time.Duration(c.Files.StagingMaxAgeHours) * time.Hour
}

// NotificationTimeout bounds ntfy requests.
func (c *Config) NotificationTimeout() time.Duration {
	return seconds(c.Notifications.RequestTimeout)
}
