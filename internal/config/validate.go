package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// SupportedCodecs lists the codec names accepted for download.default_quality
// and download.codec_priority.
var SupportedCodecs = []string{"alac", "ec3", "ac3", "aac", "aac-binaural", "aac-downmix"}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRegion(); err != nil {
		return err
	}
	if err := c.validateCatalog(); err != nil {
		return err
	}
	if err := c.validateDownload(); err != nil {
		return err
	}
	if err := c.validatePathFormat(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateWrapper(); err != nil {
		return err
	}
	if err := c.validateFiles(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRegion() error {
	if len(c.Region.Storefront) != 2 {
		return errors.New("region.storefront must be a two-letter storefront code")
	}
	if _, err := language.Parse(c.Region.Language); err != nil {
		return fmt.Errorf("region.language must be a BCP 47 language tag: %w", err)
	}
	return nil
}

func (c *Config) validateCatalog() error {
	parsed, err := url.Parse(c.Catalog.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("catalog.base_url must be an absolute URL")
	}
	if c.Catalog.RequestTimeout <= 0 {
		return errors.New("catalog.request_timeout must be positive (seconds)")
	}
	return nil
}

func (c *Config) validateDownload() error {
	if !slices.Contains(SupportedCodecs, c.Download.DefaultQuality) {
		return fmt.Errorf("download.default_quality must be one of %s", strings.Join(SupportedCodecs, ", "))
	}
	for _, codec := range c.Download.CodecPriority {
		if !slices.Contains(SupportedCodecs, codec) {
			return fmt.Errorf("download.codec_priority contains unknown codec %q", codec)
		}
	}
	if c.Download.CodecFallback && len(c.Download.CodecPriority) == 0 {
		return errors.New("download.codec_priority must list at least one codec when download.codec_fallback is true")
	}
	switch c.Download.LyricsFormat {
	case "lrc", "ttml":
	default:
		return errors.New("download.lyrics_format must be lrc or ttml")
	}
	switch c.Download.CoverFormat {
	case "jpg", "png":
	default:
		return errors.New("download.cover_format must be jpg or png")
	}
	if !validCoverSize(c.Download.CoverSize) {
		return errors.New("download.cover_size must look like 1200x1200")
	}
	if c.Download.DurationTolerance < 0 {
		return errors.New("download.duration_tolerance must be >= 0")
	}
	return ensurePositive(map[string]int{
		"download.decrypt_timeout": c.Download.DecryptTimeout,
		"download.segment_timeout": c.Download.SegmentTimeout,
	})
}

func (c *Config) validatePathFormat() error {
	if !strings.Contains(c.Path.SongFormat, "{") {
		return errors.New("path.song_format must reference at least one track field")
	}
	if strings.Contains(c.Path.SongFormat, "/") {
		return errors.New("path.song_format must not contain path separators")
	}
	if strings.Contains(c.Path.DirFormat, "..") {
		return errors.New("path.dir_format must not traverse parent directories")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if err := ensurePositive(map[string]int{
		"queue.max_queue_size":        c.Queue.MaxQueueSize,
		"queue.max_tasks_per_user":    c.Queue.MaxTasksPerUser,
		"queue.task_timeout":          c.Queue.TaskTimeout,
		"queue.ready_timeout":         c.Queue.ReadyTimeout,
		"queue.retry_initial_backoff": c.Queue.RetryInitialBackoff,
		"queue.retry_max_backoff":     c.Queue.RetryMaxBackoff,
		"queue.poll_interval":         c.Queue.PollInterval,
	}); err != nil {
		return err
	}
	if c.Queue.MaxRetries < 0 {
		return errors.New("queue.max_retries must be >= 0")
	}
	if c.Queue.RetryMaxBackoff < c.Queue.RetryInitialBackoff {
		return errors.New("queue.retry_max_backoff must be >= queue.retry_initial_backoff")
	}
	if c.Queue.HistoryLimit < 0 {
		return errors.New("queue.history_limit must be >= 0")
	}
	return nil
}

func (c *Config) validateWrapper() error {
	switch c.Wrapper.Mode {
	case WrapperModeNative:
	case WrapperModeRemote:
		if c.Wrapper.Address == "" {
			return errors.New("wrapper.address must be set when wrapper.mode is remote")
		}
		if _, _, err := net.SplitHostPort(c.Wrapper.Address); err != nil {
			return fmt.Errorf("wrapper.address must be host:port: %w", err)
		}
	default:
		return errors.New("wrapper.mode must be native or remote")
	}
	if c.Wrapper.MaxRestarts < 0 {
		return errors.New("wrapper.max_restarts must be >= 0")
	}
	if err := ensurePositive(map[string]int{
		"wrapper.probe_interval":    c.Wrapper.ProbeInterval,
		"wrapper.probe_timeout":     c.Wrapper.ProbeTimeout,
		"wrapper.failure_threshold": c.Wrapper.FailureThreshold,
		"wrapper.start_timeout":     c.Wrapper.StartTimeout,
	}); err != nil {
		return err
	}
	if c.Wrapper.ProbeTimeout > c.Wrapper.ProbeInterval {
		return errors.New("wrapper.probe_timeout must not exceed wrapper.probe_interval")
	}
	return nil
}

func (c *Config) validateFiles() error {
	if c.Files.StagingMaxAgeHours < 0 {
		return errors.New("files.staging_max_age_hours must be >= 0")
	}
	return ensurePositive(map[string]int{
		"files.ttl_hours":              c.Files.TTLHours,
		"files.sweep_interval_minutes": c.Files.SweepIntervalMinutes,
		"files.max_delivery_size_mb":   c.Files.MaxDeliverySizeMB,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return errors.New("logging.format must be console or json")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.New("logging.level must be debug, info, warn, or error")
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	return nil
}

func validCoverSize(value string) bool {
	width, height, ok := strings.Cut(value, "x")
	if !ok {
		return false
	}
	return isDigits(width) && isDigits(height)
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func ensurePositive(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
