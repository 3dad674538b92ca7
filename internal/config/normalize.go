package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRegion()
	c.normalizeCatalog()
	c.normalizeDownload()
	c.normalizePathFormat()
	if err := c.normalizeWrapper(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv(defaultAPITokenEnv); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeRegion() {
	c.Region.Storefront = strings.ToLower(strings.TrimSpace(c.Region.Storefront))
	if c.Region.Storefront == "" {
		c.Region.Storefront = defaultStorefront
	}
	c.Region.Language = strings.TrimSpace(c.Region.Language)
	if c.Region.Language == "" {
		c.Region.Language = defaultLanguage
	}
}

func (c *Config) normalizeCatalog() {
	c.Catalog.BaseURL = strings.TrimRight(strings.TrimSpace(c.Catalog.BaseURL), "/")
	if c.Catalog.BaseURL == "" {
		c.Catalog.BaseURL = defaultCatalogBaseURL
	}
	if c.Catalog.Token == "" {
		if value, ok := os.LookupEnv(defaultCatalogTokenEnv); ok {
			c.Catalog.Token = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeDownload() {
	c.Download.DefaultQuality = strings.ToLower(strings.TrimSpace(c.Download.DefaultQuality))
	if c.Download.DefaultQuality == "" {
		c.Download.DefaultQuality = defaultQuality
	}
	seen := make(map[string]struct{}, len(c.Download.CodecPriority))
	priority := make([]string, 0, len(c.Download.CodecPriority))
	for _, codec := range c.Download.CodecPriority {
		codec = strings.ToLower(strings.TrimSpace(codec))
		if codec == "" {
			continue
		}
		if _, ok := seen[codec]; ok {
			continue
		}
		seen[codec] = struct{}{}
		priority = append(priority, codec)
	}
	c.Download.CodecPriority = priority
	c.Download.LyricsFormat = strings.ToLower(strings.TrimSpace(c.Download.LyricsFormat))
	if c.Download.LyricsFormat == "" {
		c.Download.LyricsFormat = defaultLyricsFormat
	}
	c.Download.CoverFormat = strings.ToLower(strings.TrimSpace(c.Download.CoverFormat))
	if c.Download.CoverFormat == "" {
		c.Download.CoverFormat = defaultCoverFormat
	}
	c.Download.CoverSize = strings.ToLower(strings.TrimSpace(c.Download.CoverSize))
	if c.Download.CoverSize == "" {
		c.Download.CoverSize = defaultCoverSize
	}
	c.Download.FFmpegBinary = strings.TrimSpace(c.Download.FFmpegBinary)
	c.Download.FFprobeBinary = strings.TrimSpace(c.Download.FFprobeBinary)
}

func (c *Config) normalizePathFormat() {
	c.Path.DirFormat = strings.Trim(strings.TrimSpace(c.Path.DirFormat), "/")
	if c.Path.DirFormat == "" {
		c.Path.DirFormat = defaultDirFormat
	}
	c.Path.SongFormat = strings.TrimSpace(c.Path.SongFormat)
	if c.Path.SongFormat == "" {
		c.Path.SongFormat = defaultSongFormat
	}
}

func (c *Config) normalizeWrapper() error {
	c.Wrapper.Mode = strings.ToLower(strings.TrimSpace(c.Wrapper.Mode))
	if c.Wrapper.Mode == "" {
		c.Wrapper.Mode = defaultWrapperMode
	}
	c.Wrapper.Address = strings.TrimSpace(c.Wrapper.Address)
	if c.Wrapper.Address == "" && c.Wrapper.Mode == WrapperModeNative {
		c.Wrapper.Address = defaultWrapperAddress
	}
	if socket := strings.TrimSpace(c.Wrapper.Socket); socket != "" {
		expanded, err := expandPath(socket)
		if err != nil {
			return fmt.Errorf("wrapper.socket: %w", err)
		}
		c.Wrapper.Socket = expanded
	}
	if ctx := strings.TrimSpace(c.Wrapper.BuildContext); ctx != "" {
		expanded, err := expandPath(ctx)
		if err != nil {
			return fmt.Errorf("wrapper.build_context: %w", err)
		}
		c.Wrapper.BuildContext = expanded
	}
	c.Wrapper.Image = strings.TrimSpace(c.Wrapper.Image)
	if c.Wrapper.Image == "" {
		c.Wrapper.Image = defaultWrapperImage
	}
	c.Wrapper.Command = trimArgs(c.Wrapper.Command)
	c.Wrapper.BuildCommand = trimArgs(c.Wrapper.BuildCommand)
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv(defaultNtfyTopicEnv); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format == "" {
		format = defaultLogFormat
	}
	c.Logging.Format = format

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}

func trimArgs(args []string) []string {
	if len(args) == 0 {
		return nil
	}
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
