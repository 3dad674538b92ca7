package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	OutputDir  string `toml:"output_dir"`
	StateDir   string `toml:"state_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Region carries the storefront and language passed through to the catalog
// and the wrapper backend.
type Region struct {
	Storefront string `toml:"storefront"`
	Language   string `toml:"language"`
}

// Catalog contains settings for the metadata API.
type Catalog struct {
	BaseURL        string `toml:"base_url"`
	Token          string `toml:"token"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Download contains pipeline behaviour for a single track.
type Download struct {
	DefaultQuality       string   `toml:"default_quality"`
	CodecPriority        []string `toml:"codec_priority"`
	CodecFallback        bool     `toml:"codec_fallback"`
	DecryptTimeout       int      `toml:"decrypt_timeout"`
	SegmentTimeout       int      `toml:"segment_timeout"`
	SaveLyrics           bool     `toml:"save_lyrics"`
	LyricsFormat         string   `toml:"lyrics_format"`
	EmbedCover           bool     `toml:"embed_cover"`
	CoverFormat          string   `toml:"cover_format"`
	CoverSize            string   `toml:"cover_size"`
	FailOnIntegrityCheck bool     `toml:"fail_on_integrity_check"`
	DurationTolerance    float64  `toml:"duration_tolerance"`
	SkipExisting         bool     `toml:"skip_existing"`
	FFmpegBinary         string   `toml:"ffmpeg_binary"`
	FFprobeBinary        string   `toml:"ffprobe_binary"`
}

// PathFormat holds the artifact layout templates.
type PathFormat struct {
	DirFormat  string `toml:"dir_format"`
	SongFormat string `toml:"song_format"`
}

// Queue contains admission limits and dispatch timing.
type Queue struct {
	MaxQueueSize        int `toml:"max_queue_size"`
	MaxTasksPerUser     int `toml:"max_tasks_per_user"`
	TaskTimeout         int `toml:"task_timeout"`
	ReadyTimeout        int `toml:"ready_timeout"`
	MaxRetries          int `toml:"max_retries"`
	RetryInitialBackoff int `toml:"retry_initial_backoff"`
	RetryMaxBackoff     int `toml:"retry_max_backoff"`
	PollInterval        int `toml:"poll_interval"`
	HistoryLimit        int `toml:"history_limit"`
}

// Wrapper describes how to reach and manage the decryption backend.
type Wrapper struct {
	Mode               string   `toml:"mode"`
	Address            string   `toml:"address"`
	Socket             string   `toml:"socket"`
	Secure             bool     `toml:"secure"`
	InsecureSkipVerify bool     `toml:"insecure_skip_verify"`
	AutoStart          bool     `toml:"auto_start"`
	AutoRestart        bool     `toml:"auto_restart"`
	MaxRestarts        int      `toml:"max_restarts"`
	Command            []string `toml:"command"`
	BuildCommand       []string `toml:"build_command"`
	Image              string   `toml:"image"`
	BuildContext       string   `toml:"build_context"`
	RequireAuth        bool     `toml:"require_auth"`
	ProbeInterval      int      `toml:"probe_interval"`
	ProbeTimeout       int      `toml:"probe_timeout"`
	FailureThreshold   int      `toml:"failure_threshold"`
	StartTimeout       int      `toml:"start_timeout"`
}

// Files controls artifact retention.
type Files struct {
	TTLHours             int `toml:"ttl_hours"`
	SweepIntervalMinutes int `toml:"sweep_interval_minutes"`
	MaxDeliverySizeMB    int `toml:"max_delivery_size_mb"`
	StagingMaxAgeHours   int `toml:"staging_max_age_hours"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	TaskSuccess    bool   `toml:"task_success"`
	TaskFailure    bool   `toml:"task_failure"`
	WrapperState   bool   `toml:"wrapper_state"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for trackrelay.
//
// Configuration sections by subsystem:
//   - Paths: staging, output and state directories plus API bind address
//   - Region: storefront and language passed to catalog and wrapper
//   - Catalog: metadata API endpoint and token
//   - Download: codec selection, lyrics, cover art and integrity checks
//   - Path: artifact layout templates
//   - Queue: admission limits, retries and dispatch timing
//   - Wrapper: decryption backend transport and supervision
//   - Files: artifact TTL, sweep cadence and delivery size cap
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Region        Region        `toml:"region"`
	Catalog       Catalog       `toml:"catalog"`
	Download      Download      `toml:"download"`
	Path          PathFormat    `toml:"path"`
	Queue         Queue         `toml:"queue"`
	Wrapper       Wrapper       `toml:"wrapper"`
	Files         Files         `toml:"files"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, "", false, fmt.Errorf("parse config: %s", strict.String())
			}
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("trackrelay.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.OutputDir, c.Paths.StateDir, c.LogDir()} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LogDir returns the directory holding daemon log files.
func (c *Config) LogDir() string {
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return ""
	}
	return filepath.Join(c.Paths.StateDir, "logs")
}

// QueueDBPath returns the SQLite database location.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.StateDir, "trackrelay.db")
}

// SocketPath returns the daemon IPC socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "trackrelay.sock")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "trackrelay.lock")
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "trackrelay.pid")
}

// WrapperSocketPath returns the unix socket used by a native wrapper backend.
func (c *Config) WrapperSocketPath() string {
	if strings.TrimSpace(c.Wrapper.Socket) != "" {
		return c.Wrapper.Socket
	}
	return filepath.Join(c.Paths.StateDir, "wrapper.sock")
}

// FFmpegBinary returns the ffmpeg executable used for muxing.
func (c *Config) FFmpegBinary() string {
	if bin := strings.TrimSpace(c.Download.FFmpegBinary); bin != "" {
		return bin
	}
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable used for verification.
func (c *Config) FFprobeBinary() string {
	if bin := strings.TrimSpace(c.Download.FFprobeBinary); bin != "" {
		return bin
	}
	return "ffprobe"
}

// ArtifactTTL returns how long persisted files live before the sweep removes them.
func (c *Config) ArtifactTTL() time.Duration {
	return time.Duration(c.Files.TTLHours) * time.Hour
}

// SweepInterval returns the cadence of the artifact sweep loop.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Files.SweepIntervalMinutes) * time.Minute
}

// MaxDeliveryBytes returns the size above which results are server-retained.
func (c *Config) MaxDeliveryBytes() int64 {
	return int64(c.Files.MaxDeliverySizeMB) * 1024 * 1024
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
