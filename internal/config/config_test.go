package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"trackrelay/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("TRACKRELAY_API_TOKEN", "env-token")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantStaging := filepath.Join(tempHome, ".local", "share", "trackrelay", "staging")
	if cfg.Paths.StagingDir != wantStaging {
		t.Fatalf("unexpected staging dir: got %q want %q", cfg.Paths.StagingDir, wantStaging)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7488" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Paths.APIToken != "env-token" {
		t.Fatalf("expected api token from env, got %q", cfg.Paths.APIToken)
	}
	if cfg.Queue.MaxTasksPerUser != 2 || cfg.Queue.MaxQueueSize != 10 {
		t.Fatalf("unexpected queue limits: %+v", cfg.Queue)
	}
	if cfg.Wrapper.Mode != config.WrapperModeNative {
		t.Fatalf("unexpected wrapper mode %q", cfg.Wrapper.Mode)
	}
	if got := cfg.WrapperSocketPath(); got != filepath.Join(cfg.Paths.StateDir, "wrapper.sock") {
		t.Fatalf("unexpected wrapper socket %q", got)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StagingDir, cfg.Paths.OutputDir, cfg.Paths.StateDir, cfg.LogDir()} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "trackrelay.toml")

	type payload struct {
		Region struct {
			Storefront string `toml:"storefront"`
			Language   string `toml:"language"`
		} `toml:"region"`
		Download struct {
			DefaultQuality string   `toml:"default_quality"`
			CodecPriority  []string `toml:"codec_priority"`
		} `toml:"download"`
		Queue struct {
			MaxTasksPerUser int `toml:"max_tasks_per_user"`
		} `toml:"queue"`
		Wrapper struct {
			Mode    string `toml:"mode"`
			Address string `toml:"address"`
		} `toml:"wrapper"`
	}
	custom := payload{}
	custom.Region.Storefront = "US"
	custom.Region.Language = "en-US"
	custom.Download.DefaultQuality = "AAC"
	custom.Download.CodecPriority = []string{"ec3", "EC3", " aac "}
	custom.Queue.MaxTasksPerUser = 5
	custom.Wrapper.Mode = "remote"
	custom.Wrapper.Address = "wrapper.example.com:443"
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Region.Storefront != "us" {
		t.Fatalf("expected lowercase storefront, got %q", cfg.Region.Storefront)
	}
	if cfg.Download.DefaultQuality != "aac" {
		t.Fatalf("expected normalized quality, got %q", cfg.Download.DefaultQuality)
	}
	if strings.Join(cfg.Download.CodecPriority, ",") != "ec3,aac" {
		t.Fatalf("unexpected codec priority %v", cfg.Download.CodecPriority)
	}
	if cfg.Queue.MaxTasksPerUser != 5 {
		t.Fatalf("expected max_tasks_per_user 5, got %d", cfg.Queue.MaxTasksPerUser)
	}
	if cfg.Queue.MaxQueueSize != config.Default().Queue.MaxQueueSize {
		t.Fatalf("expected untouched default queue size, got %d", cfg.Queue.MaxQueueSize)
	}
	if cfg.Wrapper.Mode != config.WrapperModeRemote {
		t.Fatalf("expected remote wrapper mode, got %q", cfg.Wrapper.Mode)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "trackrelay.toml")
	if err := os.WriteFile(configPath, []byte("[queue]\nmax_parallel = 4\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestEnvFallbacksOnlyFillEmptyValues(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "trackrelay.toml")
	contents := "[catalog]\ntoken = \"file-token\"\n"
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TRACKRELAY_CATALOG_TOKEN", "env-token")
	t.Setenv("TRACKRELAY_NTFY_TOPIC", "https://ntfy.example/relay")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Catalog.Token != "file-token" {
		t.Errorf("expected catalog token from file, got %q", cfg.Catalog.Token)
	}
	if cfg.Notifications.NtfyTopic != "https://ntfy.example/relay" {
		t.Errorf("expected ntfy topic from env, got %q", cfg.Notifications.NtfyTopic)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}

	cfg := config.Default()
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.Paths.StagingDir, "trackrelay") {
		t.Fatalf("expected staging dir to contain trackrelay, got %q", cfg.Paths.StagingDir)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config should validate: %v", err)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero queue size", func(c *config.Config) { c.Queue.MaxQueueSize = 0 }, "queue.max_queue_size"},
		{"zero per-user limit", func(c *config.Config) { c.Queue.MaxTasksPerUser = 0 }, "queue.max_tasks_per_user"},
		{"negative retries", func(c *config.Config) { c.Queue.MaxRetries = -1 }, "queue.max_retries"},
		{"backoff inverted", func(c *config.Config) { c.Queue.RetryMaxBackoff = 0; c.Queue.RetryInitialBackoff = 5 }, "queue.retry_max_backoff"},
		{"unknown quality", func(c *config.Config) { c.Download.DefaultQuality = "flac" }, "download.default_quality"},
		{"unknown priority codec", func(c *config.Config) { c.Download.CodecPriority = []string{"opus"} }, "download.codec_priority"},
		{"bad cover size", func(c *config.Config) { c.Download.CoverSize = "big" }, "download.cover_size"},
		{"bad language", func(c *config.Config) { c.Region.Language = "not a tag!" }, "region.language"},
		{"bad storefront", func(c *config.Config) { c.Region.Storefront = "usa" }, "region.storefront"},
		{"bad wrapper mode", func(c *config.Config) { c.Wrapper.Mode = "docker" }, "wrapper.mode"},
		{"remote without port", func(c *config.Config) { c.Wrapper.Mode = "remote"; c.Wrapper.Address = "host" }, "wrapper.address"},
		{"probe timeout too long", func(c *config.Config) { c.Wrapper.ProbeTimeout = 60 }, "wrapper.probe_timeout"},
		{"zero ttl", func(c *config.Config) { c.Files.TTLHours = 0 }, "files.ttl_hours"},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"song format with slash", func(c *config.Config) { c.Path.SongFormat = "{album}/{title}" }, "path.song_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestRetryBackoffDoublesUpToMax(t *testing.T) {
	cfg := config.Default()
	cfg.Queue.RetryInitialBackoff = 2
	cfg.Queue.RetryMaxBackoff = 10

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, expected := range want {
		if got := cfg.RetryBackoff(i + 1); got != expected {
			t.Fatalf("attempt %d: got %s want %s", i+1, got, expected)
		}
	}
}

func TestMaxDeliveryBytes(t *testing.T) {
	cfg := config.Default()
	cfg.Files.MaxDeliverySizeMB = 3
	if got := cfg.MaxDeliveryBytes(); got != 3*1024*1024 {
		t.Fatalf("unexpected byte cap %d", got)
	}
}
