package config

const (
	defaultConfigPath           = "~/.config/trackrelay/config.toml"
	defaultStagingDir           = "~/.local/share/trackrelay/staging"
	defaultOutputDir            = "~/.local/share/trackrelay/output"
	defaultStateDir             = "~/.local/share/trackrelay/state"
	defaultAPIBind              = "127.0.0.1:7488"
	defaultStorefront           = "cn"
	defaultLanguage             = "zh-Hans-CN"
	defaultCatalogBaseURL       = "https://amp-api.music.apple.com"
	defaultCatalogTimeout       = 30
	defaultQuality              = "alac"
	defaultDecryptTimeout       = 600
	defaultSegmentTimeout       = 60
	defaultCoverFormat          = "jpg"
	defaultLyricsFormat         = "lrc"
	defaultCoverSize            = "1200x1200"
	defaultDurationTolerance    = 2.0
	defaultDirFormat            = "{album_artist}/{album}"
	defaultSongFormat           = "{disc}-{track:02} {title}"
	defaultMaxQueueSize         = 10
	defaultMaxTasksPerUser      = 2
	defaultTaskTimeout          = 300
	defaultReadyTimeout         = 60
	defaultMaxRetries           = 2
	defaultRetryInitialBackoff  = 1
	defaultRetryMaxBackoff      = 60
	defaultPollInterval         = 1
	defaultHistoryLimit         = 200
	defaultWrapperMode          = WrapperModeNative
	defaultWrapperAddress       = "127.0.0.1:18923"
	defaultWrapperImage         = "trackrelay-wrapper:latest"
	defaultWrapperMaxRestarts   = 5
	defaultWrapperProbeInterval = 30
	defaultWrapperProbeTimeout  = 5
	defaultWrapperFailureLimit  = 3
	defaultWrapperStartTimeout  = 60
	defaultTTLHours             = 24
	defaultSweepIntervalMinutes = 60
	defaultMaxDeliverySizeMB    = 200
	defaultStagingMaxAgeHours   = 6
	defaultNotifyRequestTimeout = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
	defaultNtfyTopicEnv         = "TRACKRELAY_NTFY_TOPIC"
	defaultAPITokenEnv          = "TRACKRELAY_API_TOKEN"
	defaultCatalogTokenEnv      = "TRACKRELAY_CATALOG_TOKEN"
)

// Wrapper transport modes.
const (
	WrapperModeNative = "native"
	WrapperModeRemote = "remote"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			OutputDir:  defaultOutputDir,
			StateDir:   defaultStateDir,
			APIBind:    defaultAPIBind,
		},
		Region: Region{
			Storefront: defaultStorefront,
			Language:   defaultLanguage,
		},
		Catalog: Catalog{
			BaseURL:        defaultCatalogBaseURL,
			RequestTimeout: defaultCatalogTimeout,
		},
		Download: Download{
			DefaultQuality:       defaultQuality,
			CodecPriority:        []string{"alac", "ec3", "ac3", "aac"},
			CodecFallback:        true,
			DecryptTimeout:       defaultDecryptTimeout,
			SegmentTimeout:       defaultSegmentTimeout,
			SaveLyrics:           true,
			LyricsFormat:         defaultLyricsFormat,
			EmbedCover:           true,
			CoverFormat:          defaultCoverFormat,
			CoverSize:            defaultCoverSize,
			FailOnIntegrityCheck: true,
			DurationTolerance:    defaultDurationTolerance,
			SkipExisting:         true,
		},
		Path: PathFormat{
			DirFormat:  defaultDirFormat,
			SongFormat: defaultSongFormat,
		},
		Queue: Queue{
			MaxQueueSize:        defaultMaxQueueSize,
			MaxTasksPerUser:     defaultMaxTasksPerUser,
			TaskTimeout:         defaultTaskTimeout,
			ReadyTimeout:        defaultReadyTimeout,
			MaxRetries:          defaultMaxRetries,
			RetryInitialBackoff: defaultRetryInitialBackoff,
			RetryMaxBackoff:     defaultRetryMaxBackoff,
			PollInterval:        defaultPollInterval,
			HistoryLimit:        defaultHistoryLimit,
		},
		Wrapper: Wrapper{
			Mode:             defaultWrapperMode,
			Address:          defaultWrapperAddress,
			AutoStart:        true,
			AutoRestart:      true,
			MaxRestarts:      defaultWrapperMaxRestarts,
			Image:            defaultWrapperImage,
			ProbeInterval:    defaultWrapperProbeInterval,
			ProbeTimeout:     defaultWrapperProbeTimeout,
			FailureThreshold: defaultWrapperFailureLimit,
			StartTimeout:     defaultWrapperStartTimeout,
		},
		Files: Files{
			TTLHours:             defaultTTLHours,
			SweepIntervalMinutes: defaultSweepIntervalMinutes,
			MaxDeliverySizeMB:    defaultMaxDeliverySizeMB,
			StagingMaxAgeHours:   defaultStagingMaxAgeHours,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			TaskSuccess:    true,
			TaskFailure:    true,
			WrapperState:   true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
