package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"trackrelay/internal/artifacts"
	"trackrelay/internal/catalog"
	"trackrelay/internal/config"
	"trackrelay/internal/logging"
	"trackrelay/internal/media/ffprobe"
	"trackrelay/internal/media/mux"
	"trackrelay/internal/services"
	"trackrelay/internal/staging"
	"trackrelay/internal/wrapper"
)

// Catalog resolves song metadata and artwork.
type Catalog interface {
	Song(ctx context.Context, songID, storefront string) (*catalog.Song, error)
	Cover(ctx context.Context, artworkURL string) ([]byte, error)
}

// Backend is the part of the wrapper client the pipeline calls.
type Backend interface {
	M3U8(ctx context.Context, adamID string) (string, error)
	Lyrics(ctx context.Context, adamID, language, storefront string) (string, error)
	Decrypt(ctx context.Context, header wrapper.DecryptHeader, src wrapper.SampleSource, dst wrapper.SampleSink) (int, error)
}

// Muxer writes the final container.
type Muxer interface {
	Mux(ctx context.Context, req mux.Request) error
}

// Artifacts places finished files under the output directory.
type Artifacts interface {
	Persist(ctx context.Context, tempFile, taskID, relPath string, opts ...artifacts.PersistOption) (*artifacts.Artifact, error)
	Lookup(ctx context.Context, path string) (*artifacts.Artifact, error)
}

// ProbeFunc inspects a media file with ffprobe.
type ProbeFunc func(ctx context.Context, binary, path string) (ffprobe.Result, error)

// Dependencies are the collaborators an Engine drives. Catalog, Backend and
// Artifacts are required; the rest default to the real implementations.
type Dependencies struct {
	Catalog   Catalog
	Backend   Backend
	Artifacts Artifacts
	Muxer     Muxer
	Probe     ProbeFunc
	HTTP      catalog.HTTPDoer
}

// Engine runs the per-task stage sequence. It holds no task state between
// runs and is safe for sequential reuse.
type Engine struct {
	cfg       *config.Config
	catalog   Catalog
	backend   Backend
	artifacts Artifacts
	muxer     Muxer
	probe     ProbeFunc
	http      catalog.HTTPDoer
	layout    Layout
	logger    *slog.Logger
}

// NewEngine validates deps and builds an engine.
func NewEngine(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("pipeline: config is required")
	}
	if deps.Catalog == nil || deps.Backend == nil || deps.Artifacts == nil {
		return nil, errors.New("pipeline: catalog, backend and artifacts are required")
	}
	logger = logging.NewComponentLogger(logger, "pipeline")
	engine := &Engine{
		cfg:       cfg,
		catalog:   deps.Catalog,
		backend:   deps.Backend,
		artifacts: deps.Artifacts,
		muxer:     deps.Muxer,
		probe:     deps.Probe,
		http:      deps.HTTP,
		layout:    Layout{DirFormat: cfg.Path.DirFormat, SongFormat: cfg.Path.SongFormat},
		logger:    logger,
	}
	if engine.muxer == nil {
		engine.muxer = mux.NewMuxer(cfg.FFmpegBinary(), logger)
	}
	if engine.probe == nil {
		engine.probe = ffprobe.Inspect
	}
	if engine.http == nil {
		engine.http = http.DefaultClient
	}
	return engine, nil
}

// execution carries the state of one Run.
type execution struct {
	engine   *Engine
	job      Job
	observer Observer
	logger   *slog.Logger
	workDir  string

	stage      string
	storefront string
	song       *catalog.Song
	lyrics     string
	coverPath  string
	plan       *mediaPlan
	segments   []string
	audioPath  string
	outputPath string
	result     Result
}

// Run executes every stage in order for job. The context is checked before
// each stage; cancelling it unwinds the run, removes the work directory and
// returns a StageError with ReasonCancelled. Every error returned is a
// *StageError.
func (e *Engine) Run(ctx context.Context, job Job, observer Observer) (Result, error) {
	if observer == nil {
		observer = ObserverFunc(func(Update) {})
	}
	ctx = services.WithTaskID(ctx, job.TaskID)
	ctx = services.WithRequesterID(ctx, job.RequesterID)

	x := &execution{
		engine:   e,
		job:      job,
		observer: observer,
		logger:   logging.WithContext(ctx, e.logger),
		workDir:  staging.TaskDir(e.cfg.Paths.StagingDir, job.TaskID),
	}
	if err := os.MkdirAll(x.workDir, 0o755); err != nil {
		return Result{}, x.fail(ctx, StageResolve, fatal(StageResolve, ReasonInternal, fmt.Errorf("create work dir: %w", err)))
	}
	defer x.cleanup()

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{StageResolve, x.resolve},
		{StageLyrics, x.fetchExtras},
		{StageManifest, x.resolveManifest},
		{StageDownload, x.download},
		{StageDecrypt, x.decrypt},
		{StageMux, x.mux},
		{StageVerify, x.verify},
		{StagePersist, x.persist},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return Result{}, x.fail(ctx, step.name, cancelled(step.name, err))
		}
		x.enter(step.name)
		if err := step.run(services.WithStage(ctx, step.name)); err != nil {
			return Result{}, x.fail(ctx, step.name, err)
		}
		if x.result.Reused {
			break
		}
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "pipeline_complete"),
		logging.String("track_id", x.result.TrackID),
		logging.String("codec", x.result.Codec),
		logging.String("delivery_mode", string(x.result.DeliveryMode)),
		logging.Bool("reused", x.result.Reused),
	}
	if x.result.Artifact != nil {
		attrs = append(attrs,
			logging.String("artifact_id", x.result.Artifact.ID),
			logging.String("path", x.result.Artifact.Path),
			logging.Int64("size_bytes", x.result.Artifact.Size),
		)
	}
	x.logger.Info("pipeline completed", logging.Args(attrs...)...)
	return x.result, nil
}

func (x *execution) enter(stage string) {
	x.stage = stage
	x.logger.Debug("stage started",
		logging.Stage(stage),
		logging.String(logging.FieldEventType, "stage_start"),
	)
	x.observe("")
}

func (x *execution) observe(message string) {
	update := Update{
		Stage:   x.stage,
		TrackID: x.result.TrackID,
		Codec:   x.result.Codec,
		Message: message,
	}
	if x.song != nil {
		update.Title = x.song.Title
		update.Artist = x.song.Artist
	}
	x.observer.Observe(update)
}

// fail classifies err, lets cancellation win over whatever the stage saw,
// and logs the outcome.
func (x *execution) fail(ctx context.Context, stage string, err error) *StageError {
	stageErr := Classify(stage, err)
	if ctxErr := ctx.Err(); ctxErr != nil && !stageErr.Cancelled() {
		stageErr = cancelled(stage, errors.Join(ctxErr, err))
	}
	attrs := []logging.Attr{
		logging.Stage(stage),
		logging.ReasonCode(stageErr.Reason),
		logging.Bool("retryable", stageErr.Retryable),
		logging.Error(stageErr.Err),
	}
	switch {
	case stageErr.Cancelled():
		x.logger.Info("pipeline cancelled", logging.Args(append(attrs,
			logging.String(logging.FieldEventType, "pipeline_cancelled"))...)...)
	case stageErr.Retryable:
		logging.WarnWithContext(x.logger, "pipeline stage failed", "stage_retryable_failure", append(attrs,
			logging.String(logging.FieldErrorHint, hintFor(stageErr.Reason)),
			logging.String(logging.FieldImpact, "task will be retried if attempts remain"),
		)...)
	default:
		logging.ErrorWithContext(x.logger, "pipeline stage failed", "stage_failure", append(attrs,
			logging.String(logging.FieldErrorHint, hintFor(stageErr.Reason)),
		)...)
	}
	return stageErr
}

func (x *execution) cleanup() {
	if err := os.RemoveAll(x.workDir); err != nil {
		logging.WarnWithContext(x.logger, "failed to remove work directory", "workdir_cleanup_failed",
			logging.String("path", x.workDir),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the staging sweep removes it later"),
			logging.String(logging.FieldImpact, "temporary files occupy disk until the sweep"),
		)
	}
}

func hintFor(reason string) string {
	switch reason {
	case ReasonInvalidURL, ReasonNotSingleTrack:
		return "submit a link to a single song"
	case ReasonTrackNotFound:
		return "check the link and storefront"
	case ReasonRegionUnavailable:
		return "the track is not licensed in this storefront"
	case ReasonCatalogUnavailable:
		return "check catalog.base_url, catalog.token and network access"
	case ReasonUnsupportedFormat:
		return "request another codec or enable download.codec_fallback"
	case ReasonManifestInvalid, ReasonManifestUnavailable:
		return "the playlist could not be fetched or parsed; retry later"
	case ReasonSegmentDownload:
		return "check network access to the media CDN"
	case ReasonSessionInvalid:
		return "log in again with trackrelay wrapper login"
	case ReasonKeyUnavailable:
		return "the backend account cannot decrypt this track"
	case ReasonDecryptFailed:
		return "check the wrapper with trackrelay wrapper status"
	case ReasonMuxFailed:
		return "check the ffmpeg installation and the wrapper log"
	case ReasonIntegrityFailed:
		return "inspect the output with ffprobe or disable download.fail_on_integrity_check"
	case ReasonPersistFailed:
		return "check free space and permissions of paths.output_dir"
	default:
		return "see the daemon log for details"
	}
}
