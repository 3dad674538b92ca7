package artifacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"trackrelay/internal/config"
	"trackrelay/internal/events"
	"trackrelay/internal/fileutil"
	"trackrelay/internal/logging"
	"trackrelay/internal/queue"
	"trackrelay/internal/services"
	"trackrelay/internal/staging"
)

// Artifact is a persisted output file tracked by the ledger.
type Artifact = queue.Artifact

const stageName = "persist"

// Manager persists finished files and enforces their time to live.
type Manager struct {
	store      *queue.Store
	hub        *events.Hub
	logger     *slog.Logger
	outputDir  string
	stagingDir string
	ttl        time.Duration
	stagingAge time.Duration
	now        func() time.Time

	mu     sync.Mutex
	active func() []string
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for expiry stamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithEvents publishes artifact_swept events to hub.
func WithEvents(hub *events.Hub) Option {
	return func(m *Manager) { m.hub = hub }
}

// NewManager constructs a Manager rooted at the configured output directory.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		logger:     logging.NewComponentLogger(logger, "artifacts"),
		outputDir:  filepath.Clean(cfg.Paths.OutputDir),
		stagingDir: cfg.Paths.StagingDir,
		ttl:        cfg.ArtifactTTL(),
		stagingAge: cfg.StagingMaxAge(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetActiveTasks registers the source of running task IDs whose staging
// directories must survive stale cleanup.
func (m *Manager) SetActiveTasks(fn func() []string) {
	m.mu.Lock()
	m.active = fn
	m.mu.Unlock()
}

// OutputDir returns the root under which artifacts are placed.
func (m *Manager) OutputDir() string { return m.outputDir }

// Resolve maps a relative artifact path to its absolute location, rejecting
// paths that would escape the output directory.
func (m *Manager) Resolve(relPath string) (string, error) {
	relPath = strings.TrimSpace(relPath)
	if relPath == "" {
		return "", services.Wrap(services.ErrValidation, stageName, "resolve path", "relative path is empty", nil)
	}
	if filepath.IsAbs(relPath) {
		return "", services.Wrap(services.ErrValidation, stageName, "resolve path", "path must be relative: "+relPath, nil)
	}
	target := filepath.Join(m.outputDir, relPath)
	if target == m.outputDir || !fileutil.WithinRoot(target, m.outputDir) {
		return "", services.Wrap(services.ErrValidation, stageName, "resolve path", "path escapes output directory: "+relPath, nil)
	}
	return target, nil
}

// PersistOption customizes a single Persist call.
type PersistOption func(*Artifact)

// WithCodec records the codec of the persisted file.
func WithCodec(codec string) PersistOption {
	return func(a *Artifact) { a.Codec = codec }
}

// Persist moves tempFile to relPath under the output directory and records
// the artifact with its expiry. The final path appears only once complete.
// A live artifact previously stored at the same path is superseded.
func (m *Manager) Persist(ctx context.Context, tempFile, taskID, relPath string, opts ...PersistOption) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, services.Wrap(services.ErrCancelled, stageName, "persist", "context done", err)
	}
	target, err := m.Resolve(relPath)
	if err != nil {
		return nil, err
	}

	previous, err := m.store.LiveArtifactByPath(ctx, target)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, stageName, "lookup artifact", "query artifact ledger", err)
	}

	size, err := fileutil.PlaceAtomic(tempFile, target, 0o644)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, stageName, "place file", "move output into place", err)
	}

	now := m.now().UTC()
	if err := ctx.Err(); err != nil {
		m.discard(context.WithoutCancel(ctx), taskID, target, previous, now)
		return nil, services.Wrap(services.ErrCancelled, stageName, "persist", "cancelled after placement", err)
	}

	artifact := &Artifact{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Path:      target,
		Size:      size,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	for _, opt := range opts {
		opt(artifact)
	}
	// A placed file must end up in the ledger or be removed again.
	recordCtx := context.WithoutCancel(ctx)
	if err := m.store.InsertArtifact(recordCtx, artifact); err != nil {
		m.discard(recordCtx, taskID, target, previous, now)
		return nil, services.Wrap(services.ErrTransient, stageName, "record artifact", "insert artifact", err)
	}
	if previous != nil {
		m.retire(recordCtx, previous, now)
	}
	m.logger.Info("artifact persisted",
		logging.TaskID(taskID),
		logging.String("artifact_id", artifact.ID),
		logging.String("path", target),
		logging.Int64("size_bytes", size),
		logging.String("expires_at", artifact.ExpiresAt.Format(time.RFC3339)),
		logging.String(logging.FieldEventType, "artifact_persisted"),
	)
	return artifact, nil
}

// discard removes a placed file that never made it into the ledger. The
// superseded artifact shared its path, so its file is gone as well.
func (m *Manager) discard(ctx context.Context, taskID, target string, previous *Artifact, now time.Time) {
	if err := fileutil.RemoveIfExists(target); err != nil {
		logging.WarnWithContext(m.logger, "failed to remove unrecorded output", "artifact_discard_failed",
			logging.TaskID(taskID),
			logging.String("path", target),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "delete the file manually"),
			logging.String(logging.FieldImpact, "file is not tracked and will not be swept"),
		)
		return
	}
	fileutil.PruneEmptyDirs(filepath.Dir(target), m.outputDir)
	if previous != nil {
		m.retire(ctx, previous, now)
	}
}

func (m *Manager) retire(ctx context.Context, previous *Artifact, now time.Time) {
	if _, err := m.store.MarkArtifactDeleted(ctx, previous.ID, now); err != nil {
		m.logger.Warn("failed to retire superseded artifact",
			logging.String("artifact_id", previous.ID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "artifact_supersede_failed"),
			logging.String(logging.FieldErrorHint, "run files clean to reconcile the ledger"),
			logging.String(logging.FieldImpact, "ledger lists a stale entry for this path"),
		)
	}
}

// Lookup returns the live artifact stored at path, which may be absolute or
// relative to the output directory. It returns nil when none exists.
func (m *Manager) Lookup(ctx context.Context, path string) (*Artifact, error) {
	if !filepath.IsAbs(path) {
		resolved, err := m.Resolve(path)
		if err != nil {
			return nil, err
		}
		path = resolved
	}
	return m.store.LiveArtifactByPath(ctx, filepath.Clean(path))
}

// Get returns the artifact with id, or nil when unknown.
func (m *Manager) Get(ctx context.Context, id string) (*Artifact, error) {
	return m.store.GetArtifact(ctx, id)
}

// List returns every live artifact ordered by creation time.
func (m *Manager) List(ctx context.Context) ([]*Artifact, error) {
	return m.store.ListArtifacts(ctx, queue.ArtifactFilter{})
}

// SweepExpired deletes artifacts whose expiry is at or before now. Repeated
// sweeps at the same instant are no-ops. It returns the removed paths.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) ([]string, error) {
	expired, err := m.store.ListArtifacts(ctx, queue.ArtifactFilter{ExpiresBefore: now})
	if err != nil {
		return nil, err
	}
	return m.remove(ctx, expired, "expired")
}

// Filter selects artifacts for ForceClean. All must be set explicitly to
// remove everything.
type Filter struct {
	TaskIDs     []string
	RequesterID string
	OlderThan   time.Duration
	All         bool
}

func (f Filter) empty() bool {
	return len(f.TaskIDs) == 0 && strings.TrimSpace(f.RequesterID) == "" && f.OlderThan <= 0
}

// ErrEmptyFilter is returned by ForceClean when no selector is set.
var ErrEmptyFilter = errors.New("force clean requires a task, requester, age, or all selector")

// ForceClean deletes artifacts matching filter regardless of expiry.
func (m *Manager) ForceClean(ctx context.Context, filter Filter) ([]string, error) {
	if !filter.All && filter.empty() {
		return nil, services.Wrap(services.ErrValidation, "clean", "force clean", "", ErrEmptyFilter)
	}
	query := queue.ArtifactFilter{TaskIDs: filter.TaskIDs}
	if requester := strings.TrimSpace(filter.RequesterID); requester != "" && !filter.All {
		tasks, err := m.store.ListTasks(ctx, queue.TaskFilter{RequesterID: requester})
		if err != nil {
			return nil, err
		}
		if len(tasks) == 0 {
			return nil, nil
		}
		for _, task := range tasks {
			query.TaskIDs = append(query.TaskIDs, task.ID)
		}
	}
	if filter.All {
		query = queue.ArtifactFilter{}
	}
	if filter.OlderThan > 0 {
		query.CreatedBefore = m.now().Add(-filter.OlderThan)
	}
	matches, err := m.store.ListArtifacts(ctx, query)
	if err != nil {
		return nil, err
	}
	return m.remove(ctx, matches, "forced")
}

func (m *Manager) remove(ctx context.Context, artifacts []*Artifact, reason string) ([]string, error) {
	var (
		removed []string
		errs    []error
	)
	for _, artifact := range artifacts {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := fileutil.RemoveIfExists(artifact.Path); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", artifact.Path, err))
			m.logger.Warn("failed to remove artifact file",
				logging.String("artifact_id", artifact.ID),
				logging.String("path", artifact.Path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "artifact_remove_failed"),
				logging.String(logging.FieldErrorHint, "check output_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		changed, err := m.store.MarkArtifactDeleted(ctx, artifact.ID, m.now().UTC())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fileutil.PruneEmptyDirs(filepath.Dir(artifact.Path), m.outputDir)
		if !changed {
			continue
		}
		removed = append(removed, artifact.Path)
		m.hub.Publish(events.Event{
			Type:    events.ArtifactSwept,
			TaskID:  artifact.TaskID,
			Message: "artifact removed",
			Fields: map[string]string{
				"artifact_id": artifact.ID,
				"path":        artifact.Path,
				"reason":      reason,
			},
		})
	}
	if len(removed) > 0 {
		m.logger.Info("artifacts removed",
			logging.Int("count", len(removed)),
			logging.String("reason", reason),
			logging.String(logging.FieldEventType, "artifact_sweep"),
		)
	}
	return removed, errors.Join(errs...)
}

// CleanStaging removes staging work directories older than the configured
// maximum age that do not belong to a running task.
func (m *Manager) CleanStaging(ctx context.Context) staging.CleanStaleResult {
	active := make(map[string]struct{})
	m.mu.Lock()
	source := m.active
	m.mu.Unlock()
	if source != nil {
		for _, id := range source() {
			active[id] = struct{}{}
		}
	}
	return staging.CleanStale(ctx, m.stagingDir, m.stagingAge, active, m.logger)
}

// Run sweeps expired artifacts and stale staging directories every interval
// until ctx is cancelled. A sweep runs immediately on entry.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		m.sweepOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) sweepOnce(ctx context.Context) {
	if _, err := m.SweepExpired(ctx, m.now()); err != nil && ctx.Err() == nil {
		m.logger.Warn("artifact sweep failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "artifact_sweep_failed"),
			logging.String(logging.FieldErrorHint, "check output_dir permissions and queue database"),
			logging.String(logging.FieldImpact, "expired files remain on disk until the next sweep"),
		)
	}
	m.CleanStaging(ctx)
}
