package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"trackrelay/internal/artifacts"
	"trackrelay/internal/catalog"
	"trackrelay/internal/logging"
	"trackrelay/internal/media/mux"
	"trackrelay/internal/queue"
	"trackrelay/internal/services"
	"trackrelay/internal/wrapper"
)

func (x *execution) resolve(ctx context.Context) error {
	ref, err := catalog.ParseTrackURL(x.job.SourceURL)
	switch {
	case errors.Is(err, catalog.ErrNotSingleTrack):
		return fatal(StageResolve, ReasonNotSingleTrack, err)
	case err != nil:
		return fatal(StageResolve, ReasonInvalidURL, err)
	}

	x.storefront = firstNonEmpty(x.job.Storefront, ref.Storefront, x.engine.cfg.Region.Storefront)
	x.result.TrackID = ref.ID
	x.result.Codec = firstNonEmpty(x.job.Quality, x.engine.cfg.Download.DefaultQuality)

	song, err := x.engine.catalog.Song(ctx, ref.ID, x.storefront)
	switch {
	case errors.Is(err, catalog.ErrRegionUnavailable):
		return fatal(StageResolve, ReasonRegionUnavailable, err)
	case errors.Is(err, services.ErrNotFound):
		return fatal(StageResolve, ReasonTrackNotFound, err)
	case err != nil && services.IsRetryable(err):
		return retryable(StageResolve, ReasonCatalogUnavailable, err)
	case err != nil:
		return fatal(StageResolve, ReasonCatalogUnavailable, err)
	}
	x.song = song
	x.result.Song = song
	x.logger.Info("track resolved",
		logging.String(logging.FieldEventType, "track_resolved"),
		logging.String("track_id", ref.ID),
		logging.String("storefront", x.storefront),
		logging.String("title", song.Title),
		logging.String("artist", song.Artist),
	)
	x.observe("resolved " + song.Title)

	if !x.engine.cfg.Download.SkipExisting || x.job.Force {
		return nil
	}
	relPath := x.engine.layout.RelPath(song, x.result.Codec)
	existing, err := x.engine.artifacts.Lookup(ctx, relPath)
	if err != nil {
		// A failed lookup only costs a fresh download.
		x.logger.Debug("existing artifact lookup failed", logging.Error(err))
		return nil
	}
	if existing == nil || !existing.Live() {
		return nil
	}
	if _, err := os.Stat(existing.Path); err != nil {
		return nil
	}
	x.result.Artifact = existing
	x.result.Reused = true
	x.result.DeliveryMode = x.deliveryMode(existing.Size)
	x.logger.Info("reusing existing artifact",
		logging.String(logging.FieldEventType, "artifact_reused"),
		logging.String("artifact_id", existing.ID),
		logging.String("path", existing.Path),
	)
	return nil
}

// fetchExtras collects lyrics and cover art. Both are optional and never fail
// the run.
func (x *execution) fetchExtras(ctx context.Context) error {
	cfg := x.engine.cfg
	if cfg.Download.SaveLyrics && flagEnabled(x.job.Lyrics) && x.song.HasLyrics {
		x.fetchLyrics(ctx)
	}
	if cfg.Download.EmbedCover && flagEnabled(x.job.Cover) && x.song.ArtworkURL != "" {
		x.fetchCover(ctx)
	}
	return ctx.Err()
}

func (x *execution) fetchLyrics(ctx context.Context) {
	raw, err := x.engine.backend.Lyrics(ctx, x.result.TrackID, x.engine.cfg.Region.Language, x.storefront)
	if err == nil && strings.TrimSpace(raw) == "" {
		err = errors.New("backend returned empty lyrics")
	}
	if err == nil && x.engine.cfg.Download.LyricsFormat == "lrc" {
		raw, err = ttmlToLRC(raw)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.WarnWithContext(x.logger, "lyrics unavailable", "lyrics_skipped",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check wrapper login and region"),
			logging.String(logging.FieldImpact, "track is delivered without embedded lyrics"),
		)
		return
	}
	x.lyrics = raw
	x.result.LyricsEmbedded = true
}

func (x *execution) fetchCover(ctx context.Context) {
	cfg := x.engine.cfg
	coverURL := catalog.CoverURL(x.song.ArtworkURL, cfg.Download.CoverSize, cfg.Download.CoverFormat)
	data, err := x.engine.catalog.Cover(ctx, coverURL)
	if err == nil && len(data) == 0 {
		err = errors.New("empty cover image")
	}
	if err == nil {
		path := filepath.Join(x.workDir, "cover."+cfg.Download.CoverFormat)
		if err = os.WriteFile(path, data, 0o644); err == nil {
			x.coverPath = path
			x.result.CoverEmbedded = true
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	logging.WarnWithContext(x.logger, "cover art unavailable", "cover_skipped",
		logging.Error(err),
		logging.String("cover_url", coverURL),
		logging.String(logging.FieldErrorHint, "check network access to the artwork CDN"),
		logging.String(logging.FieldImpact, "track is delivered without cover art"),
	)
}

func (x *execution) resolveManifest(ctx context.Context) error {
	requested := x.result.Codec
	masterURL := x.song.EnhancedHLS
	if masterURL == "" {
		return fatal(StageManifest, ReasonUnsupportedFormat, errors.New("track has no enhanced HLS assets"))
	}
	if requested == "alac" {
		remote, err := x.engine.backend.M3U8(ctx, x.result.TrackID)
		if err != nil {
			return classifyBackend(StageManifest, ReasonManifestUnavailable, err)
		}
		if remote != "" {
			masterURL = remote
		}
	}

	body, err := x.fetchPlaylist(ctx, masterURL)
	if err != nil {
		return classifyFetch(StageManifest, ReasonManifestUnavailable, err)
	}
	master, err := decodeMaster(body)
	if err != nil {
		return fatal(StageManifest, ReasonManifestInvalid, err)
	}
	base, err := url.Parse(masterURL)
	if err != nil {
		return fatal(StageManifest, ReasonManifestInvalid, err)
	}

	cfg := x.engine.cfg
	codec := ""
	variantURI := ""
	for _, candidate := range codecCandidates(requested, cfg.Download.CodecPriority, cfg.Download.CodecFallback) {
		if variant := selectVariant(master, candidate); variant != nil {
			codec = candidate
			variantURI = variant.URI
			break
		}
	}
	if codec == "" {
		return fatal(StageManifest, ReasonUnsupportedFormat, fmt.Errorf("no %s variant in master playlist", requested))
	}
	if codec != requested {
		logging.WarnWithContext(x.logger, "requested codec unavailable; falling back", "codec_fallback",
			logging.String("requested", requested),
			logging.String("selected", codec),
			logging.String(logging.FieldErrorHint, "the catalog does not offer the requested codec for this track"),
			logging.String(logging.FieldImpact, "track is delivered in "+codec),
		)
	}

	variantURL, err := resolveReference(base, variantURI)
	if err != nil {
		return fatal(StageManifest, ReasonManifestInvalid, err)
	}
	mediaBody, err := x.fetchPlaylist(ctx, variantURL)
	if err != nil {
		return classifyFetch(StageManifest, ReasonManifestUnavailable, err)
	}
	mediaBase, _ := url.Parse(variantURL)
	plan, err := parseMedia(mediaBody, mediaBase, codec)
	if err != nil {
		return fatal(StageManifest, ReasonManifestInvalid, err)
	}
	plan.MasterURL = masterURL
	plan.VariantURL = variantURL

	x.plan = plan
	x.result.Codec = codec
	x.logger.Info("media playlist selected",
		logging.String(logging.FieldEventType, "manifest_selected"),
		logging.String("codec", codec),
		logging.Int("segments", len(plan.Segments)),
		logging.Int("keys", len(plan.Keys)),
	)
	x.observe(fmt.Sprintf("%s, %d segments", codec, len(plan.Segments)))
	return nil
}

func (x *execution) download(ctx context.Context) error {
	refs := x.plan.Segments
	if x.plan.Init != nil {
		refs = append([]segmentRef{*x.plan.Init}, refs...)
	}
	x.segments = make([]string, 0, len(refs))
	var total int64
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return cancelled(StageDownload, err)
		}
		dest := segmentPath(x.workDir, i)
		n, err := x.fetchSegment(ctx, ref, dest)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return cancelled(StageDownload, ctxErr)
			}
			return retryable(StageDownload, ReasonSegmentDownload, fmt.Errorf("segment %d: %w", i, err))
		}
		total += n
		x.segments = append(x.segments, dest)
	}
	x.logger.Info("segments downloaded",
		logging.String(logging.FieldEventType, "segments_downloaded"),
		logging.Int("count", len(x.segments)),
		logging.Int64("bytes", total),
	)
	return nil
}

func (x *execution) decrypt(ctx context.Context) error {
	encrypted := x.segments
	x.audioPath = filepath.Join(x.workDir, "decrypted.mp4")
	out, err := os.Create(x.audioPath)
	if err != nil {
		return fatal(StageDecrypt, ReasonInternal, err)
	}
	defer out.Close()

	// The init section is clear text and is copied as is.
	if x.plan.Init != nil && len(encrypted) > 0 {
		initData, err := os.ReadFile(encrypted[0])
		if err != nil {
			return fatal(StageDecrypt, ReasonInternal, err)
		}
		if _, err := out.Write(initData); err != nil {
			return fatal(StageDecrypt, ReasonInternal, err)
		}
		encrypted = encrypted[1:]
	}

	dctx, cancel := withOptionalTimeout(ctx, x.engine.cfg.DecryptTimeout())
	defer cancel()
	header := wrapper.DecryptHeader{AdamID: x.result.TrackID, KeyURI: x.plan.KeyURI(), Codec: x.result.Codec}
	sink := &fileSink{file: out}
	n, err := x.engine.backend.Decrypt(dctx, header, &segmentSource{ctx: dctx, paths: encrypted}, sink)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return cancelled(StageDecrypt, ctxErr)
		}
		if dctx.Err() != nil {
			return retryable(StageDecrypt, ReasonDecryptFailed, fmt.Errorf("decrypt timed out after %s: %w", x.engine.cfg.DecryptTimeout(), err))
		}
		return classifyBackend(StageDecrypt, ReasonDecryptFailed, err)
	}
	if err := out.Sync(); err != nil {
		return fatal(StageDecrypt, ReasonInternal, err)
	}
	// Encrypted copies are no longer needed.
	for _, path := range x.segments {
		_ = os.Remove(path)
	}
	x.logger.Info("segments decrypted",
		logging.String(logging.FieldEventType, "decrypt_complete"),
		logging.Int("frames", n),
		logging.Int64("bytes", sink.written),
	)
	return nil
}

func (x *execution) mux(ctx context.Context) error {
	x.outputPath = filepath.Join(x.workDir, "output"+outputExtension)
	req := mux.Request{
		AudioPath:  x.audioPath,
		CoverPath:  x.coverPath,
		OutputPath: x.outputPath,
		Tags:       tagsFor(x.song, x.lyrics),
	}
	if err := x.engine.muxer.Mux(ctx, req); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return cancelled(StageMux, ctxErr)
		}
		return fatal(StageMux, ReasonMuxFailed, err)
	}
	return nil
}

func (x *execution) verify(ctx context.Context) error {
	problem := x.integrityProblem(ctx)
	if problem == "" {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return cancelled(StageVerify, ctxErr)
	}
	if x.engine.cfg.Download.FailOnIntegrityCheck {
		return fatal(StageVerify, ReasonIntegrityFailed, errors.New(problem))
	}
	x.result.IntegrityWarning = problem
	logging.WarnWithContext(x.logger, "integrity check failed", "integrity_warning",
		logging.String("problem", problem),
		logging.String(logging.FieldErrorHint, "inspect the output with ffprobe"),
		logging.String(logging.FieldImpact, "track is delivered despite the failed check"),
	)
	return nil
}

func (x *execution) integrityProblem(ctx context.Context) string {
	info, err := os.Stat(x.outputPath)
	if err != nil {
		return fmt.Sprintf("output missing: %v", err)
	}
	if info.Size() == 0 {
		return "output is empty"
	}
	probe, err := x.engine.probe(ctx, x.engine.cfg.FFprobeBinary(), x.outputPath)
	if err != nil {
		return fmt.Sprintf("ffprobe failed: %v", err)
	}
	tolerance := time.Duration(x.engine.cfg.Download.DurationTolerance * float64(time.Second))
	return probe.CheckTrack(x.song.Duration, tolerance)
}

func (x *execution) persist(ctx context.Context) error {
	relPath := x.engine.layout.RelPath(x.song, x.result.Codec)
	artifact, err := x.engine.artifacts.Persist(ctx, x.outputPath, x.job.TaskID, relPath, artifacts.WithCodec(x.result.Codec))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return cancelled(StagePersist, ctxErr)
		}
		if services.IsRetryable(err) {
			return retryable(StagePersist, ReasonPersistFailed, err)
		}
		return fatal(StagePersist, ReasonPersistFailed, err)
	}
	x.result.Artifact = artifact
	x.result.DeliveryMode = x.deliveryMode(artifact.Size)
	if x.result.DeliveryMode == queue.DeliveryServerRetained {
		x.logger.Info("output exceeds delivery cap; retained on server",
			logging.String(logging.FieldEventType, "delivery_server_retained"),
			logging.Int64("size_bytes", artifact.Size),
			logging.Int64("max_delivery_bytes", x.engine.cfg.MaxDeliveryBytes()),
		)
	}
	return nil
}

func (x *execution) deliveryMode(size int64) queue.DeliveryMode {
	limit := x.engine.cfg.MaxDeliveryBytes()
	if limit > 0 && size > limit {
		return queue.DeliveryServerRetained
	}
	return queue.DeliveryInline
}

// classifyBackend maps typed wrapper errors onto stage outcomes. Transport
// failures and unknown backend errors use fallback and are retryable.
func classifyBackend(stage, fallback string, err error) *StageError {
	switch {
	case errors.Is(err, wrapper.ErrInvalidSession):
		return retryable(stage, ReasonSessionInvalid, err)
	case errors.Is(err, wrapper.ErrUnsupportedFormat):
		return fatal(stage, ReasonUnsupportedFormat, err)
	case errors.Is(err, wrapper.ErrKeyUnavailable):
		return fatal(stage, ReasonKeyUnavailable, err)
	case errors.Is(err, wrapper.ErrRegionUnavailable):
		return fatal(stage, ReasonRegionUnavailable, err)
	default:
		return retryable(stage, fallback, err)
	}
}

func classifyFetch(stage, reason string, err error) *StageError {
	if transient(err) {
		return retryable(stage, reason, err)
	}
	return fatal(stage, ReasonManifestInvalid, err)
}

func tagsFor(song *catalog.Song, lyrics string) mux.Tags {
	albumArtist := song.AlbumArtist
	if albumArtist == "" {
		albumArtist = song.Artist
	}
	return mux.Tags{
		Title:       song.Title,
		Artist:      song.Artist,
		Album:       song.Album,
		AlbumArtist: albumArtist,
		Composer:    song.Composer,
		Genre:       song.Genre,
		Date:        song.ReleaseDate,
		Copyright:   song.Copyright,
		TrackNumber: song.TrackNumber,
		TrackCount:  song.TrackCount,
		DiscNumber:  song.DiscNumber,
		Lyrics:      lyrics,
	}
}

func flagEnabled(flag *bool) bool {
	return flag == nil || *flag
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
