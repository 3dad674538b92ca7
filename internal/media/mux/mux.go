// Package mux combines decrypted audio, cover art and tags into an .m4a
// container with ffmpeg.
package mux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"trackrelay/internal/logging"
)

// Tags are the iTunes-style metadata written into the container.
type Tags struct {
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	Composer    string
	Genre       string
	Date        string
	Copyright   string
	TrackNumber int
	TrackCount  int
	DiscNumber  int
	Lyrics      string
}

// Request describes one mux invocation.
type Request struct {
	AudioPath  string // decrypted audio stream
	CoverPath  string // optional cover image
	OutputPath string
	Tags       Tags
}

// CommandRunner executes an external command.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// Muxer runs ffmpeg to produce the final container.
type Muxer struct {
	binary string
	logger *slog.Logger
	run    CommandRunner
}

// NewMuxer constructs a muxer for the given ffmpeg binary.
func NewMuxer(binary string, logger *slog.Logger) *Muxer {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &Muxer{
		binary: binary,
		logger: logging.NewComponentLogger(logger, "mux"),
		run:    defaultCommandRunner,
	}
}

// WithCommandRunner allows injecting a custom command runner for tests.
func (m *Muxer) WithCommandRunner(r CommandRunner) {
	if m != nil && r != nil {
		m.run = r
	}
}

// Mux writes req.OutputPath. The output only appears once ffmpeg succeeds.
func (m *Muxer) Mux(ctx context.Context, req Request) error {
	if m == nil {
		return errors.New("muxer not initialized")
	}
	if strings.TrimSpace(req.AudioPath) == "" || strings.TrimSpace(req.OutputPath) == "" {
		return errors.New("audio and output paths are required")
	}
	if _, err := os.Stat(req.AudioPath); err != nil {
		return fmt.Errorf("audio input not found: %w", err)
	}
	if req.CoverPath != "" {
		if _, err := os.Stat(req.CoverPath); err != nil {
			m.logger.Debug("cover missing, muxing without artwork", logging.Error(err))
			req.CoverPath = ""
		}
	}

	tmpPath := filepath.Join(filepath.Dir(req.OutputPath), ".mux-"+filepath.Base(req.OutputPath)+".tmp")
	args := buildArgs(req, tmpPath)
	m.logger.Debug("executing ffmpeg",
		logging.String("audio_path", req.AudioPath),
		logging.Bool("cover", req.CoverPath != ""),
		logging.Bool("lyrics", req.Tags.Lyrics != ""),
	)
	if err := m.run(ctx, m.binary, args...); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("ffmpeg failed: %w", err)
	}
	if _, err := os.Stat(tmpPath); err != nil {
		return fmt.Errorf("ffmpeg did not produce output file: %w", err)
	}
	if err := os.Rename(tmpPath, req.OutputPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move muxed output: %w", err)
	}
	return nil
}

func buildArgs(req Request, outputPath string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", req.AudioPath}
	if req.CoverPath != "" {
		args = append(args, "-i", req.CoverPath)
	}
	args = append(args, "-map", "0:a:0", "-c:a", "copy")
	if req.CoverPath != "" {
		args = append(args, "-map", "1:v:0", "-c:v", "copy", "-disposition:v:0", "attached_pic")
	}
	for _, kv := range metadataPairs(req.Tags) {
		args = append(args, "-metadata", kv)
	}
	return append(args, "-movflags", "+faststart", "-f", "mp4", outputPath)
}

func metadataPairs(tags Tags) []string {
	var pairs []string
	add := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			pairs = append(pairs, key+"="+value)
		}
	}
	add("title", tags.Title)
	add("artist", tags.Artist)
	add("album", tags.Album)
	add("album_artist", tags.AlbumArtist)
	add("composer", tags.Composer)
	add("genre", tags.Genre)
	add("date", tags.Date)
	add("copyright", tags.Copyright)
	if tags.TrackNumber > 0 {
		track := strconv.Itoa(tags.TrackNumber)
		if tags.TrackCount > 0 {
			track += "/" + strconv.Itoa(tags.TrackCount)
		}
		add("track", track)
	}
	if tags.DiscNumber > 0 {
		add("disc", strconv.Itoa(tags.DiscNumber))
	}
	add("lyrics", tags.Lyrics)
	return pairs
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
