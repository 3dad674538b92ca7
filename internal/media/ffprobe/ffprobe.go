package ffprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Result is the decoded -show_format -show_streams report for one file.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream holds the per-stream fields the verify stage looks at.
type Stream struct {
	Index         int    `json:"index"`
	CodecName     string `json:"codec_name"`
	CodecType     string `json:"codec_type"`
	SampleRate    string `json:"sample_rate"`
	Channels      int    `json:"channels"`
	BitsPerSample string `json:"bits_per_raw_sample"`
	Duration      string `json:"duration"`
	Disposition   struct {
		AttachedPic int `json:"attached_pic"`
	} `json:"disposition"`
}

// Format holds container metadata.
type Format struct {
	Filename   string            `json:"filename"`
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	Tags       map[string]string `json:"tags"`
}

// Inspect runs ffprobe on path and decodes its JSON report.
func Inspect(ctx context.Context, binary, path string) (Result, error) {
	if binary = strings.TrimSpace(binary); binary == "" {
		binary = "ffprobe"
	}
	if strings.TrimSpace(path) == "" {
		return Result{}, errors.New("ffprobe: empty path")
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, "-v", "error", "-hide_banner",
		"-show_format", "-show_streams", "-of", "json", "--", path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}

	var result Result
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return Result{}, fmt.Errorf("ffprobe %s: decode report: %w", path, err)
	}
	return result, nil
}

// AudioStreams returns the audio streams, leaving out embedded cover art.
func (r Result) AudioStreams() []Stream {
	var out []Stream
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "audio") && stream.Disposition.AttachedPic == 0 {
			out = append(out, stream)
		}
	}
	return out
}

// HasCoverArt reports whether an attached picture stream is present.
func (r Result) HasCoverArt() bool {
	for _, stream := range r.Streams {
		if stream.Disposition.AttachedPic == 1 {
			return true
		}
	}
	return false
}

// Duration returns the container duration. ok is false when ffprobe did not
// report one or reported something unparsable.
func (r Result) Duration() (d time.Duration, ok bool) {
	raw := strings.TrimSpace(r.Format.Duration)
	if raw == "" {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}

// Tag returns a container tag, matching the key case-insensitively.
func (r Result) Tag(key string) string {
	for k, v := range r.Format.Tags {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// CheckTrack verifies that the file holds exactly one audio stream and, when
// expected and tolerance are both positive, that its duration is within
// tolerance of expected. It returns a human-readable problem or "".
func (r Result) CheckTrack(expected, tolerance time.Duration) string {
	audio := r.AudioStreams()
	if len(audio) != 1 {
		return fmt.Sprintf("expected one audio stream, found %d", len(audio))
	}
	if expected <= 0 || tolerance <= 0 {
		return ""
	}
	actual, ok := r.Duration()
	if !ok {
		return "duration not reported"
	}
	if diff := (actual - expected).Abs(); diff > tolerance {
		return fmt.Sprintf("duration %.2fs differs from catalog %.2fs by more than %.1fs",
			actual.Seconds(), expected.Seconds(), tolerance.Seconds())
	}
	return ""
}
