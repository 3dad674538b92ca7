package mux

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"trackrelay/internal/logging"
)

func TestMuxBuildsArgumentsAndPlacesOutput(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "decrypted.mp4")
	cover := filepath.Join(dir, "cover.jpg")
	for _, path := range []string{audio, cover} {
		if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	output := filepath.Join(dir, "track.m4a")

	var captured []string
	m := NewMuxer("", logging.NewNop())
	m.WithCommandRunner(func(_ context.Context, name string, args ...string) error {
		if name != "ffmpeg" {
			t.Fatalf("unexpected binary %q", name)
		}
		captured = args
		return os.WriteFile(args[len(args)-1], []byte("muxed"), 0o644)
	})

	err := m.Mux(context.Background(), Request{
		AudioPath:  audio,
		CoverPath:  cover,
		OutputPath: output,
		Tags: Tags{
			Title:       "Song",
			Artist:      "Artist",
			TrackNumber: 3,
			TrackCount:  12,
			DiscNumber:  1,
			Lyrics:      "la la",
		},
	})
	if err != nil {
		t.Fatalf("Mux: %v", err)
	}
	data, err := os.ReadFile(output)
	if err != nil || string(data) != "muxed" {
		t.Fatalf("expected output placed, got %q %v", data, err)
	}

	joined := strings.Join(captured, " ")
	for _, want := range []string{
		"-i " + cover,
		"-disposition:v:0 attached_pic",
		"-metadata title=Song",
		"-metadata track=3/12",
		"-metadata disc=1",
		"-metadata lyrics=la la",
		"-f mp4",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in args %v", want, captured)
		}
	}
	for _, arg := range captured {
		if strings.HasPrefix(arg, "album=") {
			t.Fatalf("empty tags must be omitted, got %q", arg)
		}
	}
}

func TestMuxSkipsMissingCover(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "decrypted.mp4")
	if err := os.WriteFile(audio, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	var captured []string
	m := NewMuxer("ffmpeg", logging.NewNop())
	m.WithCommandRunner(func(_ context.Context, _ string, args ...string) error {
		captured = args
		return os.WriteFile(args[len(args)-1], nil, 0o644)
	})
	err := m.Mux(context.Background(), Request{
		AudioPath:  audio,
		CoverPath:  filepath.Join(dir, "missing.jpg"),
		OutputPath: filepath.Join(dir, "out.m4a"),
	})
	if err != nil {
		t.Fatalf("Mux: %v", err)
	}
	if slices.Contains(captured, "attached_pic") {
		t.Fatalf("cover should be dropped, got %v", captured)
	}
}

func TestMuxFailureLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "decrypted.mp4")
	if err := os.WriteFile(audio, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	output := filepath.Join(dir, "out.m4a")
	m := NewMuxer("ffmpeg", logging.NewNop())
	m.WithCommandRunner(func(_ context.Context, _ string, args ...string) error {
		_ = os.WriteFile(args[len(args)-1], []byte("partial"), 0o644)
		return errors.New("invalid data found")
	})
	if err := m.Mux(context.Background(), Request{AudioPath: audio, OutputPath: output}); err == nil {
		t.Fatal("expected failure")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected only the input to remain, got %d entries", len(entries))
	}
}

func TestMuxRequiresInput(t *testing.T) {
	m := NewMuxer("ffmpeg", logging.NewNop())
	if err := m.Mux(context.Background(), Request{OutputPath: "/tmp/x.m4a"}); err == nil {
		t.Fatal("expected validation error")
	}
	if err := m.Mux(context.Background(), Request{AudioPath: "/nonexistent", OutputPath: "/tmp/x.m4a"}); err == nil {
		t.Fatal("expected missing input error")
	}
}
