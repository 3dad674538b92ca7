package ffprobe

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func audio(codec string) Stream {
	return Stream{CodecType: "audio", CodecName: codec}
}

func cover() Stream {
	s := Stream{CodecType: "video", CodecName: "mjpeg"}
	s.Disposition.AttachedPic = 1
	return s
}

func TestCheckTrack(t *testing.T) {
	tests := []struct {
		name      string
		result    Result
		expected  time.Duration
		tolerance time.Duration
		wantOK    bool
	}{
		{"single stream within tolerance", Result{Streams: []Stream{audio("alac"), cover()}, Format: Format{Duration: "201.2"}}, 200 * time.Second, 2 * time.Second, true},
		{"duration too far off", Result{Streams: []Stream{audio("alac")}, Format: Format{Duration: "150"}}, 200 * time.Second, 2 * time.Second, false},
		{"no audio", Result{Streams: []Stream{cover()}}, 0, 0, false},
		{"two audio streams", Result{Streams: []Stream{audio("alac"), audio("aac")}}, 0, 0, false},
		{"tolerance disabled", Result{Streams: []Stream{audio("aac")}, Format: Format{Duration: "1"}}, 200 * time.Second, 0, true},
		{"missing duration", Result{Streams: []Stream{audio("aac")}, Format: Format{Duration: "bad"}}, 200 * time.Second, time.Second, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			problem := tc.result.CheckTrack(tc.expected, tc.tolerance)
			if (problem == "") != tc.wantOK {
				t.Fatalf("CheckTrack = %q, want ok=%v", problem, tc.wantOK)
			}
		})
	}
}

func TestResultAccessors(t *testing.T) {
	result := Result{
		Streams: []Stream{cover(), audio("alac")},
		Format:  Format{Duration: "123.5", Tags: map[string]string{"TITLE": "Song"}},
	}
	if !result.HasCoverArt() {
		t.Fatal("expected cover art")
	}
	if got := result.AudioStreams(); len(got) != 1 || got[0].CodecName != "alac" {
		t.Fatalf("unexpected audio streams %+v", got)
	}
	if d, ok := result.Duration(); !ok || d != 123500*time.Millisecond {
		t.Fatalf("unexpected duration %v ok=%v", d, ok)
	}
	if result.Tag("title") != "Song" {
		t.Fatalf("unexpected title tag %q", result.Tag("title"))
	}
}

func TestInspectRunsBinary(t *testing.T) {
	dir := t.TempDir()
	stub := filepath.Join(dir, "ffprobe")
	script := "#!/bin/sh\ncat <<'JSON'\n" +
		`{"streams":[{"index":0,"codec_name":"alac","codec_type":"audio","channels":2}],"format":{"duration":"200.5","size":"4096","format_name":"mov,mp4,m4a"}}` +
		"\nJSON\n"
	if err := os.WriteFile(stub, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}

	result, err := Inspect(context.Background(), stub, "/tmp/track.m4a")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if problem := result.CheckTrack(200*time.Second, time.Second); problem != "" {
		t.Fatalf("unexpected problem %q", problem)
	}

	if _, err := Inspect(context.Background(), stub, " "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestInspectReportsFailure(t *testing.T) {
	dir := t.TempDir()
	stub := filepath.Join(dir, "ffprobe")
	if err := os.WriteFile(stub, []byte("#!/bin/sh\necho 'invalid data' >&2\nexit 1\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	if _, err := Inspect(context.Background(), stub, "/tmp/track.m4a"); err == nil {
		t.Fatal("expected failure")
	}
}
