package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// fakeAudioHeader mimics the start of an MP4 "ftyp" box so files written by
// WriteFile look like audio to anything sniffing the first bytes.
var fakeAudioHeader = []byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p', 'M', '4', 'A', ' '}

// WriteFile creates path (and its parent directories) holding exactly size
// bytes of fake audio. Sizes below one are treated as one.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	size = max(size, 1)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}

	body := bytes.Repeat([]byte{0x42}, int(size))
	copy(body, fakeAudioHeader)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
