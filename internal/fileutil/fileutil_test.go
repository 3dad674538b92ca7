package fileutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"trackrelay/internal/fileutil"
)

func TestPlaceAtomic(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "work", "track.m4a")
	dst := filepath.Join(dir, "out", "Artist", "Album", "01 Song.m4a")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatal(err)
	}
	content := []byte("decrypted audio")
	if err := os.WriteFile(src, content, 0o600); err != nil {
		t.Fatal(err)
	}

	n, err := fileutil.PlaceAtomic(src, dst, 0o644)
	if err != nil {
		t.Fatalf("PlaceAtomic: %v", err)
	}
	if n != int64(len(content)) {
		t.Fatalf("expected %d bytes, got %d", len(content), n)
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != string(content) {
		t.Fatalf("destination mismatch: %q %v", got, err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("expected source removed, got %v", err)
	}
	entries, _ := os.ReadDir(filepath.Dir(dst))
	if len(entries) != 1 {
		t.Fatalf("expected no leftover temp files, got %d entries", len(entries))
	}
}

func TestPlaceAtomicMissingSource(t *testing.T) {
	dir := t.TempDir()
	if _, err := fileutil.PlaceAtomic(filepath.Join(dir, "nope"), filepath.Join(dir, "dst"), 0o644); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestRemoveIfExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone")
	if err := fileutil.RemoveIfExists(path); err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := fileutil.RemoveIfExists(path); err != nil {
		t.Fatalf("RemoveIfExists: %v", err)
	}
}

func TestPruneEmptyDirs(t *testing.T) {
	root := t.TempDir()
	leaf := filepath.Join(root, "a", "b")
	sibling := filepath.Join(root, "a", "keep.txt")
	if err := os.MkdirAll(leaf, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(sibling, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	fileutil.PruneEmptyDirs(leaf, root)
	if _, err := os.Stat(leaf); !os.IsNotExist(err) {
		t.Fatal("expected empty leaf removed")
	}
	if _, err := os.Stat(filepath.Join(root, "a")); err != nil {
		t.Fatal("non-empty parent should remain")
	}
	if _, err := os.Stat(root); err != nil {
		t.Fatal("root must never be removed")
	}
}

func TestWithinRoot(t *testing.T) {
	tests := []struct {
		path, root string
		want       bool
	}{
		{"/out/a/b", "/out", true},
		{"/out", "/out", true},
		{"/outside", "/out", false},
		{"/out/../etc", "/out", false},
		{"/out/..hidden", "/out", true},
	}
	for _, tt := range tests {
		if got := fileutil.WithinRoot(tt.path, tt.root); got != tt.want {
			t.Fatalf("WithinRoot(%q, %q) = %v, want %v", tt.path, tt.root, got, tt.want)
		}
	}
}
