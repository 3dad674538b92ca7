package preflight

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"trackrelay/internal/config"
	"trackrelay/internal/wrapper"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckFreeSpace("space", dir, 1); !result.Passed {
		t.Fatalf("expected pass with a 1 byte floor, got: %s", result.Detail)
	}
	if result := CheckFreeSpace("space", dir, ^uint64(0)); result.Passed {
		t.Fatal("expected failure with an impossible floor")
	}
	if result := CheckFreeSpace("space", filepath.Join(dir, "missing"), 1); result.Passed {
		t.Fatal("expected failure for missing path")
	}
}

func TestCheckWrapper(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()

	if result := CheckWrapper(context.Background(), wrapper.Endpoint{Address: addr}); !result.Passed {
		t.Fatalf("expected reachable endpoint, got: %s", result.Detail)
	}
	_ = ln.Close()
	if result := CheckWrapper(context.Background(), wrapper.Endpoint{Address: addr}); result.Passed {
		t.Fatal("expected failure after listener closed")
	}
	if result := CheckWrapper(context.Background(), wrapper.Endpoint{}); result.Passed {
		t.Fatal("expected failure without endpoint")
	}
}

func TestCheckWrapperUnixSocket(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "wrapper.sock")
	ln, err := net.Listen("unix", socket)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	if result := CheckWrapper(context.Background(), wrapper.Endpoint{Socket: socket}); !result.Passed {
		t.Fatalf("expected reachable socket, got: %s", result.Detail)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_ReportsDirectoriesAndWrapper(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StagingDir = t.TempDir()
	cfg.Paths.OutputDir = t.TempDir()
	cfg.Paths.StateDir = filepath.Join(t.TempDir(), "missing")
	cfg.Wrapper.Mode = config.WrapperModeRemote
	cfg.Wrapper.Address = "127.0.0.1:1"

	results := RunAll(context.Background(), &cfg)
	byName := make(map[string]Result, len(results))
	for _, r := range results {
		byName[r.Name] = r
	}
	for _, name := range []string{"Staging directory", "Output directory", "Output free space"} {
		if !byName[name].Passed {
			t.Errorf("check %q failed: %s", name, byName[name].Detail)
		}
	}
	if byName["State directory"].Passed {
		t.Error("missing state directory should fail")
	}
	if byName["Wrapper backend"].Passed {
		t.Error("closed wrapper port should fail")
	}
	if _, ok := byName["Docker"]; ok {
		t.Error("remote mode does not need docker")
	}
	if len(Failed(results)) < 2 {
		t.Errorf("expected at least two failures, got %+v", Failed(results))
	}
}
