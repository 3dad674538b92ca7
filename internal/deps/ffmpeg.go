package deps

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ResolveTool returns the executable to run for a configured tool. An
// explicit path is used as is; a bare name is resolved through PATH. The configured value is returned unchanged when
// nothing resolves so error messages name what the user asked for.
func ResolveTool(configured, fallback string) string {
	name := strings.TrimSpace(configured)
	if name == "" {
		name = fallback
	}
	if strings.ContainsRune(name, filepath.Separator) {
		return name
	}
	if resolved, err := exec.LookPath(name); err == nil {
		return resolved
	}
	return name
}

// ResolveFFmpegPath resolves the ffmpeg binary used for muxing.
func ResolveFFmpegPath(configured string) string {
	return ResolveTool(configured, "ffmpeg")
}

// ResolveFFprobePath resolves the ffprobe binary used for verification.
func ResolveFFprobePath(configured string) string {
	return ResolveTool(configured, "ffprobe")
}

// Executable reports whether path names an executable regular file.
func Executable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
