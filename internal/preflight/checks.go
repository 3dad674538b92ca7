package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"trackrelay/internal/config"
	"trackrelay/internal/deps"
	"trackrelay/internal/wrapper"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace fails when the filesystem holding path has less than
// minBytes available to unprivileged users.
func CheckFreeSpace(name, path string, minBytes uint64) Result {
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	free := uint64(fs.Bavail) * uint64(fs.Bsize)
	detail := fmt.Sprintf("%s (%s free)", path, formatBytes(free))
	if free < minBytes {
		return Result{Name: name, Detail: detail + fmt.Sprintf(", need %s", formatBytes(minBytes))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckWrapper verifies the wrapper endpoint accepts connections. It does
// not speak the protocol; the supervisor's probe covers health.
func CheckWrapper(ctx context.Context, endpoint wrapper.Endpoint) Result {
	const name = "Wrapper backend"

	network, address := "tcp", endpoint.Address
	if endpoint.Socket != "" {
		network, address = "unix", endpoint.Socket
	}
	if address == "" {
		return Result{Name: name, Detail: "no endpoint configured"}
	}

	dialCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, network, address)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s unreachable (%s)", endpoint, summarizeDialError(err))}
	}
	_ = conn.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable", endpoint)}
}

// CheckSystemDeps evaluates the external binaries the config needs. The
// daemon and the CLI status command share this list.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "FFmpeg",
			Command:     deps.ResolveFFmpegPath(cfg.FFmpegBinary()),
			Description: "Required for muxing decrypted audio",
		},
		{
			Name:        "FFprobe",
			Command:     deps.ResolveFFprobePath(cfg.FFprobeBinary()),
			Description: "Required for output verification",
		},
	}
	if cfg.Wrapper.Mode == config.WrapperModeNative && len(cfg.Wrapper.Command) == 0 {
		requirements = append(requirements, deps.Requirement{
			Name:        "Docker",
			Command:     "docker",
			Description: "Runs and builds the native wrapper image",
			Optional:    !cfg.Wrapper.AutoStart,
		})
	}
	return deps.CheckBinaries(requirements)
}

func summarizeDialError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Err != nil {
		return opErr.Err.Error()
	}
	return err.Error()
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
