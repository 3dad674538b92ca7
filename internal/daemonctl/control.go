package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"trackrelay/internal/api"
	"trackrelay/internal/config"
	"trackrelay/internal/ipc"
	"trackrelay/internal/preflight"
	"trackrelay/internal/queue"
)

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	SocketPath string
	ConfigPath string
	Diagnostic bool
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
	StartStateRequested      StartState = "start_requested"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
	Message  string
}

// Launch starts a detached trackrelay daemon process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"daemon"}
	if socket := strings.TrimSpace(opts.SocketPath); socket != "" {
		args = append(args, "--socket", socket)
	}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if opts.Diagnostic {
		args = append(args, "--diagnostic")
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient waits for IPC socket availability and returns a connected client.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches the daemon process when its socket is absent and
// resumes processing when the process is up but paused.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	client, err := ipc.Dial(socketPath)
	launched := false
	if err != nil {
		if launchErr := Launch(executablePath, opts); launchErr != nil {
			return StartResult{}, launchErr
		}
		client, err = WaitForClient(socketPath, waitTimeout)
		if err != nil {
			return StartResult{}, err
		}
		launched = true
	}
	defer client.Close()

	statusResp, statusErr := client.Status()
	if statusErr == nil && statusResp != nil && statusResp.Status.Running {
		if launched {
			return StartResult{State: StartStateStarted, Launched: true}, nil
		}
		return StartResult{State: StartStateAlreadyRunning}, nil
	}

	resp, err := client.Start()
	if err != nil {
		return StartResult{}, err
	}

	if resp != nil {
		message := strings.TrimSpace(resp.Message)
		if resp.Started {
			return StartResult{State: StartStateStarted, Launched: launched, Message: message}, nil
		}
		if strings.EqualFold(message, "daemon already running") {
			if launched {
				return StartResult{State: StartStateStarted, Launched: true, Message: message}, nil
			}
			return StartResult{State: StartStateAlreadyRunning, Message: message}, nil
		}
		if message != "" {
			return StartResult{State: StartStateRequested, Launched: launched, Message: message}, nil
		}
	}

	return StartResult{State: StartStateRequested, Launched: launched, Message: "Start request sent"}, nil
}

// WaitForShutdown waits until the daemon socket stops answering.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err != nil {
			if isDaemonUnavailable(err) {
				return nil
			}
			time.Sleep(200 * time.Millisecond)
			continue
		}
		_ = client.Close()
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not stop within %s", timeout)
}

// ProcessInfo returns whether daemon IPC is reachable and the daemon PID when available.
func ProcessInfo(socketPath string) (bool, int, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	defer client.Close()
	status, statusErr := client.Status()
	if statusErr != nil {
		return true, 0, statusErr
	}
	pid := 0
	if status != nil {
		pid = status.Status.PID
	}
	return true, pid, nil
}

// ReadPID returns the pid recorded in the daemon pid file, or 0.
func ReadPID(pidPath string) (int, error) {
	data, err := os.ReadFile(pidPath)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read daemon pid file %q: %w", pidPath, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, nil
	}
	return pid, nil
}

// SignalProcess sends sig to the daemon process. A missing pid file with no
// fallback means there is nothing to signal.
func SignalProcess(pidPath string, fallbackPID int, sig syscall.Signal) (int, error) {
	pid, err := ReadPID(pidPath)
	if err != nil {
		return 0, err
	}
	if pid == 0 {
		pid = fallbackPID
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	if err := syscall.Kill(pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return pid, nil
		}
		return 0, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	return pid, nil
}

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

// RestartResult captures stop/start outcomes for daemon restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// StopAndTerminate stops task processing over IPC, then asks the process to
// exit with SIGTERM and escalates to SIGKILL after gracePeriod.
func StopAndTerminate(socketPath string, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	if cfg == nil {
		return StopResult{}, errors.New("configuration not available")
	}
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}
	pid := 0
	if statusResp, statusErr := client.Status(); statusErr == nil && statusResp != nil {
		pid = statusResp.Status.PID
	}
	resp, err := client.Stop()
	_ = client.Close()
	if err != nil {
		return StopResult{}, err
	}
	result := StopResult{PID: pid}
	if resp != nil {
		result.StopAcknowledged = resp.Stopped
	}

	signalled, err := SignalProcess(cfg.PIDPath(), pid, syscall.SIGTERM)
	if err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	result.PID = signalled
	if WaitForShutdown(socketPath, gracePeriod) == nil {
		return result, nil
	}

	killed, err := SignalProcess(cfg.PIDPath(), signalled, syscall.SIGKILL)
	if err != nil {
		return result, fmt.Errorf("failed to kill daemon process: %w", err)
	}
	_ = os.Remove(cfg.PIDPath())
	_ = os.Remove(socketPath)
	result.ForcedKill = true
	result.PID = killed
	return result, nil
}

// Restart stops the daemon if running, then ensures it is started.
func Restart(socketPath string, cfg *config.Config, executablePath string, opts LaunchOptions, stopGracePeriod, startWaitTimeout time.Duration) (RestartResult, error) {
	stopResult, stopErr := StopAndTerminate(socketPath, cfg, stopGracePeriod)
	if stopErr != nil && !errors.Is(stopErr, ErrDaemonNotRunning) {
		return RestartResult{}, stopErr
	}

	startResult, err := EnsureStarted(socketPath, executablePath, opts, startWaitTimeout)
	if err != nil {
		return RestartResult{}, err
	}

	return RestartResult{
		WasRunning: stopErr == nil,
		Stop:       stopResult,
		Start:      startResult,
	}, nil
}

// Snapshot is the status report rendered by the CLI.
type Snapshot struct {
	Reachable         bool
	Status            api.DaemonStatus
	SystemChecks      []api.StatusLine
	PathChecks        []api.StatusLine
	DependencySummary api.DependencySummary
}

// BuildStatusSnapshot collects daemon status and falls back to reading the
// queue database directly when the daemon is not reachable.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) (*Snapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	snap := &Snapshot{}

	client, err := ipc.Dial(socketPath)
	if err == nil {
		defer client.Close()
		if resp, statusErr := client.Status(); statusErr == nil && resp != nil {
			snap.Reachable = true
			snap.Status = resp.Status
		}
	}

	if !snap.Reachable {
		snap.Status.Queue = offlineQueueStats(ctx, cfg)
		snap.Status.QueueDBPath = cfg.QueueDBPath()
		snap.Status.LockFilePath = cfg.LockPath()
	}
	if len(snap.Status.Dependencies) == 0 {
		snap.Status.Dependencies = api.FromDependencies(preflight.CheckSystemDeps(cfg))
	}

	snap.DependencySummary = api.SummarizeDependencies(snap.Status.Dependencies)
	snap.SystemChecks = BuildSystemChecks(cfg, snap)
	snap.PathChecks = BuildPathChecks(cfg)
	return snap, nil
}

func offlineQueueStats(ctx context.Context, cfg *config.Config) api.QueueStats {
	out := api.QueueStats{Counts: map[string]int{}, MaxQueueSize: cfg.Queue.MaxQueueSize}
	if _, err := os.Stat(cfg.QueueDBPath()); err != nil {
		return out
	}
	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	store, err := queue.Open(cfg)
	if err != nil {
		return out
	}
	defer store.Close()
	stats, err := store.Stats(queryCtx)
	if err != nil {
		return out
	}
	for _, status := range queue.AllStatuses {
		out.Counts[string(status)] = stats.Counts[status]
	}
	out.Total = stats.Total
	out.SuccessRate = stats.SuccessRate
	out.AverageDurationMs = stats.AverageDuration.Milliseconds()
	out.Pending = stats.Counts[queue.StatusQueued]
	return out
}

func isDaemonUnavailable(err error) bool {
	return os.IsNotExist(err) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

// BuildSystemChecks resolves status lines that combine runtime state and config checks.
func BuildSystemChecks(cfg *config.Config, snap *Snapshot) []api.StatusLine {
	lines := make([]api.StatusLine, 0, 5)
	switch {
	case !snap.Reachable:
		lines = append(lines, api.StatusLine{Label: "TrackRelay", Severity: api.SeverityWarn, Detail: "Not running (run `trackrelay start`)"})
	case snap.Status.Running:
		lines = append(lines, api.StatusLine{Label: "TrackRelay", Severity: api.SeverityOK, Detail: fmt.Sprintf("Running (pid %d)", snap.Status.PID)})
	default:
		lines = append(lines, api.StatusLine{Label: "TrackRelay", Severity: api.SeverityWarn, Detail: fmt.Sprintf("Paused (pid %d, run `trackrelay start`)", snap.Status.PID)})
	}

	if snap.Reachable {
		lines = append(lines, snap.Status.Checks...)
	} else {
		lines = append(lines, api.StatusLine{
			Label:    "Wrapper",
			Severity: "info",
			Detail:   fmt.Sprintf("%s mode, unknown while the daemon is down", cfg.Wrapper.Mode),
		})
	}

	if strings.TrimSpace(cfg.Notifications.NtfyTopic) != "" {
		lines = append(lines, api.StatusLine{Label: "Notifications", Severity: api.SeverityOK, Detail: "Configured"})
	} else {
		lines = append(lines, api.StatusLine{Label: "Notifications", Severity: api.SeverityWarn, Detail: "Not configured"})
	}

	if bind := strings.TrimSpace(cfg.Paths.APIBind); bind == "" {
		lines = append(lines, api.StatusLine{Label: "HTTP API", Severity: "info", Detail: "Disabled"})
	} else if strings.TrimSpace(cfg.Paths.APIToken) == "" {
		lines = append(lines, api.StatusLine{Label: "HTTP API", Severity: api.SeverityWarn, Detail: bind + " (no token configured)"})
	} else {
		lines = append(lines, api.StatusLine{Label: "HTTP API", Severity: api.SeverityOK, Detail: bind})
	}
	return lines
}

// BuildPathChecks resolves configured directory readiness.
func BuildPathChecks(cfg *config.Config) []api.StatusLine {
	lines := make([]api.StatusLine, 0, 3)
	for _, dir := range []struct {
		label string
		path  string
	}{
		{label: "Staging", path: cfg.Paths.StagingDir},
		{label: "Output", path: cfg.Paths.OutputDir},
		{label: "State", path: cfg.Paths.StateDir},
	} {
		result := preflight.CheckDirectoryAccess(dir.label, dir.path)
		severity := api.SeverityError
		if result.Passed {
			severity = api.SeverityOK
		}
		lines = append(lines, api.StatusLine{
			Label:    dir.label,
			Severity: severity,
			Detail:   result.Detail,
		})
	}
	return lines
}
