package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"trackrelay/internal/config"
	"trackrelay/internal/logging"
	"trackrelay/internal/services"
)

const stopGrace = 10 * time.Second

type process struct {
	cmd      *exec.Cmd
	done     chan struct{}
	err      error
	stopping atomic.Bool
}

// processCommand returns the argv that runs a native wrapper. Without an
// explicit command the configured image runs in docker with the socket
// directory mounted.
func processCommand(cfg *config.Config) []string {
	if len(cfg.Wrapper.Command) > 0 {
		return append([]string(nil), cfg.Wrapper.Command...)
	}
	socket := cfg.WrapperSocketPath()
	socketDir := filepath.Dir(socket)
	return []string{
		"docker", "run", "--rm",
		"--name", "trackrelay-wrapper",
		"-v", socketDir + ":/run/trackrelay",
		cfg.Wrapper.Image,
		"--socket", "/run/trackrelay/" + filepath.Base(socket),
	}
}

func buildCommand(cfg *config.Config) []string {
	if len(cfg.Wrapper.BuildCommand) > 0 {
		return append([]string(nil), cfg.Wrapper.BuildCommand...)
	}
	buildContext := cfg.Wrapper.BuildContext
	if buildContext == "" {
		buildContext = "."
	}
	return []string{"docker", "build", "-t", cfg.Wrapper.Image, buildContext}
}

func (s *Supervisor) openProcessLog() *os.File {
	if s.logPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.logPath), 0o755); err != nil {
		return nil
	}
	file, err := os.OpenFile(s.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil
	}
	return file
}

func (s *Supervisor) spawnLocked() error {
	if len(s.command) == 0 {
		return services.Wrap(services.ErrConfiguration, "wrapper", "start", "wrapper.command is empty", nil)
	}
	cmd := exec.Command(s.command[0], s.command[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	logFile := s.openProcessLog()
	if logFile != nil {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}
	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return services.Wrap(services.ErrExternalTool, "wrapper", "start", "launch "+s.command[0], err)
	}
	proc := &process{cmd: cmd, done: make(chan struct{})}
	s.proc = proc
	s.inst.PID = cmd.Process.Pid
	s.logger.Info("wrapper process started",
		logging.String(logging.FieldEventType, "wrapper_process_started"),
		logging.Int("pid", cmd.Process.Pid),
		logging.String("command", strings.Join(s.command, " ")),
	)
	go s.reap(proc, logFile)
	return nil
}

func (s *Supervisor) reap(proc *process, logFile *os.File) {
	proc.err = proc.cmd.Wait()
	if logFile != nil {
		logFile.Close()
	}
	close(proc.done)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != proc {
		return
	}
	s.proc = nil
	s.inst.PID = 0
	if proc.stopping.Load() {
		return
	}
	reason := "wrapper process exited"
	if proc.err != nil {
		reason = fmt.Sprintf("%s: %v", reason, proc.err)
	}
	s.inst.LastError = reason
	if s.startCancel != nil {
		s.startCancel()
		s.startCancel = nil
	}
	s.setStateLocked(StateStopped, reason)
	s.scheduleRestartLocked(reason)
}

// detachProcessLocked hands the current process to the caller for
// termination so its exit is not treated as a crash.
func (s *Supervisor) detachProcessLocked() *process {
	proc := s.proc
	if proc == nil {
		return nil
	}
	proc.stopping.Store(true)
	s.proc = nil
	s.inst.PID = 0
	return proc
}

// terminate signals the process group and escalates to SIGKILL after the
// grace period or when ctx ends.
func (p *process) terminate(ctx context.Context) {
	if p == nil {
		return
	}
	pgid := -p.cmd.Process.Pid
	if err := unix.Kill(pgid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		_ = p.cmd.Process.Signal(os.Interrupt)
	}
	timer := time.NewTimer(stopGrace)
	defer timer.Stop()
	select {
	case <-p.done:
		return
	case <-timer.C:
	case <-ctx.Done():
	}
	if err := unix.Kill(pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		_ = p.cmd.Process.Kill()
	}
	<-p.done
}

// Build provisions the native wrapper image. It is valid only while the
// instance is stopped.
func (s *Supervisor) Build(ctx context.Context) error {
	if !s.native() {
		return ErrUnsupported
	}
	s.mu.Lock()
	if s.inst.State != StateStopped || s.inst.Provisioning {
		state := s.inst.State
		s.mu.Unlock()
		return fmt.Errorf("%w: build requires a stopped instance (state %s)", ErrInvalidState, state)
	}
	s.inst.Provisioning = true
	s.publishLocked(s.inst.State, "build started")
	s.mu.Unlock()

	err := s.runBuild(ctx)

	s.mu.Lock()
	s.inst.Provisioning = false
	reason := "build finished"
	if err != nil {
		s.inst.LastError = err.Error()
		reason = "build failed"
	}
	s.publishLocked(s.inst.State, reason)
	s.mu.Unlock()
	return err
}

func (s *Supervisor) runBuild(ctx context.Context) error {
	if len(s.buildCommand) == 0 {
		return services.Wrap(services.ErrConfiguration, "wrapper", "build", "wrapper.build_command is empty", nil)
	}
	started := s.now()
	cmd := exec.CommandContext(ctx, s.buildCommand[0], s.buildCommand[1:]...)
	logFile := s.openProcessLog()
	if logFile != nil {
		defer logFile.Close()
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}
	s.logger.Info("wrapper build started",
		logging.String(logging.FieldEventType, "wrapper_build_started"),
		logging.String("command", strings.Join(s.buildCommand, " ")),
	)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return services.Wrap(services.ErrCancelled, "wrapper", "build", "build interrupted", ctx.Err())
		}
		return services.Wrap(services.ErrExternalTool, "wrapper", "build", "build wrapper image", err)
	}
	s.logger.Info("wrapper build finished",
		logging.String(logging.FieldEventType, "wrapper_build_finished"),
		logging.Duration("duration", s.now().Sub(started)),
	)
	return nil
}
