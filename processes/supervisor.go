// Package processes runs and supervises app child processes and probes them
// for liveness.
package processes

import (
	"bufio"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const (
	defaultGracefulShutdownPeriod = 10 * time.Second
	defaultRestartBackoffInitial  = 1 * time.Second
	defaultRestartBackoffMax      = 30 * time.Second
)

// OutputSink receives child process output lines. Implemented by
// applog.Logger.
type OutputSink interface {
	Line(source, text string)
}

// SupervisorConfig holds configuration options for the Supervisor.
type SupervisorConfig struct {
	Logger                 *slog.Logger  // Optional, defaults to slog.Default()
	GracefulShutdownPeriod time.Duration // Optional, defaults to 10s
	RestartBackoffInitial  time.Duration // Optional, defaults to 1s
	RestartBackoffMax      time.Duration // Optional, defaults to 30s
}

// Supervisor spawns app processes. Each spawned process is kept alive until
// its Handle is terminated: an unexpected exit triggers a relaunch with
// exponential backoff.
type Supervisor struct {
	logger                 *slog.Logger
	gracefulShutdownPeriod time.Duration
	restartBackoffInitial  time.Duration
	restartBackoffMax      time.Duration
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(config SupervisorConfig) *Supervisor {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	graceful := config.GracefulShutdownPeriod
	if graceful == 0 {
		graceful = defaultGracefulShutdownPeriod
	}
	backoffInitial := config.RestartBackoffInitial
	if backoffInitial == 0 {
		backoffInitial = defaultRestartBackoffInitial
	}
	backoffMax := config.RestartBackoffMax
	if backoffMax == 0 {
		backoffMax = defaultRestartBackoffMax
	}
	return &Supervisor{
		logger:                 logger.With("component", "Supervisor"),
		gracefulShutdownPeriod: graceful,
		restartBackoffInitial:  backoffInitial,
		restartBackoffMax:      backoffMax,
	}
}

// Spawn launches execPath with the given arguments, environment and working
// directory, streaming its output into out. The returned Handle owns the
// process until Terminate is called.
func (s *Supervisor) Spawn(execPath string, args, env []string, dir string, out OutputSink) *Handle {
	h := &Handle{
		supervisor: s,
		execPath:   execPath,
		args:       args,
		env:        env,
		dir:        dir,
		out:        out,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go h.run()
	return h
}

// Handle is one supervised app process.
type Handle struct {
	supervisor *Supervisor
	execPath   string
	args       []string
	env        []string
	dir        string
	out        OutputSink

	mu           sync.Mutex
	cmd          *exec.Cmd
	pid          int
	terminated   bool
	restartCount int

	stop chan struct{} // closed by Terminate
	done chan struct{} // closed when the run loop exits
}

// Pid returns the process ID of the most recent launch, or 0 if the process
// has never started.
func (h *Handle) Pid() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

// run launches the process and relaunches it whenever it exits unexpectedly.
func (h *Handle) run() {
	defer close(h.done)

	for {
		h.mu.Lock()
		if h.terminated {
			h.mu.Unlock()
			return
		}
		restartCount := h.restartCount
		h.mu.Unlock()

		if restartCount > 0 {
			backoff := calculateBackoff(restartCount, h.supervisor.restartBackoffInitial, h.supervisor.restartBackoffMax)
			h.supervisor.logger.Info("Relaunching app process", "exec", h.execPath, "backoff", backoff, "restartCount", restartCount)
			select {
			case <-time.After(backoff):
			case <-h.stop:
				return
			}
		}

		exitErr, started := h.launchOnce()
		if !started {
			h.mu.Lock()
			h.restartCount++
			terminated := h.terminated
			h.mu.Unlock()
			if terminated {
				return
			}
			continue
		}

		h.mu.Lock()
		terminated := h.terminated
		h.restartCount++
		h.mu.Unlock()
		if terminated {
			return
		}
		h.supervisor.logger.Warn("App process exited unexpectedly", "exec", h.execPath, "error", exitErr)
	}
}

// launchOnce starts one instance of the process and blocks until it exits.
// started is false when the process could not be launched at all.
func (h *Handle) launchOnce() (exitErr error, started bool) {
	cmd := exec.Command(h.execPath, h.args...)
	cmd.Env = h.env
	cmd.Dir = h.dir

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		h.supervisor.logger.Error("Failed to get stdout pipe", "exec", h.execPath, "error", err)
		return nil, false
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		stdoutPipe.Close()
		h.supervisor.logger.Error("Failed to get stderr pipe", "exec", h.execPath, "error", err)
		return nil, false
	}

	if err := cmd.Start(); err != nil {
		h.supervisor.logger.Error("Failed to start app process", "exec", h.execPath, "error", err)
		return nil, false
	}

	h.mu.Lock()
	h.cmd = cmd
	h.pid = cmd.Process.Pid
	terminated := h.terminated
	h.mu.Unlock()
	if terminated {
		// Terminate raced with the launch and never saw this command.
		cmd.Process.Kill()
	}

	var pipes sync.WaitGroup
	pipes.Add(2)
	go func() {
		defer pipes.Done()
		defer stdoutPipe.Close()
		scanner := bufio.NewScanner(stdoutPipe)
		for scanner.Scan() {
			h.out.Line("stdout", scanner.Text())
		}
	}()
	go func() {
		defer pipes.Done()
		defer stderrPipe.Close()
		scanner := bufio.NewScanner(stderrPipe)
		for scanner.Scan() {
			h.out.Line("stderr", scanner.Text())
		}
	}()

	pipes.Wait()
	return cmd.Wait(), true
}

// Terminate stops the process for good: SIGTERM, a graceful shutdown window,
// then SIGKILL. Idempotent; safe to call from any goroutine.
func (h *Handle) Terminate() {
	h.mu.Lock()
	if h.terminated {
		h.mu.Unlock()
		return
	}
	h.terminated = true
	cmd := h.cmd
	close(h.stop)
	h.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Process may already be gone.
		h.supervisor.logger.Debug("Failed to signal app process", "exec", h.execPath, "error", err)
	}

	select {
	case <-h.done:
		return
	case <-time.After(h.supervisor.gracefulShutdownPeriod):
	}

	h.supervisor.logger.Warn("App process did not exit gracefully, sending SIGKILL", "exec", h.execPath, "pid", cmd.Process.Pid)
	if err := cmd.Process.Kill(); err != nil {
		h.supervisor.logger.Error("Failed to kill app process", "exec", h.execPath, "pid", cmd.Process.Pid, "error", err)
		return
	}
	<-h.done
}

// String describes the supervised command.
func (h *Handle) String() string {
	return fmt.Sprintf("%s (pid %d)", h.execPath, h.Pid())
}

// calculateBackoff computes the backoff duration before a relaunch.
func calculateBackoff(restartCount int, initialDelay, maxDelay time.Duration) time.Duration {
	if restartCount <= 0 {
		return 0
	}
	backoff := initialDelay
	for i := 1; i < restartCount; i++ {
		backoff *= 2
		if backoff > maxDelay {
			return maxDelay
		}
	}
	return backoff
}
