package control

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

var (
	ErrAlreadyRunning = errors.New("worker already running")
	ErrNotRunning     = errors.New("worker not running")
)

// Status is a snapshot of the supervised worker process.
type Status struct {
	Running      bool    `json:"running"`
	PID          int     `json:"pid,omitempty"`
	StartedAt    string  `json:"started_at,omitempty"`
	LastExitCode *int    `json:"last_exit_code,omitempty"`
	LastError    *string `json:"last_error,omitempty"`
}

// Controller supervises one worker subprocess. The pidfile lets a
// restarted controller adopt a worker it did not spawn itself.
type Controller struct {
	command []string
	pidFile string
	logger  *zap.Logger

	mu           sync.Mutex
	proc         *os.Process
	startedAt    time.Time
	lastExitCode *int
	lastError    *string
}

// NewController builds a Controller for the given worker command.
func NewController(command []string, pidFile string, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		command: command,
		pidFile: pidFile,
		logger:  logger,
	}
}

// Start spawns the worker unless one is already running.
func (c *Controller) Start() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.runningLocked() {
		return c.proc.Pid, ErrAlreadyRunning
	}
	if len(c.command) == 0 {
		return 0, fmt.Errorf("worker command is empty")
	}

	cmd := exec.Command(c.command[0], c.command[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		msg := err.Error()
		c.lastError = &msg
		return 0, fmt.Errorf("start worker: %w", err)
	}

	c.proc = cmd.Process
	c.startedAt = time.Now()
	c.lastError = nil

	if err := c.writePidFile(cmd.Process.Pid); err != nil {
		c.logger.Warn("write pidfile failed", zap.Error(err))
	}

	go c.reap(cmd)

	c.logger.Info("worker started", zap.Int("pid", cmd.Process.Pid))
	return cmd.Process.Pid, nil
}

// Stop terminates the worker: SIGTERM, a grace period, then SIGKILL.
func (c *Controller) Stop() error {
	c.mu.Lock()
	proc := c.adoptLocked()
	c.mu.Unlock()

	if proc == nil {
		return ErrNotRunning
	}

	_ = proc.Signal(syscall.SIGTERM)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !pidAlive(proc.Pid) {
			c.clear(proc.Pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	c.logger.Warn("worker ignored SIGTERM, killing", zap.Int("pid", proc.Pid))
	_ = proc.Kill()
	c.clear(proc.Pid)
	return nil
}

// Status reports the worker's current state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		LastExitCode: c.lastExitCode,
		LastError:    c.lastError,
	}
	if proc := c.adoptLocked(); proc != nil {
		st.Running = true
		st.PID = proc.Pid
		if !c.startedAt.IsZero() {
			st.StartedAt = c.startedAt.UTC().Format(time.RFC3339)
		}
	}
	return st
}

// adoptLocked returns the live worker process, falling back to the
// pidfile for workers spawned by a previous controller instance.
func (c *Controller) adoptLocked() *os.Process {
	if c.runningLocked() {
		return c.proc
	}

	pid, ok := c.readPidFile()
	if !ok || !pidAlive(pid) {
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	c.proc = proc
	return proc
}

func (c *Controller) runningLocked() bool {
	return c.proc != nil && pidAlive(c.proc.Pid)
}

// reap waits for the spawned worker so it never zombies, and records
// its exit code.
func (c *Controller) reap(cmd *exec.Cmd) {
	err := cmd.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
			msg := err.Error()
			c.lastError = &msg
		}
	}
	c.lastExitCode = &code

	if c.proc != nil && c.proc.Pid == cmd.Process.Pid {
		c.proc = nil
		c.removePidFile()
	}
	c.logger.Info("worker exited", zap.Int("pid", cmd.Process.Pid), zap.Int("code", code))
}

func (c *Controller) clear(pid int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc != nil && c.proc.Pid == pid {
		c.proc = nil
	}
	c.removePidFile()
}

func (c *Controller) writePidFile(pid int) error {
	if c.pidFile == "" {
		return nil
	}
	return os.WriteFile(c.pidFile, []byte(strconv.Itoa(pid)), 0o644)
}

func (c *Controller) readPidFile() (int, bool) {
	if c.pidFile == "" {
		return 0, false
	}
	raw, err := os.ReadFile(c.pidFile)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func (c *Controller) removePidFile() {
	if c.pidFile == "" {
		return
	}
	_ = os.Remove(c.pidFile)
}

// pidAlive checks process existence without sending a signal.
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to someone else.
	return errors.Is(err, syscall.EPERM)
}
