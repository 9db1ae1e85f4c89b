// Package daemon manages the agent's detached background incarnation: a
// PID file in the config directory, spawn with log redirection, liveness
// probing, and graceful stop with a kill escalation.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const (
	stopTimeout  = 5 * time.Second
	stopPollStep = 100 * time.Millisecond
)

// ErrAlreadyRunning means a live daemon holds the PID file.
var ErrAlreadyRunning = errors.New("relay daemon already running")

// Manager owns the PID file and the daemon process it points at.
type Manager struct {
	pidFile string
	logFile string
	logger  zerolog.Logger

	// execPath is swappable for tests; defaults to os.Executable.
	execPath func() (string, error)
}

func New(pidFile, logFile string, logger zerolog.Logger) *Manager {
	return &Manager{
		pidFile:  pidFile,
		logFile:  logFile,
		logger:   logger.With().Str("component", "daemon").Logger(),
		execPath: os.Executable,
	}
}

// LogFile returns the path daemon output is redirected to.
func (m *Manager) LogFile() string { return m.logFile }

// Spawn starts a detached copy of this binary running the relay in the
// foreground, with stdout and stderr appended to the daemon log. It fails
// when a live daemon already holds the PID file.
func (m *Manager) Spawn(verbose bool) (int, error) {
	if pid, alive := m.Pid(); alive {
		return 0, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}

	exe, err := m.execPath()
	if err != nil {
		return 0, fmt.Errorf("resolving executable: %w", err)
	}

	logf, err := os.OpenFile(m.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return 0, fmt.Errorf("opening daemon log: %w", err)
	}
	defer logf.Close()

	args := []string{"relay", "start", "--foreground"}
	if verbose {
		args = append(args, "--verbose")
	}
	cmd := exec.Command(exe, args...)
	cmd.Stdout = logf
	cmd.Stderr = logf
	cmd.Stdin = nil
	// New session: the daemon survives the parent's terminal.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting daemon: %w", err)
	}
	pid := cmd.Process.Pid

	if err := m.writePid(pid); err != nil {
		cmd.Process.Kill()
		return 0, err
	}
	// Release, don't wait: the child outlives this process.
	cmd.Process.Release()

	m.logger.Info().Int("pid", pid).Str("log", m.logFile).Msg("Relay daemon started")
	return pid, nil
}

// Pid resolves the PID file to a live process. Stale files (missing or
// dead process) are removed and report not-running.
func (m *Manager) Pid() (int, bool) {
	data, err := os.ReadFile(m.pidFile)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		os.Remove(m.pidFile)
		return 0, false
	}
	if !processAlive(pid) {
		m.logger.Debug().Int("pid", pid).Msg("Removing stale PID file")
		os.Remove(m.pidFile)
		return 0, false
	}
	return pid, true
}

// Stop terminates the daemon: SIGTERM, poll up to the stop timeout, then
// SIGKILL. The PID file is removed either way. The bool reports whether a
// live process was actually stopped.
func (m *Manager) Stop() (bool, error) {
	pid, alive := m.Pid()
	if !alive {
		return false, nil
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		os.Remove(m.pidFile)
		return false, fmt.Errorf("signalling daemon (pid %d): %w", pid, err)
	}

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			os.Remove(m.pidFile)
			m.logger.Info().Int("pid", pid).Msg("Relay daemon stopped")
			return true, nil
		}
		time.Sleep(stopPollStep)
	}

	m.logger.Warn().Int("pid", pid).Msg("Daemon did not exit, sending SIGKILL")
	syscall.Kill(pid, syscall.SIGKILL)
	os.Remove(m.pidFile)
	return true, nil
}

func (m *Manager) writePid(pid int) error {
	if err := os.WriteFile(m.pidFile, []byte(strconv.Itoa(pid)+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	return nil
}

// processAlive probes a PID with signal 0. EPERM still means the process
// exists, just owned by someone else.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
