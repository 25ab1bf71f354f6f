package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/eliteGoblin/dictd/internal/domain"
	"github.com/eliteGoblin/dictd/internal/infra"
)

// Control file names inside the runtime directory.
const (
	SocketName    = "dictd.sock"
	PIDName       = "dictd.pid"
	LockName      = "dictd.lock"
	SpawnLockName = "spawn.lock"
)

// ControlFiles manages the socket, PID and lock files shared across daemon instances.
type ControlFiles struct {
	Dir        string
	SocketPath string
	PIDPath    string
	LockPath   string

	processManager domain.ProcessManager
}

// NewControlFiles creates control files rooted at dir.
func NewControlFiles(dir string, pm domain.ProcessManager) *ControlFiles {
	return &ControlFiles{
		Dir:            dir,
		SocketPath:     filepath.Join(dir, SocketName),
		PIDPath:        filepath.Join(dir, PIDName),
		LockPath:       filepath.Join(dir, LockName),
		processManager: pm,
	}
}

// SpawnLockPath is the lock clients hold while auto-starting a daemon.
func (c *ControlFiles) SpawnLockPath() string {
	return filepath.Join(c.Dir, SpawnLockName)
}

// EnsureDir creates the runtime directory with owner-only permissions.
func (c *ControlFiles) EnsureDir() error {
	if err := os.MkdirAll(c.Dir, 0700); err != nil {
		return fmt.Errorf("failed to create runtime dir: %w", err)
	}
	return nil
}

// Acquire takes the exclusive startup lock. The returned func releases it.
func (c *ControlFiles) Acquire() (release func(), err error) {
	return infra.LockFile(context.Background(), c.LockPath)
}

// ReadPID returns the PID recorded in the PID file, or 0 if there is none.
func (c *ControlFiles) ReadPID() (int, error) {
	data, err := os.ReadFile(c.PIDPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file contents %q", strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// LivePID returns the recorded PID if that process is running.
func (c *ControlFiles) LivePID() (int, bool) {
	pid, err := c.ReadPID()
	if err != nil || pid == 0 {
		return 0, false
	}
	if pid == c.processManager.GetCurrentPID() || !c.processManager.IsRunning(pid) {
		return 0, false
	}
	return pid, true
}

// Reconcile removes control files left by a daemon that is no longer running.
// It fails with *domain.AlreadyRunningError when the PID file names a live process.
// Callers hold the startup lock.
func (c *ControlFiles) Reconcile() (removed []string, err error) {
	pid, readErr := c.ReadPID()
	switch {
	case readErr == nil && pid == 0:
		// No PID file.
	case readErr == nil && pid != c.processManager.GetCurrentPID() && c.processManager.IsRunning(pid):
		return nil, &domain.AlreadyRunningError{PID: pid}
	default:
		if err := os.Remove(c.PIDPath); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove stale PID file: %w", err)
		}
		removed = append(removed, c.PIDPath)
	}

	// No live daemon claims the socket, so any socket file is stale.
	if _, err := os.Lstat(c.SocketPath); err == nil {
		if err := os.Remove(c.SocketPath); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove stale socket: %w", err)
		}
		removed = append(removed, c.SocketPath)
	}
	return removed, nil
}

// WritePID atomically records pid in the PID file.
func (c *ControlFiles) WritePID(pid int) error {
	tmpPath := fmt.Sprintf("%s.%d.tmp", c.PIDPath, os.Getpid())
	if err := os.WriteFile(tmpPath, []byte(strconv.Itoa(pid)+"\n"), 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, c.PIDPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Cleanup removes the socket and, if it still names pid, the PID file.
// Errors are joined; every removal is attempted.
func (c *ControlFiles) Cleanup(pid int) error {
	var errs []error
	if err := os.Remove(c.SocketPath); err != nil && !os.IsNotExist(err) {
		errs = append(errs, err)
	}
	if recorded, err := c.ReadPID(); err == nil && recorded == pid {
		if err := os.Remove(c.PIDPath); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
