package client

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/eliteGoblin/dictd/internal/infra"
	"github.com/eliteGoblin/dictd/internal/protocol"
)

// Spawner starts a detached daemon and returns its PID.
type Spawner interface {
	Spawn() (int, error)
}

// SpawnFunc adapts a function to Spawner.
type SpawnFunc func() (int, error)

// Spawn calls f.
func (f SpawnFunc) Spawn() (int, error) { return f() }

// PIDSource reports the PID of a running daemon, if any.
type PIDSource interface {
	LivePID() (int, bool)
}

// DaemonStartError means a daemon could not be started or never became ready.
type DaemonStartError struct {
	PID     int
	Timeout time.Duration
	Err     error
}

func (e *DaemonStartError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to start daemon: %v", e.Err)
	}
	if e.PID != 0 {
		return fmt.Sprintf("daemon (pid %d) not ready after %s", e.PID, e.Timeout)
	}
	return fmt.Sprintf("daemon not ready after %s", e.Timeout)
}

func (e *DaemonStartError) Unwrap() error {
	return e.Err
}

// LauncherConfig controls auto-start polling.
type LauncherConfig struct {
	ReadyTimeout time.Duration // How long to wait for a spawned daemon
	PollInterval time.Duration // Liveness poll interval while waiting
	ProbeTimeout time.Duration // Timeout of a single liveness ping
}

// DefaultLauncherConfig returns default launcher configuration.
func DefaultLauncherConfig() LauncherConfig {
	return LauncherConfig{
		ReadyTimeout: 5 * time.Second,
		PollInterval: 100 * time.Millisecond,
		ProbeTimeout: 500 * time.Millisecond,
	}
}

// Launcher makes sure exactly one daemon is running, spawning it on demand.
//
// Callers in this process share one attempt. Callers in other processes
// serialize on an flock of lockPath, held until the daemon answers.
type Launcher struct {
	probe    *Client
	pids     PIDSource
	spawner  Spawner
	lockPath string
	config   LauncherConfig
	logger   *zap.Logger

	group singleflight.Group
}

// NewLauncher creates a launcher for the daemon listening on socketPath.
func NewLauncher(
	socketPath string,
	lockPath string,
	pids PIDSource,
	spawner Spawner,
	config LauncherConfig,
	logger *zap.Logger,
) *Launcher {
	d := DefaultLauncherConfig()
	if config.ReadyTimeout <= 0 {
		config.ReadyTimeout = d.ReadyTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = d.PollInterval
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = d.ProbeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{
		probe:    New(socketPath, config.ProbeTimeout),
		pids:     pids,
		spawner:  spawner,
		lockPath: lockPath,
		config:   config,
		logger:   logger,
	}
}

// EnsureRunning returns once a daemon answers ping. started reports whether
// this call spawned it.
func (l *Launcher) EnsureRunning(ctx context.Context) (started bool, err error) {
	if l.alive(ctx) {
		return false, nil
	}

	v, err, _ := l.group.Do("ensure", func() (any, error) {
		return l.ensure(ctx)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (l *Launcher) ensure(ctx context.Context) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.lockPath), 0700); err != nil {
		return false, &DaemonStartError{Err: err}
	}

	release, err := infra.LockFile(ctx, l.lockPath)
	if err != nil {
		return false, err
	}
	defer release()

	// Someone else may have finished starting it while we waited for the lock.
	if l.alive(ctx) {
		return false, nil
	}

	if pid, ok := l.pids.LivePID(); ok {
		l.logger.Info("daemon process exists but is not answering yet, waiting", zap.Int("pid", pid))
		return false, l.waitReady(ctx, pid)
	}

	pid, err := l.spawner.Spawn()
	if err != nil {
		return false, &DaemonStartError{Err: err}
	}
	l.logger.Info("spawned daemon", zap.Int("pid", pid))

	if err := l.waitReady(ctx, pid); err != nil {
		return false, err
	}
	return true, nil
}

// waitReady polls until the daemon answers or ReadyTimeout elapses.
func (l *Launcher) waitReady(ctx context.Context, pid int) error {
	deadline := time.NewTimer(l.config.ReadyTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()

	for {
		if l.alive(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return &DaemonStartError{PID: pid, Timeout: l.config.ReadyTimeout}
		case <-ticker.C:
		}
	}
}

func (l *Launcher) alive(ctx context.Context) bool {
	resp, err := l.probe.Send(ctx, protocol.CommandPing)
	return err == nil && resp.Success
}
