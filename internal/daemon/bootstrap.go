package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// StartDetached self-execs executable with args as a background daemon.
// The child runs in its own session with no stdio and is not waited for.
// It returns the child's PID.
func StartDetached(executable string, args []string, env []string) (int, error) {
	if executable == "" {
		self, err := os.Executable()
		if err != nil {
			return 0, err
		}
		executable = self
	}

	cmd := exec.Command(executable, args...)
	cmd.Env = env

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from terminal)
	}

	// No stdin/stdout/stderr - fully detached
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to spawn daemon: %w", err)
	}
	pid := cmd.Process.Pid

	// Reap in the background so a short-lived child does not linger as a zombie
	// while this process is still alive.
	go func() { _ = cmd.Wait() }()

	return pid, nil
}
