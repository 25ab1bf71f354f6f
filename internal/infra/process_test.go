package infra

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessManager_IsRunning(t *testing.T) {
	pm := NewProcessManager()

	assert.True(t, pm.IsRunning(os.Getpid()))
	assert.False(t, pm.IsRunning(0))
	assert.False(t, pm.IsRunning(-1))
	assert.Equal(t, os.Getpid(), pm.GetCurrentPID())
}

func TestProcessManager_ZombieIsNotRunning(t *testing.T) {
	cmd := exec.Command("sh", "-c", "exit 0")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	t.Cleanup(func() { _ = cmd.Wait() })

	// Not reaped until Wait, so the exited child lingers as a zombie.
	pm := NewProcessManager()
	assert.Eventually(t, func() bool { return !pm.IsRunning(pid) }, 2*time.Second, 20*time.Millisecond)
}
