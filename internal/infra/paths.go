package infra

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
)

const appName = "dictd"

// Paths holds the per-user directories dictd reads and writes.
type Paths struct {
	RuntimeDir    string // Socket, PID and lock files
	ConfigDir     string // config.yaml and .env
	StateDir      string // Logs
	DataDir       string // Encrypted history and its key
	RecordingsDir string // Temporary WAV files
}

// DetectPaths resolves directories from the XDG base directory variables.
func DetectPaths() *Paths {
	home := GetRealUserHome()
	runtime := RuntimeDir()

	return &Paths{
		RuntimeDir:    runtime,
		ConfigDir:     xdgDir("XDG_CONFIG_HOME", filepath.Join(home, ".config")),
		StateDir:      xdgDir("XDG_STATE_HOME", filepath.Join(home, ".local", "state")),
		DataDir:       xdgDir("XDG_DATA_HOME", filepath.Join(home, ".local", "share")),
		RecordingsDir: filepath.Join(runtime, "recordings"),
	}
}

// RuntimeDir returns $XDG_RUNTIME_DIR/dictd, or /tmp/dictd-<uid> when unset.
func RuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, appName)
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s-%d", appName, os.Getuid()))
}

// ConfigFile returns the config.yaml path.
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.ConfigDir, "config.yaml")
}

// EnvFile returns the credentials .env path.
func (p *Paths) EnvFile() string {
	return filepath.Join(p.ConfigDir, ".env")
}

// LogFile returns the daemon log path.
func (p *Paths) LogFile() string {
	return filepath.Join(p.StateDir, appName+".log")
}

func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" && filepath.IsAbs(dir) {
		return filepath.Join(dir, appName)
	}
	return filepath.Join(fallback, appName)
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns root's home, so we use SUDO_USER to find the real user.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
