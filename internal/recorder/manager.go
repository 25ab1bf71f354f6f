// Package recorder supervises the external audio-capture tool.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/dictd/internal/domain"
)

// handle is the live capture. Fields are guarded by Manager.mu except where noted.
type handle struct {
	cmd       *exec.Cmd
	path      string
	startedAt time.Time
	timer     *time.Timer
	stopping  bool

	done    chan struct{} // closed once the process has been reaped
	waitErr error         // valid after done
	stderr  *tailBuffer
}

// Manager implements domain.AudioRecorder. Safe for concurrent use.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu               sync.Mutex
	current          *handle
	lastStamp        int64
	onMaxDuration    func()
	onUnexpectedExit func(error)
}

// NewManager creates a recording manager.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// OnMaxDuration sets the callback run when a recording reaches MaxDuration.
func (m *Manager) OnMaxDuration(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMaxDuration = fn
}

// OnUnexpectedExit sets the callback run when the capture tool exits on its own.
func (m *Manager) OnUnexpectedExit(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUnexpectedExit = fn
}

// IsRecording reports whether a capture is live.
func (m *Manager) IsRecording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// CurrentPath returns the output path of the live capture, or "".
func (m *Manager) CurrentPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.path
}

// Start spawns the capture tool and returns its output path.
func (m *Manager) Start(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return "", domain.ErrAlreadyRecording
	}

	bin, err := exec.LookPath(m.cfg.Command)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return "", &domain.DependencyMissingError{Binary: m.cfg.Command, Hint: m.cfg.installHint()}
		}
		return "", &domain.CaptureFailedError{Err: err}
	}

	if err := os.MkdirAll(m.cfg.OutputDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create recording dir: %w", err)
	}
	path := m.nextPath()

	cmd := exec.Command(bin, m.cfg.captureArgs(path)...)
	cmd.SysProcAttr = sysProcAttr()
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return "", &domain.DependencyMissingError{Binary: m.cfg.Command, Hint: m.cfg.installHint()}
		}
		return "", &domain.CaptureFailedError{Err: err}
	}

	h := &handle{
		cmd:       cmd,
		path:      path,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		stderr:    stderr,
	}
	h.timer = time.AfterFunc(m.cfg.MaxDuration, func() { m.maxDurationReached(h) })
	m.current = h

	go m.reap(h)

	m.logger.Info("recording started",
		zap.String("path", path),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("backend", m.cfg.Backend))
	return path, nil
}

// Stop sends SIGINT, escalates to SIGKILL after GracePeriod, then verifies the file.
// ctx bounds only the verification window; signal escalation always runs to completion.
func (m *Manager) Stop(ctx context.Context) (domain.Recording, error) {
	m.mu.Lock()
	h := m.current
	if h == nil || h.stopping {
		m.mu.Unlock()
		return domain.Recording{}, domain.ErrNotRecording
	}
	h.stopping = true
	h.timer.Stop()
	m.mu.Unlock()

	defer m.release(h)

	m.terminate(h)

	elapsed := time.Since(h.startedAt)
	verified, err := verifyRecording(ctx, h.path, m.cfg.VerifyTimeout, m.cfg.VerifyInterval)
	if err != nil {
		m.logger.Warn("recording verification failed",
			zap.String("path", h.path),
			zap.String("stderr", h.stderr.String()),
			zap.Error(err))
		return domain.Recording{}, err
	}

	rec := domain.Recording{Path: h.path, Duration: elapsed, Verified: verified}
	if verified {
		if d := wavDuration(h.path); d > 0 {
			rec.Duration = d
		}
	} else {
		m.logger.Warn("recording header never matched file size, continuing anyway",
			zap.String("path", h.path),
			zap.Duration("timeout", m.cfg.VerifyTimeout))
	}

	m.logger.Info("recording stopped",
		zap.String("path", rec.Path),
		zap.Duration("duration", rec.Duration),
		zap.Bool("verified", rec.Verified))
	return rec, nil
}

// Abort kills the capture immediately and removes the partial file.
func (m *Manager) Abort() error {
	m.mu.Lock()
	h := m.current
	if h == nil {
		m.mu.Unlock()
		return domain.ErrNotRecording
	}
	alreadyStopping := h.stopping
	h.stopping = true
	h.timer.Stop()
	m.mu.Unlock()

	signalGroup(h.cmd, syscall.SIGKILL)
	select {
	case <-h.done:
	case <-time.After(m.cfg.GracePeriod):
		m.logger.Warn("capture tool did not exit after SIGKILL", zap.Int("pid", h.cmd.Process.Pid))
	}

	// A concurrent Stop owns the handle and will release it.
	if alreadyStopping {
		return nil
	}

	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		m.logger.Debug("failed to remove aborted recording", zap.String("path", h.path), zap.Error(err))
	}
	m.release(h)
	m.logger.Info("recording aborted", zap.String("path", h.path))
	return nil
}

// terminate signals the process group and waits for it to be reaped.
func (m *Manager) terminate(h *handle) {
	signalGroup(h.cmd, syscall.SIGINT)

	grace := time.NewTimer(m.cfg.GracePeriod)
	defer grace.Stop()

	select {
	case <-h.done:
		return
	case <-grace.C:
	}

	m.logger.Warn("capture tool ignored SIGINT, sending SIGKILL",
		zap.Int("pid", h.cmd.Process.Pid),
		zap.Duration("grace", m.cfg.GracePeriod))
	signalGroup(h.cmd, syscall.SIGKILL)
	<-h.done
}

// reap waits for the child and handles exits nobody asked for.
func (m *Manager) reap(h *handle) {
	err := h.cmd.Wait()
	h.waitErr = err
	close(h.done)

	m.mu.Lock()
	if m.current != h || h.stopping {
		m.mu.Unlock()
		return
	}
	h.timer.Stop()
	m.current = nil
	hook := m.onUnexpectedExit
	m.mu.Unlock()

	_ = os.Remove(h.path)

	cause := err
	if cause == nil {
		cause = errors.New("capture tool exited before stop")
	}
	failure := &domain.CaptureFailedError{Err: cause, Stderr: strings.TrimSpace(h.stderr.String())}
	m.logger.Error("capture tool exited unexpectedly", zap.String("path", h.path), zap.Error(failure))

	if hook != nil {
		hook(failure)
	}
}

func (m *Manager) maxDurationReached(h *handle) {
	m.mu.Lock()
	if m.current != h || h.stopping {
		m.mu.Unlock()
		return
	}
	hook := m.onMaxDuration
	m.mu.Unlock()

	m.logger.Warn("maximum recording duration reached", zap.Duration("max", m.cfg.MaxDuration))
	if hook != nil {
		hook()
		return
	}
	if _, err := m.Stop(context.Background()); err != nil && !errors.Is(err, domain.ErrNotRecording) {
		m.logger.Error("automatic stop failed", zap.Error(err))
	}
}

func (m *Manager) release(h *handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == h {
		m.current = nil
	}
}

// nextPath returns a recording path never handed out before. Caller holds mu.
func (m *Manager) nextPath() string {
	stamp := time.Now().UnixNano()
	if stamp <= m.lastStamp {
		stamp = m.lastStamp + 1
	}
	m.lastStamp = stamp
	return filepath.Join(m.cfg.OutputDir, fmt.Sprintf("dictd-%d.wav", stamp))
}

// signalGroup delivers sig to the child's process group, falling back to the child alone.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) {
	pid := cmd.Process.Pid
	if err := unix.Kill(-pid, sig); err == nil || errors.Is(err, unix.ESRCH) {
		return
	}
	_ = cmd.Process.Signal(sig)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

var _ domain.AudioRecorder = (*Manager)(nil)
