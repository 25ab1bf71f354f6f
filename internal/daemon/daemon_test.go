package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/dictd/internal/domain"
	"github.com/eliteGoblin/dictd/internal/protocol"
	"github.com/eliteGoblin/dictd/internal/usecase"
)

// fakeRecorder is an in-memory AudioRecorder.
type fakeRecorder struct {
	mu        sync.Mutex
	dir       string
	recording bool
	path      string
	startErr  error
	stopErr   error
	starts    int
	stops     int
	aborts    int
	onMax     func()
	onExit    func(error)
}

func (r *fakeRecorder) Start(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return "", domain.ErrAlreadyRecording
	}
	if r.startErr != nil {
		return "", r.startErr
	}
	r.starts++
	r.recording = true
	r.path = filepath.Join(r.dir, fmt.Sprintf("rec-%d.wav", r.starts))
	if err := os.WriteFile(r.path, []byte("RIFF"), 0600); err != nil {
		return "", err
	}
	return r.path, nil
}

func (r *fakeRecorder) Stop(ctx context.Context) (domain.Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return domain.Recording{}, domain.ErrNotRecording
	}
	r.recording = false
	r.stops++
	if r.stopErr != nil {
		return domain.Recording{}, r.stopErr
	}
	return domain.Recording{Path: r.path, Duration: time.Second, Verified: true}, nil
}

func (r *fakeRecorder) Abort() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return domain.ErrNotRecording
	}
	r.recording = false
	r.aborts++
	_ = os.Remove(r.path)
	return nil
}

func (r *fakeRecorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

func (r *fakeRecorder) CurrentPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return ""
	}
	return r.path
}

func (r *fakeRecorder) OnMaxDuration(fn func())          { r.onMax = fn }
func (r *fakeRecorder) OnUnexpectedExit(fn func(error)) { r.onExit = fn }

func (r *fakeRecorder) counts() (starts, stops, aborts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops, r.aborts
}

// fakeTranscriber returns text or err, optionally waiting on gate first.
type fakeTranscriber struct {
	text string
	err  error
	gate chan struct{}
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

type fakeWindow struct{}

func (fakeWindow) Detect(ctx context.Context) (*domain.WindowContext, error) {
	return &domain.WindowContext{WindowClass: "kitty", WindowTitle: "vim", IsCodeAware: true}, nil
}

type fakeOutput struct {
	mu        sync.Mutex
	delivered []usecase.Dictation
	failures  []string
}

func (o *fakeOutput) Deliver(ctx context.Context, d usecase.Dictation) usecase.DeliveryResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delivered = append(o.delivered, d)
	return usecase.DeliveryResult{Copied: true}
}

func (o *fakeOutput) NotifyFailure(msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, msg)
}

func (o *fakeOutput) failureMessages() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.failures...)
}

func (o *fakeOutput) dictations() []usecase.Dictation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]usecase.Dictation(nil), o.delivered...)
}

type harness struct {
	daemon      *Daemon
	files       *ControlFiles
	pm          *mockProcessManager
	recorder    *fakeRecorder
	transcriber *fakeTranscriber
	output      *fakeOutput
	done        chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := shortDir(t)
	pm := newMockProcessManager()
	h := &harness{
		files:       NewControlFiles(filepath.Join(dir, "run"), pm),
		pm:          pm,
		recorder:    &fakeRecorder{dir: dir},
		transcriber: &fakeTranscriber{text: "hello world"},
		output:      &fakeOutput{},
		done:        make(chan error, 1),
	}
	cfg := DefaultConfig()
	cfg.HandleSignals = false
	h.daemon = New(cfg, h.files, h.recorder, h.transcriber, fakeWindow{}, h.output, zap.NewNop())
	return h
}

// run starts the daemon and waits until the socket answers.
func (h *harness) run(t *testing.T) {
	t.Helper()
	go func() { h.done <- h.daemon.Run(context.Background()) }()
	t.Cleanup(func() {
		h.daemon.Shutdown()
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	require.Eventually(t, func() bool {
		conn, err := net.Dial("unix", h.files.SocketPath)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

// send writes payload and reads n response lines.
func (h *harness) send(t *testing.T, payload string, n int) []string {
	t.Helper()
	conn, r := dial(t, h.files.SocketPath)
	_, err := conn.Write([]byte(payload))
	require.NoError(t, err)

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		lines = append(lines, strings.TrimSuffix(line, "\n"))
	}
	return lines
}

func (h *harness) command(t *testing.T, cmd string) protocol.Response {
	t.Helper()
	line := h.send(t, fmt.Sprintf(`{"command":%q}`+"\n", cmd), 1)[0]
	resp, err := protocol.DecodeResponse([]byte(line))
	require.NoError(t, err)
	return *resp
}

func (h *harness) status(t *testing.T) protocol.Response {
	return h.command(t, protocol.CommandStatus)
}

func (h *harness) waitState(t *testing.T, want domain.State) protocol.Response {
	t.Helper()
	var last protocol.Response
	require.Eventually(t, func() bool {
		last = h.status(t)
		return last.State == want
	}, 3*time.Second, 10*time.Millisecond, "want state %s", want)
	return last
}

func TestDaemon_StatusOfFreshDaemon(t *testing.T) {
	h := newHarness(t)
	h.run(t)

	lines := h.send(t, `{"command":"status"}`+"\n", 1)

	assert.Equal(t,
		`{"success":true,"state":"idle","context":{"currentWindow":null,"lastError":null,"lastTranscription":null}}`,
		lines[0])
}

func TestDaemon_StopWhileIdleIsRejected(t *testing.T) {
	h := newHarness(t)
	h.run(t)

	lines := h.send(t, `{"command":"stop"}`+"\n", 1)

	assert.Equal(t,
		`{"success":false,"state":"idle","error":"Invalid transition: cannot process 'stop' in state 'idle'"}`,
		lines[0])
}

func TestDaemon_FullCycle(t *testing.T) {
	h := newHarness(t)
	h.run(t)

	start := h.command(t, protocol.CommandStart)
	require.True(t, start.Success)
	assert.Equal(t, domain.StateRecording, start.State)

	require.Eventually(t, h.recorder.IsRecording, 2*time.Second, 10*time.Millisecond)
	path := h.recorder.CurrentPath()

	stop := h.command(t, protocol.CommandStop)
	require.True(t, stop.Success)
	assert.Equal(t, domain.StateTranscribing, stop.State)
	assert.Equal(t, path, stop.AudioPath)

	final := h.waitState(t, domain.StateIdle)
	require.NotNil(t, final.Context)
	require.NotNil(t, final.Context.LastTranscription)
	assert.Equal(t, "hello world", *final.Context.LastTranscription)
	assert.Nil(t, final.Context.LastError)
	require.NotNil(t, final.Context.CurrentWindow)
	assert.Equal(t, "kitty", final.Context.CurrentWindow.WindowClass)

	require.Eventually(t, func() bool { return len(h.output.dictations()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := h.output.dictations()[0]
	assert.Equal(t, "hello world", got.Text)
	assert.Equal(t, time.Second, got.Duration)
	assert.NoFileExists(t, path, "recording removed after transcription")
}

func TestDaemon_KeepRecordings(t *testing.T) {
	h := newHarness(t)
	h.daemon.config.KeepRecordings = true
	h.run(t)

	h.command(t, protocol.CommandStart)
	require.Eventually(t, h.recorder.IsRecording, 2*time.Second, 10*time.Millisecond)
	path := h.recorder.CurrentPath()
	h.command(t, protocol.CommandStop)
	h.waitState(t, domain.StateIdle)

	require.Eventually(t, func() bool { return len(h.output.dictations()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.FileExists(t, path)
}

func TestDaemon_SecondStartRejected(t *testing.T) {
	h := newHarness(t)
	h.run(t)

	require.True(t, h.command(t, protocol.CommandStart).Success)
	second := h.command(t, protocol.CommandStart)

	assert.False(t, second.Success)
	assert.Equal(t, domain.StateRecording, second.State)
	assert.Equal(t, "Invalid transition: cannot process 'start' in state 'recording'", second.Error)

	require.Eventually(t, h.recorder.IsRecording, 2*time.Second, 10*time.Millisecond)
	starts, _, _ := h.recorder.counts()
	assert.Equal(t, 1, starts)
}

func TestDaemon_ProtocolErrorsLeaveSessionAlone(t *testing.T) {
	h := newHarness(t)
	h.run(t)

	lines := h.send(t, "{oops\n"+`{"command":"dance"}`+"\n"+`{"command":"ping"}`+"\n", 3)

	assert.Equal(t, `{"success":false,"error":"Invalid JSON"}`, lines[0])
	assert.Equal(t, `{"success":false,"state":"idle","error":"Unknown command: dance"}`, lines[1])
	assert.Equal(t, `{"success":true,"state":"idle","message":"pong"}`, lines[2])
}

func TestDaemon_CaptureDependencyMissing(t *testing.T) {
	h := newHarness(t)
	h.recorder.startErr = &domain.DependencyMissingError{Binary: "arecord", Hint: "Install alsa-utils."}
	h.run(t)

	require.True(t, h.command(t, protocol.CommandStart).Success)

	final := h.waitState(t, domain.StateIdle)
	require.NotNil(t, final.Context.LastError)
	assert.Equal(t, "arecord not found in PATH. Install alsa-utils.", *final.Context.LastError)
}

func TestDaemon_StopFailureReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	h.recorder.stopErr = domain.ErrRecordingEmpty
	h.run(t)

	h.command(t, protocol.CommandStart)
	require.Eventually(t, h.recorder.IsRecording, 2*time.Second, 10*time.Millisecond)
	h.command(t, protocol.CommandStop)

	final := h.waitState(t, domain.StateIdle)
	require.NotNil(t, final.Context.LastError)
	assert.Equal(t, "Recording failed: recording file is empty", *final.Context.LastError)
	assert.Nil(t, final.Context.LastTranscription)
}

func TestDaemon_TranscriptionFailure(t *testing.T) {
	h := newHarness(t)
	h.transcriber.err = domain.ErrNoCredentials
	h.run(t)

	h.command(t, protocol.CommandStart)
	h.command(t, protocol.CommandStop)

	final := h.waitState(t, domain.StateIdle)
	require.NotNil(t, final.Context.LastError)
	assert.Equal(t, "Transcription failed: no transcription API key configured", *final.Context.LastError)
	assert.Empty(t, h.output.dictations())
	assert.Eventually(t, func() bool {
		return len(h.output.failureMessages()) == 1
	}, 2*time.Second, 10*time.Millisecond, "failure is notified once")
	assert.Equal(t, []string{"Transcription failed: no transcription API key configured"}, h.output.failureMessages())
}

func TestDaemon_EmptyTranscript(t *testing.T) {
	h := newHarness(t)
	h.transcriber.text = "  \n"
	h.run(t)

	h.command(t, protocol.CommandStart)
	h.command(t, protocol.CommandStop)

	final := h.waitState(t, domain.StateIdle)
	require.NotNil(t, final.Context.LastError)
	assert.Equal(t, "No speech detected", *final.Context.LastError)
}

func TestDaemon_StatusDuringTranscription(t *testing.T) {
	h := newHarness(t)
	h.transcriber.gate = make(chan struct{})
	h.run(t)

	h.command(t, protocol.CommandStart)
	h.command(t, protocol.CommandStop)

	assert.Equal(t, domain.StateTranscribing, h.status(t).State)
	rejected := h.command(t, protocol.CommandStart)
	assert.False(t, rejected.Success)
	assert.Equal(t, domain.StateTranscribing, rejected.State)

	close(h.transcriber.gate)
	h.waitState(t, domain.StateIdle)
}

func TestDaemon_Toggle(t *testing.T) {
	h := newHarness(t)
	h.run(t)

	first := h.command(t, protocol.CommandToggle)
	assert.Equal(t, domain.StateRecording, first.State)

	second := h.command(t, protocol.CommandToggle)
	assert.Equal(t, domain.StateTranscribing, second.State)

	h.waitState(t, domain.StateIdle)
}

func TestDaemon_Cancel(t *testing.T) {
	h := newHarness(t)
	h.run(t)

	h.command(t, protocol.CommandStart)
	require.Eventually(t, h.recorder.IsRecording, 2*time.Second, 10*time.Millisecond)

	resp := h.command(t, protocol.CommandCancel)

	assert.True(t, resp.Success)
	assert.Equal(t, domain.StateIdle, resp.State)
	require.Eventually(t, func() bool {
		_, _, aborts := h.recorder.counts()
		return aborts == 1
	}, 2*time.Second, 10*time.Millisecond)

	st := h.status(t)
	require.NotNil(t, st.Context.LastError)
	assert.Equal(t, "Recording cancelled", *st.Context.LastError)
	assert.Empty(t, h.output.dictations())

	// Ready for the next recording straight away.
	assert.True(t, h.command(t, protocol.CommandStart).Success)
}

func TestDaemon_CancelWhenIdle(t *testing.T) {
	h := newHarness(t)
	h.run(t)

	resp := h.command(t, protocol.CommandCancel)

	assert.False(t, resp.Success)
	assert.Equal(t, "not currently recording", resp.Error)
}

func TestDaemon_MaxDurationRoutesThroughStop(t *testing.T) {
	h := newHarness(t)
	h.run(t)

	h.command(t, protocol.CommandStart)
	require.Eventually(t, h.recorder.IsRecording, 2*time.Second, 10*time.Millisecond)

	h.recorder.onMax()

	final := h.waitState(t, domain.StateIdle)
	require.NotNil(t, final.Context.LastTranscription)
	assert.Equal(t, "hello world", *final.Context.LastTranscription)
	_, stops, _ := h.recorder.counts()
	assert.Equal(t, 1, stops)
}

func TestDaemon_UnexpectedCaptureExit(t *testing.T) {
	h := newHarness(t)
	h.run(t)

	h.command(t, protocol.CommandStart)
	require.Eventually(t, h.recorder.IsRecording, 2*time.Second, 10*time.Millisecond)

	h.recorder.onExit(&domain.CaptureFailedError{Err: errors.New("exit status 1"), Stderr: "device busy"})

	final := h.waitState(t, domain.StateIdle)
	require.NotNil(t, final.Context.LastError)
	assert.Equal(t, "Recording failed: audio capture failed: exit status 1: device busy", *final.Context.LastError)
}

func TestDaemon_StaleCompletionDropped(t *testing.T) {
	h := newHarness(t)
	h.run(t)

	var gen uint64
	require.True(t, h.daemon.post(func() { gen = h.daemon.generation }))
	h.command(t, protocol.CommandStart)
	h.command(t, protocol.CommandStop)
	h.waitState(t, domain.StateIdle)

	h.daemon.resolveFailure(gen, "late failure")
	applied, _ := h.daemon.resolveSuccess(gen, "late text")

	assert.False(t, applied)
	st := h.status(t)
	assert.Nil(t, st.Context.LastError)
	assert.Equal(t, "hello world", *st.Context.LastTranscription)
}

func TestDaemon_Shutdown(t *testing.T) {
	h := newHarness(t)
	h.run(t)

	h.command(t, protocol.CommandStart)
	require.Eventually(t, h.recorder.IsRecording, 2*time.Second, 10*time.Millisecond)

	resp := h.command(t, protocol.CommandShutdown)
	assert.True(t, resp.Success)
	assert.Equal(t, "Daemon shutting down", resp.Message)

	select {
	case err := <-h.done:
		assert.NoError(t, err)
		h.done <- err // for cleanup
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not exit")
	}

	assert.NoFileExists(t, h.files.SocketPath)
	assert.NoFileExists(t, h.files.PIDPath)
	_, _, aborts := h.recorder.counts()
	assert.Equal(t, 1, aborts)
}

func TestDaemon_ContextCancelCleansUp(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.done <- h.daemon.Run(ctx) }()
	require.Eventually(t, func() bool {
		_, err := os.Stat(h.files.PIDPath)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not exit")
	}
	assert.NoFileExists(t, h.files.SocketPath)
	assert.NoFileExists(t, h.files.PIDPath)
}

func TestDaemon_StartsOverStaleFiles(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.files.EnsureDir())
	require.NoError(t, h.files.WritePID(999999))
	require.NoError(t, os.WriteFile(h.files.SocketPath, []byte("stale"), 0600))

	h.run(t)

	assert.Equal(t, domain.StateIdle, h.status(t).State)
	pid, err := h.files.ReadPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestDaemon_RefusesWhenAnotherIsLive(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.files.EnsureDir())
	require.NoError(t, h.files.WritePID(4242))
	require.NoError(t, os.WriteFile(h.files.SocketPath, []byte("live"), 0600))
	h.pm.SetRunning(4242, true)

	err := h.daemon.Run(context.Background())

	var running *domain.AlreadyRunningError
	require.True(t, errors.As(err, &running))
	assert.Equal(t, 4242, running.PID)
	assert.FileExists(t, h.files.SocketPath, "live daemon's files untouched")
	pid, _ := h.files.ReadPID()
	assert.Equal(t, 4242, pid)
}
