// Package daemon implements the dictation daemon: control files, socket server and
// command dispatch.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eliteGoblin/dictd/internal/domain"
	"github.com/eliteGoblin/dictd/internal/protocol"
	"github.com/eliteGoblin/dictd/internal/session"
	"github.com/eliteGoblin/dictd/internal/usecase"
)

// Output receives finished dictations and failures.
type Output interface {
	Deliver(ctx context.Context, dictation usecase.Dictation) usecase.DeliveryResult
	NotifyFailure(message string)
}

// Config holds daemon configuration.
type Config struct {
	KeepRecordings    bool          // Keep WAV files after transcription
	TranscribeTimeout time.Duration // Upper bound for one transcription call
	WindowTimeout     time.Duration // Upper bound for window detection
	HandleSignals     bool          // Stop on SIGINT/SIGTERM
}

// DefaultConfig returns default daemon configuration.
func DefaultConfig() Config {
	return Config{
		TranscribeTimeout: 2 * time.Minute,
		WindowTimeout:     2 * time.Second,
		HandleSignals:     true,
	}
}

// Daemon owns the session and the recorder and answers control commands.
//
// All session mutations run on the session loop goroutine. Recorder work and
// transcription run on a single FIFO worker, so a stop always follows the
// start it belongs to. Each recording gets a generation; a completion for a
// generation other than the current one is dropped.
type Daemon struct {
	config      Config
	files       *ControlFiles
	machine     *session.Machine
	recorder    domain.AudioRecorder
	transcriber domain.Transcriber
	window      domain.WindowDetector
	output      Output
	logger      *zap.Logger

	ops      chan func()
	loopDone chan struct{}
	jobs     *jobQueue

	// Session loop only.
	generation uint64
	closing    bool

	mu      sync.Mutex
	stopRun context.CancelFunc
}

// New creates a daemon. window and output may be nil.
func New(
	config Config,
	files *ControlFiles,
	recorder domain.AudioRecorder,
	transcriber domain.Transcriber,
	window domain.WindowDetector,
	output Output,
	logger *zap.Logger,
) *Daemon {
	d := &Daemon{
		config:      config,
		files:       files,
		machine:     session.NewMachine(),
		recorder:    recorder,
		transcriber: transcriber,
		window:      window,
		output:      output,
		logger:      logger,
		ops:         make(chan func()),
		loopDone:    make(chan struct{}),
		jobs:        newJobQueue(),
	}

	d.machine.Subscribe(session.ObserverFunc(func(t session.Transition) {
		logger.Info("session transition",
			zap.String("from", string(t.From)),
			zap.String("to", string(t.To)),
			zap.String("event", string(t.Event)))
	}))

	recorder.OnMaxDuration(func() {
		d.post(func() {
			if d.machine.State() != domain.StateRecording {
				return
			}
			logger.Warn("recording hit maximum duration, stopping")
			d.stop()
		})
	})
	recorder.OnUnexpectedExit(func(err error) {
		d.post(func() {
			if d.machine.State() != domain.StateRecording {
				return
			}
			d.failCurrent(fmt.Sprintf("Recording failed: %v", err))
		})
	})

	return d
}

// Run performs the startup sequence and serves until a shutdown command, a
// signal, ctx cancellation or a fatal error. Control files are removed on
// every exit path after a successful bind.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.files.EnsureDir(); err != nil {
		return err
	}

	release, err := d.files.Acquire()
	if err != nil {
		return err
	}

	removed, err := d.files.Reconcile()
	if err != nil {
		release()
		return err
	}
	for _, path := range removed {
		d.logger.Info("removed stale control file", zap.String("path", path))
	}

	srv, err := Listen(d.files.SocketPath, d, d.logger)
	if err != nil {
		release()
		return err
	}

	pid := d.files.processManager.GetCurrentPID()
	if err := d.files.WritePID(pid); err != nil {
		srv.Close()
		_ = d.files.Cleanup(pid)
		release()
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	release()

	defer func() {
		if err := d.files.Cleanup(pid); err != nil {
			d.logger.Warn("control file cleanup incomplete", zap.Error(err))
		}
	}()

	d.machine.Reset()

	if d.config.HandleSignals {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.mu.Lock()
	d.stopRun = cancel
	d.mu.Unlock()

	d.logger.Info("daemon started",
		zap.Int("pid", pid),
		zap.String("socket", d.files.SocketPath))

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		d.sessionLoop(gctx)
		return nil
	})
	g.Go(func() error {
		d.jobs.run(gctx)
		return nil
	})
	g.Go(srv.Serve)
	g.Go(func() error {
		<-gctx.Done()
		return srv.Close()
	})

	err = g.Wait()

	// Worker and loop are gone; nothing else touches the recorder now.
	if d.recorder.IsRecording() {
		if abortErr := d.recorder.Abort(); abortErr != nil {
			d.logger.Debug("abort on shutdown", zap.Error(abortErr))
		}
		d.logger.Info("in-flight recording aborted")
	}

	if err != nil {
		d.logger.Error("daemon stopped with error", zap.Error(err))
		return err
	}
	d.logger.Info("daemon stopped")
	return nil
}

// Shutdown asks a running daemon to stop. Safe to call more than once.
func (d *Daemon) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopRun != nil {
		d.stopRun()
	}
}

// Handle implements Handler. It runs the command on the session loop.
func (d *Daemon) Handle(ctx context.Context, req protocol.Request) (protocol.Response, func()) {
	var resp protocol.Response
	var after func()
	done := make(chan struct{})

	op := func() {
		resp, after = d.dispatch(req)
		close(done)
	}

	select {
	case d.ops <- op:
	case <-d.loopDone:
		return protocol.Failure("Daemon is shutting down"), nil
	case <-ctx.Done():
		return protocol.Failure("Daemon is shutting down"), nil
	}
	<-done
	return resp, after
}

func (d *Daemon) sessionLoop(ctx context.Context) {
	defer close(d.loopDone)
	for {
		select {
		case op := <-d.ops:
			op()
		case <-ctx.Done():
			return
		}
	}
}

// post runs fn on the session loop and waits for it. It reports false if the
// loop has exited.
func (d *Daemon) post(fn func()) bool {
	done := make(chan struct{})
	select {
	case d.ops <- func() { fn(); close(done) }:
		<-done
		return true
	case <-d.loopDone:
		return false
	}
}

// isCurrent reports whether gen is still the live recording generation.
func (d *Daemon) isCurrent(gen uint64) bool {
	current := false
	d.post(func() { current = gen == d.generation && !d.closing })
	return current
}

func (d *Daemon) dispatch(req protocol.Request) (protocol.Response, func()) {
	switch req.Command {
	case protocol.CommandPing:
		return protocol.Response{Success: true, State: d.machine.State(), Message: "pong"}, nil

	case protocol.CommandStatus:
		state, ctx := d.machine.Snapshot()
		return protocol.Response{Success: true, State: state, Context: &ctx}, nil

	case protocol.CommandStart:
		return d.start(), nil

	case protocol.CommandStop:
		return d.stop(), nil

	case protocol.CommandToggle:
		if d.machine.State() == domain.StateRecording {
			return d.stop(), nil
		}
		return d.start(), nil

	case protocol.CommandCancel:
		return d.cancel(), nil

	case protocol.CommandShutdown:
		d.closing = true
		d.generation++
		return protocol.Response{
			Success: true,
			State:   d.machine.State(),
			Message: "Daemon shutting down",
		}, d.Shutdown

	default:
		resp := protocol.UnknownCommand(req.Command)
		resp.State = d.machine.State()
		return resp, nil
	}
}

func (d *Daemon) rejected(err error) protocol.Response {
	resp := protocol.Failure(err.Error())
	resp.State = d.machine.State()
	return resp
}

func (d *Daemon) start() protocol.Response {
	if d.closing {
		return d.rejected(errors.New("Daemon is shutting down"))
	}
	if err := d.machine.Start(); err != nil {
		return d.rejected(err)
	}

	d.generation++
	gen := d.generation
	d.jobs.push(func(ctx context.Context) { d.captureJob(ctx, gen) })

	return protocol.Response{Success: true, State: d.machine.State(), Message: "Recording started"}
}

func (d *Daemon) stop() protocol.Response {
	if err := d.machine.Stop(); err != nil {
		return d.rejected(err)
	}

	gen := d.generation
	d.jobs.push(func(ctx context.Context) { d.transcribeJob(ctx, gen) })

	return protocol.Response{
		Success:   true,
		State:     d.machine.State(),
		Message:   "Recording stopped, transcribing",
		AudioPath: d.recorder.CurrentPath(),
	}
}

func (d *Daemon) cancel() protocol.Response {
	if d.machine.State() != domain.StateRecording {
		return d.rejected(domain.ErrNotRecording)
	}
	d.failCurrent("Recording cancelled")
	d.jobs.push(func(context.Context) {
		if err := d.recorder.Abort(); err != nil && !errors.Is(err, domain.ErrNotRecording) {
			d.logger.Warn("abort failed", zap.Error(err))
		}
	})
	return protocol.Response{Success: true, State: d.machine.State(), Message: "Recording cancelled"}
}

// failCurrent moves the session to idle with msg and retires the generation.
// Session loop only.
func (d *Daemon) failCurrent(msg string) {
	d.generation++
	d.machine.Fail(msg)
	if d.output != nil {
		// Notifications can block on the desktop bus; keep them off the session loop.
		d.jobs.push(func(context.Context) { d.output.NotifyFailure(msg) })
	}
}

// resolveFailure reports a background failure for gen exactly once.
func (d *Daemon) resolveFailure(gen uint64, msg string) {
	d.post(func() {
		if gen != d.generation {
			d.logger.Debug("dropping stale failure", zap.Uint64("generation", gen), zap.String("error", msg))
			return
		}
		d.failCurrent(msg)
	})
}

// resolveSuccess applies transcription_complete for gen. It reports whether it was applied.
func (d *Daemon) resolveSuccess(gen uint64, text string) (applied bool, window *domain.WindowContext) {
	d.post(func() {
		if gen != d.generation {
			d.logger.Debug("dropping stale transcription", zap.Uint64("generation", gen))
			return
		}
		if err := d.machine.TranscriptionComplete(text); err != nil {
			d.logger.Warn("transcription result rejected", zap.Error(err))
			return
		}
		d.generation++
		applied = true
		_, ctx := d.machine.Snapshot()
		window = ctx.CurrentWindow
	})
	return applied, window
}

// captureJob starts the recorder for gen and snapshots the focused window.
func (d *Daemon) captureJob(ctx context.Context, gen uint64) {
	if !d.isCurrent(gen) {
		return
	}

	path, err := d.recorder.Start(ctx)
	if err != nil {
		msg := fmt.Sprintf("Recording failed: %v", err)
		var missing *domain.DependencyMissingError
		if errors.As(err, &missing) {
			msg = missing.Error()
		}
		d.logger.Error("failed to start recording", zap.Error(err))
		d.resolveFailure(gen, msg)
		return
	}

	// Cancelled or shut down while spawning.
	if !d.isCurrent(gen) {
		d.logger.Info("recording superseded before it started, aborting", zap.String("path", path))
		_ = d.recorder.Abort()
		return
	}

	if d.window == nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, d.config.WindowTimeout)
	defer cancel()
	w, err := d.window.Detect(wctx)
	if err != nil {
		d.logger.Debug("window detection failed", zap.Error(err))
		return
	}
	d.post(func() {
		if gen == d.generation {
			d.machine.SetWindow(w)
		}
	})
}

// transcribeJob stops the recorder, transcribes and delivers the result for gen.
func (d *Daemon) transcribeJob(ctx context.Context, gen uint64) {
	rec, err := d.recorder.Stop(ctx)
	if err != nil {
		d.logger.Error("failed to stop recording", zap.Error(err))
		d.resolveFailure(gen, fmt.Sprintf("Recording failed: %v", err))
		return
	}
	defer d.discard(rec.Path)

	tctx, cancel := context.WithTimeout(ctx, d.config.TranscribeTimeout)
	defer cancel()
	text, err := d.transcriber.Transcribe(tctx, rec.Path)
	if err != nil {
		d.logger.Error("transcription failed", zap.String("path", rec.Path), zap.Error(err))
		d.resolveFailure(gen, fmt.Sprintf("Transcription failed: %v", err))
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		d.resolveFailure(gen, "No speech detected")
		return
	}

	applied, window := d.resolveSuccess(gen, text)
	if !applied || d.output == nil {
		return
	}
	d.output.Deliver(ctx, usecase.Dictation{Text: text, Window: window, Duration: rec.Duration})
}

func (d *Daemon) discard(path string) {
	if d.config.KeepRecordings || path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		d.logger.Debug("failed to remove recording", zap.String("path", path), zap.Error(err))
	}
}

// jobQueue is an unbounded FIFO drained by one goroutine.
type jobQueue struct {
	mu    sync.Mutex
	items []func(context.Context)
	wake  chan struct{}
}

func newJobQueue() *jobQueue {
	return &jobQueue{wake: make(chan struct{}, 1)}
}

// push never blocks.
func (q *jobQueue) push(job func(context.Context)) {
	q.mu.Lock()
	q.items = append(q.items, job)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *jobQueue) pop() (func(context.Context), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	job := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return job, true
}

func (q *jobQueue) run(ctx context.Context) {
	for {
		for {
			job, ok := q.pop()
			if !ok {
				break
			}
			if ctx.Err() != nil {
				return
			}
			job(ctx)
		}
		select {
		case <-q.wake:
		case <-ctx.Done():
			return
		}
	}
}
