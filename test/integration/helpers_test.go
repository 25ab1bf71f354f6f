//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/dictd/internal/client"
	"github.com/eliteGoblin/dictd/internal/daemon"
	"github.com/eliteGoblin/dictd/internal/domain"
	"github.com/eliteGoblin/dictd/internal/infra"
	"github.com/eliteGoblin/dictd/internal/recorder"
	"github.com/eliteGoblin/dictd/internal/transcribe"
	"github.com/eliteGoblin/dictd/internal/usecase"
)

// captureScript behaves like arecord: it writes a complete WAV when interrupted.
const captureScript = `#!/bin/sh
for a in "$@"; do out="$a"; done
trap 'cp "%s" "$out"; exit 0' INT TERM
while :; do sleep 0.05; done
`

type recordingClipboard struct {
	mu   sync.Mutex
	text []string
}

func (c *recordingClipboard) SetText(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = append(c.text, text)
	return nil
}

func (c *recordingClipboard) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.text...)
}

type staticWindow struct{}

func (staticWindow) Detect(ctx context.Context) (*domain.WindowContext, error) {
	return &domain.WindowContext{WindowClass: "kitty", WindowTitle: "nvim", IsCodeAware: true}, nil
}

// env is one daemon under test with real control files, recorder,
// transcription client and history, started on demand by a Launcher.
type env struct {
	dir       string
	files     *daemon.ControlFiles
	daemon    *daemon.Daemon
	history   *infra.EncryptedHistory
	clipboard *recordingClipboard
	api       *httptest.Server
	apiStatus atomic.Int32
	apiText   atomic.Value

	spawns  atomic.Int32
	runOnce sync.Once
	runErr  chan error
	cancel  context.CancelFunc
}

func newEnv() *env {
	dir, err := os.MkdirTemp("", "dictd-it")
	Expect(err).NotTo(HaveOccurred())

	fixture := filepath.Join(dir, "fixture.wav")
	writeWAV(fixture, 8000)
	tool := filepath.Join(dir, "fake-arecord")
	Expect(os.WriteFile(tool, []byte(fmt.Sprintf(captureScript, fixture)), 0755)).To(Succeed())

	e := &env{
		dir:       dir,
		clipboard: &recordingClipboard{},
		runErr:    make(chan error, 1),
	}
	e.apiStatus.Store(http.StatusOK)
	e.apiText.Store("hello from the mic")
	e.api = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status := int(e.apiStatus.Load()); status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided"}}`)
			return
		}
		fmt.Fprintf(w, `{"text":%q}`, e.apiText.Load().(string))
	}))

	logger := zap.NewNop()
	e.files = daemon.NewControlFiles(filepath.Join(dir, "run"), infra.NewProcessManager())

	recCfg := recorder.DefaultConfig()
	recCfg.Command = tool
	recCfg.OutputDir = filepath.Join(dir, "recordings")
	rec := recorder.NewManager(recCfg, logger)

	trCfg := transcribe.DefaultConfig()
	trCfg.BaseURL = e.api.URL
	trCfg.APIKey = "sk-integration"
	trCfg.MaxAttempts = 1
	tr := transcribe.New(trCfg, logger)

	e.history, err = infra.OpenHistory(filepath.Join(dir, "data"))
	Expect(err).NotTo(HaveOccurred())

	out := usecase.NewDeliverer(
		usecase.DelivererConfig{CopyToClipboard: true, SaveHistory: true},
		e.clipboard, nil, nil, e.history, logger,
	)

	cfg := daemon.DefaultConfig()
	cfg.HandleSignals = false
	e.daemon = daemon.New(cfg, e.files, rec, tr, staticWindow{}, out, logger)
	return e
}

// spawn stands in for self-exec: the first call runs the daemon in-process.
func (e *env) spawn() (int, error) {
	e.spawns.Add(1)
	e.runOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		e.cancel = cancel
		go func() { e.runErr <- e.daemon.Run(ctx) }()
	})
	return os.Getpid(), nil
}

func (e *env) launcher() *client.Launcher {
	return client.NewLauncher(
		e.files.SocketPath,
		e.files.SpawnLockPath(),
		e.files,
		client.SpawnFunc(e.spawn),
		client.DefaultLauncherConfig(),
		zap.NewNop(),
	)
}

func (e *env) client() *client.Client {
	return client.New(e.files.SocketPath, 0)
}

func (e *env) close() {
	if e.cancel != nil {
		e.cancel()
		Eventually(e.runErr, "5s").Should(Receive())
	}
	e.api.Close()
	_ = e.history.Close()
	os.RemoveAll(e.dir)
}

func writeWAV(path string, samples int) {
	f, err := os.Create(path)
	Expect(err).NotTo(HaveOccurred())
	defer f.Close()

	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 16000},
		Data:           make([]int, samples),
		SourceBitDepth: 16,
	}
	Expect(enc.Write(buf)).To(Succeed())
	Expect(enc.Close()).To(Succeed())
}
