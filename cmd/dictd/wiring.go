package main

import (
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/dictd/internal/client"
	"github.com/eliteGoblin/dictd/internal/config"
	"github.com/eliteGoblin/dictd/internal/daemon"
	"github.com/eliteGoblin/dictd/internal/domain"
	"github.com/eliteGoblin/dictd/internal/infra"
	"github.com/eliteGoblin/dictd/internal/recorder"
	"github.com/eliteGoblin/dictd/internal/transcribe"
	"github.com/eliteGoblin/dictd/internal/usecase"
)

// wiring builds the daemon and client object graphs from configuration.
type wiring struct {
	paths  *infra.Paths
	cfg    *config.Config
	files  *daemon.ControlFiles
	logger *zap.Logger
}

func newWiring(paths *infra.Paths, cfg *config.Config, logger *zap.Logger) *wiring {
	return &wiring{
		paths:  paths,
		cfg:    cfg,
		files:  daemon.NewControlFiles(paths.RuntimeDir, infra.NewProcessManager()),
		logger: logger,
	}
}

func (w *wiring) client(timeout time.Duration) *client.Client {
	if timeout <= 0 {
		timeout = w.cfg.Daemon.RequestTimeout
	}
	return client.New(w.files.SocketPath, timeout)
}

func (w *wiring) launcher() *client.Launcher {
	spawner := client.SpawnFunc(func() (int, error) {
		return daemon.StartDetached("", []string{"daemon"}, os.Environ())
	})
	return client.NewLauncher(
		w.files.SocketPath,
		w.files.SpawnLockPath(),
		w.files,
		spawner,
		client.LauncherConfig{ReadyTimeout: w.cfg.Daemon.ReadyTimeout},
		w.logger,
	)
}

// daemon assembles a daemon. The returned func releases the history database.
func (w *wiring) daemon() (*daemon.Daemon, func(), error) {
	rec := recorder.NewManager(recorderConfig(w.cfg, w.paths.RecordingsDir), w.logger.Named("recorder"))
	tr := transcribe.New(transcribeConfig(w.cfg), w.logger.Named("transcribe"))

	var history domain.HistoryStore
	closeFn := func() {}
	if w.cfg.Output.History {
		h, err := infra.OpenHistory(w.paths.DataDir)
		if err != nil {
			// History is optional output; dictation still works without it.
			w.logger.Warn("transcription history disabled", zap.Error(err))
		} else {
			history = h
			closeFn = func() { _ = h.Close() }
		}
	}

	deliverer := usecase.NewDeliverer(
		delivererConfig(w.cfg),
		infra.NewClipboard(),
		infra.NewTyper(w.cfg.Output.TypeCommand),
		infra.NewNotifier(),
		history,
		w.logger.Named("output"),
	)

	d := daemon.New(
		daemonConfig(w.cfg),
		w.files,
		rec,
		tr,
		infra.NewWindowDetector(),
		deliverer,
		w.logger,
	)
	return d, closeFn, nil
}

func recorderConfig(cfg *config.Config, outputDir string) recorder.Config {
	rc := recorder.DefaultConfig()
	rc.Backend = cfg.Recorder.Backend
	rc.Command = cfg.Recorder.Command
	rc.Device = cfg.Recorder.Device
	rc.SampleRate = cfg.Recorder.SampleRate
	rc.Channels = cfg.Recorder.Channels
	rc.MaxDuration = cfg.Recorder.MaxDuration
	if cfg.Recorder.GracePeriod > 0 {
		rc.GracePeriod = cfg.Recorder.GracePeriod
	}
	rc.OutputDir = outputDir
	return rc
}

func transcribeConfig(cfg *config.Config) transcribe.Config {
	tc := transcribe.DefaultConfig()
	tc.BaseURL = cfg.Transcription.BaseURL
	tc.APIKey = cfg.Transcription.APIKey
	tc.Model = cfg.Transcription.Model
	tc.Language = cfg.Transcription.Language
	tc.Prompt = cfg.Transcription.Prompt
	if cfg.Transcription.Timeout > 0 {
		tc.RequestTimeout = cfg.Transcription.Timeout
	}
	if cfg.Transcription.MaxAttempts > 0 {
		tc.MaxAttempts = cfg.Transcription.MaxAttempts
	}
	return tc
}

func delivererConfig(cfg *config.Config) usecase.DelivererConfig {
	dc := usecase.DefaultDelivererConfig()
	dc.CopyToClipboard = cfg.Output.Clipboard
	dc.TypeText = cfg.Output.Type
	dc.Notify = cfg.Output.Notify
	dc.SaveHistory = cfg.Output.History
	dc.HistoryLimit = cfg.Output.HistoryLimit
	return dc
}

// daemonConfig bounds a transcription by every attempt plus backoff slack.
func daemonConfig(cfg *config.Config) daemon.Config {
	dc := daemon.DefaultConfig()
	dc.KeepRecordings = cfg.Daemon.KeepRecordings
	tc := transcribeConfig(cfg)
	dc.TranscribeTimeout = tc.RequestTimeout*time.Duration(tc.MaxAttempts) + 10*time.Second
	return dc
}

// configYAML renders cfg for display. The API key is never included.
func configYAML(cfg *config.Config) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
