// Package config loads dictd settings from config.yaml, a credentials .env file and DICTD_* variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level structure for config.yaml.
type Config struct {
	Recorder      RecorderConfig      `yaml:"recorder"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Output        OutputConfig        `yaml:"output"`
	Daemon        DaemonConfig        `yaml:"daemon"`
	Log           LogConfig           `yaml:"log"`
}

// RecorderConfig selects and tunes the capture tool.
type RecorderConfig struct {
	Backend     string        `yaml:"backend"` // arecord | ffmpeg | pw-record
	Command     string        `yaml:"command"` // Override binary path
	Device      string        `yaml:"device"`
	SampleRate  int           `yaml:"sample_rate"`
	Channels    int           `yaml:"channels"`
	MaxDuration time.Duration `yaml:"max_duration"`
	GracePeriod time.Duration `yaml:"grace_period"`
}

// TranscriptionConfig points at an OpenAI-compatible transcription endpoint.
type TranscriptionConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Language    string        `yaml:"language"`
	Prompt      string        `yaml:"prompt"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`

	// APIKey is only read from the environment or the .env file.
	APIKey string `yaml:"-"`
}

// OutputConfig controls where a finished transcription goes.
type OutputConfig struct {
	Clipboard    bool   `yaml:"clipboard"`
	Type         bool   `yaml:"type"`
	TypeCommand  string `yaml:"type_command"` // wtype | xdotool; empty picks by session
	Notify       bool   `yaml:"notify"`
	History      bool   `yaml:"history"`
	HistoryLimit int    `yaml:"history_limit"` // Entries kept; 0 keeps everything
}

// DaemonConfig controls daemon lifecycle.
type DaemonConfig struct {
	AutoStart      bool          `yaml:"auto_start"`
	KeepRecordings bool          `yaml:"keep_recordings"`
	ReadyTimeout   time.Duration `yaml:"ready_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LogConfig controls the daemon log file.
type LogConfig struct {
	Level      string `yaml:"level"` // debug | info | warn | error
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Recorder: RecorderConfig{
			Backend:     "arecord",
			SampleRate:  16000,
			Channels:    1,
			MaxDuration: 5 * time.Minute,
			GracePeriod: 3 * time.Second,
		},
		Transcription: TranscriptionConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "whisper-1",
			Timeout:     60 * time.Second,
			MaxAttempts: 3,
		},
		Output: OutputConfig{
			Clipboard:    true,
			Notify:       true,
			History:      true,
			HistoryLimit: 1000,
		},
		Daemon: DaemonConfig{
			AutoStart:      true,
			ReadyTimeout:   5 * time.Second,
			RequestTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load builds the effective configuration: defaults, then configPath (if present),
// then credentials from envPath (if present), then DICTD_* environment variables.
func Load(configPath, envPath string) (*Config, error) {
	cfg := DefaultConfig()

	if err := readYAML(configPath, cfg); err != nil {
		return nil, err
	}

	dotenv, err := readDotenv(envPath)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv(func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return dotenv[key]
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readYAML(path string, cfg *Config) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func readDotenv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return values, nil
}

// applyEnv overrides fields from DICTD_* variables. OPENAI_API_KEY is accepted as a fallback key.
func (c *Config) applyEnv(getenv func(string) string) {
	get := func(key string) string { return strings.TrimSpace(getenv(key)) }

	c.Transcription.APIKey = firstNonEmpty(get("DICTD_API_KEY"), get("OPENAI_API_KEY"), c.Transcription.APIKey)
	c.Transcription.BaseURL = envOrDefault(get, "DICTD_API_BASE", c.Transcription.BaseURL)
	c.Transcription.Model = envOrDefault(get, "DICTD_MODEL", c.Transcription.Model)
	c.Transcription.Language = envOrDefault(get, "DICTD_LANGUAGE", c.Transcription.Language)

	c.Recorder.Backend = envOrDefault(get, "DICTD_BACKEND", c.Recorder.Backend)
	c.Recorder.Command = envOrDefault(get, "DICTD_RECORDER_COMMAND", c.Recorder.Command)
	c.Recorder.Device = envOrDefault(get, "DICTD_DEVICE", c.Recorder.Device)
	c.Recorder.SampleRate = envOrDefaultInt(get, "DICTD_SAMPLE_RATE", c.Recorder.SampleRate)
	c.Recorder.MaxDuration = envOrDefaultDuration(get, "DICTD_MAX_DURATION", c.Recorder.MaxDuration)

	c.Output.Clipboard = envOrDefaultBool(get, "DICTD_CLIPBOARD", c.Output.Clipboard)
	c.Output.Type = envOrDefaultBool(get, "DICTD_TYPE", c.Output.Type)
	c.Output.Notify = envOrDefaultBool(get, "DICTD_NOTIFY", c.Output.Notify)
	c.Output.History = envOrDefaultBool(get, "DICTD_HISTORY", c.Output.History)

	c.Daemon.AutoStart = envOrDefaultBool(get, "DICTD_AUTO_START", c.Daemon.AutoStart)
	c.Daemon.KeepRecordings = envOrDefaultBool(get, "DICTD_KEEP_RECORDINGS", c.Daemon.KeepRecordings)

	c.Log.Level = envOrDefault(get, "DICTD_LOG_LEVEL", c.Log.Level)
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Recorder.Backend {
	case "arecord", "ffmpeg", "pw-record":
	default:
		errs = append(errs, fmt.Errorf("recorder.backend: unknown backend %q (want arecord, ffmpeg or pw-record)", c.Recorder.Backend))
	}
	if c.Recorder.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("recorder.sample_rate: must be positive, got %d", c.Recorder.SampleRate))
	}
	if c.Recorder.Channels <= 0 {
		errs = append(errs, fmt.Errorf("recorder.channels: must be positive, got %d", c.Recorder.Channels))
	}
	if c.Recorder.MaxDuration <= 0 {
		errs = append(errs, errors.New("recorder.max_duration: must be positive"))
	}
	if c.Output.HistoryLimit < 0 {
		errs = append(errs, errors.New("output.history_limit: must not be negative"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	return errors.Join(errs...)
}

// WriteConfig writes cfg as YAML to path, creating the directory if needed.
func WriteConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(get func(string) string, key string, fallback string) string {
	if value := get(key); value != "" {
		return value
	}
	return fallback
}

func envOrDefaultInt(get func(string) string, key string, fallback int) int {
	value := get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(get func(string) string, key string, fallback bool) bool {
	switch strings.ToLower(get(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// envOrDefaultDuration accepts Go durations ("90s") or plain seconds ("90").
func envOrDefaultDuration(get func(string) string, key string, fallback time.Duration) time.Duration {
	value := get(key)
	if value == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return fallback
}
