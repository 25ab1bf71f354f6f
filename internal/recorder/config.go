package recorder

import (
	"os"
	"strconv"
	"time"
)

// Capture backends.
const (
	BackendArecord  = "arecord"
	BackendFFmpeg   = "ffmpeg"
	BackendPWRecord = "pw-record"
)

// Config controls how the capture tool is invoked and supervised.
type Config struct {
	Backend    string // arecord, ffmpeg or pw-record
	Command    string // Binary to run; defaults to the backend name
	Device     string // Capture device; backend default when empty
	SampleRate int
	Channels   int
	Format     string // Sample format, e.g. S16_LE
	OutputDir  string // Where recordings are written

	MaxDuration    time.Duration // Safety ceiling; recording is stopped automatically
	GracePeriod    time.Duration // Wait after SIGINT before SIGKILL
	VerifyTimeout  time.Duration // How long to wait for a header-consistent WAV
	VerifyInterval time.Duration // Poll interval while verifying
}

// DefaultConfig returns default capture configuration.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendArecord,
		SampleRate:     16000,
		Channels:       1,
		Format:         "S16_LE",
		OutputDir:      os.TempDir(),
		MaxDuration:    5 * time.Minute,
		GracePeriod:    3 * time.Second,
		VerifyTimeout:  2 * time.Second,
		VerifyInterval: 50 * time.Millisecond,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.Command == "" {
		c.Command = c.Backend
	}
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	if c.Channels <= 0 {
		c.Channels = d.Channels
	}
	if c.Format == "" {
		c.Format = d.Format
	}
	if c.OutputDir == "" {
		c.OutputDir = d.OutputDir
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = d.MaxDuration
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = d.VerifyTimeout
	}
	if c.VerifyInterval <= 0 {
		c.VerifyInterval = d.VerifyInterval
	}
	return c
}

// installHint tells the user how to get the capture tool.
func (c Config) installHint() string {
	switch c.Backend {
	case BackendFFmpeg:
		return "Install ffmpeg (e.g. apt install ffmpeg)."
	case BackendPWRecord:
		return "Install PipeWire tools (e.g. apt install pipewire-bin)."
	default:
		return "Install alsa-utils (e.g. apt install alsa-utils)."
	}
}

// captureArgs builds the capture command line. The output path is always last.
func (c Config) captureArgs(outputPath string) []string {
	rate := strconv.Itoa(c.SampleRate)
	channels := strconv.Itoa(c.Channels)

	switch c.Backend {
	case BackendFFmpeg:
		input := c.Device
		if input == "" {
			input = "default"
		}
		return []string{
			"-nostdin",
			"-hide_banner",
			"-loglevel", "error",
			"-f", "pulse",
			"-i", input,
			"-ac", channels,
			"-ar", rate,
			"-c:a", ffmpegCodec(c.Format),
			"-y",
			outputPath,
		}

	case BackendPWRecord:
		args := []string{
			"--rate", rate,
			"--channels", channels,
			"--format", pwFormat(c.Format),
		}
		if c.Device != "" {
			args = append(args, "--target", c.Device)
		}
		return append(args, outputPath)

	default:
		args := []string{"-q"}
		if c.Device != "" {
			args = append(args, "-D", c.Device)
		}
		return append(args,
			"-f", c.Format,
			"-r", rate,
			"-c", channels,
			"-t", "wav",
			outputPath,
		)
	}
}

func ffmpegCodec(format string) string {
	switch format {
	case "S32_LE":
		return "pcm_s32le"
	case "FLOAT_LE":
		return "pcm_f32le"
	default:
		return "pcm_s16le"
	}
}

func pwFormat(format string) string {
	switch format {
	case "S32_LE":
		return "s32"
	case "FLOAT_LE":
		return "f32"
	default:
		return "s16"
	}
}
