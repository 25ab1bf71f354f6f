package domain

import "context"

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// Transcriber converts a finished recording into text.
// Errors wrap ErrNoCredentials, ErrBadAudio or are a *ServiceError.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Clipboard writes text into the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}

// Typer simulates keyboard input of text into the focused window.
type Typer interface {
	Type(ctx context.Context, text string) error
}

// Notifier shows a desktop notification. Best-effort.
type Notifier interface {
	Notify(title, message string) error
}

// WindowDetector queries the currently focused window.
type WindowDetector interface {
	Detect(ctx context.Context) (*WindowContext, error)
}

// HistoryStore persists transcriptions keyed by creation time.
type HistoryStore interface {
	// Save stores a transcription and returns its ID.
	Save(t Transcription) (int64, error)

	// Recent returns up to limit transcriptions, newest first.
	Recent(limit int) ([]Transcription, error)

	// Close releases resources (e.g., database connection).
	Close() error
}

// KeyProvider abstracts the source of the history encryption key.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// AudioRecorder owns the audio-capture subprocess. At most one recording is live.
type AudioRecorder interface {
	// Start spawns the capture tool and returns the output path without waiting for audio.
	Start(ctx context.Context) (string, error)

	// Stop terminates the capture gracefully and verifies the output file.
	Stop(ctx context.Context) (Recording, error)

	// Abort kills the capture immediately and deletes the partial file.
	// It returns ErrNotRecording when idle and never fails otherwise.
	Abort() error

	IsRecording() bool
	CurrentPath() string

	// OnMaxDuration replaces the automatic stop performed when the safety ceiling is hit.
	OnMaxDuration(fn func())

	// OnUnexpectedExit is called when the capture tool exits without being stopped.
	OnUnexpectedExit(fn func(err error))
}
