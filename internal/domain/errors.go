package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Recording errors.
var (
	// ErrAlreadyRecording is returned when a capture is requested while one is live.
	ErrAlreadyRecording = errors.New("already recording")

	// ErrNotRecording is returned when stop or abort finds no live capture.
	ErrNotRecording = errors.New("not currently recording")

	// ErrRecordingMissing means the capture tool exited without producing a file.
	ErrRecordingMissing = errors.New("recording file was not created")

	// ErrRecordingEmpty means the capture tool produced a zero-length file.
	ErrRecordingEmpty = errors.New("recording file is empty")
)

// Transcription errors.
var (
	// ErrNoCredentials means no API key is configured for the transcription service.
	ErrNoCredentials = errors.New("no transcription API key configured")

	// ErrBadAudio means the service rejected the audio or the file is unusable.
	ErrBadAudio = errors.New("audio rejected by transcription service")
)

// InvalidTransitionError is returned when an event is not allowed in the current state.
type InvalidTransitionError struct {
	State State
	Event EventType
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("Invalid transition: cannot process '%s' in state '%s'", e.Event, e.State)
}

// DependencyMissingError means a required external binary is not installed.
type DependencyMissingError struct {
	Binary string
	Hint   string
}

func (e *DependencyMissingError) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("%s not found in PATH", e.Binary)
	}
	return fmt.Sprintf("%s not found in PATH. %s", e.Binary, e.Hint)
}

// CaptureFailedError is a runtime failure of the capture tool (spawn error, bad exit).
type CaptureFailedError struct {
	Err    error
	Stderr string
}

func (e *CaptureFailedError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("audio capture failed: %v", e.Err)
	}
	return fmt.Sprintf("audio capture failed: %v: %s", e.Err, e.Stderr)
}

func (e *CaptureFailedError) Unwrap() error {
	return e.Err
}

// AlreadyRunningError means a live daemon holds the PID file.
type AlreadyRunningError struct {
	PID int
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("daemon already running (pid %d)", e.PID)
}

// ServiceError is a non-retryable or exhausted failure from the transcription service.
type ServiceError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("transcription service error: %v", e.Err)
	}
	if e.Body == "" {
		return fmt.Sprintf("transcription service error (HTTP %d %s)", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("transcription service error (HTTP %d): %s", e.StatusCode, e.Body)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
