// Package domain contains core dictation entities, errors and collaborator interfaces.
// This is the innermost layer - no I/O and no external dependencies.
package domain

import "time"

// State is the session's recording/transcription status.
type State string

const (
	StateIdle         State = "idle"
	StateRecording    State = "recording"
	StateTranscribing State = "transcribing"
)

// EventType identifies a session event.
type EventType string

const (
	EventStart                 EventType = "start"
	EventStop                  EventType = "stop"
	EventTranscriptionComplete EventType = "transcription_complete"
	EventError                 EventType = "error"
)

// Event is an input to the session state machine.
// Text is only meaningful for transcription_complete, Message only for error.
type Event struct {
	Type    EventType
	Text    string
	Message string
}

// WindowContext is a snapshot of the focused window when recording started.
type WindowContext struct {
	WindowClass string `json:"windowClass"`
	WindowTitle string `json:"windowTitle"`
	IsCodeAware bool   `json:"isCodeAware"`
}

// Context is auxiliary session data reported by the status command.
// Fields are pointers so that unset values serialize as null.
type Context struct {
	CurrentWindow     *WindowContext `json:"currentWindow"`
	LastError         *string        `json:"lastError"`
	LastTranscription *string        `json:"lastTranscription"`
}

// Clone returns a deep copy of the context.
func (c Context) Clone() Context {
	out := Context{}
	if c.CurrentWindow != nil {
		w := *c.CurrentWindow
		out.CurrentWindow = &w
	}
	if c.LastError != nil {
		s := *c.LastError
		out.LastError = &s
	}
	if c.LastTranscription != nil {
		s := *c.LastTranscription
		out.LastTranscription = &s
	}
	return out
}

// Transcription is one persisted dictation result.
type Transcription struct {
	ID          int64
	CreatedAt   time.Time
	Text        string
	Duration    time.Duration // Length of the source recording, zero if unknown
	WindowClass string
}

// Recording is a finished capture returned by AudioRecorder.Stop.
type Recording struct {
	Path     string
	Duration time.Duration
	// Verified is false when the header never matched the file size within the
	// verification window; the file is still handed on.
	Verified bool
}
