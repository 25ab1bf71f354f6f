// Package protocol defines the newline-delimited JSON control protocol.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/eliteGoblin/dictd/internal/domain"
)

// Commands understood by the daemon.
const (
	CommandPing     = "ping"
	CommandStatus   = "status"
	CommandStart    = "start"
	CommandStop     = "stop"
	CommandShutdown = "shutdown"
	CommandToggle   = "toggle"
	CommandCancel   = "cancel"
)

// Request is one client frame.
type Request struct {
	Command string `json:"command"`
}

// Response is one daemon frame.
type Response struct {
	Success   bool            `json:"success"`
	State     domain.State    `json:"state,omitempty"`
	Context   *domain.Context `json:"context,omitempty"`
	Message   string          `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
	AudioPath string          `json:"audioPath,omitempty"`
}

// Decoding errors. Their messages are sent back to the client verbatim.
var (
	ErrMalformed      = errors.New("Invalid JSON")
	ErrMissingCommand = errors.New("Missing or invalid 'command' field")
)

// DecodeRequest parses one frame (without its trailing newline).
func DecodeRequest(frame []byte) (Request, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(frame, &raw); err != nil {
		return Request{}, ErrMalformed
	}

	field, ok := raw["command"]
	if !ok {
		return Request{}, ErrMissingCommand
	}

	var value any
	if err := json.Unmarshal(field, &value); err != nil {
		return Request{}, ErrMissingCommand
	}
	cmd, ok := value.(string)
	if !ok {
		return Request{}, ErrMissingCommand
	}
	return Request{Command: cmd}, nil
}

// EncodeRequest renders a request frame including the trailing newline.
func EncodeRequest(r Request) []byte {
	data, _ := json.Marshal(r)
	return append(data, '\n')
}

// Encode renders a response frame including the trailing newline.
func Encode(r Response) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Response contains only strings, bools and pointers to strings; it cannot fail.
	_ = enc.Encode(r)
	return buf.Bytes()
}

// DecodeResponse parses one response frame.
func DecodeResponse(frame []byte) (*Response, error) {
	var r Response
	if err := json.Unmarshal(frame, &r); err != nil {
		return nil, fmt.Errorf("invalid response from daemon: %w", err)
	}
	return &r, nil
}

// Failure builds an unsuccessful response.
func Failure(msg string) Response {
	return Response{Success: false, Error: msg}
}

// UnknownCommand builds the response for an unrecognized command.
func UnknownCommand(cmd string) Response {
	return Failure(fmt.Sprintf("Unknown command: %s", cmd))
}
