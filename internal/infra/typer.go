package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/eliteGoblin/dictd/internal/domain"
)

// KeyboardTyper implements domain.Typer by running wtype on Wayland or xdotool on X11.
type KeyboardTyper struct {
	command string // Empty selects by session type
}

// NewTyper creates a typer. An empty command picks wtype or xdotool from the session.
func NewTyper(command string) *KeyboardTyper {
	return &KeyboardTyper{command: command}
}

// Type sends text as keystrokes to the focused window.
func (t *KeyboardTyper) Type(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	name := t.command
	if name == "" {
		name = defaultTyperCommand()
	}
	path, err := exec.LookPath(name)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return &domain.DependencyMissingError{Binary: name, Hint: typerHint(name)}
		}
		return err
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, typerArgs(name)...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s failed: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}

func defaultTyperCommand() string {
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		return "wtype"
	}
	return "xdotool"
}

// typerArgs reads the text from stdin, so leading dashes are never parsed as flags.
func typerArgs(name string) []string {
	switch name {
	case "xdotool":
		return []string{"type", "--clearmodifiers", "--file", "-"}
	default:
		return []string{"-"}
	}
}

func typerHint(name string) string {
	switch name {
	case "wtype":
		return "Install it with your package manager (e.g. `pacman -S wtype`)."
	case "xdotool":
		return "Install it with your package manager (e.g. `apt install xdotool`)."
	default:
		return "Install it or set output.type_command in config.yaml."
	}
}

var _ domain.Typer = (*KeyboardTyper)(nil)
