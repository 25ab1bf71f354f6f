package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/eliteGoblin/dictd/internal/domain"
)

// ErrNoWindowTool means neither hyprctl nor xdotool could report the focused window.
var ErrNoWindowTool = errors.New("no window query tool available (hyprctl or xdotool)")

// codeAwareClasses are window classes of editors and terminals, matched case-insensitively by prefix.
var codeAwareClasses = []string{
	"code", "vscodium", "cursor", "zed", "jetbrains-", "neovide", "emacs", "gvim", "sublime_text",
	"kitty", "alacritty", "foot", "wezterm", "ghostty", "konsole", "gnome-terminal", "xterm", "tilix",
}

// IsCodeAware reports whether class belongs to an editor or terminal.
// Reverse-DNS classes such as org.wezfurlong.wezterm match on their last segment.
func IsCodeAware(class string) bool {
	c := strings.ToLower(class)
	if i := strings.LastIndex(c, "."); i >= 0 {
		c = c[i+1:]
	}
	if c == "" {
		return false
	}
	for _, prefix := range codeAwareClasses {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// FocusedWindowDetector implements domain.WindowDetector.
// On Hyprland it asks hyprctl; elsewhere it falls back to xdotool.
type FocusedWindowDetector struct {
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewWindowDetector creates a detector that runs the desktop's query tools.
func NewWindowDetector() *FocusedWindowDetector {
	return &FocusedWindowDetector{run: runOutput}
}

// Detect returns the class and title of the focused window.
func (d *FocusedWindowDetector) Detect(ctx context.Context) (*domain.WindowContext, error) {
	var errs []error
	if os.Getenv("HYPRLAND_INSTANCE_SIGNATURE") != "" {
		w, err := d.hyprland(ctx)
		if err == nil {
			return w, nil
		}
		errs = append(errs, err)
	}

	w, err := d.x11(ctx)
	if err == nil {
		return w, nil
	}
	errs = append(errs, err)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return nil, fmt.Errorf("%w: %w", ErrNoWindowTool, errors.Join(errs...))
}

type hyprWindow struct {
	Class string `json:"class"`
	Title string `json:"title"`
}

func (d *FocusedWindowDetector) hyprland(ctx context.Context) (*domain.WindowContext, error) {
	out, err := d.run(ctx, "hyprctl", "activewindow", "-j")
	if err != nil {
		return nil, fmt.Errorf("hyprctl: %w", err)
	}
	var w hyprWindow
	if err := json.Unmarshal(out, &w); err != nil {
		return nil, fmt.Errorf("hyprctl: invalid JSON: %w", err)
	}
	return newWindowContext(w.Class, w.Title), nil
}

func (d *FocusedWindowDetector) x11(ctx context.Context) (*domain.WindowContext, error) {
	id, err := d.run(ctx, "xdotool", "getactivewindow")
	if err != nil {
		return nil, fmt.Errorf("xdotool: %w", err)
	}
	win := strings.TrimSpace(string(id))
	class, err := d.run(ctx, "xdotool", "getwindowclassname", win)
	if err != nil {
		return nil, fmt.Errorf("xdotool: %w", err)
	}
	// Title is optional; some windows have none.
	title, _ := d.run(ctx, "xdotool", "getwindowname", win)
	return newWindowContext(strings.TrimSpace(string(class)), strings.TrimSpace(string(title))), nil
}

func newWindowContext(class, title string) *domain.WindowContext {
	return &domain.WindowContext{
		WindowClass: class,
		WindowTitle: title,
		IsCodeAware: IsCodeAware(class),
	}
}

func runOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

var _ domain.WindowDetector = (*FocusedWindowDetector)(nil)
