package infra

import (
	"context"
	"errors"
	"fmt"

	"github.com/atotto/clipboard"

	"github.com/eliteGoblin/dictd/internal/domain"
)

// ErrClipboardUnsupported means no clipboard tool (wl-copy, xclip, xsel) was found.
var ErrClipboardUnsupported = errors.New("no clipboard utility available (install wl-clipboard, xclip or xsel)")

// SystemClipboard implements domain.Clipboard with github.com/atotto/clipboard.
type SystemClipboard struct {
	write       func(string) error
	unsupported func() bool
}

// NewClipboard creates a clipboard writer backed by the desktop's clipboard tool.
func NewClipboard() *SystemClipboard {
	return &SystemClipboard{
		write:       clipboard.WriteAll,
		unsupported: func() bool { return clipboard.Unsupported },
	}
}

// SetText replaces the clipboard contents.
func (c *SystemClipboard) SetText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.unsupported() {
		return ErrClipboardUnsupported
	}
	if err := c.write(text); err != nil {
		return fmt.Errorf("failed to write clipboard: %w", err)
	}
	return nil
}

var _ domain.Clipboard = (*SystemClipboard)(nil)
