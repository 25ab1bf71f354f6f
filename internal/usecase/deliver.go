// Package usecase contains application business logic.
package usecase

import (
	"context"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/eliteGoblin/dictd/internal/domain"
)

// Dictation is a finished transcription ready to be handed to the user.
type Dictation struct {
	Text     string
	Window   *domain.WindowContext
	Duration time.Duration
}

// DeliveryResult records what each output step did.
type DeliveryResult struct {
	Copied    bool
	Typed     bool
	Notified  bool
	HistoryID int64
	Errors    []error
}

// DelivererConfig selects the output steps.
type DelivererConfig struct {
	CopyToClipboard bool
	TypeText        bool
	Notify          bool
	SaveHistory     bool
	HistoryLimit    int // Entries kept after each save; 0 keeps everything
	PreviewLength   int // Characters of text shown in the notification
}

// Pruner is implemented by history stores that can drop old entries.
type Pruner interface {
	Prune(keep int) (int64, error)
}

// DefaultDelivererConfig returns default delivery configuration.
func DefaultDelivererConfig() DelivererConfig {
	return DelivererConfig{
		CopyToClipboard: true,
		TypeText:        false,
		Notify:          true,
		SaveHistory:     true,
		HistoryLimit:    1000,
		PreviewLength:   80,
	}
}

// Deliverer fans a transcription out to clipboard, keyboard, notification and history.
// Every step is best-effort: failures are collected and logged, never returned.
type Deliverer struct {
	config    DelivererConfig
	clipboard domain.Clipboard
	typer     domain.Typer
	notifier  domain.Notifier
	history   domain.HistoryStore
	logger    *zap.Logger
}

// NewDeliverer creates a deliverer. Nil collaborators are skipped.
func NewDeliverer(
	config DelivererConfig,
	clipboard domain.Clipboard,
	typer domain.Typer,
	notifier domain.Notifier,
	history domain.HistoryStore,
	logger *zap.Logger,
) *Deliverer {
	return &Deliverer{
		config:    config,
		clipboard: clipboard,
		typer:     typer,
		notifier:  notifier,
		history:   history,
		logger:    logger,
	}
}

// Deliver runs the enabled output steps in order.
func (d *Deliverer) Deliver(ctx context.Context, dictation Dictation) DeliveryResult {
	var result DeliveryResult

	if d.config.CopyToClipboard && d.clipboard != nil {
		if err := d.clipboard.SetText(ctx, dictation.Text); err != nil {
			d.logger.Warn("failed to copy transcription to clipboard", zap.Error(err))
			result.Errors = append(result.Errors, err)
		} else {
			result.Copied = true
		}
	}

	if d.config.TypeText && d.typer != nil {
		if err := d.typer.Type(ctx, dictation.Text); err != nil {
			d.logger.Warn("failed to type transcription", zap.Error(err))
			result.Errors = append(result.Errors, err)
		} else {
			result.Typed = true
		}
	}

	if d.config.SaveHistory && d.history != nil {
		entry := domain.Transcription{
			CreatedAt: time.Now(),
			Text:      dictation.Text,
			Duration:  dictation.Duration,
		}
		if dictation.Window != nil {
			entry.WindowClass = dictation.Window.WindowClass
		}
		id, err := d.history.Save(entry)
		if err != nil {
			d.logger.Warn("failed to save transcription history", zap.Error(err))
			result.Errors = append(result.Errors, err)
		} else {
			result.HistoryID = id
			d.prune()
		}
	}

	if d.config.Notify && d.notifier != nil {
		message := preview(dictation.Text, d.config.PreviewLength)
		if !result.Copied && !result.Typed && len(result.Errors) > 0 {
			message = "Transcribed, but output failed: " + result.Errors[0].Error()
		}
		if err := d.notifier.Notify("Dictation complete", message); err != nil {
			d.logger.Debug("notification failed", zap.Error(err))
			result.Errors = append(result.Errors, err)
		} else {
			result.Notified = true
		}
	}

	d.logger.Info("transcription delivered",
		zap.Int("chars", utf8.RuneCountInString(dictation.Text)),
		zap.Bool("copied", result.Copied),
		zap.Bool("typed", result.Typed),
		zap.Int64("history_id", result.HistoryID),
		zap.Int("errors", len(result.Errors)))
	return result
}

// NotifyFailure shows a desktop notification for a failed dictation.
func (d *Deliverer) NotifyFailure(message string) {
	if !d.config.Notify || d.notifier == nil {
		return
	}
	if err := d.notifier.Notify("Dictation failed", message); err != nil {
		d.logger.Debug("notification failed", zap.Error(err))
	}
}

func (d *Deliverer) prune() {
	pruner, ok := d.history.(Pruner)
	if !ok || d.config.HistoryLimit <= 0 {
		return
	}
	if removed, err := pruner.Prune(d.config.HistoryLimit); err != nil {
		d.logger.Warn("failed to prune transcription history", zap.Error(err))
	} else if removed > 0 {
		d.logger.Debug("pruned transcription history", zap.Int64("removed", removed))
	}
}

func preview(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + "…"
}
