package infra

import (
	"github.com/gen2brain/beeep"

	"github.com/eliteGoblin/dictd/internal/domain"
)

// DesktopNotifier implements domain.Notifier with github.com/gen2brain/beeep.
type DesktopNotifier struct {
	prefix string
	send   func(title, message string) error
}

// NewNotifier creates a notifier. Titles are prefixed with "dictd: ".
func NewNotifier() *DesktopNotifier {
	return &DesktopNotifier{
		prefix: appName + ": ",
		send: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
	}
}

// Notify shows a desktop notification.
func (n *DesktopNotifier) Notify(title, message string) error {
	return n.send(n.prefix+title, message)
}

var _ domain.Notifier = (*DesktopNotifier)(nil)
