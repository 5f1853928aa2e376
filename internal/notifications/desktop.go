package notifications

import (
	"log/slog"
	"strings"

	"github.com/gen2brain/beeep"
)

// DesktopSender delivers notifications through the OS notification daemon.
type DesktopSender struct {
	notify func(title, message string, icon any) error
	logger *slog.Logger
}

func NewDesktopSender(appName string, logger *slog.Logger) *DesktopSender {
	if logger == nil {
		logger = slog.Default().With("component", "notifications")
	}
	if name := strings.TrimSpace(appName); name != "" {
		beeep.AppName = name
	}

	return &DesktopSender{notify: beeep.Notify, logger: logger}
}

func (s *DesktopSender) Send(payload Payload) {
	if s == nil || s.notify == nil {
		return
	}
	if payload.Empty() {
		return
	}
	payload = payload.Normalized()
	// headless sessions have no notification daemon; that is not fatal
	if err := s.notify(payload.Title, payload.Content, ""); err != nil {
		s.logger.Debug("desktop notification failed", "kind", payload.Kind, "title", payload.Title, "error", err)
	}
}
