package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/skobkin/myolink/internal/bus"
	"github.com/skobkin/myolink/internal/config"
	"github.com/skobkin/myolink/internal/connectors"
	"github.com/skobkin/myolink/internal/domain"
	"github.com/skobkin/myolink/internal/notifications"
)

const notificationTitleSessionSaved = "Recording saved"

// NotificationService listens to bus events and emits user-facing notifications.
type NotificationService struct {
	bus           bus.MessageBus
	currentConfig func() config.AppConfig
	sender        notifications.Sender
	logger        *slog.Logger

	connStatusMu     sync.Mutex
	lastConnState    connectors.ConnectionState
	lastConnStateSet bool
}

func NewNotificationService(
	messageBus bus.MessageBus,
	currentConfig func() config.AppConfig,
	sender notifications.Sender,
	logger *slog.Logger,
) *NotificationService {
	if logger == nil {
		logger = slog.Default().With("component", "app.notifications")
	}

	return &NotificationService{
		bus:           messageBus,
		currentConfig: currentConfig,
		sender:        sender,
		logger:        logger,
	}
}

func (s *NotificationService) Start(ctx context.Context) {
	if s == nil || s.bus == nil || s.sender == nil {
		return
	}

	connSub := s.bus.Subscribe(connectors.TopicConnStatus)
	savedSub := s.bus.Subscribe(connectors.TopicSessionSaved)

	go bus.Consume(ctx, s.bus, connSub, connectors.TopicConnStatus, s.handleConnectionStatus)
	go bus.Consume(ctx, s.bus, savedSub, connectors.TopicSessionSaved, s.handleSessionSaved)
}

func (s *NotificationService) handleConnectionStatus(status connectors.ConnectionStatus) {
	prefs := s.notificationPrefs()
	if status.State == "" {
		return
	}

	s.connStatusMu.Lock()
	if s.lastConnStateSet && s.lastConnState == status.State {
		s.connStatusMu.Unlock()

		return
	}
	s.lastConnState = status.State
	s.lastConnStateSet = true
	s.connStatusMu.Unlock()

	if status.State != connectors.ConnectionStateConnected &&
		status.State != connectors.ConnectionStateDisconnected {
		return
	}
	if !prefs.Enabled || !prefs.Events.ConnectionStatus {
		return
	}

	transport := notificationTransportName(status.TransportName)
	if transport == "" {
		transport = "Unknown"
	}
	details := strings.TrimSpace(status.Target)
	if details == "" {
		details = "No connection details"
	}
	if status.State == connectors.ConnectionStateDisconnected {
		if errText := strings.TrimSpace(status.Err); errText != "" {
			details = fmt.Sprintf("%s (error: %s)", details, errText)
		}
	}

	s.send(notifications.Payload{
		Kind:    notifications.KindConnectionStatus,
		Title:   fmt.Sprintf("%s - %s", transport, status.State),
		Content: details,
	})
}

func (s *NotificationService) handleSessionSaved(event domain.SessionSaved) {
	prefs := s.notificationPrefs()
	if !prefs.Enabled || !prefs.Events.SessionSaved {
		return
	}

	rec := event.Recording
	name := filepath.Base(strings.TrimSpace(rec.Path))
	if name == "." || name == "" {
		name = rec.ID
	}
	duration := rec.SavedAt.Sub(rec.StartedAt).Round(100 * time.Millisecond)
	content := fmt.Sprintf("%s: %d samples", name, rec.Counts.Total())
	if duration > 0 {
		content = fmt.Sprintf("%s: %d samples in %s", name, rec.Counts.Total(), duration)
	}

	s.send(notifications.Payload{
		Kind:    notifications.KindSessionSaved,
		Title:   notificationTitleSessionSaved,
		Content: content,
	})
}

func (s *NotificationService) notificationPrefs() config.NotificationConfig {
	cfg := config.Default()
	if s.currentConfig != nil {
		cfg = s.currentConfig()
		cfg.FillMissingDefaults()
	}

	return cfg.Notifications
}

func (s *NotificationService) send(notification notifications.Payload) {
	if notification.Empty() {
		return
	}
	notification = notification.Normalized()
	s.logger.Debug("sending notification", "kind", notification.Kind, "title", notification.Title)
	s.sender.Send(notification)
}

func notificationTransportName(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "serial":
		return "Serial"
	case "bluetooth":
		return "Bluetooth LE"
	default:
		return strings.TrimSpace(name)
	}
}
