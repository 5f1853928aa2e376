package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/skobkin/myolink/internal/bus"
	"github.com/skobkin/myolink/internal/config"
	"github.com/skobkin/myolink/internal/connectors"
	"github.com/skobkin/myolink/internal/domain"
	"github.com/skobkin/myolink/internal/notifications"
)

func TestNotificationServiceConnectionStatusFilteringAndFormatting(t *testing.T) {
	messageBus := newTestMessageBus(t)
	cfg := config.Default()
	sender := newCollectingNotificationSender()
	service := NewNotificationService(messageBus, func() config.AppConfig { return cfg }, sender, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service.Start(ctx)

	messageBus.Publish(connectors.TopicConnStatus, connectors.ConnectionStatus{
		State:         connectors.ConnectionStateConnected,
		TransportName: "bluetooth",
		Target:        "C0:FF:EE:00:11:22",
	})
	gotNotifications := sender.waitForCount(t, 1)
	if got := gotNotifications[0].Kind; got != notifications.KindConnectionStatus {
		t.Fatalf("expected connection status kind, got %q", got)
	}
	if got := gotNotifications[0].Title; got != "Bluetooth LE - connected" {
		t.Fatalf("expected connected title, got %q", got)
	}
	if got := gotNotifications[0].Content; got != "C0:FF:EE:00:11:22" {
		t.Fatalf("expected target as content, got %q", got)
	}

	// Duplicate consecutive state must be ignored.
	messageBus.Publish(connectors.TopicConnStatus, connectors.ConnectionStatus{
		State:         connectors.ConnectionStateConnected,
		TransportName: "bluetooth",
		Target:        "C0:FF:EE:00:11:22",
	})
	sender.assertCount(t, 1)

	// Reconnecting itself should not notify.
	messageBus.Publish(connectors.TopicConnStatus, connectors.ConnectionStatus{
		State:         connectors.ConnectionStateReconnecting,
		TransportName: "bluetooth",
		Target:        "C0:FF:EE:00:11:22",
	})
	sender.assertCount(t, 1)

	// Connected again after a different state should notify.
	messageBus.Publish(connectors.TopicConnStatus, connectors.ConnectionStatus{
		State:         connectors.ConnectionStateConnected,
		TransportName: "bluetooth",
		Target:        "C0:FF:EE:00:11:22",
	})
	gotNotifications = sender.waitForCount(t, 2)
	if got := gotNotifications[1].Title; got != "Bluetooth LE - connected" {
		t.Fatalf("expected reconnection title, got %q", got)
	}

	messageBus.Publish(connectors.TopicConnStatus, connectors.ConnectionStatus{
		State:         connectors.ConnectionStateDisconnected,
		TransportName: "serial",
		Target:        "/dev/ttyACM0",
		Err:           "read timeout",
	})
	gotNotifications = sender.waitForCount(t, 3)
	if got := gotNotifications[2].Title; got != "Serial - disconnected" {
		t.Fatalf("expected disconnected title, got %q", got)
	}
	if got := gotNotifications[2].Content; got != "/dev/ttyACM0 (error: read timeout)" {
		t.Fatalf("expected disconnected content with error, got %q", got)
	}
}

func TestNotificationServiceSessionSaved(t *testing.T) {
	messageBus := newTestMessageBus(t)
	cfg := config.Default()
	sender := newCollectingNotificationSender()
	service := NewNotificationService(messageBus, func() config.AppConfig { return cfg }, sender, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service.Start(ctx)

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	counts := domain.NewCounts()
	counts[domain.ChannelEmgLeft] = 100
	counts[domain.ChannelEmgRight] = 100
	counts[domain.ChannelAcc] = 10
	messageBus.Publish(connectors.TopicSessionSaved, domain.SessionSaved{Recording: domain.Recording{
		ID:        "20260301T100000-abcd",
		Path:      "/data/myo_20260301T100000-abcd.myor",
		StartedAt: started,
		SavedAt:   started.Add(90 * time.Second),
		Counts:    counts,
	}})

	got := sender.waitForCount(t, 1)
	if got[0].Kind != notifications.KindSessionSaved {
		t.Fatalf("unexpected kind %q", got[0].Kind)
	}
	if got[0].Title != notificationTitleSessionSaved {
		t.Fatalf("unexpected title %q", got[0].Title)
	}
	if want := "myo_20260301T100000-abcd.myor: 210 samples in 1m30s"; got[0].Content != want {
		t.Fatalf("expected content %q, got %q", want, got[0].Content)
	}
}

func TestNotificationServiceRespectsSettings(t *testing.T) {
	messageBus := newTestMessageBus(t)
	var (
		cfgMu sync.Mutex
		cfg   = config.Default()
	)
	cfg.Notifications.Events.SessionSaved = false
	sender := newCollectingNotificationSender()
	service := NewNotificationService(messageBus, func() config.AppConfig {
		cfgMu.Lock()
		defer cfgMu.Unlock()
		return cfg
	}, sender, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service.Start(ctx)

	messageBus.Publish(connectors.TopicSessionSaved, domain.SessionSaved{Recording: domain.Recording{ID: "a"}})
	sender.assertCount(t, 0)

	cfgMu.Lock()
	cfg.Notifications.Events.SessionSaved = true
	cfg.Notifications.Enabled = false
	cfgMu.Unlock()
	messageBus.Publish(connectors.TopicSessionSaved, domain.SessionSaved{Recording: domain.Recording{ID: "b"}})
	messageBus.Publish(connectors.TopicConnStatus, connectors.ConnectionStatus{
		State:         connectors.ConnectionStateConnected,
		TransportName: "serial",
	})
	sender.assertCount(t, 0)

	cfgMu.Lock()
	cfg.Notifications.Enabled = true
	cfgMu.Unlock()
	messageBus.Publish(connectors.TopicSessionSaved, domain.SessionSaved{Recording: domain.Recording{ID: "c"}})
	got := sender.waitForCount(t, 1)
	if got[0].Content != "c: 0 samples" {
		t.Fatalf("unexpected content %q", got[0].Content)
	}
}

func TestNotificationServiceNilSenderIsNoop(t *testing.T) {
	messageBus := newTestMessageBus(t)
	service := NewNotificationService(messageBus, nil, nil, nil)
	service.Start(context.Background())

	var nilService *NotificationService
	nilService.Start(context.Background())
}

func newTestMessageBus(t *testing.T) *bus.PubSubBus {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	messageBus := bus.New(logger)
	t.Cleanup(func() {
		messageBus.Close()
	})

	return messageBus
}

type collectingNotificationSender struct {
	mu            sync.Mutex
	notifications []notifications.Payload
	changes       chan struct{}
}

func newCollectingNotificationSender() *collectingNotificationSender {
	return &collectingNotificationSender{
		changes: make(chan struct{}, 1),
	}
}

func (s *collectingNotificationSender) Send(notification notifications.Payload) {
	s.mu.Lock()
	s.notifications = append(s.notifications, notification)
	s.mu.Unlock()

	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *collectingNotificationSender) snapshot() []notifications.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]notifications.Payload, len(s.notifications))
	copy(out, s.notifications)

	return out
}

func (s *collectingNotificationSender) waitForCount(t *testing.T, expected int) []notifications.Payload {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		current := s.snapshot()
		if len(current) >= expected {
			return current
		}
		select {
		case <-s.changes:
		case <-time.After(10 * time.Millisecond):
		}
	}

	t.Fatalf("timed out waiting for %d notifications", expected)

	return nil
}

func (s *collectingNotificationSender) assertCount(t *testing.T, expected int) {
	t.Helper()

	time.Sleep(100 * time.Millisecond)
	current := s.snapshot()
	if len(current) != expected {
		t.Fatalf("expected %d notifications, got %d", expected, len(current))
	}
}
