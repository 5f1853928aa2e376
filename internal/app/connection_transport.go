package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/skobkin/myolink/internal/config"
	"github.com/skobkin/myolink/internal/transport"
)

// SwitchableTransport wraps the active connector and lets runtime swap it on config updates.
type SwitchableTransport struct {
	mu sync.RWMutex

	cfg       config.ConnectionConfig
	transport transport.Transport
	sink      transport.Sink
}

var _ transport.Transport = (*SwitchableTransport)(nil)

func NewConnectionTransport(cfg config.ConnectionConfig) (*SwitchableTransport, error) {
	tr, err := newTransportForConnection(cfg)
	if err != nil {
		return nil, err
	}

	return &SwitchableTransport{
		cfg:       cfg,
		transport: tr,
	}, nil
}

// Apply moves the transport to cfg. A new backend is built only when the
// connector shape changes; a new address or port alone is picked up on the
// next Connect. The previous backend is closed and the sink moves over.
func (t *SwitchableTransport) Apply(cfg config.ConnectionConfig) (rebuilt bool, err error) {
	t.mu.RLock()
	same := t.transport != nil && sameBackend(t.cfg, cfg)
	t.mu.RUnlock()
	if same {
		t.mu.Lock()
		t.cfg = cfg
		t.mu.Unlock()
		return false, nil
	}

	next, err := newTransportForConnection(cfg)
	if err != nil {
		return false, err
	}

	t.mu.Lock()
	current := t.transport
	t.transport = next
	t.cfg = cfg
	if t.sink != nil {
		next.SetSink(t.sink)
	}
	t.mu.Unlock()

	if current != nil {
		_ = current.Close()
	}

	return true, nil
}

// sameBackend reports whether a and b build an identical transport, ignoring
// the connection target.
func sameBackend(a, b config.ConnectionConfig) bool {
	if a.Connector != b.Connector {
		return false
	}
	switch a.Connector {
	case config.ConnectorSerial:
		return a.SerialBaud == b.SerialBaud
	case config.ConnectorBluetooth:
		return strings.TrimSpace(a.BluetoothAdapter) == strings.TrimSpace(b.BluetoothAdapter) && a.Sensor == b.Sensor
	default:
		return false
	}
}

func (t *SwitchableTransport) Name() string {
	tr := t.current()
	if tr == nil {
		return "unknown"
	}

	return tr.Name()
}

func (t *SwitchableTransport) StatusTarget() string {
	t.mu.RLock()
	tr := t.transport
	cfg := t.cfg
	t.mu.RUnlock()

	if provider, ok := tr.(transport.StatusTargetResolver); ok {
		target := strings.TrimSpace(provider.StatusTarget())
		if target != "" {
			return target
		}
	}

	return ConnectionTarget(cfg)
}

func (t *SwitchableTransport) SetSink(sink transport.Sink) {
	t.mu.Lock()
	t.sink = sink
	tr := t.transport
	t.mu.Unlock()

	if tr != nil {
		tr.SetSink(sink)
	}
}

func (t *SwitchableTransport) Connect(ctx context.Context, address string) error {
	tr := t.current()
	if tr == nil {
		return fmt.Errorf("transport is not configured")
	}

	return tr.Connect(ctx, address)
}

func (t *SwitchableTransport) EnableNotifications(enabled bool) error {
	tr := t.current()
	if tr == nil {
		return fmt.Errorf("transport is not configured")
	}

	return tr.EnableNotifications(enabled)
}

func (t *SwitchableTransport) Close() error {
	tr := t.current()
	if tr == nil {
		return nil
	}

	return tr.Close()
}

func (t *SwitchableTransport) current() transport.Transport {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.transport
}

func (t *SwitchableTransport) Config() config.ConnectionConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.cfg
}

func newTransportForConnection(cfg config.ConnectionConfig) (transport.Transport, error) {
	switch cfg.Connector {
	case config.ConnectorSerial:
		return transport.NewSerialTransport(cfg.SerialBaud), nil
	case config.ConnectorBluetooth:
		profile, err := cfg.SensorProfile()
		if err != nil {
			return nil, fmt.Errorf("sensor profile: %w", err)
		}
		return transport.NewBluetoothTransport(cfg.BluetoothAdapter, profile), nil
	default:
		return nil, fmt.Errorf("unknown connector: %q", cfg.Connector)
	}
}
