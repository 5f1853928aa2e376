package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/skobkin/myolink/internal/bluetoothutil"
	"github.com/skobkin/myolink/internal/domain"
)

const (
	defaultBluetoothDiscoverWait  = 12 * time.Second
	defaultBluetoothSubscribeWait = 8 * time.Second
)

type bluetoothConn struct {
	device  bluetooth.Device
	address bluetooth.Address
	chars   [domain.ChannelCount]bluetooth.DeviceCharacteristic

	closeOnce sync.Once
	closed    chan struct{}
}

// BluetoothTransport talks to the sensor over BLE GATT notifications, one
// characteristic per channel.
type BluetoothTransport struct {
	adapterID string
	profile   bluetoothutil.SensorProfile

	mu         sync.RWMutex
	sink       Sink
	target     string
	conn       *bluetoothConn
	notifying  bool
	handlerSet bool
}

func NewBluetoothTransport(adapterID string, profile bluetoothutil.SensorProfile) *BluetoothTransport {
	return &BluetoothTransport{
		adapterID: strings.TrimSpace(adapterID),
		profile:   profile,
		sink:      nopSink{},
	}
}

func (t *BluetoothTransport) Name() string {
	return "bluetooth"
}

func (t *BluetoothTransport) SetSink(sink Sink) {
	if sink == nil {
		sink = nopSink{}
	}
	t.mu.Lock()
	t.sink = sink
	t.mu.Unlock()
}

func (t *BluetoothTransport) StatusTarget() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.target
}

func (t *BluetoothTransport) AdapterID() string {
	return t.adapterID
}

// Connect dials the device and discovers the sensor characteristics. The
// link is reported up through the sink once setup completes.
func (t *BluetoothTransport) Connect(ctx context.Context, address string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	address = strings.TrimSpace(address)
	t.target = address
	logger := transportLogger("bluetooth", "address", address, "adapter", t.adapterID)

	if t.conn != nil {
		logger.Debug("connect skipped: already connected")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	addr, err := parseBluetoothAddress(address)
	if err != nil {
		logger.Warn("connect failed: invalid address", "error", err)
		return err
	}

	adapter := bluetoothutil.ResolveAdapter(t.adapterID)
	logger.Debug("enabling adapter")
	if err := bluetoothutil.EnableAdapter(adapter); err != nil {
		logger.Warn("enable adapter failed", "error", err)
		return fmt.Errorf("enable bluetooth adapter: %w", err)
	}
	if !t.handlerSet {
		adapter.SetConnectHandler(t.handleConnectEvent)
		t.handlerSet = true
	}

	logger.Info("connecting")
	device, err := adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil && bluetoothutil.NeedsDiscovery(err) {
		logger.Info("direct connect failed, trying discovery fallback", "error", err)
		if discoverErr := discoverBluetoothDevice(ctx, adapter, addr); discoverErr != nil {
			logger.Warn("discovery fallback failed", "error", discoverErr)
			return fmt.Errorf("connect bluetooth device %q: %w", address, errors.Join(err, fmt.Errorf("discovery failed: %w", discoverErr)))
		}
		device, err = adapter.Connect(addr, bluetooth.ConnectionParams{})
	}
	if err != nil {
		logger.Warn("connect device failed", "error", err)
		return fmt.Errorf("connect bluetooth device %q: %w", address, err)
	}

	conn, err := t.discoverSensor(device, addr)
	if err != nil {
		_ = device.Disconnect()
		logger.Warn("sensor discovery failed", "error", err)
		return err
	}
	if err := ctx.Err(); err != nil {
		_ = device.Disconnect()
		logger.Debug("connect canceled after setup", "error", err)
		return err
	}

	t.conn = conn
	t.notifying = false
	sink := t.sink
	logger.Info("connected")
	go sink.HandleLinkEvent(LinkEvent{Kind: LinkConnected})

	return nil
}

func (t *BluetoothTransport) discoverSensor(device bluetooth.Device, addr bluetooth.Address) (*bluetoothConn, error) {
	services, err := device.DiscoverServices([]bluetooth.UUID{t.profile.Service})
	if err != nil {
		return nil, fmt.Errorf("discover sensor service: %w", err)
	}
	if len(services) == 0 {
		return nil, errors.New("sensor BLE service is not available")
	}

	chars, err := services[0].DiscoverCharacteristics(t.profile.CharacteristicUUIDs())
	if err != nil {
		return nil, fmt.Errorf("discover sensor characteristics: %w", err)
	}

	conn := &bluetoothConn{device: device, address: addr, closed: make(chan struct{})}
	found := 0
	for _, c := range chars {
		ch, ok := t.profile.ChannelFor(c.UUID())
		if !ok {
			continue
		}
		conn.chars[ch] = c
		found++
	}
	if found != domain.ChannelCount {
		return nil, fmt.Errorf("expected %d sensor characteristics, found %d", domain.ChannelCount, found)
	}

	return conn, nil
}

// EnableNotifications subscribes to (or unsubscribes from) every channel
// characteristic. Each notification is forwarded to the sink tagged with
// its channel.
func (t *BluetoothTransport) EnableNotifications(enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	logger := transportLogger("bluetooth", "address", t.target)
	conn := t.conn
	if conn == nil {
		if enabled {
			return errors.New("transport is not connected")
		}
		return nil
	}
	if t.notifying == enabled {
		return nil
	}

	var errs error
	for _, ch := range domain.Channels {
		var callback func([]byte)
		if enabled {
			callback = t.notificationHandler(conn, ch)
		}
		if err := enableNotificationWithTimeout(conn.chars[ch], callback, defaultBluetoothSubscribeWait); err != nil {
			errs = errors.Join(errs, fmt.Errorf("%s notifications: %w", ch, err))
			if enabled {
				break
			}
		}
	}
	if errs != nil {
		logger.Warn("toggle notifications failed", "enabled", enabled, "error", errs)
		return errs
	}
	t.notifying = enabled
	logger.Debug("notifications toggled", "enabled", enabled)

	return nil
}

func (t *BluetoothTransport) notificationHandler(conn *bluetoothConn, ch domain.ChannelKind) func([]byte) {
	return func(buf []byte) {
		select {
		case <-conn.closed:
			return
		default:
		}
		t.mu.RLock()
		sink := t.sink
		t.mu.RUnlock()
		// the stack reuses buf between notifications
		sink.HandlePayload(domain.RawPayload{Channel: ch, Bytes: append([]byte(nil), buf...)})
	}
}

func (t *BluetoothTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.notifying = false
	logger := transportLogger("bluetooth", "address", t.target)
	t.mu.Unlock()

	if conn == nil {
		logger.Debug("close skipped: not connected")
		return nil
	}
	conn.markClosed()
	if err := conn.device.Disconnect(); err != nil {
		logger.Warn("disconnect failed", "error", err)
		return fmt.Errorf("disconnect bluetooth device: %w", err)
	}
	logger.Info("closed")

	return nil
}

// handleConnectEvent receives adapter-wide connection changes and reports
// the loss of the current device.
func (t *BluetoothTransport) handleConnectEvent(device bluetooth.Device, connected bool) {
	if connected {
		return
	}

	t.mu.Lock()
	conn := t.conn
	if conn == nil || conn.address.MAC != device.Address.MAC {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.notifying = false
	sink := t.sink
	t.mu.Unlock()

	conn.markClosed()
	transportLogger("bluetooth", "address", device.Address.String()).Warn("device disconnected")
	sink.HandleLinkEvent(LinkEvent{Kind: LinkDisconnected, Err: errors.New("bluetooth link lost")})
}

func (c *bluetoothConn) markClosed() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

func parseBluetoothAddress(raw string) (bluetooth.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return bluetooth.Address{}, errors.New("bluetooth address is empty")
	}

	mac, err := bluetooth.ParseMAC(strings.ToUpper(trimmed))
	if err != nil {
		return bluetooth.Address{}, fmt.Errorf("invalid bluetooth address %q: %w", trimmed, err)
	}

	return bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}, nil
}

func discoverBluetoothDevice(ctx context.Context, adapter *bluetooth.Adapter, target bluetooth.Address) error {
	logger := transportLogger("bluetooth", "target", target.String())
	if err := bluetoothutil.StopScan(adapter); err != nil {
		return fmt.Errorf("reset bluetooth scan state: %w", err)
	}

	scanCtx := ctx
	if _, hasDeadline := scanCtx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(scanCtx, defaultBluetoothDiscoverWait)
		defer cancel()
	}

	foundCh := make(chan struct{}, 1)
	scanErrCh := make(chan error, 1)
	go func() {
		scanErrCh <- adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			if result.Address.MAC != target.MAC {
				return
			}
			select {
			case foundCh <- struct{}{}:
			default:
			}
			_ = adapter.StopScan()
		})
	}()

	found := false
	select {
	case <-foundCh:
		found = true
		logger.Info("target device discovered")
	case <-scanCtx.Done():
		logger.Warn("device discovery timed out or canceled", "error", scanCtx.Err())
		_ = bluetoothutil.StopScan(adapter)
	}

	if scanErr := bluetoothutil.NormalizeScanError(<-scanErrCh); scanErr != nil {
		return fmt.Errorf("scan bluetooth devices: %w", scanErr)
	}
	if !found {
		return fmt.Errorf("device %q was not discovered; keep the sensor powered on and nearby", target.String())
	}

	return nil
}

func enableNotificationWithTimeout(char bluetooth.DeviceCharacteristic, callback func([]byte), wait time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- char.EnableNotifications(callback)
	}()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("timed out after %s", wait)
	}
}
