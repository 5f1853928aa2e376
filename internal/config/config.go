package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/skobkin/myolink/internal/bluetoothutil"
)

// ConnectorType identifies which transport backend should be used.
type ConnectorType string

const (
	ConnectorBluetooth ConnectorType = "bluetooth"
	ConnectorSerial    ConnectorType = "serial"
	DefaultSerialBaud                = 921600

	DefaultReconnectIntervalMS = 100
	DefaultConnectTimeoutSec   = 20
	DefaultWriterQueueSize     = 4096
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	Format    string `json:"format"`
	LogToFile bool   `json:"log_to_file"`
}

// SensorUUIDs holds the GATT layout of the sensor.
type SensorUUIDs struct {
	Service  string `json:"service"`
	EmgLeft  string `json:"emg_left"`
	EmgRight string `json:"emg_right"`
	Acc      string `json:"acc"`
	Gyr      string `json:"gyr"`
}

// ConnectionConfig contains connector-specific connection parameters.
type ConnectionConfig struct {
	Connector        ConnectorType `json:"connector"`
	SerialPort       string        `json:"serial_port"`
	SerialBaud       int           `json:"serial_baud"`
	BluetoothAddress string        `json:"bluetooth_address"`
	BluetoothAdapter string        `json:"bluetooth_adapter"`
	Sensor           SensorUUIDs   `json:"sensor"`
}

// RecordingConfig controls session buffering and reconnects.
type RecordingConfig struct {
	OutputDir           string `json:"output_dir"`
	ReconnectIntervalMS int    `json:"reconnect_interval_ms"`
	ConnectTimeoutSec   int    `json:"connect_timeout_sec"`
	WriterQueueSize     int    `json:"writer_queue_size"`
	KeepFailedBuffers   bool   `json:"keep_failed_buffers"`
}

// NotificationConfig stores desktop notification preferences.
type NotificationConfig struct {
	Enabled bool                     `json:"enabled"`
	Events  NotificationEventsConfig `json:"events"`
}

// NotificationEventsConfig stores per-event notification toggles.
type NotificationEventsConfig struct {
	ConnectionStatus bool `json:"connection_status"`
	SessionSaved     bool `json:"session_saved"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Connection    ConnectionConfig   `json:"connection"`
	Logging       LoggingConfig      `json:"logging"`
	Recording     RecordingConfig    `json:"recording"`
	Notifications NotificationConfig `json:"notifications"`
}

func Default() AppConfig {
	uuids := bluetoothutil.DefaultProfileUUIDs()

	return AppConfig{
		Connection: ConnectionConfig{
			Connector:  ConnectorBluetooth,
			SerialBaud: DefaultSerialBaud,
			Sensor: SensorUUIDs{
				Service:  uuids.Service,
				EmgLeft:  uuids.EmgLeft,
				EmgRight: uuids.EmgRight,
				Acc:      uuids.Acc,
				Gyr:      uuids.Gyr,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Recording: RecordingConfig{
			ReconnectIntervalMS: DefaultReconnectIntervalMS,
			ConnectTimeoutSec:   DefaultConnectTimeoutSec,
			WriterQueueSize:     DefaultWriterQueueSize,
		},
		Notifications: NotificationConfig{
			Enabled: true,
			Events: NotificationEventsConfig{
				ConnectionStatus: true,
				SessionSaved:     true,
			},
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	def := Default()
	if c.Connection.Connector == "" {
		c.Connection.Connector = def.Connection.Connector
	}
	if c.Connection.SerialBaud <= 0 {
		c.Connection.SerialBaud = DefaultSerialBaud
	}
	fillString(&c.Connection.Sensor.Service, def.Connection.Sensor.Service)
	fillString(&c.Connection.Sensor.EmgLeft, def.Connection.Sensor.EmgLeft)
	fillString(&c.Connection.Sensor.EmgRight, def.Connection.Sensor.EmgRight)
	fillString(&c.Connection.Sensor.Acc, def.Connection.Sensor.Acc)
	fillString(&c.Connection.Sensor.Gyr, def.Connection.Sensor.Gyr)
	fillString(&c.Logging.Level, def.Logging.Level)
	fillString(&c.Logging.Format, def.Logging.Format)
	if c.Recording.ReconnectIntervalMS <= 0 {
		c.Recording.ReconnectIntervalMS = DefaultReconnectIntervalMS
	}
	if c.Recording.ConnectTimeoutSec <= 0 {
		c.Recording.ConnectTimeoutSec = DefaultConnectTimeoutSec
	}
	if c.Recording.WriterQueueSize <= 0 {
		c.Recording.WriterQueueSize = DefaultWriterQueueSize
	}
}

func fillString(dst *string, def string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = def
	}
}

// SensorProfile parses the configured GATT layout.
func (c ConnectionConfig) SensorProfile() (bluetoothutil.SensorProfile, error) {
	s := c.Sensor
	return bluetoothutil.ParseProfile(bluetoothutil.ProfileUUIDs{
		Service:  s.Service,
		EmgLeft:  s.EmgLeft,
		EmgRight: s.EmgRight,
		Acc:      s.Acc,
		Gyr:      s.Gyr,
	})
}

// Target returns the address handed to the transport: the bluetooth MAC or
// the serial port name.
func (c ConnectionConfig) Target() string {
	switch c.Connector {
	case ConnectorSerial:
		return strings.TrimSpace(c.SerialPort)
	case ConnectorBluetooth:
		return strings.TrimSpace(c.BluetoothAddress)
	default:
		return ""
	}
}

func (c AppConfig) Target() string {
	return c.Connection.Target()
}

func (c AppConfig) ReconnectInterval() time.Duration {
	return time.Duration(c.Recording.ReconnectIntervalMS) * time.Millisecond
}

func (c AppConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.Recording.ConnectTimeoutSec) * time.Second
}

// Validate checks the config is internally consistent. An empty target is
// allowed so a config can be saved before a device is chosen.
func (c AppConfig) Validate() error {
	switch c.Connection.Connector {
	case ConnectorSerial:
		if c.Connection.SerialBaud <= 0 {
			return errors.New("serial baud must be positive")
		}
	case ConnectorBluetooth:
		if _, err := c.Connection.SensorProfile(); err != nil {
			return fmt.Errorf("sensor profile: %w", err)
		}
	default:
		return fmt.Errorf("unknown connector: %s", c.Connection.Connector)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format: %s", c.Logging.Format)
	}
	if c.Recording.ReconnectIntervalMS <= 0 {
		return errors.New("reconnect interval must be positive")
	}
	if c.Recording.ConnectTimeoutSec <= 0 {
		return errors.New("connect timeout must be positive")
	}
	if c.Recording.WriterQueueSize <= 0 {
		return errors.New("writer queue size must be positive")
	}

	return nil
}

// ValidateForRecording additionally requires a connection target.
func (c AppConfig) ValidateForRecording() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Target() == "" {
		switch c.Connection.Connector {
		case ConnectorSerial:
			return errors.New("serial port is required")
		default:
			return errors.New("bluetooth address is required")
		}
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
