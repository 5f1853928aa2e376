package connectors

import (
	"time"

	"github.com/skobkin/myolink/internal/domain"
)

// ConnectionState describes the sensor link lifecycle state shown in UI.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
)

// ConnectionStatus is a bus event snapshot of current link status.
type ConnectionStatus struct {
	State         ConnectionState
	Err           string
	TransportName string
	Target        string
	Timestamp     time.Time
}

// RawPayloadEvent carries one sensor notification together with its receive time.
type RawPayloadEvent struct {
	Payload    domain.RawPayload
	ReceivedAt time.Time
}

// DecodeFailure is published when a payload could not be decoded.
type DecodeFailure struct {
	Channel domain.ChannelKind
	Len     int
	Err     string
}
