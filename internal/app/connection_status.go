package app

import (
	"strings"

	"github.com/skobkin/myolink/internal/config"
	"github.com/skobkin/myolink/internal/connectors"
)

func TransportNameFromConnector(connector config.ConnectorType) string {
	switch connector {
	case config.ConnectorSerial:
		return "serial"
	case config.ConnectorBluetooth:
		return "bluetooth"
	default:
		if value := strings.TrimSpace(string(connector)); value != "" {
			return value
		}
		return "unknown"
	}
}

func ConnectionTarget(cfg config.ConnectionConfig) string {
	return cfg.Target()
}

// ConnectionStatusFromConfig is the status shown before the link controller
// has published anything.
func ConnectionStatusFromConfig(cfg config.ConnectionConfig) connectors.ConnectionStatus {
	return connectors.ConnectionStatus{
		State:         connectors.ConnectionStateDisconnected,
		TransportName: TransportNameFromConnector(cfg.Connector),
		Target:        ConnectionTarget(cfg),
	}
}

// FormatConnectionStatus renders a status as a single terminal line.
func FormatConnectionStatus(status connectors.ConnectionStatus) string {
	var b strings.Builder
	b.WriteString(string(status.State))
	if target := strings.TrimSpace(status.Target); target != "" {
		b.WriteString(" ")
		b.WriteString(target)
	}
	if transport := strings.TrimSpace(status.TransportName); transport != "" {
		b.WriteString(" via ")
		b.WriteString(transport)
	}
	if errText := strings.TrimSpace(status.Err); errText != "" {
		b.WriteString(" (")
		b.WriteString(errText)
		b.WriteString(")")
	}

	return b.String()
}
