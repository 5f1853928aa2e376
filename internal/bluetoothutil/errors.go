package bluetoothutil

import (
	"errors"
	"runtime"
	"strings"

	"github.com/godbus/dbus/v5"
	"tinygo.org/x/bluetooth"
)

// ErrorKind classifies adapter errors reported through BlueZ or the
// platform stack.
type ErrorKind int

const (
	ErrorOther ErrorKind = iota
	// ErrorBenign is harmless, e.g. stopping a scan that never started.
	ErrorBenign
	// ErrorInProgress means another discovery is already running.
	ErrorInProgress
	// ErrorDeviceUnknown means BlueZ has no object for the device yet and a
	// discovery pass is needed before connecting.
	ErrorDeviceUnknown
)

func IsDBusErrorName(err error, want string) bool {
	var dbusErrPtr *dbus.Error
	if errors.As(err, &dbusErrPtr) && dbusErrPtr != nil && dbusErrPtr.Name == want {
		return true
	}

	var dbusErr dbus.Error
	return errors.As(err, &dbusErr) && dbusErr.Name == want
}

// Classify maps err to an ErrorKind. A nil error is benign.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorBenign
	}
	msg := strings.ToLower(err.Error())

	switch {
	case IsDBusErrorName(err, "org.bluez.Error.InProgress"), strings.Contains(msg, "already in progress"):
		return ErrorInProgress
	case IsDBusErrorName(err, "org.bluez.Error.NotReady"):
		return ErrorBenign
	case IsDBusErrorName(err, "org.bluez.Error.Failed") && strings.Contains(msg, "no discovery started"):
		return ErrorBenign
	case strings.Contains(msg, "org.freedesktop.dbus.properties") && strings.Contains(msg, `method "get"`):
		// BlueZ answers property reads on a missing device object with
		// UnknownMethod (or a plain "doesn't exist" text on older stacks).
		if IsDBusErrorName(err, "org.freedesktop.DBus.Error.UnknownMethod") || strings.Contains(msg, "doesn't exist") {
			return ErrorDeviceUnknown
		}
	case strings.Contains(msg, "cancel"),
		strings.Contains(msg, "stopped"),
		strings.Contains(msg, "not scanning"),
		strings.Contains(msg, "no scan in progress"):
		return ErrorBenign
	}

	return ErrorOther
}

// NeedsDiscovery reports whether a failed connect should be retried after a
// discovery pass. Only BlueZ needs this.
func NeedsDiscovery(err error) bool {
	return err != nil && runtime.GOOS == "linux" && Classify(err) == ErrorDeviceUnknown
}

// StopScan stops a running scan, ignoring benign failures.
func StopScan(adapter *bluetooth.Adapter) error {
	if err := adapter.StopScan(); Classify(err) != ErrorBenign {
		return err
	}
	return nil
}

// NormalizeScanError drops the errors Scan returns after a deliberate stop.
func NormalizeScanError(err error) error {
	if Classify(err) == ErrorBenign {
		return nil
	}
	return err
}

// EnableAdapter powers up the adapter. On Windows the stack reports an
// already initialized COM apartment as "Incorrect function.", which is
// treated as success.
func EnableAdapter(adapter *bluetooth.Adapter) error {
	err := adapter.Enable()
	if err == nil {
		return nil
	}
	if runtime.GOOS == "windows" {
		msg := strings.TrimSuffix(strings.TrimSpace(strings.ToLower(err.Error())), ".")
		if msg == "incorrect function" {
			return nil
		}
	}
	return err
}
