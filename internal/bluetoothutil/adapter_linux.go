//go:build linux

package bluetoothutil

import (
	"strings"

	"tinygo.org/x/bluetooth"
)

// ResolveAdapter returns the BlueZ adapter with the given id (e.g. "hci1"),
// or the default adapter when id is empty.
func ResolveAdapter(id string) *bluetooth.Adapter {
	if id = strings.TrimSpace(id); id != "" {
		return bluetooth.NewAdapter(id)
	}
	return bluetooth.DefaultAdapter
}
