package bluetoothutil

import (
	"fmt"
	"runtime"
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/skobkin/myolink/internal/domain"
)

func TestIsDBusErrorName(t *testing.T) {
	err := dbus.NewError("org.bluez.Error.InProgress", nil)
	if !IsDBusErrorName(err, "org.bluez.Error.InProgress") {
		t.Fatalf("expected direct dbus error match")
	}
	if !IsDBusErrorName(fmt.Errorf("wrapped: %w", err), "org.bluez.Error.InProgress") {
		t.Fatalf("expected wrapped dbus error match")
	}
	if IsDBusErrorName(testErr("plain"), "org.bluez.Error.InProgress") {
		t.Fatalf("unexpected match for plain error")
	}
}

func TestClassify(t *testing.T) {
	missingDevice := dbus.NewError("org.freedesktop.DBus.Error.UnknownMethod", []interface{}{
		`Method "Get" with signature "ss" on interface "org.freedesktop.DBus.Properties" doesn't exist`,
	})

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: ErrorBenign},
		{name: "not ready", err: dbus.NewError("org.bluez.Error.NotReady", nil), want: ErrorBenign},
		{name: "no discovery", err: dbus.NewError("org.bluez.Error.Failed", []interface{}{"No discovery started"}), want: ErrorBenign},
		{name: "in progress dbus", err: dbus.NewError("org.bluez.Error.InProgress", nil), want: ErrorInProgress},
		{name: "in progress text", err: testErr("Operation already in progress"), want: ErrorInProgress},
		{name: "missing device", err: fmt.Errorf("connect: %w", missingDevice), want: ErrorDeviceUnknown},
		{name: "scan stopped", err: testErr("scan stopped"), want: ErrorBenign},
		{name: "other", err: testErr("some serious error"), want: ErrorOther},
	}

	for _, tc := range tests {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("%s: expected kind %d, got %d", tc.name, tc.want, got)
		}
	}

	if got, want := NeedsDiscovery(missingDevice), runtime.GOOS == "linux"; got != want {
		t.Fatalf("unexpected discovery decision: got=%v want=%v", got, want)
	}
	if NormalizeScanError(testErr("scan stopped")) != nil {
		t.Fatalf("expected benign scan error to be dropped")
	}
}

func TestDefaultProfileIsDistinct(t *testing.T) {
	p := DefaultProfile()
	seen := map[string]bool{p.Service.String(): true}
	for _, uuid := range p.CharacteristicUUIDs() {
		if seen[uuid.String()] {
			t.Fatalf("duplicate UUID %s in default profile", uuid)
		}
		seen[uuid.String()] = true
	}

	for _, ch := range domain.Channels {
		got, ok := p.ChannelFor(p.Characteristics[ch])
		if !ok || got != ch {
			t.Fatalf("%s: reverse lookup returned %v, %v", ch, got, ok)
		}
	}
}

func TestParseProfileRejectsBadInput(t *testing.T) {
	dup := DefaultProfileUUIDs()
	dup.Gyr = dup.Acc
	if _, err := ParseProfile(dup); err == nil {
		t.Fatalf("expected duplicate UUID error")
	}

	bad := DefaultProfileUUIDs()
	bad.Service = "not-a-uuid"
	if _, err := ParseProfile(bad); err == nil {
		t.Fatalf("expected parse error")
	}
}

type testErr string

func (e testErr) Error() string {
	return string(e)
}
