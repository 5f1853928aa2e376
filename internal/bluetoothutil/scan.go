package bluetoothutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

const DefaultScanDuration = 10 * time.Second

// ScanDevice is one advertiser seen during a scan.
type ScanDevice struct {
	Name    string
	Address string
	RSSI    int
	// IsSensor is set when the device advertises the sensor service.
	IsSensor bool
}

// Scanner lists nearby advertisers. Scans on one Scanner are serialized.
type Scanner struct {
	duration time.Duration
	mu       sync.Mutex
}

func NewScanner(duration time.Duration) *Scanner {
	if duration <= 0 {
		duration = DefaultScanDuration
	}
	return &Scanner{duration: duration}
}

// Scan runs until ctx is done or the scan duration elapses, whichever comes
// first. Devices advertising service are sorted first, then by signal.
func (s *Scanner) Scan(ctx context.Context, adapterID string, service bluetooth.UUID) ([]ScanDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	adapter := ResolveAdapter(adapterID)
	if err := EnableAdapter(adapter); err != nil {
		return nil, fmt.Errorf("enable bluetooth adapter: %w", err)
	}
	if err := StopScan(adapter); err != nil {
		return nil, fmt.Errorf("reset bluetooth scan state: %w", err)
	}

	scanCtx := ctx
	if _, hasDeadline := scanCtx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(scanCtx, s.duration)
		defer cancel()
	}

	var (
		mu      sync.Mutex
		devices = make(map[string]ScanDevice)
	)
	scanErrCh := make(chan error, 1)

	go func() {
		scanErrCh <- runScan(adapter, func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			entry := ScanDevice{
				Name:     strings.TrimSpace(result.LocalName()),
				Address:  NormalizeAddress(result.Address.String()),
				RSSI:     int(result.RSSI),
				IsSensor: result.HasServiceUUID(service),
			}
			if entry.Address == "" {
				return
			}

			mu.Lock()
			defer mu.Unlock()
			if existing, ok := devices[entry.Address]; ok {
				entry = MergeScanDevice(existing, entry)
			}
			devices[entry.Address] = entry
		})
	}()

	if err := awaitScan(scanCtx, adapter, scanErrCh); err != nil {
		return nil, err
	}

	mu.Lock()
	result := make([]ScanDevice, 0, len(devices))
	for _, device := range devices {
		result = append(result, device)
	}
	mu.Unlock()

	SortScanDevices(result)
	return result, nil
}

func runScan(adapter *bluetooth.Adapter, callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		err := adapter.Scan(callback)
		if err == nil {
			return nil
		}
		lastErr = err
		if Classify(err) != ErrorInProgress {
			return err
		}
		if stopErr := StopScan(adapter); stopErr != nil {
			return errors.Join(err, fmt.Errorf("stop stale bluetooth scan: %w", stopErr))
		}
	}
	return lastErr
}

func awaitScan(ctx context.Context, adapter *bluetooth.Adapter, scanErrCh <-chan error) error {
	select {
	case err := <-scanErrCh:
		if err = NormalizeScanError(err); err != nil {
			return fmt.Errorf("scan bluetooth devices: %w", err)
		}
		return nil
	case <-ctx.Done():
		if err := StopScan(adapter); err != nil {
			return fmt.Errorf("stop bluetooth scan: %w", err)
		}
		err := <-scanErrCh
		if err = NormalizeScanError(err); err != nil {
			return fmt.Errorf("scan bluetooth devices: %w", err)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil
		}
		return ctx.Err()
	}
}

// MergeScanDevice folds a repeated advertisement into what was already seen:
// the longest name and strongest signal win.
func MergeScanDevice(existing, next ScanDevice) ScanDevice {
	merged := existing

	if len(strings.TrimSpace(next.Name)) > len(strings.TrimSpace(merged.Name)) {
		merged.Name = next.Name
	}
	if next.RSSI > merged.RSSI {
		merged.RSSI = next.RSSI
	}
	merged.IsSensor = merged.IsSensor || next.IsSensor

	return merged
}

func SortScanDevices(devices []ScanDevice) {
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].IsSensor != devices[j].IsSensor {
			return devices[i].IsSensor
		}
		if devices[i].RSSI != devices[j].RSSI {
			return devices[i].RSSI > devices[j].RSSI
		}

		leftName := strings.ToLower(strings.TrimSpace(devices[i].Name))
		rightName := strings.ToLower(strings.TrimSpace(devices[j].Name))
		if leftName != rightName {
			return leftName < rightName
		}

		return devices[i].Address < devices[j].Address
	})
}

func NormalizeAddress(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}
