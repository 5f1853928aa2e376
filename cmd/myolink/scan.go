package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/skobkin/myolink/internal/bluetoothutil"
	"github.com/skobkin/myolink/internal/config"
)

func newScanCmd(g *globalOptions) *cobra.Command {
	var (
		duration time.Duration
		adapter  string
		use      bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Look for nearby bluetooth sensors",
		Long:  `Scans for bluetooth advertisers. Devices advertising the configured sensor service are listed first. With --use the strongest sensor becomes the configured recording target.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(g)
			if err != nil {
				return err
			}
			profile, err := cfg.Connection.SensorProfile()
			if err != nil {
				return fmt.Errorf("sensor profile: %w", err)
			}
			if adapter == "" {
				adapter = cfg.Connection.BluetoothAdapter
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "scanning for %s...\n", duration)
			devices, err := bluetoothutil.NewScanner(duration).Scan(cmd.Context(), adapter, profile.Service)
			if err != nil {
				return err
			}
			if err := writeScanResults(out, devices); err != nil {
				return err
			}
			if !use {
				return nil
			}

			best, ok := bestSensor(devices)
			if !ok {
				return errors.New("no sensor found")
			}
			cfg.Connection.Connector = config.ConnectorBluetooth
			cfg.Connection.BluetoothAddress = best.Address
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "recording target set to %s\n", best.Address)
			return nil
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", bluetoothutil.DefaultScanDuration, "how long to scan")
	cmd.Flags().StringVar(&adapter, "adapter", "", "bluetooth adapter id, e.g. hci1")
	cmd.Flags().BoolVar(&use, "use", false, "save the strongest sensor as the recording target")

	return cmd
}

func writeScanResults(w io.Writer, devices []bluetoothutil.ScanDevice) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(w, "no devices found")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ADDRESS\tRSSI\tNAME\t")
	for _, d := range devices {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			name = "(unnamed)"
		}
		marker := ""
		if d.IsSensor {
			marker = "sensor"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", d.Address, d.RSSI, name, marker)
	}

	return tw.Flush()
}

// bestSensor picks the first sensor of a sorted scan result.
func bestSensor(devices []bluetoothutil.ScanDevice) (bluetoothutil.ScanDevice, bool) {
	for _, d := range devices {
		if d.IsSensor {
			return d, true
		}
	}
	return bluetoothutil.ScanDevice{}, false
}
