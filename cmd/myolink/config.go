package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skobkin/myolink/internal/config"
)

func newConfigCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or edit the configuration file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := g.configPath()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(g)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := g.configPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key=value>...",
		Short: "Change configuration values",
		Long:  "Known keys:\n  " + strings.Join(settableKeys(), "\n  "),
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(g)
			if err != nil {
				return err
			}
			for _, arg := range args {
				key, value, ok := strings.Cut(arg, "=")
				if !ok {
					return fmt.Errorf("expected key=value, got %q", arg)
				}
				if err := setConfigValue(&cfg, strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
					return err
				}
			}
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", path)
			return nil
		},
	})

	return cmd
}

func loadConfig(g *globalOptions) (config.AppConfig, string, error) {
	path, err := g.configPath()
	if err != nil {
		return config.AppConfig{}, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.AppConfig{}, "", err
	}

	return cfg, path, nil
}

type configSetter func(cfg *config.AppConfig, value string) error

func stringSetter(field func(*config.AppConfig) *string) configSetter {
	return func(cfg *config.AppConfig, value string) error {
		*field(cfg) = value
		return nil
	}
}

func intSetter(field func(*config.AppConfig) *int) configSetter {
	return func(cfg *config.AppConfig, value string) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("not an integer: %q", value)
		}
		*field(cfg) = n
		return nil
	}
}

func boolSetter(field func(*config.AppConfig) *bool) configSetter {
	return func(cfg *config.AppConfig, value string) error {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("not a boolean: %q", value)
		}
		*field(cfg) = b
		return nil
	}
}

var configSetters = map[string]configSetter{
	"connection.connector": func(cfg *config.AppConfig, value string) error {
		cfg.Connection.Connector = config.ConnectorType(strings.ToLower(value))
		return nil
	},
	"connection.serial_port":       stringSetter(func(c *config.AppConfig) *string { return &c.Connection.SerialPort }),
	"connection.serial_baud":       intSetter(func(c *config.AppConfig) *int { return &c.Connection.SerialBaud }),
	"connection.bluetooth_address": stringSetter(func(c *config.AppConfig) *string { return &c.Connection.BluetoothAddress }),
	"connection.bluetooth_adapter": stringSetter(func(c *config.AppConfig) *string { return &c.Connection.BluetoothAdapter }),
	"connection.sensor.service":    stringSetter(func(c *config.AppConfig) *string { return &c.Connection.Sensor.Service }),
	"connection.sensor.emg_left":   stringSetter(func(c *config.AppConfig) *string { return &c.Connection.Sensor.EmgLeft }),
	"connection.sensor.emg_right":  stringSetter(func(c *config.AppConfig) *string { return &c.Connection.Sensor.EmgRight }),
	"connection.sensor.acc":        stringSetter(func(c *config.AppConfig) *string { return &c.Connection.Sensor.Acc }),
	"connection.sensor.gyr":        stringSetter(func(c *config.AppConfig) *string { return &c.Connection.Sensor.Gyr }),
	"logging.level":                stringSetter(func(c *config.AppConfig) *string { return &c.Logging.Level }),
	"logging.format":               stringSetter(func(c *config.AppConfig) *string { return &c.Logging.Format }),
	"logging.log_to_file":          boolSetter(func(c *config.AppConfig) *bool { return &c.Logging.LogToFile }),
	"recording.output_dir":         stringSetter(func(c *config.AppConfig) *string { return &c.Recording.OutputDir }),
	"recording.reconnect_interval_ms": intSetter(func(c *config.AppConfig) *int {
		return &c.Recording.ReconnectIntervalMS
	}),
	"recording.connect_timeout_sec": intSetter(func(c *config.AppConfig) *int { return &c.Recording.ConnectTimeoutSec }),
	"recording.writer_queue_size":   intSetter(func(c *config.AppConfig) *int { return &c.Recording.WriterQueueSize }),
	"recording.keep_failed_buffers": boolSetter(func(c *config.AppConfig) *bool { return &c.Recording.KeepFailedBuffers }),
	"notifications.enabled":         boolSetter(func(c *config.AppConfig) *bool { return &c.Notifications.Enabled }),
	"notifications.events.connection_status": boolSetter(func(c *config.AppConfig) *bool {
		return &c.Notifications.Events.ConnectionStatus
	}),
	"notifications.events.session_saved": boolSetter(func(c *config.AppConfig) *bool {
		return &c.Notifications.Events.SessionSaved
	}),
}

func settableKeys() []string {
	keys := make([]string, 0, len(configSetters))
	for k := range configSetters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var errUnknownConfigKey = errors.New("unknown config key")

func setConfigValue(cfg *config.AppConfig, key, value string) error {
	set, ok := configSetters[key]
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownConfigKey, key)
	}
	if err := set(cfg, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}
