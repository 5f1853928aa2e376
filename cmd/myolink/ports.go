package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skobkin/myolink/internal/transport"
)

func newPortsCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports a bridge dongle may be attached to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(g)
			if err != nil {
				return err
			}
			ports, err := transport.ListSerialPorts()
			if err != nil {
				return err
			}
			return writePorts(cmd.OutOrStdout(), ports, cfg.Connection.SerialPort)
		},
	}
}

func writePorts(w io.Writer, ports []string, configured string) error {
	if len(ports) == 0 {
		_, err := fmt.Fprintln(w, "no serial ports detected")
		return err
	}
	configured = strings.TrimSpace(configured)
	for _, port := range ports {
		marker := ""
		if port == configured {
			marker = " (configured)"
		}
		if _, err := fmt.Fprintf(w, "%s%s\n", port, marker); err != nil {
			return err
		}
	}
	return nil
}
