package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skobkin/myolink/internal/app"
	"github.com/skobkin/myolink/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Main(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// Main runs the CLI with the given arguments and output streams.
func Main(ctx context.Context, args []string, out, errOut io.Writer) error {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	return cmd.ExecuteContext(ctx)
}

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configFile string
	logLevel   string
	logFormat  string
}

func (o *globalOptions) initOptions(extra func(*config.AppConfig)) app.InitOptions {
	return app.InitOptions{
		ConfigFile: o.configFile,
		Override: func(cfg *config.AppConfig) {
			if o.logLevel != "" {
				cfg.Logging.Level = o.logLevel
			}
			if o.logFormat != "" {
				cfg.Logging.Format = o.logFormat
			}
			if extra != nil {
				extra(cfg)
			}
		},
	}
}

// configPath returns the config file commands read and write.
func (o *globalOptions) configPath() (string, error) {
	if o.configFile != "" {
		return o.configFile, nil
	}
	paths, err := app.ResolvePaths()
	if err != nil {
		return "", err
	}

	return paths.ConfigFile, nil
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           app.Name,
		Short:         "Record EMG and motion streams from a wireless sensor",
		Long:          `myolink connects to a two-channel EMG sensor with an accelerometer and gyroscope, shows live sample rates and saves sessions as verified record files.`,
		Version:       app.BuildVersionWithDate(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: user config dir)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(newRecordCmd(opts))
	root.AddCommand(newListCmd(opts))
	root.AddCommand(newForgetCmd(opts))
	root.AddCommand(newInspectCmd())
	root.AddCommand(newScanCmd(opts))
	root.AddCommand(newPortsCmd(opts))
	root.AddCommand(newBuffersCmd(opts))
	root.AddCommand(newConfigCmd(opts))

	return root
}
