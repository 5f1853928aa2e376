package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skobkin/myolink/internal/app"
)

func newBuffersCmd(g *globalOptions) *cobra.Command {
	var prune bool
	cmd := &cobra.Command{
		Use:   "buffers",
		Short: "List or prune session buffers left behind by interrupted runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := app.Initialize(cmd.Context(), g.initOptions(nil))
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			out := cmd.OutOrStdout()
			if prune {
				n, err := rt.PruneBuffers()
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(out, "removed %d buffer directories\n", n)
				return nil
			}

			dirs, err := rt.StaleBuffers()
			if err != nil {
				return err
			}
			if len(dirs) == 0 {
				_, _ = fmt.Fprintln(out, "no stale buffers")
				return nil
			}
			for _, dir := range dirs {
				_, _ = fmt.Fprintln(out, dir)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&prune, "prune", false, "delete every stale buffer directory")

	return cmd
}
