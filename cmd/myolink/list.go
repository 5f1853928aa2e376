package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/skobkin/myolink/internal/app"
	"github.com/skobkin/myolink/internal/domain"
)

func newListCmd(g *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved recordings, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := app.Initialize(cmd.Context(), g.initOptions(nil))
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			recs, err := rt.ListRecordings(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeRecordingsJSON(cmd.OutOrStdout(), recs)
			}
			return writeRecordingsTable(cmd.OutOrStdout(), recs, time.Now())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	return cmd
}

func newForgetCmd(g *globalOptions) *cobra.Command {
	var (
		removeFile bool
		all        bool
	)
	cmd := &cobra.Command{
		Use:   "forget <id>...",
		Short: "Remove recordings from the catalog",
		Long:  "Removes catalog entries. Record files stay on disk unless --delete-file is given. --all clears the whole catalog and never deletes files.",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				if len(args) > 0 {
					return errors.New("--all takes no ids")
				}
				return nil
			}
			return cobra.MinimumNArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Initialize(cmd.Context(), g.initOptions(nil))
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			if all {
				n, err := rt.ClearCatalog(cmd.Context())
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "forgot %d recordings\n", n)
				return nil
			}
			for _, id := range args {
				if err := rt.ForgetRecording(cmd.Context(), id, removeFile); err != nil {
					return fmt.Errorf("forget %s: %w", id, err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "forgot %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&removeFile, "delete-file", false, "also delete the record file")
	cmd.Flags().BoolVar(&all, "all", false, "clear the whole catalog")

	return cmd
}

type recordingJSON struct {
	ID        string           `json:"id"`
	Path      string           `json:"path"`
	Device    string           `json:"device,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	SavedAt   time.Time        `json:"saved_at"`
	SizeBytes int64            `json:"size_bytes"`
	Samples   map[string]int64 `json:"samples"`
}

func writeRecordingsJSON(w io.Writer, recs []domain.Recording) error {
	out := make([]recordingJSON, 0, len(recs))
	for _, rec := range recs {
		samples := make(map[string]int64, domain.ChannelCount)
		for _, ch := range domain.Channels {
			samples[ch.String()] = rec.Counts[ch]
		}
		out = append(out, recordingJSON{
			ID:        rec.ID,
			Path:      rec.Path,
			Device:    rec.Device,
			StartedAt: rec.StartedAt.UTC(),
			SavedAt:   rec.SavedAt.UTC(),
			SizeBytes: rec.SizeBytes,
			Samples:   samples,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func writeRecordingsTable(w io.Writer, recs []domain.Recording, now time.Time) error {
	if len(recs) == 0 {
		_, err := fmt.Fprintln(w, "no recordings yet")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tSAVED\tLENGTH\tEMG L/R\tACC\tGYR\tSIZE\tPATH")
	for _, rec := range recs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%d\t%s\t%s\n",
			rec.ID,
			humanize.RelTime(rec.SavedAt, now, "ago", "from now"),
			formatElapsed(rec.SavedAt.Sub(rec.StartedAt)),
			rec.Counts[domain.ChannelEmgLeft],
			rec.Counts[domain.ChannelEmgRight],
			rec.Counts[domain.ChannelAcc],
			rec.Counts[domain.ChannelGyr],
			humanize.Bytes(uint64(max(rec.SizeBytes, 0))),
			rec.Path,
		)
	}

	return tw.Flush()
}
