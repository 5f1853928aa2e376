package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/skobkin/myolink/internal/decoder"
	"github.com/skobkin/myolink/internal/domain"
	"github.com/skobkin/myolink/internal/recordstore"
)

func newInspectCmd() *cobra.Command {
	var (
		headerOnly bool
		records    int
	)
	cmd := &cobra.Command{
		Use:   "inspect <file" + recordstore.FileExt + ">",
		Short: "Verify a record file and print its contents",
		Long:  `Reads a record file, checks every stream against its digest and prints the header. Use --records to also print the first records of each stream in physical units.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if headerOnly {
				header, err := recordstore.ReadHeaderFile(args[0])
				if err != nil {
					return err
				}
				return writeHeader(out, header, false)
			}

			file, err := recordstore.ReadFile(args[0])
			if err != nil {
				return err
			}
			if err := writeHeader(out, file.Header, true); err != nil {
				return err
			}
			if records > 0 {
				return writeRecords(out, file, records)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&headerOnly, "header-only", false, "read the header without verifying streams")
	cmd.Flags().IntVarP(&records, "records", "n", 0, "print the first N records of each stream")

	return cmd
}

func writeHeader(w io.Writer, h recordstore.Header, verified bool) error {
	started := time.UnixMilli(h.StartedAt).UTC()
	saved := time.UnixMilli(h.SavedAt).UTC()
	_, _ = fmt.Fprintf(w, "session:  %s\n", h.SessionID)
	if h.Device != "" {
		_, _ = fmt.Fprintf(w, "device:   %s\n", h.Device)
	}
	_, _ = fmt.Fprintf(w, "version:  %d\n", h.Version)
	_, _ = fmt.Fprintf(w, "started:  %s\n", started.Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "saved:    %s (%s)\n", saved.Format(time.RFC3339), formatElapsed(saved.Sub(started)))
	if verified {
		_, _ = fmt.Fprintln(w, "streams:  verified")
	}
	_, _ = fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CHANNEL\tSAMPLES\tREPORTED\tRECORDS\tBYTES\tDIGEST")
	for _, s := range h.Streams {
		digest := hex.EncodeToString(s.Digest)
		if len(digest) > 16 {
			digest = digest[:16]
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n", s.Channel, s.Samples, s.Reported, s.Records, s.Bytes, digest)
	}

	return tw.Flush()
}

func writeRecords(w io.Writer, file *recordstore.File, limit int) error {
	for _, ch := range domain.Channels {
		recs := file.Streams[ch]
		scale, ok := decoder.ScaleFor(ch)
		if !ok {
			continue
		}
		_, _ = fmt.Fprintf(w, "\n%s (%d records)\n", ch, len(recs))
		for i, rec := range recs {
			if i == limit {
				_, _ = fmt.Fprintln(w, "  ...")
				break
			}
			_, _ = fmt.Fprintf(w, "  %8d ms  %s\n", rec.ElapsedMS, formatValues(ch, scale, rec.Values))
		}
	}

	return nil
}

func formatValues(ch domain.ChannelKind, scale decoder.Scale, values []int16) string {
	if ch.IsIMU() && len(values) == 3 {
		return decoder.DescribeIMU(scale, domain.ImuSample{X: values[0], Y: values[1], Z: values[2]})
	}

	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = scale.Format(v)
	}

	return strings.Join(parts, ", ")
}
