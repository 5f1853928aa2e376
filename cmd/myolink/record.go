package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/skobkin/myolink/internal/app"
	"github.com/skobkin/myolink/internal/bus"
	"github.com/skobkin/myolink/internal/config"
	"github.com/skobkin/myolink/internal/connectors"
	"github.com/skobkin/myolink/internal/domain"
	"github.com/skobkin/myolink/internal/recorder"
	"github.com/skobkin/myolink/internal/session"
)

const saveTimeout = 30 * time.Second

type recordOptions struct {
	address  string
	adapter  string
	serial   string
	baud     int
	output   string
	duration time.Duration
	interval time.Duration
	discard  bool
	values   bool
}

func newRecordCmd(g *globalOptions) *cobra.Command {
	o := &recordOptions{}
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a session until interrupted",
		Long: `Connects to the sensor, keeps reconnecting on link loss and shows live counts.
Ctrl-C or the end of --duration saves the session; with --discard it is dropped instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if o.address != "" && o.serial != "" {
				return errors.New("--address and --serial are mutually exclusive")
			}
			return runRecord(cmd.Context(), cmd.OutOrStdout(), g, o)
		},
	}
	cmd.Flags().StringVarP(&o.address, "address", "a", "", "sensor bluetooth address")
	cmd.Flags().StringVar(&o.adapter, "adapter", "", "bluetooth adapter id, e.g. hci1")
	cmd.Flags().StringVar(&o.serial, "serial", "", "serial port of a bridge dongle")
	cmd.Flags().IntVar(&o.baud, "baud", 0, "serial baud rate")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "directory for saved record files")
	cmd.Flags().DurationVarP(&o.duration, "duration", "d", 0, "stop and save after this long")
	cmd.Flags().DurationVar(&o.interval, "status-interval", time.Second, "status line refresh interval")
	cmd.Flags().BoolVar(&o.discard, "discard", false, "drop the session instead of saving it")
	cmd.Flags().BoolVar(&o.values, "values", false, "show the latest motion values in the status line")

	return cmd
}

func (o *recordOptions) apply(cfg *config.AppConfig) {
	if o.serial != "" {
		cfg.Connection.Connector = config.ConnectorSerial
		cfg.Connection.SerialPort = o.serial
	}
	if o.address != "" {
		cfg.Connection.Connector = config.ConnectorBluetooth
		cfg.Connection.BluetoothAddress = o.address
	}
	if o.adapter != "" {
		cfg.Connection.BluetoothAdapter = o.adapter
	}
	if o.baud > 0 {
		cfg.Connection.SerialBaud = o.baud
	}
	if o.output != "" {
		cfg.Recording.OutputDir = o.output
	}
}

func runRecord(ctx context.Context, out io.Writer, g *globalOptions, o *recordOptions) error {
	rt, err := app.Initialize(ctx, g.initOptions(o.apply))
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			slog.Warn("close runtime", "error", err)
		}
	}()

	s, err := rt.NewSession()
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			slog.Warn("close session", "error", err)
		}
	}()

	line := newStatusLine(out, o.values)
	stopWatch := line.watch(rt.Core.Bus)
	defer stopWatch()

	// the session outlives ctx so an interrupt still leads to a clean save
	runCtx, stopRun := context.WithCancel(context.WithoutCancel(ctx))
	defer stopRun()
	if err := s.Start(runCtx); err != nil {
		return err
	}

	var deadline <-chan time.Time
	if o.duration > 0 {
		timer := time.NewTimer(o.duration)
		defer timer.Stop()
		deadline = timer.C
	}
	interval := o.interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-deadline:
			break wait
		case now := <-ticker.C:
			status, _ := rt.CurrentConnStatus()
			line.render(now, status, s)
		}
	}
	line.finish()
	stopRun()

	if o.discard {
		_, _ = fmt.Fprintf(out, "session %s discarded\n", s.ID())
		return nil
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	res, err := s.Save(saveCtx)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	_, _ = fmt.Fprintf(out, "saved %s (%s, %d samples)\n",
		res.Path, humanize.Bytes(uint64(max(res.SizeBytes, 0))), res.Header.Counts().Total())
	if dropped := s.DroppedWrites(); dropped > 0 {
		_, _ = fmt.Fprintf(out, "warning: %d records were dropped because the disk could not keep up\n", dropped)
	}

	return nil
}

// statusLine redraws a single terminal line with live session figures.
type statusLine struct {
	out    io.Writer
	values bool
	meter  *session.RateMeter

	failures atomic.Int64
	lastAcc  atomic.Pointer[domain.ImuSample]
	lastGyr  atomic.Pointer[domain.ImuSample]
	width    int
}

func newStatusLine(out io.Writer, values bool) *statusLine {
	return &statusLine{
		out:    out,
		values: values,
		meter:  session.NewRateMeter(time.Second),
	}
}

// watch follows decode failures and motion records on the bus until the
// returned stop function is called.
func (l *statusLine) watch(b bus.MessageBus) func() {
	ctx, cancel := context.WithCancel(context.Background())
	failSub := b.Subscribe(connectors.TopicDecodeFailure)
	recSub := b.Subscribe(connectors.TopicRecord)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		bus.Consume(ctx, b, failSub, connectors.TopicDecodeFailure, func(connectors.DecodeFailure) {
			l.failures.Add(1)
		})
	}()
	go func() {
		defer wg.Done()
		bus.Consume(ctx, b, recSub, connectors.TopicRecord, l.observeRecord)
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

func (l *statusLine) observeRecord(rec domain.SyncedRecord) {
	if rec.IMU == nil {
		return
	}
	sample := *rec.IMU
	switch rec.Group {
	case domain.GroupACC:
		l.lastAcc.Store(&sample)
	case domain.GroupGYR:
		l.lastGyr.Store(&sample)
	}
}

func (l *statusLine) render(now time.Time, status connectors.ConnectionStatus, s *recorder.Session) {
	counts := s.Counts()
	snap := statusSnapshot{
		Conn:     status,
		Elapsed:  now.Sub(s.StartedAt()),
		EMG:      s.EMGDisplayCount(),
		Counts:   counts,
		Rates:    l.meter.Observe(counts, now),
		Failures: l.failures.Load(),
	}
	if l.values {
		snap.Acc = l.lastAcc.Load()
		snap.Gyr = l.lastGyr.Load()
	}

	text := snap.String()
	pad := l.width - len(text)
	l.width = len(text)
	if pad < 0 {
		pad = 0
	}
	_, _ = fmt.Fprintf(l.out, "\r%s%*s", text, pad, "")
}

func (l *statusLine) finish() {
	if l.width > 0 {
		_, _ = fmt.Fprintln(l.out)
	}
}
