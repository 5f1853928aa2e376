package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/skobkin/myolink/internal/app"
	"github.com/skobkin/myolink/internal/bus"
	"github.com/skobkin/myolink/internal/config"
	"github.com/skobkin/myolink/internal/connectors"
	"github.com/skobkin/myolink/internal/decoder"
	"github.com/skobkin/myolink/internal/domain"
	"github.com/skobkin/myolink/internal/notifications"
)

const maxHexPreviewLen = 64

func main() {
	if err := run(); err != nil {
		slog.Error("run dump tool", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configFile := flag.String("config", "", "config file (default: user config dir)")
	serialPort := flag.String("serial", "", "serial port of a bridge dongle")
	address := flag.String("address", "", "sensor bluetooth address")
	adapter := flag.String("adapter", "", "bluetooth adapter id")
	listenFor := flag.Duration("listen-for", 0, "listen duration, e.g. 30s")
	limit := flag.Int64("limit", 0, "exit after this many payloads")
	showRaw := flag.Bool("raw", false, "log payload bytes as hex")
	flag.Parse()

	if *serialPort != "" && *address != "" {
		return fmt.Errorf("-serial and -address are mutually exclusive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Initialize(ctx, app.InitOptions{
		ConfigFile: *configFile,
		// desktop popups are noise while dumping; show them in the log instead
		Notifier: notifications.SenderFunc(func(p notifications.Payload) {
			slog.Info("notification", "kind", p.Kind, "title", p.Title, "content", p.Content)
		}),
		Override: func(cfg *config.AppConfig) {
			cfg.Logging.LogToFile = false
			if s := strings.TrimSpace(*serialPort); s != "" {
				cfg.Connection.Connector = config.ConnectorSerial
				cfg.Connection.SerialPort = s
			}
			if a := strings.TrimSpace(*address); a != "" {
				cfg.Connection.Connector = config.ConnectorBluetooth
				cfg.Connection.BluetoothAddress = a
			}
			if *adapter != "" {
				cfg.Connection.BluetoothAdapter = *adapter
			}
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			slog.Warn("close runtime", "error", closeErr)
		}
	}()

	cfg := rt.CurrentConfig()
	if err := cfg.ValidateForRecording(); err != nil {
		return err
	}
	logger := rt.Core.LogManager.Logger("dump")
	logger.Info("starting myolink dump", "version", app.BuildVersion(), "build_date", app.BuildDateYMD(), "target", app.ConnectionTarget(cfg.Connection))

	listenCtx, stopListen := context.WithCancel(ctx)
	defer stopListen()

	d := &dumper{logger: logger, showRaw: *showRaw, limit: *limit, done: stopListen}
	watch(listenCtx, rt.Core.Bus, d)

	link := rt.Connectivity.Link
	link.Supervise(listenCtx)
	link.Connect(cfg.Target())

	if *listenFor > 0 {
		logger.Info("listen mode", "duration", *listenFor)
		select {
		case <-listenCtx.Done():
		case <-time.After(*listenFor):
		}
	} else {
		logger.Info("listening until interrupt")
		<-listenCtx.Done()
	}
	stopListen()
	logger.Info("summary", "payloads", d.payloads.Load(), "decode_failures", d.failures.Load())

	return nil
}

func watch(ctx context.Context, b bus.MessageBus, d *dumper) {
	connSub := b.Subscribe(connectors.TopicConnStatus)
	payloadSub := b.Subscribe(connectors.TopicSensorPayload)

	go bus.Consume(ctx, b, connSub, connectors.TopicConnStatus, func(status connectors.ConnectionStatus) {
		d.logger.Info("conn", "state", status.State, "transport", status.TransportName, "target", status.Target, "error", status.Err)
	})
	go bus.Consume(ctx, b, payloadSub, connectors.TopicSensorPayload, d.handle)
}

type dumper struct {
	logger   *slog.Logger
	showRaw  bool
	limit    int64
	done     context.CancelFunc
	payloads atomic.Int64
	failures atomic.Int64
}

func (d *dumper) handle(ev connectors.RawPayloadEvent) {
	n := d.payloads.Add(1)
	attrs := []any{"channel", ev.Payload.Channel, "len", len(ev.Payload.Bytes)}
	if d.showRaw {
		attrs = append(attrs, "hex", previewHex(ev.Payload.Bytes))
	}

	text, err := describePayload(ev.Payload)
	if err != nil {
		d.failures.Add(1)
		d.logger.Warn("decode failed", append(attrs, "error", err)...)
	} else {
		d.logger.Info("payload", append(attrs, "value", text)...)
	}

	if d.limit > 0 && n >= d.limit {
		d.done()
	}
}

// describePayload decodes p and renders it in physical units.
func describePayload(p domain.RawPayload) (string, error) {
	sample, err := decoder.Decode(p.Channel, p.Bytes)
	if err != nil {
		return "", err
	}
	scale, _ := decoder.ScaleFor(p.Channel)

	switch s := sample.(type) {
	case domain.ImuSample:
		return decoder.DescribeIMU(scale, s), nil
	case domain.EmgSample:
		parts := make([]string, len(s.Values))
		for i, v := range s.Values {
			parts[i] = scale.Format(v)
		}
		return fmt.Sprintf("%d samples [%s]", len(s.Values), strings.Join(parts, ", ")), nil
	default:
		return fmt.Sprintf("%v", sample), nil
	}
}

func previewHex(payload []byte) string {
	h := strings.ToUpper(hex.EncodeToString(payload))
	if len(h) <= maxHexPreviewLen {
		return h
	}
	return h[:maxHexPreviewLen] + "..."
}
