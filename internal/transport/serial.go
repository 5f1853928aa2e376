package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	defaultSerialReadTimeout = 300 * time.Millisecond
	DefaultSerialBaudRate    = 921600
)

var errSerialClosed = errors.New("serial transport closed")

// serialPort is the part of serial.Port the transport uses.
type serialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

type serialOpener func(name string, baudRate int) (serialPort, error)

func openSerialPort(name string, baudRate int) (serialPort, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, err
	}
	return port, nil
}

// ListSerialPorts returns the serial ports present on the system, sorted.
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	sort.Strings(ports)
	return ports, nil
}

type serialConn struct {
	port    serialPort
	stop    chan struct{}
	done    chan struct{}
	stopped sync.Once
}

// SerialTransport reads sensor notifications relayed by a USB bridge dongle.
// The address passed to Connect is the port name.
type SerialTransport struct {
	baudRate int
	open     serialOpener

	mu        sync.Mutex
	sink      Sink
	portName  string
	conn      *serialConn
	notifying bool
	writeMu   sync.Mutex
}

func NewSerialTransport(baudRate int) *SerialTransport {
	if baudRate <= 0 {
		baudRate = DefaultSerialBaudRate
	}
	return &SerialTransport{
		baudRate: baudRate,
		open:     openSerialPort,
		sink:     nopSink{},
	}
}

func (t *SerialTransport) Name() string {
	return "serial"
}

func (t *SerialTransport) SetSink(sink Sink) {
	if sink == nil {
		sink = nopSink{}
	}
	t.mu.Lock()
	t.sink = sink
	t.mu.Unlock()
}

func (t *SerialTransport) StatusTarget() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.portName
}

func (t *SerialTransport) BaudRate() int {
	return t.baudRate
}

func (t *SerialTransport) Connect(ctx context.Context, address string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	portName := strings.TrimSpace(address)
	t.portName = portName
	logger := transportLogger("serial", "port", portName, "baud", t.baudRate)
	if t.conn != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if portName == "" {
		return errors.New("serial port is empty")
	}

	port, err := t.open(portName, t.baudRate)
	if err != nil {
		logger.Warn("open port failed", "error", err)
		return fmt.Errorf("open serial port %q: %w", portName, err)
	}
	if err := port.SetReadTimeout(defaultSerialReadTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("set serial read timeout: %w", err)
	}

	conn := &serialConn{port: port, stop: make(chan struct{}), done: make(chan struct{})}
	t.conn = conn
	t.notifying = false
	logger.Info("connected")
	go t.readLoop(conn)

	return nil
}

// EnableNotifications asks the dongle to start or stop relaying sensor
// notifications. Frames received while disabled are dropped.
func (t *SerialTransport) EnableNotifications(enabled bool) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		if enabled {
			return errors.New("transport is not connected")
		}
		return nil
	}

	cmd := controlNotifyOff
	if enabled {
		cmd = controlNotifyOn
	}
	frame, err := encodeFrame(controlTag, []byte{cmd})
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	err = writeFull(conn.port, frame)
	t.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("write notify control frame: %w", err)
	}

	t.mu.Lock()
	if t.conn == conn {
		t.notifying = enabled
	}
	t.mu.Unlock()

	return nil
}

func (t *SerialTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.notifying = false
	t.mu.Unlock()
	if conn == nil {
		return nil
	}

	conn.stopped.Do(func() { close(conn.stop) })
	err := conn.port.Close()
	<-conn.done
	transportLogger("serial", "port", t.StatusTarget()).Info("closed")

	return err
}

func (t *SerialTransport) readLoop(conn *serialConn) {
	defer close(conn.done)

	t.mu.Lock()
	sink := t.sink
	t.mu.Unlock()
	sink.HandleLinkEvent(LinkEvent{Kind: LinkConnected})

	readFull := func(buf []byte) error {
		return readFullInterruptible(conn.stop, conn.port, buf)
	}
	for {
		p, err := readPayloadFrame(readFull)
		if err != nil {
			if errors.Is(err, errSerialClosed) {
				return
			}
			t.failConn(conn, err)
			return
		}

		t.mu.Lock()
		forward := t.conn == conn && t.notifying
		sink = t.sink
		t.mu.Unlock()
		if forward {
			sink.HandlePayload(p)
		}
	}
}

func (t *SerialTransport) failConn(conn *serialConn, err error) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.notifying = false
	sink := t.sink
	portName := t.portName
	t.mu.Unlock()

	conn.stopped.Do(func() { close(conn.stop) })
	_ = conn.port.Close()
	transportLogger("serial", "port", portName).Warn("serial link lost", "error", err)
	sink.HandleLinkEvent(LinkEvent{Kind: LinkDisconnected, Err: err})
}

// readFullInterruptible fills buf, tolerating read timeouts (zero-byte
// reads) until stop is closed.
func readFullInterruptible(stop <-chan struct{}, r io.Reader, buf []byte) error {
	read := 0
	for read < len(buf) {
		select {
		case <-stop:
			return errSerialClosed
		default:
		}
		n, err := r.Read(buf[read:])
		if err != nil {
			select {
			case <-stop:
				return errSerialClosed
			default:
			}
			return err
		}
		read += n
	}

	return nil
}

func writeFull(w io.Writer, buf []byte) error {
	written := 0
	for written < len(buf) {
		n, err := w.Write(buf[written:])
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		written += n
	}
	return nil
}
