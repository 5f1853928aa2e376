package transport

import (
	"context"

	"github.com/skobkin/myolink/internal/domain"
)

// LinkEventKind is a connection-state change reported by a transport.
type LinkEventKind int

const (
	LinkConnected LinkEventKind = iota + 1
	LinkDisconnected
)

func (k LinkEventKind) String() string {
	switch k {
	case LinkConnected:
		return "connected"
	case LinkDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// LinkEvent is delivered asynchronously whenever the link comes up or drops.
type LinkEvent struct {
	Kind LinkEventKind
	Err  error
}

// Sink receives transport events. Implementations must not block for long:
// events are delivered on the transport's own goroutines.
type Sink interface {
	HandleLinkEvent(ev LinkEvent)
	HandlePayload(p domain.RawPayload)
}

// Transport is the wireless link to the sensor. Connect only reports whether
// the attempt could be made; link liveness is signaled through the Sink.
type Transport interface {
	Name() string
	SetSink(sink Sink)
	Connect(ctx context.Context, address string) error
	EnableNotifications(enabled bool) error
	Close() error
}

type StatusTargetResolver interface {
	StatusTarget() string
}

// nopSink drops everything; used until a real sink is attached.
type nopSink struct{}

func (nopSink) HandleLinkEvent(LinkEvent)       {}
func (nopSink) HandlePayload(domain.RawPayload) {}
