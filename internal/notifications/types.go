package notifications

import "strings"

// Kind tells which recorder event produced a notification.
type Kind string

const (
	KindConnectionStatus Kind = "connection_status"
	KindSessionSaved     Kind = "session_saved"
)

// Payload is one desktop notification.
type Payload struct {
	Kind    Kind
	Title   string
	Content string
}

// Normalized returns the payload with surrounding whitespace trimmed.
func (p Payload) Normalized() Payload {
	p.Title = strings.TrimSpace(p.Title)
	p.Content = strings.TrimSpace(p.Content)
	return p
}

// Empty reports whether there is nothing to show.
func (p Payload) Empty() bool {
	n := p.Normalized()
	return n.Title == "" && n.Content == ""
}

// Sender delivers notifications. Implementations must not block the caller
// for long and must tolerate a missing backend.
type Sender interface {
	Send(payload Payload)
}

// SenderFunc adapts a plain function to Sender.
type SenderFunc func(Payload)

func (f SenderFunc) Send(payload Payload) {
	if f != nil {
		f(payload)
	}
}
