package domain

import (
	"errors"
	"fmt"
)

// ErrTransportTransient marks link failures that are retried while a session
// is supervised.
var ErrTransportTransient = errors.New("transient transport failure")

// DecodeError reports a malformed payload. The payload is dropped.
type DecodeError struct {
	Channel ChannelKind
	Len     int
	Reason  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s payload (%d bytes): %s", e.Channel, e.Len, e.Reason)
}

// BufferWriteError reports a failed append to a channel buffer. The record
// is dropped and the session keeps streaming.
type BufferWriteError struct {
	Channel ChannelKind
	Err     error
}

func (e *BufferWriteError) Error() string {
	return fmt.Sprintf("append %s record: %v", e.Channel, e.Err)
}

func (e *BufferWriteError) Unwrap() error {
	return e.Err
}

// FinalizeError reports a failed commit of a session. It is surfaced to the
// caller of the save action.
type FinalizeError struct {
	Op  string
	Err error
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("finalize session: %s: %v", e.Op, e.Err)
}

func (e *FinalizeError) Unwrap() error {
	return e.Err
}

// ErrRecordingNotFound is returned by catalog lookups for unknown IDs.
var ErrRecordingNotFound = errors.New("recording not found")
