package transport

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/skobkin/myolink/internal/domain"
)

func TestReadPayloadFrameResyncsToHeader(t *testing.T) {
	raw := bytes.NewBuffer([]byte{
		0x00, 0x11, 0x22, // noise before the frame
		frameHeader[0], frameHeader[1],
		0x00, 0x04,
		byte(domain.ChannelGyr), 0x01, 0x02, 0x03,
	})

	got, err := readPayloadFrame(ioReadFullFunc(raw))
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if got.Channel != domain.ChannelGyr || !bytes.Equal(got.Bytes, []byte{1, 2, 3}) {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestReadPayloadFrameSkipsControlFrames(t *testing.T) {
	ack, err := encodeFrame(controlTag, []byte{controlNotifyOn})
	if err != nil {
		t.Fatalf("encode control frame: %v", err)
	}
	data, err := encodePayloadFrame(domain.RawPayload{Channel: domain.ChannelEmgRight, Bytes: []byte{9, 0}})
	if err != nil {
		t.Fatalf("encode data frame: %v", err)
	}

	got, err := readPayloadFrame(ioReadFullFunc(bytes.NewReader(append(ack, data...))))
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if got.Channel != domain.ChannelEmgRight || len(got.Bytes) != 2 {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestReadFrameAllowsEmptyPayload(t *testing.T) {
	frame, err := encodePayloadFrame(domain.RawPayload{Channel: domain.ChannelEmgLeft})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := readPayloadFrame(ioReadFullFunc(bytes.NewReader(frame)))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Channel != domain.ChannelEmgLeft || len(got.Bytes) != 0 {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	raw := bytes.NewBuffer([]byte{
		frameHeader[0], frameHeader[1],
		0x00, 0x00,
	})

	if _, _, err := readFrame(ioReadFullFunc(raw)); err == nil {
		t.Fatalf("expected error for zero-length frame, got nil")
	}
}

func TestEncodeFramePayloadTooLarge(t *testing.T) {
	payload := make([]byte, math.MaxUint16)
	if _, err := encodeFrame(0, payload); err == nil {
		t.Fatalf("expected payload size error, got nil")
	}
	if _, err := encodePayloadFrame(domain.RawPayload{Channel: domain.ChannelKind(7)}); err == nil {
		t.Fatalf("expected unknown channel error, got nil")
	}
}

func TestReadFrameBodyEOF(t *testing.T) {
	raw := bytes.NewBuffer([]byte{
		frameHeader[0], frameHeader[1],
		0x00, 0x04,
		0x01, 0x02,
	})

	_, _, err := readFrame(ioReadFullFunc(raw))
	if err == nil {
		t.Fatalf("expected body read error, got nil")
	}
	if errors.Is(err, io.EOF) {
		t.Fatalf("expected wrapped error, got raw io.EOF")
	}
}
