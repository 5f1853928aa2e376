package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/skobkin/myolink/internal/domain"
)

var frameHeader = [2]byte{0x94, 0xC3}

// controlTag marks frames sent to the bridge dongle itself.
const controlTag byte = 0xFF

const (
	controlNotifyOff byte = 0x00
	controlNotifyOn  byte = 0x01
)

type readFullFunc func(buf []byte) error

// encodeFrame builds header | uint16 BE length | tag | payload, where the
// length covers the tag and the payload.
func encodeFrame(tag byte, payload []byte) ([]byte, error) {
	if len(payload)+1 > math.MaxUint16 {
		return nil, fmt.Errorf("payload too large: %d", len(payload))
	}

	frame := make([]byte, 5+len(payload))
	frame[0] = frameHeader[0]
	frame[1] = frameHeader[1]
	// #nosec G115 -- length is bounded by math.MaxUint16 above.
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(payload)+1))
	frame[4] = tag
	copy(frame[5:], payload)

	return frame, nil
}

func encodePayloadFrame(p domain.RawPayload) ([]byte, error) {
	if !p.Channel.Valid() {
		return nil, fmt.Errorf("unknown channel %d", p.Channel)
	}
	return encodeFrame(byte(p.Channel), p.Bytes)
}

// readFrame returns the next frame's tag and body.
func readFrame(readFull readFullFunc) (byte, []byte, error) {
	if err := resyncToHeader(readFull); err != nil {
		return 0, nil, err
	}

	var lenBuf [2]byte
	if err := readFull(lenBuf[:]); err != nil {
		return 0, nil, fmt.Errorf("read frame length: %w", err)
	}
	ln := int(binary.BigEndian.Uint16(lenBuf[:]))
	if ln <= 0 {
		return 0, nil, fmt.Errorf("invalid frame length: %d", ln)
	}

	body := make([]byte, ln)
	if err := readFull(body); err != nil {
		return 0, nil, fmt.Errorf("read frame body: %w", err)
	}

	return body[0], body[1:], nil
}

// readPayloadFrame reads frames until one carries sensor data.
func readPayloadFrame(readFull readFullFunc) (domain.RawPayload, error) {
	for {
		tag, body, err := readFrame(readFull)
		if err != nil {
			return domain.RawPayload{}, err
		}
		ch := domain.ChannelKind(tag)
		if !ch.Valid() {
			transportLogger("serial").Debug("skipping non-data frame", "tag", tag, "len", len(body))
			continue
		}
		return domain.RawPayload{Channel: ch, Bytes: body}, nil
	}
}

func resyncToHeader(readFull readFullFunc) error {
	buf := make([]byte, 1)
	for {
		if err := readFull(buf); err != nil {
			return fmt.Errorf("read frame header byte 1: %w", err)
		}
		if buf[0] != frameHeader[0] {
			continue
		}
		if err := readFull(buf); err != nil {
			return fmt.Errorf("read frame header byte 2: %w", err)
		}
		if buf[0] == frameHeader[1] {
			return nil
		}
	}
}

func ioReadFullFunc(r io.Reader) readFullFunc {
	return func(buf []byte) error {
		_, err := io.ReadFull(r, buf)

		return err
	}
}
