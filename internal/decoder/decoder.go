// Package decoder turns raw sensor notification payloads into typed samples.
package decoder

import (
	"encoding/binary"

	"github.com/skobkin/myolink/internal/domain"
)

// imuPayloadLen is the minimum ACC/GYR payload: three little-endian int16.
const imuPayloadLen = 6

// Decode interprets bytes according to channel. It never panics; malformed
// payloads yield a *domain.DecodeError and must be dropped by the caller.
func Decode(channel domain.ChannelKind, payload []byte) (domain.Sample, error) {
	switch {
	case channel.IsEMG():
		return DecodeEMG(channel, payload)
	case channel.IsIMU():
		return DecodeIMU(channel, payload)
	default:
		return nil, &domain.DecodeError{Channel: channel, Len: len(payload), Reason: "unknown channel"}
	}
}

// DecodeEMG reads a variable-length sequence of little-endian int16 values.
// An empty payload is a packet without samples.
func DecodeEMG(channel domain.ChannelKind, payload []byte) (domain.EmgSample, error) {
	if len(payload)%2 != 0 {
		return domain.EmgSample{}, &domain.DecodeError{Channel: channel, Len: len(payload), Reason: "odd byte count"}
	}

	values := make([]int16, len(payload)/2)
	for i := range values {
		// #nosec G115 -- reinterpreting the two's complement wire value.
		values[i] = int16(binary.LittleEndian.Uint16(payload[2*i:]))
	}

	return domain.EmgSample{Values: values}, nil
}

// DecodeIMU reads x, y, z from the first six bytes and ignores the rest.
func DecodeIMU(channel domain.ChannelKind, payload []byte) (domain.ImuSample, error) {
	if len(payload) < imuPayloadLen {
		return domain.ImuSample{}, &domain.DecodeError{Channel: channel, Len: len(payload), Reason: "need at least 6 bytes"}
	}

	// #nosec G115 -- reinterpreting the two's complement wire values.
	return domain.ImuSample{
		X: int16(binary.LittleEndian.Uint16(payload[0:2])),
		Y: int16(binary.LittleEndian.Uint16(payload[2:4])),
		Z: int16(binary.LittleEndian.Uint16(payload[4:6])),
	}, nil
}
