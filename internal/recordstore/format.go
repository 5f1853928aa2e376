package recordstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/skobkin/myolink/internal/domain"
)

const (
	// Magic opens every record file.
	Magic = "MYOR"
	// FormatVersion is bumped on any incompatible layout change.
	FormatVersion uint8 = 1
	// FileExt is the extension of finalized record files.
	FileExt = ".myor"

	imuRecordSize = 8 + 3*2
	// emgRecordHeadSize is an empty EMG packet and the smallest record.
	emgRecordHeadSize = 8 + 2
	// maxHeaderSize guards against reading garbage as a header length.
	maxHeaderSize = 1 << 20
)

// ErrCorrupt reports a record file that cannot be parsed or fails
// verification.
var ErrCorrupt = errors.New("corrupt record file")

// Core Deterministic Encoding: identical headers encode to identical bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("recordstore: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("recordstore: CBOR decoder initialization failed: " + err.Error())
	}
}

// Header is the CBOR-encoded preamble of a record file.
type Header struct {
	Version   uint8        `cbor:"1,keyasint"`
	SessionID string       `cbor:"2,keyasint"`
	Device    string       `cbor:"3,keyasint,omitempty"`
	StartedAt int64        `cbor:"4,keyasint"`
	SavedAt   int64        `cbor:"5,keyasint"`
	Streams   []StreamInfo `cbor:"6,keyasint"`
}

// StreamInfo describes one channel stream. Samples counts the values
// actually appended; Reported is what the aggregator counted.
type StreamInfo struct {
	Channel  domain.ChannelKind `cbor:"1,keyasint"`
	Samples  int64              `cbor:"2,keyasint"`
	Reported int64              `cbor:"3,keyasint"`
	Records  int64              `cbor:"4,keyasint"`
	Bytes    int64              `cbor:"5,keyasint"`
	Digest   []byte             `cbor:"6,keyasint"`
}

// Stream returns the info for channel, if present.
func (h Header) Stream(channel domain.ChannelKind) (StreamInfo, bool) {
	for _, s := range h.Streams {
		if s.Channel == channel {
			return s, true
		}
	}
	return StreamInfo{}, false
}

// Counts returns the appended sample counts per channel.
func (h Header) Counts() domain.Counts {
	counts := domain.NewCounts()
	for _, s := range h.Streams {
		counts[s.Channel] = s.Samples
	}
	return counts
}

// Record is one buffered packet: an IMU triplet or one side of an EMG pair.
type Record struct {
	ElapsedMS int64
	Values    []int16
}

// ChannelRecord binds a Record to the channel stream it belongs to.
type ChannelRecord struct {
	Channel domain.ChannelKind
	Record  Record
}

// Split turns a synced record into per-channel records. EMG pairs produce
// one record per side holding the untruncated packet.
func Split(rec domain.SyncedRecord) []ChannelRecord {
	switch rec.Group {
	case domain.GroupEMGPair:
		if rec.EMG == nil {
			return nil
		}
		return []ChannelRecord{
			{Channel: domain.ChannelEmgLeft, Record: Record{ElapsedMS: rec.ElapsedMS, Values: rec.EMG.Left}},
			{Channel: domain.ChannelEmgRight, Record: Record{ElapsedMS: rec.ElapsedMS, Values: rec.EMG.Right}},
		}
	case domain.GroupACC, domain.GroupGYR:
		if rec.IMU == nil {
			return nil
		}
		channel := domain.ChannelAcc
		if rec.Group == domain.GroupGYR {
			channel = domain.ChannelGyr
		}
		return []ChannelRecord{{
			Channel: channel,
			Record:  Record{ElapsedMS: rec.ElapsedMS, Values: []int16{rec.IMU.X, rec.IMU.Y, rec.IMU.Z}},
		}}
	default:
		return nil
	}
}

func encodeRecord(channel domain.ChannelKind, rec Record) ([]byte, error) {
	switch {
	case channel.IsIMU():
		if len(rec.Values) != 3 {
			return nil, fmt.Errorf("imu record needs 3 values, got %d", len(rec.Values))
		}
		buf := make([]byte, imuRecordSize)
		binary.LittleEndian.PutUint64(buf, uint64(rec.ElapsedMS))
		for i, v := range rec.Values {
			binary.LittleEndian.PutUint16(buf[8+2*i:], uint16(v))
		}
		return buf, nil
	case channel.IsEMG():
		if len(rec.Values) > 0xFFFF {
			return nil, fmt.Errorf("emg packet too long: %d values", len(rec.Values))
		}
		buf := make([]byte, emgRecordHeadSize+2*len(rec.Values))
		binary.LittleEndian.PutUint64(buf, uint64(rec.ElapsedMS))
		binary.LittleEndian.PutUint16(buf[8:], uint16(len(rec.Values)))
		for i, v := range rec.Values {
			binary.LittleEndian.PutUint16(buf[emgRecordHeadSize+2*i:], uint16(v))
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("unknown channel %s", channel)
	}
}

func decodeRecord(channel domain.ChannelKind, r io.Reader) (Record, error) {
	var head [emgRecordHeadSize]byte
	if channel.IsIMU() {
		var buf [imuRecordSize]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return Record{}, err
		}
		rec := Record{ElapsedMS: int64(binary.LittleEndian.Uint64(buf[:8])), Values: make([]int16, 3)}
		for i := range rec.Values {
			rec.Values[i] = int16(binary.LittleEndian.Uint16(buf[8+2*i:]))
		}
		return rec, nil
	}

	if _, err := io.ReadFull(r, head[:]); err != nil {
		return Record{}, err
	}
	n := int(binary.LittleEndian.Uint16(head[8:]))
	rec := Record{ElapsedMS: int64(binary.LittleEndian.Uint64(head[:8])), Values: make([]int16, n)}
	if n == 0 {
		return rec, nil
	}
	body := make([]byte, 2*n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Record{}, err
	}
	for i := range rec.Values {
		rec.Values[i] = int16(binary.LittleEndian.Uint16(body[2*i:]))
	}
	return rec, nil
}

func writePreamble(w io.Writer, h Header) error {
	body, err := encMode.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	pre := make([]byte, 0, len(Magic)+1+4)
	pre = append(pre, Magic...)
	pre = append(pre, FormatVersion)
	pre = binary.BigEndian.AppendUint32(pre, uint32(len(body)))
	if _, err := w.Write(pre); err != nil {
		return fmt.Errorf("write preamble: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

// ReadHeader parses the preamble and header from r, leaving r positioned at
// the first stream.
func ReadHeader(r io.Reader) (Header, error) {
	var pre [len(Magic) + 1 + 4]byte
	if _, err := io.ReadFull(r, pre[:]); err != nil {
		return Header{}, fmt.Errorf("%w: read preamble: %v", ErrCorrupt, err)
	}
	if string(pre[:len(Magic)]) != Magic {
		return Header{}, fmt.Errorf("%w: bad magic %q", ErrCorrupt, pre[:len(Magic)])
	}
	if v := pre[len(Magic)]; v != FormatVersion {
		return Header{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	size := binary.BigEndian.Uint32(pre[len(Magic)+1:])
	if size > maxHeaderSize {
		return Header{}, fmt.Errorf("%w: header length %d", ErrCorrupt, size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return Header{}, fmt.Errorf("%w: read header: %v", ErrCorrupt, err)
	}

	var h Header
	if err := decMode.Unmarshal(body, &h); err != nil {
		return Header{}, fmt.Errorf("%w: decode header: %v", ErrCorrupt, err)
	}
	return h, nil
}
