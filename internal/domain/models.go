package domain

import (
	"fmt"
	"strings"
	"time"
)

// ChannelKind tags every payload and sample produced by the sensor.
type ChannelKind uint8

const (
	ChannelEmgLeft ChannelKind = iota
	ChannelEmgRight
	ChannelAcc
	ChannelGyr
)

// Channels lists every channel in wire-tag order. Record files store
// channel streams in this order.
var Channels = [...]ChannelKind{ChannelEmgLeft, ChannelEmgRight, ChannelAcc, ChannelGyr}

// ChannelCount is the number of distinct sensor channels.
const ChannelCount = len(Channels)

func (c ChannelKind) String() string {
	switch c {
	case ChannelEmgLeft:
		return "emg_left"
	case ChannelEmgRight:
		return "emg_right"
	case ChannelAcc:
		return "acc"
	case ChannelGyr:
		return "gyr"
	default:
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
}

func (c ChannelKind) Valid() bool {
	return c <= ChannelGyr
}

func (c ChannelKind) IsEMG() bool {
	return c == ChannelEmgLeft || c == ChannelEmgRight
}

func (c ChannelKind) IsIMU() bool {
	return c == ChannelAcc || c == ChannelGyr
}

func ParseChannelKind(raw string) (ChannelKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "emg_left", "emg-left", "left":
		return ChannelEmgLeft, nil
	case "emg_right", "emg-right", "right":
		return ChannelEmgRight, nil
	case "acc":
		return ChannelAcc, nil
	case "gyr", "gyro":
		return ChannelGyr, nil
	default:
		return 0, fmt.Errorf("unknown channel: %q", raw)
	}
}

// RawPayload is a notification body as delivered by the transport.
type RawPayload struct {
	Channel ChannelKind
	Bytes   []byte
}

// Sample is a decoded payload. It is either EmgSample or ImuSample.
type Sample interface {
	// Len reports how many per-channel samples this value contributes to
	// the session counts.
	Len() int
	isSample()
}

// EmgSample is one EMG packet; the sample count varies per packet.
type EmgSample struct {
	Values []int16
}

func (s EmgSample) Len() int { return len(s.Values) }
func (EmgSample) isSample()  {}

// ImuSample is a single accelerometer or gyroscope triplet.
type ImuSample struct {
	X int16
	Y int16
	Z int16
}

func (ImuSample) Len() int  { return 1 }
func (ImuSample) isSample() {}

// ChannelGroup identifies what a SyncedRecord carries.
type ChannelGroup uint8

const (
	GroupEMGPair ChannelGroup = iota + 1
	GroupACC
	GroupGYR
)

func (g ChannelGroup) String() string {
	switch g {
	case GroupEMGPair:
		return "emg"
	case GroupACC:
		return "acc"
	case GroupGYR:
		return "gyr"
	default:
		return "unknown"
	}
}

// EMGPair holds both sides of one paired EMG emission. Left and Right are
// the untruncated packets, which is what gets buffered to disk.
type EMGPair struct {
	Left  []int16
	Right []int16
}

// Pairs returns index-wise left/right pairs truncated to the shorter side.
func (p EMGPair) Pairs() [][2]int16 {
	n := min(len(p.Left), len(p.Right))
	out := make([][2]int16, n)
	for i := 0; i < n; i++ {
		out[i] = [2]int16{p.Left[i], p.Right[i]}
	}

	return out
}

// SyncedRecord is the aggregator output for one channel group.
type SyncedRecord struct {
	ElapsedMS int64
	Group     ChannelGroup
	EMG       *EMGPair
	IMU       *ImuSample
}

// Counts maps each channel to its running sample count.
type Counts map[ChannelKind]int64

func NewCounts() Counts {
	c := make(Counts, ChannelCount)
	for _, ch := range Channels {
		c[ch] = 0
	}

	return c
}

func (c Counts) Clone() Counts {
	out := make(Counts, len(c))
	for k, v := range c {
		out[k] = v
	}

	return out
}

// Total sums all channel counts.
func (c Counts) Total() int64 {
	var total int64
	for _, v := range c {
		total += v
	}

	return total
}

// CountsUpdate is published whenever the aggregator counts change.
type CountsUpdate struct {
	SessionID string
	Counts    Counts
	At        time.Time
}

// SessionSaved is published after a session was committed to a record file.
type SessionSaved struct {
	Recording Recording
}

// Recording is a catalog entry for a finalized record file.
type Recording struct {
	ID        string
	Path      string
	Device    string
	StartedAt time.Time
	SavedAt   time.Time
	Counts    Counts
	SizeBytes int64
}
