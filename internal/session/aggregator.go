// Package session pairs and timestamps decoded sensor samples.
package session

import (
	"sync"
	"time"

	"github.com/skobkin/myolink/internal/domain"
)

const (
	maskLeft  uint8 = 0b01
	maskRight uint8 = 0b10
	maskBoth        = maskLeft | maskRight
)

// Listener receives every emitted record together with the counts after it
// was applied. It is called with the aggregator lock released.
type Listener func(rec domain.SyncedRecord, counts domain.Counts)

// Aggregator turns decoded samples into SyncedRecords. EMG sides are paired
// with a two-bit completion mask: only the newest unpaired packet per side
// is kept, and a pair is emitted as soon as both bits are set.
type Aggregator struct {
	start time.Time
	now   func() time.Time

	mu       sync.Mutex
	mask     uint8
	left     []int16
	right    []int16
	counts   domain.Counts
	listener Listener
}

func NewAggregator(start time.Time, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}

	return &Aggregator{
		start:  start,
		now:    now,
		counts: domain.NewCounts(),
	}
}

func (a *Aggregator) StartTime() time.Time {
	return a.start
}

func (a *Aggregator) SetListener(l Listener) {
	a.mu.Lock()
	a.listener = l
	a.mu.Unlock()
}

// Elapsed returns whole milliseconds since the session started.
func (a *Aggregator) Elapsed() int64 {
	return a.now().Sub(a.start).Milliseconds()
}

// Ingest timestamps sample with the session clock and feeds it to OnSample.
func (a *Aggregator) Ingest(channel domain.ChannelKind, sample domain.Sample) (domain.SyncedRecord, bool) {
	return a.OnSample(channel, sample, a.Elapsed())
}

// OnSample applies one decoded sample. It returns the record emitted by this
// sample, if any. Samples whose type does not match the channel are ignored.
func (a *Aggregator) OnSample(channel domain.ChannelKind, sample domain.Sample, elapsedMS int64) (domain.SyncedRecord, bool) {
	a.mu.Lock()
	rec, ok := a.apply(channel, sample, elapsedMS)
	listener := a.listener
	var counts domain.Counts
	if ok && listener != nil {
		counts = a.counts.Clone()
	}
	a.mu.Unlock()

	if ok && listener != nil {
		listener(rec, counts)
	}

	return rec, ok
}

func (a *Aggregator) apply(channel domain.ChannelKind, sample domain.Sample, elapsedMS int64) (domain.SyncedRecord, bool) {
	switch s := sample.(type) {
	case domain.ImuSample:
		var group domain.ChannelGroup
		switch channel {
		case domain.ChannelAcc:
			group = domain.GroupACC
		case domain.ChannelGyr:
			group = domain.GroupGYR
		default:
			return domain.SyncedRecord{}, false
		}
		a.counts[channel]++
		imu := s

		return domain.SyncedRecord{ElapsedMS: elapsedMS, Group: group, IMU: &imu}, true
	case domain.EmgSample:
		switch channel {
		case domain.ChannelEmgLeft:
			a.left = s.Values
			a.mask |= maskLeft
		case domain.ChannelEmgRight:
			a.right = s.Values
			a.mask |= maskRight
		default:
			return domain.SyncedRecord{}, false
		}
		if a.mask != maskBoth {
			return domain.SyncedRecord{}, false
		}

		pair := &domain.EMGPair{Left: a.left, Right: a.right}
		a.counts[domain.ChannelEmgLeft] += int64(len(a.left))
		a.counts[domain.ChannelEmgRight] += int64(len(a.right))
		a.mask = 0
		a.left = nil
		a.right = nil

		return domain.SyncedRecord{ElapsedMS: elapsedMS, Group: domain.GroupEMGPair, EMG: pair}, true
	default:
		return domain.SyncedRecord{}, false
	}
}

// Counts returns a snapshot of the per-channel sample counts.
func (a *Aggregator) Counts() domain.Counts {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts.Clone()
}

// EMGDisplayCount is the number of displayable EMG pairs so far, i.e. the
// smaller of the two side counts.
func (a *Aggregator) EMGDisplayCount() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return min(a.counts[domain.ChannelEmgLeft], a.counts[domain.ChannelEmgRight])
}

// PendingMask exposes the pairing mask for diagnostics.
func (a *Aggregator) PendingMask() uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mask
}
