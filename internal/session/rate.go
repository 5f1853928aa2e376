package session

import (
	"sync"
	"time"

	"github.com/skobkin/myolink/internal/domain"
)

// Rates holds samples per second per channel.
type Rates map[domain.ChannelKind]float64

// RateMeter derives per-channel sample rates from successive Counts
// snapshots. Each Observe call compares against the previous snapshot that
// is at least one window old.
type RateMeter struct {
	window time.Duration

	mu       sync.Mutex
	prev     domain.Counts
	prevAt   time.Time
	last     Rates
	observed bool
}

func NewRateMeter(window time.Duration) *RateMeter {
	if window <= 0 {
		window = time.Second
	}

	return &RateMeter{window: window, last: Rates{}}
}

// Observe records a snapshot taken at at and returns the latest rates.
func (m *RateMeter) Observe(counts domain.Counts, at time.Time) Rates {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.observed {
		m.prev = counts.Clone()
		m.prevAt = at
		m.observed = true
		return m.copyLast()
	}

	elapsed := at.Sub(m.prevAt)
	if elapsed < m.window {
		return m.copyLast()
	}

	rates := make(Rates, domain.ChannelCount)
	seconds := elapsed.Seconds()
	for _, ch := range domain.Channels {
		delta := counts[ch] - m.prev[ch]
		if delta < 0 {
			delta = 0
		}
		rates[ch] = float64(delta) / seconds
	}
	m.prev = counts.Clone()
	m.prevAt = at
	m.last = rates

	return m.copyLast()
}

func (m *RateMeter) copyLast() Rates {
	out := make(Rates, len(m.last))
	for k, v := range m.last {
		out[k] = v
	}
	return out
}
