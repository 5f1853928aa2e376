package session

import (
	"testing"
	"time"

	"github.com/skobkin/myolink/internal/domain"
)

func TestRateMeterComputesPerChannelRates(t *testing.T) {
	m := NewRateMeter(time.Second)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	counts := domain.NewCounts()
	if got := m.Observe(counts, start); len(got) != 0 {
		t.Fatalf("expected no rates before the first window, got %v", got)
	}

	counts[domain.ChannelEmgLeft] = 400
	counts[domain.ChannelAcc] = 50
	if got := m.Observe(counts, start.Add(500*time.Millisecond)); len(got) != 0 {
		t.Fatalf("expected no rates inside the window, got %v", got)
	}

	counts[domain.ChannelEmgLeft] = 1000
	counts[domain.ChannelAcc] = 100
	got := m.Observe(counts, start.Add(2*time.Second))
	if got[domain.ChannelEmgLeft] != 500 {
		t.Fatalf("expected 500/s on emg_left, got %v", got[domain.ChannelEmgLeft])
	}
	if got[domain.ChannelAcc] != 50 {
		t.Fatalf("expected 50/s on acc, got %v", got[domain.ChannelAcc])
	}
	if got[domain.ChannelGyr] != 0 {
		t.Fatalf("expected 0/s on gyr, got %v", got[domain.ChannelGyr])
	}
}
