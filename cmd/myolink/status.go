package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/skobkin/myolink/internal/connectors"
	"github.com/skobkin/myolink/internal/decoder"
	"github.com/skobkin/myolink/internal/domain"
	"github.com/skobkin/myolink/internal/session"
)

type statusSnapshot struct {
	Conn     connectors.ConnectionStatus
	Elapsed  time.Duration
	EMG      int64
	Counts   domain.Counts
	Rates    session.Rates
	Failures int64
	Acc      *domain.ImuSample
	Gyr      *domain.ImuSample
}

func (s statusSnapshot) String() string {
	var b strings.Builder
	state := string(s.Conn.State)
	if state == "" {
		state = "idle"
	}
	fmt.Fprintf(&b, "[%s] %s", state, formatElapsed(s.Elapsed))

	emgRate := min(s.Rates[domain.ChannelEmgLeft], s.Rates[domain.ChannelEmgRight])
	fmt.Fprintf(&b, "  emg %d (%.0f/s)", s.EMG, emgRate)
	fmt.Fprintf(&b, "  acc %d (%.0f/s)", s.Counts[domain.ChannelAcc], s.Rates[domain.ChannelAcc])
	fmt.Fprintf(&b, "  gyr %d (%.0f/s)", s.Counts[domain.ChannelGyr], s.Rates[domain.ChannelGyr])
	if s.Failures > 0 {
		fmt.Fprintf(&b, "  bad %d", s.Failures)
	}
	if s.Acc != nil {
		fmt.Fprintf(&b, "  a=(%s)", decoder.DescribeIMU(decoder.AccScale, *s.Acc))
	}
	if s.Gyr != nil {
		fmt.Fprintf(&b, "  g=(%s)", decoder.DescribeIMU(decoder.GyrScale, *s.Gyr))
	}

	return b.String()
}

// formatElapsed renders a duration as mm:ss, or h:mm:ss past the hour.
func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	h, m, sec := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}

	return fmt.Sprintf("%02d:%02d", m, sec)
}
