package decoder

import (
	"fmt"

	"github.com/skobkin/myolink/internal/domain"
)

// Scale is a linear raw-to-physical transform: physical = raw / Divisor * Factor.
// The divide-then-multiply order matches the reference output bit for bit.
type Scale struct {
	Divisor float32
	Factor  float32
	Offset  float32
	Unit    string
}

var (
	// EMGScale converts to volts, assuming an unsigned 12-bit ADC over 3.6 V.
	EMGScale = Scale{Divisor: 4095, Factor: 3.6, Unit: "V"}
	// AccScale converts to g for a ±2 g range.
	AccScale = Scale{Divisor: 32767, Factor: 2, Unit: "g"}
	// GyrScale converts to rad/s for a ±250 range.
	GyrScale = Scale{Divisor: 32767, Factor: 250, Unit: "rad/s"}
)

func (s Scale) Apply(raw int16) float32 {
	return float32(raw)/s.Divisor*s.Factor + s.Offset
}

// ApplyFloat scales an already averaged or interpolated raw value.
func (s Scale) ApplyFloat(raw float32) float32 {
	return raw/s.Divisor*s.Factor + s.Offset
}

// Format renders a raw value the way the viewer labels it, e.g. "0.25 g".
func (s Scale) Format(raw int16) string {
	return fmt.Sprintf("%.2f %s", s.Apply(raw), s.Unit)
}

func ScaleFor(channel domain.ChannelKind) (Scale, bool) {
	switch channel {
	case domain.ChannelEmgLeft, domain.ChannelEmgRight:
		return EMGScale, true
	case domain.ChannelAcc:
		return AccScale, true
	case domain.ChannelGyr:
		return GyrScale, true
	default:
		return Scale{}, false
	}
}

func EMGVolts(raw int16) float32     { return EMGScale.Apply(raw) }
func AccG(raw int16) float32         { return AccScale.Apply(raw) }
func GyrRadPerSec(raw int16) float32 { return GyrScale.Apply(raw) }

// DescribeIMU renders a triplet as "x, y, z" in physical units.
func DescribeIMU(s Scale, sample domain.ImuSample) string {
	return fmt.Sprintf("%.2f %s, %.2f %s, %.2f %s",
		s.Apply(sample.X), s.Unit, s.Apply(sample.Y), s.Unit, s.Apply(sample.Z), s.Unit)
}

// DescribeEMG renders one left/right pair in volts.
func DescribeEMG(left, right int16) string {
	return fmt.Sprintf("L %s / R %s", EMGScale.Format(left), EMGScale.Format(right))
}
