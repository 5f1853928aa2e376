package bluetoothutil

import (
	"fmt"
	"strings"

	"tinygo.org/x/bluetooth"

	"github.com/skobkin/myolink/internal/domain"
)

// Default GATT layout of the sensor firmware. Every UUID can be overridden
// in the config file.
const (
	DefaultServiceUUID  = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	DefaultEmgLeftUUID  = "6e400010-b5a3-f393-e0a9-e50e24dcca9e"
	DefaultEmgRightUUID = "6e400011-b5a3-f393-e0a9-e50e24dcca9e"
	DefaultAccUUID      = "6e400020-b5a3-f393-e0a9-e50e24dcca9e"
	DefaultGyrUUID      = "6e400021-b5a3-f393-e0a9-e50e24dcca9e"
)

// SensorProfile holds the service and per-channel notify characteristics.
type SensorProfile struct {
	Service         bluetooth.UUID
	Characteristics [domain.ChannelCount]bluetooth.UUID
}

// ProfileUUIDs is the textual form of a SensorProfile as kept in config.
type ProfileUUIDs struct {
	Service  string
	EmgLeft  string
	EmgRight string
	Acc      string
	Gyr      string
}

func DefaultProfileUUIDs() ProfileUUIDs {
	return ProfileUUIDs{
		Service:  DefaultServiceUUID,
		EmgLeft:  DefaultEmgLeftUUID,
		EmgRight: DefaultEmgRightUUID,
		Acc:      DefaultAccUUID,
		Gyr:      DefaultGyrUUID,
	}
}

// DefaultProfile returns the built-in sensor layout.
func DefaultProfile() SensorProfile {
	p, err := ParseProfile(DefaultProfileUUIDs())
	if err != nil {
		panic(fmt.Sprintf("invalid default sensor profile: %v", err))
	}
	return p
}

// ParseProfile validates the UUIDs and makes sure no two entries collide.
func ParseProfile(raw ProfileUUIDs) (SensorProfile, error) {
	var p SensorProfile
	var err error
	if p.Service, err = parseUUID("service", raw.Service); err != nil {
		return SensorProfile{}, err
	}

	byChannel := map[domain.ChannelKind]string{
		domain.ChannelEmgLeft:  raw.EmgLeft,
		domain.ChannelEmgRight: raw.EmgRight,
		domain.ChannelAcc:      raw.Acc,
		domain.ChannelGyr:      raw.Gyr,
	}
	seen := map[bluetooth.UUID]string{p.Service: "service"}
	for _, ch := range domain.Channels {
		uuid, err := parseUUID(ch.String(), byChannel[ch])
		if err != nil {
			return SensorProfile{}, err
		}
		if other, dup := seen[uuid]; dup {
			return SensorProfile{}, fmt.Errorf("%s characteristic UUID duplicates %s", ch, other)
		}
		seen[uuid] = ch.String()
		p.Characteristics[ch] = uuid
	}

	return p, nil
}

// ChannelFor maps a characteristic UUID back to its channel.
func (p SensorProfile) ChannelFor(uuid bluetooth.UUID) (domain.ChannelKind, bool) {
	for _, ch := range domain.Channels {
		if p.Characteristics[ch] == uuid {
			return ch, true
		}
	}
	return 0, false
}

// CharacteristicUUIDs lists the characteristics in channel order.
func (p SensorProfile) CharacteristicUUIDs() []bluetooth.UUID {
	return append([]bluetooth.UUID(nil), p.Characteristics[:]...)
}

func parseUUID(name, raw string) (bluetooth.UUID, error) {
	uuid, err := bluetooth.ParseUUID(strings.TrimSpace(raw))
	if err != nil {
		return bluetooth.UUID{}, fmt.Errorf("invalid %s UUID %q: %w", name, raw, err)
	}
	return uuid, nil
}
