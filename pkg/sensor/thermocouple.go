package sensor

import (
	"fmt"
	"time"

	"github.com/ericogr/ad8495-to-mqtt/pkg/ad8495"
	"github.com/ericogr/ad8495-to-mqtt/pkg/config"
)

type thermocouple struct {
	dev     *ad8495.Dev
	name    string
	samples int
}

// ThermocoupleSensor reads one AD8495 per enabled channel from a shared
// source. It is meant to be driven from a single goroutine.
type ThermocoupleSensor struct {
	src      Source
	channels []thermocouple
	now      func() time.Time
}

// Setpoint is the voltage a channel's amplifier should output at a given
// temperature.
type Setpoint struct {
	Channel      int
	Name         string
	TemperatureC float64
	Voltage      float64
}

// NewThermocoupleSensor builds calibrated devices for the enabled channels.
// The source resolution must already be configured. src may be nil when only
// SetpointVoltages is used.
func NewThermocoupleSensor(cfg config.Config, src Source) *ThermocoupleSensor {
	chans, _, samples := buildChannelSettings(cfg)
	s := &ThermocoupleSensor{src: src, now: time.Now}
	for _, c := range chans {
		dev := ad8495.New(src, c.Channel, cfg.ResolutionBits, cfg.ReferenceVoltage)
		dev.SetVoltageOffset(c.VoltageOffsetOrDefault())
		dev.SetTemperatureOffset(c.TemperatureOffset)
		name := c.Name
		if name == "" {
			name = fmt.Sprintf("ch%d", c.Channel)
		}
		s.channels = append(s.channels, thermocouple{dev: dev, name: name, samples: samples[c.Channel]})
	}
	return s
}

// Device returns the AD8495 for channel, or nil if it is not enabled.
func (s *ThermocoupleSensor) Device(channel int) *ad8495.Dev {
	for _, c := range s.channels {
		if c.dev.Channel() == channel {
			return c.dev
		}
	}
	return nil
}

func (s *ThermocoupleSensor) Read() ([]Reading, error) {
	out := make([]Reading, 0, len(s.channels))
	now := s.now()
	for _, c := range s.channels {
		v, err := c.dev.ReadVoltage(c.samples)
		if err != nil {
			return nil, err
		}
		tc := c.dev.VoltageToCelsius(v)
		out = append(out, Reading{
			Channel:      c.dev.Channel(),
			Name:         c.name,
			Voltage:      v,
			TemperatureC: tc,
			TemperatureF: ad8495.CelsiusToFahrenheit(tc),
			Timestamp:    now,
		})
	}
	return out, nil
}

func (s *ThermocoupleSensor) SetpointVoltages(tempC float64) []Setpoint {
	out := make([]Setpoint, 0, len(s.channels))
	for _, c := range s.channels {
		out = append(out, Setpoint{
			Channel:      c.dev.Channel(),
			Name:         c.name,
			TemperatureC: tempC,
			Voltage:      c.dev.SetpointVoltage(tempC),
		})
	}
	return out
}

func (s *ThermocoupleSensor) Close() error {
	if s.src != nil {
		return s.src.Close()
	}
	return nil
}
