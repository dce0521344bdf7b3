package sensor

import (
	"fmt"
	"io"
	"time"

	"github.com/ericogr/ad8495-to-mqtt/pkg/ad8495"
	"github.com/ericogr/ad8495-to-mqtt/pkg/config"
)

// Reading is one averaged conversion of a channel. TemperatureC and
// TemperatureF are derived from Voltage.
type Reading struct {
	Channel      int       `json:"channel"`
	Name         string    `json:"name,omitempty"`
	Voltage      float64   `json:"voltage"`
	TemperatureC float64   `json:"temperature"`
	TemperatureF float64   `json:"temperature_f"`
	Timestamp    time.Time `json:"timestamp"`
}

type Sensor interface {
	Read() ([]Reading, error)
	Close() error
}

// Source is an ADC the thermocouple sensor samples from.
type Source interface {
	ad8495.SampleSource
	io.Closer
}

// New opens the source selected by cfg.SensorType, configures its
// resolution once and wraps it in a ThermocoupleSensor.
func New(cfg config.Config) (*ThermocoupleSensor, error) {
	var src Source
	switch cfg.SensorType {
	case config.SensorTypeReal:
		s, err := NewADS1115Source(cfg)
		if err != nil {
			return nil, err
		}
		src = s
	case config.SensorTypeSimulation:
		src = NewFakeSource(cfg)
	default:
		return nil, fmt.Errorf("unknown sensor type %q", cfg.SensorType)
	}
	if err := ad8495.ConfigureResolution(src, cfg.ResolutionBits); err != nil {
		_ = src.Close()
		return nil, err
	}
	return NewThermocoupleSensor(cfg, src), nil
}
