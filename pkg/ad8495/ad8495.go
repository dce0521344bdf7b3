// Package ad8495 converts raw ADC counts from an AD8495 thermocouple
// amplifier into calibrated voltage and temperature readings.
//
// The AD8495 outputs 5 mV/°C referenced to 2.5 V at 0 °C. The analog to
// digital conversion itself is provided by a SampleSource.
package ad8495

import (
	"errors"
	"fmt"
	"math"

	"periph.io/x/conn/v3/physic"
)

const (
	DefaultResolutionBits   = 12
	DefaultReferenceVoltage = 3.3
	// NominalVoltageOffset is the amplifier output at 0 °C.
	NominalVoltageOffset = 2.5
	// Sensitivity is the amplifier output slope in volts per °C.
	Sensitivity = 0.005
)

var ErrNoSamples = errors.New("ad8495: sample count must be > 0")

// SampleSource reads one quantized sample from an analog input.
type SampleSource interface {
	ReadRaw(channel int) (uint32, error)
}

// ResolutionConfigurer is implemented by sources whose sampling width can be
// changed at runtime.
type ResolutionConfigurer interface {
	ConfigureResolution(bits int) error
}

// ConfigureResolution asks src to sample with the given bit width. Sources
// with a width fixed in hardware don't implement ResolutionConfigurer and are
// left untouched. Call it once per converter before the first read.
func ConfigureResolution(src SampleSource, bits int) error {
	rc, ok := src.(ResolutionConfigurer)
	if !ok {
		return nil
	}
	if err := rc.ConfigureResolution(bits); err != nil {
		return fmt.Errorf("ad8495: configure resolution %d bits: %w", bits, err)
	}
	return nil
}

// Dev is a single AD8495 wired to one analog input. It is not safe for
// concurrent use.
type Dev struct {
	src     SampleSource
	channel int
	steps   float64
	vref    float64
	lsb     float64

	voltageOffset float64
	tempOffset    float64
	degPerVolt    float64
}

// New returns a Dev reading channel from src. bits and vref describe the
// converter and are not validated: bits == 0 yields an infinite precision.
func New(src SampleSource, channel, bits int, vref float64) *Dev {
	steps := math.Pow(2, float64(bits)) - 1
	return &Dev{
		src:           src,
		channel:       channel,
		steps:         steps,
		vref:          vref,
		lsb:           vref / steps,
		voltageOffset: NominalVoltageOffset,
		degPerVolt:    1 / Sensitivity,
	}
}

func (d *Dev) String() string {
	return fmt.Sprintf("ad8495{channel=%d, vref=%gV, steps=%g}", d.channel, d.vref, d.steps)
}

func (d *Dev) Channel() int { return d.channel }

// Precision returns the voltage of one ADC step.
func (d *Dev) Precision() float64 { return d.lsb }

func (d *Dev) SetVoltageOffset(v float64) { d.voltageOffset = v }

func (d *Dev) VoltageOffset() float64 { return d.voltageOffset }

func (d *Dev) SetTemperatureOffset(c float64) { d.tempOffset = c }

func (d *Dev) TemperatureOffset() float64 { return d.tempOffset }

// ReadVoltage averages samples raw reads and returns the mean in volts.
func (d *Dev) ReadVoltage(samples int) (float64, error) {
	if samples <= 0 {
		return 0, ErrNoSamples
	}
	var total uint64
	for i := 0; i < samples; i++ {
		raw, err := d.src.ReadRaw(d.channel)
		if err != nil {
			return 0, fmt.Errorf("ad8495: read channel %d: %w", d.channel, err)
		}
		total += uint64(raw)
	}
	avg := float64(total) / float64(samples)
	return avg * d.lsb, nil
}

// VoltageToCelsius converts an amplifier output voltage to °C using the
// current calibration.
func (d *Dev) VoltageToCelsius(v float64) float64 {
	return (v-d.voltageOffset)/Sensitivity + d.tempOffset
}

func (d *Dev) TemperatureC(samples int) (float64, error) {
	v, err := d.ReadVoltage(samples)
	if err != nil {
		return 0, err
	}
	return d.VoltageToCelsius(v), nil
}

// TemperatureF takes its own set of samples; it does not reuse a previous
// TemperatureC result.
func (d *Dev) TemperatureF(samples int) (float64, error) {
	c, err := d.TemperatureC(samples)
	if err != nil {
		return 0, err
	}
	return CelsiusToFahrenheit(c), nil
}

// SetpointVoltage returns the voltage the amplifier's fixed sensitivity
// produces for c degrees. The offsets are not applied and nothing is sampled.
func (d *Dev) SetpointVoltage(c float64) float64 {
	return c / d.degPerVolt
}

// SenseVoltage is ReadVoltage expressed in periph units.
func (d *Dev) SenseVoltage(samples int) (physic.ElectricPotential, error) {
	v, err := d.ReadVoltage(samples)
	if err != nil {
		return 0, err
	}
	return physic.ElectricPotential(v * float64(physic.Volt)), nil
}

// Sense fills e.Temperature. Other fields of e are left as is.
func (d *Dev) Sense(samples int, e *physic.Env) error {
	c, err := d.TemperatureC(samples)
	if err != nil {
		return err
	}
	e.Temperature = CelsiusToTemperature(c)
	return nil
}

func CelsiusToFahrenheit(c float64) float64 {
	return c*1.8 + 32.0
}

func CelsiusToTemperature(c float64) physic.Temperature {
	return physic.ZeroCelsius + physic.Temperature(c*float64(physic.Kelvin))
}
