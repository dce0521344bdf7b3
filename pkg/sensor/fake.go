package sensor

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ericogr/ad8495-to-mqtt/pkg/ad8495"
	"github.com/ericogr/ad8495-to-mqtt/pkg/config"
)

const (
	// 25 °C at the nominal offset.
	defaultSimulatedVoltage = ad8495.NominalVoltageOffset + 25*ad8495.Sensitivity
	defaultNoiseVolts       = 0.002
)

// FakeSource simulates an ADC with one AD8495 per channel. Scripted raw
// values are returned first; after that each channel reads its simulated
// voltage plus uniform noise, quantized to the configured resolution.
type FakeSource struct {
	mu       sync.Mutex
	steps    float64
	vref     float64
	voltages map[int]float64
	noise    float64
	rnd      *rand.Rand
	script   map[int][]uint32
}

func NewFakeSource(cfg config.Config) *FakeSource {
	chans, _, _ := buildChannelSettings(cfg)
	volts := make(map[int]float64, len(chans))
	for _, c := range chans {
		v := c.SimulatedVoltage
		if v == 0 {
			v = defaultSimulatedVoltage
		}
		volts[c.Channel] = v
	}
	return &FakeSource{
		steps:    math.Pow(2, float64(cfg.ResolutionBits)) - 1,
		vref:     cfg.ReferenceVoltage,
		voltages: volts,
		noise:    defaultNoiseVolts,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		script:   map[int][]uint32{},
	}
}

func (f *FakeSource) ConfigureResolution(bits int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = math.Pow(2, float64(bits)) - 1
	return nil
}

// SetNoise sets the peak noise added to simulated voltages.
func (f *FakeSource) SetNoise(volts float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noise = volts
}

// Script queues raw values for channel ahead of simulated ones.
func (f *FakeSource) Script(channel int, raw ...uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[channel] = append(f.script[channel], raw...)
}

func (f *FakeSource) ReadRaw(channel int) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q := f.script[channel]; len(q) > 0 {
		f.script[channel] = q[1:]
		return q[0], nil
	}
	v, ok := f.voltages[channel]
	if !ok {
		v = defaultSimulatedVoltage
	}
	v += f.noise * (2*f.rnd.Float64() - 1)
	raw := math.Round(v / f.vref * f.steps)
	if raw < 0 || math.IsNaN(raw) {
		raw = 0
	}
	if raw > f.steps {
		raw = f.steps
	}
	return uint32(raw), nil
}

func (f *FakeSource) Close() error { return nil }
