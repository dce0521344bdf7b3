package sensor

import (
	"fmt"
	"time"

	"github.com/ericogr/ad8495-to-mqtt/pkg/config"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	pointerConv   = 0x00
	pointerConfig = 0x01
)

// ADS1115Source samples single-ended inputs of an ADS1115 over I2C. The
// converter width is fixed in hardware: single-ended readings span 15 bits
// over ±4.096 V full scale, so it does not implement ConfigureResolution.
type ADS1115Source struct {
	dev         *i2c.Dev
	bus         i2c.BusCloser
	sampleRate  int
	sampleRates map[int]int
	sleep       func(time.Duration)
}

func NewADS1115Source(cfg config.Config) (*ADS1115Source, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	bus, err := i2creg.Open(cfg.I2C.Bus)
	if err != nil {
		return nil, fmt.Errorf("open i2c: %w", err)
	}
	s := newADS1115Source(bus, uint16(cfg.I2C.Address), cfg)
	s.bus = bus
	return s, nil
}

// newADS1115Source wraps an already open bus. The caller keeps ownership of it.
func newADS1115Source(bus i2c.Bus, addr uint16, cfg config.Config) *ADS1115Source {
	_, rates, _ := buildChannelSettings(cfg)
	return &ADS1115Source{
		dev:         &i2c.Dev{Addr: addr, Bus: bus},
		sampleRate:  cfg.SampleRate,
		sampleRates: rates,
		sleep:       time.Sleep,
	}
}

func (s *ADS1115Source) Close() error {
	if s.bus != nil {
		return s.bus.Close()
	}
	return nil
}

// ReadRaw runs one single-shot conversion on channel. Negative counts, which
// a single-ended input only produces from noise around 0 V, read as 0.
func (s *ADS1115Source) ReadRaw(channel int) (uint32, error) {
	rate := s.rateFor(channel)
	msb, lsb, err := s.configForChannel(channel, rate)
	if err != nil {
		return 0, err
	}
	// write config
	if err := s.dev.Tx([]byte{pointerConfig, msb, lsb}, nil); err != nil {
		return 0, fmt.Errorf("write config: %w", err)
	}
	s.sleep(conversionDelay(rate))
	// read conversion
	readBuf := make([]byte, 2)
	if err := s.dev.Tx([]byte{pointerConv}, readBuf); err != nil {
		return 0, fmt.Errorf("read conv: %w", err)
	}
	raw := int16(readBuf[0])<<8 | int16(readBuf[1])
	if raw < 0 {
		return 0, nil
	}
	return uint32(raw), nil
}

func (s *ADS1115Source) rateFor(channel int) int {
	if r, ok := s.sampleRates[channel]; ok && r > 0 {
		return r
	}
	return s.sampleRate
}

// conversionDelay is how long a single-shot conversion at rate SPS takes,
// rounded up, plus 2 ms of margin.
func conversionDelay(rate int) time.Duration {
	return time.Duration(ConversionMs(rate)) * time.Millisecond
}

// ConversionMs returns the single-shot conversion time in ms at rate SPS.
func ConversionMs(rate int) int {
	if rate <= 0 {
		rate = 128
	}
	return (1000+rate-1)/rate + 2
}

func (s *ADS1115Source) configForChannel(channel, sampleRate int) (byte, byte, error) {
	var mux byte
	switch channel {
	case 0:
		mux = 0x4
	case 1:
		mux = 0x5
	case 2:
		mux = 0x6
	case 3:
		mux = 0x7
	default:
		return 0, 0, fmt.Errorf("invalid channel %d", channel)
	}
	// PGA: use ±4.096V -> bits 001
	pga := byte(0x1)
	// data rate bits
	var dr byte
	switch sampleRate {
	case 8:
		dr = 0x0
	case 16:
		dr = 0x1
	case 32:
		dr = 0x2
	case 64:
		dr = 0x3
	case 128:
		dr = 0x4
	case 250:
		dr = 0x5
	case 475:
		dr = 0x6
	case 860:
		dr = 0x7
	default:
		dr = 0x4
	}
	var config uint16 = 0x8000 // OS = 1 (start single conversion)
	config |= uint16(mux) << 12
	config |= uint16(pga) << 9
	config |= 1 << 8 // single-shot mode
	config |= uint16(dr) << 5
	// comparator default: disabled (bits 1:0 = 11)
	config |= 0x3
	return byte(config >> 8), byte(config & 0xFF), nil
}
