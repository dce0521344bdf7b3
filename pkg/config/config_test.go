package config

import (
	"math"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/ad8495-to-mqtt/pkg/ad8495"
)

func TestParseKeyFloatMap(t *testing.T) {
	tests := []struct {
		in   string
		want map[int]float64
		ok   bool
	}{
		{"", map[int]float64{}, true},
		{"0=1.23,1=0.98", map[int]float64{0: 1.23, 1: 0.98}, true},
		{" 0 = 1 , 2 = -0.5", map[int]float64{0: 1.0, 2: -0.5}, true},
		{"bad", nil, false},
	}
	for _, tt := range tests {
		got, err := parseKeyFloatMap(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("parseKeyFloatMap(%q) ok=%v err=%v", tt.in, tt.ok, err)
		}
		if tt.ok && !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("parseKeyFloatMap(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseKeyIntMap(t *testing.T) {
	tests := []struct {
		in   string
		want map[int]int
		ok   bool
	}{
		{"", map[int]int{}, true},
		{"0=128,1=250", map[int]int{0: 128, 1: 250}, true},
		{"0=8, 2=16", map[int]int{0: 8, 2: 16}, true},
		{"bad", nil, false},
	}
	for _, tt := range tests {
		got, err := parseKeyIntMap(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("parseKeyIntMap(%q) ok=%v err=%v", tt.in, tt.ok, err)
		}
		if tt.ok && !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("parseKeyIntMap(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseKeyBoolMap(t *testing.T) {
	tests := []struct {
		in   string
		want map[int]bool
		ok   bool
	}{
		{"", map[int]bool{}, true},
		{"0=true,1=false", map[int]bool{0: true, 1: false}, true},
		{"0=true, 2=true", map[int]bool{0: true, 2: true}, true},
		{"bad", nil, false},
	}
	for _, tt := range tests {
		got, err := parseKeyBoolMap(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("parseKeyBoolMap(%q) ok=%v err=%v", tt.in, tt.ok, err)
		}
		if tt.ok && !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("parseKeyBoolMap(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseKeyMapErrors(t *testing.T) {
	if _, err := parseKeyFloatMap("0=abc"); err == nil {
		t.Fatalf("expected float error")
	}
	if _, err := parseKeyIntMap("x=1"); err == nil {
		t.Fatalf("expected channel error")
	}
	if _, err := parseKeyBoolMap("1=maybe"); err == nil {
		t.Fatalf("expected bool error")
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "2", cfg.I2C.Bus)
	assert.Equal(t, 0x48, cfg.I2C.Address)
	assert.Equal(t, 15, cfg.ResolutionBits)
	assert.Equal(t, 4.096, cfg.ReferenceVoltage)
	assert.Equal(t, SensorTypeReal, cfg.SensorType)
	assert.False(t, cfg.Once)
	assert.True(t, math.IsNaN(cfg.SetpointC))
	require.Len(t, cfg.EnabledChannels(), 1)
	assert.Equal(t, ad8495.NominalVoltageOffset, cfg.Channels[0].VoltageOffsetOrDefault())
}

func TestLoadFlagsOverride(t *testing.T) {
	cfg, err := Load([]string{
		"-i2c-address", "0x49",
		"-sensor-type", "simulation",
		"-channels", "1,3",
		"-voltage-offsets", "1=2.498",
		"-temperature-offsets", "1=1.5,3=-0.25",
		"-channel-sample-rates", "3=250",
		"-samples", "8",
		"-outputs", "console,mqtt",
		"-output-intervals", "mqtt=5000",
		"-mqtt-server", "tcp://broker:1883",
		"-mqtt-topic", "thermo/%d",
		"-setpoint-c", "100",
	})
	require.NoError(t, err)

	assert.Equal(t, 0x49, cfg.I2C.Address)
	assert.Equal(t, SensorTypeSimulation, cfg.SensorType)
	assert.Equal(t, 8, cfg.Samples)
	assert.Equal(t, 100.0, cfg.SetpointC)

	enabled := cfg.EnabledChannels()
	require.Len(t, enabled, 2)
	assert.Equal(t, 1, enabled[0].Channel)
	assert.Equal(t, 3, enabled[1].Channel)
	assert.Equal(t, 2.498, enabled[0].VoltageOffsetOrDefault())
	assert.Equal(t, 1.5, enabled[0].TemperatureOffset)
	assert.Equal(t, -0.25, enabled[1].TemperatureOffset)
	assert.Equal(t, 128, cfg.ChannelSampleRate(enabled[0]))
	assert.Equal(t, 250, cfg.ChannelSampleRate(enabled[1]))
	assert.Equal(t, 8, cfg.ChannelSamples(enabled[0]))

	// channel 0 stays configured but disabled
	assert.False(t, cfg.Channels[0].Enabled)

	require.Len(t, cfg.Outputs, 2)
	assert.Equal(t, 1000, cfg.Outputs[0].IntervalMs)
	assert.Equal(t, 5000, cfg.Outputs[1].IntervalMs)
	require.NotNil(t, cfg.Outputs[1].MQTT)
	assert.Equal(t, "tcp://broker:1883", cfg.Outputs[1].MQTT.Server)
	assert.Equal(t, "thermo/%d", cfg.Outputs[1].MQTT.StateTopic)
}

func TestLoadMQTTFlagsCreateOutput(t *testing.T) {
	cfg, err := Load([]string{"-mqtt-client-id", "kiln"})
	require.NoError(t, err)
	require.Len(t, cfg.Outputs, 2)
	assert.Equal(t, "mqtt", cfg.Outputs[1].Type)
	assert.Equal(t, "kiln", cfg.Outputs[1].MQTT.ClientID)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"sample rate", []string{"-sample-rate", "0"}},
		{"sensor type", []string{"-sensor-type", "bogus"}},
		{"channel", []string{"-channels", "a"}},
		{"offsets", []string{"-temperature-offsets", "0"}},
		{"address", []string{"-i2c-address", "0xZZ"}},
		{"intervals", []string{"-output-intervals", "console"}},
		{"unknown flag", []string{"-nope"}},
		{"ads1115 channel", []string{"-channels", "0,5"}},
		{"shared state topic", []string{"-channels", "0,1", "-mqtt-topic", "thermo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.args)
			assert.Error(t, err)
		})
	}
}

func TestValidateDuplicateChannel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Channels = []ChannelConfig{{Channel: 1}, {Channel: 1}}
	assert.ErrorContains(t, cfg.Validate(), "duplicate channel 1")
}

func TestChannelSamplesFallback(t *testing.T) {
	cfg := Config{}
	assert.Equal(t, 1, cfg.ChannelSamples(ChannelConfig{}))
	cfg.Samples = 4
	assert.Equal(t, 4, cfg.ChannelSamples(ChannelConfig{}))
	assert.Equal(t, 16, cfg.ChannelSamples(ChannelConfig{Samples: 16}))
}

func TestValidateChannelRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Channels = []ChannelConfig{{Channel: 0, Enabled: true}, {Channel: 5, Enabled: true}}
	assert.ErrorContains(t, cfg.Validate(), "invalid channel 5")

	// the simulated converter has no fixed input count
	cfg.SensorType = SensorTypeSimulation
	assert.NoError(t, cfg.Validate())
}

func TestValidateStateTopic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Outputs = []OutputConfig{{Type: "mqtt", MQTT: &MQTTConfig{StateTopic: "thermo"}}}
	// one channel may use a fixed topic
	assert.NoError(t, cfg.Validate())

	cfg.Channels = []ChannelConfig{{Channel: 0, Enabled: true}, {Channel: 1, Enabled: true}}
	assert.ErrorContains(t, cfg.Validate(), "needs %d")

	cfg.Outputs[0].MQTT.StateTopic = "thermo/%d"
	assert.NoError(t, cfg.Validate())
	cfg.Outputs[0].MQTT.StateTopic = ""
	assert.NoError(t, cfg.Validate())
}
