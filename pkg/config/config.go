package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ericogr/ad8495-to-mqtt/pkg/ad8495"
)

const (
	SensorTypeReal       = "real"
	SensorTypeSimulation = "simulation"

	// ADS1115 single-ended inputs A0..A3.
	maxRealChannel = 3
)

type MQTTConfig struct {
	Server            string `json:"server" yaml:"server"`
	Username          string `json:"username" yaml:"username"`
	Password          string `json:"password" yaml:"password"`
	ClientID          string `json:"client_id" yaml:"client_id"`
	StateTopic        string `json:"state_topic" yaml:"state_topic"`
	DiscoveryTopic    string `json:"discovery_topic" yaml:"discovery_topic"`
	DiscoveryName     string `json:"discovery_name" yaml:"discovery_name"`
	DiscoveryUniqueID string `json:"discovery_unique_id" yaml:"discovery_unique_id"`
}

type OutputConfig struct {
	Type       string      `json:"type" yaml:"type"`
	IntervalMs int         `json:"interval_ms,omitempty" yaml:"interval_ms,omitempty"`
	MQTT       *MQTTConfig `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
}

type I2CConfig struct {
	Bus     string `json:"bus" yaml:"bus"`
	Address int    `json:"address" yaml:"address"`
}

// ChannelConfig describes one AD8495 wired to an ADC input.
// VoltageOffset is the amplifier output at 0 °C; nil means the nominal 2.5 V.
type ChannelConfig struct {
	Channel           int      `json:"channel" yaml:"channel"`
	Name              string   `json:"name,omitempty" yaml:"name,omitempty"`
	Enabled           bool     `json:"enabled" yaml:"enabled"`
	SampleRate        int      `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
	Samples           int      `json:"samples,omitempty" yaml:"samples,omitempty"`
	VoltageOffset     *float64 `json:"voltage_offset,omitempty" yaml:"voltage_offset,omitempty"`
	TemperatureOffset float64  `json:"temperature_offset" yaml:"temperature_offset"`
	// SimulatedVoltage is only used by the simulation sensor.
	SimulatedVoltage float64 `json:"simulated_voltage,omitempty" yaml:"simulated_voltage,omitempty"`
}

// VoltageOffsetOrDefault returns the configured voltage offset or the
// amplifier's nominal one.
func (c ChannelConfig) VoltageOffsetOrDefault() float64 {
	if c.VoltageOffset != nil {
		return *c.VoltageOffset
	}
	return ad8495.NominalVoltageOffset
}

type Config struct {
	I2C              I2CConfig       `json:"i2c" yaml:"i2c"`
	SampleRate       int             `json:"sample_rate" yaml:"sample_rate"`
	ResolutionBits   int             `json:"resolution_bits" yaml:"resolution_bits"`
	ReferenceVoltage float64         `json:"reference_voltage" yaml:"reference_voltage"`
	Samples          int             `json:"samples" yaml:"samples"`
	Outputs          []OutputConfig  `json:"outputs" yaml:"outputs"`
	SensorType       string          `json:"sensor_type" yaml:"sensor_type"`
	Channels         []ChannelConfig `json:"channels" yaml:"channels"`
	IntervalMs       int             `json:"interval_ms" yaml:"interval_ms"`
	LogLevel         string          `json:"log_level" yaml:"log_level"`

	// Command modes, flags only.
	Once      bool    `json:"-" yaml:"-"`
	SetpointC float64 `json:"-" yaml:"-"`
}

// DefaultConfig matches an ADS1115 at 0x48 on /dev/i2c-2, single-ended
// inputs: 15 bits of positive range over ±4.096 V full scale.
func DefaultConfig() Config {
	return Config{
		I2C:              I2CConfig{Bus: "2", Address: 0x48},
		SampleRate:       128,
		ResolutionBits:   15,
		ReferenceVoltage: 4.096,
		Samples:          1,
		Outputs:          []OutputConfig{{Type: "console", IntervalMs: 1000}},
		SensorType:       SensorTypeReal,
		Channels:         []ChannelConfig{{Channel: 0, Enabled: true}},
		IntervalMs:       1000,
		LogLevel:         "info",
		SetpointC:        math.NaN(),
	}
}

// EnabledChannels returns the enabled channel entries in configuration order.
func (c Config) EnabledChannels() []ChannelConfig {
	out := make([]ChannelConfig, 0, len(c.Channels))
	for _, ch := range c.Channels {
		if ch.Enabled {
			out = append(out, ch)
		}
	}
	return out
}

// ChannelSampleRate returns the channel's data rate or the global one.
func (c Config) ChannelSampleRate(ch ChannelConfig) int {
	if ch.SampleRate > 0 {
		return ch.SampleRate
	}
	return c.SampleRate
}

// ChannelSamples returns how many conversions are averaged per reading.
func (c Config) ChannelSamples(ch ChannelConfig) int {
	if ch.Samples > 0 {
		return ch.Samples
	}
	if c.Samples > 0 {
		return c.Samples
	}
	return 1
}

// LoadFromFlags loads configuration from os.Args.
func LoadFromFlags() (Config, error) {
	return Load(os.Args[1:])
}

// Load parses args, reads the optional config file (JSON, or YAML by
// extension) and applies flags on top. Flags override file values.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("ad8495-to-mqtt", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to JSON or YAML config file")
	flagI2CBus := fs.String("i2c-bus", "", "I2C bus (e.g., '2' -> /dev/i2c-2)")
	flagI2CAddStr := fs.String("i2c-address", "", "I2C address (decimal or 0x hex)")
	flagSampleRate := fs.Int("sample-rate", -1, "ADC sample rate (SPS)")
	flagBits := fs.Int("resolution-bits", -1, "ADC resolution in bits")
	flagVref := fs.Float64("reference-voltage", math.NaN(), "ADC full scale voltage")
	flagSamples := fs.Int("samples", -1, "Conversions averaged per reading")
	flagOutputs := fs.String("outputs", "", "Comma-separated outputs (console,mqtt)")
	flagOutputIntervals := fs.String("output-intervals", "", "Comma-separated output intervals e.g. console=1000,mqtt=5000")
	flagMQTTServer := fs.String("mqtt-server", "", "MQTT server (tcp://host:port)")
	flagMQTTUser := fs.String("mqtt-user", "", "MQTT username")
	flagMQTTPass := fs.String("mqtt-pass", "", "MQTT password")
	flagClientID := fs.String("mqtt-client-id", "", "MQTT client id")
	flagTopic := fs.String("mqtt-topic", "", "MQTT state topic, %d is replaced by the channel")
	flagDiscovery := fs.String("mqtt-discovery-topic", "", "Home Assistant discovery topic, %d is replaced by the channel")
	flagSensorType := fs.String("sensor-type", "", "sensor type: real|simulation")
	flagChannels := fs.String("channels", "", "Comma-separated enabled channels e.g. 0,1")
	flagEnabled := fs.String("channels-enabled", "", "Per-channel enable e.g. 0=true,1=false")
	flagVOffsets := fs.String("voltage-offsets", "", "Per-channel voltage at 0 °C e.g. 0=2.498")
	flagTOffsets := fs.String("temperature-offsets", "", "Per-channel temperature offset in °C e.g. 0=1.5,1=-0.3")
	flagRates := fs.String("channel-sample-rates", "", "Per-channel sample rates e.g. 0=128,1=250")
	flagInterval := fs.Int("interval-ms", -1, "Publish interval in ms")
	flagLogLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	flagOnce := fs.Bool("once", false, "Read all channels once, print and exit")
	flagSetpoint := fs.Float64("setpoint-c", math.NaN(), "Print the expected amplifier voltage for this temperature and exit")

	cfg := DefaultConfig()
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if *cfgPath != "" {
		if err := readFile(*cfgPath, &cfg); err != nil {
			return cfg, err
		}
	}

	if *flagI2CBus != "" {
		cfg.I2C.Bus = *flagI2CBus
	}
	if *flagI2CAddStr != "" {
		v, err := parseIntOrHex(*flagI2CAddStr)
		if err != nil {
			return cfg, fmt.Errorf("i2c-address: %w", err)
		}
		cfg.I2C.Address = v
	}
	if *flagSampleRate != -1 {
		cfg.SampleRate = *flagSampleRate
	}
	if *flagBits != -1 {
		cfg.ResolutionBits = *flagBits
	}
	if !math.IsNaN(*flagVref) {
		cfg.ReferenceVoltage = *flagVref
	}
	if *flagSamples != -1 {
		cfg.Samples = *flagSamples
	}
	if *flagOutputs != "" {
		parts := parseCSV(*flagOutputs)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			outs = append(outs, OutputConfig{Type: p, IntervalMs: cfg.IntervalMs})
		}
		cfg.Outputs = outs
	}
	if *flagOutputIntervals != "" {
		outIntervals := map[string]int{}
		for _, p := range parseCSV(*flagOutputIntervals) {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				return cfg, fmt.Errorf("output-intervals: invalid entry %q", p)
			}
			v, err := strconv.Atoi(strings.TrimSpace(kv[1]))
			if err != nil {
				return cfg, fmt.Errorf("output-intervals: %w", err)
			}
			outIntervals[strings.TrimSpace(kv[0])] = v
		}
		for i := range cfg.Outputs {
			if v, ok := outIntervals[cfg.Outputs[i].Type]; ok {
				cfg.Outputs[i].IntervalMs = v
			}
		}
	}
	mqttFlags := MQTTConfig{
		Server:         *flagMQTTServer,
		Username:       *flagMQTTUser,
		Password:       *flagMQTTPass,
		ClientID:       *flagClientID,
		StateTopic:     *flagTopic,
		DiscoveryTopic: *flagDiscovery,
	}
	if mqttFlags != (MQTTConfig{}) {
		applied := false
		for i := range cfg.Outputs {
			if strings.ToLower(cfg.Outputs[i].Type) == "mqtt" {
				if cfg.Outputs[i].MQTT == nil {
					cfg.Outputs[i].MQTT = &MQTTConfig{}
				}
				mergeMQTT(cfg.Outputs[i].MQTT, mqttFlags)
				applied = true
			}
		}
		if !applied {
			mqttOut := OutputConfig{Type: "mqtt", IntervalMs: cfg.IntervalMs, MQTT: &MQTTConfig{}}
			mergeMQTT(mqttOut.MQTT, mqttFlags)
			cfg.Outputs = append(cfg.Outputs, mqttOut)
		}
	}
	if *flagSensorType != "" {
		cfg.SensorType = *flagSensorType
	}
	if *flagChannels != "" {
		chs, err := parseChannels(*flagChannels)
		if err != nil {
			return cfg, err
		}
		for i := range cfg.Channels {
			cfg.Channels[i].Enabled = false
		}
		for _, ch := range chs {
			channelEntry(&cfg, ch).Enabled = true
		}
	}
	if *flagEnabled != "" {
		m, err := parseKeyBoolMap(*flagEnabled)
		if err != nil {
			return cfg, fmt.Errorf("channels-enabled: %w", err)
		}
		for _, ch := range sortedKeys(m) {
			channelEntry(&cfg, ch).Enabled = m[ch]
		}
	}
	if *flagVOffsets != "" {
		m, err := parseKeyFloatMap(*flagVOffsets)
		if err != nil {
			return cfg, fmt.Errorf("voltage-offsets: %w", err)
		}
		for _, ch := range sortedKeys(m) {
			v := m[ch]
			channelEntry(&cfg, ch).VoltageOffset = &v
		}
	}
	if *flagTOffsets != "" {
		m, err := parseKeyFloatMap(*flagTOffsets)
		if err != nil {
			return cfg, fmt.Errorf("temperature-offsets: %w", err)
		}
		for _, ch := range sortedKeys(m) {
			channelEntry(&cfg, ch).TemperatureOffset = m[ch]
		}
	}
	if *flagRates != "" {
		m, err := parseKeyIntMap(*flagRates)
		if err != nil {
			return cfg, fmt.Errorf("channel-sample-rates: %w", err)
		}
		for _, ch := range sortedKeys(m) {
			channelEntry(&cfg, ch).SampleRate = m[ch]
		}
	}
	if *flagInterval != -1 {
		cfg.IntervalMs = *flagInterval
	}
	if *flagLogLevel != "" {
		cfg.LogLevel = *flagLogLevel
	}
	cfg.Once = *flagOnce
	cfg.SetpointC = *flagSetpoint

	// ensure outputs have interval default
	for i := range cfg.Outputs {
		if cfg.Outputs[i].IntervalMs == 0 {
			cfg.Outputs[i].IntervalMs = cfg.IntervalMs
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks settings the application cannot run without. The converter
// geometry (resolution, reference) is trusted as given.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return errors.New("sample-rate must be > 0")
	}
	switch c.SensorType {
	case SensorTypeReal, SensorTypeSimulation:
	default:
		return fmt.Errorf("unknown sensor type %q", c.SensorType)
	}
	seen := make(map[int]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if ch.Channel < 0 || (c.SensorType == SensorTypeReal && ch.Channel > maxRealChannel) {
			return fmt.Errorf("invalid channel %d", ch.Channel)
		}
		if seen[ch.Channel] {
			return fmt.Errorf("duplicate channel %d", ch.Channel)
		}
		seen[ch.Channel] = true
	}
	if enabled := len(c.EnabledChannels()); enabled > 1 {
		for _, o := range c.Outputs {
			if strings.ToLower(o.Type) != "mqtt" || o.MQTT == nil {
				continue
			}
			// without a %d every channel would overwrite the same topic
			if o.MQTT.StateTopic != "" && !strings.Contains(o.MQTT.StateTopic, "%d") {
				return fmt.Errorf("mqtt state topic %q needs %%d with %d channels enabled", o.MQTT.StateTopic, enabled)
			}
		}
	}
	return nil
}

func readFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	// decoding into the default slices would merge file entries with them
	defaults := *cfg
	cfg.Channels, cfg.Outputs = nil, nil
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, cfg)
	default:
		err = json.Unmarshal(b, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = defaults.Channels
	}
	if len(cfg.Outputs) == 0 {
		cfg.Outputs = defaults.Outputs
	}
	return nil
}

func mergeMQTT(dst *MQTTConfig, src MQTTConfig) {
	if src.Server != "" {
		dst.Server = src.Server
	}
	if src.Username != "" {
		dst.Username = src.Username
	}
	if src.Password != "" {
		dst.Password = src.Password
	}
	if src.ClientID != "" {
		dst.ClientID = src.ClientID
	}
	if src.StateTopic != "" {
		dst.StateTopic = src.StateTopic
	}
	if src.DiscoveryTopic != "" {
		dst.DiscoveryTopic = src.DiscoveryTopic
	}
}

// channelEntry returns the config entry for ch, appending a disabled one if
// the channel is not configured yet.
func channelEntry(cfg *Config, ch int) *ChannelConfig {
	for i := range cfg.Channels {
		if cfg.Channels[i].Channel == ch {
			return &cfg.Channels[i]
		}
	}
	cfg.Channels = append(cfg.Channels, ChannelConfig{Channel: ch})
	return &cfg.Channels[len(cfg.Channels)-1]
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func parseIntOrHex(s string) (int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 0)
		return int(v), err
	}
	v, err := strconv.Atoi(s)
	return v, err
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseChannels(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t == "" {
			continue
		}
		v, err := strconv.Atoi(t)
		if err != nil {
			return nil, fmt.Errorf("invalid channel '%s': %w", t, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// parseKeyValues splits "k=v,k=v" into channel keys and raw values.
func parseKeyValues(s string, fn func(key int, val string) error) error {
	for _, p := range parseCSV(s) {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return fmt.Errorf("invalid entry %q, want channel=value", p)
		}
		k, err := strconv.Atoi(strings.TrimSpace(kv[0]))
		if err != nil {
			return fmt.Errorf("invalid channel %q: %w", kv[0], err)
		}
		if err := fn(k, strings.TrimSpace(kv[1])); err != nil {
			return err
		}
	}
	return nil
}

func parseKeyFloatMap(s string) (map[int]float64, error) {
	out := map[int]float64{}
	err := parseKeyValues(s, func(k int, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid value for channel %d: %w", k, err)
		}
		out[k] = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func parseKeyIntMap(s string) (map[int]int, error) {
	out := map[int]int{}
	err := parseKeyValues(s, func(k int, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid value for channel %d: %w", k, err)
		}
		out[k] = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func parseKeyBoolMap(s string) (map[int]bool, error) {
	out := map[int]bool{}
	err := parseKeyValues(s, func(k int, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid value for channel %d: %w", k, err)
		}
		out[k] = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
