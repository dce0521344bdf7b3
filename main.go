// Command ad8495-to-mqtt samples AD8495 thermocouple amplifiers through an
// ADC and publishes calibrated temperatures to the console and MQTT.
package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ericogr/ad8495-to-mqtt/pkg/config"
	"github.com/ericogr/ad8495-to-mqtt/pkg/logging"
	"github.com/ericogr/ad8495-to-mqtt/pkg/output"
	"github.com/ericogr/ad8495-to-mqtt/pkg/output/console"
	"github.com/ericogr/ad8495-to-mqtt/pkg/output/mqtt"
	"github.com/ericogr/ad8495-to-mqtt/pkg/sensor"
)

type outputEntry struct {
	Type       string
	Output     output.Output
	IntervalMs int
	last       time.Time
}

func main() {
	cfg, err := config.LoadFromFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("fatal", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	if !math.IsNaN(cfg.SetpointC) {
		// pure conversion: no converter is opened
		return printSetpoints(os.Stdout, sensor.NewThermocoupleSensor(cfg, nil).SetpointVoltages(cfg.SetpointC))
	}

	s, err := sensor.New(cfg)
	if err != nil {
		return fmt.Errorf("init sensor: %w", err)
	}
	defer s.Close()
	if cfg.Once {
		readings, err := s.Read()
		if err != nil {
			return fmt.Errorf("read sensor: %w", err)
		}
		return console.NewConsole().Publish(readings)
	}

	sensorInterval := computeSensorInterval(cfg)
	entries, err := initOutputs(&cfg, sensorInterval, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, e := range entries {
			if err := e.Output.Close(); err != nil {
				logger.Warn("close output", zap.String("type", e.Type), zap.Error(err))
			}
		}
	}()

	logger.Info("started",
		zap.String("sensor_type", cfg.SensorType),
		zap.Int("channels", len(cfg.EnabledChannels())),
		zap.Int("resolution_bits", cfg.ResolutionBits),
		zap.Float64("reference_voltage", cfg.ReferenceVoltage),
		zap.Int("sensor_interval_ms", sensorInterval))

	ticker := time.NewTicker(time.Duration(sensorInterval) * time.Millisecond)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(s, entries, logger, ticker.C, sigCh)
}

// runLoop reads the sensor on every tick and hands the readings to each output
// whose interval has elapsed. Read and publish failures are logged, not fatal.
func runLoop(s sensor.Sensor, entries []*outputEntry, logger *zap.Logger, tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case sg := <-sig:
			logger.Info("shutting down", zap.String("signal", sg.String()))
			return nil
		case t := <-tick:
			readings, err := s.Read()
			if err != nil {
				logger.Warn("sensor read error", zap.Error(err))
				continue
			}
			for _, e := range entries {
				if !e.last.IsZero() && t.Sub(e.last) < time.Duration(e.IntervalMs)*time.Millisecond {
					continue
				}
				e.last = t
				if err := e.Output.Publish(readings); err != nil {
					logger.Warn("publish error", zap.String("type", e.Type), zap.Error(err))
				}
			}
		}
	}
}

// computeSensorInterval returns how long one full read of every enabled
// channel takes, in ms, given each channel's data rate and averaging.
func computeSensorInterval(cfg config.Config) int {
	chans := cfg.EnabledChannels()
	if len(chans) == 0 {
		return sensor.ConversionMs(cfg.SampleRate)
	}
	total := 0
	for _, ch := range chans {
		total += cfg.ChannelSamples(ch) * sensor.ConversionMs(cfg.ChannelSampleRate(ch))
	}
	return total
}

// initOutputs builds the configured outputs. Outputs cannot publish faster
// than the sensor reads, so shorter intervals are raised to sensorIntervalMs.
func initOutputs(cfg *config.Config, sensorIntervalMs int, logger *zap.Logger) ([]*outputEntry, error) {
	entries := make([]*outputEntry, 0, len(cfg.Outputs))
	for i := range cfg.Outputs {
		oc := &cfg.Outputs[i]
		if oc.IntervalMs < sensorIntervalMs {
			oc.IntervalMs = sensorIntervalMs
		}
		var out output.Output
		switch strings.ToLower(oc.Type) {
		case "console":
			out = console.NewConsole()
		case "mqtt":
			mc := config.MQTTConfig{}
			if oc.MQTT != nil {
				mc = *oc.MQTT
			}
			o, err := mqtt.NewMQTT(mc, cfg.Channels, logger.Named("mqtt"))
			if err != nil {
				closeEntries(entries)
				return nil, err
			}
			out = o
		default:
			closeEntries(entries)
			return nil, fmt.Errorf("unknown output type %q", oc.Type)
		}
		entries = append(entries, &outputEntry{Type: oc.Type, Output: out, IntervalMs: oc.IntervalMs})
	}
	return entries, nil
}

func closeEntries(entries []*outputEntry) {
	for _, e := range entries {
		_ = e.Output.Close()
	}
}

func printSetpoints(w io.Writer, setpoints []sensor.Setpoint) error {
	for _, sp := range setpoints {
		if _, err := fmt.Fprintf(w, "channel=%d name=%s temperature_c=%.2f setpoint_voltage=%.6f\n",
			sp.Channel, sp.Name, sp.TemperatureC, sp.Voltage); err != nil {
			return err
		}
	}
	return nil
}
