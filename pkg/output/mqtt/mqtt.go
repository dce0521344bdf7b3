package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/ericogr/ad8495-to-mqtt/pkg/config"
	"github.com/ericogr/ad8495-to-mqtt/pkg/output"
	"github.com/ericogr/ad8495-to-mqtt/pkg/sensor"
)

const (
	// defaults
	DefaultServer      = "tcp://localhost:1883"
	DefaultClientID    = "ad8495-client"
	perChannelTopicFmt = "ad8495/channel/%d"
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	unitCelsius            = "°C"
	deviceClassTemperature = "temperature"
	stateClassMeasurement  = "measurement"
	valueTemplateTemp      = "{{ value_json.temperature }}"
	disconnectQuiesceMs    = 250
)

type message struct {
	topic    string
	retained bool
	payload  []byte
}

type MQTTOutput struct {
	client     mqtt.Client
	stateTopic string
	log        *zap.Logger
}

func NewMQTT(cfg config.MQTTConfig, channels []config.ChannelConfig, log *zap.Logger) (output.Output, error) {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID).SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", zap.Error(err))
	})
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	log.Info("mqtt connected", zap.String("server", cfg.Server), zap.String("client_id", cfg.ClientID))

	m := &MQTTOutput{client: client, stateTopic: cfg.StateTopic, log: log}

	// Publish Home Assistant discovery payload(s) if requested
	msgs, err := discoveryMessages(cfg, channels)
	if err != nil {
		return nil, err
	}
	for _, msg := range msgs {
		if err := m.send(msg); err != nil {
			log.Error("mqtt discovery publish error", zap.String("topic", msg.topic), zap.Error(err))
		}
	}

	return m, nil
}

func (m *MQTTOutput) Publish(readings []sensor.Reading) error {
	msgs, err := stateMessages(m.stateTopic, readings)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if err := m.send(msg); err != nil {
			return fmt.Errorf("mqtt publish %s: %w", msg.topic, err)
		}
	}
	return nil
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(disconnectQuiesceMs)
	}
	return nil
}

func (m *MQTTOutput) send(msg message) error {
	token := m.client.Publish(msg.topic, 0, msg.retained, msg.payload)
	token.Wait()
	return token.Error()
}

// stateMessages builds one JSON state message per reading.
func stateMessages(stateTopic string, readings []sensor.Reading) ([]message, error) {
	out := make([]message, 0, len(readings))
	for _, r := range readings {
		payload := map[string]interface{}{
			"temperature":   r.TemperatureC,
			"temperature_f": r.TemperatureF,
			"voltage":       r.Voltage,
		}
		if r.Name != "" {
			payload["name"] = r.Name
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, message{topic: formatStateTopic(stateTopic, r.Channel), payload: b})
	}
	return out, nil
}

// discoveryMessages builds retained Home Assistant discovery messages. A
// discovery topic with a %d formatter gets one entry per enabled channel.
func discoveryMessages(cfg config.MQTTConfig, channels []config.ChannelConfig) ([]message, error) {
	if cfg.DiscoveryTopic == "" {
		return nil, nil
	}
	var out []message
	if strings.Contains(cfg.DiscoveryTopic, "%d") {
		for _, ch := range channels {
			if !ch.Enabled {
				continue
			}
			payload := baseDiscoveryPayload(discoveryName(cfg, &ch), formatStateTopic(cfg.StateTopic, ch.Channel), discoveryUniqueID(cfg, &ch))
			b, err := json.Marshal(payload)
			if err != nil {
				return nil, err
			}
			out = append(out, message{topic: fmt.Sprintf(cfg.DiscoveryTopic, ch.Channel), retained: true, payload: b})
		}
		return out, nil
	}
	stateTopic := cfg.StateTopic
	if stateTopic == "" || strings.Contains(stateTopic, "%d") {
		// a single entity follows the first enabled channel
		stateTopic = formatStateTopic(cfg.StateTopic, firstEnabled(channels))
	}
	b, err := json.Marshal(baseDiscoveryPayload(discoveryName(cfg, nil), stateTopic, discoveryUniqueID(cfg, nil)))
	if err != nil {
		return nil, err
	}
	return append(out, message{topic: cfg.DiscoveryTopic, retained: true, payload: b}), nil
}

func firstEnabled(channels []config.ChannelConfig) int {
	for _, ch := range channels {
		if ch.Enabled {
			return ch.Channel
		}
	}
	return 0
}

// helper: format a state topic for a channel using an optional formatter
func formatStateTopic(base string, ch int) string {
	if base != "" {
		if strings.Contains(base, "%d") {
			return fmt.Sprintf(base, ch)
		}
		return base
	}
	return fmt.Sprintf(perChannelTopicFmt, ch)
}

// helper: build a human-friendly discovery name; if ch != nil append channel
func discoveryName(cfg config.MQTTConfig, ch *config.ChannelConfig) string {
	name := cfg.DiscoveryName
	if name == "" {
		name = fmt.Sprintf("AD8495 %s", cfg.ClientID)
	}
	if ch != nil {
		if ch.Name != "" {
			return fmt.Sprintf("%s %s", name, ch.Name)
		}
		name = fmt.Sprintf("%s ch%d", name, ch.Channel)
	}
	return name
}

// helper: build a unique id for discovery; if ch != nil append channel
func discoveryUniqueID(cfg config.MQTTConfig, ch *config.ChannelConfig) string {
	uid := cfg.DiscoveryUniqueID
	if uid == "" {
		uid = cfg.ClientID
	}
	if uid != "" && ch != nil {
		uid = fmt.Sprintf("%s_%d", uid, ch.Channel)
	}
	return uid
}

// helper: base discovery payload map common to all entries
func baseDiscoveryPayload(name, stateTopic, uniqueID string) map[string]interface{} {
	payload := map[string]interface{}{
		keyName:                name,
		keyStateTopic:          stateTopic,
		keyUnitOfMeasurement:   unitCelsius,
		keyDeviceClass:         deviceClassTemperature,
		keyStateClass:          stateClassMeasurement,
		keyValueTemplate:       valueTemplateTemp,
		keyJSONAttributesTopic: stateTopic,
	}
	if uniqueID != "" {
		payload[keyUniqueID] = uniqueID
	}
	return payload
}
