package output

import "github.com/ericogr/ad8495-to-mqtt/pkg/sensor"

type Output interface {
	Publish([]sensor.Reading) error
	Close() error
}
