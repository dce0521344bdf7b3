package console

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ericogr/ad8495-to-mqtt/pkg/output"
	"github.com/ericogr/ad8495-to-mqtt/pkg/sensor"
)

type ConsoleOutput struct {
	w io.Writer
}

func NewConsole() output.Output { return &ConsoleOutput{} }

// NewWriter returns a console output writing to w instead of stdout.
func NewWriter(w io.Writer) output.Output { return &ConsoleOutput{w: w} }

func (c *ConsoleOutput) Publish(readings []sensor.Reading) error {
	w := c.w
	if w == nil {
		w = os.Stdout
	}
	for _, r := range readings {
		if _, err := fmt.Fprintf(w, "%s channel=%d name=%s voltage=%.6f temperature_c=%.2f temperature_f=%.2f\n",
			r.Timestamp.Format(time.RFC3339), r.Channel, r.Name, r.Voltage, r.TemperatureC, r.TemperatureF); err != nil {
			return err
		}
	}
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }
