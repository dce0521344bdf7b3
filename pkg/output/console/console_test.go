package console

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/ericogr/ad8495-to-mqtt/pkg/sensor"
)

func captureStdout(f func()) string {
	r, w, _ := os.Pipe()
	stdout := os.Stdout
	os.Stdout = w
	outC := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		outC <- buf.String()
	}()
	f()
	_ = w.Close()
	os.Stdout = stdout
	return <-outC
}

var ts = time.Date(2025, 9, 19, 14, 41, 54, 0, time.UTC)

func TestConsolePublish(t *testing.T) {
	c := NewConsole()
	readings := []sensor.Reading{{Channel: 0, Name: "kiln", Voltage: 2.625, TemperatureC: 25, TemperatureF: 77, Timestamp: ts}}
	out := captureStdout(func() { _ = c.Publish(readings) })
	want := "2025-09-19T14:41:54Z channel=0 name=kiln voltage=2.625000 temperature_c=25.00 temperature_f=77.00\n"
	if out != want {
		t.Fatalf("console output mismatch:\n got: %q\nwant: %q", out, want)
	}
}

func TestConsoleWriter(t *testing.T) {
	var buf bytes.Buffer
	c := NewWriter(&buf)
	readings := []sensor.Reading{
		{Channel: 0, Name: "ch0", Voltage: 2.5, TemperatureC: 0, TemperatureF: 32, Timestamp: ts},
		{Channel: 3, Name: "ch3", Voltage: 1.2345678, TemperatureC: -253.09, TemperatureF: -423.56, Timestamp: ts},
	}
	if err := c.Publish(readings); err != nil {
		t.Fatalf("publish: %v", err)
	}
	want := "2025-09-19T14:41:54Z channel=0 name=ch0 voltage=2.500000 temperature_c=0.00 temperature_f=32.00\n" +
		"2025-09-19T14:41:54Z channel=3 name=ch3 voltage=1.234568 temperature_c=-253.09 temperature_f=-423.56\n"
	if buf.String() != want {
		t.Fatalf("console output mismatch:\n got: %q\nwant: %q", buf.String(), want)
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestConsoleWriteError(t *testing.T) {
	c := NewWriter(failWriter{})
	if err := c.Publish([]sensor.Reading{{Timestamp: ts}}); err == nil {
		t.Fatalf("expected write error")
	}
}
