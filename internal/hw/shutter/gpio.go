package shutter

import (
	"github.com/mfxhutch/pumpprobe/internal/debug"
	"github.com/mfxhutch/pumpprobe/internal/hw/gpio"
)

// GPIO is a shutter driven by a TTL line: HIGH removes the shutter from
// the beam (OUT), LOW inserts it (IN).
type GPIO struct {
	gpio gpio.Driver
	name string
	pin  int
}

// NewGPIO configures pin as an output and leaves the shutter blocked.
func NewGPIO(g gpio.Driver, name string, pin int) *GPIO {
	_ = g.SetupPin(pin, gpio.Output)
	_ = g.WritePin(pin, gpio.Low)
	return &GPIO{gpio: g, name: name, pin: pin}
}

func (s *GPIO) Name() string { return s.name }

func (s *GPIO) Open() error {
	debug.Verbose("Shutter %s: OUT (pin %d -> HIGH)", s.name, s.pin)
	return s.gpio.WritePin(s.pin, gpio.High)
}

func (s *GPIO) Block() error {
	debug.Verbose("Shutter %s: IN (pin %d -> LOW)", s.name, s.pin)
	return s.gpio.WritePin(s.pin, gpio.Low)
}

func (s *GPIO) ReadState() (State, error) {
	lvl, err := s.gpio.ReadPin(s.pin)
	if err != nil {
		return Unknown, err
	}
	if lvl == gpio.High {
		return Out, nil
	}
	return In, nil
}
