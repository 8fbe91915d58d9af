package shutter

import "github.com/mfxhutch/pumpprobe/internal/debug"

// Voltages of the analog-output laser shutters.
const (
	OutVoltage     = 5.0
	InVoltage      = 0.0
	BarrierVoltage = 1.4 // read-backs at or above this are OUT
)

// AnalogOutput is a control-system analog output channel.
type AnalogOutput interface {
	PutVoltage(v float64) error
	Voltage() (float64, error)
}

// Analog is a shutter controlled by an analog output: 5 V removes it,
// 0 V inserts it. The position is inferred from the channel voltage.
type Analog struct {
	name string
	ao   AnalogOutput
}

// NewAnalog wraps an analog output channel as a shutter.
func NewAnalog(name string, ao AnalogOutput) *Analog {
	return &Analog{name: name, ao: ao}
}

func (s *Analog) Name() string { return s.name }

func (s *Analog) Open() error {
	debug.Verbose("Shutter %s: OUT (%.1f V)", s.name, OutVoltage)
	return s.ao.PutVoltage(OutVoltage)
}

func (s *Analog) Block() error {
	debug.Verbose("Shutter %s: IN (%.1f V)", s.name, InVoltage)
	return s.ao.PutVoltage(InVoltage)
}

func (s *Analog) ReadState() (State, error) {
	v, err := s.ao.Voltage()
	if err != nil {
		return Unknown, err
	}
	if v >= BarrierVoltage {
		return Out, nil
	}
	return In, nil
}
