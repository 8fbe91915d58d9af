package sequencer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mfxhutch/pumpprobe/internal/debug"
	"github.com/mfxhutch/pumpprobe/internal/hw/device"
)

// Capacity is the number of step slots in the event sequencer.
const Capacity = 20

// Step is one event-sequencer slot.
type Step struct {
	EventCode int    `json:"event_code"`
	DeltaBeam int    `json:"delta_beam"`
	Fiducial  int    `json:"fiducial"`
	Comment   string `json:"comment"`
}

// Program is the fixed pump/probe sequence: pulse picker, the three
// inhibit event codes, then DAQ readout.
var Program = []Step{
	{EventCode: 197, DeltaBeam: 2, Fiducial: 0, Comment: "PulsePicker"},
	{EventCode: 212, DeltaBeam: 0, Fiducial: 0, Comment: "Delay > 7 ms"},
	{EventCode: 211, DeltaBeam: 1, Fiducial: 0, Comment: "Delay > 160 us"},
	{EventCode: 210, DeltaBeam: 1, Fiducial: 0, Comment: "Delay < 160 us"},
	{EventCode: 198, DeltaBeam: 0, Fiducial: 0, Comment: "DAQ Readout"},
}

// Rates accepted by the sequencer sync marker.
var Rates = []string{"0.5Hz", "1Hz", "5Hz", "10Hz", "30Hz", "60Hz", "120Hz"}

// ValidateRate reports whether rate is a known sync marker.
func ValidateRate(rate string) error {
	for _, r := range Rates {
		if r == rate {
			return nil
		}
	}
	return fmt.Errorf("unknown sequencer rate %q (valid: %v)", rate, Rates)
}

// PlayStatus mirrors the sequencer play-status process variable.
type PlayStatus int

const (
	Stopped PlayStatus = 0
	Waiting PlayStatus = 1
	Playing PlayStatus = 2
)

func (p PlayStatus) String() string {
	switch p {
	case Stopped:
		return "stopped"
	case Waiting:
		return "waiting"
	case Playing:
		return "playing"
	default:
		return fmt.Sprintf("status(%d)", int(p))
	}
}

// Device is the event sequencer as exposed by the control system.
type Device interface {
	SetRate(rate string) error
	Rate() (string, error)
	SetLength(n int) error
	ConfigureStep(index int, s Step) error
	ClearStep(index int) error
	Start() error
	Stop() error
	PlayStatus() (PlayStatus, error)
}

// Sequencer loads and plays the pump/probe program.
type Sequencer struct {
	dev  Device
	name string
}

// New creates a sequencer over dev.
func New(name string, dev Device) *Sequencer {
	return &Sequencer{dev: dev, name: name}
}

// LoadProgram sets the rate, writes the fixed program and clears every
// remaining slot. Calling it repeatedly leaves the same program.
func (s *Sequencer) LoadProgram(rate string) error {
	if err := ValidateRate(rate); err != nil {
		return err
	}
	debug.Verbose("Configure EventSequencer at %s ...", rate)
	if err := s.dev.SetRate(rate); err != nil {
		return device.Wrap(s.name, "set_rate", err)
	}
	if err := s.dev.SetLength(len(Program)); err != nil {
		return device.Wrap(s.name, "set_length", err)
	}
	for i, step := range Program {
		debug.Trace("Sequencer step %d: %+v", i, step)
		if err := s.dev.ConfigureStep(i, step); err != nil {
			return device.Wrap(s.name, fmt.Sprintf("configure_step[%d]", i), err)
		}
	}
	for i := len(Program); i < Capacity; i++ {
		if err := s.dev.ClearStep(i); err != nil {
			return device.Wrap(s.name, fmt.Sprintf("clear_step[%d]", i), err)
		}
	}
	return nil
}

// Rate returns the configured sync marker.
func (s *Sequencer) Rate() (string, error) {
	r, err := s.dev.Rate()
	if err != nil {
		return "", device.Wrap(s.name, "read_rate", err)
	}
	return r, nil
}

// Start plays the program. The command is always written: the play status
// lags behind the control and cannot tell whether a start is still needed.
func (s *Sequencer) Start() error {
	debug.Verbose("Starting EventSequencer ...")
	return device.Wrap(s.name, "start", s.dev.Start())
}

// Stop halts the program. Like Start, it always writes the command.
func (s *Sequencer) Stop() error {
	debug.Verbose("Stopping EventSequencer ...")
	return device.Wrap(s.name, "stop", s.dev.Stop())
}

// Status reads the play status.
func (s *Sequencer) Status() (PlayStatus, error) {
	st, err := s.dev.PlayStatus()
	if err != nil {
		return st, device.Wrap(s.name, "read_status", err)
	}
	return st, nil
}

// ErrStatusMismatch is returned by WaitForStatus when the play status has
// not reached the requested value.
var ErrStatusMismatch = errors.New("sequencer play status mismatch")

// WaitForStatus polls the play status with exponential backoff until it
// equals want, ctx is done, or timeout elapses.
func (s *Sequencer) WaitForStatus(ctx context.Context, want PlayStatus, timeout time.Duration) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Millisecond
	bo.MaxInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = timeout

	return backoff.Retry(func() error {
		st, err := s.dev.PlayStatus()
		if err != nil {
			return backoff.Permanent(device.Wrap(s.name, "read_status", err))
		}
		if st != want {
			return fmt.Errorf("%w: %s, want %s", ErrStatusMismatch, st, want)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}
