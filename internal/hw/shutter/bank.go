package shutter

import (
	"errors"

	"github.com/mfxhutch/pumpprobe/internal/debug"
	"github.com/mfxhutch/pumpprobe/internal/hw/device"
)

// Request selects which pulses are used. True opens the shutter.
type Request struct {
	Pulse1 bool `json:"pulse1"`
	Pulse2 bool `json:"pulse2"`
	Pulse3 bool `json:"pulse3"`
	Opo    bool `json:"opo"`
}

// Bank groups the three pump-laser shutters and the OPO shutter.
type Bank struct {
	pulse1 Shutter
	pulse2 Shutter
	pulse3 Shutter
	opo    Shutter
}

// NewBank creates a shutter bank.
func NewBank(pulse1, pulse2, pulse3, opo Shutter) *Bank {
	return &Bank{pulse1: pulse1, pulse2: pulse2, pulse3: pulse3, opo: opo}
}

func (b *Bank) shutters() [4]Shutter {
	return [4]Shutter{b.pulse1, b.pulse2, b.pulse3, b.opo}
}

// Set moves all four shutters. Every shutter is written even if an earlier
// one fails; failures are logged and returned joined together.
func (b *Bank) Set(req Request) error {
	states := [4]bool{req.Pulse1, req.Pulse2, req.Pulse3, req.Opo}
	var errs []error
	for i, s := range b.shutters() {
		debug.Verbose("Using %s : %v", s.Name(), states[i])
		op := "block"
		if states[i] {
			op = "open"
		}
		if err := Move(s, states[i]); err != nil {
			err = device.Wrap(s.Name(), op, err)
			debug.Error(err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close blocks every shutter.
func (b *Bank) Close() error {
	return b.Set(Request{})
}

// Status reads the position of every shutter. A failed read is reported
// in the entry rather than aborting the snapshot.
func (b *Bank) Status() []Status {
	out := make([]Status, 0, 4)
	for _, s := range b.shutters() {
		st, err := s.ReadState()
		entry := Status{Name: s.Name(), State: st}
		if err != nil {
			entry.Err = err.Error()
		}
		out = append(out, entry)
	}
	return out
}
