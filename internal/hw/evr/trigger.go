package evr

import (
	"fmt"
	"math"

	"github.com/mfxhutch/pumpprobe/internal/config"
	"github.com/mfxhutch/pumpprobe/internal/debug"
	"github.com/mfxhutch/pumpprobe/internal/hw/device"
	"github.com/mfxhutch/pumpprobe/internal/logic/timing"
)

// Polarity of a trigger output.
type Polarity int

const (
	Normal Polarity = iota
	Inverted
)

func (p Polarity) String() string {
	if p == Inverted {
		return "inverted"
	}
	return "normal"
}

// ParsePolarity converts the config spelling into a Polarity.
func ParsePolarity(s string) (Polarity, error) {
	switch s {
	case "normal":
		return Normal, nil
	case "inverted":
		return Inverted, nil
	default:
		return Normal, fmt.Errorf("unknown polarity %q", s)
	}
}

// Config is a partial trigger configuration; nil fields are left untouched.
type Config struct {
	EventCode   *int
	Polarity    *Polarity
	WidthNs     *float64
	FineDelayNs *float64
}

// State is a read-back of the trigger configuration.
type State struct {
	EventCode   int
	Polarity    Polarity
	WidthNs     float64
	FineDelayNs float64
	Enabled     bool
}

// Trigger is one EVR trigger output as exposed by the control system.
type Trigger interface {
	Name() string
	Configure(cfg Config) error
	Enable() error
	Read() (State, error)
}

// UnknownEventCodeError is returned when the inhibit event code read back
// from hardware is not one of the delay buckets.
type UnknownEventCodeError struct {
	EventCode int
}

func (e *UnknownEventCodeError) Error() string {
	return fmt.Sprintf("inhibit trigger is on unknown event code %d", e.EventCode)
}

// readbackTolerance is how far the pacemaker may drift from its nominal
// fine delay before ReadDelay warns about it.
const readbackTolerance = 1.0 // ns

// Pair drives the pacemaker and inhibit triggers whose relative timing
// realises the requested laser delay.
type Pair struct {
	pacemaker Trigger
	inhibit   Trigger
	quantizer *timing.Quantizer

	pacemakerDefaults Config
	inhibitDefaults   Config
}

// NewPair creates a trigger pair. Default widths, polarities and the
// pacemaker event code come from cfg.
func NewPair(pacemaker, inhibit Trigger, q *timing.Quantizer, cfg *config.Config) (*Pair, error) {
	pPol, err := ParsePolarity(cfg.Pacemaker.Polarity)
	if err != nil {
		return nil, fmt.Errorf("pacemaker: %w", err)
	}
	iPol, err := ParsePolarity(cfg.Inhibit.Polarity)
	if err != nil {
		return nil, fmt.Errorf("inhibit: %w", err)
	}
	pCode := cfg.Pacemaker.EventCode
	pWidth := cfg.Pacemaker.WidthNs
	iWidth := cfg.Inhibit.WidthNs

	p := &Pair{
		pacemaker:         pacemaker,
		inhibit:           inhibit,
		quantizer:         q,
		pacemakerDefaults: Config{EventCode: &pCode, Polarity: &pPol, WidthNs: &pWidth},
		inhibitDefaults:   Config{Polarity: &iPol, WidthNs: &iWidth},
	}
	if cfg.Inhibit.EventCode > 0 {
		iCode := cfg.Inhibit.EventCode
		p.inhibitDefaults.EventCode = &iCode
	}
	return p, nil
}

// ConfigureDefaults sets polarity and width of both triggers and the
// pacemaker event code, then enables both outputs. It does not touch the
// delay between the two triggers.
func (p *Pair) ConfigureDefaults() error {
	debug.Verbose("Configuring triggers to defaults ...")
	if err := p.pacemaker.Configure(p.pacemakerDefaults); err != nil {
		return device.Wrap(p.pacemaker.Name(), "configure", err)
	}
	if err := p.pacemaker.Enable(); err != nil {
		return device.Wrap(p.pacemaker.Name(), "enable", err)
	}
	if err := p.inhibit.Configure(p.inhibitDefaults); err != nil {
		return device.Wrap(p.inhibit.Name(), "configure", err)
	}
	if err := p.inhibit.Enable(); err != nil {
		return device.Wrap(p.inhibit.Name(), "enable", err)
	}
	return nil
}

// Apply writes the quantised settings for delayNs to both triggers.
// An out-of-range delay is rejected before any write.
func (p *Pair) Apply(delayNs float64) (timing.Settings, error) {
	s, err := p.quantizer.Settings(delayNs)
	if err != nil {
		return timing.Settings{}, err
	}
	debug.Verbose("Setting delay %g ns: bucket=%s inhibit(ec=%d, fine=%g) pacemaker(fine=%g)",
		delayNs, s.Bucket.Name, s.Inhibit.EventCode, s.Inhibit.FineDelayNs, s.Pacemaker.FineDelayNs)

	iCode := s.Inhibit.EventCode
	iFine := s.Inhibit.FineDelayNs
	if err := p.inhibit.Configure(Config{EventCode: &iCode, FineDelayNs: &iFine}); err != nil {
		return s, device.Wrap(p.inhibit.Name(), "configure", err)
	}
	pFine := s.Pacemaker.FineDelayNs
	if err := p.pacemaker.Configure(Config{FineDelayNs: &pFine}); err != nil {
		return s, device.Wrap(p.pacemaker.Name(), "configure", err)
	}
	debug.Delay(delayNs, iCode)
	return s, nil
}

// ReadDelay reconstructs the currently realised delay from the triggers.
// ipulse comes from the inhibit event code; the delay from the inhibit
// fine delay. The pacemaker is checked against its nominal value.
func (p *Pair) ReadDelay() (float64, error) {
	iState, err := p.inhibit.Read()
	if err != nil {
		return 0, device.Wrap(p.inhibit.Name(), "read", err)
	}
	ipulse, ok := p.quantizer.IPulseForCode(iState.EventCode)
	if !ok {
		return 0, &UnknownEventCodeError{EventCode: iState.EventCode}
	}
	pState, err := p.pacemaker.Read()
	if err != nil {
		return 0, device.Wrap(p.pacemaker.Name(), "read", err)
	}
	if want := p.quantizer.ExpectedPacemakerFine(ipulse); math.Abs(pState.FineDelayNs-want) > readbackTolerance {
		debug.Warn("Pacemaker fine delay %g ns does not match %g ns expected for ipulse %d",
			pState.FineDelayNs, want, ipulse)
	}
	return p.quantizer.DelayFromInhibit(ipulse, iState.FineDelayNs), nil
}
