package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/mfxhutch/pumpprobe/internal/hw/evr"
	"github.com/mfxhutch/pumpprobe/internal/hw/sequencer"
)

// Trigger is a simulated EVR trigger whose settings live in the store
// under prefix (":EC", ":POL", ":WIDTH", ":DELAY", ":ENABLE").
type Trigger struct {
	store  *Store
	prefix string
	name   string
}

// NewTrigger creates a simulated trigger with everything zeroed.
func NewTrigger(store *Store, prefix, name string) *Trigger {
	t := &Trigger{store: store, prefix: prefix, name: name}
	for _, pv := range []string{":EC", ":POL"} {
		_ = store.Put(prefix+pv, 0)
	}
	for _, pv := range []string{":WIDTH", ":DELAY"} {
		_ = store.Put(prefix+pv, 0.0)
	}
	_ = store.Put(prefix+":ENABLE", 0)
	return t
}

func (t *Trigger) Name() string { return t.name }

func (t *Trigger) Configure(cfg evr.Config) error {
	if cfg.EventCode != nil {
		if err := t.store.Put(t.prefix+":EC", *cfg.EventCode); err != nil {
			return err
		}
	}
	if cfg.Polarity != nil {
		if err := t.store.Put(t.prefix+":POL", int(*cfg.Polarity)); err != nil {
			return err
		}
	}
	if cfg.WidthNs != nil {
		if err := t.store.Put(t.prefix+":WIDTH", *cfg.WidthNs); err != nil {
			return err
		}
	}
	if cfg.FineDelayNs != nil {
		if err := t.store.Put(t.prefix+":DELAY", *cfg.FineDelayNs); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trigger) Enable() error {
	return t.store.Put(t.prefix+":ENABLE", 1)
}

func (t *Trigger) Read() (evr.State, error) {
	var st evr.State
	var err error
	var pol, enabled int
	if st.EventCode, err = t.store.Int(t.prefix + ":EC"); err != nil {
		return st, err
	}
	if pol, err = t.store.Int(t.prefix + ":POL"); err != nil {
		return st, err
	}
	if st.WidthNs, err = t.store.Float(t.prefix + ":WIDTH"); err != nil {
		return st, err
	}
	if st.FineDelayNs, err = t.store.Float(t.prefix + ":DELAY"); err != nil {
		return st, err
	}
	if enabled, err = t.store.Int(t.prefix + ":ENABLE"); err != nil {
		return st, err
	}
	st.Polarity = evr.Polarity(pol)
	st.Enabled = enabled == 1
	return st, nil
}

// AnalogOutput is a simulated analog output channel.
type AnalogOutput struct {
	store *Store
	pv    string
}

// NewAnalogOutput creates a channel at 0 V.
func NewAnalogOutput(store *Store, pv string) *AnalogOutput {
	_ = store.Put(pv, 0.0)
	return &AnalogOutput{store: store, pv: pv}
}

func (a *AnalogOutput) PutVoltage(v float64) error { return a.store.Put(a.pv, v) }

func (a *AnalogOutput) Voltage() (float64, error) { return a.store.Float(a.pv) }

// Sequencer is a simulated event sequencer. Play-status changes take
// TransitionDelay to land, like the real play-status monitor.
type Sequencer struct {
	store  *Store
	prefix string

	// TransitionDelay delays play-status updates after Start/Stop.
	TransitionDelay time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewSequencer creates a stopped sequencer with an empty program.
func NewSequencer(store *Store, prefix string) *Sequencer {
	s := &Sequencer{store: store, prefix: prefix}
	_ = store.Put(prefix+":RATE", "")
	_ = store.Put(prefix+":LEN", 0)
	_ = store.Put(prefix+":PLYCTL", 0)
	_ = store.Put(prefix+":PLSTAT", int(sequencer.Stopped))
	return s
}

func (s *Sequencer) stepPV(i int) string { return fmt.Sprintf("%s:STEP:%02d", s.prefix, i) }

func (s *Sequencer) SetRate(rate string) error { return s.store.Put(s.prefix+":RATE", rate) }

func (s *Sequencer) Rate() (string, error) { return s.store.String(s.prefix + ":RATE") }

func (s *Sequencer) SetLength(n int) error {
	if n < 0 || n > sequencer.Capacity {
		return fmt.Errorf("sequence length %d out of range", n)
	}
	return s.store.Put(s.prefix+":LEN", n)
}

func (s *Sequencer) ConfigureStep(i int, step sequencer.Step) error {
	if i < 0 || i >= sequencer.Capacity {
		return fmt.Errorf("step %d out of range", i)
	}
	return s.store.Put(s.stepPV(i), step)
}

func (s *Sequencer) ClearStep(i int) error {
	if i < 0 || i >= sequencer.Capacity {
		return fmt.Errorf("step %d out of range", i)
	}
	return s.store.Put(s.stepPV(i), nil)
}

func (s *Sequencer) Start() error { return s.play(1, sequencer.Playing) }

func (s *Sequencer) Stop() error { return s.play(0, sequencer.Stopped) }

func (s *Sequencer) play(ctl int, status sequencer.PlayStatus) error {
	if err := s.store.Put(s.prefix+":PLYCTL", ctl); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.TransitionDelay <= 0 {
		return s.store.Put(s.prefix+":PLSTAT", int(status))
	}
	s.timer = time.AfterFunc(s.TransitionDelay, func() {
		_ = s.store.Put(s.prefix+":PLSTAT", int(status))
	})
	return nil
}

func (s *Sequencer) PlayStatus() (sequencer.PlayStatus, error) {
	v, err := s.store.Int(s.prefix + ":PLSTAT")
	return sequencer.PlayStatus(v), err
}

// Length returns the configured sequence length.
func (s *Sequencer) Length() (int, error) { return s.store.Int(s.prefix + ":LEN") }

// Steps returns every slot; nil means cleared.
func (s *Sequencer) Steps() [sequencer.Capacity]*sequencer.Step {
	var out [sequencer.Capacity]*sequencer.Step
	for i := range out {
		v, err := s.store.Get(s.stepPV(i))
		if err != nil {
			continue
		}
		if step, ok := v.(sequencer.Step); ok {
			out[i] = &step
		}
	}
	return out
}
