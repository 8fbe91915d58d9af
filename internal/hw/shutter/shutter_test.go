package shutter

import (
	"errors"
	"testing"

	"github.com/mfxhutch/pumpprobe/internal/hw/device"
	"github.com/mfxhutch/pumpprobe/internal/hw/gpio"
)

// recordingDriver records GPIO calls for verification.
type recordingDriver struct {
	calls  []gpioCall
	levels map[int]gpio.Level
}

type gpioCall struct {
	op    string
	pin   int
	level gpio.Level
}

func newRecordingDriver() *recordingDriver {
	return &recordingDriver{levels: make(map[int]gpio.Level)}
}

func (d *recordingDriver) SetupPin(pin int, mode gpio.PinMode) error {
	d.calls = append(d.calls, gpioCall{op: "setup", pin: pin})
	return nil
}

func (d *recordingDriver) WritePin(pin int, level gpio.Level) error {
	d.calls = append(d.calls, gpioCall{op: "write", pin: pin, level: level})
	d.levels[pin] = level
	return nil
}

func (d *recordingDriver) ReadPin(pin int) (gpio.Level, error) {
	return d.levels[pin], nil
}

func (d *recordingDriver) Close() error { return nil }

func (d *recordingDriver) writeCalls() []gpioCall {
	var result []gpioCall
	for _, c := range d.calls {
		if c.op == "write" {
			result = append(result, c)
		}
	}
	return result
}

func TestGPIO_InitializedBlocked(t *testing.T) {
	drv := newRecordingDriver()
	s := NewGPIO(drv, "opo_shutter", 23)

	writes := drv.writeCalls()
	if len(writes) != 1 || writes[0].pin != 23 || writes[0].level != gpio.Low {
		t.Fatalf("expected a single LOW write on pin 23, got %v", writes)
	}
	st, err := s.ReadState()
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if st != In {
		t.Errorf("state = %v, want IN", st)
	}
}

func TestGPIO_OpenBlock(t *testing.T) {
	drv := newRecordingDriver()
	s := NewGPIO(drv, "evo_shutter1", 17)

	if err := s.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st, _ := s.ReadState(); st != Out {
		t.Errorf("after Open state = %v, want OUT", st)
	}
	// Idempotent
	if err := s.Open(); err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if st, _ := s.ReadState(); st != Out {
		t.Errorf("after second Open state = %v, want OUT", st)
	}
	if err := s.Block(); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if st, _ := s.ReadState(); st != In {
		t.Errorf("after Block state = %v, want IN", st)
	}
}

// fakeAO is an analog output channel whose read-back can be forced.
type fakeAO struct {
	volts   float64
	putErr  error
	readErr error
}

func (f *fakeAO) PutVoltage(v float64) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.volts = v
	return nil
}

func (f *fakeAO) Voltage() (float64, error) { return f.volts, f.readErr }

func TestAnalog_Voltages(t *testing.T) {
	ao := &fakeAO{}
	s := NewAnalog("opo_shutter", ao)

	if err := s.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if ao.volts != OutVoltage {
		t.Errorf("Open wrote %v V, want %v", ao.volts, OutVoltage)
	}
	if err := s.Block(); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if ao.volts != InVoltage {
		t.Errorf("Block wrote %v V, want %v", ao.volts, InVoltage)
	}
}

func TestAnalog_ReadStateBarrier(t *testing.T) {
	cases := []struct {
		volts float64
		want  State
	}{
		{0.0, In},
		{1.39, In},
		{1.4, Out},
		{4.9, Out},
		{5.0, Out},
	}
	for _, tc := range cases {
		s := NewAnalog("s", &fakeAO{volts: tc.volts})
		got, err := s.ReadState()
		if err != nil {
			t.Fatalf("ReadState(%v V): %v", tc.volts, err)
		}
		if got != tc.want {
			t.Errorf("ReadState(%v V) = %v, want %v", tc.volts, got, tc.want)
		}
	}
}

func TestBank_SetMapsFlagsToShutters(t *testing.T) {
	drv := newRecordingDriver()
	bank := NewBank(
		NewGPIO(drv, "evo_shutter1", 1),
		NewGPIO(drv, "evo_shutter2", 2),
		NewGPIO(drv, "evo_shutter3", 3),
		NewGPIO(drv, "opo_shutter", 4),
	)

	if err := bank.Set(Request{Pulse1: true, Pulse3: true, Opo: true}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	want := map[string]State{
		"evo_shutter1": Out,
		"evo_shutter2": In,
		"evo_shutter3": Out,
		"opo_shutter":  Out,
	}
	for _, st := range bank.Status() {
		if st.State != want[st.Name] {
			t.Errorf("%s = %v, want %v", st.Name, st.State, want[st.Name])
		}
	}

	if err := bank.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, st := range bank.Status() {
		if st.State != In {
			t.Errorf("after Close %s = %v, want IN", st.Name, st.State)
		}
	}
}

func TestBank_PartialFailureDoesNotRollBack(t *testing.T) {
	broken := &fakeAO{putErr: errors.New("channel disconnected")}
	good1, good2, good3 := &fakeAO{}, &fakeAO{}, &fakeAO{}
	bank := NewBank(
		NewAnalog("evo_shutter1", good1),
		NewAnalog("evo_shutter2", broken),
		NewAnalog("evo_shutter3", good2),
		NewAnalog("opo_shutter", good3),
	)

	err := bank.Set(Request{Pulse1: true, Pulse2: true, Pulse3: true, Opo: true})
	if err == nil {
		t.Fatal("expected aggregate error, got nil")
	}
	var cfgErr *device.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *device.ConfigError in %v", err)
	}
	if cfgErr.Device != "evo_shutter2" || cfgErr.Op != "open" {
		t.Errorf("failure attributed to %s/%s, want evo_shutter2/open", cfgErr.Device, cfgErr.Op)
	}
	for i, ao := range []*fakeAO{good1, good2, good3} {
		if ao.volts != OutVoltage {
			t.Errorf("shutter %d not opened despite other failure: %v V", i, ao.volts)
		}
	}
}

func TestBank_StatusReportsReadErrors(t *testing.T) {
	bank := NewBank(
		NewAnalog("a", &fakeAO{}),
		NewAnalog("b", &fakeAO{readErr: errors.New("timeout")}),
		NewAnalog("c", &fakeAO{volts: 5}),
		NewAnalog("d", &fakeAO{}),
	)
	st := bank.Status()
	if len(st) != 4 {
		t.Fatalf("Status() returned %d entries, want 4", len(st))
	}
	if st[1].Err == "" || st[1].State != Unknown {
		t.Errorf("entry b = %+v, want error and UNKNOWN", st[1])
	}
	if st[2].State != Out {
		t.Errorf("entry c = %v, want OUT", st[2].State)
	}
}

func TestImplementsShutter(t *testing.T) {
	var _ Shutter = &GPIO{}
	var _ Shutter = &Analog{}
}
