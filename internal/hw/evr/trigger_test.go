package evr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfxhutch/pumpprobe/internal/config"
	"github.com/mfxhutch/pumpprobe/internal/hw/device"
	"github.com/mfxhutch/pumpprobe/internal/logic/timing"
)

// recordingTrigger records Configure/Enable calls and keeps the merged state.
type recordingTrigger struct {
	name       string
	state      State
	configures []Config
	enables    int
	failOn     string // "configure", "enable" or "read"
}

func (r *recordingTrigger) Name() string { return r.name }

func (r *recordingTrigger) Configure(cfg Config) error {
	if r.failOn == "configure" {
		return errors.New("put timed out")
	}
	r.configures = append(r.configures, cfg)
	if cfg.EventCode != nil {
		r.state.EventCode = *cfg.EventCode
	}
	if cfg.Polarity != nil {
		r.state.Polarity = *cfg.Polarity
	}
	if cfg.WidthNs != nil {
		r.state.WidthNs = *cfg.WidthNs
	}
	if cfg.FineDelayNs != nil {
		r.state.FineDelayNs = *cfg.FineDelayNs
	}
	return nil
}

func (r *recordingTrigger) Enable() error {
	if r.failOn == "enable" {
		return errors.New("enable rejected")
	}
	r.enables++
	r.state.Enabled = true
	return nil
}

func (r *recordingTrigger) Read() (State, error) {
	if r.failOn == "read" {
		return State{}, errors.New("no connection")
	}
	return r.state, nil
}

func newTestPair(t *testing.T) (*Pair, *recordingTrigger, *recordingTrigger) {
	t.Helper()
	cfg := config.Default()
	pm := &recordingTrigger{name: "pacemaker_trigger"}
	inh := &recordingTrigger{name: "inhibit_trigger"}
	pair, err := NewPair(pm, inh, timing.NewQuantizer(cfg), cfg)
	require.NoError(t, err)
	return pair, pm, inh
}

func TestConfigureDefaults(t *testing.T) {
	pair, pm, inh := newTestPair(t)

	require.NoError(t, pair.ConfigureDefaults())

	assert.Equal(t, State{EventCode: 40, Polarity: Normal, WidthNs: 50000, Enabled: true}, pm.state)
	assert.Equal(t, State{Polarity: Inverted, WidthNs: 2000000, Enabled: true}, inh.state)
	assert.Equal(t, 1, pm.enables)
	assert.Equal(t, 1, inh.enables)
	require.Len(t, inh.configures, 1)
	assert.Nil(t, inh.configures[0].EventCode, "inhibit event code is set per delay, not by defaults")
	assert.Nil(t, inh.configures[0].FineDelayNs)
}

func TestConfigureDefaults_FailureIsDeviceConfigError(t *testing.T) {
	pair, pm, _ := newTestPair(t)
	pm.failOn = "enable"

	err := pair.ConfigureDefaults()
	var cfgErr *device.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "pacemaker_trigger", cfgErr.Device)
	assert.Equal(t, "enable", cfgErr.Op)
}

func TestApply_WritesBothTriggers(t *testing.T) {
	pair, pm, inh := newTestPair(t)

	s, err := pair.Apply(1e6)
	require.NoError(t, err)
	assert.Equal(t, timing.OnePrior, s.Bucket.Name)

	assert.Equal(t, 211, inh.state.EventCode)
	assert.InDelta(t, 748935-500000+1e9/120-1e6, inh.state.FineDelayNs, 1e-6)
	assert.InDelta(t, 748935+1e9/120, pm.state.FineDelayNs, 1e-6)

	require.Len(t, pm.configures, 1)
	assert.Nil(t, pm.configures[0].EventCode, "pacemaker event code must not be rewritten per delay")
}

func TestApply_OutOfRangeWritesNothing(t *testing.T) {
	pair, pm, inh := newTestPair(t)

	_, err := pair.Apply(15.5e6 + 1)
	var oor *timing.OutOfRangeError
	require.ErrorAs(t, err, &oor)
	assert.Empty(t, pm.configures)
	assert.Empty(t, inh.configures)
}

func TestApply_InhibitWriteFailure(t *testing.T) {
	pair, pm, inh := newTestPair(t)
	inh.failOn = "configure"

	_, err := pair.Apply(1e6)
	var cfgErr *device.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "inhibit_trigger", cfgErr.Device)
	assert.Empty(t, pm.configures, "pacemaker must not be moved after inhibit failed")
}

func TestReadDelay_RoundTrip(t *testing.T) {
	pair, _, _ := newTestPair(t)

	q := timing.NewQuantizer(config.Default())
	for _, delay := range []float64{0, 0.16e6, 0.16e6 + 1, 3e6, 7e6, 7e6 + 1, 12e6, 15.5e6} {
		_, err := pair.Apply(delay)
		require.NoError(t, err)

		got, err := pair.ReadDelay()
		require.NoError(t, err)
		assert.InDelta(t, delay, got, 1e-6, "delay %g", delay)

		want, _ := q.Classify(delay)
		back, err := q.Classify(got)
		require.NoError(t, err)
		assert.Equal(t, want.Name, back.Name, "read-back bucket for %g", delay)
	}
}

func TestReadDelay_ReadoutCodeActsAsSimultaneous(t *testing.T) {
	pair, pm, inh := newTestPair(t)
	inh.state = State{EventCode: 198, FineDelayNs: 248935}
	pm.state = State{EventCode: 40, FineDelayNs: 748935}

	got, err := pair.ReadDelay()
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)
}

func TestReadDelay_UnknownEventCode(t *testing.T) {
	pair, _, inh := newTestPair(t)
	inh.state = State{EventCode: 197}

	_, err := pair.ReadDelay()
	var unknown *UnknownEventCodeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, 197, unknown.EventCode)
}

func TestReadDelay_ReadFailure(t *testing.T) {
	pair, _, inh := newTestPair(t)
	inh.failOn = "read"

	_, err := pair.ReadDelay()
	var cfgErr *device.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "read", cfgErr.Op)
}

func TestParsePolarity(t *testing.T) {
	p, err := ParsePolarity("inverted")
	require.NoError(t, err)
	assert.Equal(t, Inverted, p)
	assert.Equal(t, "inverted", p.String())

	_, err = ParsePolarity("backwards")
	assert.Error(t, err)
}
