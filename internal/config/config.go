package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// TimingConfig holds the calibration of the facility timing model.
// All delays are in nanoseconds.
type TimingConfig struct {
	OpoTimeZeroNs      float64 `yaml:"opo_time_zero_ns"`      // absolute reference offset of the OPO pulse
	BaseInhibitDelayNs float64 `yaml:"base_inhibit_delay_ns"` // inhibit-specific offset
	RepRateHz          float64 `yaml:"rep_rate_hz"`           // facility repetition rate (120 Hz)
	SimultaneousMaxNs  float64 `yaml:"simultaneous_max_ns"`   // upper bound of the simultaneous bucket (inclusive)
	OnePriorMaxNs      float64 `yaml:"one_prior_max_ns"`      // upper bound of the one-prior bucket (inclusive)
	TwoPriorMaxNs      float64 `yaml:"two_prior_max_ns"`      // upper bound of the two-prior bucket, i.e. max delay
	SimultaneousCode   int     `yaml:"simultaneous_code"`
	OnePriorCode       int     `yaml:"one_prior_code"`
	TwoPriorCode       int     `yaml:"two_prior_code"`
	ReadoutCode        int     `yaml:"readout_code"` // DAQ readout code, reads back as ipulse 0
}

// TriggerConfig describes the static part of an EVR trigger.
type TriggerConfig struct {
	EventCode int     `yaml:"event_code"` // 0 = not set by default configuration
	Polarity  string  `yaml:"polarity"`   // "normal" or "inverted"
	WidthNs   float64 `yaml:"width_ns"`
}

// SequencerConfig configures the event sequencer program.
type SequencerConfig struct {
	Rate          string `yaml:"rate"`            // e.g. "10Hz", "30Hz"
	StartPerRun   *bool  `yaml:"start_per_run"`   // start/stop the sequencer around each DAQ run (default true)
	SettleMs      int    `yaml:"settle_ms"`       // delay between DAQ begin and sequencer start
	StopTimeoutMs int    `yaml:"stop_timeout_ms"` // how long to wait for play status to settle
}

// ShutterConfig addresses one laser shutter.
type ShutterConfig struct {
	Name string `yaml:"name"`
	Pin  int    `yaml:"pin"` // GPIO pin (BCM), used by the gpio driver
}

// ShuttersConfig lists the four laser shutters.
type ShuttersConfig struct {
	Driver string        `yaml:"driver"` // "gpio" or "sim"
	Pulse1 ShutterConfig `yaml:"pulse1"`
	Pulse2 ShutterConfig `yaml:"pulse2"`
	Pulse3 ShutterConfig `yaml:"pulse3"`
	Opo    ShutterConfig `yaml:"opo"`
}

// DAQConfig configures the data-acquisition client.
type DAQConfig struct {
	Driver         string  `yaml:"driver"`            // only "sim" is built in
	SimEventRateHz float64 `yaml:"sim_event_rate_hz"` // event rate of the simulated DAQ
	WaitTimeoutMs  int     `yaml:"wait_timeout_ms"`   // 0 = wait indefinitely
	Record         bool    `yaml:"record"`
}

// ScanConfig contains scan defaults.
type ScanConfig struct {
	ZeroDelayPolicy string `yaml:"zero_delay_policy"` // "skip" or "neutral"
	LightEvents     int    `yaml:"light_events"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Timing    TimingConfig    `yaml:"timing"`
	Pacemaker TriggerConfig   `yaml:"pacemaker"`
	Inhibit   TriggerConfig   `yaml:"inhibit"`
	Sequencer SequencerConfig `yaml:"sequencer"`
	Shutters  ShuttersConfig  `yaml:"shutters"`
	DAQ       DAQConfig       `yaml:"daq"`
	Scan      ScanConfig      `yaml:"scan"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
}

// Zero-delay policies.
const (
	ZeroDelaySkip    = "skip"
	ZeroDelayNeutral = "neutral"
)

// Default returns a configuration with the hutch calibration and no file.
func Default() *Config {
	perRun := true
	return &Config{
		Timing: TimingConfig{
			OpoTimeZeroNs:      748935,
			BaseInhibitDelayNs: 500000,
			RepRateHz:          120,
			SimultaneousMaxNs:  0.16e6,
			OnePriorMaxNs:      7e6,
			TwoPriorMaxNs:      15.5e6,
			SimultaneousCode:   210,
			OnePriorCode:       211,
			TwoPriorCode:       212,
			ReadoutCode:        198,
		},
		Pacemaker: TriggerConfig{EventCode: 40, Polarity: "normal", WidthNs: 50000},
		Inhibit:   TriggerConfig{Polarity: "inverted", WidthNs: 2000000},
		Sequencer: SequencerConfig{
			Rate:          "10Hz",
			StartPerRun:   &perRun,
			SettleMs:      2000, // avoid losing events at acquisition start
			StopTimeoutMs: 5000,
		},
		Shutters: ShuttersConfig{
			Driver: "sim",
			Pulse1: ShutterConfig{Name: "evo_shutter1"},
			Pulse2: ShutterConfig{Name: "evo_shutter2"},
			Pulse3: ShutterConfig{Name: "evo_shutter3"},
			Opo:    ShutterConfig{Name: "opo_shutter"},
		},
		DAQ:  DAQConfig{Driver: "sim", SimEventRateHz: 120},
		Scan: ScanConfig{ZeroDelayPolicy: ZeroDelaySkip, LightEvents: 3000},
	}
}

// ValidateConfigPath checks that path points to a .yaml file directly
// inside a directory named "configs".
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config file must have .yaml extension: %s", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file must be in a configs/ directory: %s", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Decode over the defaults so that only absent keys take a default
	// value. An explicit zero in the file is kept.
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the hardware cannot use.
func (c *Config) Validate() error {
	t := c.Timing
	for name, v := range map[string]float64{
		"timing.opo_time_zero_ns":      t.OpoTimeZeroNs,
		"timing.base_inhibit_delay_ns": t.BaseInhibitDelayNs,
		"timing.rep_rate_hz":           t.RepRateHz,
		"timing.simultaneous_max_ns":   t.SimultaneousMaxNs,
		"timing.one_prior_max_ns":      t.OnePriorMaxNs,
		"timing.two_prior_max_ns":      t.TwoPriorMaxNs,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be finite, got %g", name, v)
		}
	}
	if t.RepRateHz <= 0 {
		return fmt.Errorf("timing.rep_rate_hz must be positive, got %g", t.RepRateHz)
	}
	for name, code := range map[string]int{
		"timing.simultaneous_code": t.SimultaneousCode,
		"timing.one_prior_code":    t.OnePriorCode,
		"timing.two_prior_code":    t.TwoPriorCode,
		"timing.readout_code":      t.ReadoutCode,
		"pacemaker.event_code":     c.Pacemaker.EventCode,
	} {
		if code <= 0 || code > 255 {
			return fmt.Errorf("%s must be an event code between 1 and 255, got %d", name, code)
		}
	}
	if !(t.SimultaneousMaxNs > 0 && t.SimultaneousMaxNs < t.OnePriorMaxNs && t.OnePriorMaxNs < t.TwoPriorMaxNs) {
		return fmt.Errorf("timing bucket bounds must be increasing: %g < %g < %g",
			t.SimultaneousMaxNs, t.OnePriorMaxNs, t.TwoPriorMaxNs)
	}
	if err := validatePolarity("pacemaker", c.Pacemaker.Polarity); err != nil {
		return err
	}
	if err := validatePolarity("inhibit", c.Inhibit.Polarity); err != nil {
		return err
	}
	if c.Pacemaker.WidthNs <= 0 || c.Inhibit.WidthNs <= 0 {
		return fmt.Errorf("trigger widths must be positive, got pacemaker %g, inhibit %g",
			c.Pacemaker.WidthNs, c.Inhibit.WidthNs)
	}
	if c.Sequencer.SettleMs < 0 {
		return fmt.Errorf("sequencer.settle_ms must not be negative, got %d", c.Sequencer.SettleMs)
	}
	if c.Sequencer.StopTimeoutMs <= 0 {
		return fmt.Errorf("sequencer.stop_timeout_ms must be positive, got %d", c.Sequencer.StopTimeoutMs)
	}
	switch c.Shutters.Driver {
	case "gpio", "sim":
	default:
		return fmt.Errorf("unsupported shutters.driver: %s", c.Shutters.Driver)
	}
	if c.DAQ.Driver != "sim" {
		return fmt.Errorf("unsupported daq.driver: %s", c.DAQ.Driver)
	}
	if c.DAQ.SimEventRateHz <= 0 {
		return fmt.Errorf("daq.sim_event_rate_hz must be positive, got %g", c.DAQ.SimEventRateHz)
	}
	if c.DAQ.WaitTimeoutMs < 0 {
		return fmt.Errorf("daq.wait_timeout_ms must not be negative, got %d", c.DAQ.WaitTimeoutMs)
	}
	if c.Scan.LightEvents <= 0 {
		return fmt.Errorf("scan.light_events must be positive, got %d", c.Scan.LightEvents)
	}
	switch c.Scan.ZeroDelayPolicy {
	case ZeroDelaySkip, ZeroDelayNeutral:
	default:
		return fmt.Errorf("scan.zero_delay_policy must be %q or %q, got %q",
			ZeroDelaySkip, ZeroDelayNeutral, c.Scan.ZeroDelayPolicy)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

func validatePolarity(name, p string) error {
	if p != "normal" && p != "inverted" {
		return fmt.Errorf("%s.polarity must be \"normal\" or \"inverted\", got %q", name, p)
	}
	return nil
}

// StartPerRun reports whether the sequencer is started for each DAQ run
// rather than once for the whole scan.
func (c *Config) StartPerRun() bool {
	return c.Sequencer.StartPerRun == nil || *c.Sequencer.StartPerRun
}

// SettleDelay returns the pause between DAQ begin and sequencer start.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Sequencer.SettleMs) * time.Millisecond
}

// StopTimeout returns how long to wait for the sequencer to report stopped.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Sequencer.StopTimeoutMs) * time.Millisecond
}

// WaitTimeout returns the DAQ wait bound; zero means indefinite.
func (c *Config) WaitTimeout() time.Duration {
	return time.Duration(c.DAQ.WaitTimeoutMs) * time.Millisecond
}

// RepPeriodNs returns the facility repetition period in nanoseconds.
func (c *Config) RepPeriodNs() float64 {
	return 1e9 / c.Timing.RepRateHz
}
