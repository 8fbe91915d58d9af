// Package device holds what the hardware abstractions share: the error
// returned when a control-system write fails.
package device

import "fmt"

// ConfigError reports a failed write to a trigger, shutter or sequencer.
type ConfigError struct {
	Device string // e.g. "inhibit_trigger", "opo_shutter"
	Op     string // e.g. "configure", "open", "set_rate"
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Device, e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Wrap returns nil when err is nil, otherwise a *ConfigError.
func Wrap(dev, op string, err error) error {
	if err == nil {
		return nil
	}
	return &ConfigError{Device: dev, Op: op, Err: err}
}
