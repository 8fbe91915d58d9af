package run

import (
	"context"
	"fmt"
	"time"

	"github.com/mfxhutch/pumpprobe/internal/debug"
	"github.com/mfxhutch/pumpprobe/internal/hw/daq"
	"github.com/mfxhutch/pumpprobe/internal/hw/shutter"
)

// Kind distinguishes laser-on acquisitions from background ones.
type Kind string

const (
	Light Kind = "light"
	Dark  Kind = "dark"
)

// Stage of a single acquisition.
type Stage string

const (
	StageConfigure Stage = "configure"
	StageBegin     Stage = "begin"
	StageTrigger   Stage = "trigger"
	StageWait      Stage = "wait"
	StageEnd       Stage = "end"
)

// Acquisition describes one DAQ acquisition.
type Acquisition struct {
	Kind     Kind
	Events   int
	Record   bool
	Shutters shutter.Request
}

// RunFailedError reports the stage at which an acquisition failed.
type RunFailedError struct {
	Stage Stage
	Cause error
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("run failed during %s: %v", e.Stage, e.Cause)
}

func (e *RunFailedError) Unwrap() error { return e.Cause }

// ShutterSetter applies a shutter configuration.
type ShutterSetter interface {
	Set(req shutter.Request) error
}

// SequencerControl starts and stops the event sequencer.
type SequencerControl interface {
	Start() error
	Stop() error
}

// Options tune the acquisition sequence.
type Options struct {
	// StartSequencer starts the sequencer after DAQ begin and stops it
	// after the run ends. When false the caller owns the sequencer.
	StartSequencer bool
	// SettleDelay separates DAQ begin from sequencer start so the first
	// events are not lost.
	SettleDelay time.Duration
	// WaitTimeout bounds the DAQ wait; zero waits indefinitely.
	WaitTimeout time.Duration
}

// Executor drives one acquisition: shutters, DAQ begin, sequencer start,
// wait, DAQ end, sequencer stop. It neither retries nor restores the
// shutters on failure; that is the scan controller's job.
type Executor struct {
	shutters  ShutterSetter
	daq       daq.Client
	sequencer SequencerControl
	opts      Options
}

// NewExecutor creates an executor.
func NewExecutor(shutters ShutterSetter, client daq.Client, seq SequencerControl, opts Options) *Executor {
	return &Executor{
		shutters:  shutters,
		daq:       client,
		sequencer: seq,
		opts:      opts,
	}
}

// Execute performs the acquisition described by acq. Once started, the
// DAQ stages ignore cancellation of ctx: an acquisition in progress is
// allowed to finish.
func (e *Executor) Execute(ctx context.Context, acq Acquisition) error {
	ctx = context.WithoutCancel(ctx)

	if err := e.shutters.Set(acq.Shutters); err != nil {
		return &RunFailedError{Stage: StageConfigure, Cause: err}
	}

	debug.Live("Starting DAQ run, -> record=%v", acq.Record)
	if err := e.daq.Begin(ctx, acq.Events, acq.Record); err != nil {
		return &RunFailedError{Stage: StageBegin, Cause: err}
	}

	if e.opts.StartSequencer {
		if e.opts.SettleDelay > 0 {
			time.Sleep(e.opts.SettleDelay)
		}
		if err := e.sequencer.Start(); err != nil {
			return &RunFailedError{Stage: StageTrigger, Cause: err}
		}
	}

	debug.Live("Waiting for DAQ to complete %d events ...", acq.Events)
	waitCtx := ctx
	if e.opts.WaitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, e.opts.WaitTimeout)
		defer cancel()
	}
	if err := e.daq.Wait(waitCtx); err != nil {
		return &RunFailedError{Stage: StageWait, Cause: err}
	}

	if err := e.daq.EndRun(ctx); err != nil {
		return &RunFailedError{Stage: StageEnd, Cause: err}
	}
	if e.opts.StartSequencer {
		if err := e.sequencer.Stop(); err != nil {
			return &RunFailedError{Stage: StageEnd, Cause: err}
		}
	}
	debug.Live("Run complete!")
	return nil
}
