// Package scan runs pump-probe delay scans: for every repetition and
// delay it applies the trigger timing and drives light and dark DAQ runs,
// then returns the hardware to a safe state however the scan ended.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mfxhutch/pumpprobe/internal/config"
	"github.com/mfxhutch/pumpprobe/internal/debug"
	"github.com/mfxhutch/pumpprobe/internal/hw/daq"
	"github.com/mfxhutch/pumpprobe/internal/hw/sequencer"
	"github.com/mfxhutch/pumpprobe/internal/hw/shutter"
	"github.com/mfxhutch/pumpprobe/internal/logic/run"
	"github.com/mfxhutch/pumpprobe/internal/logic/timing"
	"github.com/mfxhutch/pumpprobe/internal/telemetry"
)

// State of the controller.
type State string

const (
	Idle          State = "idle"
	ProgramLoaded State = "program_loaded"
	Running       State = "running"
	Completed     State = "completed"
	Interrupted   State = "interrupted"
	Failed        State = "failed"
)

var allStates = []string{
	string(Idle), string(ProgramLoaded), string(Running),
	string(Completed), string(Interrupted), string(Failed),
}

var (
	// ErrInterrupted is returned when the scan context is cancelled. It is
	// joined with the context error.
	ErrInterrupted = errors.New("scan interrupted")
	// ErrBusy is returned when a scan is already in progress.
	ErrBusy = errors.New("scan already in progress")
)

// Request describes one scan. An empty Delays list runs a single
// iteration per repetition with no delay and the OPO shutter closed.
// DarkEvents of zero skips the dark runs.
type Request struct {
	Delays      []float64       `json:"delays"`
	Repetitions int             `json:"nruns"`
	Shutters    shutter.Request `json:"shutters"`
	LightEvents int             `json:"light_events"`
	DarkEvents  int             `json:"dark_events"`
	Rate        string          `json:"rate"`
	Record      bool            `json:"record"`
}

// Iteration identifies the acquisition in progress.
type Iteration struct {
	Repetition int      `json:"repetition"`
	DelayNs    float64  `json:"delay_ns"`
	HasDelay   bool     `json:"has_delay"`
	Kind       run.Kind `json:"kind"`
}

// Outcome is the result of a scan.
type Outcome struct {
	ScanID    uuid.UUID `json:"scan_id"`
	Status    State     `json:"status"`
	Iteration Iteration `json:"iteration"`
	RunsDone  int       `json:"runs_done"`
	Err       error     `json:"-"`
}

// Progress is a snapshot of the controller for status displays.
type Progress struct {
	State     State         `json:"state"`
	ScanID    string        `json:"scan_id,omitempty"`
	Iteration Iteration     `json:"iteration"`
	RunsDone  int           `json:"runs_done"`
	RunsTotal int           `json:"runs_total"`
	ETA       time.Duration `json:"eta_ns"`
}

// Sequencer is the part of the event sequencer the scan drives.
type Sequencer interface {
	LoadProgram(rate string) error
	Start() error
	Stop() error
}

// Triggers sets the pump-probe delay.
type Triggers interface {
	ConfigureDefaults() error
	Apply(delayNs float64) (timing.Settings, error)
}

// Runner performs one acquisition.
type Runner interface {
	Execute(ctx context.Context, acq run.Acquisition) error
}

// Devices are the collaborators of a Controller.
type Devices struct {
	Quantizer *timing.Quantizer
	Triggers  Triggers
	Shutters  run.ShutterSetter
	Sequencer Sequencer
	DAQ       daq.Client
	// Runner defaults to a run.Executor over the devices above.
	Runner Runner
}

// Options tune scan behaviour.
type Options struct {
	Rate            string
	StartPerRun     bool
	ZeroDelayPolicy string
	Run             run.Options
}

// OptionsFromConfig derives scan options from the configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Rate:            cfg.Sequencer.Rate,
		StartPerRun:     cfg.StartPerRun(),
		ZeroDelayPolicy: cfg.Scan.ZeroDelayPolicy,
		Run: run.Options{
			StartSequencer: cfg.StartPerRun(),
			SettleDelay:    cfg.SettleDelay(),
			WaitTimeout:    cfg.WaitTimeout(),
		},
	}
}

// Controller runs one scan at a time.
type Controller struct {
	dev     Devices
	opts    Options
	metrics *telemetry.Metrics
	avg     *RollingAverage

	mu       sync.Mutex
	progress Progress
}

// NewController creates a scan controller. metrics may be nil.
func NewController(dev Devices, opts Options, metrics *telemetry.Metrics) *Controller {
	opts.Run.StartSequencer = opts.StartPerRun
	if dev.Runner == nil {
		dev.Runner = run.NewExecutor(dev.Shutters, dev.DAQ, dev.Sequencer, opts.Run)
	}
	c := &Controller{
		dev:      dev,
		opts:     opts,
		metrics:  metrics,
		avg:      NewRollingAverage(10),
		progress: Progress{State: Idle},
	}
	metrics.SetState(string(Idle), allStates)
	return c
}

// State returns the current controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress.State
}

// Progress returns a snapshot of the scan in progress.
func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.progress.State = s
	c.mu.Unlock()
	c.metrics.SetState(string(s), allStates)
}

// Validate checks a request without touching hardware.
func (c *Controller) Validate(req Request) error {
	if req.Repetitions < 1 {
		return fmt.Errorf("nruns must be at least 1, got %d", req.Repetitions)
	}
	if req.LightEvents < 0 || req.DarkEvents < 0 {
		return fmt.Errorf("event counts must not be negative")
	}
	if req.LightEvents == 0 && req.DarkEvents == 0 {
		return fmt.Errorf("nothing to acquire: light and dark event counts are both zero")
	}
	if req.Rate != "" {
		if err := sequencer.ValidateRate(req.Rate); err != nil {
			return err
		}
	}
	if c.dev.Quantizer != nil {
		for _, d := range req.Delays {
			if _, err := c.dev.Quantizer.Classify(d); err != nil {
				return err
			}
		}
	}
	return nil
}

// Run executes the scan. Cancelling ctx stops the scan before the next
// acquisition; an acquisition in progress is completed first. Whatever the
// result, the sequencer is stopped, the DAQ disconnected and all shutters
// closed before Run returns.
func (c *Controller) Run(ctx context.Context, req Request) (Outcome, error) {
	out := Outcome{ScanID: uuid.New(), Status: Failed}
	if err := c.Validate(req); err != nil {
		out.Err = err
		return out, err
	}

	c.mu.Lock()
	if c.progress.State != Idle {
		c.mu.Unlock()
		return Outcome{Status: Failed, Err: ErrBusy}, ErrBusy
	}
	c.progress = Progress{
		State:     ProgramLoaded,
		ScanID:    out.ScanID.String(),
		RunsTotal: totalRuns(req),
	}
	c.mu.Unlock()
	c.metrics.SetState(string(ProgramLoaded), allStates)

	log := debug.Logger().With().Str("scan_id", out.ScanID.String()).Logger()
	log.Info().Int("nruns", req.Repetitions).Int("delays", len(req.Delays)).
		Int("light_events", req.LightEvents).Int("dark_events", req.DarkEvents).Msg("scan starting")

	defer func() {
		c.metrics.ScanFinished(string(out.Status))
		c.setState(Idle)
	}()
	defer c.cleanup()

	err := c.scan(ctx, req, &out)
	switch {
	case err == nil:
		out.Status = Completed
	case ctx.Err() != nil:
		out.Status = Interrupted
		err = errors.Join(fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err()), ignoreCanceled(err))
		debug.Warn("Scan interrupted during repetition %d (%s run)", out.Iteration.Repetition+1, out.Iteration.Kind)
	default:
		out.Status = Failed
		debug.Errorf(err, "Scan failed during repetition %d (%s run)", out.Iteration.Repetition+1, out.Iteration.Kind)
	}
	out.Err = err
	c.setState(out.Status)
	log.Info().Str("status", string(out.Status)).Int("runs", out.RunsDone).Msg("scan finished")
	return out, err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func totalRuns(req Request) int {
	perIteration := 0
	if req.LightEvents > 0 {
		perIteration++
	}
	if req.DarkEvents > 0 {
		perIteration++
	}
	n := len(req.Delays)
	if n == 0 {
		n = 1
	}
	return req.Repetitions * n * perIteration
}

func (c *Controller) scan(ctx context.Context, req Request, out *Outcome) error {
	rate := req.Rate
	if rate == "" {
		rate = c.opts.Rate
	}
	debug.Section("Sequencer")
	if err := c.dev.Sequencer.LoadProgram(rate); err != nil {
		return err
	}
	if err := c.dev.Triggers.ConfigureDefaults(); err != nil {
		return err
	}
	if !c.opts.StartPerRun {
		if err := c.dev.Sequencer.Start(); err != nil {
			return err
		}
	}
	c.setState(Running)

	type point struct {
		ns      float64
		present bool
	}
	points := []point{{}}
	if len(req.Delays) > 0 {
		points = points[:0]
		for _, d := range req.Delays {
			points = append(points, point{ns: d, present: true})
		}
	}

	total := totalRuns(req)
	for rep := 0; rep < req.Repetitions; rep++ {
		debug.Section(fmt.Sprintf("Repetition %d/%d", rep+1, req.Repetitions))
		for _, p := range points {
			it := Iteration{Repetition: rep, DelayNs: p.ns, HasDelay: p.present}

			if req.LightEvents > 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
				it.Kind = run.Light
				out.Iteration = it
				withDelay := p.present && p.ns != 0
				if err := c.applyDelay(p.ns, withDelay); err != nil {
					return err
				}
				shutters := req.Shutters
				shutters.Opo = withDelay
				if err := c.execute(ctx, run.Acquisition{Kind: run.Light, Events: req.LightEvents, Record: req.Record, Shutters: shutters}, rep, req.Repetitions, total, out); err != nil {
					return err
				}
			}

			if req.DarkEvents > 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
				it.Kind = run.Dark
				out.Iteration = it
				if err := c.execute(ctx, run.Acquisition{Kind: run.Dark, Events: req.DarkEvents, Record: req.Record}, rep, req.Repetitions, total, out); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// applyDelay writes the trigger timing for a light run. A missing or zero
// delay leaves the triggers alone unless the neutral policy is configured.
func (c *Controller) applyDelay(ns float64, withDelay bool) error {
	if !withDelay {
		if c.opts.ZeroDelayPolicy != config.ZeroDelayNeutral {
			debug.Verbose("No delay requested, trigger settings left unchanged")
			return nil
		}
		ns = 0
	}
	if _, err := c.dev.Triggers.Apply(ns); err != nil {
		return err
	}
	c.metrics.SetDelay(ns)
	return nil
}

func (c *Controller) execute(ctx context.Context, acq run.Acquisition, rep, reps, total int, out *Outcome) error {
	c.mu.Lock()
	c.progress.Iteration = out.Iteration
	c.mu.Unlock()

	debug.Run(rep+1, reps, string(acq.Kind), acq.Events)
	start := time.Now()
	err := c.dev.Runner.Execute(ctx, acq)
	elapsed := time.Since(start)
	c.metrics.RunFinished(string(acq.Kind), acq.Events, elapsed.Seconds(), err)
	if err != nil {
		return err
	}

	out.RunsDone++
	c.avg.Add(elapsed.Seconds())
	eta := time.Duration(c.avg.Mean() * float64(total-out.RunsDone) * float64(time.Second))
	c.mu.Lock()
	c.progress.RunsDone = out.RunsDone
	c.progress.ETA = eta
	c.mu.Unlock()
	if out.RunsDone < total {
		debug.Info("Run %d/%d done, estimated time remaining %s", out.RunsDone, total, eta.Round(time.Second))
	}
	return nil
}

// cleanup returns the hardware to a safe state. Failures are logged and
// counted, never returned.
func (c *Controller) cleanup() {
	debug.Section("Cleanup")
	steps := []struct {
		name string
		fn   func() error
	}{
		{"stop sequencer", c.dev.Sequencer.Stop},
		{"disconnect daq", c.dev.DAQ.Disconnect},
		{"close shutters", func() error { return c.dev.Shutters.Set(shutter.Request{}) }},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			debug.Errorf(err, "cleanup: %s", s.name)
			c.metrics.CleanupFailed()
			continue
		}
		debug.Verbose("cleanup: %s done", s.name)
	}
}
