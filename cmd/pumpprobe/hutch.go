package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/mfxhutch/pumpprobe/internal/config"
	"github.com/mfxhutch/pumpprobe/internal/debug"
	"github.com/mfxhutch/pumpprobe/internal/hw/daq"
	"github.com/mfxhutch/pumpprobe/internal/hw/evr"
	"github.com/mfxhutch/pumpprobe/internal/hw/gpio"
	"github.com/mfxhutch/pumpprobe/internal/hw/sequencer"
	"github.com/mfxhutch/pumpprobe/internal/hw/shutter"
	"github.com/mfxhutch/pumpprobe/internal/hw/sim"
	"github.com/mfxhutch/pumpprobe/internal/logic/scan"
	"github.com/mfxhutch/pumpprobe/internal/logic/timing"
	"github.com/mfxhutch/pumpprobe/internal/telemetry"
)

const seqPrefix = "ECS:SYS0:7"

// hutch is the set of devices built from one configuration.
type hutch struct {
	cfg        *config.Config
	gpio       gpio.Driver
	store      *sim.Store
	quantizer  *timing.Quantizer
	triggers   *evr.Pair
	shutters   *shutter.Bank
	sequencer  *sequencer.Sequencer
	daq        daq.Client
	metrics    *telemetry.Metrics
	controller *scan.Controller
}

// newHutch wires the devices selected by cfg. Facility devices without a
// real driver are backed by the simulated control system.
func newHutch(cfg *config.Config) (*hutch, error) {
	h := &hutch{
		cfg:       cfg,
		store:     sim.NewStore(),
		quantizer: timing.NewQuantizer(cfg),
		metrics:   telemetry.NewMetrics(),
	}

	debug.Step(1, "Initializing triggers")
	pair, err := evr.NewPair(
		sim.NewTrigger(h.store, "MFX:LAS:EVR:01:TRIG0", "pacemaker_trigger"),
		sim.NewTrigger(h.store, "MFX:LAS:EVR:01:TRIG1", "inhibit_trigger"),
		h.quantizer, cfg)
	if err != nil {
		return nil, err
	}
	h.triggers = pair

	debug.Step(2, "Initializing shutters")
	sh := cfg.Shutters
	switch sh.Driver {
	case "gpio":
		debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
		drv, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
		if err != nil {
			return nil, fmt.Errorf("init GPIO failed: %w", err)
		}
		h.gpio = drv
		h.shutters = shutter.NewBank(
			shutter.NewGPIO(drv, sh.Pulse1.Name, sh.Pulse1.Pin),
			shutter.NewGPIO(drv, sh.Pulse2.Name, sh.Pulse2.Pin),
			shutter.NewGPIO(drv, sh.Pulse3.Name, sh.Pulse3.Pin),
			shutter.NewGPIO(drv, sh.Opo.Name, sh.Opo.Pin),
		)
	case "sim":
		analog := func(c config.ShutterConfig) shutter.Shutter {
			return shutter.NewAnalog(c.Name, sim.NewAnalogOutput(h.store, "MFX:LAS:AO:"+c.Name))
		}
		h.shutters = shutter.NewBank(analog(sh.Pulse1), analog(sh.Pulse2), analog(sh.Pulse3), analog(sh.Opo))
	default:
		return nil, fmt.Errorf("unsupported shutters.driver: %s", sh.Driver)
	}

	debug.Step(3, "Initializing sequencer")
	h.sequencer = sequencer.New("event_sequencer", sim.NewSequencer(h.store, seqPrefix))
	h.store.Subscribe(seqPrefix+":PLSTAT", func(v any) {
		if st, ok := v.(int); ok {
			debug.Verbose("Sequencer play status -> %s", sequencer.PlayStatus(st))
		}
	})

	debug.Step(4, "Initializing DAQ")
	h.daq = sim.NewDAQ(cfg.DAQ.SimEventRateHz)

	h.controller = scan.NewController(scan.Devices{
		Quantizer: h.quantizer,
		Triggers:  h.triggers,
		Shutters:  h.shutters,
		Sequencer: h.sequencer,
		DAQ:       h.daq,
	}, scan.OptionsFromConfig(cfg), h.metrics)
	return h, nil
}

// runScan runs one scan and confirms the sequencer came to rest.
func (h *hutch) runScan(ctx context.Context, req scan.Request) (scan.Outcome, error) {
	out, err := h.controller.Run(ctx, req)
	if errors.Is(err, scan.ErrBusy) {
		return out, err
	}
	waitCtx := context.WithoutCancel(ctx)
	if werr := h.sequencer.WaitForStatus(waitCtx, sequencer.Stopped, h.cfg.StopTimeout()); werr != nil {
		debug.Errorf(werr, "sequencer did not report stopped")
	}
	return out, err
}

// Close releases the GPIO driver, leaving TTL shutters blocked.
func (h *hutch) Close() error {
	if h.gpio == nil {
		return nil
	}
	return h.gpio.Close()
}

// scanRunner adapts the hutch to the web scanner interface so web scans
// also wait for the sequencer to stop.
type scanRunner struct{ h *hutch }

func (s scanRunner) Run(ctx context.Context, req scan.Request) (scan.Outcome, error) {
	return s.h.runScan(ctx, req)
}

func (s scanRunner) Validate(req scan.Request) error { return s.h.controller.Validate(req) }

func (s scanRunner) Progress() scan.Progress { return s.h.controller.Progress() }
