package sim

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mfxhutch/pumpprobe/internal/debug"
)

// DAQ errors.
var (
	ErrRunInProgress = errors.New("daq: run already in progress")
	ErrNoRun         = errors.New("daq: no run in progress")
)

// DAQ is a simulated acquisition session that accumulates events at a
// fixed rate.
type DAQ struct {
	rateHz float64

	mu        sync.Mutex
	connected bool
	running   bool
	record    bool
	target    int
	started   time.Time
	stopped   time.Time
	done      chan struct{}
	timer     *time.Timer
	runNumber int
}

// NewDAQ creates a simulated DAQ producing rateHz events per second.
func NewDAQ(rateHz float64) *DAQ {
	if rateHz <= 0 {
		rateHz = 120
	}
	return &DAQ{rateHz: rateHz}
}

// Begin connects if needed and starts acquiring events.
func (d *DAQ) Begin(ctx context.Context, events int, record bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrRunInProgress
	}
	if !d.connected {
		debug.Verbose("DAQ: connecting (simulated)")
		d.connected = true
	}
	d.running = true
	d.record = record
	d.target = events
	d.started = time.Now()
	d.stopped = time.Time{}
	done := make(chan struct{})
	d.done = done
	dur := time.Duration(float64(events) / d.rateHz * float64(time.Second))
	d.timer = time.AfterFunc(dur, func() { close(done) })
	debug.Trace("DAQ: begin events=%d record=%v (~%v)", events, record, dur)
	return nil
}

// Wait blocks until the requested event count is reached or ctx is done.
func (d *DAQ) Wait(ctx context.Context) error {
	d.mu.Lock()
	done := d.done
	running := d.running
	d.mu.Unlock()
	if !running {
		return ErrNoRun
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EndRun closes the current run.
func (d *DAQ) EndRun(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return ErrNoRun
	}
	d.timer.Stop()
	d.running = false
	d.stopped = time.Now()
	if d.record {
		d.runNumber++
	}
	debug.Trace("DAQ: end run (%d events)", d.eventsLocked())
	return nil
}

// Disconnect ends any open run and drops the session.
func (d *DAQ) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		d.timer.Stop()
		d.running = false
		d.stopped = time.Now()
	}
	d.connected = false
	return nil
}

func (d *DAQ) eventsLocked() int {
	if d.started.IsZero() {
		return 0
	}
	end := time.Now()
	if !d.stopped.IsZero() {
		end = d.stopped
	}
	n := int(end.Sub(d.started).Seconds() * d.rateHz)
	if n > d.target {
		n = d.target
	}
	return n
}

// Events returns the number of events acquired in the current or last run.
func (d *DAQ) Events() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.eventsLocked()
}

// RunNumber returns the number of recorded runs so far.
func (d *DAQ) RunNumber() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runNumber
}

// Connected reports whether a session is open.
func (d *DAQ) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Running reports whether a run is in progress.
func (d *DAQ) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}
