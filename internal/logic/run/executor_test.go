package run

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfxhutch/pumpprobe/internal/hw/shutter"
)

// callLog records the order of calls across all fakes.
type callLog struct {
	calls  []string
	failOn string
}

func (l *callLog) call(name string) error {
	l.calls = append(l.calls, name)
	if l.failOn == name {
		return errors.New(name + " failed")
	}
	return nil
}

type fakeShutters struct {
	log  *callLog
	last shutter.Request
}

func (f *fakeShutters) Set(req shutter.Request) error {
	f.last = req
	return f.log.call("shutters")
}

type fakeDAQ struct {
	log     *callLog
	events  int
	record  bool
	waitCtx context.Context
}

func (f *fakeDAQ) Begin(_ context.Context, events int, record bool) error {
	f.events, f.record = events, record
	return f.log.call("begin")
}

func (f *fakeDAQ) Wait(ctx context.Context) error {
	f.waitCtx = ctx
	return f.log.call("wait")
}

func (f *fakeDAQ) EndRun(context.Context) error { return f.log.call("end") }
func (f *fakeDAQ) Disconnect() error            { return f.log.call("disconnect") }

type fakeSequencer struct{ log *callLog }

func (f *fakeSequencer) Start() error { return f.log.call("seq_start") }
func (f *fakeSequencer) Stop() error  { return f.log.call("seq_stop") }

func newTestExecutor(opts Options) (*Executor, *callLog, *fakeShutters, *fakeDAQ) {
	log := &callLog{}
	sh := &fakeShutters{log: log}
	d := &fakeDAQ{log: log}
	return NewExecutor(sh, d, &fakeSequencer{log: log}, opts), log, sh, d
}

func TestExecute_StageOrder(t *testing.T) {
	ex, log, sh, d := newTestExecutor(Options{StartSequencer: true})

	req := shutter.Request{Pulse1: true, Opo: true}
	err := ex.Execute(context.Background(), Acquisition{Kind: Light, Events: 10, Record: true, Shutters: req})
	require.NoError(t, err)

	assert.Equal(t, []string{"shutters", "begin", "seq_start", "wait", "end", "seq_stop"}, log.calls)
	assert.Equal(t, req, sh.last)
	assert.Equal(t, 10, d.events)
	assert.True(t, d.record)
}

func TestExecute_SequencerOwnedByCaller(t *testing.T) {
	ex, log, _, _ := newTestExecutor(Options{StartSequencer: false})

	require.NoError(t, ex.Execute(context.Background(), Acquisition{Kind: Dark, Events: 5}))
	assert.Equal(t, []string{"shutters", "begin", "wait", "end"}, log.calls)
}

func TestExecute_FailureReportsStage(t *testing.T) {
	cases := []struct {
		failOn string
		stage  Stage
		calls  []string
	}{
		{"shutters", StageConfigure, []string{"shutters"}},
		{"begin", StageBegin, []string{"shutters", "begin"}},
		{"seq_start", StageTrigger, []string{"shutters", "begin", "seq_start"}},
		{"wait", StageWait, []string{"shutters", "begin", "seq_start", "wait"}},
		{"end", StageEnd, []string{"shutters", "begin", "seq_start", "wait", "end"}},
		{"seq_stop", StageEnd, []string{"shutters", "begin", "seq_start", "wait", "end", "seq_stop"}},
	}
	for _, tc := range cases {
		t.Run(tc.failOn, func(t *testing.T) {
			ex, log, _, _ := newTestExecutor(Options{StartSequencer: true})
			log.failOn = tc.failOn

			err := ex.Execute(context.Background(), Acquisition{Kind: Light, Events: 1})
			var runErr *RunFailedError
			require.ErrorAs(t, err, &runErr)
			assert.Equal(t, tc.stage, runErr.Stage)
			assert.EqualError(t, runErr.Cause, tc.failOn+" failed")
			assert.Equal(t, tc.calls, log.calls, "no cleanup or retry inside the executor")
		})
	}
}

func TestExecute_IgnoresCancellationOnceStarted(t *testing.T) {
	ex, log, _, d := newTestExecutor(Options{StartSequencer: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, ex.Execute(ctx, Acquisition{Kind: Light, Events: 1}))
	assert.Len(t, log.calls, 6)
	assert.NoError(t, d.waitCtx.Err())
}

func TestExecute_WaitTimeout(t *testing.T) {
	ex, _, _, d := newTestExecutor(Options{WaitTimeout: time.Minute})

	require.NoError(t, ex.Execute(context.Background(), Acquisition{Kind: Dark, Events: 1}))
	deadline, ok := d.waitCtx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
}

func TestExecute_SettleDelay(t *testing.T) {
	ex, _, _, _ := newTestExecutor(Options{StartSequencer: true, SettleDelay: 20 * time.Millisecond})

	start := time.Now()
	require.NoError(t, ex.Execute(context.Background(), Acquisition{Kind: Light, Events: 1}))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
