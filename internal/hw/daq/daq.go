// Package daq defines the data-acquisition session the scan drives.
package daq

import "context"

// Client controls one DAQ session. Begin starts an acquisition of events
// events; Wait blocks until that count is reached; EndRun closes the run.
// Disconnect releases the session and is safe to call at any time.
type Client interface {
	Begin(ctx context.Context, events int, record bool) error
	Wait(ctx context.Context) error
	EndRun(ctx context.Context) error
	Disconnect() error
}
