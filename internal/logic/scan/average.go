package scan

import (
	"sync"

	"gonum.org/v1/gonum/stat"
)

// RollingAverage is the mean of the last n samples.
type RollingAverage struct {
	mu    sync.Mutex
	buf   []float64
	next  int
	count int
}

// NewRollingAverage creates an average over the last n samples.
func NewRollingAverage(n int) *RollingAverage {
	if n < 1 {
		n = 1
	}
	return &RollingAverage{buf: make([]float64, n)}
}

// Add records a sample, evicting the oldest once the window is full.
func (r *RollingAverage) Add(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Mean returns the average of the samples in the window, or 0 when empty.
func (r *RollingAverage) Mean() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return 0
	}
	return stat.Mean(r.buf[:r.count], nil)
}

// Len returns the number of samples in the window.
func (r *RollingAverage) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
