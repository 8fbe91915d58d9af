package scan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRollingAverage(t *testing.T) {
	r := NewRollingAverage(3)
	assert.Equal(t, 0.0, r.Mean())

	r.Add(1)
	r.Add(2)
	assert.Equal(t, 1.5, r.Mean())
	assert.Equal(t, 2, r.Len())

	r.Add(3)
	r.Add(10) // evicts 1
	assert.InDelta(t, 5.0, r.Mean(), 1e-12)
	assert.Equal(t, 3, r.Len())
}

func TestRollingAverage_MinimumWindow(t *testing.T) {
	r := NewRollingAverage(0)
	r.Add(4)
	r.Add(6)
	assert.Equal(t, 6.0, r.Mean())
}

func TestRollingAverage_Concurrent(t *testing.T) {
	r := NewRollingAverage(8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Add(2)
				_ = r.Mean()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 2.0, r.Mean())
}
