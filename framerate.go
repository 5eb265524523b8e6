package camera

import (
	"fmt"
	"sync"
	"time"
)

// FrameRate is a moving average filter over frame intervals, for showing
// a smoothed preview rate.
type FrameRate struct {
	mu     sync.Mutex
	index  int
	count  int
	sum    time.Duration
	values []time.Duration
	last   time.Time
}

// NewFrameRate returns a frame rate meter averaging over the last size
// intervals.
func NewFrameRate(size int) (*FrameRate, error) {
	if size <= 0 {
		return nil, fmt.Errorf("size must be > 0")
	}
	return &FrameRate{values: make([]time.Duration, size)}, nil
}

// Tick records a frame at time t and returns the smoothed rate in frames
// per second. The first tick only sets the reference time and returns 0.
func (f *FrameRate) Tick(t time.Time) (float64, error) {
	if f.values == nil {
		return 0, fmt.Errorf("invalid FrameRate, use NewFrameRate")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.last.IsZero() {
		f.last = t
		return 0, nil
	}
	d := t.Sub(f.last)
	f.last = t
	if d < 0 {
		return 0, fmt.Errorf("tick at %v is before previous tick", t)
	}

	f.sum -= f.values[f.index]
	f.sum += d
	f.values[f.index] = d
	f.index++
	if f.index >= len(f.values) {
		f.index = 0
	}
	if f.count < len(f.values) {
		f.count++
	}
	return f.rateLocked(), nil
}

// Rate returns the current smoothed rate in frames per second.
func (f *FrameRate) Rate() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rateLocked()
}

func (f *FrameRate) rateLocked() float64 {
	if f.count == 0 || f.sum <= 0 {
		return 0
	}
	avg := f.sum / time.Duration(f.count)
	return float64(time.Second) / float64(avg)
}
