package capture

import (
	"sync"
)

// FakeDevice is a manually driven capture device for tests. Sample batches
// are injected with Push and forwarded to the registered callback while the
// device is started.
type FakeDevice struct {
	Rate int // reported sample rate; defaults to DefaultSampleRate when zero

	mu      sync.Mutex
	cb      FrameCallback
	started bool

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// StopCallCount is the number of times Stop was called.
	StopCallCount int
}

var _ Device = (*FakeDevice)(nil)

// SampleRate returns Rate, or DefaultSampleRate when unset.
func (f *FakeDevice) SampleRate() int {
	if f.Rate > 0 {
		return f.Rate
	}
	return DefaultSampleRate
}

// Start registers cb and marks the device started.
func (f *FakeDevice) Start(cb FrameCallback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return f.StartErr
	}
	f.cb = cb
	f.started = true
	return nil
}

// Stop unregisters the callback.
func (f *FakeDevice) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = false
	f.cb = nil
	f.StopCallCount++
	return nil
}

// Push delivers a batch of samples to the callback, simulating the hardware
// audio thread. No-op when the device is stopped.
func (f *FakeDevice) Push(samples []float32) {
	f.mu.Lock()
	cb := f.cb
	started := f.started
	f.mu.Unlock()
	if started && cb != nil {
		cb(samples)
	}
}
