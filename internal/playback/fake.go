package playback

import (
	"sync"
	"time"
)

// PlayCall records a single invocation of FakeDevice.Play.
type PlayCall struct {
	Start      time.Duration
	Samples    []float32
	SampleRate int
}

// FakeDevice is a playback device with a manually advanced clock, for tests.
type FakeDevice struct {
	mu    sync.Mutex
	now   time.Duration
	calls []PlayCall

	// PlayErr, if non-nil, is returned by every Play call.
	PlayErr error

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

var _ Device = (*FakeDevice)(nil)

// Now returns the manual clock.
func (f *FakeDevice) Now() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// SetNow moves the manual clock.
func (f *FakeDevice) SetNow(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = d
}

// Play records the call and returns PlayErr.
func (f *FakeDevice) Play(start time.Duration, samples []float32, sampleRate int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PlayErr != nil {
		return f.PlayErr
	}
	cp := make([]float32, len(samples))
	copy(cp, samples)
	f.calls = append(f.calls, PlayCall{Start: start, Samples: cp, SampleRate: sampleRate})
	return nil
}

// Calls returns a copy of all recorded Play calls.
func (f *FakeDevice) Calls() []PlayCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]PlayCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// Close records the call.
func (f *FakeDevice) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CloseCallCount++
	return nil
}
