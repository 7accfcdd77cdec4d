package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/sammywilko/channel-changers-live/internal/observe"
	"github.com/sammywilko/channel-changers-live/pkg/audio"
)

// recordingSink collects every chunk passed to SendAudio.
type recordingSink struct {
	mu      sync.Mutex
	chunks  [][]byte
	sendErr error

	// block, when non-nil, is closed to release blocked SendAudio calls.
	block chan struct{}
}

func (s *recordingSink) SendAudio(chunk []byte) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.chunks = append(s.chunks, cp)
	return s.sendErr
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPipeline_AssemblesFullFrames(t *testing.T) {
	dev := &FakeDevice{}
	sink := &recordingSink{}
	p := New(dev, sink, WithFrameSize(8), WithMetrics(testMetrics(t)))

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	// Two pushes of 5 samples cross one 8-sample frame boundary.
	dev.Push(make([]float32, 5))
	dev.Push(make([]float32, 5))

	waitFor(t, func() bool { return sink.count() == 1 }, "expected exactly one dispatched frame")

	sink.mu.Lock()
	frameBytes := len(sink.chunks[0])
	sink.mu.Unlock()
	if frameBytes != 16 {
		t.Errorf("frame = %d bytes, want 16 (8 samples of PCM16)", frameBytes)
	}
}

func TestPipeline_EncodesPCM16(t *testing.T) {
	dev := &FakeDevice{}
	sink := &recordingSink{}
	p := New(dev, sink, WithFrameSize(4), WithMetrics(testMetrics(t)))

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	frame := []float32{0.5, -0.5, 0.0, 1.0}
	dev.Push(frame)

	waitFor(t, func() bool { return sink.count() == 1 }, "expected one dispatched frame")

	sink.mu.Lock()
	got := sink.chunks[0]
	sink.mu.Unlock()

	want := audio.EncodePCM16(frame)
	if string(got) != string(want) {
		t.Errorf("dispatched bytes = %v, want %v", got, want)
	}
}

func TestPipeline_LevelObserver(t *testing.T) {
	dev := &FakeDevice{}
	sink := &recordingSink{}

	levels := make(chan float64, 4)
	p := New(dev, sink,
		WithFrameSize(4),
		WithLevelFunc(func(l float64) { levels <- l }),
		WithMetrics(testMetrics(t)),
	)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	dev.Push([]float32{0.5, 0.5, 0.5, 0.5})

	select {
	case l := <-levels:
		if l < 49.9 || l > 50.1 {
			t.Errorf("level = %g, want ~50", l)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for level observation")
	}
}

func TestPipeline_DropsUnderBackpressure(t *testing.T) {
	dev := &FakeDevice{}
	sink := &recordingSink{block: make(chan struct{})}
	p := New(dev, sink, WithFrameSize(2), WithMetrics(testMetrics(t)))

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// One frame occupies the blocked sink; dispatchDepth more fill the
	// queue; everything after that must drop without blocking Push.
	pushDone := make(chan struct{})
	go func() {
		defer close(pushDone)
		for range dispatchDepth + 10 {
			dev.Push(make([]float32, 2))
		}
	}()

	select {
	case <-pushDone:
	case <-time.After(3 * time.Second):
		t.Fatal("Push blocked; device callback must never block")
	}

	waitFor(t, func() bool { return p.Dropped() > 0 }, "expected dropped frames under backpressure")

	close(sink.block)
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestPipeline_PartialFrameDiscardedOnStop(t *testing.T) {
	dev := &FakeDevice{}
	sink := &recordingSink{}
	p := New(dev, sink, WithFrameSize(8), WithMetrics(testMetrics(t)))

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	dev.Push(make([]float32, 3)) // below frame size

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := sink.count(); got != 0 {
		t.Errorf("partial frame was dispatched: %d chunks", got)
	}
}

func TestPipeline_StopIdempotent(t *testing.T) {
	dev := &FakeDevice{}
	p := New(dev, &recordingSink{}, WithMetrics(testMetrics(t)))

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if dev.StopCallCount != 1 {
		t.Errorf("device Stop called %d times, want 1", dev.StopCallCount)
	}
}

func TestPipeline_StartTwiceFails(t *testing.T) {
	dev := &FakeDevice{}
	p := New(dev, &recordingSink{}, WithMetrics(testMetrics(t)))

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	if err := p.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail while running")
	}
}

func TestPipeline_DeviceStartErrorPropagates(t *testing.T) {
	wantErr := errors.New("no microphone")
	dev := &FakeDevice{StartErr: wantErr}
	p := New(dev, &recordingSink{}, WithMetrics(testMetrics(t)))

	err := p.Start(context.Background())
	if !errors.Is(err, wantErr) {
		t.Fatalf("Start error = %v, want wrapped %v", err, wantErr)
	}

	// The pipeline must be restartable after a failed start.
	dev.StartErr = nil
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("restart after failure: %v", err)
	}
	p.Stop()
}

func TestPipeline_SinkErrorDoesNotStopDispatch(t *testing.T) {
	dev := &FakeDevice{}
	sink := &recordingSink{sendErr: errors.New("session closed")}
	p := New(dev, sink, WithFrameSize(2), WithMetrics(testMetrics(t)))

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop()

	dev.Push(make([]float32, 2))
	dev.Push(make([]float32, 2))

	waitFor(t, func() bool { return sink.count() == 2 }, "dispatch should continue past sink errors")

	if got := p.Sent(); got != 0 {
		t.Errorf("Sent() = %d, want 0 when every send errors", got)
	}
}
