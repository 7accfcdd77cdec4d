package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sammywilko/channel-changers-live/internal/observe"
	"github.com/sammywilko/channel-changers-live/pkg/audio"
)

const (
	// DefaultFrameSize is the number of samples per dispatched frame.
	// At 16 kHz this is 256 ms of audio.
	DefaultFrameSize = 4096

	// DefaultSampleRate is the capture rate expected by the live providers.
	DefaultSampleRate = 16000

	// dispatchDepth is the dispatch queue length. At the default frame size
	// this buffers about two seconds of microphone audio before frames drop.
	dispatchDepth = 8
)

// Sink consumes encoded wire frames. Satisfied by live.SessionHandle.
type Sink interface {
	SendAudio(chunk []byte) error
}

// LevelFunc observes the input level of each completed frame, scaled to
// [0, 100] for display. Called from the dispatch goroutine, never from the
// device callback.
type LevelFunc func(level float64)

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithFrameSize overrides the number of samples per dispatched frame.
func WithFrameSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.frameSize = n
		}
	}
}

// WithLevelFunc registers an observer for per-frame input levels.
func WithLevelFunc(fn LevelFunc) Option {
	return func(p *Pipeline) { p.levelFn = fn }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithMetrics sets the metrics instance. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline reassembles device sample batches into fixed-size frames and
// dispatches them to a Sink.
//
// The device callback only appends to the accumulator and performs a
// non-blocking channel send; the level measurement, PCM encoding and the
// blocking SendAudio call all happen on the dispatch goroutine. When the
// dispatch queue is full the frame is dropped and counted, never queued.
type Pipeline struct {
	dev       Device
	sink      Sink
	frameSize int
	levelFn   LevelFunc
	log       *slog.Logger
	metrics   *observe.Metrics

	mu      sync.Mutex
	running bool
	pending []float32
	frames  chan []float32
	done    chan struct{}

	dropped atomic.Uint64
	sent    atomic.Uint64
}

// New creates a Pipeline reading from dev and writing to sink.
func New(dev Device, sink Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		dev:       dev,
		sink:      sink,
		frameSize: DefaultFrameSize,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Start begins capture and frame dispatch. The context bounds the dispatch
// goroutine; cancelling it stops dispatch but not the device (call Stop for a
// full teardown).
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("capture: pipeline already running")
	}
	p.running = true
	p.pending = make([]float32, 0, p.frameSize)
	p.frames = make(chan []float32, dispatchDepth)
	p.done = make(chan struct{})
	frames := p.frames
	done := p.done
	p.mu.Unlock()

	go p.dispatchLoop(ctx, frames, done)

	if err := p.dev.Start(p.push); err != nil {
		p.mu.Lock()
		p.running = false
		close(p.frames)
		p.mu.Unlock()
		<-done
		return fmt.Errorf("capture: start device: %w", err)
	}

	p.log.Info("capture started",
		slog.Int("frame_size", p.frameSize),
		slog.Int("sample_rate", p.dev.SampleRate()),
	)
	return nil
}

// Stop halts the device and drains the dispatch goroutine. A partial frame
// still in the accumulator is discarded. Idempotent.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	err := p.dev.Stop()

	p.mu.Lock()
	close(p.frames)
	done := p.done
	p.pending = nil
	p.mu.Unlock()

	<-done

	p.log.Info("capture stopped",
		slog.Uint64("frames_sent", p.sent.Load()),
		slog.Uint64("frames_dropped", p.dropped.Load()),
	)
	if err != nil {
		return fmt.Errorf("capture: stop device: %w", err)
	}
	return nil
}

// Dropped returns the number of frames discarded under backpressure.
func (p *Pipeline) Dropped() uint64 { return p.dropped.Load() }

// Sent returns the number of frames dispatched to the sink.
func (p *Pipeline) Sent() uint64 { return p.sent.Load() }

// push is the device callback. It runs on the audio thread: it must return
// quickly and never block.
func (p *Pipeline) push(samples []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}

	p.pending = append(p.pending, samples...)
	for len(p.pending) >= p.frameSize {
		frame := make([]float32, p.frameSize)
		copy(frame, p.pending[:p.frameSize])
		p.pending = p.pending[:copy(p.pending, p.pending[p.frameSize:])]

		select {
		case p.frames <- frame:
		default:
			p.dropped.Add(1)
			p.metrics.FramesDropped.Add(context.Background(), 1)
		}
	}
}

// dispatchLoop encodes and forwards completed frames until the frame channel
// closes or the context is cancelled.
func (p *Pipeline) dispatchLoop(ctx context.Context, frames <-chan []float32, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			go audio.Drain(frames)
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if p.levelFn != nil {
				p.levelFn(audio.DisplayLevel(frame))
			}
			if err := p.sink.SendAudio(audio.EncodePCM16(frame)); err != nil {
				p.log.Warn("frame dispatch failed", slog.String("error", err.Error()))
				continue
			}
			p.sent.Add(1)
			p.metrics.FramesCaptured.Add(ctx, 1)
		}
	}
}
