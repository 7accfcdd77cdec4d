package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sammywilko/channel-changers-live/internal/observe"
	"github.com/sammywilko/channel-changers-live/pkg/audio"
)

// ErrDeviceWrite marks Schedule failures caused by the output device rather
// than by a malformed chunk. Wrapped with %w so callers can branch with
// errors.Is.
var ErrDeviceWrite = errors.New("playback: device write failed")

// Option is a functional option for configuring a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithMetrics sets the metrics instance. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler places decoded agent audio on the device timeline without gaps.
//
// The invariant is a single cursor: the next chunk starts at
// max(cursor, device clock) and the cursor advances to that start plus the
// chunk's duration. Chunks must be scheduled in arrival order; the mutex
// makes concurrent callers safe but does not reorder them.
type Scheduler struct {
	dev     Device
	log     *slog.Logger
	metrics *observe.Metrics

	mu        sync.Mutex
	nextStart time.Duration
	scheduled uint64
}

// NewScheduler creates a Scheduler writing to dev.
func NewScheduler(dev Device, opts ...Option) *Scheduler {
	s := &Scheduler{
		dev: dev,
		log: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Schedule decodes one wire chunk and places it on the timeline. It returns
// the chunk's assigned start time. Malformed chunks are rejected without
// advancing the cursor.
func (s *Scheduler) Schedule(ctx context.Context, chunk audio.Chunk) (time.Duration, error) {
	if chunk.SampleRate <= 0 {
		s.metrics.DecodeFailures.Add(ctx, 1)
		return 0, fmt.Errorf("playback: chunk has no sample rate")
	}

	samples, err := audio.DecodePCM16(chunk.Data)
	if err != nil {
		s.metrics.DecodeFailures.Add(ctx, 1)
		return 0, fmt.Errorf("playback: decode chunk: %w", err)
	}
	if len(samples) == 0 {
		return s.NextStart(), nil
	}

	d := chunk.Duration()

	s.mu.Lock()
	now := s.dev.Now()
	start := s.nextStart
	if now > start {
		start = now
	}
	s.nextStart = start + d
	s.scheduled++
	s.mu.Unlock()

	if err := s.dev.Play(start, samples, chunk.SampleRate); err != nil {
		return 0, fmt.Errorf("%w at %s: %v", ErrDeviceWrite, start, err)
	}

	s.metrics.ChunksScheduled.Add(ctx, 1)
	s.metrics.SchedulingGap.Record(ctx, (start - now).Seconds())
	return start, nil
}

// NextStart returns the current cursor position.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Scheduled returns the number of chunks placed on the timeline.
func (s *Scheduler) Scheduled() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduled
}

// Reset moves the cursor back to the device clock, abandoning any scheduled
// tail. Used when a session ends so the next session does not inherit stale
// timeline state.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextStart = s.dev.Now()
	s.scheduled = 0
}

// Drain blocks until the device clock passes the cursor, i.e. everything
// scheduled so far has played out, or the context is cancelled.
func (s *Scheduler) Drain(ctx context.Context) error {
	for {
		s.mu.Lock()
		remaining := s.nextStart - s.dev.Now()
		s.mu.Unlock()
		if remaining <= 0 {
			return nil
		}

		wait := remaining
		if wait > 50*time.Millisecond {
			wait = 50 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
