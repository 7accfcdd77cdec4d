// Package session runs the duplex audio loop of one live co-host session and
// owns its lifecycle.
//
// A session moves through a small state machine: Idle until Start, Connecting
// while the provider handshake runs, Open while audio flows both ways, and
// terminally Error or Closed. Stop is valid in every state and always lands
// in Closed; a failed session is never reconnected automatically — the host
// decides when to start a fresh one.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sammywilko/channel-changers-live/internal/capture"
	"github.com/sammywilko/channel-changers-live/internal/observe"
	"github.com/sammywilko/channel-changers-live/internal/playback"
	"github.com/sammywilko/channel-changers-live/internal/transcript"
	"github.com/sammywilko/channel-changers-live/pkg/live"
)

// DefaultConnectTimeout bounds the Connecting state. Without it a stalled
// handshake would leave the session in Connecting forever.
const DefaultConnectTimeout = 30 * time.Second

// Config assembles the collaborators for one Session.
type Config struct {
	// Provider is the realtime backend. Required.
	Provider live.Provider

	// CaptureDevice is the microphone. Required.
	CaptureDevice capture.Device

	// PlaybackDevice is the speaker. Required.
	PlaybackDevice playback.Device

	// Live is the provider-level session configuration (voice,
	// instructions, input rate).
	Live live.SessionConfig

	// SessionID names the session in logs and the transcript store.
	// Defaults to a timestamp-derived ID.
	SessionID string

	// ConnectTimeout bounds the provider handshake. Defaults to
	// DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// FrameSize is the capture frame size in samples. Zero means the
	// capture default.
	FrameSize int

	// Transcripts, when non-nil, receives every caption.
	Transcripts transcript.Store

	// LogCapacity bounds the in-memory activity log. Zero means
	// DefaultLogCapacity.
	LogCapacity int

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// validate checks required collaborators and fills defaults.
func (c *Config) validate() error {
	var errs []error
	if c.Provider == nil {
		errs = append(errs, errors.New("session: provider is required"))
	}
	if c.CaptureDevice == nil {
		errs = append(errs, errors.New("session: capture device is required"))
	}
	if c.PlaybackDevice == nil {
		errs = append(errs, errors.New("session: playback device is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if c.SessionID == "" {
		c.SessionID = "session-" + time.Now().UTC().Format("20060102-150405")
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
	return nil
}

// Session is one live co-host session. Create with New, drive with Start and
// Stop. All methods are safe for concurrent use.
type Session struct {
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics
	ring    *logRing

	mu        sync.Mutex
	status    Status
	errVal    error
	handle    live.SessionHandle
	pipeline  *capture.Pipeline
	scheduler *playback.Scheduler
	cancelRun context.CancelFunc

	wg        sync.WaitGroup
	levelBits atomic.Uint64
}

// New creates a Session in the Idle state.
func New(cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Session{
		cfg:     cfg,
		log:     cfg.Logger.With(slog.String("session_id", cfg.SessionID)),
		metrics: cfg.Metrics,
		ring:    newLogRing(cfg.LogCapacity),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.cfg.SessionID }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the classified error that moved the session to Error, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Level returns the most recent microphone input level in [0, 100].
func (s *Session) Level() float64 {
	return math.Float64frombits(s.levelBits.Load())
}

// Logs returns the bounded activity log, oldest entry first.
func (s *Session) Logs() []LogEntry {
	return s.ring.snapshot()
}

// Start connects to the provider and opens the duplex audio stream. Valid
// only in the Idle state. The passed context bounds the handshake; the
// running session is torn down with Stop, not by cancelling ctx.
func (s *Session) Start(ctx context.Context) error {
	if !s.apply(EventStart, nil) {
		return fmt.Errorf("session: cannot start from %s state", s.Status())
	}

	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	handle, err := s.cfg.Provider.Connect(connectCtx, s.cfg.Live)
	if err != nil {
		cerr := transportErr(err)
		s.fail(cerr)
		return cerr
	}

	runCtx, cancelRun := context.WithCancel(context.Background())

	scheduler := playback.NewScheduler(s.cfg.PlaybackDevice,
		playback.WithLogger(s.log),
		playback.WithMetrics(s.metrics),
	)
	pipeline := capture.New(s.cfg.CaptureDevice, handle,
		capture.WithFrameSize(s.cfg.FrameSize),
		capture.WithLogger(s.log),
		capture.WithMetrics(s.metrics),
		capture.WithLevelFunc(func(level float64) {
			s.levelBits.Store(math.Float64bits(level))
		}),
	)

	if err := pipeline.Start(runCtx); err != nil {
		cancelRun()
		handle.Close()
		cerr := classifyDeviceErr(err)
		s.fail(cerr)
		return cerr
	}

	s.mu.Lock()
	s.handle = handle
	s.pipeline = pipeline
	s.scheduler = scheduler
	s.cancelRun = cancelRun
	s.mu.Unlock()

	handle.OnError(func(perr error) {
		s.ring.append("error", "provider: "+perr.Error())
		s.log.Warn("provider error event", slog.String("error", perr.Error()))
	})

	// Stop may have raced the handshake and already landed in Closed, in
	// which case the Connected transition is rejected: release everything
	// instead of streaming into a session nobody owns. Stop may be running
	// the same teardown concurrently; every step here is idempotent.
	if !s.apply(EventConnected, nil) {
		s.mu.Lock()
		if s.handle == handle {
			s.handle = nil
			s.pipeline = nil
			s.scheduler = nil
			s.cancelRun = nil
		}
		s.mu.Unlock()
		cancelRun()
		if err := pipeline.Stop(); err != nil {
			s.log.Warn("capture stop failed", slog.String("error", err.Error()))
		}
		handle.Close()
		return fmt.Errorf("session: stopped while connecting")
	}

	s.wg.Go(func() { s.audioLoop(runCtx, handle, scheduler) })
	s.wg.Go(func() { s.transcriptLoop(runCtx, handle) })
	s.wg.Go(func() { s.turnLoop(handle) })

	return nil
}

// Stop tears the session down and lands in Closed. Safe to call from any
// state, any number of times.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.status == StatusClosed {
		s.mu.Unlock()
		return nil
	}
	handle := s.handle
	pipeline := s.pipeline
	scheduler := s.scheduler
	cancelRun := s.cancelRun
	s.handle = nil
	s.pipeline = nil
	s.scheduler = nil
	s.cancelRun = nil
	s.mu.Unlock()

	s.apply(EventStop, nil)

	var errs []error
	if pipeline != nil {
		if err := pipeline.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if handle != nil {
		if err := handle.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if cancelRun != nil {
		cancelRun()
	}
	s.wg.Wait()
	if scheduler != nil {
		scheduler.Reset()
	}

	return errors.Join(errs...)
}

// audioLoop schedules inbound agent audio until the stream ends, then
// resolves the terminal state.
func (s *Session) audioLoop(ctx context.Context, handle live.SessionHandle, scheduler *playback.Scheduler) {
	for chunk := range handle.Audio() {
		if _, err := scheduler.Schedule(ctx, chunk); err != nil {
			s.ring.append("error", err.Error())
			if errors.Is(err, playback.ErrDeviceWrite) {
				// A dead output device is fatal; a malformed chunk is not.
				s.fail(deviceErr(err))
				handle.Close()
				break
			}
			s.log.Warn("chunk scheduling failed", slog.String("error", err.Error()))
		}
	}

	// The audio channel closed: either Stop was called, the provider ended
	// cleanly, or the transport dropped.
	if err := handle.Err(); err != nil {
		s.fail(transportErr(err))
	} else {
		s.apply(EventRemoteClosed, nil)
	}

	// The stream is gone either way; stop feeding the dead handle.
	s.mu.Lock()
	pipeline := s.pipeline
	s.mu.Unlock()
	if pipeline != nil {
		if err := pipeline.Stop(); err != nil {
			s.log.Warn("capture stop failed", slog.String("error", err.Error()))
		}
	}
}

// transcriptLoop forwards captions to the store and the activity log.
func (s *Session) transcriptLoop(ctx context.Context, handle live.SessionHandle) {
	for entry := range handle.Transcripts() {
		s.ring.append("info", entry.Speaker+": "+entry.Text)
		if s.cfg.Transcripts == nil {
			continue
		}
		if err := s.cfg.Transcripts.Append(ctx, s.cfg.SessionID, entry); err != nil {
			s.log.Warn("transcript append failed", slog.String("error", err.Error()))
			continue
		}
		s.metrics.RecordTranscriptEntry(ctx, entry.Speaker)
	}
}

// turnLoop records turn markers in the activity log.
func (s *Session) turnLoop(handle live.SessionHandle) {
	for ev := range handle.Turns() {
		if ev.Interrupted {
			s.ring.append("info", "agent turn interrupted")
		} else {
			s.ring.append("info", "agent turn complete")
		}
	}
}

// fail moves the session to Error with the given classified cause.
func (s *Session) fail(cause error) {
	if s.apply(EventFailed, cause) {
		s.metrics.RecordSessionError(context.Background(), errorKind(cause))
		s.ring.append("error", cause.Error())
	}
}

// apply runs one event through the transition table and performs the
// bookkeeping tied to state changes.
func (s *Session) apply(e Event, cause error) bool {
	s.mu.Lock()
	from := s.status
	next, ok := transition(from, e)
	if !ok || next == from {
		s.mu.Unlock()
		return ok && next == from
	}
	s.status = next
	if next == StatusError && s.errVal == nil {
		s.errVal = cause
	}
	s.mu.Unlock()

	ctx := context.Background()
	s.metrics.RecordTransition(ctx, from.String(), next.String())
	if next == StatusOpen {
		s.metrics.ActiveSessions.Add(ctx, 1)
	}
	if from == StatusOpen {
		s.metrics.ActiveSessions.Add(ctx, -1)
	}

	s.ring.append("info", "state: "+from.String()+" -> "+next.String())
	s.log.Info("session state changed",
		slog.String("from", from.String()),
		slog.String("to", next.String()),
		slog.String("event", e.String()),
	)
	return true
}

// classifyDeviceErr maps a capture start failure to a session error kind.
// Host-level permission refusals surface as ErrPermission, everything else
// as ErrDevice.
func classifyDeviceErr(err error) error {
	if errors.Is(err, os.ErrPermission) {
		return permissionErr(err)
	}
	return deviceErr(err)
}
