package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sammywilko/channel-changers-live/internal/capture"
	"github.com/sammywilko/channel-changers-live/internal/observe"
	"github.com/sammywilko/channel-changers-live/internal/playback"
	"github.com/sammywilko/channel-changers-live/internal/session"
	"github.com/sammywilko/channel-changers-live/internal/transcript"
	"github.com/sammywilko/channel-changers-live/pkg/live"
)

// ErrSessionActive is returned by Manager.Start while a session is running.
var ErrSessionActive = errors.New("app: a session is already active")

// SessionInfo holds metadata about the current (or most recent) session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string `json:"session_id"`

	// StartedAt is when the session was started.
	StartedAt time.Time `json:"started_at"`
}

// Snapshot is the state reported by the status endpoint.
type Snapshot struct {
	Active    bool               `json:"active"`
	SessionID string             `json:"session_id,omitempty"`
	Status    string             `json:"status"`
	StartedAt *time.Time         `json:"started_at,omitempty"`
	Level     float64            `json:"level"`
	Error     string             `json:"error,omitempty"`
	Logs      []session.LogEntry `json:"logs,omitempty"`
}

// ManagerConfig holds all dependencies for a [Manager].
type ManagerConfig struct {
	// Provider is the realtime backend sessions connect to.
	Provider live.Provider

	// NewCaptureDevice opens a fresh microphone for each session.
	NewCaptureDevice func() (capture.Device, error)

	// NewPlaybackDevice opens a fresh speaker for each session.
	NewPlaybackDevice func() (playback.Device, error)

	// Live is the provider-level session configuration.
	Live live.SessionConfig

	// Transcripts, when non-nil, persists captions for every session.
	Transcripts transcript.Store

	// ConnectTimeout bounds the provider handshake per session.
	ConnectTimeout time.Duration

	// FrameSize is the capture frame size in samples.
	FrameSize int

	// LogCapacity bounds the per-session activity log.
	LogCapacity int

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// Manager owns the lifecycle of live co-host sessions. At most one session
// runs at a time; a new one can be started once the previous session is
// stopped. All exported methods are safe for concurrent use.
type Manager struct {
	cfg ManagerConfig
	log *slog.Logger

	mu      sync.Mutex
	seq     int
	current *session.Session
	info    SessionInfo
	closers []func() error
}

// NewManager creates a Manager with the given dependencies.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{cfg: cfg, log: cfg.Logger}
}

// Start begins a new session: opens the audio devices, connects to the
// provider, and starts the duplex stream. Returns an error if a session is
// already running.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.running() {
		return fmt.Errorf("%w (id=%s)", ErrSessionActive, m.info.SessionID)
	}

	// A session that ended on its own (transport drop, remote close) never
	// went through Stop, so its handle and devices are still open. Release
	// them before opening fresh ones.
	if prev := m.current; prev != nil {
		if err := prev.Stop(); err != nil {
			m.log.Warn("previous session stop failed", slog.String("error", err.Error()))
		}
		runClosers(m.closers, m.log)
		m.closers = nil
	}

	now := time.Now().UTC()
	m.seq++
	sessionID := fmt.Sprintf("session-%s-%d", now.Format("20060102T150405Z"), m.seq)

	mic, err := m.cfg.NewCaptureDevice()
	if err != nil {
		return fmt.Errorf("app: open capture device: %w", err)
	}
	var closers []func() error
	closers = append(closers, mic.Stop)

	spk, err := m.cfg.NewPlaybackDevice()
	if err != nil {
		runClosers(closers, m.log)
		return fmt.Errorf("app: open playback device: %w", err)
	}
	closers = append(closers, spk.Close)

	s, err := session.New(session.Config{
		Provider:       m.cfg.Provider,
		CaptureDevice:  mic,
		PlaybackDevice: spk,
		Live:           m.cfg.Live,
		SessionID:      sessionID,
		ConnectTimeout: m.cfg.ConnectTimeout,
		FrameSize:      m.cfg.FrameSize,
		Transcripts:    m.cfg.Transcripts,
		LogCapacity:    m.cfg.LogCapacity,
		Logger:         m.log,
		Metrics:        m.cfg.Metrics,
	})
	if err != nil {
		runClosers(closers, m.log)
		return fmt.Errorf("app: create session: %w", err)
	}

	// The session is kept even when Start fails so the status endpoint can
	// report the error state until the next session replaces it.
	m.current = s
	m.info = SessionInfo{SessionID: sessionID, StartedAt: now}
	m.closers = closers

	if err := s.Start(ctx); err != nil {
		runClosers(closers, m.log)
		m.closers = nil
		return err
	}

	m.log.Info("session started", slog.String("session_id", sessionID))
	return nil
}

// Stop ends the current session if one exists. Stopping when no session is
// running is a no-op.
func (m *Manager) Stop() error {
	m.mu.Lock()
	current := m.current
	closers := m.closers
	m.closers = nil
	m.mu.Unlock()

	if current == nil {
		return nil
	}
	err := current.Stop()
	runClosers(closers, m.log)
	if err != nil {
		return err
	}
	m.log.Info("session stopped", slog.String("session_id", current.ID()))
	return nil
}

// Snapshot reports the state of the current (or most recent) session.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	current := m.current
	info := m.info
	m.mu.Unlock()

	if current == nil {
		return Snapshot{Status: session.StatusIdle.String()}
	}

	snap := Snapshot{
		Active:    m.isRunning(current),
		SessionID: info.SessionID,
		Status:    current.Status().String(),
		StartedAt: &info.StartedAt,
		Level:     current.Level(),
		Logs:      current.Logs(),
	}
	if err := current.Err(); err != nil {
		snap.Error = err.Error()
	}
	return snap
}

// SessionID returns the identifier of the current or most recent session,
// or "" when no session has been started yet.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info.SessionID
}

// running reports whether the current session is still making progress.
// Callers must hold m.mu.
func (m *Manager) running() bool {
	return m.isRunning(m.current)
}

func (m *Manager) isRunning(s *session.Session) bool {
	if s == nil {
		return false
	}
	switch s.Status() {
	case session.StatusConnecting, session.StatusOpen:
		return true
	}
	return false
}

func runClosers(closers []func() error, log *slog.Logger) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			log.Warn("device close error", slog.Int("index", i), slog.String("error", err.Error()))
		}
	}
}
