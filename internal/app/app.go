// Package app wires the co-host subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates the provider, transcript
// store, audio device factories, and the HTTP control server; Run serves until
// the context is cancelled; Shutdown tears everything down in reverse order.
//
// For testing, inject doubles via functional options (WithProvider,
// WithTranscriptStore, WithCaptureFactory, WithPlaybackFactory). When an
// option is not provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"golang.org/x/sync/errgroup"

	"github.com/sammywilko/channel-changers-live/internal/capture"
	"github.com/sammywilko/channel-changers-live/internal/config"
	"github.com/sammywilko/channel-changers-live/internal/health"
	"github.com/sammywilko/channel-changers-live/internal/observe"
	"github.com/sammywilko/channel-changers-live/internal/playback"
	"github.com/sammywilko/channel-changers-live/internal/transcript"
	"github.com/sammywilko/channel-changers-live/pkg/live"
)

// DefaultListenAddr is used when server.listen_addr is not configured.
const DefaultListenAddr = ":8080"

// App owns all subsystem lifetimes for the co-host server.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *observe.Metrics

	provider    live.Provider
	transcripts transcript.Store
	newCapture  func() (capture.Device, error)
	newPlayback func() (playback.Device, error)

	manager *Manager
	httpSrv *http.Server

	// closers are called in reverse order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithProvider injects a provider instead of creating one from config.
func WithProvider(p live.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithTranscriptStore injects a transcript store instead of creating one
// from config.
func WithTranscriptStore(s transcript.Store) Option {
	return func(a *App) { a.transcripts = s }
}

// WithCaptureFactory injects a capture device factory instead of opening
// real microphones.
func WithCaptureFactory(f func() (capture.Device, error)) Option {
	return func(a *App) { a.newCapture = f }
}

// WithPlaybackFactory injects a playback device factory instead of opening
// real speakers.
func WithPlaybackFactory(f func() (playback.Device, error)) Option {
	return func(a *App) { a.newPlayback = f }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// WithMetrics overrides the default metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initProvider(); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init provider: %w", err)
	}
	if err := a.initTranscripts(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init transcripts: %w", err)
	}
	if err := a.initAudio(); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	a.manager = NewManager(ManagerConfig{
		Provider:          a.provider,
		NewCaptureDevice:  a.newCapture,
		NewPlaybackDevice: a.newPlayback,
		Live: live.SessionConfig{
			Voice:           cfg.Provider.Voice,
			Instructions:    cfg.Provider.Instructions,
			InputSampleRate: cfg.Capture.SampleRate,
		},
		Transcripts:    a.transcripts,
		ConnectTimeout: cfg.Session.ConnectTimeout.Std(),
		FrameSize:      cfg.Capture.FrameSize,
		LogCapacity:    cfg.Session.LogCapacity,
		Logger:         a.log,
		Metrics:        a.metrics,
	})

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = DefaultListenAddr
	}
	srv := NewServer(a.manager, a.transcripts, health.New(readyChecks(a.provider, a.transcripts)...), a.metrics, a.log)
	a.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// Manager exposes the session manager, mainly for tests and the CLI.
func (a *App) Manager() *Manager { return a.manager }

// initProvider builds the realtime provider from the registry unless one was
// injected.
func (a *App) initProvider() error {
	if a.provider != nil {
		return nil
	}
	p, err := config.DefaultRegistry().Create(a.cfg.Provider)
	if err != nil {
		return err
	}
	a.provider = p
	return nil
}

// initTranscripts builds the transcript store from config unless one was
// injected.
func (a *App) initTranscripts(ctx context.Context) error {
	if a.transcripts != nil {
		return nil
	}
	switch a.cfg.Transcripts.Backend {
	case config.TranscriptPostgres:
		store, err := transcript.NewPostgresStore(ctx, a.cfg.Transcripts.PostgresDSN)
		if err != nil {
			return err
		}
		a.transcripts = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	default:
		a.transcripts = transcript.NewMemoryStore()
	}
	return nil
}

// initAudio opens a miniaudio context and builds device factories, unless
// both factories were injected.
func (a *App) initAudio() error {
	if a.newCapture != nil && a.newPlayback != nil {
		return nil
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	a.closers = append(a.closers, func() error {
		if err := mctx.Uninit(); err != nil {
			return err
		}
		mctx.Free()
		return nil
	})

	if a.newCapture == nil {
		var info *capture.DeviceInfo
		if id := a.cfg.Capture.DeviceID; id != "" {
			info = &capture.DeviceInfo{ID: id}
		}
		rate := a.cfg.Capture.SampleRate
		a.newCapture = func() (capture.Device, error) {
			return capture.NewMalgoDevice(mctx, info, rate), nil
		}
	}
	if a.newPlayback == nil {
		rate := a.cfg.Playback.SampleRate
		a.newPlayback = func() (playback.Device, error) {
			return playback.NewMalgoDevice(mctx, rate)
		}
	}
	return nil
}

// Run serves the control API until ctx is cancelled, then stops any active
// session and drains the HTTP server.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("control server listening", slog.String("addr", a.httpSrv.Addr))
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		if err := a.manager.Stop(); err != nil {
			a.log.Warn("session stop error during shutdown", slog.String("error", err.Error()))
		}
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.httpSrv.Shutdown(drainCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", slog.Int("closers", len(a.closers)))

		if err := a.manager.Stop(); err != nil {
			a.log.Warn("session stop error", slog.String("error", err.Error()))
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", slog.Int("remaining", i+1))
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", slog.Int("index", i), slog.String("error", err.Error()))
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// close releases already-initialised resources when New fails partway.
func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}
