package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sammywilko/channel-changers-live/internal/health"
	"github.com/sammywilko/channel-changers-live/internal/observe"
	"github.com/sammywilko/channel-changers-live/internal/session"
	"github.com/sammywilko/channel-changers-live/internal/transcript"
	"github.com/sammywilko/channel-changers-live/pkg/live"
)

// defaultTranscriptLimit bounds transcript responses when the client does not
// ask for a specific window.
const defaultTranscriptLimit = 50

// Server exposes the session control API:
//
//	POST /v1/session/start    — start a session (409 when one is active)
//	POST /v1/session/stop     — stop the current session
//	GET  /v1/session          — status, input level, and activity log
//	GET  /v1/session/transcript — recent captions (?limit=N)
//
// plus /healthz, /readyz, and /metrics.
type Server struct {
	manager     *Manager
	transcripts transcript.Store
	health      *health.Handler
	metrics     *observe.Metrics
	log         *slog.Logger
}

// NewServer creates a Server around the given manager. transcripts may be nil
// when captions are not persisted.
func NewServer(manager *Manager, transcripts transcript.Store, h *health.Handler, m *observe.Metrics, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Server{
		manager:     manager,
		transcripts: transcripts,
		health:      h,
		metrics:     m,
		log:         log,
	}
}

// Routes builds the full handler tree with observability middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/session/start", s.handleStart)
	mux.HandleFunc("POST /v1/session/stop", s.handleStop)
	mux.HandleFunc("GET /v1/session", s.handleStatus)
	mux.HandleFunc("GET /v1/session/transcript", s.handleTranscript)
	if s.health != nil {
		s.health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(s.metrics)(mux)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Start(r.Context()); err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, ErrSessionActive):
			status = http.StatusConflict
		case errors.Is(err, session.ErrDevice), errors.Is(err, session.ErrPermission):
			status = http.StatusInternalServerError
		}
		s.writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": s.manager.SessionID(),
		"status":     s.manager.Snapshot().Status,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Stop(); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": s.manager.Snapshot().Status,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Snapshot())
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if s.transcripts == nil {
		s.writeError(w, http.StatusNotFound, errors.New("transcripts are not enabled"))
		return
	}
	sessionID := s.manager.SessionID()
	if sessionID == "" {
		writeJSON(w, http.StatusOK, map[string]any{"entries": []any{}})
		return
	}

	limit := defaultTranscriptLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	entries, err := s.transcripts.Recent(r.Context(), sessionID, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"entries":    entries,
	})
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		s.log.Warn("request failed", slog.Int("status", status), slog.String("error", err.Error()))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

// readyChecks builds the readiness probes for the server's dependencies.
func readyChecks(provider live.Provider, store transcript.Store) []health.Check {
	checks := []health.Check{{
		Name: "provider",
		Probe: func(context.Context) error {
			if provider == nil {
				return errors.New("no provider configured")
			}
			return nil
		},
	}}
	if pg, ok := store.(*transcript.PostgresStore); ok {
		checks = append(checks, health.Check{
			Name:  "transcripts",
			Probe: func(ctx context.Context) error { return pg.Ping(ctx) },
		})
	}
	return checks
}
