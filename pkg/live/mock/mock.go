// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and feed controlled live sessions.
// Use Session to drive the bidirectional audio/transcript streams and inspect
// which methods were invoked by the session runner.
//
// Example:
//
//	sess := &mock.Session{
//	    AudioCh:       make(chan audio.Chunk, 8),
//	    TranscriptsCh: make(chan live.TranscriptEntry, 4),
//	}
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/sammywilko/channel-changers-live/pkg/audio"
	"github.com/sammywilko/channel-changers-live/pkg/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect
	// returns a new default Session with buffered channels.
	Session live.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectDelay, if non-zero, makes Connect block for that long or until
	// the context is cancelled, whichever comes first. Used to exercise
	// connect timeouts.
	ConnectDelay func(ctx context.Context) error

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities live.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// CapabilitiesCallCount is the number of times Capabilities was called.
	CapabilitiesCallCount int
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	delay := p.ConnectDelay
	connectErr := p.ConnectErr
	sess := p.Session
	p.mu.Unlock()

	if delay != nil {
		if err := delay(ctx); err != nil {
			return nil, err
		}
	}
	if connectErr != nil {
		return nil, connectErr
	}
	if sess != nil {
		return sess, nil
	}
	return NewSession(), nil
}

// Capabilities records the call and returns ProviderCapabilities.
func (p *Provider) Capabilities() live.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.ProviderCapabilities
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = nil
	p.CapabilitiesCallCount = 0
}

// Ensure Provider implements live.Provider at compile time.
var _ live.Provider = (*Provider)(nil)

// SendAudioCall records a single invocation of Session.SendAudio.
type SendAudioCall struct {
	// Chunk is a copy of the audio bytes that were passed to SendAudio.
	Chunk []byte
}

// Session is a mock implementation of live.SessionHandle.
// Callers should pre-populate the channels, then call CloseOutputs (or Close)
// to signal end-of-session.
type Session struct {
	mu sync.Mutex

	// AudioCh is the channel returned by Audio(). Callers own this channel.
	AudioCh chan audio.Chunk

	// TurnsCh is the channel returned by Turns(). Callers own this channel.
	TurnsCh chan live.TurnEvent

	// TranscriptsCh is the channel returned by Transcripts(). Callers own
	// this channel.
	TranscriptsCh chan live.TranscriptEntry

	// errorHandler is the currently registered error callback.
	errorHandler func(error)

	// --- Configurable errors ---

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by the first Close call.
	CloseErr error

	// ErrVal is returned by Err.
	ErrVal error

	// --- Call records ---

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	// OnErrorSetCount is the number of times OnError was called.
	OnErrorSetCount int

	closeOnce sync.Once
}

// NewSession returns a Session with buffered channels sized like the real
// providers.
func NewSession() *Session {
	return &Session{
		AudioCh:       make(chan audio.Chunk, 64),
		TurnsCh:       make(chan live.TurnEvent, 16),
		TranscriptsCh: make(chan live.TranscriptEntry, 16),
	}
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

// SendAudioCount returns the number of recorded SendAudio calls. Thread-safe.
func (s *Session) SendAudioCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// Audio returns AudioCh.
func (s *Session) Audio() <-chan audio.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.AudioCh
}

// Turns returns TurnsCh.
func (s *Session) Turns() <-chan live.TurnEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.TurnsCh
}

// Transcripts returns TranscriptsCh.
func (s *Session) Transcripts() <-chan live.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.TranscriptsCh
}

// OnError stores the handler and increments OnErrorSetCount.
func (s *Session) OnError(handler func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorHandler = handler
	s.OnErrorSetCount++
}

// EmitError invokes the registered error handler, if any. Thread-safe.
// Useful in tests to simulate in-protocol provider errors.
func (s *Session) EmitError(err error) {
	s.mu.Lock()
	handler := s.errorHandler
	s.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}

// Err returns ErrVal.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrVal
}

// CloseOutputs closes the output channels exactly once, simulating the
// provider's receive loop exiting.
func (s *Session) CloseOutputs() {
	s.closeOnce.Do(func() {
		close(s.AudioCh)
		close(s.TurnsCh)
		close(s.TranscriptsCh)
	})
}

// Close records the call, closes the output channels, and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	n := s.CloseCallCount
	err := s.CloseErr
	s.mu.Unlock()

	s.CloseOutputs()
	if n > 1 {
		return nil
	}
	return err
}

// ResetCalls clears all recorded calls. Thread-safe.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendAudioCalls = nil
	s.CloseCallCount = 0
	s.OnErrorSetCount = 0
}

// Ensure Session implements live.SessionHandle at compile time.
var _ live.SessionHandle = (*Session)(nil)
