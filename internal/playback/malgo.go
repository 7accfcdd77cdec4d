package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/sammywilko/channel-changers-live/pkg/audio"
)

// DefaultOutputRate is the speaker rate. Matches the nominal rate of the live
// providers' synthesised audio so most chunks play without resampling.
const DefaultOutputRate = 24000

// MalgoDevice is a speaker backed by the miniaudio bindings.
//
// The device clock is derived from the number of samples the hardware
// callback has consumed, so Now advances in lockstep with actual playback.
// Scheduled samples live on an absolute sample timeline; the callback reads
// from it and zero-fills silence where nothing is scheduled.
type MalgoDevice struct {
	rate int

	mu       sync.Mutex
	timeline []float32 // samples from base onwards
	base     int64     // absolute sample index of timeline[0]
	played   int64     // absolute samples consumed by the hardware
	dev      *malgo.Device
	closed   bool
}

var _ Device = (*MalgoDevice)(nil)

// NewMalgoDevice opens the system default playback device at the given rate.
// rate <= 0 falls back to DefaultOutputRate.
func NewMalgoDevice(ctx *malgo.AllocatedContext, rate int) (*MalgoDevice, error) {
	if rate <= 0 {
		rate = DefaultOutputRate
	}
	m := &MalgoDevice{rate: rate}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(rate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			m.fill(out, int(frameCount))
		},
	}

	dev, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("playback: init device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("playback: start device: %w", err)
	}
	m.dev = dev
	return m, nil
}

// Now returns elapsed stream time derived from consumed samples.
func (m *MalgoDevice) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Duration(m.played) * time.Second / time.Duration(m.rate)
}

// Play writes samples onto the timeline at the requested start. Chunks at a
// different rate are resampled to the device rate first. The portion of a
// chunk that falls before the playhead is skipped.
func (m *MalgoDevice) Play(start time.Duration, samples []float32, sampleRate int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("playback: device closed")
	}

	if sampleRate != m.rate {
		samples = audio.Resample(samples, sampleRate, m.rate)
	}
	if len(samples) == 0 {
		return nil
	}

	idx := int64(start) * int64(m.rate) / int64(time.Second)
	if idx < m.played {
		skip := m.played - idx
		if skip >= int64(len(samples)) {
			return nil
		}
		samples = samples[skip:]
		idx = m.played
	}

	off := int(idx - m.base)
	end := off + len(samples)
	if end > len(m.timeline) {
		grown := make([]float32, end)
		copy(grown, m.timeline)
		m.timeline = grown
	}
	for i, s := range samples {
		v := m.timeline[off+i] + s
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		m.timeline[off+i] = v
	}
	return nil
}

// fill is the hardware data callback: it copies the next frameCount samples
// off the timeline as PCM16 and advances the playhead.
func (m *MalgoDevice) fill(out []byte, frameCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	off := int(m.played - m.base)
	window := make([]float32, frameCount)
	for i := range frameCount {
		if off+i < len(m.timeline) {
			window[i] = m.timeline[off+i]
		}
	}
	copy(out, audio.EncodePCM16(window))

	m.played += int64(frameCount)

	// Trim the consumed prefix so the timeline does not grow unbounded.
	consumed := int(m.played - m.base)
	if consumed >= len(m.timeline) {
		m.timeline = m.timeline[:0]
		m.base = m.played
	} else if consumed > m.rate {
		m.timeline = append(m.timeline[:0], m.timeline[consumed:]...)
		m.base = m.played
	}
}

// Close stops and releases the device. Idempotent.
//
// Uninit joins the device thread, and that thread's data callback takes
// m.mu; the lock must be dropped before Uninit or the two deadlock.
func (m *MalgoDevice) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	dev := m.dev
	m.dev = nil
	m.mu.Unlock()

	if dev != nil {
		dev.Uninit()
	}
	return nil
}
