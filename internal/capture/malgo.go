package capture

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/sammywilko/channel-changers-live/pkg/audio"
)

// MalgoDevice is a microphone backed by the miniaudio bindings. It captures
// mono PCM16 at the configured rate and pushes decoded float32 batches.
type MalgoDevice struct {
	ctx        *malgo.AllocatedContext
	info       *DeviceInfo
	sampleRate int

	mu  sync.Mutex
	dev *malgo.Device
}

var _ Device = (*MalgoDevice)(nil)

// ListDevices enumerates the host's capture devices.
func ListDevices(ctx *malgo.AllocatedContext) ([]DeviceInfo, error) {
	devices, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("capture: list devices: %w", err)
	}
	var result []DeviceInfo
	for _, d := range devices {
		result = append(result, DeviceInfo{
			ID:   encodeDeviceID(d.ID),
			Name: d.Name(),
		})
	}
	return result, nil
}

// encodeDeviceID renders a hardware device ID as the hex string used in
// config files and the device listing.
func encodeDeviceID(id malgo.DeviceID) string {
	return hex.EncodeToString(id[:])
}

// decodeDeviceID parses a hex device ID back into the backend's fixed-size
// form. Inputs shorter than the full ID are zero-padded.
func decodeDeviceID(s string) (malgo.DeviceID, error) {
	var id malgo.DeviceID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("capture: invalid device ID %q: %w", s, err)
	}
	if len(raw) > len(id) {
		return id, fmt.Errorf("capture: device ID %q longer than %d bytes", s, len(id))
	}
	copy(id[:], raw)
	return id, nil
}

// NewMalgoDevice creates a capture device on the given context. A nil info
// selects the system default microphone. sampleRate <= 0 falls back to
// DefaultSampleRate.
func NewMalgoDevice(ctx *malgo.AllocatedContext, info *DeviceInfo, sampleRate int) *MalgoDevice {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &MalgoDevice{ctx: ctx, info: info, sampleRate: sampleRate}
}

// SampleRate returns the capture rate in Hz.
func (m *MalgoDevice) SampleRate() int { return m.sampleRate }

// Start opens the hardware device and begins pushing decoded samples to cb.
func (m *MalgoDevice) Start(cb FrameCallback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dev != nil {
		return fmt.Errorf("capture: device already started")
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(m.sampleRate)

	if m.info != nil {
		devID, err := decodeDeviceID(m.info.ID)
		if err != nil {
			return err
		}
		cfg.Capture.DeviceID = devID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, frameCount uint32) {
			samples, err := audio.DecodePCM16(data)
			if err != nil {
				return
			}
			cb(samples)
		},
	}

	dev, err := malgo.InitDevice(m.ctx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("capture: init device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("capture: start device: %w", err)
	}
	m.dev = dev
	return nil
}

// Stop halts capture and releases the hardware device. Idempotent.
func (m *MalgoDevice) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dev == nil {
		return nil
	}
	err := m.dev.Stop()
	m.dev.Uninit()
	m.dev = nil
	if err != nil {
		return fmt.Errorf("capture: stop device: %w", err)
	}
	return nil
}
