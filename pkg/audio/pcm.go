package audio

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrMalformedAudio is returned by [DecodePCM16] when the byte buffer cannot
// be a packed int16 stream (odd length). Callers drop the chunk and continue;
// a malformed chunk is never fatal to the session.
var ErrMalformedAudio = errors.New("audio: malformed PCM16 data")

// EncodePCM16 converts native float32 samples to packed little-endian int16
// PCM. Each sample is clamped to [-1, 1] and scaled by 32767; NaN encodes as
// 0. The function is pure and never fails — out-of-range input is clamped,
// not rejected, because the capture callback cannot afford an error path.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(pcm16(s)))
	}
	return out
}

// DecodePCM16 converts packed little-endian int16 PCM bytes to native float32
// samples (int16 / 32768.0). A byte length that is not a multiple of 2
// returns [ErrMalformedAudio].
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, ErrMalformedAudio
	}
	out := make([]float32, len(data)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768.0
	}
	return out, nil
}

// pcm16 maps one native sample to its wire int16 value.
func pcm16(s float32) int16 {
	if math.IsNaN(float64(s)) {
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(math.Round(float64(s) * 32767))
}
