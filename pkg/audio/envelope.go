package audio

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// The transport wraps wire bytes in a base64 envelope tagged with an explicit
// MIME type carrying the sample rate (e.g. "audio/pcm;rate=16000") so the
// receiver never has to guess. Outbound audio is fixed at 16 kHz and inbound
// is nominally 24 kHz by convention with the remote agent, but the decode
// path always reads the tag.

const pcmMIMEPrefix = "audio/pcm"

// MIMEType returns the PCM MIME tag for the given sample rate.
func MIMEType(rate int) string {
	return fmt.Sprintf("%s;rate=%d", pcmMIMEPrefix, rate)
}

// RateFromMIME extracts the sample rate from a PCM MIME tag. Parameters other
// than rate are ignored. Returns an error for non-PCM types or a missing or
// unparseable rate parameter.
func RateFromMIME(mime string) (int, error) {
	base, params, _ := strings.Cut(mime, ";")
	if strings.TrimSpace(base) != pcmMIMEPrefix {
		return 0, fmt.Errorf("audio: unsupported MIME type %q", mime)
	}
	for _, p := range strings.Split(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || k != "rate" {
			continue
		}
		rate, err := strconv.Atoi(v)
		if err != nil || rate <= 0 {
			return 0, fmt.Errorf("audio: bad rate in MIME type %q", mime)
		}
		return rate, nil
	}
	return 0, fmt.Errorf("audio: no rate parameter in MIME type %q", mime)
}

// EncodeEnvelope base64-encodes wire bytes for the textual transport frame.
func EncodeEnvelope(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeEnvelope reverses [EncodeEnvelope].
func DecodeEnvelope(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("audio: decode envelope: %w", err)
	}
	return data, nil
}
