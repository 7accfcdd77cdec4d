package audio

import "math"

// RMSLevel returns the root-mean-square loudness of a native frame:
// sqrt(mean(sample²)). Empty input returns 0. Pure, stateless, and cheap
// enough to run inside the capture callback on every frame.
func RMSLevel(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// DisplayLevel scales an RMS reading for UI meters (×100).
func DisplayLevel(samples []float32) float64 {
	return RMSLevel(samples) * 100
}
