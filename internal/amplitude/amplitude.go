// Package amplitude turns blocks of signed 16-bit samples into
// (elapsed, amplitude) observations.
package amplitude

// WindowSize is the number of samples averaged into one observation.
const WindowSize = 256

// Observation is a single point of the amplitude time series.
type Observation struct {
	// Elapsed is the position of the window's first sample, in seconds
	// since the start of the recording. It is derived from sample counts,
	// never from wall-clock time.
	Elapsed float64 `json:"elapsed" msgpack:"elapsed"`

	// Amplitude is the mean absolute sample value of the window.
	Amplitude float64 `json:"amplitude" msgpack:"amplitude"`
}

// MeanAbsolute returns (sum |s|) / len(window).
// An empty window yields 0; callers are expected not to pass one.
func MeanAbsolute(window []int16) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum int64
	for _, s := range window {
		v := int64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}
	return float64(sum) / float64(len(window))
}
