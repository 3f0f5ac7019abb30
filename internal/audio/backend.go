package audio

import (
	"fmt"

	"github.com/petems/ampviz/internal/config"
	"github.com/rs/zerolog"
)

// minChunkFrames is the floor applied to every backend's chunk size so a
// chunk always holds at least one amplitude window.
const minChunkFrames = 256

// New creates the backend selected by cfg.Backend
func New(cfg config.Config, log zerolog.Logger) (Backend, error) {
	log = log.With().Str("backend", cfg.Audio.Backend).Logger()

	switch cfg.Audio.Backend {
	case config.BackendPortAudio:
		return newPortAudio(cfg.Audio, log)
	case config.BackendMalgo:
		return newMalgo(cfg.Audio, log)
	case config.BackendSynthetic:
		return NewSynthetic(SyntheticOptions{
			Frequency:   cfg.Synthetic.Frequency,
			Amplitude:   cfg.Synthetic.Amplitude,
			Realtime:    cfg.Synthetic.Realtime,
			ChunkFrames: cfg.Audio.ChunkFrames,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Audio.Backend)
	}
}

func chunkFrames(configured, fallback int) int {
	n := configured
	if n <= 0 {
		n = fallback
	}
	if n < minChunkFrames {
		n = minChunkFrames
	}
	return n
}
