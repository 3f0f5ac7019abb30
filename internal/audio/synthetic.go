package audio

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

const defaultSyntheticChunk = 1024

// SyntheticOptions configures a Synthetic backend.
type SyntheticOptions struct {
	// Frequency of the generated sine wave in Hz; 0 generates silence.
	Frequency float64

	// Amplitude of the sine wave as a fraction of full scale.
	Amplitude float64

	// Realtime paces reads at the sample rate instead of returning
	// immediately.
	Realtime bool

	// ChunkFrames is the number of samples delivered per read cycle.
	ChunkFrames int

	// Limit stops the handle after this many samples; 0 never stops.
	Limit int
}

// Synthetic is a software backend generating a deterministic signal.
// It needs no hardware, which makes it the backend for demos and CI.
type Synthetic struct {
	opts SyntheticOptions

	active atomic.Int64
}

// NewSynthetic creates a synthetic backend
func NewSynthetic(opts SyntheticOptions) *Synthetic {
	opts.ChunkFrames = chunkFrames(opts.ChunkFrames, defaultSyntheticChunk)
	return &Synthetic{opts: opts}
}

func (s *Synthetic) Name() string { return "synthetic" }

func (s *Synthetic) MinimumChunkSize(Format) int { return s.opts.ChunkFrames }

func (s *Synthetic) Open(f Format) (Handle, error) {
	if err := validateFormat(f); err != nil {
		return nil, err
	}
	s.active.Add(1)
	h := &syntheticHandle{
		backend:    s,
		sampleRate: f.SampleRate,
	}
	h.state.Store(int32(StateRecording))
	return h, nil
}

// Active returns the number of handles opened and not yet released.
func (s *Synthetic) Active() int { return int(s.active.Load()) }

type syntheticHandle struct {
	backend    *Synthetic
	sampleRate int

	state    atomic.Int32
	released atomic.Bool

	mu       sync.Mutex
	produced int
}

func (h *syntheticHandle) Read(p []int16) (int, error) {
	if h.released.Load() {
		return 0, errors.New("synthetic: read on released handle")
	}
	if h.State() == StateStopped {
		return 0, nil
	}

	h.mu.Lock()
	opts := h.backend.opts
	n := len(p)
	if n > opts.ChunkFrames {
		n = opts.ChunkFrames
	}
	if opts.Limit > 0 && h.produced+n > opts.Limit {
		n = opts.Limit - h.produced
	}
	for i := 0; i < n; i++ {
		p[i] = h.sample(h.produced + i)
	}
	h.produced += n
	done := opts.Limit > 0 && h.produced >= opts.Limit
	h.mu.Unlock()

	if opts.Realtime && n > 0 {
		time.Sleep(time.Duration(n) * time.Second / time.Duration(h.sampleRate))
	}
	if done {
		h.state.Store(int32(StateStopped))
	}
	return n, nil
}

func (h *syntheticHandle) sample(i int) int16 {
	opts := h.backend.opts
	if opts.Frequency <= 0 || opts.Amplitude <= 0 {
		return 0
	}
	v := opts.Amplitude * math.Sin(2*math.Pi*opts.Frequency*float64(i)/float64(h.sampleRate))
	return int16(v * math.MaxInt16)
}

func (h *syntheticHandle) State() State { return State(h.state.Load()) }

func (h *syntheticHandle) Stop() error {
	h.state.Store(int32(StateStopped))
	return nil
}

func (h *syntheticHandle) Release() error {
	if h.released.Swap(true) {
		return nil
	}
	h.state.Store(int32(StateStopped))
	h.backend.active.Add(-1)
	return nil
}

// Devices lists the single generated input.
func (s *Synthetic) Devices() ([]Device, error) {
	return []Device{{ID: "synthetic", Name: "Synthetic tone", Default: true}}, nil
}
