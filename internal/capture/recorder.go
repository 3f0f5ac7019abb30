// Package capture records microphone audio and streams amplitude
// observations to an Observer while the recording is in progress.
package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/petems/ampviz/internal/amplitude"
	"github.com/petems/ampviz/internal/audio"
	"github.com/petems/ampviz/internal/config"
	"github.com/petems/ampviz/internal/dispatch"
	"github.com/rs/zerolog"
)

const (
	// SampleRate is the capture rate in Hz (CD quality).
	SampleRate = 44100

	// Channels is fixed to mono.
	Channels = 1
)

// State of a Recorder
type State int32

const (
	StateIdle State = iota
	StateOpening
	StateRecording
	StateFinishing
	StateInterrupted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateRecording:
		return "recording"
	case StateFinishing:
		return "finishing"
	case StateInterrupted:
		return "interrupted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Trailing selects what happens to a partial window left at the end of a
// completed recording.
type Trailing int

const (
	// DropTrailing discards the samples of the last partial window.
	DropTrailing Trailing = iota
	// FlushTrailing emits them as a final, shorter window.
	FlushTrailing
)

// ParseTrailing maps a config value to a Trailing policy
func ParseTrailing(s string) (Trailing, error) {
	switch s {
	case "", config.TrailingDrop:
		return DropTrailing, nil
	case config.TrailingFlush:
		return FlushTrailing, nil
	default:
		return DropTrailing, fmt.Errorf("unknown trailing policy %q", s)
	}
}

type Config struct {
	Backend  audio.Backend
	Observer Observer      // Optional - events are discarded when nil
	Dispatch dispatch.Func // Optional - defaults to dispatch.Immediate
	Logger   zerolog.Logger

	SampleRate int // 0 = SampleRate
	WindowSize int // 0 = amplitude.WindowSize
	Trailing   Trailing
}

// Recorder runs at most one capture session at a time.
type Recorder struct {
	backend    audio.Backend
	observer   Observer
	dispatch   dispatch.Func
	log        zerolog.Logger
	sampleRate int
	windowSize int
	trailing   Trailing

	state atomic.Int32

	mu     sync.Mutex
	active *session
}

func New(cfg Config) *Recorder {
	r := &Recorder{
		backend:    cfg.Backend,
		observer:   cfg.Observer,
		dispatch:   cfg.Dispatch,
		log:        cfg.Logger,
		sampleRate: cfg.SampleRate,
		windowSize: cfg.WindowSize,
		trailing:   cfg.Trailing,
	}
	if r.observer == nil {
		r.observer = ObserverFuncs{}
	}
	if r.dispatch == nil {
		r.dispatch = dispatch.Immediate
	}
	if r.sampleRate <= 0 {
		r.sampleRate = SampleRate
	}
	if r.windowSize <= 0 {
		r.windowSize = amplitude.WindowSize
	}
	return r
}

// Capture opens the audio input and starts recording for the given number
// of seconds on a new goroutine. Events are delivered to the observer
// through the configured dispatch function.
//
// Cancelling ctx has the same effect as Stop.
func (r *Recorder) Capture(ctx context.Context, seconds int) error {
	if seconds <= 0 {
		return ErrInvalidDuration
	}

	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	s := &session{
		rec:  r,
		done: make(chan struct{}),
	}
	r.active = s
	r.setState(StateOpening)
	r.mu.Unlock()

	format := audio.Format{
		SampleRate: r.sampleRate,
		Channels:   Channels,
		Encoding:   audio.EncodingPCM16,
	}

	handle, err := r.backend.Open(format)
	if err != nil {
		r.mu.Lock()
		r.active = nil
		r.setState(StateIdle)
		r.mu.Unlock()
		close(s.done)

		r.log.Error().Err(err).Str("backend", r.backend.Name()).Msg("Failed to open audio input")
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	minChunk := r.backend.MinimumChunkSize(format)
	if minChunk < 1 {
		minChunk = 1
	}
	capacity := max(minChunk, r.sampleRate*seconds)

	s.handle = handle
	s.minChunk = minChunk
	s.buf = make([]int16, capacity)
	s.windower = amplitude.NewWindower(s.buf, r.windowSize, r.sampleRate)
	s.log = r.log.With().
		Int("duration_s", seconds).
		Int("capacity", capacity).
		Int("min_chunk", minChunk).
		Logger()

	go s.run(ctx)
	return nil
}

// Stop asks the active session to end. It returns immediately; the session
// notices the request after its current device read and emits OnInterrupt.
func (r *Recorder) Stop() {
	r.mu.Lock()
	s := r.active
	r.mu.Unlock()

	if s != nil {
		s.cancel.Store(true)
	}
}

// State returns the current state of the recorder.
func (r *Recorder) State() State {
	return State(r.state.Load())
}

// IsRecording reports whether a session is active.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Wait blocks until the active session, if any, has emitted its terminal
// event and returned to idle.
func (r *Recorder) Wait(ctx context.Context) error {
	r.mu.Lock()
	s := r.active
	r.mu.Unlock()

	if s == nil {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) setState(s State) {
	r.state.Store(int32(s))
}

// emit hands an event to the dispatch function.
func (r *Recorder) emit(fn func(Observer)) {
	obs := r.observer
	r.dispatch(func() { fn(obs) })
}

func (r *Recorder) finish(s *session) {
	r.mu.Lock()
	if r.active == s {
		r.active = nil
	}
	r.setState(StateIdle)
	r.mu.Unlock()
	close(s.done)
}
