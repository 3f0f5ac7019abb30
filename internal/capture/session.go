package capture

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/petems/ampviz/internal/amplitude"
	"github.com/petems/ampviz/internal/audio"
	"github.com/rs/zerolog"
)

// maxEmptyReads bounds consecutive zero-sample reads from a device that
// still reports recording.
const maxEmptyReads = 100

// session is one capture run: it owns the sample buffer and the device
// handle until run returns.
type session struct {
	rec    *Recorder
	handle audio.Handle
	log    zerolog.Logger

	buf      []int16
	offset   int
	minChunk int
	windower *amplitude.Windower

	reads  int
	cancel atomic.Bool
	done   chan struct{}
}

func (s *session) run(ctx context.Context) {
	r := s.rec

	r.emit(func(o Observer) { o.OnStart() })
	r.setState(StateRecording)
	s.log.Info().Msg("Recording started")

	outcome, err := s.loop(ctx)
	r.setState(outcome)
	s.release()

	switch outcome {
	case StateFinishing:
		if r.trailing == FlushTrailing {
			s.windower.Flush(s.offset, s.emitAmplitude)
		}
		s.logSummary(s.log.Info()).Msg("Recording finished")
		r.emit(func(o Observer) { o.OnFinish() })
	case StateInterrupted:
		s.logSummary(s.log.Info()).Msg("Recording interrupted")
		r.emit(func(o Observer) { o.OnInterrupt() })
	default:
		s.logSummary(s.log.Error().Err(err)).Msg("Recording failed")
		r.emit(func(o Observer) { o.OnFail(err) })
	}

	r.finish(s)
}

// loop fills the buffer chunk by chunk, draining complete windows after
// every chunk. It returns the terminal state to move to.
func (s *session) loop(ctx context.Context) (State, error) {
	capacity := len(s.buf)
	empty := 0

	for s.offset < capacity && s.recording() {
		if s.cancelled(ctx) {
			return StateInterrupted, nil
		}

		chunkStart := s.offset
		for {
			n, err := s.handle.Read(s.buf[s.offset:])
			s.reads++
			if err != nil {
				return StateFailed, &ReadError{Offset: s.offset, Err: err}
			}
			if n < 0 || n > capacity-s.offset {
				return StateFailed, &ReadError{Offset: s.offset, Err: fmt.Errorf("%w: %d", ErrBadReadCount, n)}
			}
			s.offset += n

			if n == 0 {
				empty++
			} else {
				empty = 0
			}

			if s.cancelled(ctx) || !s.recording() {
				break
			}
			if empty >= maxEmptyReads {
				return StateFailed, &ReadError{Offset: s.offset, Err: ErrNoProgress}
			}
			if s.offset-chunkStart >= s.minChunk || s.offset >= capacity {
				break
			}
		}

		s.windower.Drain(s.offset, s.emitAmplitude)
	}

	if s.cancelled(ctx) || !s.recording() {
		return StateInterrupted, nil
	}
	return StateFinishing, nil
}

func (s *session) emitAmplitude(obs amplitude.Observation) {
	s.rec.emit(func(o Observer) { o.OnAmplitude(obs) })
}

func (s *session) recording() bool {
	return s.handle.State() == audio.StateRecording
}

func (s *session) cancelled(ctx context.Context) bool {
	return s.cancel.Load() || ctx.Err() != nil
}

// release stops and frees the device; failures are logged, not reported.
func (s *session) release() {
	if err := s.handle.Stop(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to stop audio input")
	}
	if err := s.handle.Release(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to release audio input")
	}
	s.handle = releasedHandle{}
}

func (s *session) logSummary(e *zerolog.Event) *zerolog.Event {
	return e.
		Int("samples", s.offset).
		Int("reads", s.reads).
		Int("windows", s.windower.Windows()).
		Float64("elapsed_s", s.windower.Elapsed())
}

// releasedHandle replaces the device handle once it is released so the
// session cannot touch freed resources.
type releasedHandle struct{}

func (releasedHandle) Read([]int16) (int, error) { return 0, nil }
func (releasedHandle) State() audio.State        { return audio.StateStopped }
func (releasedHandle) Stop() error               { return nil }
func (releasedHandle) Release() error            { return nil }
