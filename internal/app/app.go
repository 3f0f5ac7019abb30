package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/petems/ampviz/internal/amplitude"
	"github.com/petems/ampviz/internal/audio"
	"github.com/petems/ampviz/internal/capture"
	"github.com/petems/ampviz/internal/config"
	"github.com/petems/ampviz/internal/dispatch"
	"github.com/rs/zerolog"
)

// ErrListUnsupported is returned by ListDevices for backends that cannot
// enumerate their inputs.
var ErrListUnsupported = errors.New("backend cannot list devices")

// StatusUpdater is an interface for updating status (e.g., a terminal indicator)
type StatusUpdater interface {
	SetIdle()
	SetRecording()
	SetError()
}

// EventType names a session event on the live feed.
type EventType string

const (
	EventStart     EventType = "start"
	EventAmplitude EventType = "amplitude"
	EventFinish    EventType = "finish"
	EventInterrupt EventType = "interrupt"
	EventFail      EventType = "fail"
)

// Event is a session event tagged with the session it belongs to.
type Event struct {
	Session   string    `json:"session" msgpack:"session"`
	Type      EventType `json:"type" msgpack:"type"`
	Elapsed   float64   `json:"elapsed" msgpack:"elapsed"`
	Amplitude float64   `json:"amplitude" msgpack:"amplitude"`
	Error     string    `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Publisher receives every session event, e.g. the live feed server.
type Publisher interface {
	Publish(ev Event)
}

// Status is a point-in-time view of the application.
type Status struct {
	Recording    bool   `json:"recording"`
	State        string `json:"state"`
	Session      string `json:"session"`
	Observations int    `json:"observations"`
}

type Config struct {
	Backend       audio.Backend
	Dispatch      dispatch.Func    // Optional - defaults to dispatch.Immediate
	Observer      capture.Observer // Optional - receives events after the app
	Config        *config.Config
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater // Optional - can be nil
	Publisher     Publisher     // Optional - can be nil
}

// App drives the recorder from user actions and keeps the series of the
// current session for display.
type App struct {
	backend audio.Backend
	rec     *capture.Recorder
	cfg     *config.Config
	log     zerolog.Logger
	status  StatusUpdater
	pub     Publisher

	mu      sync.Mutex
	session string
	series  []amplitude.Observation

	// Sessions are numbered in start order. started counts Capture calls,
	// delivered counts OnStart events; they differ while events are queued.
	started   int
	delivered int
	cancelled int // number of the last cancelled session, 0 = none
}

func New(cfg Config) (*App, error) {
	trailing, err := capture.ParseTrailing(cfg.Config.Capture.Trailing)
	if err != nil {
		return nil, err
	}

	a := &App{
		backend: cfg.Backend,
		cfg:     cfg.Config,
		log:     cfg.Logger,
		status:  cfg.StatusUpdater,
		pub:     cfg.Publisher,
	}

	var observer capture.Observer = a
	if cfg.Observer != nil {
		observer = capture.Observers{a, cfg.Observer}
	}

	a.rec = capture.New(capture.Config{
		Backend:  cfg.Backend,
		Observer: observer,
		Dispatch: cfg.Dispatch,
		Logger:   cfg.Logger,
		Trailing: trailing,
	})
	return a, nil
}

// Toggle starts a capture of the configured duration, or stops the one in
// progress. ctx bounds the whole session.
func (a *App) Toggle(ctx context.Context) error {
	if a.rec.IsRecording() {
		a.log.Info().Msg("Stopping recording")
		a.rec.Stop()
		return nil
	}

	a.log.Info().Int("duration_s", a.cfg.DurationSeconds).Msg("Starting recording")
	a.mu.Lock()
	a.started++
	a.mu.Unlock()

	err := a.rec.Capture(ctx, a.cfg.DurationSeconds)
	if err != nil {
		a.mu.Lock()
		a.started--
		a.mu.Unlock()
	}
	if errors.Is(err, capture.ErrAlreadyRecording) {
		// Lost a race with another Toggle; the session it started is fine.
		return nil
	}
	if err != nil {
		if a.status != nil {
			a.status.SetError()
		}
		return err
	}
	return nil
}

// Cancel stops the session in progress and clears the series. Observations
// of the cancelled session still in flight are discarded.
func (a *App) Cancel() {
	a.mu.Lock()
	a.cancelled = a.started
	a.series = nil
	a.mu.Unlock()

	a.rec.Stop()
}

// Wait blocks until the session in progress, if any, has ended.
func (a *App) Wait(ctx context.Context) error {
	return a.rec.Wait(ctx)
}

// Shutdown stops the session in progress and waits for its terminal event.
func (a *App) Shutdown(ctx context.Context) error {
	a.rec.Stop()
	return a.rec.Wait(ctx)
}

func (a *App) IsRecording() bool {
	return a.rec.IsRecording()
}

// Status returns the recorder state and the size of the current series.
func (a *App) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		Recording:    a.rec.IsRecording(),
		State:        a.rec.State().String(),
		Session:      a.session,
		Observations: len(a.series),
	}
}

// Series returns a copy of the observations of the current session.
func (a *App) Series() []amplitude.Observation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]amplitude.Observation(nil), a.series...)
}

// SetDuration changes and persists the capture duration.
func (a *App) SetDuration(seconds int) error {
	if seconds <= 0 {
		return capture.ErrInvalidDuration
	}
	if a.rec.IsRecording() {
		return fmt.Errorf("cannot change while recording")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.DurationSeconds = seconds
	return a.cfg.Save()
}

func (a *App) ListDevices() ([]audio.Device, error) {
	lister, ok := a.backend.(audio.DeviceLister)
	if !ok {
		return nil, fmt.Errorf("%s: %w", a.backend.Name(), ErrListUnsupported)
	}
	return lister.Devices()
}

// Session events

func (a *App) OnStart() {
	a.mu.Lock()
	a.delivered++
	a.session = uuid.NewString()
	a.series = nil
	session := a.session
	a.mu.Unlock()

	a.log.Debug().Str("session", session).Msg("Session started")
	if a.status != nil {
		a.status.SetRecording()
	}
	a.publish(Event{Session: session, Type: EventStart})
}

func (a *App) OnAmplitude(obs amplitude.Observation) {
	a.mu.Lock()
	if a.delivered == a.cancelled {
		a.mu.Unlock()
		return
	}
	a.series = append(a.series, obs)
	session := a.session
	a.mu.Unlock()

	a.publish(Event{
		Session:   session,
		Type:      EventAmplitude,
		Elapsed:   obs.Elapsed,
		Amplitude: obs.Amplitude,
	})
}

func (a *App) OnFinish() {
	a.end(EventFinish, nil)
}

func (a *App) OnInterrupt() {
	a.end(EventInterrupt, nil)
}

func (a *App) OnFail(err error) {
	a.end(EventFail, err)
}

func (a *App) end(typ EventType, err error) {
	a.mu.Lock()
	if a.delivered == a.cancelled {
		a.series = nil
	}
	session := a.session
	n := len(a.series)
	a.mu.Unlock()

	ev := Event{Session: session, Type: typ}
	if err != nil {
		ev.Error = err.Error()
		a.log.Error().Err(err).Str("session", session).Int("observations", n).Msg("Session failed")
		if a.status != nil {
			a.status.SetError()
		}
	} else {
		a.log.Info().Str("session", session).Str("outcome", string(typ)).Int("observations", n).Msg("Session ended")
		if a.status != nil {
			a.status.SetIdle()
		}
	}
	a.publish(ev)
}

func (a *App) publish(ev Event) {
	if a.pub != nil {
		a.pub.Publish(ev)
	}
}
