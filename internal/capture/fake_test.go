package capture

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/petems/ampviz/internal/amplitude"
	"github.com/petems/ampviz/internal/audio"
)

// fakeBackend hands out a single scripted handle.
type fakeBackend struct {
	openErr  error
	minChunk int
	handle   *fakeHandle

	opens atomic.Int32
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) MinimumChunkSize(audio.Format) int { return b.minChunk }

func (b *fakeBackend) Open(audio.Format) (audio.Handle, error) {
	b.opens.Add(1)
	if b.openErr != nil {
		return nil, b.openErr
	}
	b.handle.state.Store(int32(audio.StateRecording))
	return b.handle, nil
}

// fakeHandle delivers perRead samples of value fill on each read.
type fakeHandle struct {
	fill    int16
	perRead int

	// stopAfter switches the device to stopped once this many samples
	// were delivered; 0 never stops.
	stopAfter int

	// failAt returns readErr from the read with this 1-based index.
	failAt  int
	readErr error

	// count overrides the returned sample count when set.
	count func(call int) int

	// gate, when set, must yield a value before every read proceeds.
	gate chan struct{}

	// onRead runs on the capture goroutine after every read.
	onRead func(call, total int)

	mu        sync.Mutex
	reads     int
	delivered int

	state    atomic.Int32
	stops    atomic.Int32
	releases atomic.Int32
}

func (h *fakeHandle) Read(p []int16) (int, error) {
	if h.gate != nil {
		<-h.gate
	}

	h.mu.Lock()
	h.reads++
	call := h.reads
	if h.failAt > 0 && call == h.failAt {
		h.mu.Unlock()
		return 0, h.readErr
	}
	n := h.perRead
	if n > len(p) {
		n = len(p)
	}
	if h.count != nil {
		n = h.count(call)
	}
	for i := 0; i < n && i < len(p); i++ {
		p[i] = h.fill
	}
	if n > 0 {
		h.delivered += n
	}
	total := h.delivered
	if h.stopAfter > 0 && total >= h.stopAfter {
		h.state.Store(int32(audio.StateStopped))
	}
	h.mu.Unlock()

	if h.onRead != nil {
		h.onRead(call, total)
	}
	return n, nil
}

func (h *fakeHandle) State() audio.State { return audio.State(h.state.Load()) }

func (h *fakeHandle) Stop() error {
	h.stops.Add(1)
	h.state.Store(int32(audio.StateStopped))
	return nil
}

func (h *fakeHandle) Release() error {
	h.releases.Add(1)
	return nil
}

func (h *fakeHandle) readCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reads
}

func (h *fakeHandle) deliveredCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.delivered
}

// eventLog records observer callbacks in arrival order.
type eventLog struct {
	mu           sync.Mutex
	events       []string
	observations []amplitude.Observation
	err          error
}

func (l *eventLog) add(ev string) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) OnStart() { l.add("start") }

func (l *eventLog) OnAmplitude(obs amplitude.Observation) {
	l.mu.Lock()
	l.events = append(l.events, "amplitude")
	l.observations = append(l.observations, obs)
	l.mu.Unlock()
}

func (l *eventLog) OnFinish()    { l.add("finish") }
func (l *eventLog) OnInterrupt() { l.add("interrupt") }

func (l *eventLog) OnFail(err error) {
	l.mu.Lock()
	l.events = append(l.events, "fail")
	l.err = err
	l.mu.Unlock()
}

func (l *eventLog) snapshot() ([]string, []amplitude.Observation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...), append([]amplitude.Observation(nil), l.observations...), l.err
}

// checkSequence verifies start first, exactly one terminal event last and
// only amplitude events in between. It returns the terminal event.
func checkSequence(events []string) (string, error) {
	if len(events) < 2 {
		return "", fmt.Errorf("expected at least start and a terminal event, got %v", events)
	}
	if events[0] != "start" {
		return "", fmt.Errorf("first event should be start, got %s", events[0])
	}
	for _, ev := range events[1 : len(events)-1] {
		if ev != "amplitude" {
			return "", fmt.Errorf("unexpected %s before the terminal event: %v", ev, events)
		}
	}
	terminal := events[len(events)-1]
	switch terminal {
	case "finish", "interrupt", "fail":
		return terminal, nil
	default:
		return "", fmt.Errorf("last event should be terminal, got %s", terminal)
	}
}
