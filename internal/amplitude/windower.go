package amplitude

// Windower slices a growing sample buffer into consecutive, non-overlapping
// windows. It never copies samples: each window is a sub-slice of buf.
//
// A window that would run past the data written so far is deferred until a
// later Drain call has enough samples to complete it.
type Windower struct {
	buf        []int16
	size       int
	sampleRate int

	next    int // index of the first sample not yet consumed by a window
	windows int
}

// NewWindower returns a Windower over buf. A size below 1 selects WindowSize.
func NewWindower(buf []int16, size, sampleRate int) *Windower {
	if size < 1 {
		size = WindowSize
	}
	return &Windower{buf: buf, size: size, sampleRate: sampleRate}
}

// Drain emits one observation for every complete window in buf[:written]
// that has not been emitted yet, in order. It returns the number emitted.
func (w *Windower) Drain(written int, emit func(Observation)) int {
	if written > len(w.buf) {
		written = len(w.buf)
	}
	n := 0
	for w.next+w.size <= written {
		w.emitWindow(w.buf[w.next:w.next+w.size], emit)
		n++
	}
	return n
}

// Flush emits the pending partial window in buf[:written], if any, as a
// final shorter observation. It reports whether one was emitted.
func (w *Windower) Flush(written int, emit func(Observation)) bool {
	w.Drain(written, emit)
	if written > len(w.buf) {
		written = len(w.buf)
	}
	if w.next >= written {
		return false
	}
	w.emitWindow(w.buf[w.next:written], emit)
	return true
}

func (w *Windower) emitWindow(window []int16, emit func(Observation)) {
	obs := Observation{
		Elapsed:   w.Elapsed(),
		Amplitude: MeanAbsolute(window),
	}
	w.next += len(window)
	w.windows++
	emit(obs)
}

// Elapsed returns the time covered by the windows emitted so far.
func (w *Windower) Elapsed() float64 {
	if w.sampleRate <= 0 {
		return 0
	}
	return float64(w.next) / float64(w.sampleRate)
}

// Consumed returns the number of samples covered by emitted windows.
func (w *Windower) Consumed() int { return w.next }

// Windows returns the number of observations emitted.
func (w *Windower) Windows() int { return w.windows }

// Pending returns the number of written samples not yet part of a window.
func (w *Windower) Pending(written int) int {
	if written > len(w.buf) {
		written = len(w.buf)
	}
	if written <= w.next {
		return 0
	}
	return written - w.next
}
