// Package console renders capture status and amplitudes on a terminal.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/petems/ampviz/internal/amplitude"
)

const (
	defaultWidth = 50

	// defaultScale is the amplitude drawn as a full bar; speech rarely
	// averages above a quarter of full scale.
	defaultScale = 8192
)

// UI prints one bar per observation and a line per status change.
// It implements app.StatusUpdater and capture.Observer.
type UI struct {
	out     io.Writer
	width   int
	scale   float64
	version string
	commit  string

	mu     sync.Mutex
	status string
	peak   float64
	count  int
}

type Options struct {
	Width   int     // 0 = 50 columns
	Scale   float64 // 0 = 8192
	Version string
	Commit  string
}

func New(out io.Writer, opts Options) *UI {
	u := &UI{
		out:     out,
		width:   opts.Width,
		scale:   opts.Scale,
		version: opts.Version,
		commit:  opts.Commit,
		status:  "idle",
	}
	if u.width <= 0 {
		u.width = defaultWidth
	}
	if u.scale <= 0 {
		u.scale = defaultScale
	}
	return u
}

// Status update methods for the app to call
func (u *UI) SetIdle() {
	u.updateStatus("idle")
}

func (u *UI) SetRecording() {
	u.updateStatus("recording")
}

func (u *UI) SetError() {
	u.updateStatus("error")
}

// Status returns the last status shown
func (u *UI) Status() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status
}

func (u *UI) updateStatus(status string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.status == status {
		return
	}
	u.status = status
	fmt.Fprintf(u.out, "%s %s\n", statusIcon(status), status)
}

func statusIcon(status string) string {
	switch status {
	case "recording":
		return "🔴"
	case "error":
		return "⚠️ "
	default:
		return "🎤"
	}
}

// About prints the version banner
func (u *UI) About() {
	fmt.Fprintf(u.out, "ampviz %s (%s)\nMicrophone amplitude visualizer\n", u.version, u.commit)
}

// Session events

func (u *UI) OnStart() {
	u.mu.Lock()
	u.peak = 0
	u.count = 0
	u.mu.Unlock()
}

func (u *UI) OnAmplitude(obs amplitude.Observation) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.count++
	u.peak = max(u.peak, obs.Amplitude)
	fmt.Fprintf(u.out, "%8.3fs |%s| %7.1f\n", obs.Elapsed, u.bar(obs.Amplitude), obs.Amplitude)
}

func (u *UI) OnFinish() {
	u.summary("finished")
}

func (u *UI) OnInterrupt() {
	u.summary("interrupted")
}

func (u *UI) OnFail(err error) {
	u.summary("failed: " + err.Error())
}

func (u *UI) summary(outcome string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprintf(u.out, "%s after %d windows, peak %.1f\n", outcome, u.count, u.peak)
}

func (u *UI) bar(amp float64) string {
	n := int(amp / u.scale * float64(u.width))
	n = min(max(n, 0), u.width)
	return strings.Repeat("#", n) + strings.Repeat(" ", u.width-n)
}
