// Package audio is the boundary to the platform audio input.
//
// A Backend opens mono PCM16 input handles. A Handle is read with blocking
// calls by a single goroutine; Stop and Release are called by that same
// goroutine once it is done reading.
package audio

import "errors"

// Encoding identifies the sample encoding of a stream.
type Encoding int

const (
	// EncodingPCM16 is signed 16-bit linear PCM in native byte order.
	EncodingPCM16 Encoding = iota
)

// Format describes the requested input format.
type Format struct {
	SampleRate int
	Channels   int
	Encoding   Encoding
}

// State is the recording state reported by a handle.
type State int

const (
	StateStopped State = iota
	StateRecording
)

func (s State) String() string {
	if s == StateRecording {
		return "recording"
	}
	return "stopped"
}

// ErrUnsupportedFormat is returned by Open for formats a backend cannot capture.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Backend opens audio input handles
type Backend interface {
	// Open starts capturing in the given format. The handle is in
	// StateRecording when Open returns without error.
	Open(f Format) (Handle, error)

	// MinimumChunkSize returns the smallest number of samples the backend
	// delivers per read cycle for f.
	MinimumChunkSize(f Format) int

	// Name returns the backend name ("portaudio", "malgo", "synthetic").
	Name() string
}

// Handle is an open audio input
type Handle interface {
	// Read blocks until at least one sample is available or the handle
	// stops, then copies up to len(p) samples into p.
	Read(p []int16) (int, error)

	// State reports whether the device is still recording.
	State() State

	// Stop halts capture. It is safe to call more than once.
	Stop() error

	// Release frees the device. The handle cannot be used afterwards.
	Release() error
}

// Device represents an audio input device
type Device struct {
	ID      string
	Name    string
	Default bool
}

// DeviceLister is implemented by backends that can enumerate inputs.
type DeviceLister interface {
	Devices() ([]Device, error)
}

// Closer is implemented by backends holding process-wide resources.
type Closer interface {
	Close() error
}

func validateFormat(f Format) error {
	if f.SampleRate <= 0 || f.Channels != 1 || f.Encoding != EncodingPCM16 {
		return ErrUnsupportedFormat
	}
	return nil
}

// stopAndClose stops a handle and then frees it. Both steps always run and
// both failures are reported.
func stopAndClose(stop, free func() error) error {
	stopErr := stop()
	return errors.Join(stopErr, free())
}
