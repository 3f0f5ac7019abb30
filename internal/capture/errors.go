package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceUnavailable is returned by Capture when the audio input
	// cannot be opened. The backend's cause is wrapped alongside it.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrAlreadyRecording is returned by Capture while a session is active.
	ErrAlreadyRecording = errors.New("already recording")

	// ErrInvalidDuration is returned by Capture for non-positive durations.
	ErrInvalidDuration = errors.New("duration must be a positive number of seconds")

	// ErrNoProgress reports a device that keeps returning empty reads while
	// claiming to record.
	ErrNoProgress = errors.New("device returned no samples")

	// ErrBadReadCount reports a device read returning a negative count or
	// more samples than requested.
	ErrBadReadCount = errors.New("device returned an invalid sample count")
)

// ReadError is the failure delivered to OnFail when the device errors
// during the read loop.
type ReadError struct {
	// Offset is the write offset into the sample buffer at the failed read.
	Offset int
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("device read failed at sample %d: %v", e.Offset, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
