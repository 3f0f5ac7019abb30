// Package permissions checks the OS permission to record from a microphone.
package permissions

import (
	"errors"
	"fmt"
)

// Status mirrors AVAuthorizationStatus.
type Status int

const (
	StatusNotDetermined Status = 0
	StatusRestricted    Status = 1
	StatusDenied        Status = 2
	StatusAuthorized    Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusNotDetermined:
		return "not determined"
	case StatusRestricted:
		return "restricted"
	case StatusDenied:
		return "denied"
	case StatusAuthorized:
		return "authorized"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

var (
	// ErrDenied is returned when the user or a policy refused microphone access.
	ErrDenied = errors.New("microphone permission not granted")

	// ErrNotDetermined is returned after the permission dialog was shown;
	// run again once the user has answered.
	ErrNotDetermined = errors.New("microphone permission requested, run again after answering the prompt")
)

func deniedError(s Status) error {
	return fmt.Errorf("%w (%s): enable it in System Settings, Privacy & Security, Microphone", ErrDenied, s)
}
