//go:build darwin

package permissions

/*
#cgo LDFLAGS: -framework AVFoundation
#import <AVFoundation/AVFoundation.h>

int checkMicrophonePermission() {
    AVAuthorizationStatus status = [AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
    return (int)status;
}

void requestMicrophonePermission() {
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeAudio completionHandler:^(BOOL granted) {}];
}
*/
import "C"

// CheckMicrophone returns the current microphone permission status
func CheckMicrophone() Status {
	return Status(C.checkMicrophonePermission())
}

// RequestMicrophone triggers the system microphone permission dialog
func RequestMicrophone() {
	C.requestMicrophonePermission()
}

// EnsureMicrophone checks the microphone permission and asks for it when
// the user has not decided yet. Capture can only start once it returns nil.
func EnsureMicrophone() error {
	status := CheckMicrophone()
	switch status {
	case StatusAuthorized:
		return nil
	case StatusNotDetermined:
		RequestMicrophone()
		return ErrNotDetermined
	default:
		return deniedError(status)
	}
}
