//go:build !darwin

package permissions

// CheckMicrophone reports authorized; other platforms gate the device at open.
func CheckMicrophone() Status {
	return StatusAuthorized
}

// EnsureMicrophone is a no-op on non-macOS platforms.
func EnsureMicrophone() error {
	return nil
}
