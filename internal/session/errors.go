package session

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying why a session failed. Wrap with %w so callers
// can branch with errors.Is.
var (
	// ErrPermission indicates microphone access was denied by the host.
	ErrPermission = errors.New("microphone permission denied")

	// ErrTransport indicates the provider connection failed or dropped.
	ErrTransport = errors.New("transport failure")

	// ErrDevice indicates an audio device could not be opened or failed
	// mid-session.
	ErrDevice = errors.New("audio device failure")
)

// permissionErr wraps err as a permission failure.
func permissionErr(err error) error {
	return fmt.Errorf("%w: %v", ErrPermission, err)
}

// transportErr wraps err as a transport failure.
func transportErr(err error) error {
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// deviceErr wraps err as a device failure.
func deviceErr(err error) error {
	return fmt.Errorf("%w: %v", ErrDevice, err)
}

// errorKind returns the metric attribute value for a classified error.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrPermission):
		return "permission"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrDevice):
		return "device"
	default:
		return "internal"
	}
}
