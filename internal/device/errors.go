package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when the ID or provider ID is already registered.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidName is returned when a device name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidProviderID is returned when the provider reference is missing.
	ErrInvalidProviderID = errors.New("device: invalid provider id")

	// ErrInvalidStateKey is returned for keys outside AllStateKeys.
	ErrInvalidStateKey = errors.New("device: invalid state key")

	// ErrInvalidState is returned when a state value cannot be stored.
	ErrInvalidState = errors.New("device: invalid state")
)
