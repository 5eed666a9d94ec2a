package engine

import "errors"

var (
	// ErrUnknownAction is returned for an action name Engine does not handle.
	ErrUnknownAction = errors.New("engine: unknown action")

	// ErrDeviceDisabled is returned when an action targets a disabled device.
	ErrDeviceDisabled = errors.New("engine: device is disabled")

	// ErrInvalidPayload is returned by MQTT handlers for malformed payloads.
	ErrInvalidPayload = errors.New("engine: invalid payload")
)
