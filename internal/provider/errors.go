package provider

import "errors"

// Sentinel errors returned by Client implementations.
var (
	// ErrNotFound means the provider has no such device, event or recording.
	// The reconciler treats it as a soft miss, never as a failure.
	ErrNotFound = errors.New("provider: not found")

	// ErrAuthFailed means the provider session could not be established.
	ErrAuthFailed = errors.New("provider: authentication failed")

	// ErrCommandRejected means the provider refused a command.
	ErrCommandRejected = errors.New("provider: command rejected")

	// ErrTimeout means no reply arrived within the request timeout.
	ErrTimeout = errors.New("provider: request timed out")

	// ErrUnavailable means the cached view cannot be trusted: the broker
	// connection is down, or the bridge is offline or has gone quiet.
	ErrUnavailable = errors.New("provider: unavailable")
)
