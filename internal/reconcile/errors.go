package reconcile

import "fmt"

// Stage names the step a ReconcileError came from.
type Stage string

// Stages.
const (
	StageGetDevice    Stage = "get_device"
	StageRecentEvents Stage = "recent_events"
	StageDeviceEvents Stage = "device_events"
)

// ReconcileError is a device-level failure. Field writes applied before it
// occurred are kept.
type ReconcileError struct {
	DeviceID string
	Stage    Stage
	Err      error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("reconcile %s: %s: %v", e.DeviceID, e.Stage, e.Err)
}

func (e *ReconcileError) Unwrap() error {
	return e.Err
}
