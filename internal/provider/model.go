package provider

import "time"

// EventKind classifies a doorbell event.
type EventKind string

// Event kinds.
const (
	KindMotion EventKind = "motion"
	KindDing   EventKind = "ding"
	KindOther  EventKind = "other"
)

// ParseEventKind maps a provider kind string onto an EventKind.
// Button presses arrive as "ding" or "button_press"; anything unrecognised
// (on-demand live view, for instance) is KindOther.
func ParseEventKind(s string) EventKind {
	switch s {
	case "motion":
		return KindMotion
	case "ding", "button_press":
		return KindDing
	default:
		return KindOther
	}
}

// RecordingState is the availability of an event's video.
type RecordingState string

// Recording states.
const (
	RecordingPending     RecordingState = "pending"
	RecordingReady       RecordingState = "ready"
	RecordingUnavailable RecordingState = "unavailable"
)

// ParseRecordingState maps a provider status onto a RecordingState.
// Unknown statuses are treated as unavailable.
func ParseRecordingState(s string) RecordingState {
	switch s {
	case "ready":
		return RecordingReady
	case "pending", "processing":
		return RecordingPending
	default:
		return RecordingUnavailable
	}
}

// Event is one activity record for a device.
type Event struct {
	ID   string
	Kind EventKind

	// Timestamp is zero when the provider omitted or mangled it.
	Timestamp time.Time

	// Answered is nil when the provider did not report it.
	Answered *bool

	RecordingState RecordingState
}

// PowerState is a tri-state light/power flag.
type PowerState int

// Power states.
const (
	PowerUnknown PowerState = iota
	PowerOn
	PowerOff
)

// ParsePowerState maps "on"/"off" onto a PowerState; anything else is unknown.
func ParsePowerState(s string) PowerState {
	switch s {
	case "on":
		return PowerOn
	case "off":
		return PowerOff
	default:
		return PowerUnknown
	}
}

// String returns "on", "off" or "unknown".
func (p PowerState) String() string {
	switch p {
	case PowerOn:
		return "on"
	case PowerOff:
		return "off"
	default:
		return "unknown"
	}
}

// Known reports whether the provider supplied a power state.
func (p PowerState) Known() bool {
	return p == PowerOn || p == PowerOff
}

// Snapshot is a device's identity and last-known hardware attributes.
type Snapshot struct {
	ID              string
	Description     string
	FirmwareVersion string
	Kind            string

	// BatteryLevel is nil for mains-powered devices or when unreported.
	BatteryLevel *int

	PowerState PowerState
}
