package device

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Device is a registered doorbell, camera or floodlight.
// This matches the devices table in migrations/20260301_120000_devices.up.sql.
type Device struct {
	// Identity
	ID         string `json:"id"`
	ProviderID string `json:"provider_id"`
	Name       string `json:"name"`

	// Enabled devices are reconciled each cycle.
	Enabled bool `json:"enabled"`

	// States is the reconciled key/value record. Keys are the State* constants.
	States State `json:"states"`

	// ErrorState is the device-level error message, empty when clear.
	ErrorState string `json:"error_state"`
	StatusIcon string `json:"status_icon"`

	// Position orders devices within a cycle.
	Position int `json:"position"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// State holds a device's reconciled values as a JSON map.
//
// Values round-trip through JSON, so integers come back as float64.
// Compare with ValuesEqual, never with ==.
type State map[string]any

// State keys.
const (
	StateLastEventTime       = "last_event_time"
	StateBatteryLevel        = "battery_level"
	StateLastEvent           = "last_event"
	StateFirmware            = "firmware"
	StateModel               = "model"
	StateOnOff               = "on_off_state"
	StateRecordingURL        = "recording_url"
	StateLastMotionTime      = "last_motion_time"
	StateLastButtonPressTime = "last_button_press_time"
	StateName                = "name"
	StateLastAnswered        = "last_answered"
	StateSirenOn             = "siren_on"
)

// Pseudo-fields reported to change listeners for the two non-map columns.
const (
	FieldErrorState = "error_state"
	FieldStatusIcon = "status_icon"
)

// AllStateKeys returns every recognised state key.
func AllStateKeys() []string {
	return []string{
		StateLastEventTime,
		StateBatteryLevel,
		StateLastEvent,
		StateFirmware,
		StateModel,
		StateOnOff,
		StateRecordingURL,
		StateLastMotionTime,
		StateLastButtonPressTime,
		StateName,
		StateLastAnswered,
		StateSirenOn,
	}
}

// SentinelEventTime is the "never" value of last_event_time. Any real event
// compares as newer.
const SentinelEventTime = "2016-01-01T01:00:00"

// TimeLayout is the stored format of time-valued states, always UTC.
const TimeLayout = "2006-01-02T15:04:05"

// Layouts accepted when reading stored time values.
var parseLayouts = []string{
	TimeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

// FormatTime renders t in TimeLayout, converted to UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime reads a stored time value. Zone-less layouts are UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var firstErr error
	for _, layout := range parseLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// IsSentinel reports whether v is empty or the "never" event time.
func IsSentinel(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && (s == "" || s == SentinelEventTime)
}

// GenerateID returns a new device identifier.
func GenerateID() string {
	return uuid.NewString()
}

// DeepCopy returns an independent copy; the States map is cloned.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	cpy.States = deepCopyMap(d.States)
	return &cpy
}

// StateValue returns a state value and whether it is set.
func (d *Device) StateValue(key string) (any, bool) {
	v, ok := d.States[key]
	return v, ok
}

// StateString returns a state value as a string, or "" if unset or not a string.
func (d *Device) StateString(key string) string {
	s, _ := d.States[key].(string) //nolint:errcheck // Type assertion, not an error
	return s
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v
	}
}
