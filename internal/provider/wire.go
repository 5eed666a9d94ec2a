package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Accepted event timestamp layouts, most specific first.
var eventTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// snapshotMessage is the retained device payload published by the bridge.
type snapshotMessage struct {
	ID              string          `json:"id"`
	Description     string          `json:"description"`
	FirmwareVersion string          `json:"firmware_version"`
	Kind            string          `json:"kind"`
	BatteryLevel    json.RawMessage `json:"battery_level,omitempty"`
	PowerState      string          `json:"power_state,omitempty"`
}

// eventMessage is the latest-event payload for a device.
type eventMessage struct {
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	CreatedAt       string `json:"created_at"`
	Answered        *bool  `json:"answered,omitempty"`
	RecordingStatus string `json:"recording_status"`
}

type recordingMessage struct {
	URL string `json:"url"`
}

// requestMessage is published on {prefix}/request/{action}.
type requestMessage struct {
	RequestID string `json:"request_id"`
	Action    string `json:"action"`
	DeviceID  string `json:"device_id,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	Force     bool   `json:"force,omitempty"`
}

// replyMessage is the bridge's answer on {prefix}/reply/{request_id}.
type replyMessage struct {
	RequestID string `json:"request_id"`
	OK        bool   `json:"ok"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
	URL       string `json:"url,omitempty"`
}

// statusMessage is the bridge's retained presence on {prefix}/status. The
// bridge registers an "offline" payload as its last will.
type statusMessage struct {
	Status string `json:"status"`
}

// Bridge presence values.
const (
	statusOnline  = "online"
	statusOffline = "offline"
)

// Reply codes the bridge may set on a failed request.
const (
	codeAuthFailed = "auth_failed"
	codeNotFound   = "not_found"
)

func decodeSnapshot(id string, payload []byte) (Snapshot, error) {
	var msg snapshotMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Snapshot{}, fmt.Errorf("decoding device %s: %w", id, err)
	}
	if msg.ID == "" {
		msg.ID = id
	}
	return Snapshot{
		ID:              msg.ID,
		Description:     msg.Description,
		FirmwareVersion: msg.FirmwareVersion,
		Kind:            msg.Kind,
		BatteryLevel:    parseBatteryLevel(msg.BatteryLevel),
		PowerState:      ParsePowerState(msg.PowerState),
	}, nil
}

// parseBatteryLevel accepts a JSON number or a numeric string. Anything
// else, including null, is "not reported". Range checks belong to the caller.
func parseBatteryLevel(raw json.RawMessage) *int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		level := int(math.Round(f))
		return &level
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if level, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return &level
		}
	}
	return nil
}

func decodeEvent(payload []byte) (Event, error) {
	var msg eventMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Event{}, fmt.Errorf("decoding event: %w", err)
	}
	return Event{
		ID:             msg.ID,
		Kind:           ParseEventKind(msg.Kind),
		Timestamp:      parseEventTime(msg.CreatedAt),
		Answered:       msg.Answered,
		RecordingState: ParseRecordingState(msg.RecordingStatus),
	}, nil
}

// parseEventTime returns the zero time for empty or unparseable input.
// Layouts without a zone are read as UTC.
func parseEventTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range eventTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// decodeStatus accepts {"status":"online"} or a bare online/offline payload.
// It reports whether the bridge is online.
func decodeStatus(payload []byte) (bool, error) {
	raw := strings.TrimSpace(string(payload))
	var msg statusMessage
	if strings.HasPrefix(raw, "{") {
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return false, fmt.Errorf("decoding bridge status: %w", err)
		}
		raw = msg.Status
	}
	switch strings.ToLower(strings.Trim(raw, `"`)) {
	case statusOnline:
		return true, nil
	case statusOffline, "":
		return false, nil
	default:
		return false, fmt.Errorf("unknown bridge status %q", raw)
	}
}

func replyError(r replyMessage) error {
	if r.OK {
		return nil
	}
	switch r.Code {
	case codeAuthFailed:
		return fmt.Errorf("%w: %s", ErrAuthFailed, r.Error)
	case codeNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, r.Error)
	default:
		return fmt.Errorf("%w: %s", ErrCommandRejected, r.Error)
	}
}
