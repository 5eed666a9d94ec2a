package engine

import (
	"context"
	"strings"
	"time"

	"github.com/nerrad567/doorbell-sync/internal/device"
	"github.com/nerrad567/doorbell-sync/internal/infrastructure/mqtt"
)

// ChannelStateChanged is the WebSocket channel carrying every device's
// state changes. DeviceChannel names the per-device equivalent.
const ChannelStateChanged = "device.state_changed"

const (
	deviceChannelPrefix = "device."
	deviceChannelSuffix = ".state_changed"
)

// DeviceChannel returns the state channel for one device:
// device.{id}.state_changed.
func DeviceChannel(id string) string {
	return deviceChannelPrefix + id + deviceChannelSuffix
}

// ParseDeviceChannel returns the device ID named by a per-device channel.
func ParseDeviceChannel(channel string) (string, bool) {
	rest, ok := strings.CutPrefix(channel, deviceChannelPrefix)
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, deviceChannelSuffix)
	if !ok || id == "" || strings.Contains(id, ".") {
		return "", false
	}
	return id, true
}

// Publisher is the publish half of *mqtt.Client.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// Broadcaster is the WebSocket hub. A client subscribed to several of the
// channels receives the payload once.
type Broadcaster interface {
	Broadcast(channels []string, payload any)
}

// StateMessage is the retained payload on doorbellsync/state/{id}.
type StateMessage struct {
	DeviceID   string         `json:"device_id"`
	ProviderID string         `json:"provider_id"`
	Name       string         `json:"name"`
	States     map[string]any `json:"states"`
	ErrorState string         `json:"error_state,omitempty"`
	StatusIcon string         `json:"status_icon,omitempty"`
	Field      string         `json:"field"`
	Source     string         `json:"source"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// StatePublisher returns a ChangeListener that publishes the full device
// state, retained, after each change.
func StatePublisher(pub Publisher, registry DeviceRegistry, logger Logger) device.ChangeListener {
	if logger == nil {
		logger = noopLogger{}
	}
	topics := mqtt.Topics{}
	return func(ctx context.Context, c device.Change) {
		d, err := registry.GetDevice(ctx, c.DeviceID)
		if err != nil {
			logger.Warn("state publish skipped, device lookup failed", "device_id", c.DeviceID, "error", err)
			return
		}
		msg := StateMessage{
			DeviceID:   d.ID,
			ProviderID: d.ProviderID,
			Name:       d.Name,
			States:     d.States,
			ErrorState: d.ErrorState,
			StatusIcon: d.StatusIcon,
			Field:      c.Field,
			Source:     c.Source,
			UpdatedAt:  c.At,
		}
		if err := pub.PublishJSON(topics.DeviceState(d.ID), msg, true); err != nil {
			logger.Debug("state publish failed", "device_id", d.ID, "field", c.Field, "error", err)
		}
	}
}

// HubListener returns a ChangeListener that broadcasts each change on
// ChannelStateChanged and on the device's own channel.
func HubListener(hub Broadcaster) device.ChangeListener {
	return func(_ context.Context, c device.Change) {
		hub.Broadcast([]string{ChannelStateChanged, DeviceChannel(c.DeviceID)}, c)
	}
}
