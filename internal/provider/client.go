package provider

import "context"

// Client is authenticated access to the remote doorbell provider.
//
// Lookups that find nothing return ErrNotFound. Commands return nil when
// the provider accepted them.
type Client interface {
	// ListDevices returns every device on the account keyed by provider id.
	ListDevices(ctx context.Context) (map[string]Snapshot, error)

	// GetDevice returns one device.
	GetDevice(ctx context.Context, id string) (Snapshot, error)

	// GetRecentEvents returns the newest buffered event per device, keyed
	// by provider device id. Devices without recent activity are absent.
	GetRecentEvents(ctx context.Context) (map[string]Event, error)

	// GetEventsForDevice returns the newest event for one device.
	GetEventsForDevice(ctx context.Context, id string) (Event, error)

	// GetRecordingURL resolves the video URL of a ready recording.
	GetRecordingURL(ctx context.Context, eventID string) (string, error)

	SetPowerOn(ctx context.Context, id string) error
	SetPowerOff(ctx context.Context, id string) error
	SetAlarmOn(ctx context.Context, id string) error
	SetAlarmOff(ctx context.Context, id string) error

	// Login establishes a session. force discards any cached session first.
	Login(ctx context.Context, force bool) error
}
