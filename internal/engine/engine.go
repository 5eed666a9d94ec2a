package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/doorbell-sync/internal/device"
	"github.com/nerrad567/doorbell-sync/internal/provider"
)

// Action names accepted by Do and the command topics.
const (
	ActionTurnOn   = "turn_on"
	ActionTurnOff  = "turn_off"
	ActionToggle   = "toggle"
	ActionSirenOn  = "siren_on"
	ActionSirenOff = "siren_off"
)

// Actions returns every supported action name.
func Actions() []string {
	return []string{ActionTurnOn, ActionTurnOff, ActionToggle, ActionSirenOn, ActionSirenOff}
}

const defaultCommandTimeout = 15 * time.Second

// DeviceRegistry is the subset of *device.Registry the engine needs.
type DeviceRegistry interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	ListDevices(ctx context.Context) ([]device.Device, error)
	CreateDevice(ctx context.Context, d *device.Device) error
	SetIfChanged(ctx context.Context, deviceID, key string, value any) (bool, error)
}

// AuthTracker receives login outcomes. *poll.Scheduler satisfies it.
type AuthTracker interface {
	SetAuthFailed(failed bool)
}

// Logger defines the logging interface for the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Engine runs login, registration and device actions.
//
// Thread Safety: all methods are safe for concurrent use.
type Engine struct {
	client   provider.Client
	registry DeviceRegistry
	logger   Logger

	commandTimeout time.Duration

	authFailed atomic.Bool
	trackerMu  sync.RWMutex
	tracker    AuthTracker
}

// New creates an Engine.
//
// Parameters:
//   - client: provider client used for login, listing and commands
//   - registry: device registry holding the reconciled state
//   - logger: logger instance (may be nil)
func New(client provider.Client, registry DeviceRegistry, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{
		client:         client,
		registry:       registry,
		logger:         logger,
		commandTimeout: defaultCommandTimeout,
	}
}

// SetCommandTimeout bounds MQTT-triggered operations.
func (e *Engine) SetCommandTimeout(d time.Duration) {
	if d > 0 {
		e.commandTimeout = d
	}
}

// SetAuthTracker attaches the scheduler that should see login outcomes.
// The current outcome is pushed immediately so a rebuilt scheduler starts
// in the right state.
func (e *Engine) SetAuthTracker(t AuthTracker) {
	e.trackerMu.Lock()
	e.tracker = t
	e.trackerMu.Unlock()
	if t != nil {
		t.SetAuthFailed(e.authFailed.Load())
	}
}

// AuthFailed reports whether the last login failed.
func (e *Engine) AuthFailed() bool {
	return e.authFailed.Load()
}

func (e *Engine) setAuthFailed(failed bool) {
	e.authFailed.Store(failed)
	e.trackerMu.RLock()
	t := e.tracker
	e.trackerMu.RUnlock()
	if t != nil {
		t.SetAuthFailed(failed)
	}
}

// Login authenticates with the provider. force discards any cached
// session. On success the provider's device list is logged; on failure
// polling is suspended until the next successful login.
func (e *Engine) Login(ctx context.Context, force bool) error {
	if err := e.client.Login(ctx, force); err != nil {
		e.setAuthFailed(true)
		e.logger.Error("provider login failed, polling suspended",
			"error", err,
			"action", "check provider credentials",
		)
		return fmt.Errorf("provider login: %w", err)
	}
	e.setAuthFailed(false)
	e.logger.Info("provider login succeeded", "force", force)

	devices, err := e.client.ListDevices(ctx)
	if err != nil {
		e.logger.Warn("failed to list provider devices after login", "error", err)
		return nil
	}
	e.logger.Info("provider devices available", "count", len(devices))
	for _, s := range sortSnapshots(devices) {
		e.logger.Info("provider device",
			"provider_id", s.ID,
			"description", s.Description,
			"model", s.Kind,
			"firmware", s.FirmwareVersion,
		)
	}
	return nil
}

// AvailableDevices returns provider devices that are not yet registered,
// ordered by description.
func (e *Engine) AvailableDevices(ctx context.Context) ([]provider.Snapshot, error) {
	snapshots, err := e.client.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing provider devices: %w", err)
	}
	registered, err := e.registry.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing registered devices: %w", err)
	}

	taken := make(map[string]bool, len(registered))
	for _, d := range registered {
		taken[d.ProviderID] = true
	}

	available := make([]provider.Snapshot, 0, len(snapshots))
	for _, s := range sortSnapshots(snapshots) {
		if !taken[s.ID] {
			available = append(available, s)
		}
	}
	return available, nil
}

// RegisterDevice creates a device record for a provider device. An empty
// name falls back to the provider description.
//
// Returns:
//   - *device.Device: the created device, seeded with name, model,
//     firmware and the "never" event time
//   - error: provider.ErrNotFound, device.ErrDeviceExists or a validation error
func (e *Engine) RegisterDevice(ctx context.Context, providerID, name string) (*device.Device, error) {
	snap, err := e.client.GetDevice(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("looking up provider device %s: %w", providerID, err)
	}

	existing, err := e.registry.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing registered devices: %w", err)
	}
	for _, d := range existing {
		if d.ProviderID == providerID {
			return nil, fmt.Errorf("provider device %s: %w", providerID, device.ErrDeviceExists)
		}
	}

	if name == "" {
		name = snap.Description
	}
	if name == "" {
		name = "Doorbell " + providerID
	}

	states := device.State{device.StateLastEventTime: device.SentinelEventTime}
	if snap.Description != "" {
		states[device.StateName] = snap.Description
	}
	if snap.Kind != "" {
		states[device.StateModel] = snap.Kind
	}
	if snap.FirmwareVersion != "" {
		states[device.StateFirmware] = snap.FirmwareVersion
	}

	d := &device.Device{
		ProviderID: providerID,
		Name:       name,
		Enabled:    true,
		States:     states,
	}
	if err := e.registry.CreateDevice(device.WithSource(ctx, device.SourceRegister), d); err != nil {
		return nil, fmt.Errorf("registering %s: %w", providerID, err)
	}

	e.logger.Info("device registered", "device_id", d.ID, "provider_id", providerID, "name", name)
	return d, nil
}

// Do runs a named action against a device.
func (e *Engine) Do(ctx context.Context, deviceID, action string) error {
	switch action {
	case ActionTurnOn:
		return e.TurnOn(ctx, deviceID)
	case ActionTurnOff:
		return e.TurnOff(ctx, deviceID)
	case ActionToggle:
		return e.Toggle(ctx, deviceID)
	case ActionSirenOn:
		return e.SirenOn(ctx, deviceID)
	case ActionSirenOff:
		return e.SirenOff(ctx, deviceID)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

// TurnOn powers the device on and records on_off_state=true.
func (e *Engine) TurnOn(ctx context.Context, deviceID string) error {
	return e.command(ctx, deviceID, ActionTurnOn, e.client.SetPowerOn, device.StateOnOff, true)
}

// TurnOff powers the device off and records on_off_state=false.
func (e *Engine) TurnOff(ctx context.Context, deviceID string) error {
	return e.command(ctx, deviceID, ActionTurnOff, e.client.SetPowerOff, device.StateOnOff, false)
}

// Toggle issues the command opposite to the stored on_off_state. A device
// with no stored state is treated as off.
func (e *Engine) Toggle(ctx context.Context, deviceID string) error {
	d, err := e.registry.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if on, _ := d.States[device.StateOnOff].(bool); on {
		return e.TurnOff(ctx, deviceID)
	}
	return e.TurnOn(ctx, deviceID)
}

// SirenOn sounds the siren and records siren_on=true.
func (e *Engine) SirenOn(ctx context.Context, deviceID string) error {
	return e.command(ctx, deviceID, ActionSirenOn, e.client.SetAlarmOn, device.StateSirenOn, true)
}

// SirenOff silences the siren and records siren_on=false.
func (e *Engine) SirenOff(ctx context.Context, deviceID string) error {
	return e.command(ctx, deviceID, ActionSirenOff, e.client.SetAlarmOff, device.StateSirenOn, false)
}

func (e *Engine) command(
	ctx context.Context,
	deviceID, action string,
	call func(ctx context.Context, providerID string) error,
	key string,
	value bool,
) error {
	d, err := e.registry.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if !d.Enabled {
		return fmt.Errorf("%s %s: %w", action, deviceID, ErrDeviceDisabled)
	}

	if err := call(ctx, d.ProviderID); err != nil {
		e.logger.Warn("device action failed", "device_id", deviceID, "action", action, "error", err)
		return fmt.Errorf("%s %s: %w", action, deviceID, err)
	}

	if _, err := e.registry.SetIfChanged(device.WithSource(ctx, device.SourceCommand), deviceID, key, value); err != nil {
		return fmt.Errorf("recording %s for %s: %w", key, deviceID, err)
	}

	e.logger.Info("device action sent", "device_id", deviceID, "action", action)
	return nil
}

func sortSnapshots(m map[string]provider.Snapshot) []provider.Snapshot {
	out := make([]provider.Snapshot, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b provider.Snapshot) int {
		if c := cmp.Compare(a.Description, b.Description); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// IsNotFound reports whether err means the device or provider record is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, device.ErrDeviceNotFound) || errors.Is(err, provider.ErrNotFound)
}
