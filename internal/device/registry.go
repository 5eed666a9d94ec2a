package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Change describes one applied write.
type Change struct {
	DeviceID string    `json:"device_id"`
	Field    string    `json:"field"`
	Value    any       `json:"value"`
	Previous any       `json:"previous,omitempty"`
	Source   string    `json:"source"`
	At       time.Time `json:"at"`
}

// ChangeListener is notified after a change is persisted. Listeners run
// synchronously on the writer's goroutine and must not block.
type ChangeListener func(ctx context.Context, change Change)

type sourceKey struct{}

// WithSource tags writes made with ctx. Untagged writes are SourcePoll.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return SourcePoll
}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The Registry is also the state store: SetIfChanged, SetErrorState and
// SetStatusIcon persist a value only when it differs from the cached one,
// and notify change listeners for every write they make.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device
	cacheMu sync.RWMutex

	// writeMu makes compare-then-write atomic across callers.
	writeMu sync.Mutex

	listeners  []ChangeListener
	listenerMu sync.RWMutex

	logger Logger
	now    func() time.Time
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// AddChangeListener registers a listener for applied changes.
func (r *Registry) AddChangeListener(l ChangeListener) {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Registry) notify(ctx context.Context, changes ...Change) {
	r.listenerMu.RLock()
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.listenerMu.RUnlock()

	for _, c := range changes {
		for _, l := range listeners {
			l(ctx, c)
		}
	}
}

// RefreshCache reloads all devices from the repository into the cache.
//
// Devices without a last_event_time are seeded with SentinelEventTime so the
// first event the provider reports is always treated as new.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	for i := range devices {
		d := &devices[i]
		if _, ok := d.States[StateLastEventTime]; ok {
			continue
		}
		if err := r.repo.PatchStates(ctx, d.ID, State{StateLastEventTime: SentinelEventTime}); err != nil {
			return fmt.Errorf("seeding %s for %s: %w", StateLastEventTime, d.ID, err)
		}
		if d.States == nil {
			d.States = State{}
		}
		d.States[StateLastEventTime] = SentinelEventTime
		r.logger.Debug("seeded last event time", "id", d.ID)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		r.cache[devices[i].ID] = devices[i].DeepCopy()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	device, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[id] = device.DeepCopy()
	r.cacheMu.Unlock()

	return device, nil
}

// GetByProviderID retrieves a device by the provider's identifier.
func (r *Registry) GetByProviderID(ctx context.Context, providerID string) (*Device, error) {
	r.cacheMu.RLock()
	for _, d := range r.cache {
		if d.ProviderID == providerID {
			cpy := d.DeepCopy()
			r.cacheMu.RUnlock()
			return cpy, nil
		}
	}
	r.cacheMu.RUnlock()

	return r.repo.GetByProviderID(ctx, providerID)
}

// ListDevices returns all devices in cycle order (position, name, id).
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	if len(r.cache) == 0 {
		r.cacheMu.RUnlock()
		return r.repo.List(ctx)
	}

	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		devices = append(devices, *d.DeepCopy())
	}
	r.cacheMu.RUnlock()

	sortDevices(devices)
	return devices, nil
}

// EnabledDevices returns the devices the scheduler should reconcile,
// in cycle order.
func (r *Registry) EnabledDevices(ctx context.Context) ([]Device, error) {
	all, err := r.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	enabled := all[:0]
	for _, d := range all {
		if d.Enabled {
			enabled = append(enabled, d)
		}
	}
	return enabled, nil
}

func sortDevices(devices []Device) {
	sort.SliceStable(devices, func(i, j int) bool {
		a, b := devices[i], devices[j]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}

// CreateDevice registers a new device.
//
// It generates the ID if empty, appends the device after existing ones when
// Position is zero, seeds last_event_time with the sentinel, validates
// and persists.
func (r *Registry) CreateDevice(ctx context.Context, device *Device) error {
	if device.ID == "" {
		device.ID = GenerateID()
	}
	if device.States == nil {
		device.States = State{}
	}
	if _, ok := device.States[StateLastEventTime]; !ok {
		device.States[StateLastEventTime] = SentinelEventTime
	}
	for k, v := range device.States {
		device.States[k] = NormalizeValue(v)
	}

	if err := ValidateDevice(device); err != nil {
		return err
	}

	if device.Position == 0 {
		device.Position = r.nextPosition()
	}

	if err := r.repo.Create(ctx, device); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[device.ID] = device.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device created", "id", device.ID, "provider_id", device.ProviderID, "name", device.Name)
	return nil
}

func (r *Registry) nextPosition() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	highest := 0
	for _, d := range r.cache {
		if d.Position > highest {
			highest = d.Position
		}
	}
	return highest + 1
}

// UpdateDevice persists name, enabled flag and position. Reconciled state
// is untouched; use the state store methods for that.
func (r *Registry) UpdateDevice(ctx context.Context, device *Device) error {
	if err := ValidateName(device.Name); err != nil {
		return err
	}

	existing, err := r.GetDevice(ctx, device.ID)
	if err != nil {
		return err
	}

	if err := r.repo.Update(ctx, device); err != nil {
		return err
	}

	existing.Name = device.Name
	existing.Enabled = device.Enabled
	existing.Position = device.Position
	existing.UpdatedAt = device.UpdatedAt

	r.cacheMu.Lock()
	r.cache[device.ID] = existing
	r.cacheMu.Unlock()

	r.logger.Info("device updated", "id", device.ID, "name", device.Name, "enabled", device.Enabled)
	return nil
}

// DeleteDevice removes a device.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices   int `json:"total_devices"`
	EnabledDevices int `json:"enabled_devices"`
	InError        int `json:"in_error"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{TotalDevices: len(r.cache)}
	for _, d := range r.cache {
		if d.Enabled {
			stats.EnabledDevices++
		}
		if d.ErrorState != "" {
			stats.InError++
		}
	}
	return stats
}

// cached returns the cache entry for id, loading it on a miss.
// Caller must hold writeMu and must not modify the result.
func (r *Registry) cached(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	d, ok := r.cache[id]
	r.cacheMu.RUnlock()
	if ok {
		return d, nil
	}
	if _, err := r.GetDevice(ctx, id); err != nil {
		return nil, err
	}
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return r.cache[id], nil
}

// replace swaps in an updated copy of a cache entry.
func (r *Registry) replace(d *Device) {
	r.cacheMu.Lock()
	r.cache[d.ID] = d
	r.cacheMu.Unlock()
}

// SetIfChanged writes one state key when value differs from the stored
// value after normalization. A nil value removes the key.
//
// Returns:
//   - bool: true if a write happened
//   - error: ErrDeviceNotFound, ErrInvalidStateKey, ErrInvalidState, or a persistence error
func (r *Registry) SetIfChanged(ctx context.Context, deviceID, key string, value any) (bool, error) {
	if err := ValidateStateValue(key, value); err != nil {
		return false, err
	}
	value = NormalizeValue(value)

	r.writeMu.Lock()
	current, err := r.cached(ctx, deviceID)
	if err != nil {
		r.writeMu.Unlock()
		return false, err
	}

	previous, had := current.States[key]
	if (had && ValuesEqual(previous, value)) || (!had && value == nil) {
		r.writeMu.Unlock()
		return false, nil
	}

	if err := r.repo.PatchStates(ctx, deviceID, State{key: value}); err != nil {
		r.writeMu.Unlock()
		return false, fmt.Errorf("writing %s for %s: %w", key, deviceID, err)
	}

	now := r.now().UTC()
	updated := current.DeepCopy()
	if updated.States == nil {
		updated.States = State{}
	}
	if value == nil {
		delete(updated.States, key)
	} else {
		updated.States[key] = value
	}
	updated.UpdatedAt = now
	r.replace(updated)
	r.writeMu.Unlock()

	r.notify(ctx, Change{
		DeviceID: deviceID,
		Field:    key,
		Value:    value,
		Previous: NormalizeValue(previous),
		Source:   sourceFrom(ctx),
		At:       now,
	})
	return true, nil
}

// SetErrorState sets or clears (message "") the device-level error flag.
func (r *Registry) SetErrorState(ctx context.Context, deviceID, message string) (bool, error) {
	return r.setColumn(ctx, deviceID, FieldErrorState, message,
		func(d *Device) *string { return &d.ErrorState },
		r.repo.UpdateErrorState,
	)
}

// SetStatusIcon sets the status icon classification.
func (r *Registry) SetStatusIcon(ctx context.Context, deviceID, icon string) (bool, error) {
	return r.setColumn(ctx, deviceID, FieldStatusIcon, icon,
		func(d *Device) *string { return &d.StatusIcon },
		r.repo.UpdateStatusIcon,
	)
}

func (r *Registry) setColumn(
	ctx context.Context,
	deviceID, field, value string,
	column func(*Device) *string,
	persist func(ctx context.Context, id, value string) error,
) (bool, error) {
	r.writeMu.Lock()
	current, err := r.cached(ctx, deviceID)
	if err != nil {
		r.writeMu.Unlock()
		return false, err
	}

	previous := *column(current)
	if previous == value {
		r.writeMu.Unlock()
		return false, nil
	}

	if err := persist(ctx, deviceID, value); err != nil {
		r.writeMu.Unlock()
		return false, fmt.Errorf("writing %s for %s: %w", field, deviceID, err)
	}

	now := r.now().UTC()
	updated := current.DeepCopy()
	*column(updated) = value
	updated.UpdatedAt = now
	r.replace(updated)
	r.writeMu.Unlock()

	r.notify(ctx, Change{
		DeviceID: deviceID,
		Field:    field,
		Value:    value,
		Previous: previous,
		Source:   sourceFrom(ctx),
		At:       now,
	})
	return true, nil
}
