package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/doorbell-sync/internal/device"
	"github.com/nerrad567/doorbell-sync/internal/provider"
)

// Host is the device record the reconciler writes to. *device.Registry
// satisfies it.
type Host interface {
	SetIfChanged(ctx context.Context, deviceID, key string, value any) (bool, error)
	SetErrorState(ctx context.Context, deviceID, message string) (bool, error)
	SetStatusIcon(ctx context.Context, deviceID, icon string) (bool, error)
}

// Telemetry receives readings as they are observed. *influxdb.Client
// satisfies it.
type Telemetry interface {
	RecordBattery(deviceID string, level int, at time.Time)
	RecordEvent(deviceID, kind string, answered bool, at time.Time)
}

// Logger is the logging surface used by the reconciler.
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

// Reconciler performs single-device passes. It holds no per-device state;
// one Reconciler serves every device.
type Reconciler struct {
	client    provider.Client
	host      Host
	telemetry Telemetry
	logger    Logger
	now       func() time.Time
}

// New creates a Reconciler.
func New(client provider.Client, host Host) *Reconciler {
	return &Reconciler{
		client: client,
		host:   host,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger.
func (r *Reconciler) SetLogger(logger Logger) {
	r.logger = logger
}

// SetTelemetry sets an optional telemetry sink.
func (r *Reconciler) SetTelemetry(t Telemetry) {
	r.telemetry = t
}

// Reconcile runs one pass for dev.
//
// Returns:
//   - Result: per-field outcomes; empty with Found=false on a soft miss
//   - error: *ReconcileError when a provider lookup fails
func (r *Reconciler) Reconcile(ctx context.Context, dev device.Device) (Result, error) {
	res := Result{DeviceID: dev.ID}

	snap, err := r.client.GetDevice(ctx, dev.ProviderID)
	if errors.Is(err, provider.ErrNotFound) {
		r.logger.Debug("device not reported by provider", "device_id", dev.ID, "provider_id", dev.ProviderID)
		return res, nil
	}
	if err != nil {
		return res, &ReconcileError{DeviceID: dev.ID, Stage: StageGetDevice, Err: err}
	}
	res.Found = true

	ev, hasEvent, err := r.lookupEvent(ctx, dev)
	if err != nil {
		return res, err
	}
	res.HasEvent = hasEvent

	isNew := false
	if hasEvent {
		isNew = r.isNewEvent(dev, ev)
	}
	res.NewEvent = isNew

	r.applyBattery(ctx, dev, snap, &res)

	if !hasEvent {
		r.logger.Debug("no event for device", "device_id", dev.ID)
		return res, nil
	}
	if isNew {
		r.applyEvent(ctx, dev, snap, ev, &res)
	}

	r.logFailures(dev, res)
	return res, nil
}

// lookupEvent checks the bulk recent-events map first, then the
// per-device lookup. ok is false when neither tier has an event.
func (r *Reconciler) lookupEvent(ctx context.Context, dev device.Device) (provider.Event, bool, error) {
	recent, err := r.client.GetRecentEvents(ctx)
	if err != nil && !errors.Is(err, provider.ErrNotFound) {
		return provider.Event{}, false, &ReconcileError{DeviceID: dev.ID, Stage: StageRecentEvents, Err: err}
	}
	if ev, ok := recent[dev.ProviderID]; ok {
		r.logger.Debug("recent event found", "device_id", dev.ID, "recent_count", len(recent))
		return ev, true, nil
	}

	ev, err := r.client.GetEventsForDevice(ctx, dev.ProviderID)
	if errors.Is(err, provider.ErrNotFound) {
		return provider.Event{}, false, nil
	}
	if err != nil {
		return provider.Event{}, false, &ReconcileError{DeviceID: dev.ID, Stage: StageDeviceEvents, Err: err}
	}
	return ev, true, nil
}

// isNewEvent compares the event with the stored last_event_time at
// one-second resolution, the precision of the stored format.
func (r *Reconciler) isNewEvent(dev device.Device, ev provider.Event) bool {
	stored, _ := dev.StateValue(device.StateLastEventTime)
	if device.IsSentinel(stored) {
		return true
	}

	s, ok := stored.(string)
	if !ok {
		r.logger.Warn("stored last event time is not a string, treating event as new",
			"device_id", dev.ID, "value", stored)
		return true
	}
	storedAt, err := device.ParseTime(s)
	if err != nil {
		r.logger.Warn("failed to parse stored last event time, treating event as new",
			"device_id", dev.ID, "value", s, "error", err)
		return true
	}
	if ev.Timestamp.IsZero() {
		r.logger.Warn("event has no timestamp, treating as new", "device_id", dev.ID, "event_id", ev.ID)
		return true
	}

	eventAt := ev.Timestamp.UTC().Truncate(time.Second)
	switch {
	case eventAt.After(storedAt):
		return true
	case eventAt.Before(storedAt):
		r.logger.Warn("provider event is older than stored last event time",
			"device_id", dev.ID,
			"event_time", device.FormatTime(eventAt),
			"stored_time", s,
		)
		return false
	default:
		return false
	}
}

func (r *Reconciler) applyBattery(ctx context.Context, dev device.Device, snap provider.Snapshot, res *Result) {
	if snap.BatteryLevel == nil {
		res.Fields = append(res.Fields, FieldResult{Field: device.StateBatteryLevel, Outcome: OutcomeSkipped})
		return
	}

	level := *snap.BatteryLevel
	tier, ok := ClassifyBattery(level)
	if !ok {
		r.logger.Debug("battery level out of range", "device_id", dev.ID, "level", level)
		res.Fields = append(res.Fields, FieldResult{Field: device.StateBatteryLevel, Value: level, Outcome: OutcomeSkipped})
		return
	}

	r.logger.Debug("received battery level", "device_id", dev.ID, "level", level)
	r.set(ctx, dev.ID, device.StateBatteryLevel, level, res)

	changed, err := r.host.SetStatusIcon(ctx, dev.ID, tier.Icon)
	res.Fields = append(res.Fields, fieldResult(device.FieldStatusIcon, tier.Icon, changed, err))

	message := ""
	if tier.Critical {
		message = LowBatteryMessage
	}
	changed, err = r.host.SetErrorState(ctx, dev.ID, message)
	res.Fields = append(res.Fields, fieldResult(device.FieldErrorState, message, changed, err))

	if r.telemetry != nil {
		r.telemetry.RecordBattery(dev.ID, level, r.now())
	}
}

func (r *Reconciler) applyEvent(ctx context.Context, dev device.Device, snap provider.Snapshot, ev provider.Event, res *Result) {
	r.setString(ctx, dev.ID, device.StateName, snap.Description, res)
	r.set(ctx, dev.ID, device.StateLastEvent, string(ev.Kind), res)

	eventTime := ""
	if !ev.Timestamp.IsZero() {
		eventTime = device.FormatTime(ev.Timestamp)
	}
	r.setString(ctx, dev.ID, device.StateLastEventTime, eventTime, res)

	if ev.Answered != nil {
		r.set(ctx, dev.ID, device.StateLastAnswered, *ev.Answered, res)
	} else {
		res.Fields = append(res.Fields, FieldResult{Field: device.StateLastAnswered, Outcome: OutcomeSkipped})
	}

	r.setString(ctx, dev.ID, device.StateFirmware, snap.FirmwareVersion, res)
	r.setString(ctx, dev.ID, device.StateModel, snap.Kind, res)

	if snap.PowerState.Known() {
		r.set(ctx, dev.ID, device.StateOnOff, snap.PowerState == provider.PowerOn, res)
	} else {
		res.Fields = append(res.Fields, FieldResult{Field: device.StateOnOff, Outcome: OutcomeSkipped})
	}

	r.applyRecording(ctx, dev, ev, res)

	timeKey := device.StateLastButtonPressTime
	if ev.Kind == provider.KindMotion {
		timeKey = device.StateLastMotionTime
	}
	r.setString(ctx, dev.ID, timeKey, eventTime, res)

	if r.telemetry != nil && !ev.Timestamp.IsZero() {
		answered := ev.Answered != nil && *ev.Answered
		r.telemetry.RecordEvent(dev.ID, string(ev.Kind), answered, ev.Timestamp)
	}
}

func (r *Reconciler) applyRecording(ctx context.Context, dev device.Device, ev provider.Event, res *Result) {
	if ev.RecordingState != provider.RecordingReady || ev.ID == "" {
		res.Fields = append(res.Fields, FieldResult{Field: device.StateRecordingURL, Outcome: OutcomeSkipped})
		return
	}

	url, err := r.client.GetRecordingURL(ctx, ev.ID)
	switch {
	case errors.Is(err, provider.ErrNotFound) || (err == nil && url == ""):
		res.Fields = append(res.Fields, FieldResult{Field: device.StateRecordingURL, Outcome: OutcomeSkipped})
	case err != nil:
		res.Fields = append(res.Fields, FieldResult{Field: device.StateRecordingURL, Outcome: OutcomeFailed, Err: err})
	default:
		r.set(ctx, dev.ID, device.StateRecordingURL, url, res)
	}
}

// setString skips empty values; the provider omitting an attribute must
// not blank the stored one.
func (r *Reconciler) setString(ctx context.Context, deviceID, key, value string, res *Result) {
	if value == "" {
		res.Fields = append(res.Fields, FieldResult{Field: key, Outcome: OutcomeSkipped})
		return
	}
	r.set(ctx, deviceID, key, value, res)
}

func (r *Reconciler) set(ctx context.Context, deviceID, key string, value any, res *Result) {
	changed, err := r.host.SetIfChanged(ctx, deviceID, key, value)
	res.Fields = append(res.Fields, fieldResult(key, value, changed, err))
}

func fieldResult(field string, value any, changed bool, err error) FieldResult {
	switch {
	case err != nil:
		return FieldResult{Field: field, Value: value, Outcome: OutcomeFailed, Err: err}
	case changed:
		return FieldResult{Field: field, Value: value, Outcome: OutcomeApplied}
	default:
		return FieldResult{Field: field, Value: value, Outcome: OutcomeUnchanged}
	}
}

func (r *Reconciler) logFailures(dev device.Device, res Result) {
	for _, f := range res.Fields {
		if f.Outcome == OutcomeFailed {
			r.logger.Debug("field update failed", "device_id", dev.ID, "field", f.Field, "error", f.Err)
		}
	}
}
