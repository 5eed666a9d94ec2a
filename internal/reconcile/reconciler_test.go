package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/doorbell-sync/internal/device"
	"github.com/nerrad567/doorbell-sync/internal/infrastructure/database"
	"github.com/nerrad567/doorbell-sync/internal/provider"
	"github.com/nerrad567/doorbell-sync/internal/provider/providertest"
	_ "github.com/nerrad567/doorbell-sync/migrations"
)

// fixture wires a reconciler to a fake provider and a SQLite-backed registry.
type fixture struct {
	fake      *providertest.Fake
	registry  *device.Registry
	rec       *Reconciler
	telemetry *recordingTelemetry
	changes   *changeLog
	dev       *device.Device
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	if err := registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	changes := &changeLog{}
	registry.AddChangeListener(changes.record)

	dev := &device.Device{ProviderID: "987654", Name: "Front Door", Enabled: true}
	if err := registry.CreateDevice(ctx, dev); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}

	fake := providertest.New()
	telemetry := &recordingTelemetry{}
	rec := New(fake, registry)
	rec.SetTelemetry(telemetry)
	rec.now = func() time.Time { return time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC) }

	return &fixture{
		fake:      fake,
		registry:  registry,
		rec:       rec,
		telemetry: telemetry,
		changes:   changes,
		dev:       dev,
	}
}

// current re-reads the device so each pass sees the stored state.
func (f *fixture) current(t *testing.T) device.Device {
	t.Helper()
	d, err := f.registry.GetDevice(context.Background(), f.dev.ID)
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	return *d
}

func (f *fixture) reconcile(t *testing.T) Result {
	t.Helper()
	res, err := f.rec.Reconcile(context.Background(), f.current(t))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	return res
}

type changeLog struct {
	mu     sync.Mutex
	fields []string
}

func (c *changeLog) record(_ context.Context, ch device.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fields = append(c.fields, ch.Field)
}

func (c *changeLog) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fields = nil
}

func (c *changeLog) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.fields...)
}

type recordingTelemetry struct {
	mu        sync.Mutex
	batteries []int
	events    []string
}

func (r *recordingTelemetry) RecordBattery(_ string, level int, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batteries = append(r.batteries, level)
}

func (r *recordingTelemetry) RecordEvent(_ string, kind string, _ bool, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind)
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func snapshot(battery *int) provider.Snapshot {
	return provider.Snapshot{
		ID:              "987654",
		Description:     "Front Door",
		FirmwareVersion: "1.2.3",
		Kind:            "doorbell_v3",
		BatteryLevel:    battery,
		PowerState:      provider.PowerOn,
	}
}

func motionEvent() provider.Event {
	return provider.Event{
		ID:             "ev-1",
		Kind:           provider.KindMotion,
		Timestamp:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Answered:       boolPtr(false),
		RecordingState: provider.RecordingReady,
	}
}

func TestReconcile_NewMotionEvent(t *testing.T) {
	f := newFixture(t)
	f.fake.SetDevice(snapshot(intPtr(80)))
	f.fake.SetRecentEvent("987654", motionEvent())
	f.fake.SetRecordingURL("ev-1", "https://example.com/ev-1.mp4")

	res := f.reconcile(t)

	if !res.Found || !res.HasEvent || !res.NewEvent {
		t.Fatalf("result flags = found %v event %v new %v, want all true", res.Found, res.HasEvent, res.NewEvent)
	}

	d := f.current(t)
	wantStrings := map[string]string{
		device.StateLastEventTime:  "2024-01-01T00:00:00",
		device.StateLastEvent:      "motion",
		device.StateLastMotionTime: "2024-01-01T00:00:00",
		device.StateRecordingURL:   "https://example.com/ev-1.mp4",
		device.StateFirmware:       "1.2.3",
		device.StateModel:          "doorbell_v3",
		device.StateName:           "Front Door",
	}
	for key, want := range wantStrings {
		if got := d.StateString(key); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
	if _, ok := d.StateValue(device.StateLastButtonPressTime); ok {
		t.Error("last_button_press_time should not be set for a motion event")
	}
	if v, _ := d.StateValue(device.StateOnOff); v != true {
		t.Errorf("on_off_state = %v, want true", v)
	}
	if v, _ := d.StateValue(device.StateLastAnswered); v != false {
		t.Errorf("last_answered = %v, want false", v)
	}
	if v, _ := d.StateValue(device.StateBatteryLevel); !device.ValuesEqual(v, 80) {
		t.Errorf("battery_level = %v, want 80", v)
	}
	if d.StatusIcon != "battery_75" {
		t.Errorf("status_icon = %q, want battery_75", d.StatusIcon)
	}

	if len(f.telemetry.events) != 1 || f.telemetry.events[0] != "motion" {
		t.Errorf("telemetry events = %v, want [motion]", f.telemetry.events)
	}
}

func TestReconcile_DingWritesButtonPressTime(t *testing.T) {
	f := newFixture(t)
	f.fake.SetDevice(snapshot(intPtr(60)))
	ev := motionEvent()
	ev.Kind = provider.KindDing
	ev.RecordingState = provider.RecordingPending
	f.fake.SetRecentEvent("987654", ev)

	res := f.reconcile(t)

	d := f.current(t)
	if got := d.StateString(device.StateLastButtonPressTime); got != "2024-01-01T00:00:00" {
		t.Errorf("last_button_press_time = %q, want 2024-01-01T00:00:00", got)
	}
	if _, ok := d.StateValue(device.StateLastMotionTime); ok {
		t.Error("last_motion_time should not be set for a ding")
	}
	if fr, _ := res.Field(device.StateRecordingURL); fr.Outcome != OutcomeSkipped {
		t.Errorf("recording_url outcome = %q, want skipped", fr.Outcome)
	}
	if n := f.fake.CallCount(providertest.MethodGetRecordingURL); n != 0 {
		t.Errorf("GetRecordingURL called %d times for a pending recording, want 0", n)
	}
}

func TestReconcile_CriticalBattery(t *testing.T) {
	f := newFixture(t)
	f.fake.SetDevice(snapshot(intPtr(8)))

	f.reconcile(t)

	d := f.current(t)
	if d.ErrorState != LowBatteryMessage {
		t.Errorf("error_state = %q, want %q", d.ErrorState, LowBatteryMessage)
	}
	if d.StatusIcon != "battery_critical" {
		t.Errorf("status_icon = %q, want battery_critical", d.StatusIcon)
	}

	// Recovery clears the error.
	f.fake.SetDevice(snapshot(intPtr(55)))
	f.reconcile(t)

	d = f.current(t)
	if d.ErrorState != "" {
		t.Errorf("error_state after recovery = %q, want empty", d.ErrorState)
	}
	if d.StatusIcon != "battery_50" {
		t.Errorf("status_icon after recovery = %q, want battery_50", d.StatusIcon)
	}
}

func TestReconcile_BatteryWithoutEvent(t *testing.T) {
	f := newFixture(t)
	f.fake.SetDevice(snapshot(intPtr(30)))

	res := f.reconcile(t)

	if res.HasEvent {
		t.Fatal("HasEvent = true, want false")
	}
	d := f.current(t)
	if v, _ := d.StateValue(device.StateBatteryLevel); !device.ValuesEqual(v, 30) {
		t.Errorf("battery_level = %v, want 30", v)
	}
	if got := d.StateString(device.StateLastEventTime); got != device.SentinelEventTime {
		t.Errorf("last_event_time = %q, want sentinel", got)
	}
	if len(f.telemetry.batteries) != 1 {
		t.Errorf("battery telemetry = %v, want one reading", f.telemetry.batteries)
	}
}

func TestReconcile_StaleEventIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.fake.SetDevice(snapshot(intPtr(80)))
	f.fake.SetRecentEvent("987654", motionEvent())
	f.fake.SetRecordingURL("ev-1", "https://example.com/ev-1.mp4")

	f.reconcile(t)
	f.changes.reset()

	res := f.reconcile(t)

	if res.NewEvent {
		t.Error("NewEvent = true on second pass, want false")
	}
	if got := f.changes.all(); len(got) != 0 {
		t.Errorf("second pass wrote %v, want no writes", got)
	}
	if n := f.fake.CallCount(providertest.MethodGetRecordingURL); n != 1 {
		t.Errorf("GetRecordingURL called %d times, want 1", n)
	}
}

func TestReconcile_OlderEventIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.registry.SetIfChanged(ctx, f.dev.ID, device.StateLastEventTime, "2024-06-01T00:00:00"); err != nil {
		t.Fatalf("SetIfChanged() error = %v", err)
	}
	f.fake.SetDevice(snapshot(nil))
	f.fake.SetRecentEvent("987654", motionEvent())

	res := f.reconcile(t)

	if res.NewEvent {
		t.Error("NewEvent = true for an older event, want false")
	}
	cur := f.current(t)
	if got := cur.StateString(device.StateLastEventTime); got != "2024-06-01T00:00:00" {
		t.Errorf("last_event_time = %q, want unchanged", got)
	}
}

func TestReconcile_SubSecondDifferenceIsNotNew(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.registry.SetIfChanged(ctx, f.dev.ID, device.StateLastEventTime, "2024-01-01T00:00:00"); err != nil {
		t.Fatalf("SetIfChanged() error = %v", err)
	}
	ev := motionEvent()
	ev.Timestamp = ev.Timestamp.Add(400 * time.Millisecond)
	f.fake.SetDevice(snapshot(nil))
	f.fake.SetRecentEvent("987654", ev)

	if res := f.reconcile(t); res.NewEvent {
		t.Error("NewEvent = true for the same second, want false")
	}
}

func TestReconcile_UnparseableStoredTimeIsNew(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.registry.SetIfChanged(ctx, f.dev.ID, device.StateLastEventTime, "yesterday"); err != nil {
		t.Fatalf("SetIfChanged() error = %v", err)
	}
	f.fake.SetDevice(snapshot(nil))
	f.fake.SetRecentEvent("987654", motionEvent())

	if res := f.reconcile(t); !res.NewEvent {
		t.Error("NewEvent = false with an unparseable stored time, want true")
	}
}

func TestReconcile_FallbackTier(t *testing.T) {
	f := newFixture(t)
	f.fake.SetDevice(snapshot(nil))
	ev := motionEvent()
	ev.RecordingState = provider.RecordingUnavailable
	f.fake.SetDeviceEvent("987654", ev)

	res := f.reconcile(t)

	if !res.HasEvent || !res.NewEvent {
		t.Fatalf("HasEvent %v NewEvent %v, want both true", res.HasEvent, res.NewEvent)
	}
	if n := f.fake.CallCount(providertest.MethodGetEventsForDevice); n != 1 {
		t.Errorf("GetEventsForDevice called %d times, want 1", n)
	}
}

func TestReconcile_RecentTierSkipsFallback(t *testing.T) {
	f := newFixture(t)
	f.fake.SetDevice(snapshot(nil))
	f.fake.SetRecentEvent("987654", motionEvent())

	f.reconcile(t)

	if n := f.fake.CallCount(providertest.MethodGetEventsForDevice); n != 0 {
		t.Errorf("GetEventsForDevice called %d times, want 0", n)
	}
}

func TestReconcile_SoftMiss(t *testing.T) {
	f := newFixture(t)

	res, err := f.rec.Reconcile(context.Background(), f.current(t))
	if err != nil {
		t.Fatalf("Reconcile() error = %v, want nil for an unknown device", err)
	}
	if res.Found || len(res.Fields) != 0 {
		t.Errorf("result = %+v, want empty", res)
	}
	if got := f.changes.all(); len(got) != 0 {
		t.Errorf("soft miss wrote %v", got)
	}
}

func TestReconcile_Errors(t *testing.T) {
	boom := errors.New("network unreachable")

	tests := []struct {
		name      string
		method    string
		wantStage Stage
	}{
		{"device lookup", providertest.MethodGetDevice, StageGetDevice},
		{"recent events", providertest.MethodGetRecentEvents, StageRecentEvents},
		{"device events", providertest.MethodGetEventsForDevice, StageDeviceEvents},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.fake.SetDevice(snapshot(intPtr(50)))
			f.fake.Fail(tt.method, boom)

			_, err := f.rec.Reconcile(context.Background(), f.current(t))

			var rerr *ReconcileError
			if !errors.As(err, &rerr) {
				t.Fatalf("error = %v, want *ReconcileError", err)
			}
			if rerr.Stage != tt.wantStage {
				t.Errorf("Stage = %q, want %q", rerr.Stage, tt.wantStage)
			}
			if rerr.DeviceID != f.dev.ID {
				t.Errorf("DeviceID = %q, want %q", rerr.DeviceID, f.dev.ID)
			}
			if !errors.Is(err, boom) {
				t.Error("error does not wrap the provider error")
			}
		})
	}
}

func TestReconcile_UnavailableIsNotSoftMiss(t *testing.T) {
	f := newFixture(t)
	f.fake.SetDevice(snapshot(intPtr(50)))
	f.fake.Fail(providertest.MethodGetDevice, fmt.Errorf("device 987654: broker disconnected: %w", provider.ErrUnavailable))

	_, err := f.rec.Reconcile(context.Background(), f.current(t))

	var rerr *ReconcileError
	if !errors.As(err, &rerr) || rerr.Stage != StageGetDevice {
		t.Fatalf("error = %v, want *ReconcileError at %q", err, StageGetDevice)
	}
	if !errors.Is(err, provider.ErrUnavailable) {
		t.Error("error does not wrap ErrUnavailable")
	}
	if got := f.changes.all(); len(got) != 0 {
		t.Errorf("unavailable provider wrote %v", got)
	}
}

func TestReconcile_RecordingFailureIsFieldLevel(t *testing.T) {
	f := newFixture(t)
	f.fake.SetDevice(snapshot(nil))
	f.fake.SetRecentEvent("987654", motionEvent())
	f.fake.Fail(providertest.MethodGetRecordingURL, errors.New("rate limited"))

	res, err := f.rec.Reconcile(context.Background(), f.current(t))
	if err != nil {
		t.Fatalf("Reconcile() error = %v, want nil", err)
	}

	fr, ok := res.Field(device.StateRecordingURL)
	if !ok || fr.Outcome != OutcomeFailed {
		t.Errorf("recording_url = %+v, want failed", fr)
	}
	if !slices.Contains(res.Applied(), device.StateLastMotionTime) {
		t.Errorf("applied = %v, want last_motion_time after a recording failure", res.Applied())
	}
}

// failingHost rejects one key so field isolation can be observed.
type failingHost struct {
	Host
	failKey string
}

func (h failingHost) SetIfChanged(ctx context.Context, id, key string, value any) (bool, error) {
	if key == h.failKey {
		return false, errors.New("disk full")
	}
	return h.Host.SetIfChanged(ctx, id, key, value)
}

func TestReconcile_FieldFailureDoesNotStopPass(t *testing.T) {
	f := newFixture(t)
	f.rec.host = failingHost{Host: f.registry, failKey: device.StateFirmware}
	f.fake.SetDevice(snapshot(intPtr(95)))
	f.fake.SetRecentEvent("987654", motionEvent())

	res, err := f.rec.Reconcile(context.Background(), f.current(t))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if res.Count(OutcomeFailed) != 1 {
		t.Errorf("failed fields = %d, want 1", res.Count(OutcomeFailed))
	}
	cur := f.current(t)
	if got := cur.StateString(device.StateModel); got != "doorbell_v3" {
		t.Errorf("model = %q, want doorbell_v3 despite firmware failure", got)
	}
}

func TestReconcile_UnknownPowerStateSkipped(t *testing.T) {
	f := newFixture(t)
	snap := snapshot(nil)
	snap.PowerState = provider.PowerUnknown
	f.fake.SetDevice(snap)
	f.fake.SetRecentEvent("987654", motionEvent())

	res := f.reconcile(t)

	if fr, _ := res.Field(device.StateOnOff); fr.Outcome != OutcomeSkipped {
		t.Errorf("on_off_state outcome = %q, want skipped", fr.Outcome)
	}
	cur := f.current(t)
	if _, ok := cur.StateValue(device.StateOnOff); ok {
		t.Error("on_off_state should not be written for an unknown power state")
	}
}
