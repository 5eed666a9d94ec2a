package engine

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/nerrad567/doorbell-sync/internal/device"
	"github.com/nerrad567/doorbell-sync/internal/infrastructure/database"
	"github.com/nerrad567/doorbell-sync/internal/infrastructure/mqtt"
	"github.com/nerrad567/doorbell-sync/internal/provider"
	"github.com/nerrad567/doorbell-sync/internal/provider/providertest"
	_ "github.com/nerrad567/doorbell-sync/migrations"
)

func setupRegistry(t *testing.T) *device.Registry {
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
	return registry
}

type tracker struct {
	mu     sync.Mutex
	values []bool
}

func (tr *tracker) SetAuthFailed(failed bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.values = append(tr.values, failed)
}

func (tr *tracker) last() (bool, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.values) == 0 {
		return false, false
	}
	return tr.values[len(tr.values)-1], true
}

type sourceLog struct {
	mu      sync.Mutex
	changes []device.Change
}

func (s *sourceLog) record(_ context.Context, c device.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, c)
}

func (s *sourceLog) all() []device.Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]device.Change(nil), s.changes...)
}

func frontDoor() provider.Snapshot {
	return provider.Snapshot{
		ID:              "987654",
		Description:     "Front Door",
		FirmwareVersion: "1.2.3",
		Kind:            "doorbell_v3",
	}
}

// newEngine returns an engine with one registered device.
func newEngine(t *testing.T) (*Engine, *providertest.Fake, *device.Registry, *device.Device) {
	t.Helper()
	fake := providertest.New()
	fake.SetDevice(frontDoor())
	registry := setupRegistry(t)
	e := New(fake, registry, nil)

	d, err := e.RegisterDevice(context.Background(), "987654", "")
	if err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}
	return e, fake, registry, d
}

func TestLogin(t *testing.T) {
	fake := providertest.New()
	fake.SetDevice(frontDoor())
	e := New(fake, setupRegistry(t), nil)
	tr := &tracker{}
	e.SetAuthTracker(tr)

	fake.Fail(providertest.MethodLogin, provider.ErrAuthFailed)
	err := e.Login(context.Background(), true)
	if !errors.Is(err, provider.ErrAuthFailed) {
		t.Fatalf("Login() error = %v, want ErrAuthFailed", err)
	}
	if v, _ := tr.last(); !v || !e.AuthFailed() {
		t.Error("auth flag not set after failed login")
	}

	fake.Fail(providertest.MethodLogin, nil)
	if err := e.Login(context.Background(), false); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if v, _ := tr.last(); v || e.AuthFailed() {
		t.Error("auth flag not cleared after successful login")
	}
	if n := fake.CallCount(providertest.MethodListDevices); n != 1 {
		t.Errorf("ListDevices called %d times after login, want 1", n)
	}
}

func TestLogin_ListFailureIsNotFatal(t *testing.T) {
	fake := providertest.New()
	fake.Fail(providertest.MethodListDevices, errors.New("timeout"))
	e := New(fake, setupRegistry(t), nil)

	if err := e.Login(context.Background(), true); err != nil {
		t.Errorf("Login() error = %v, want nil", err)
	}
}

func TestSetAuthTracker_PushesCurrentState(t *testing.T) {
	fake := providertest.New()
	fake.Fail(providertest.MethodLogin, provider.ErrAuthFailed)
	e := New(fake, setupRegistry(t), nil)
	_ = e.Login(context.Background(), true)

	tr := &tracker{}
	e.SetAuthTracker(tr)

	if v, ok := tr.last(); !ok || !v {
		t.Error("new tracker did not receive the failed login state")
	}
}

func TestRegisterDevice(t *testing.T) {
	e, _, registry, d := newEngine(t)

	got, err := registry.GetDevice(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if got.Name != "Front Door" {
		t.Errorf("Name = %q, want provider description", got.Name)
	}
	want := map[string]string{
		device.StateName:          "Front Door",
		device.StateModel:         "doorbell_v3",
		device.StateFirmware:      "1.2.3",
		device.StateLastEventTime: device.SentinelEventTime,
	}
	for k, v := range want {
		if s := got.StateString(k); s != v {
			t.Errorf("%s = %q, want %q", k, s, v)
		}
	}

	if _, err := e.RegisterDevice(context.Background(), "987654", "Again"); !errors.Is(err, device.ErrDeviceExists) {
		t.Errorf("duplicate RegisterDevice() error = %v, want ErrDeviceExists", err)
	}
	if _, err := e.RegisterDevice(context.Background(), "missing", ""); !errors.Is(err, provider.ErrNotFound) {
		t.Errorf("unknown RegisterDevice() error = %v, want ErrNotFound", err)
	}
}

func TestAvailableDevices(t *testing.T) {
	e, fake, _, _ := newEngine(t)
	fake.SetDevice(provider.Snapshot{ID: "222", Description: "Back Door"})
	fake.SetDevice(provider.Snapshot{ID: "333", Description: "Side Gate"})

	got, err := e.AvailableDevices(context.Background())
	if err != nil {
		t.Fatalf("AvailableDevices() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "222" || got[1].ID != "333" {
		t.Errorf("AvailableDevices() = %+v, want [222 333]", got)
	}
}

func TestActions(t *testing.T) {
	tests := []struct {
		action     string
		wantMethod string
		wantKey    string
		wantValue  bool
	}{
		{ActionTurnOn, providertest.MethodSetPowerOn, device.StateOnOff, true},
		{ActionTurnOff, providertest.MethodSetPowerOff, device.StateOnOff, false},
		{ActionSirenOn, providertest.MethodSetAlarmOn, device.StateSirenOn, true},
		{ActionSirenOff, providertest.MethodSetAlarmOff, device.StateSirenOn, false},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			e, fake, registry, d := newEngine(t)
			log := &sourceLog{}
			registry.AddChangeListener(log.record)

			if err := e.Do(context.Background(), d.ID, tt.action); err != nil {
				t.Fatalf("Do() error = %v", err)
			}

			cmds := fake.Commands()
			if len(cmds) != 1 || cmds[0].Method != tt.wantMethod || cmds[0].DeviceID != "987654" {
				t.Errorf("commands = %+v, want one %s for 987654", cmds, tt.wantMethod)
			}
			got, _ := registry.GetDevice(context.Background(), d.ID)
			if v, _ := got.StateValue(tt.wantKey); v != tt.wantValue {
				t.Errorf("%s = %v, want %v", tt.wantKey, v, tt.wantValue)
			}
			changes := log.all()
			if len(changes) != 1 || changes[0].Source != device.SourceCommand {
				t.Errorf("changes = %+v, want one command-sourced change", changes)
			}
		})
	}
}

func TestAction_ProviderFailureLeavesState(t *testing.T) {
	e, fake, registry, d := newEngine(t)
	fake.Fail(providertest.MethodSetPowerOn, provider.ErrCommandRejected)

	err := e.TurnOn(context.Background(), d.ID)
	if !errors.Is(err, provider.ErrCommandRejected) {
		t.Fatalf("TurnOn() error = %v, want ErrCommandRejected", err)
	}
	got, _ := registry.GetDevice(context.Background(), d.ID)
	if _, ok := got.StateValue(device.StateOnOff); ok {
		t.Error("on_off_state written despite provider failure")
	}
}

func TestToggle(t *testing.T) {
	e, fake, registry, d := newEngine(t)
	ctx := context.Background()

	// No stored state counts as off.
	if err := e.Toggle(ctx, d.ID); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if err := e.Toggle(ctx, d.ID); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}

	cmds := fake.Commands()
	if len(cmds) != 2 || cmds[0].Method != providertest.MethodSetPowerOn || cmds[1].Method != providertest.MethodSetPowerOff {
		t.Errorf("commands = %+v, want on then off", cmds)
	}
	got, _ := registry.GetDevice(ctx, d.ID)
	if v, _ := got.StateValue(device.StateOnOff); v != false {
		t.Errorf("on_off_state = %v, want false", v)
	}
}

func TestDo_Errors(t *testing.T) {
	e, _, registry, d := newEngine(t)
	ctx := context.Background()

	if err := e.Do(ctx, d.ID, "explode"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("Do(unknown) error = %v, want ErrUnknownAction", err)
	}
	if err := e.Do(ctx, "no-such-device", ActionTurnOn); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("Do(missing device) error = %v, want ErrDeviceNotFound", err)
	}

	disabled := *d
	disabled.Enabled = false
	if err := registry.UpdateDevice(ctx, &disabled); err != nil {
		t.Fatalf("UpdateDevice() error = %v", err)
	}
	if err := e.Do(ctx, d.ID, ActionTurnOn); !errors.Is(err, ErrDeviceDisabled) {
		t.Errorf("Do(disabled) error = %v, want ErrDeviceDisabled", err)
	}
}

func TestHandleCommand(t *testing.T) {
	e, fake, _, d := newEngine(t)

	if err := e.HandleCommand(mqtt.Topics{}.DeviceCommand(d.ID, ActionSirenOn), nil); err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}
	if cmds := fake.Commands(); len(cmds) != 1 || cmds[0].Method != providertest.MethodSetAlarmOn {
		t.Errorf("commands = %+v, want SetAlarmOn", cmds)
	}

	if err := e.HandleCommand("doorbellsync/state/x", nil); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("HandleCommand(bad topic) error = %v, want ErrInvalidPayload", err)
	}
}

func TestHandleLogin(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{"empty", "", nil},
		{"force false", `{"force":false}`, nil},
		{"force true", `{"force":true}`, nil},
		{"malformed", `{force`, ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := providertest.New()
			e := New(fake, setupRegistry(t), nil)

			err := e.HandleLogin(mqtt.Topics{}.CoreLogin(), []byte(tt.payload))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("HandleLogin() error = %v, want %v", err, tt.wantErr)
			}
			wantCalls := 1
			if tt.wantErr != nil {
				wantCalls = 0
			}
			if n := fake.CallCount(providertest.MethodLogin); n != wantCalls {
				t.Errorf("Login called %d times, want %d", n, wantCalls)
			}
		})
	}
}

type fakeSubscriber struct {
	topics []string
}

func (f *fakeSubscriber) Subscribe(topic string, _ byte, _ mqtt.MessageHandler) error {
	f.topics = append(f.topics, topic)
	return nil
}

func TestSubscribe(t *testing.T) {
	e := New(providertest.New(), setupRegistry(t), nil)
	sub := &fakeSubscriber{}

	if err := e.Subscribe(sub, 1); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	want := []string{mqtt.Topics{}.AllCommands(), mqtt.Topics{}.CoreLogin()}
	if len(sub.topics) != 2 || sub.topics[0] != want[0] || sub.topics[1] != want[1] {
		t.Errorf("topics = %v, want %v", sub.topics, want)
	}
}

type fakePublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
	retained []bool
}

func (f *fakePublisher) PublishJSON(topic string, v any, retained bool) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, data)
	f.retained = append(f.retained, retained)
	return nil
}

type fakeHub struct {
	mu       sync.Mutex
	channels [][]string
	payloads []any
}

func (h *fakeHub) Broadcast(channels []string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channels = append(h.channels, channels)
	h.payloads = append(h.payloads, payload)
}

func TestStateListeners(t *testing.T) {
	e, _, registry, d := newEngine(t)
	pub := &fakePublisher{}
	hub := &fakeHub{}
	registry.AddChangeListener(StatePublisher(pub, registry, nil))
	registry.AddChangeListener(HubListener(hub))

	if err := e.TurnOn(context.Background(), d.ID); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}

	if len(pub.topics) != 1 || pub.topics[0] != (mqtt.Topics{}).DeviceState(d.ID) || !pub.retained[0] {
		t.Fatalf("published = %v retained %v, want one retained state message", pub.topics, pub.retained)
	}
	var msg StateMessage
	if err := json.Unmarshal(pub.payloads[0], &msg); err != nil {
		t.Fatalf("state payload is not JSON: %v", err)
	}
	if msg.Field != device.StateOnOff || msg.Source != device.SourceCommand || msg.States[device.StateOnOff] != true {
		t.Errorf("state message = %+v", msg)
	}

	want := []string{ChannelStateChanged, DeviceChannel(d.ID)}
	if len(hub.channels) != 1 || !slices.Equal(hub.channels[0], want) {
		t.Errorf("broadcast channels = %v, want [%v]", hub.channels, want)
	}
	if c, ok := hub.payloads[0].(device.Change); !ok || c.DeviceID != d.ID {
		t.Errorf("broadcast payload = %#v, want device.Change", hub.payloads[0])
	}
}

func TestDeviceChannel(t *testing.T) {
	if got := DeviceChannel("abc-123"); got != "device.abc-123.state_changed" {
		t.Errorf("DeviceChannel() = %q", got)
	}

	tests := []struct {
		channel string
		wantID  string
		wantOK  bool
	}{
		{"device.abc-123.state_changed", "abc-123", true},
		{ChannelStateChanged, "", false},
		{"device..state_changed", "", false},
		{"device.a.b.state_changed", "", false},
		{"device.abc-123.battery", "", false},
		{"scheduler.abc.state_changed", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			id, ok := ParseDeviceChannel(tt.channel)
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("ParseDeviceChannel() = %q, %v; want %q, %v", id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}
