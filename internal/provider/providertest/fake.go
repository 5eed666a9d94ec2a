// Package providertest provides an in-memory provider.Client for tests.
package providertest

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/nerrad567/doorbell-sync/internal/provider"
)

// Method names accepted by Fail and CallCount.
const (
	MethodListDevices        = "ListDevices"
	MethodGetDevice          = "GetDevice"
	MethodGetRecentEvents    = "GetRecentEvents"
	MethodGetEventsForDevice = "GetEventsForDevice"
	MethodGetRecordingURL    = "GetRecordingURL"
	MethodSetPowerOn         = "SetPowerOn"
	MethodSetPowerOff        = "SetPowerOff"
	MethodSetAlarmOn         = "SetAlarmOn"
	MethodSetAlarmOff        = "SetAlarmOff"
	MethodLogin              = "Login"
)

// Fake is a scriptable provider.Client. The zero value is not usable;
// call New.
type Fake struct {
	mu         sync.Mutex
	devices    map[string]provider.Snapshot
	recent     map[string]provider.Event
	history    map[string]provider.Event
	recordings map[string]string
	errs       map[string]error
	calls      map[string]int
	commands   []Command
}

// Command is a recorded power or alarm call.
type Command struct {
	Method   string
	DeviceID string
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		devices:    make(map[string]provider.Snapshot),
		recent:     make(map[string]provider.Event),
		history:    make(map[string]provider.Event),
		recordings: make(map[string]string),
		errs:       make(map[string]error),
		calls:      make(map[string]int),
	}
}

// SetDevice adds or replaces a device snapshot.
func (f *Fake) SetDevice(s provider.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[s.ID] = s
}

// RemoveDevice drops a device.
func (f *Fake) RemoveDevice(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.devices, id)
}

// SetRecentEvent places an event in the bulk recent-events map.
func (f *Fake) SetRecentEvent(deviceID string, ev provider.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recent[deviceID] = ev
}

// SetDeviceEvent places an event behind the per-device lookup only.
func (f *Fake) SetDeviceEvent(deviceID string, ev provider.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[deviceID] = ev
}

// SetRecordingURL registers a URL for an event id.
func (f *Fake) SetRecordingURL(eventID, url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordings[eventID] = url
}

// Fail makes method return err until cleared with a nil err.
func (f *Fake) Fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, method)
		return
	}
	f.errs[method] = err
}

// CallCount returns how many times method was called.
func (f *Fake) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// TotalCalls returns the number of calls across all methods.
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// Commands returns the recorded power and alarm calls in order.
func (f *Fake) Commands() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.commands...)
}

// enter records a call and returns the scripted error, if any.
// Caller must hold f.mu.
func (f *Fake) enter(method string) error {
	f.calls[method]++
	return f.errs[method]
}

func (f *Fake) ListDevices(context.Context) (map[string]provider.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodListDevices); err != nil {
		return nil, err
	}
	return maps.Clone(f.devices), nil
}

func (f *Fake) GetDevice(_ context.Context, id string) (provider.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodGetDevice); err != nil {
		return provider.Snapshot{}, err
	}
	s, ok := f.devices[id]
	if !ok {
		return provider.Snapshot{}, fmt.Errorf("device %s: %w", id, provider.ErrNotFound)
	}
	return s, nil
}

func (f *Fake) GetRecentEvents(context.Context) (map[string]provider.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodGetRecentEvents); err != nil {
		return nil, err
	}
	return maps.Clone(f.recent), nil
}

func (f *Fake) GetEventsForDevice(_ context.Context, id string) (provider.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodGetEventsForDevice); err != nil {
		return provider.Event{}, err
	}
	ev, ok := f.history[id]
	if !ok {
		return provider.Event{}, fmt.Errorf("events for %s: %w", id, provider.ErrNotFound)
	}
	return ev, nil
}

func (f *Fake) GetRecordingURL(_ context.Context, eventID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodGetRecordingURL); err != nil {
		return "", err
	}
	url, ok := f.recordings[eventID]
	if !ok {
		return "", fmt.Errorf("recording %s: %w", eventID, provider.ErrNotFound)
	}
	return url, nil
}

func (f *Fake) SetPowerOn(_ context.Context, id string) error {
	return f.command(MethodSetPowerOn, id)
}

func (f *Fake) SetPowerOff(_ context.Context, id string) error {
	return f.command(MethodSetPowerOff, id)
}

func (f *Fake) SetAlarmOn(_ context.Context, id string) error {
	return f.command(MethodSetAlarmOn, id)
}

func (f *Fake) SetAlarmOff(_ context.Context, id string) error {
	return f.command(MethodSetAlarmOff, id)
}

func (f *Fake) Login(context.Context, bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enter(MethodLogin)
}

func (f *Fake) command(method, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(method); err != nil {
		return err
	}
	f.commands = append(f.commands, Command{Method: method, DeviceID: id})
	return nil
}

var _ provider.Client = (*Fake)(nil)
