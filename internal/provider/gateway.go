package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/doorbell-sync/internal/infrastructure/config"
	"github.com/nerrad567/doorbell-sync/internal/infrastructure/mqtt"
)

const gatewayQoS = 1

var _ Client = (*Gateway)(nil)

// Request actions understood by the bridge.
const (
	actionLogin        = "login"
	actionPowerOn      = "power_on"
	actionPowerOff     = "power_off"
	actionAlarmOn      = "alarm_on"
	actionAlarmOff     = "alarm_off"
	actionRecordingURL = "recording_url"
)

// Bus is the broker surface the gateway needs. *mqtt.Client satisfies it.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Logger is the logging surface used by the gateway.
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

// Gateway implements Client over MQTT.
//
// Device snapshots and events are cached from retained topics, so reads
// never block on the broker. Commands, login and uncached recording lookups
// are request/reply with a per-request timeout.
//
// The cache is only served while it is live. Reads and requests fail with
// ErrUnavailable when the broker connection is down, when the bridge's
// {prefix}/status topic says offline (or has not said online yet), or when
// StaleAfter is set and nothing has arrived from the bridge for that long.
//
// Buffers are bounded: recent events older than the configured window are
// pruned on read, and the recording URL cache evicts oldest-first once it
// holds MaxRecordings entries.
type Gateway struct {
	bus           Bus
	prefix        string
	timeout       time.Duration
	window        time.Duration
	maxRecordings int
	staleAfter    time.Duration
	now           func() time.Time

	mu         sync.RWMutex
	devices    map[string]Snapshot
	recent     map[string]Event
	latest     map[string]Event
	recordings map[string]string
	recOrder   []string
	pending    map[string]chan replyMessage
	online     bool
	lastSeen   time.Time

	logger Logger
}

// NewGateway creates a gateway. Call Start to subscribe.
func NewGateway(bus Bus, cfg config.ProviderConfig) *Gateway {
	return &Gateway{
		bus:           bus,
		prefix:        strings.TrimSuffix(cfg.TopicPrefix, "/"),
		timeout:       cfg.RequestTimeout,
		window:        cfg.EventWindow,
		maxRecordings: cfg.MaxRecordings,
		staleAfter:    cfg.StaleAfter,
		now:           time.Now,
		devices:       make(map[string]Snapshot),
		recent:        make(map[string]Event),
		latest:        make(map[string]Event),
		recordings:    make(map[string]string),
		pending:       make(map[string]chan replyMessage),
		logger:        noopLogger{},
	}
}

// SetLogger sets the logger.
func (g *Gateway) SetLogger(logger Logger) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.logger = logger
}

func (g *Gateway) log() Logger {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.logger
}

// Start subscribes to the bridge's topics.
func (g *Gateway) Start() error {
	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{g.topic("devices", "+"), g.handleDevice},
		{g.topic("events", "+"), g.handleEvent},
		{g.topic("recordings", "+"), g.handleRecording},
		{g.topic("reply", "+"), g.handleReply},
		{g.topic("status"), g.handleStatus},
	}
	for _, s := range subs {
		if err := g.bus.Subscribe(s.topic, gatewayQoS, s.handler); err != nil {
			return fmt.Errorf("subscribing to %s: %w", s.topic, err)
		}
	}
	return nil
}

// Stop unsubscribes. Pending requests time out on their own.
func (g *Gateway) Stop() error {
	var firstErr error
	for _, kind := range []string{"devices", "events", "recordings", "reply"} {
		if err := g.bus.Unsubscribe(g.topic(kind, "+")); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := g.bus.Unsubscribe(g.topic("status")); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (g *Gateway) topic(parts ...string) string {
	return g.prefix + "/" + strings.Join(parts, "/")
}

// suffix returns the last topic level after {prefix}/{kind}/.
func (g *Gateway) suffix(kind, topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, g.topic(kind)+"/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func (g *Gateway) handleDevice(topic string, payload []byte) error {
	id, ok := g.suffix("devices", topic)
	if !ok {
		return fmt.Errorf("unexpected device topic %q", topic)
	}

	if len(payload) == 0 {
		g.mu.Lock()
		g.lastSeen = g.now()
		delete(g.devices, id)
		delete(g.recent, id)
		delete(g.latest, id)
		g.mu.Unlock()
		g.log().Info("provider device removed", "provider_id", id)
		return nil
	}

	snap, err := decodeSnapshot(id, payload)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.lastSeen = g.now()
	g.devices[id] = snap
	g.mu.Unlock()
	return nil
}

func (g *Gateway) handleEvent(topic string, payload []byte) error {
	id, ok := g.suffix("events", topic)
	if !ok {
		return fmt.Errorf("unexpected event topic %q", topic)
	}
	if len(payload) == 0 {
		return nil
	}

	ev, err := decodeEvent(payload)
	if err != nil {
		return err
	}
	if ev.Timestamp.IsZero() {
		g.log().Debug("provider event without usable timestamp", "provider_id", id, "event_id", ev.ID)
	}

	g.mu.Lock()
	g.lastSeen = g.now()
	g.recent[id] = ev
	g.latest[id] = ev
	g.mu.Unlock()
	return nil
}

func (g *Gateway) handleRecording(topic string, payload []byte) error {
	eventID, ok := g.suffix("recordings", topic)
	if !ok {
		return fmt.Errorf("unexpected recording topic %q", topic)
	}

	var msg recordingMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding recording %s: %w", eventID, err)
	}
	if msg.URL == "" {
		return nil
	}

	g.mu.Lock()
	g.lastSeen = g.now()
	g.cacheRecordingLocked(eventID, msg.URL)
	g.mu.Unlock()
	return nil
}

func (g *Gateway) handleReply(topic string, payload []byte) error {
	requestID, ok := g.suffix("reply", topic)
	if !ok {
		return fmt.Errorf("unexpected reply topic %q", topic)
	}

	var msg replyMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding reply %s: %w", requestID, err)
	}

	g.mu.Lock()
	g.lastSeen = g.now()
	ch, waiting := g.pending[requestID]
	g.mu.Unlock()
	if !waiting {
		return nil
	}

	select {
	case ch <- msg:
	default:
	}
	return nil
}

func (g *Gateway) handleStatus(_ string, payload []byte) error {
	online, err := decodeStatus(payload)
	if err != nil {
		return err
	}

	g.mu.Lock()
	changed := g.online != online
	g.online = online
	g.lastSeen = g.now()
	logger := g.logger
	g.mu.Unlock()

	if changed {
		if online {
			logger.Info("provider bridge online")
		} else {
			logger.Warn("provider bridge offline")
		}
	}
	return nil
}

// available returns nil when the broker is connected and the bridge is
// online and not stale.
func (g *Gateway) available() error {
	if !g.bus.IsConnected() {
		return fmt.Errorf("broker disconnected: %w", ErrUnavailable)
	}

	g.mu.RLock()
	online, lastSeen := g.online, g.lastSeen
	g.mu.RUnlock()

	if !online {
		return fmt.Errorf("bridge offline: %w", ErrUnavailable)
	}
	if g.staleAfter > 0 {
		if quiet := g.now().Sub(lastSeen); quiet > g.staleAfter {
			return fmt.Errorf("bridge silent for %v: %w", quiet.Truncate(time.Second), ErrUnavailable)
		}
	}
	return nil
}

// Available reports whether the gateway's view of the provider is live.
func (g *Gateway) Available() bool {
	return g.available() == nil
}

// HealthCheck satisfies the API health check contract.
func (g *Gateway) HealthCheck(context.Context) error {
	return g.available()
}

// cacheRecordingLocked stores a URL, evicting the oldest beyond the cap.
// Caller must hold g.mu.
func (g *Gateway) cacheRecordingLocked(eventID, url string) {
	if _, exists := g.recordings[eventID]; !exists {
		g.recOrder = append(g.recOrder, eventID)
	}
	g.recordings[eventID] = url

	if g.maxRecordings <= 0 {
		return
	}
	for len(g.recOrder) > g.maxRecordings {
		oldest := g.recOrder[0]
		g.recOrder = g.recOrder[1:]
		delete(g.recordings, oldest)
	}
}

// ListDevices returns a copy of the cached device snapshots.
func (g *Gateway) ListDevices(ctx context.Context) (map[string]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := g.available(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return maps.Clone(g.devices), nil
}

// GetDevice returns a cached snapshot or ErrNotFound.
func (g *Gateway) GetDevice(ctx context.Context, id string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	if err := g.available(); err != nil {
		return Snapshot{}, fmt.Errorf("device %s: %w", id, err)
	}
	g.mu.RLock()
	snap, ok := g.devices[id]
	g.mu.RUnlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	return snap, nil
}

// GetRecentEvents returns events seen within the event window. Older
// entries are pruned from the recent buffer as a side effect; they remain
// reachable through GetEventsForDevice.
func (g *Gateway) GetRecentEvents(ctx context.Context) (map[string]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := g.available(); err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.window > 0 {
		cutoff := g.now().Add(-g.window)
		for id, ev := range g.recent {
			if !ev.Timestamp.IsZero() && ev.Timestamp.Before(cutoff) {
				delete(g.recent, id)
			}
		}
	}
	return maps.Clone(g.recent), nil
}

// GetEventsForDevice returns the newest event ever received for a device.
func (g *Gateway) GetEventsForDevice(ctx context.Context, id string) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if err := g.available(); err != nil {
		return Event{}, fmt.Errorf("events for %s: %w", id, err)
	}
	g.mu.RLock()
	ev, ok := g.latest[id]
	g.mu.RUnlock()
	if !ok {
		return Event{}, fmt.Errorf("events for %s: %w", id, ErrNotFound)
	}
	return ev, nil
}

// GetRecordingURL returns a cached URL or asks the bridge for one. Cached
// URLs are served while the bridge is unavailable; lookups are not.
func (g *Gateway) GetRecordingURL(ctx context.Context, eventID string) (string, error) {
	g.mu.RLock()
	url, ok := g.recordings[eventID]
	g.mu.RUnlock()
	if ok {
		return url, nil
	}

	reply, err := g.request(ctx, requestMessage{Action: actionRecordingURL, EventID: eventID})
	if err != nil {
		return "", err
	}
	if reply.URL == "" {
		return "", fmt.Errorf("recording %s: %w", eventID, ErrNotFound)
	}

	g.mu.Lock()
	g.cacheRecordingLocked(eventID, reply.URL)
	g.mu.Unlock()
	return reply.URL, nil
}

// SetPowerOn turns a device's light or power on.
func (g *Gateway) SetPowerOn(ctx context.Context, id string) error {
	return g.command(ctx, actionPowerOn, id)
}

// SetPowerOff turns a device's light or power off.
func (g *Gateway) SetPowerOff(ctx context.Context, id string) error {
	return g.command(ctx, actionPowerOff, id)
}

// SetAlarmOn sounds a device's siren.
func (g *Gateway) SetAlarmOn(ctx context.Context, id string) error {
	return g.command(ctx, actionAlarmOn, id)
}

// SetAlarmOff silences a device's siren.
func (g *Gateway) SetAlarmOff(ctx context.Context, id string) error {
	return g.command(ctx, actionAlarmOff, id)
}

// Login asks the bridge to (re)establish the provider session.
func (g *Gateway) Login(ctx context.Context, force bool) error {
	_, err := g.request(ctx, requestMessage{Action: actionLogin, Force: force})
	return err
}

func (g *Gateway) command(ctx context.Context, action, deviceID string) error {
	_, err := g.request(ctx, requestMessage{Action: action, DeviceID: deviceID})
	if err != nil {
		return fmt.Errorf("%s %s: %w", action, deviceID, err)
	}
	return nil
}

// request publishes msg with a fresh request id and waits for the reply.
func (g *Gateway) request(ctx context.Context, msg requestMessage) (replyMessage, error) {
	if err := g.available(); err != nil {
		return replyMessage{}, fmt.Errorf("%s request: %w", msg.Action, err)
	}
	msg.RequestID = uuid.NewString()
	ch := make(chan replyMessage, 1)

	g.mu.Lock()
	g.pending[msg.RequestID] = ch
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.pending, msg.RequestID)
		g.mu.Unlock()
	}()

	payload, err := json.Marshal(msg)
	if err != nil {
		return replyMessage{}, fmt.Errorf("encoding %s request: %w", msg.Action, err)
	}
	if err := g.bus.Publish(g.topic("request", msg.Action), payload, gatewayQoS, false); err != nil {
		return replyMessage{}, fmt.Errorf("publishing %s request: %w", msg.Action, err)
	}

	timeout := g.timeout
	if timeout <= 0 {
		timeout = config.Default().Provider.RequestTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return replyMessage{}, ctx.Err()
	case <-timer.C:
		return replyMessage{}, fmt.Errorf("%s after %v: %w", msg.Action, timeout, ErrTimeout)
	case reply := <-ch:
		return reply, replyError(reply)
	}
}

// pendingCount is the number of requests awaiting a reply.
func (g *Gateway) pendingCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.pending)
}
