package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/doorbell-sync/internal/device"
	"github.com/nerrad567/doorbell-sync/internal/engine"
	"github.com/nerrad567/doorbell-sync/internal/infrastructure/config"
	"github.com/nerrad567/doorbell-sync/internal/infrastructure/logging"
)

// Client message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
)

// Server message types.
const (
	WSTypeSnapshot     = "snapshot"
	WSTypeEvent        = "event"
	WSTypeUnsubscribed = "unsubscribed"
	WSTypePong         = "pong"
	WSTypeError        = "error"
)

const (
	wsSendBufferSize  = 256
	wsSnapshotTimeout = 5 * time.Second
)

var errUnknownChannel = errors.New("unknown channel")

// WSRequest is a message sent by a client.
type WSRequest struct {
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"`
	Channels []string `json:"channels,omitempty"`
}

// WSMessage is a message sent to a client. Snapshot payloads are a device
// list for engine.ChannelStateChanged and a single device for a device
// channel; event payloads are a device.Change.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Timestamp string `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}

// DeviceSource supplies the current state sent on subscribe.
// *device.Registry satisfies it.
type DeviceSource interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	ListDevices(ctx context.Context) ([]device.Device, error)
}

// Hub fans device state changes out to WebSocket clients.
//
// Clients subscribe to engine.ChannelStateChanged for every device or to
// engine.DeviceChannel(id) for one. Each accepted subscription is answered
// with a snapshot of the current state, then with events as they happen.
// Hub satisfies engine.Broadcaster.
type Hub struct {
	cfg     config.WebSocketConfig
	devices DeviceSource
	logger  *logging.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	channels map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are checked by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates a hub that reads snapshots from devices.
func NewHub(cfg config.WebSocketConfig, devices DeviceSource, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		devices: devices,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends payload to every client subscribed to any of channels.
// The message names the first of channels the client holds, so a client
// subscribed to both the global and a device channel gets it once.
func (h *Hub) Broadcast(channels []string, payload any) {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	encoded := make(map[string][]byte, len(channels))
	sent := 0
	for _, c := range clients {
		channel, ok := c.firstSubscribed(channels)
		if !ok {
			continue
		}
		data, ok := encoded[channel]
		if !ok {
			var err error
			data, err = encodeMessage(WSMessage{Type: WSTypeEvent, Channel: channel, Payload: payload})
			if err != nil {
				h.logger.Error("failed to encode broadcast", "channel", channel, "error", err)
				return
			}
			encoded[channel] = data
		}
		c.trySend(data)
		sent++
	}
	if sent > 0 {
		h.logger.Debug("broadcast sent", "channels", channels, "recipients", sent)
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// unregister removes c. Only the caller that removes it closes its send
// channel, so shutdown and disconnect never double-close.
func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(c.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", n)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		c.conn.Close()
		delete(h.clients, c)
	}
}

// snapshot returns the current state behind channel.
func (h *Hub) snapshot(ctx context.Context, channel string) (any, error) {
	if channel == engine.ChannelStateChanged {
		return h.devices.ListDevices(ctx)
	}
	id, ok := engine.ParseDeviceChannel(channel)
	if !ok {
		return nil, errUnknownChannel
	}
	return h.devices.GetDevice(ctx, id)
}

// handleWebSocket upgrades the connection. The optional "channels" query
// parameter (comma separated) subscribes at connect time.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		channels: make(map[string]struct{}),
	}
	s.hub.register(c)
	go c.writePump()

	var initial []string
	for _, ch := range strings.Split(r.URL.Query().Get("channels"), ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			initial = append(initial, ch)
		}
	}
	if len(initial) > 0 {
		c.subscribe("", initial)
	}

	go c.readPump()
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	cfg := c.hub.cfg
	keepalive := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(keepalive)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck // Read below fails on a broken conn
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Application pings count as liveness too.
		extend() //nolint:errcheck // Next read reports failures
		c.handle(data)
	}
}

func (c *wsClient) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // Write reports failures
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // Closing anyway
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // Write reports failures
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) handle(data []byte) {
	var req WSRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("", "", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypeSubscribe:
		if len(req.Channels) == 0 {
			c.sendError(req.ID, "", "channels are required")
			return
		}
		c.subscribe(req.ID, req.Channels)
	case WSTypeUnsubscribe:
		c.mu.Lock()
		for _, ch := range req.Channels {
			delete(c.channels, ch)
		}
		c.mu.Unlock()
		c.sendMessage(WSMessage{Type: WSTypeUnsubscribed, ID: req.ID, Payload: map[string]any{"channels": req.Channels}})
	case WSTypePing:
		c.sendMessage(WSMessage{Type: WSTypePong, ID: req.ID})
	default:
		c.sendError(req.ID, "", "unknown message type: "+req.Type)
	}
}

// subscribe adds each channel and answers it with a snapshot. The
// subscription is taken before the snapshot is read, so a change racing the
// subscribe arrives as an event and is also reflected in the snapshot.
func (c *wsClient) subscribe(id string, channels []string) {
	ctx, cancel := context.WithTimeout(context.Background(), wsSnapshotTimeout)
	defer cancel()

	for _, ch := range channels {
		c.mu.Lock()
		_, had := c.channels[ch]
		c.channels[ch] = struct{}{}
		c.mu.Unlock()

		snap, err := c.hub.snapshot(ctx, ch)
		if err != nil {
			if !had {
				c.mu.Lock()
				delete(c.channels, ch)
				c.mu.Unlock()
			}
			c.sendError(id, ch, c.hub.snapshotError(ch, err))
			continue
		}
		c.sendMessage(WSMessage{Type: WSTypeSnapshot, ID: id, Channel: ch, Payload: snap})
	}
}

func (h *Hub) snapshotError(channel string, err error) string {
	switch {
	case errors.Is(err, errUnknownChannel):
		return "unknown channel"
	case errors.Is(err, device.ErrDeviceNotFound):
		return "device not found"
	default:
		h.logger.Warn("websocket snapshot failed", "channel", channel, "error", err)
		return "snapshot unavailable"
	}
}

func (c *wsClient) firstSubscribed(channels []string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range channels {
		if _, ok := c.channels[ch]; ok {
			return ch, true
		}
	}
	return "", false
}

// trySend drops data for a slow client and absorbs a send on a channel
// closed by a concurrent disconnect.
func (c *wsClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Send on closed channel
	}()
	select {
	case c.send <- data:
	default:
	}
}

func (c *wsClient) sendMessage(msg WSMessage) {
	data, err := encodeMessage(msg)
	if err != nil {
		c.hub.logger.Error("failed to encode websocket message", "type", msg.Type, "error", err)
		return
	}
	c.trySend(data)
}

func (c *wsClient) sendError(id, channel, message string) {
	c.sendMessage(WSMessage{Type: WSTypeError, ID: id, Channel: channel, Payload: map[string]string{"message": message}})
}

func encodeMessage(msg WSMessage) ([]byte, error) {
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(msg)
}
