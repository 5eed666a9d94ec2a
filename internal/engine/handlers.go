package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/doorbell-sync/internal/infrastructure/mqtt"
)

// loginRequest is the optional payload on the login topic.
type loginRequest struct {
	Force *bool `json:"force"`
}

// HandleCommand is an mqtt.MessageHandler for doorbellsync/command/{id}/{action}.
// The payload is ignored.
func (e *Engine) HandleCommand(topic string, _ []byte) error {
	deviceID, action, ok := mqtt.Topics{}.ParseDeviceCommand(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected command topic %q", ErrInvalidPayload, topic)
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.commandTimeout)
	defer cancel()
	return e.Do(ctx, deviceID, action)
}

// HandleLogin is an mqtt.MessageHandler for the login topic. An empty
// payload requests a forced login.
func (e *Engine) HandleLogin(_ string, payload []byte) error {
	force := true
	if len(payload) > 0 {
		var req loginRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		if req.Force != nil {
			force = *req.Force
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.commandTimeout)
	defer cancel()
	return e.Login(ctx, force)
}

// Subscriber is the subscribe half of *mqtt.Client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Subscribe registers the command and login handlers.
func (e *Engine) Subscribe(sub Subscriber, qos byte) error {
	topics := mqtt.Topics{}
	if err := sub.Subscribe(topics.AllCommands(), qos, e.HandleCommand); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	if err := sub.Subscribe(topics.CoreLogin(), qos, e.HandleLogin); err != nil {
		return fmt.Errorf("subscribing to login: %w", err)
	}
	return nil
}
