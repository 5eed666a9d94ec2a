package mqtt

import (
	"fmt"
	"strings"
)

// Topic roots for the core's own traffic.
const (
	TopicPrefix       = "doorbellsync"
	TopicPrefixCore   = TopicPrefix + "/core"
	TopicPrefixState  = TopicPrefix + "/state"
	TopicPrefixAction = TopicPrefix + "/command"
)

// Topics builds core topic names.
//
//	topics := mqtt.Topics{}
//	topics.DeviceState("a1b2") // "doorbellsync/state/a1b2"
type Topics struct{}

// CoreStatus is the retained online/offline topic (also the LWT topic).
func (Topics) CoreStatus() string {
	return TopicPrefixCore + "/status"
}

// CoreLogin triggers a forced provider login.
func (Topics) CoreLogin() string {
	return TopicPrefixCore + "/login"
}

// DeviceState carries the reconciled state of one device.
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixState, deviceID)
}

// DeviceCommand addresses one action on one device.
func (Topics) DeviceCommand(deviceID, action string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixAction, deviceID, action)
}

// AllCommands matches every device action.
func (Topics) AllCommands() string {
	return TopicPrefixAction + "/+/+"
}

// ParseDeviceCommand extracts device id and action from a DeviceCommand topic.
func (Topics) ParseDeviceCommand(topic string) (deviceID, action string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefixAction+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// validPublishTopic rejects empty topics and wildcards.
func validPublishTopic(topic string) bool {
	return topic != "" && !strings.ContainsAny(topic, "+#")
}
