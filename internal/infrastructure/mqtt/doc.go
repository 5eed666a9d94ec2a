// Package mqtt provides the broker connection used by doorbell-sync.
//
// The daemon uses MQTT twice over:
//   - as the transport to the provider gateway (snapshots, events, commands)
//   - to publish reconciled device state and accept core commands
//
// This package manages:
//   - Connection with auto-reconnect and subscription restore
//   - Publishing with QoS and payload-size checks
//   - Last Will and Testament on the core status topic
//
// # Topic Hierarchy
//
//	doorbellsync/core/status             online/offline (retained, LWT)
//	doorbellsync/core/login              forced provider re-login
//	doorbellsync/state/{device_id}       reconciled device state (retained)
//	doorbellsync/command/{device_id}/{action}  device actions
//
// Provider gateway topics are rooted at the configured provider prefix and
// built by the provider package.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1, handler)
package mqtt
