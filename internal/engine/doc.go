// Package engine hosts the operator-facing operations that sit beside the
// poll loop: provider login, device registration and the five device
// actions (turn on, turn off, toggle, siren on, siren off).
//
// Each action is one provider call followed, on success, by a state
// update tagged with the "command" source so history and live listeners
// can tell it apart from polled changes.
//
// The package also supplies the MQTT handlers for command and login
// topics, and the change listeners that mirror state onto MQTT and the
// WebSocket hub.
package engine
