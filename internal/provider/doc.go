// Package provider defines the remote doorbell provider as seen by the
// sync engine, plus an MQTT gateway implementation of it.
//
// The value types Event and Snapshot carry explicit optional fields:
// a nil BatteryLevel or Answered, a zero Timestamp and PowerUnknown all mean
// "the provider did not say", and callers must not treat them as values.
//
// Client is consumed by the reconciler, the scheduler and the device-action
// engine. Gateway implements Client over a broker: a bridge process that
// speaks the provider's own API publishes retained device snapshots and
// events under a topic prefix, and answers requests (login, power, siren,
// recording lookup) on per-request reply topics.
//
// # Topics
//
// With the default prefix "doorbellsync/provider":
//
//	doorbellsync/provider/devices/{id}        retained Snapshot JSON, empty payload removes
//	doorbellsync/provider/events/{id}         latest Event JSON for the device
//	doorbellsync/provider/recordings/{event}  {"url": "..."} once a recording is ready
//	doorbellsync/provider/request/{action}    requests published by this package
//	doorbellsync/provider/reply/{request_id}  bridge replies
package provider
