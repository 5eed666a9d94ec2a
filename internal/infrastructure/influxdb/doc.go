// Package influxdb records doorbell telemetry in InfluxDB v2.
//
// It wraps influxdb-client-go with connection management, health checks
// and typed writers for the measurements the sync engine produces:
//
//   - doorbell_battery: battery level per device, tagged device_id
//   - doorbell_event: one point per provider event, tagged device_id and kind,
//     stamped with the event's own time
//   - poll_cycle: devices polled, failures and duration per cycle
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.RecordBattery("front-door", 82, time.Now())
//
// Writes on a nil or closed client are dropped silently, so callers can hold
// a *Client that may never have connected.
package influxdb
