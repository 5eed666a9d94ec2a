package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementBattery = "doorbell_battery"
	MeasurementEvent   = "doorbell_event"
	MeasurementCycle   = "poll_cycle"
)

// RecordBattery writes a battery reading for a device.
//
// Parameters:
//   - deviceID: Local device identifier
//   - level: Battery percentage as reported by the provider
//   - at: Time of the reconcile pass that observed it
func (c *Client) RecordBattery(deviceID string, level int, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(batteryPoint(deviceID, level, at))
}

// RecordEvent writes a doorbell event at its provider timestamp, so
// re-observing the same event overwrites the same point.
func (c *Client) RecordEvent(deviceID, kind string, answered bool, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(eventPoint(deviceID, kind, answered, at))
}

// RecordCycle writes one poll-cycle summary.
func (c *Client) RecordCycle(devices, failed int, took time.Duration, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(cyclePoint(devices, failed, took, at))
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Example:
//
//	client.WritePoint("provider_login",
//	    map[string]string{"site": "home"},
//	    map[string]interface{}{"ok": true}, time.Now())
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}

func batteryPoint(deviceID string, level int, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementBattery,
		map[string]string{"device_id": deviceID},
		map[string]interface{}{"level": level},
		at,
	)
}

func eventPoint(deviceID, kind string, answered bool, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementEvent,
		map[string]string{
			"device_id": deviceID,
			"kind":      kind,
		},
		map[string]interface{}{"answered": answered},
		at,
	)
}

func cyclePoint(devices, failed int, took time.Duration, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementCycle,
		nil,
		map[string]interface{}{
			"devices":     devices,
			"failed":      failed,
			"duration_ms": took.Milliseconds(),
		},
		at,
	)
}
