package influxdb

import (
	"testing"
	"time"
)

func TestBatteryPoint(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := batteryPoint("front-door", 82, at)

	if p.Name() != MeasurementBattery {
		t.Errorf("Name() = %q, want %q", p.Name(), MeasurementBattery)
	}
	if !p.Time().Equal(at) {
		t.Errorf("Time() = %v, want %v", p.Time(), at)
	}

	tags := p.TagList()
	if len(tags) != 1 || tags[0].Key != "device_id" || tags[0].Value != "front-door" {
		t.Errorf("tags = %+v, want device_id=front-door", tags)
	}

	fields := p.FieldList()
	if len(fields) != 1 || fields[0].Key != "level" || fields[0].Value != int64(82) {
		t.Errorf("fields = %+v, want level=82", fields)
	}
}

func TestEventPoint(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	p := eventPoint("front-door", "ding", true, at)

	if p.Name() != MeasurementEvent {
		t.Errorf("Name() = %q, want %q", p.Name(), MeasurementEvent)
	}
	if !p.Time().Equal(at) {
		t.Errorf("Time() = %v, want event time %v", p.Time(), at)
	}

	got := map[string]string{}
	for _, tag := range p.TagList() {
		got[tag.Key] = tag.Value
	}
	if got["device_id"] != "front-door" || got["kind"] != "ding" {
		t.Errorf("tags = %v, want device_id and kind", got)
	}

	fields := p.FieldList()
	if len(fields) != 1 || fields[0].Key != "answered" || fields[0].Value != true {
		t.Errorf("fields = %+v, want answered=true", fields)
	}
}

func TestCyclePoint(t *testing.T) {
	p := cyclePoint(3, 1, 1500*time.Millisecond, time.Now())

	got := map[string]interface{}{}
	for _, f := range p.FieldList() {
		got[f.Key] = f.Value
	}

	if got["devices"] != int64(3) {
		t.Errorf("devices = %v, want 3", got["devices"])
	}
	if got["failed"] != int64(1) {
		t.Errorf("failed = %v, want 1", got["failed"])
	}
	if got["duration_ms"] != int64(1500) {
		t.Errorf("duration_ms = %v, want 1500", got["duration_ms"])
	}
	if len(p.TagList()) != 0 {
		t.Errorf("tags = %+v, want none", p.TagList())
	}
}
