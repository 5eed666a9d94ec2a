package reconcile

// Outcome is what happened to one field in a pass.
type Outcome string

// Field outcomes.
const (
	OutcomeApplied   Outcome = "applied"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// FieldResult records one field write attempt.
type FieldResult struct {
	Field   string  `json:"field"`
	Value   any     `json:"value,omitempty"`
	Outcome Outcome `json:"outcome"`
	Err     error   `json:"-"`
}

// Result is the outcome of one pass for one device.
type Result struct {
	DeviceID string `json:"device_id"`

	// Found is false when the provider did not know the device.
	Found bool `json:"found"`

	// HasEvent is true when either lookup tier returned an event.
	HasEvent bool `json:"has_event"`
	NewEvent bool `json:"new_event"`

	Fields []FieldResult `json:"fields,omitempty"`
}

// Field returns the result for a field, if it was attempted.
func (r Result) Field(name string) (FieldResult, bool) {
	for _, f := range r.Fields {
		if f.Field == name {
			return f, true
		}
	}
	return FieldResult{}, false
}

// Applied returns the names of fields that were written.
func (r Result) Applied() []string {
	var names []string
	for _, f := range r.Fields {
		if f.Outcome == OutcomeApplied {
			names = append(names, f.Field)
		}
	}
	return names
}

// Count returns how many fields ended with outcome.
func (r Result) Count(outcome Outcome) int {
	n := 0
	for _, f := range r.Fields {
		if f.Outcome == outcome {
			n++
		}
	}
	return n
}
