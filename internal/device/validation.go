package device

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	maxNameLength       = 100
	maxProviderIDLength = 64
	maxStringValueLen   = 2048
)

var validStateKeys map[string]struct{}

func init() {
	validStateKeys = make(map[string]struct{}, len(AllStateKeys()))
	for _, k := range AllStateKeys() {
		validStateKeys[k] = struct{}{}
	}
}

// ValidateDevice checks a device before it is persisted.
// All problems are reported together.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: nil device", ErrInvalidDevice)
	}

	var errs []string
	if err := ValidateName(d.Name); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateProviderID(d.ProviderID); err != nil {
		errs = append(errs, err.Error())
	}
	for k, v := range d.States {
		if err := ValidateStateValue(k, v); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDevice, strings.Join(errs, "; "))
	}
	return nil
}

// ValidateName checks a display name.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

func validateProviderID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: provider id is required", ErrInvalidProviderID)
	}
	if len(id) > maxProviderIDLength {
		return fmt.Errorf("%w: provider id exceeds %d bytes", ErrInvalidProviderID, maxProviderIDLength)
	}
	return nil
}

// ValidateStateValue checks a key against AllStateKeys and the value
// against the scalar types the store accepts.
func ValidateStateValue(key string, value any) error {
	if _, ok := validStateKeys[key]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidStateKey, key)
	}

	switch v := value.(type) {
	case nil, bool, int, int32, int64, float32, float64:
		return nil
	case string:
		if len(v) > maxStringValueLen {
			return fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidState, key, maxStringValueLen)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s has unsupported type %T", ErrInvalidState, key, value)
	}
}
