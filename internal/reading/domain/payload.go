package domain

import (
	"strings"
	"time"
)

// Payload is the device-submitted body. Pointers distinguish absent fields from zero values.
type Payload struct {
	ApplicationID *string  `json:"applicationId" validate:"omitempty,max=128"`
	DeviceID      *string  `json:"deviceId" validate:"omitempty,max=128"`
	KWhGenerated  *float64 `json:"kWh_generated" validate:"required,gte=0"`
	KWhExported   *float64 `json:"kWh_exported" validate:"required,gte=0"`
	KWhImported   *float64 `json:"kWh_imported" validate:"required,gte=0"`
	Voltage       *float64 `json:"voltage"`
	Current       *float64 `json:"current"`
	Timestamp     *string  `json:"timestamp" validate:"required,timestamp"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp accepts ISO-8601 instants. Values without a zone are read as UTC.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// ValidationError reports per-field schema failures in the shape devices already parse.
type ValidationError struct {
	FormErrors  []string            `json:"formErrors"`
	FieldErrors map[string][]string `json:"fieldErrors"`
}

func (e *ValidationError) Error() string {
	return "payload_validation_failed"
}

// AddField records a failure message for field.
func (e *ValidationError) AddField(field, msg string) {
	if e.FieldErrors == nil {
		e.FieldErrors = map[string][]string{}
	}
	e.FieldErrors[field] = append(e.FieldErrors[field], msg)
}

// AddForm records a failure that is not tied to a single field.
func (e *ValidationError) AddForm(msg string) {
	e.FormErrors = append(e.FormErrors, msg)
}

// Empty reports whether no failure was recorded.
func (e *ValidationError) Empty() bool {
	return len(e.FormErrors) == 0 && len(e.FieldErrors) == 0
}
