// Package validation decodes and validates device reading payloads.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/netmetering/internal/reading/domain"
)

// ErrMalformedJSON is returned when the body is not JSON at all.
var ErrMalformedJSON = errors.New("malformed_json")

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
)

type fieldSpec struct {
	name string
	kind fieldKind
	dest func(p *domain.Payload) any
}

var payloadFields = []fieldSpec{
	{name: "applicationId", kind: kindString, dest: func(p *domain.Payload) any { return &p.ApplicationID }},
	{name: "deviceId", kind: kindString, dest: func(p *domain.Payload) any { return &p.DeviceID }},
	{name: "kWh_generated", kind: kindNumber, dest: func(p *domain.Payload) any { return &p.KWhGenerated }},
	{name: "kWh_exported", kind: kindNumber, dest: func(p *domain.Payload) any { return &p.KWhExported }},
	{name: "kWh_imported", kind: kindNumber, dest: func(p *domain.Payload) any { return &p.KWhImported }},
	{name: "voltage", kind: kindNumber, dest: func(p *domain.Payload) any { return &p.Voltage }},
	{name: "current", kind: kindNumber, dest: func(p *domain.Payload) any { return &p.Current }},
	{name: "timestamp", kind: kindString, dest: func(p *domain.Payload) any { return &p.Timestamp }},
}

// Decoder turns a raw body into a validated Payload. It is safe for concurrent use.
type Decoder struct {
	validate *validator.Validate
}

func NewDecoder() *Decoder {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("timestamp", func(fl validator.FieldLevel) bool {
		_, ok := domain.ParseTimestamp(fl.Field().String())
		return ok
	})
	return &Decoder{validate: v}
}

// Decode returns ErrMalformedJSON for non-JSON input and *domain.ValidationError for
// well-formed JSON that does not match the reading schema.
func (d *Decoder) Decode(body []byte) (*domain.Payload, error) {
	if !json.Valid(body) {
		return nil, ErrMalformedJSON
	}

	issues := &domain.ValidationError{FormErrors: []string{}, FieldErrors: map[string][]string{}}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		issues.AddForm(fmt.Sprintf("Expected object, received %s", jsonKind(body)))
		return nil, issues
	}

	payload := &domain.Payload{}
	typeFailed := map[string]bool{}
	for _, spec := range payloadFields {
		value, ok := raw[spec.name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(value, spec.dest(payload)); err != nil {
			typeFailed[spec.name] = true
			issues.AddField(spec.name, fmt.Sprintf("Expected %s, received %s", spec.kind, jsonKind(value)))
		}
	}

	if err := d.validate.Struct(payload); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, err
		}
		for _, fe := range verrs {
			if typeFailed[fe.Field()] {
				continue
			}
			issues.AddField(fe.Field(), message(fe))
		}
	}

	if !issues.Empty() {
		return nil, issues
	}
	return payload, nil
}

func (k fieldKind) String() string {
	if k == kindNumber {
		return "number"
	}
	return "string"
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "Required"
	case "gte":
		return fmt.Sprintf("Number must be greater than or equal to %s", fe.Param())
	case "max":
		return fmt.Sprintf("String must contain at most %s character(s)", fe.Param())
	case "timestamp":
		return "Invalid date"
	default:
		return "Invalid value"
	}
}

func jsonKind(value json.RawMessage) string {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 {
		return "undefined"
	}
	switch trimmed[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}
