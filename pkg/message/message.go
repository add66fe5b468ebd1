package message

import (
	"github.com/go-playground/validator/v10"

	lomerrors "github.com/sonic-net/lom-engine/pkg/shared/errors"
)

var validate = validator.New()

// numericAttributes get a "numeric" validator.Var check in addition to the
// required/unknown-key checks below, since they carry integer semantics
// over the wire (spec.md §6).
var numericAttributes = map[string]bool{
	"result_code":        true,
	"timeout":            true,
	"heartbeat_interval": true,
}

// uuidAttributes get validator's uuid4 tag check, since the engine mints
// version-4 UUIDs; an empty value skips the check, which lets the anomaly
// handler's own self-raised request carry the sentinel empty string
// (spec.md §4.6 "anomaly_instance_id = \"\"").
var uuidAttributes = map[string]bool{
	"instance_id":         true,
	"anomaly_instance_id": true,
}

// emptyAllowed lists required attributes that may still carry "" (spec.md
// §4.6 "anomaly_instance_id = \"\"" for a self-raised detection request).
// instance_id has no such exemption: it is always a minted UUID.
var emptyAllowed = map[string]bool{
	"anomaly_instance_id": true,
}

// Message is one wire message: a variant tag plus its flat attribute map
// (spec.md §4.2).
type Message struct {
	Variant Variant
	Attrs   map[string]string
}

// New constructs an empty message of the given variant.
func New(v Variant) *Message {
	return &Message{Variant: v, Attrs: map[string]string{}}
}

// Set admits only required or optional keys of the message's variant;
// required keys reject empty values (spec.md §4.2 "set(key, value)").
func (m *Message) Set(key, value string) error {
	allowed := m.Variant.allowedKeys()
	if !allowed[key] {
		return lomerrors.ValidationError(key, "not a recognized attribute for "+string(m.Variant))
	}
	if value == "" && m.isRequired(key) && !emptyAllowed[key] {
		return lomerrors.ValidationError(key, "required attribute must not be empty")
	}
	m.Attrs[key] = value
	return nil
}

func (m *Message) isRequired(key string) bool {
	s, ok := m.Variant.spec()
	if !ok {
		return false
	}
	for _, k := range s.required {
		if k == key {
			return true
		}
	}
	return false
}

// Validate checks that every required attribute is present and non-empty,
// that no unknown keys are present, and applies type-shaped checks to
// numeric/UUID attributes (spec.md §4.2 "validate()").
func (m *Message) Validate() error {
	s, ok := m.Variant.spec()
	if !ok {
		return lomerrors.ValidationError("variant", "unknown message variant "+string(m.Variant))
	}

	allowed := m.Variant.allowedKeys()
	for key := range m.Attrs {
		if !allowed[key] {
			return lomerrors.ValidationError(key, "unknown attribute for "+string(m.Variant))
		}
	}

	for _, key := range s.required {
		val, present := m.Attrs[key]
		if !present {
			return lomerrors.ValidationError(key, "required attribute is missing")
		}
		if val == "" && !emptyAllowed[key] {
			return lomerrors.ValidationError(key, "required attribute must not be empty")
		}
		if err := checkShape(key, val); err != nil {
			return err
		}
	}
	for _, key := range s.optional {
		val, present := m.Attrs[key]
		if !present || val == "" {
			continue
		}
		if err := checkShape(key, val); err != nil {
			return err
		}
	}
	return nil
}

// checkShape applies the type-shaped check for an attribute already known
// to be present; callers only invoke it with a non-empty val, except for
// the emptyAllowed required attributes, which skip shape checks entirely.
func checkShape(key, val string) error {
	if val == "" {
		return nil
	}
	if numericAttributes[key] {
		if err := validate.Var(val, "numeric"); err != nil {
			return lomerrors.ValidationError(key, "must be numeric")
		}
	}
	if uuidAttributes[key] {
		if err := validate.Var(val, "uuid4"); err != nil {
			return lomerrors.ValidationError(key, "must be a UUID")
		}
	}
	return nil
}

// Equals reports structural equality: same variant and identical
// attribute map (spec.md §4.2 "equals(other)").
func (m *Message) Equals(other *Message) bool {
	if other == nil || m.Variant != other.Variant {
		return false
	}
	if len(m.Attrs) != len(other.Attrs) {
		return false
	}
	for k, v := range m.Attrs {
		if ov, ok := other.Attrs[k]; !ok || ov != v {
			return false
		}
	}
	return true
}
