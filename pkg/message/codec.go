package message

import (
	"encoding/json"

	lomerrors "github.com/sonic-net/lom-engine/pkg/shared/errors"
)

// Encode produces the canonical wire form: a JSON object with exactly one
// top-level key naming the variant, whose value is a flat object of string
// attributes (spec.md §4.2, §6). encoding/json sorts map keys when
// marshaling, so the sorted serialization spec.md calls the "canonical
// form produced by convert_to_json" falls out of the standard encoder
// without extra sorting code.
func Encode(m *Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	wrapper := map[string]map[string]string{
		string(m.Variant): m.Attrs,
	}
	b, err := json.Marshal(wrapper)
	if err != nil {
		return nil, lomerrors.Wrap(err, "encode message")
	}
	return b, nil
}

// Decode parses the canonical wire form back into a Message and validates
// it. A frame with zero or more than one top-level key is a protocol error
// (spec.md §4.2 "exactly one top-level key").
func Decode(data []byte) (*Message, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, lomerrors.ParseError("message frame", "json", err)
	}
	if len(raw) != 1 {
		return nil, lomerrors.ValidationError("frame", "must contain exactly one top-level key")
	}

	var variant string
	var body json.RawMessage
	for k, v := range raw {
		variant = k
		body = v
	}

	var attrs map[string]string
	if err := json.Unmarshal(body, &attrs); err != nil {
		return nil, lomerrors.ParseError("message attributes", "json", err)
	}

	m := &Message{Variant: Variant(variant), Attrs: attrs}
	if m.Attrs == nil {
		m.Attrs = map[string]string{}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
