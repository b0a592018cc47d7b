package thingshadow

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FieldType is the JSON type a field is reported and accepted as.
type FieldType int

const (
	FieldInt FieldType = iota
	FieldFloat
	FieldBool
	FieldString
	FieldObject
)

func (t FieldType) String() string {
	switch t {
	case FieldInt:
		return "int"
	case FieldFloat:
		return "float"
	case FieldBool:
		return "bool"
	case FieldString:
		return "string"
	case FieldObject:
		return "object"
	default:
		return "unknown"
	}
}

// DeltaHandler is called from Yield with the raw JSON value of the field's key
// in a delta document. The value has already passed the field's type check.
type DeltaHandler func(field *Field, value json.RawMessage)

// Field binds a named key of the shadow state to local data.
//
// Value supplies the reported value when the field is added to a Document.
// OnDelta receives desired-state changes once the field is registered with
// Client.RegisterDelta.
type Field struct {
	Key     string
	Type    FieldType
	Value   func() any
	OnDelta DeltaHandler
}

func (f *Field) validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil field", ErrInvalidField)
	}
	if f.Key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidField)
	}
	if f.Type < FieldInt || f.Type > FieldObject {
		return fmt.Errorf("%w: %s has unknown type %d", ErrInvalidField, f.Key, f.Type)
	}
	return nil
}

// Accepts reports whether raw holds a JSON value of the field's type.
// Integers must not carry a fractional part.
func (f *Field) Accepts(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false
	}

	switch f.Type {
	case FieldInt:
		// json.Number also decodes quoted numbers
		if raw[0] == '"' {
			return false
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return false
		}
		_, err := n.Int64()
		return err == nil
	case FieldFloat:
		var v float64
		return json.Unmarshal(raw, &v) == nil
	case FieldBool:
		var v bool
		return json.Unmarshal(raw, &v) == nil
	case FieldString:
		var v string
		return json.Unmarshal(raw, &v) == nil
	case FieldObject:
		return raw[0] == '{'
	default:
		return false
	}
}
