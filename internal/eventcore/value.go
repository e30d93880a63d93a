package eventcore

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Value is a tagged-value-tree wrapper over a JSON document, used for
// Event.Payload and Event.Metadata. Per §9's design note, mods have no
// static Go struct for every event shape; Value gives them typed
// accessors without forcing the gateway to know any mod's schema.
//
// The zero Value is an empty JSON object.
type Value struct {
	raw []byte
}

// NewValue wraps an existing JSON document. A nil or empty doc is
// treated as an empty object.
func NewValue(doc []byte) Value {
	if len(doc) == 0 {
		return Value{raw: []byte("{}")}
	}
	return Value{raw: doc}
}

// ValueFromMap builds a Value from a Go map, the shape payload/metadata
// take on the wire and in most call sites that construct events in code.
func ValueFromMap(m map[string]interface{}) (Value, error) {
	if m == nil {
		return Value{raw: []byte("{}")}, nil
	}
	doc, err := json.Marshal(m)
	if err != nil {
		return Value{}, fmt.Errorf("marshal value: %w", err)
	}
	return Value{raw: doc}, nil
}

// Raw returns the underlying JSON document.
func (v Value) Raw() []byte {
	if len(v.raw) == 0 {
		return []byte("{}")
	}
	return v.raw
}

// MarshalJSON implements json.Marshaler so Value can nest directly
// inside Event's JSON representation.
func (v Value) MarshalJSON() ([]byte, error) {
	return v.Raw(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	v.raw = cp
	return nil
}

// Get returns the gjson.Result for a dotted path (e.g. "user.name" or
// "mentions.0"). See https://github.com/tidwall/gjson for path syntax.
func (v Value) Get(path string) gjson.Result {
	return gjson.GetBytes(v.Raw(), path)
}

// String returns the string at path, or def if the path is missing or
// not a string.
func (v Value) String(path, def string) string {
	r := v.Get(path)
	if !r.Exists() || r.Type != gjson.String {
		return def
	}
	return r.String()
}

// Int returns the integer at path, or def if missing.
func (v Value) Int(path string, def int64) int64 {
	r := v.Get(path)
	if !r.Exists() {
		return def
	}
	return r.Int()
}

// Float returns the float at path, or def if missing.
func (v Value) Float(path string, def float64) float64 {
	r := v.Get(path)
	if !r.Exists() {
		return def
	}
	return r.Float()
}

// Bool returns the bool at path, or def if missing.
func (v Value) Bool(path string, def bool) bool {
	r := v.Get(path)
	if !r.Exists() {
		return def
	}
	return r.Bool()
}

// Array returns the elements at path as gjson.Results, empty if the
// path is missing or not an array.
func (v Value) Array(path string) []gjson.Result {
	r := v.Get(path)
	if !r.Exists() || !r.IsArray() {
		return nil
	}
	return r.Array()
}

// StringSlice returns the string array at path.
func (v Value) StringSlice(path string) []string {
	arr := v.Array(path)
	if arr == nil {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, r := range arr {
		out = append(out, r.String())
	}
	return out
}

// Has reports whether path exists in the document.
func (v Value) Has(path string) bool {
	return v.Get(path).Exists()
}

// Set returns a new Value with path set to val, leaving the receiver
// untouched (Events are immutable once constructed).
func (v Value) Set(path string, val interface{}) (Value, error) {
	doc, err := sjson.SetBytes(v.Raw(), path, val)
	if err != nil {
		return v, fmt.Errorf("set %s: %w", path, err)
	}
	return Value{raw: doc}, nil
}

// ToMap decodes the full document into a generic map, for callers that
// need to range over unknown keys (e.g. forwarding unknown wire fields).
func (v Value) ToMap() (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(v.Raw(), &m); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return m, nil
}
