package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

// DataType is the semantic type of a stored value.
type DataType string

const (
	TypeMap      DataType = "map"
	TypeSequence DataType = "sequence"
	TypeString   DataType = "string"
	TypeNumber   DataType = "number"
	TypeBool     DataType = "bool"
	TypeNull     DataType = "null"
)

// ValidDataTypes are the allowed data types.
var ValidDataTypes = map[DataType]bool{
	TypeMap:      true,
	TypeSequence: true,
	TypeString:   true,
	TypeNumber:   true,
	TypeBool:     true,
	TypeNull:     true,
}

// Scalar reports whether t is neither a map nor a sequence.
func (t DataType) Scalar() bool {
	return t != TypeMap && t != TypeSequence
}

// Value is a tagged union over the supported data types. The zero Value is null.
type Value struct {
	typ    DataType
	str    string
	num    float64
	b      bool
	items  []Value
	fields map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{typ: TypeNull} }

// String returns a string value.
func String(s string) Value { return Value{typ: TypeString, str: s} }

// Number returns a numeric value.
func Number(f float64) Value { return Value{typ: TypeNumber, num: f} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{typ: TypeBool, b: b} }

// Sequence returns an ordered list of values.
func Sequence(items ...Value) Value {
	return Value{typ: TypeSequence, items: append([]Value{}, items...)}
}

// Map returns a keyed map of values.
func Map(fields map[string]Value) Value {
	m := make(map[string]Value, len(fields))
	for k, v := range fields {
		m[k] = v
	}
	return Value{typ: TypeMap, fields: m}
}

// Type returns the value's data type.
func (v Value) Type() DataType {
	if v.typ == "" {
		return TypeNull
	}
	return v.typ
}

// Str returns the string payload and whether v is a string.
func (v Value) Str() (string, bool) { return v.str, v.typ == TypeString }

// Num returns the numeric payload and whether v is a number.
func (v Value) Num() (float64, bool) { return v.num, v.typ == TypeNumber }

// BoolVal returns the boolean payload and whether v is a bool.
func (v Value) BoolVal() (bool, bool) { return v.b, v.typ == TypeBool }

// Items returns a copy of the sequence elements (nil for non-sequences).
func (v Value) Items() []Value {
	if v.typ != TypeSequence {
		return nil
	}
	return append([]Value{}, v.items...)
}

// Fields returns a copy of the map fields (nil for non-maps).
func (v Value) Fields() map[string]Value {
	if v.typ != TypeMap {
		return nil
	}
	m := make(map[string]Value, len(v.fields))
	for k, f := range v.fields {
		m[k] = f
	}
	return m
}

// Keys returns the map keys in sorted order.
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.fields))
	for k := range v.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Any converts v to plain Go values: map[string]any, []any, string,
// float64, bool or nil.
func (v Value) Any() any {
	switch v.Type() {
	case TypeMap:
		m := make(map[string]any, len(v.fields))
		for k, f := range v.fields {
			m[k] = f.Any()
		}
		return m
	case TypeSequence:
		s := make([]any, len(v.items))
		for i, item := range v.items {
			s[i] = item.Any()
		}
		return s
	case TypeString:
		return v.str
	case TypeNumber:
		return v.num
	case TypeBool:
		return v.b
	}
	return nil
}

// FromAny converts decoded JSON-like Go data into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("number %q: %w", t, err)
		}
		return Number(f), nil
	case []any:
		items := make([]Value, len(t))
		for i, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			items[i] = v
		}
		return Value{typ: TypeSequence, items: items}, nil
	case []string:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = String(e)
		}
		return Value{typ: TypeSequence, items: items}, nil
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Value{}, fmt.Errorf("field %q: %w", k, err)
			}
			fields[k] = v
		}
		return Value{typ: TypeMap, fields: fields}, nil
	}
	return Value{}, fmt.Errorf("unsupported value type %T", x)
}

// ParseJSON decodes a JSON document into a Value.
func ParseJSON(data []byte) (Value, error) {
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return Value{}, err
	}
	return v, nil
}

// MustParseJSON is ParseJSON for literals known to be valid.
func MustParseJSON(s string) Value {
	v, err := ParseJSON([]byte(s))
	if err != nil {
		panic(err)
	}
	return v
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var x any
	if err := json.Unmarshal(data, &x); err != nil {
		return err
	}
	parsed, err := FromAny(x)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Value) String() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid value: %v>", err)
	}
	return string(b)
}
