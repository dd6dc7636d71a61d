package document

import (
	"encoding/json"
	"math"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindInt
	KindFloat
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	default:
		return "invalid"
	}
}

// Value is a tagged field value: a string, a 64-bit integer or a float.
// The zero Value is invalid.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
}

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int returns an integer Value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a floating point Value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v holds any variant.
func (v Value) IsValid() bool { return v.kind != 0 }

// IsNumeric reports whether v is an integer or a float.
func (v Value) IsNumeric() bool { return v.kind == KindInt || v.kind == KindFloat }

// IsIntegral reports whether v is an integer, or a float with no fractional part.
func (v Value) IsIntegral() bool {
	switch v.kind {
	case KindInt:
		return true
	case KindFloat:
		return v.f == math.Trunc(v.f) && !math.IsInf(v.f, 0)
	}
	return false
}

// Text renders v as text, the form used for string and ID fields.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	}
	return ""
}

// Float64 returns v as a float. ok is false for strings.
func (v Value) Float64() (f float64, ok bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	}
	return 0, false
}

// Int64 returns v as an integer, truncating floats. ok is false for strings.
func (v Value) Int64() (i int64, ok bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindFloat:
		return int64(v.f), true
	}
	return 0, false
}

// Interface returns v as string, int64 or float64.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	}
	return nil
}

// MarshalJSON encodes v as a JSON string or number.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// ValueOf converts a decoded Go value into a Value.
// Booleans become strings; maps and slices become their compact JSON text.
// ok is false for nil.
func ValueOf(x any) (v Value, ok bool) {
	switch t := x.(type) {
	case nil:
		return Value{}, false
	case Value:
		return t, t.IsValid()
	case string:
		return String(t), true
	case bool:
		return String(strconv.FormatBool(t)), true
	case int:
		return Int(int64(t)), true
	case int32:
		return Int(int64(t)), true
	case int64:
		return Int(t), true
	case uint32:
		return Int(int64(t)), true
	case float32:
		return Float(float64(t)), true
	case float64:
		return Float(t), true
	case json.Number:
		return numberValue(t), true
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return Value{}, false
		}
		return String(string(data)), true
	}
}

// numberValue keeps integers that fit in int64 as Int and everything else as Float.
func numberValue(n json.Number) Value {
	if i, err := n.Int64(); err == nil {
		return Int(i)
	}
	if f, err := n.Float64(); err == nil {
		return Float(f)
	}
	return String(n.String())
}
