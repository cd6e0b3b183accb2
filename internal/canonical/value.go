package canonical

import (
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the value types allowed in persisted
// artifacts. There is no float variant: every decimal travels as a String.
type Value interface {
	canonicalValue()
}

// Null marks a JSON null seen on input. It can be parsed but never encoded;
// normalization strips it before anything is persisted.
type Null struct{}

func (Null) canonicalValue() {}

// String is a JSON string.
type String string

func (String) canonicalValue() {}

// Int is a JSON integer. Always int64, never float64.
type Int int64

func (Int) canonicalValue() {}

// Bool is a JSON boolean.
type Bool bool

func (Bool) canonicalValue() {}

// Array is a JSON array.
type Array []Value

func (Array) canonicalValue() {}

// Object is a JSON object. Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Object) canonicalValue() {}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units).
// Go's native string ordering is UTF-8 byte order, which differs for
// characters outside the BMP.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, CompareKeys)
	return keys
}

// Clone returns a deep copy of obj.
func (obj Object) Clone() Object {
	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v Value) Value {
	switch val := v.(type) {
	case Object:
		return val.Clone()
	case Array:
		arr := make(Array, len(val))
		for i, elem := range val {
			arr[i] = cloneValue(elem)
		}
		return arr
	default:
		return v
	}
}

// Str returns the string stored at key. ok is false when the key is absent
// or holds another type.
func (obj Object) Str(key string) (s string, ok bool) {
	v, present := obj[key]
	if !present {
		return "", false
	}
	sv, isStr := v.(String)
	return string(sv), isStr
}

// IntAt returns the integer stored at key.
func (obj Object) IntAt(key string) (n int64, ok bool) {
	v, present := obj[key]
	if !present {
		return 0, false
	}
	iv, isInt := v.(Int)
	return int64(iv), isInt
}

// BoolAt returns the boolean stored at key.
func (obj Object) BoolAt(key string) (b bool, ok bool) {
	v, present := obj[key]
	if !present {
		return false, false
	}
	bv, isBool := v.(Bool)
	return bool(bv), isBool
}

// ObjectAt returns the object stored at key.
func (obj Object) ObjectAt(key string) (Object, bool) {
	v, present := obj[key]
	if !present {
		return nil, false
	}
	ov, isObj := v.(Object)
	return ov, isObj
}

// ArrayAt returns the array stored at key.
func (obj Object) ArrayAt(key string) (Array, bool) {
	v, present := obj[key]
	if !present {
		return nil, false
	}
	av, isArr := v.(Array)
	return av, isArr
}

// CompareKeys compares two strings by UTF-16 code units as RFC 8785
// requires.
func CompareKeys(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// TypeName names the JSON type of v for error messages.
func TypeName(v Value) string {
	switch v.(type) {
	case Null:
		return "null"
	case String:
		return "string"
	case Int:
		return "integer"
	case Bool:
		return "boolean"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return "unknown"
	}
}
