package canonical

import (
	"bytes"
	"fmt"
	"strconv"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/ledgerpack/internal/faults"
)

// Marshal produces canonical JSON for v with no trailing newline.
//
// Rules:
//  1. Object keys sorted by UTF-16 code units
//  2. No insignificant whitespace
//  3. Strings NFC normalized, no HTML escaping
//  4. No floats, no nulls (DeterminismViolation)
//
// v may be a Value or one of the plain Go types string, bool, int, int64,
// []any, map[string]any, []string, []Object.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v, "$"); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalDocument produces the on-disk form of a canonical JSON document:
// Marshal output followed by exactly one LF.
func MarshalDocument(v any) ([]byte, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// MarshalLines produces canonical JSONL: one canonical value per line, each
// terminated by LF. An empty slice encodes to zero bytes.
func MarshalLines[T any](vs []T) ([]byte, error) {
	var buf bytes.Buffer
	for i, v := range vs {
		if err := encode(&buf, v, fmt.Sprintf("$[%d]", i)); err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// MustMarshal is like Marshal but panics on error.
// Use only in tests or for values built entirely from literals.
func MustMarshal(v any) []byte {
	data, err := Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func encode(buf *bytes.Buffer, v any, path string) error {
	switch val := v.(type) {
	case nil, Null:
		return faults.Determinism(faults.CodeNullForbidden, "null is forbidden in canonical JSON").WithPath(path)
	case String:
		return encodeString(buf, string(val), path)
	case string:
		return encodeString(buf, val, path)
	case Int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case int:
		buf.WriteString(strconv.Itoa(val))
	case Bool:
		writeBool(buf, bool(val))
	case bool:
		writeBool(buf, val)
	case Array:
		return encodeArray(buf, len(val), func(i int) any { return val[i] }, path)
	case []any:
		return encodeArray(buf, len(val), func(i int) any { return val[i] }, path)
	case []string:
		return encodeArray(buf, len(val), func(i int) any { return val[i] }, path)
	case []Object:
		return encodeArray(buf, len(val), func(i int) any { return val[i] }, path)
	case Object:
		return encodeObject(buf, val, path)
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			cv, err := FromGo(elem)
			if err != nil {
				if fe, ok := faults.As(err); ok && fe.Path == "" {
					return fe.WithPath(path + "." + k)
				}
				return err
			}
			obj[k] = cv
		}
		return encodeObject(buf, obj, path)
	case float64, float32:
		return faults.Determinism(faults.CodeFloatDetected, "floats are forbidden in canonical JSON: %v", val).WithPath(path)
	default:
		return faults.Determinism(faults.CodeUnsupportedType, "unsupported type for canonical JSON: %T", v).WithPath(path)
	}
	return nil
}

func writeBool(buf *bytes.Buffer, b bool) {
	if b {
		buf.WriteString("true")
		return
	}
	buf.WriteString("false")
}

func encodeArray(buf *bytes.Buffer, n int, at func(int) any, path string) error {
	buf.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encode(buf, at(i), fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func encodeObject(buf *bytes.Buffer, obj Object, path string) error {
	buf.WriteByte('{')
	for i, k := range obj.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, k, path); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encode(buf, obj[k], path+"."+k); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

const hexDigits = "0123456789abcdef"

// encodeString writes an RFC 8785 string: only quote, backslash and control
// characters are escaped; U+2028/U+2029 and HTML characters stay literal.
func encodeString(buf *bytes.Buffer, s, path string) error {
	if !utf8.ValidString(s) {
		return faults.Determinism(faults.CodeInvalidUTF8, "string is not valid UTF-8").WithPath(path)
	}
	s = norm.NFC.String(s)

	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexDigits[r>>4])
				buf.WriteByte(hexDigits[r&0xF])
				continue
			}
			buf.WriteRune(r)
		}
	}
	buf.WriteByte('"')
	return nil
}

// FromGo converts a plain Go value into a Value.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, faults.Determinism(faults.CodeNullForbidden, "null is forbidden")
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case int64:
		return Int(val), nil
	case int:
		return Int(val), nil
	case bool:
		return Bool(val), nil
	case float64, float32:
		return nil, faults.Determinism(faults.CodeFloatDetected, "floats are forbidden: %v", val)
	case []string:
		arr := make(Array, len(val))
		for i, s := range val {
			arr[i] = String(s)
		}
		return arr, nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			cv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = cv
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			cv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj[k] = cv
		}
		return obj, nil
	default:
		return nil, faults.Determinism(faults.CodeUnsupportedType, "unsupported type: %T", v)
	}
}
