package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/ledgerpack/internal/faults"
)

// Parse decodes a single JSON value. Numbers with a fraction or exponent are
// rejected as DeterminismViolation; malformed JSON is a SchemaError.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, faults.Schema(faults.CodeInvalidJSON, "invalid JSON: %v", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, faults.Schema(faults.CodeInvalidJSON, "trailing data after JSON value")
	}

	return convert(raw, "$")
}

// ParseObject is Parse restricted to a top-level object.
func ParseObject(data []byte) (Object, error) {
	v, err := Parse(data)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(Object)
	if !ok {
		return nil, faults.Schema(faults.CodeWrongType, "expected JSON object, got %s", TypeName(v))
	}
	return obj, nil
}

// ParseLines decodes strict JSONL: every line one object, LF only, final
// line LF terminated. Empty input yields no objects.
func ParseLines(data []byte) ([]Object, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if err := CheckLF(data); err != nil {
		return nil, err
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	out := make([]Object, 0, len(lines))
	for i, line := range lines {
		obj, err := ParseObject([]byte(line))
		if err != nil {
			return nil, lineError(err, i+1)
		}
		out = append(out, obj)
	}
	return out, nil
}

// DecodeLines reads loosely formatted JSONL from r, as produced by upstream
// execution systems: blank lines are skipped and a missing final newline is
// tolerated. Floats are still rejected.
func DecodeLines(r io.Reader) ([]Object, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read jsonl: %w", err)
	}

	var out []Object
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		obj, err := ParseObject([]byte(line))
		if err != nil {
			return nil, lineError(err, i+1)
		}
		out = append(out, obj)
	}
	return out, nil
}

func lineError(err error, line int) error {
	if fe, ok := faults.As(err); ok {
		return fe.WithDetail("line", fmt.Sprintf("%d", line))
	}
	return fmt.Errorf("line %d: %w", line, err)
}

// convert maps a decoded Go value onto Value, rejecting floats.
func convert(v any, path string) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case json.Number:
		s := string(val)
		if strings.ContainsAny(s, ".eE") {
			return nil, faults.Determinism(faults.CodeFloatDetected, "floats are forbidden: %s", s).WithPath(path)
		}
		n, err := val.Int64()
		if err != nil {
			return nil, faults.Schema(faults.CodeInvalidValue, "number out of int64 range: %s", s).WithPath(path)
		}
		return Int(n), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			cv, err := convert(elem, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			arr[i] = cv
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			cv, err := convert(elem, path+"."+k)
			if err != nil {
				return nil, err
			}
			obj[k] = cv
		}
		return obj, nil
	default:
		return nil, faults.Schema(faults.CodeWrongType, "unsupported JSON type %T", v).WithPath(path)
	}
}

// ScanFloats reports the first float literal in a JSON document without
// building a value tree. It is used by the validator on every JSON and JSONL
// artifact, including ones whose hashes already match.
func ScanFloats(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return faults.Schema(faults.CodeInvalidJSON, "invalid JSON: %v", err)
		}
		if n, ok := tok.(json.Number); ok && strings.ContainsAny(string(n), ".eE") {
			return faults.Determinism(faults.CodeFloatDetected, "float literal %s", n)
		}
	}
}
