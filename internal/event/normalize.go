package event

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/roach88/ledgerpack/internal/canonical"
	"github.com/roach88/ledgerpack/internal/faults"
	"github.com/roach88/ledgerpack/internal/quant"
)

var knownFields = []string{
	"schema_version", "event_id", "run_id", "session_id", "intent_id",
	"symbol", "event_type", "ts_sim", "request_id", "client_order_id",
	"reason_code", "reason_detail", "payload",
}

var fillFields = []string{"side", "quantity", "price", "fee", "fee_currency", "fill_id"}

// Normalize validates raw and returns the typed, canonical event.
//
// Nulls are treated as absent. Wall-clock and bundle-assigned fields are
// dropped. Event type and side are upper-cased; payload decimals are
// rewritten in shortest exact form.
func Normalize(raw canonical.Object) (Event, error) {
	obj := stripNulls(raw)
	for _, k := range WallClockFields {
		delete(obj, k)
	}
	for _, k := range BundleFields {
		delete(obj, k)
	}

	version, err := requireString(obj, "schema_version")
	if err != nil {
		return Event{}, err
	}
	if version != SchemaVersion {
		return Event{}, faults.Schema(faults.CodeSchemaVersion,
			"schema_version must be %q, got %q", SchemaVersion, version).WithPath("$.schema_version")
	}

	var ev Event
	for _, f := range []struct {
		name     string
		dst      *string
		nonEmpty bool
	}{
		{"event_id", &ev.EventID, true},
		{"run_id", &ev.RunID, true},
		{"session_id", &ev.SessionID, false},
		{"intent_id", &ev.IntentID, false},
		{"symbol", &ev.Symbol, true},
	} {
		s, err := requireString(obj, f.name)
		if err != nil {
			return Event{}, err
		}
		if f.nonEmpty && strings.TrimSpace(s) == "" {
			return Event{}, faults.Schema(faults.CodeInvalidValue, "%s must not be empty", f.name).WithPath("$." + f.name)
		}
		*f.dst = s
	}

	typ, err := requireString(obj, "event_type")
	if err != nil {
		return Event{}, err
	}
	ev.Type = Type(strings.ToUpper(typ))
	if !ValidTypes[ev.Type] {
		return Event{}, faults.Schema(faults.CodeInvalidValue, "unknown event_type %q", typ).WithPath("$.event_type")
	}

	ts, present := obj["ts_sim"]
	if !present {
		return Event{}, faults.Schema(faults.CodeMissingField, "missing required field ts_sim").WithPath("$.ts_sim")
	}
	tsInt, ok := ts.(canonical.Int)
	if !ok {
		return Event{}, faults.Schema(faults.CodeWrongType, "ts_sim must be an integer, got %s", canonical.TypeName(ts)).WithPath("$.ts_sim")
	}
	if tsInt < 0 {
		return Event{}, faults.Schema(faults.CodeInvalidValue, "ts_sim must be non-negative, got %d", tsInt).WithPath("$.ts_sim")
	}
	ev.TsSim = int64(tsInt)

	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"request_id", &ev.RequestID},
		{"client_order_id", &ev.ClientOrderID},
		{"reason_code", &ev.ReasonCode},
		{"reason_detail", &ev.ReasonDetail},
	} {
		s, err := optionalString(obj, f.name)
		if err != nil {
			return Event{}, err
		}
		*f.dst = s
	}

	payload := canonical.Object{}
	if v, present := obj["payload"]; present {
		p, ok := v.(canonical.Object)
		if !ok {
			return Event{}, faults.Schema(faults.CodeWrongType, "payload must be an object, got %s", canonical.TypeName(v)).WithPath("$.payload")
		}
		payload = p
	}
	for _, k := range WallClockFields {
		delete(payload, k)
	}

	if ev.Type == TypeFill {
		fp, err := normalizeFill(payload)
		if err != nil {
			return Event{}, err
		}
		ev.Payload = fp
	} else {
		ev.Payload = &GenericPayload{Fields: payload}
	}

	for k, v := range obj {
		if slices.Contains(knownFields, k) {
			continue
		}
		if ev.Extra == nil {
			ev.Extra = canonical.Object{}
		}
		ev.Extra[k] = v
	}

	encoded, err := canonical.Marshal(ev.Object())
	if err != nil {
		return Event{}, fmt.Errorf("event %s: %w", ev.EventID, err)
	}
	ev.encoded = encoded
	return ev, nil
}

// NormalizeJSON parses one JSON object and normalizes it.
func NormalizeJSON(data []byte) (Event, error) {
	obj, err := canonical.ParseObject(data)
	if err != nil {
		return Event{}, err
	}
	return Normalize(obj)
}

func normalizeFill(payload canonical.Object) (*FillPayload, error) {
	side, err := requireString(payload, "side")
	if err != nil {
		return nil, payloadPath(err)
	}
	fp := &FillPayload{Side: Side(strings.ToUpper(side))}
	if fp.Side != Buy && fp.Side != Sell {
		return nil, faults.Schema(faults.CodeInvalidValue, "side must be BUY or SELL, got %q", side).WithPath("$.payload.side")
	}

	if fp.Quantity, err = requireDecimal(payload, "quantity"); err != nil {
		return nil, err
	}
	if !fp.Quantity.IsPositive() {
		return nil, faults.Schema(faults.CodeInvalidValue, "quantity must be positive, got %s", fp.Quantity).WithPath("$.payload.quantity")
	}

	if fp.Price, err = requireDecimal(payload, "price"); err != nil {
		return nil, err
	}
	if !fp.Price.IsPositive() {
		return nil, faults.Schema(faults.CodeInvalidValue, "price must be positive, got %s", fp.Price).WithPath("$.payload.price")
	}

	fp.Fee = decimal.Zero
	if _, present := payload["fee"]; present {
		if fp.Fee, err = requireDecimal(payload, "fee"); err != nil {
			return nil, err
		}
		if fp.Fee.IsNegative() {
			return nil, faults.Schema(faults.CodeInvalidValue, "fee must not be negative, got %s", fp.Fee).WithPath("$.payload.fee")
		}
	}

	if fp.FeeCurrency, err = optionalString(payload, "fee_currency"); err != nil {
		return nil, payloadPath(err)
	}
	if fp.FillID, err = optionalString(payload, "fill_id"); err != nil {
		return nil, payloadPath(err)
	}

	for k, v := range payload {
		if slices.Contains(fillFields, k) {
			continue
		}
		if fp.Extra == nil {
			fp.Extra = canonical.Object{}
		}
		fp.Extra[k] = v
	}
	return fp, nil
}

func requireString(obj canonical.Object, key string) (string, error) {
	v, present := obj[key]
	if !present {
		return "", faults.Schema(faults.CodeMissingField, "missing required field %s", key).WithPath("$." + key)
	}
	s, ok := v.(canonical.String)
	if !ok {
		return "", faults.Schema(faults.CodeWrongType, "%s must be a string, got %s", key, canonical.TypeName(v)).WithPath("$." + key)
	}
	return string(s), nil
}

func optionalString(obj canonical.Object, key string) (string, error) {
	if _, present := obj[key]; !present {
		return "", nil
	}
	return requireString(obj, key)
}

// requireDecimal reads a payload decimal. Numbers must travel as strings;
// a bare JSON integer is a type error.
func requireDecimal(payload canonical.Object, key string) (decimal.Decimal, error) {
	s, err := requireString(payload, key)
	if err != nil {
		return decimal.Decimal{}, payloadPath(err)
	}
	d, err := quant.ParseDecimal(s)
	if err != nil {
		if fe, ok := faults.As(err); ok {
			return decimal.Decimal{}, fe.WithPath("$.payload." + key)
		}
		return decimal.Decimal{}, err
	}
	return d, nil
}

func payloadPath(err error) error {
	if fe, ok := faults.As(err); ok && strings.HasPrefix(fe.Path, "$.") {
		return fe.WithPath("$.payload." + strings.TrimPrefix(fe.Path, "$."))
	}
	return err
}

// stripNulls returns a deep copy of obj with every null member removed.
func stripNulls(obj canonical.Object) canonical.Object {
	out := make(canonical.Object, len(obj))
	for k, v := range obj {
		if cv, keep := stripValue(v); keep {
			out[k] = cv
		}
	}
	return out
}

func stripValue(v canonical.Value) (canonical.Value, bool) {
	switch val := v.(type) {
	case nil, canonical.Null:
		return nil, false
	case canonical.Object:
		return stripNulls(val), true
	case canonical.Array:
		arr := make(canonical.Array, 0, len(val))
		for _, elem := range val {
			if cv, keep := stripValue(elem); keep {
				arr = append(arr, cv)
			}
		}
		return arr, true
	default:
		return v, true
	}
}
