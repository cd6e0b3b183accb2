package event

import (
	"github.com/shopspring/decimal"

	"github.com/roach88/ledgerpack/internal/canonical"
)

// SchemaVersion is the only accepted value of schema_version.
const SchemaVersion = "BETA_EXEC_V1"

// Type is an execution event type.
type Type string

const (
	TypeIntent    Type = "INTENT"
	TypeSubmit    Type = "SUBMIT"
	TypeAck       Type = "ACK"
	TypeFill      Type = "FILL"
	TypeRejected  Type = "REJECTED"
	TypeCancelled Type = "CANCELLED"
	TypeError     Type = "ERROR"
)

// ValidTypes is the closed set of event types.
var ValidTypes = map[Type]bool{
	TypeIntent:    true,
	TypeSubmit:    true,
	TypeAck:       true,
	TypeFill:      true,
	TypeRejected:  true,
	TypeCancelled: true,
	TypeError:     true,
}

// Side is the direction of a fill.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Sign returns +1 for BUY and -1 for SELL.
func (s Side) Sign() int {
	if s == Sell {
		return -1
	}
	return 1
}

// WallClockFields are dropped during normalization. They are not part of an
// event's deterministic identity.
var WallClockFields = []string{"ts_utc", "emitted_at_utc", "wall_clock_utc", "emitted_at"}

// BundleFields are assigned by the bundle builder and stripped when bundle
// events are normalized again.
var BundleFields = []string{"seq", "event_time_utc"}

// Event is a normalized execution event. Construct it with Normalize.
type Event struct {
	EventID   string `json:"event_id"`
	RunID     string `json:"run_id"`
	SessionID string `json:"session_id"`
	IntentID  string `json:"intent_id"`
	Symbol    string `json:"symbol"`
	Type      Type   `json:"event_type"`
	TsSim     int64  `json:"ts_sim"` // monotonic run-local counter, not wall clock

	RequestID     string `json:"request_id,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
	ReasonCode    string `json:"reason_code,omitempty"`
	ReasonDetail  string `json:"reason_detail,omitempty"`

	Payload Payload `json:"payload"`

	// Extra holds unrecognized top-level fields so they round-trip.
	Extra canonical.Object `json:"-"`

	encoded []byte
}

// Payload is the sealed payload variant: *FillPayload or *GenericPayload.
type Payload interface {
	Object() canonical.Object
	payload()
}

// FillPayload is the typed payload of a FILL event.
type FillPayload struct {
	Side        Side
	Quantity    decimal.Decimal // always positive
	Price       decimal.Decimal // always positive
	Fee         decimal.Decimal // zero when absent, never negative
	FeeCurrency string          // empty means the engine's quote currency
	FillID      string

	// Extra holds the remaining payload fields.
	Extra canonical.Object
}

func (*FillPayload) payload() {}

// Object returns the canonical payload. Decimals are rendered in their
// shortest exact form, so "2.50" and "2.5" normalize identically.
func (p *FillPayload) Object() canonical.Object {
	obj := canonical.Object{}
	for k, v := range p.Extra {
		obj[k] = v
	}
	obj["side"] = canonical.String(string(p.Side))
	obj["quantity"] = canonical.String(p.Quantity.String())
	obj["price"] = canonical.String(p.Price.String())
	obj["fee"] = canonical.String(p.Fee.String())
	if p.FeeCurrency != "" {
		obj["fee_currency"] = canonical.String(p.FeeCurrency)
	}
	if p.FillID != "" {
		obj["fill_id"] = canonical.String(p.FillID)
	}
	return obj.Clone()
}

// GenericPayload carries the payload of every non-FILL event.
type GenericPayload struct {
	Fields canonical.Object
}

func (*GenericPayload) payload() {}

// Object returns the canonical payload.
func (p *GenericPayload) Object() canonical.Object {
	if p == nil || p.Fields == nil {
		return canonical.Object{}
	}
	return p.Fields.Clone()
}

// Fill returns the FILL payload, or nil for other event types.
func (e *Event) Fill() *FillPayload {
	fp, _ := e.Payload.(*FillPayload)
	return fp
}

// IsFill reports whether e is a FILL with a typed payload.
func (e *Event) IsFill() bool {
	return e.Type == TypeFill && e.Fill() != nil
}

// Object returns the canonical object form of e.
func (e *Event) Object() canonical.Object {
	obj := canonical.Object{}
	for k, v := range e.Extra {
		obj[k] = v
	}

	obj["schema_version"] = canonical.String(SchemaVersion)
	obj["event_id"] = canonical.String(e.EventID)
	obj["run_id"] = canonical.String(e.RunID)
	obj["session_id"] = canonical.String(e.SessionID)
	obj["intent_id"] = canonical.String(e.IntentID)
	obj["symbol"] = canonical.String(e.Symbol)
	obj["event_type"] = canonical.String(string(e.Type))
	obj["ts_sim"] = canonical.Int(e.TsSim)

	optional := map[string]string{
		"request_id":      e.RequestID,
		"client_order_id": e.ClientOrderID,
		"reason_code":     e.ReasonCode,
		"reason_detail":   e.ReasonDetail,
	}
	for k, v := range optional {
		if v != "" {
			obj[k] = canonical.String(v)
		}
	}

	if e.Payload != nil {
		obj["payload"] = e.Payload.Object()
	} else {
		obj["payload"] = canonical.Object{}
	}
	return obj.Clone()
}

// Bytes returns the canonical encoding of e, used for identity comparison.
func (e *Event) Bytes() []byte {
	if e.encoded != nil {
		return e.encoded
	}
	return canonical.MustMarshal(e.Object())
}

// Equal reports whether two events are byte-identical after normalization.
func (e *Event) Equal(o *Event) bool {
	return string(e.Bytes()) == string(o.Bytes())
}
