package bridge

import (
	"cmp"
	"fmt"
	"os"
	"slices"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/roach88/ledgerpack/internal/canonical"
	"github.com/roach88/ledgerpack/internal/faults"
	"github.com/roach88/ledgerpack/internal/quant"
)

// Mark is one externally supplied price observation.
type Mark struct {
	TsSim  int64
	Symbol string
	Price  decimal.Decimal
}

// Marks is a time-ordered set of mark prices.
type Marks struct {
	rows []Mark
}

// NewMarks orders rows by (ts_sim, symbol). A later row for the same
// ts_sim and symbol replaces an earlier one.
func NewMarks(rows []Mark) *Marks {
	sorted := slices.Clone(rows)
	slices.SortStableFunc(sorted, func(a, b Mark) int {
		return cmp.Or(cmp.Compare(a.TsSim, b.TsSim), cmp.Compare(a.Symbol, b.Symbol))
	})
	return &Marks{rows: sorted}
}

// Len returns the number of mark rows.
func (m *Marks) Len() int { return len(m.rows) }

// ParseMarks reads JSONL rows of {ts_sim, symbol, price}. price is a decimal
// string or an integer.
func ParseMarks(data []byte) (*Marks, error) {
	lines, err := canonical.ParseLines(data)
	if err != nil {
		return nil, err
	}
	rows := make([]Mark, 0, len(lines))
	for i, obj := range lines {
		row, err := parseMark(obj)
		if err != nil {
			if fe, ok := faults.As(err); ok {
				return nil, fe.WithDetail("line", strconv.Itoa(i+1))
			}
			return nil, err
		}
		rows = append(rows, row)
	}
	return NewMarks(rows), nil
}

// LoadMarks reads a marks file.
func LoadMarks(path string) (*Marks, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read marks: %w", err)
	}
	return ParseMarks(data)
}

func parseMark(obj canonical.Object) (Mark, error) {
	ts, ok := obj.IntAt("ts_sim")
	if !ok {
		return Mark{}, faults.Schema(faults.CodeMissingField, "mark row needs an integer ts_sim").WithPath("ts_sim")
	}
	sym, ok := obj.Str("symbol")
	if !ok || sym == "" {
		return Mark{}, faults.Schema(faults.CodeMissingField, "mark row needs a symbol").WithPath("symbol")
	}

	var price decimal.Decimal
	switch v := obj["price"].(type) {
	case canonical.String:
		d, err := quant.ParseDecimal(string(v))
		if err != nil {
			return Mark{}, err
		}
		price = d
	case canonical.Int:
		price = decimal.NewFromInt(int64(v))
	case nil:
		return Mark{}, faults.Schema(faults.CodeMissingField, "mark row needs a price").WithPath("price")
	default:
		return Mark{}, faults.Schema(faults.CodeWrongType, "price is %s", canonical.TypeName(v)).WithPath("price")
	}
	if !price.IsPositive() {
		return Mark{}, faults.Schema(faults.CodeInvalidValue, "price must be positive, got %s", price).WithPath("price")
	}
	return Mark{TsSim: ts, Symbol: sym, Price: price}, nil
}

// MarkCursor walks marks forward in ts_sim, carrying the last price of
// each symbol.
type MarkCursor struct {
	rows []Mark
	next int
	last map[string]decimal.Decimal
}

// Cursor returns a cursor positioned before the first mark.
func (m *Marks) Cursor() *MarkCursor {
	return &MarkCursor{rows: m.rows, last: map[string]decimal.Decimal{}}
}

// Advance consumes every mark at or before tsSim and returns the carried
// prices. The map is owned by the cursor and valid until the next call.
func (c *MarkCursor) Advance(tsSim int64) map[string]decimal.Decimal {
	for c.next < len(c.rows) && c.rows[c.next].TsSim <= tsSim {
		row := c.rows[c.next]
		c.last[row.Symbol] = row.Price
		c.next++
	}
	return c.last
}
