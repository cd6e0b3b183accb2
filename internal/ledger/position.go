package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/roach88/ledgerpack/internal/canonical"
	"github.com/roach88/ledgerpack/internal/quant"
)

// Method selects the position cost accounting strategy.
type Method string

const (
	// MethodWAC keeps one weighted-average cost per position.
	MethodWAC Method = "wac"
	// MethodFIFO keeps discrete lots and closes the oldest first.
	MethodFIFO Method = "fifo"
)

// Lot is an open slice of a position. Quantity and Cost carry the
// position's sign: both negative for a short.
type Lot struct {
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Cost     decimal.Decimal
}

// CostBook tracks the cost basis of one position.
type CostBook interface {
	Method() Method

	// Open adds a lot in the position's direction.
	Open(lot Lot)

	// Close removes qty (positive, at most the held size) and returns the
	// absolute cost relieved, quantized to money.
	Close(qty decimal.Decimal, p quant.Policy) decimal.Decimal

	// Cost is the signed cost of what is still held.
	Cost() decimal.Decimal

	// Lots returns the open lots oldest first. WAC books return nil.
	Lots() []Lot

	Clone() CostBook
}

func newCostBook(m Method) CostBook {
	if m == MethodFIFO {
		return &fifoBook{}
	}
	return &wacBook{qty: decimal.Zero, cost: decimal.Zero}
}

type wacBook struct {
	qty  decimal.Decimal
	cost decimal.Decimal
}

func (b *wacBook) Method() Method { return MethodWAC }

func (b *wacBook) Open(lot Lot) {
	b.qty = b.qty.Add(lot.Quantity)
	b.cost = b.cost.Add(lot.Cost)
}

func (b *wacBook) Close(qty decimal.Decimal, p quant.Policy) decimal.Decimal {
	held := b.qty.Abs()
	if qty.GreaterThanOrEqual(held) {
		removed := b.cost.Abs()
		b.qty = decimal.Zero
		b.cost = decimal.Zero
		return removed
	}

	removed := p.Money(b.cost.Abs().Mul(qty).Div(held))
	sign := decimal.NewFromInt(int64(b.qty.Sign()))
	b.qty = b.qty.Sub(qty.Mul(sign))
	b.cost = b.cost.Sub(removed.Mul(sign))
	return removed
}

func (b *wacBook) Cost() decimal.Decimal { return b.cost }

func (b *wacBook) Lots() []Lot { return nil }

func (b *wacBook) Clone() CostBook {
	cp := *b
	return &cp
}

type fifoBook struct {
	lots []Lot
}

func (b *fifoBook) Method() Method { return MethodFIFO }

func (b *fifoBook) Open(lot Lot) {
	b.lots = append(b.lots, lot)
}

// Close consumes lots from the front. A partially consumed lot gives up a
// proportional share of its cost and keeps the remainder, so the last
// piece of a lot always carries exactly what is left.
func (b *fifoBook) Close(qty decimal.Decimal, p quant.Policy) decimal.Decimal {
	removed := decimal.Zero
	remaining := qty
	for remaining.IsPositive() && len(b.lots) > 0 {
		front := &b.lots[0]
		lotQty := front.Quantity.Abs()
		if remaining.GreaterThanOrEqual(lotQty) {
			removed = removed.Add(front.Cost.Abs())
			remaining = remaining.Sub(lotQty)
			b.lots = b.lots[1:]
			continue
		}

		part := p.Money(front.Cost.Abs().Mul(remaining).Div(lotQty))
		sign := decimal.NewFromInt(int64(front.Quantity.Sign()))
		front.Quantity = front.Quantity.Sub(remaining.Mul(sign))
		front.Cost = front.Cost.Sub(part.Mul(sign))
		removed = removed.Add(part)
		remaining = decimal.Zero
	}
	if len(b.lots) == 0 {
		b.lots = nil
	}
	return removed
}

func (b *fifoBook) Cost() decimal.Decimal {
	total := decimal.Zero
	for _, l := range b.lots {
		total = total.Add(l.Cost)
	}
	return total
}

func (b *fifoBook) Lots() []Lot {
	out := make([]Lot, len(b.lots))
	copy(out, b.lots)
	return out
}

func (b *fifoBook) Clone() CostBook {
	return &fifoBook{lots: b.Lots()}
}

// Position is the per-symbol state. Quantity is signed: positive long,
// negative short.
type Position struct {
	Symbol      string
	Quantity    decimal.Decimal
	Fees        decimal.Decimal
	RealizedPnL decimal.Decimal

	book CostBook
}

func newPosition(symbol string, m Method) *Position {
	return &Position{
		Symbol:      symbol,
		Quantity:    decimal.Zero,
		Fees:        decimal.Zero,
		RealizedPnL: decimal.Zero,
		book:        newCostBook(m),
	}
}

func (p *Position) clone() *Position {
	cp := *p
	cp.book = p.book.Clone()
	return &cp
}

// State names the FLAT/LONG/SHORT state of the position.
func (p *Position) State() string {
	switch p.Quantity.Sign() {
	case 1:
		return "LONG"
	case -1:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// CostBasis is the signed cost of the open quantity.
func (p *Position) CostBasis() decimal.Decimal { return p.book.Cost() }

// AvgCost is |cost| / |quantity| at price scale, zero when flat.
func (p *Position) AvgCost(pol quant.Policy) decimal.Decimal {
	if p.Quantity.IsZero() {
		return decimal.Zero
	}
	return pol.Price(p.book.Cost().Abs().Div(p.Quantity.Abs()))
}

// Lots returns the FIFO lots, oldest first. Nil under WAC.
func (p *Position) Lots() []Lot { return p.book.Lots() }

// lotsBalanced checks the FIFO invariant: lot quantities sum to the
// position quantity.
func (p *Position) lotsBalanced() bool {
	if p.book.Method() != MethodFIFO {
		return true
	}
	sum := decimal.Zero
	for _, l := range p.book.Lots() {
		sum = sum.Add(l.Quantity)
	}
	return sum.Equal(p.Quantity)
}

// Object renders the position at the policy's scales.
func (p *Position) Object(pol quant.Policy) canonical.Object {
	obj := canonical.Object{
		"symbol":       canonical.String(p.Symbol),
		"state":        canonical.String(p.State()),
		"quantity":     canonical.String(pol.FormatQty(p.Quantity)),
		"avg_cost":     canonical.String(pol.FormatPrice(p.AvgCost(pol))),
		"cost_basis":   canonical.String(pol.FormatMoney(p.CostBasis())),
		"fees":         canonical.String(pol.FormatMoney(p.Fees)),
		"realized_pnl": canonical.String(pol.FormatMoney(p.RealizedPnL)),
	}
	if p.book.Method() == MethodFIFO {
		lots := canonical.Array{}
		for _, l := range p.book.Lots() {
			lots = append(lots, canonical.Object{
				"quantity": canonical.String(pol.FormatQty(l.Quantity)),
				"price":    canonical.String(pol.FormatPrice(l.Price)),
				"cost":     canonical.String(pol.FormatMoney(l.Cost)),
			})
		}
		obj["lots"] = lots
	}
	return obj
}
