package ledger

import (
	"maps"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/roach88/ledgerpack/internal/canonical"
	"github.com/roach88/ledgerpack/internal/faults"
	"github.com/roach88/ledgerpack/internal/quant"
)

// PositionValuation is one position inside a snapshot. Mark fields are set
// only when a mark price was supplied for the symbol.
type PositionValuation struct {
	Symbol        string
	Quantity      decimal.Decimal
	AvgCost       decimal.Decimal
	RealizedPnL   decimal.Decimal
	Fees          decimal.Decimal
	Marked        bool
	MarkPrice     decimal.Decimal
	MarketValue   decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// ValuationSnapshot is an immutable point-in-time valuation.
type ValuationSnapshot struct {
	TsSim         int64
	Currency      string
	Cash          decimal.Decimal
	Positions     []PositionValuation // sorted by symbol
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Equity        decimal.Decimal
	Meta          map[string]string

	policy quant.Policy
}

// Snapshot values the current state at marks. Unrealized PnL per symbol is
// (mark - avg_cost) * quantity; equity is cash plus mark * quantity. Symbols
// without a mark are listed but contribute to neither.
func (e *Engine) Snapshot(tsSim int64, marks map[string]decimal.Decimal, meta map[string]string) ValuationSnapshot {
	pol := e.policy
	snap := ValuationSnapshot{
		TsSim:         tsSim,
		Currency:      e.cfg.QuoteCurrency,
		Cash:          e.Cash(),
		RealizedPnL:   decimal.Zero,
		UnrealizedPnL: decimal.Zero,
		Meta:          maps.Clone(meta),
		policy:        pol,
	}
	equity := snap.Cash

	for _, sym := range e.Symbols() {
		p := e.positions[sym]
		pv := PositionValuation{
			Symbol:      sym,
			Quantity:    p.Quantity,
			AvgCost:     p.AvgCost(pol),
			RealizedPnL: p.RealizedPnL,
			Fees:        p.Fees,
		}
		snap.RealizedPnL = snap.RealizedPnL.Add(p.RealizedPnL)

		if mark, ok := marks[sym]; ok {
			mark = pol.Price(mark)
			pv.Marked = true
			pv.MarkPrice = mark
			pv.MarketValue = pol.Money(mark.Mul(p.Quantity))
			pv.UnrealizedPnL = pol.Money(mark.Sub(pv.AvgCost).Mul(p.Quantity))
			snap.UnrealizedPnL = snap.UnrealizedPnL.Add(pv.UnrealizedPnL)
			equity = equity.Add(pv.MarketValue)
		}
		snap.Positions = append(snap.Positions, pv)
	}

	snap.Equity = equity
	return snap
}

// Object renders the snapshot canonically.
func (s ValuationSnapshot) Object() canonical.Object {
	pol := s.policy
	positions := canonical.Array{}
	for _, pv := range s.Positions {
		obj := canonical.Object{
			"symbol":       canonical.String(pv.Symbol),
			"quantity":     canonical.String(pol.FormatQty(pv.Quantity)),
			"avg_cost":     canonical.String(pol.FormatPrice(pv.AvgCost)),
			"realized_pnl": canonical.String(pol.FormatMoney(pv.RealizedPnL)),
			"fees":         canonical.String(pol.FormatMoney(pv.Fees)),
		}
		if pv.Marked {
			obj["mark_price"] = canonical.String(pol.FormatPrice(pv.MarkPrice))
			obj["market_value"] = canonical.String(pol.FormatMoney(pv.MarketValue))
			obj["unrealized_pnl"] = canonical.String(pol.FormatMoney(pv.UnrealizedPnL))
		}
		positions = append(positions, obj)
	}

	meta := canonical.Object{}
	for _, k := range slices.Sorted(maps.Keys(s.Meta)) {
		meta[k] = canonical.String(s.Meta[k])
	}

	return canonical.Object{
		"ts_sim":         canonical.Int(s.TsSim),
		"currency":       canonical.String(s.Currency),
		"cash":           canonical.String(pol.FormatMoney(s.Cash)),
		"positions":      positions,
		"realized_pnl":   canonical.String(pol.FormatMoney(s.RealizedPnL)),
		"unrealized_pnl": canonical.String(pol.FormatMoney(s.UnrealizedPnL)),
		"equity":         canonical.String(pol.FormatMoney(s.Equity)),
		"meta":           meta,
	}
}

// ExportSnapshotJSON returns the canonical JSON document of a snapshot.
func (e *Engine) ExportSnapshotJSON(tsSim int64, marks map[string]decimal.Decimal, meta map[string]string) ([]byte, error) {
	return canonical.MarshalDocument(e.Snapshot(tsSim, marks, meta).Object())
}

// ExportState returns the full ledger state: accounts sorted by key,
// positions sorted by symbol, and the journal in application order.
func (e *Engine) ExportState() canonical.Object {
	pol := e.policy

	accounts := canonical.Object{}
	for _, k := range e.AccountKeys() {
		accounts[k] = canonical.String(pol.FormatMoney(e.accounts[k]))
	}

	positions := canonical.Array{}
	for _, sym := range e.Symbols() {
		positions = append(positions, e.positions[sym].Object(pol))
	}

	journal := canonical.Array{}
	for _, entry := range e.journal {
		journal = append(journal, entry.Object(pol))
	}

	state := canonical.Object{
		"quote_currency":      canonical.String(e.cfg.QuoteCurrency),
		"method":              canonical.String(string(e.cfg.Method)),
		"policy":              pol.Object(),
		"policy_id":           canonical.String(pol.ID()),
		"accounts":            accounts,
		"positions":           positions,
		"journal":             journal,
		"applied_event_count": canonical.Int(int64(e.applied)),
	}
	if e.hasTs {
		state["last_ts_sim"] = canonical.Int(e.lastTs)
	}
	return state
}

// ExportFIFO returns the FIFO ledger snapshot and the journal entries as
// canonical objects. Only valid for FIFO engines.
func (e *Engine) ExportFIFO() (canonical.Object, []canonical.Object, error) {
	if e.cfg.Method != MethodFIFO {
		return nil, nil, faults.Schema(faults.CodeInvalidValue, "FIFO export requires a FIFO engine, have %s", e.cfg.Method)
	}
	pol := e.policy

	positions := canonical.Array{}
	for _, sym := range e.Symbols() {
		positions = append(positions, e.positions[sym].Object(pol))
	}

	snapshot := canonical.Object{
		"method":         canonical.String(string(MethodFIFO)),
		"quote_currency": canonical.String(e.cfg.QuoteCurrency),
		"policy_id":      canonical.String(pol.ID()),
		"cash":           canonical.String(pol.FormatMoney(e.Cash())),
		"realized_pnl":   canonical.String(pol.FormatMoney(e.RealizedPnL())),
		"positions":      positions,
		"entry_count":    canonical.Int(int64(len(e.journal))),
	}

	entries := make([]canonical.Object, 0, len(e.journal))
	for _, entry := range e.journal {
		entries = append(entries, entry.Object(pol))
	}
	return snapshot, entries, nil
}

// Object renders the entry canonically.
func (je JournalEntry) Object(pol quant.Policy) canonical.Object {
	postings := canonical.Array{}
	for _, p := range je.Postings {
		postings = append(postings, canonical.Object{
			"account": canonical.String(p.Account),
			"amount":  canonical.String(pol.FormatMoney(p.Amount)),
		})
	}
	meta := canonical.Object{}
	for k, v := range je.Meta {
		meta[k] = canonical.String(v)
	}

	obj := canonical.Object{
		"entry_id": canonical.String(je.EntryID),
		"seq":      canonical.Int(int64(je.Seq)),
		"ts_sim":   canonical.Int(je.TsSim),
		"kind":     canonical.String(string(je.Kind)),
		"postings": postings,
		"meta":     meta,
	}
	if je.EventID != "" {
		obj["event_id"] = canonical.String(je.EventID)
	}
	if je.Symbol != "" {
		obj["symbol"] = canonical.String(je.Symbol)
	}
	return obj
}

// Object renders the fill record canonically.
func (f FillRecord) Object(pol quant.Policy) canonical.Object {
	return canonical.Object{
		"event_id":       canonical.String(f.EventID),
		"ts_sim":         canonical.Int(f.TsSim),
		"symbol":         canonical.String(f.Symbol),
		"side":           canonical.String(string(f.Side)),
		"quantity":       canonical.String(pol.FormatQty(f.Quantity)),
		"price":          canonical.String(pol.FormatPrice(f.Price)),
		"fee":            canonical.String(pol.FormatMoney(f.Fee)),
		"realized_pnl":   canonical.String(pol.FormatMoney(f.RealizedPnL)),
		"position_after": canonical.String(pol.FormatQty(f.PositionAfter)),
		"entry_id":       canonical.String(f.EntryID),
	}
}

// FillObjects returns every fill record as a canonical object, in order.
func (e *Engine) FillObjects() []canonical.Object {
	out := make([]canonical.Object, 0, len(e.fills))
	for _, f := range e.fills {
		out = append(out, f.Object(e.policy))
	}
	return out
}

// PositionObjects returns every position as a canonical object, sorted by
// symbol.
func (e *Engine) PositionObjects() []canonical.Object {
	out := make([]canonical.Object, 0, len(e.positions))
	for _, sym := range e.Symbols() {
		out = append(out, e.positions[sym].Object(e.policy))
	}
	return out
}

// PositionsDocument wraps PositionObjects with the engine identity, the
// form stored as a bundle's expected positions.
func (e *Engine) PositionsDocument() canonical.Object {
	positions := canonical.Array{}
	for _, p := range e.PositionObjects() {
		positions = append(positions, p)
	}
	return canonical.Object{
		"method":         canonical.String(string(e.cfg.Method)),
		"quote_currency": canonical.String(e.cfg.QuoteCurrency),
		"policy_id":      canonical.String(e.policy.ID()),
		"positions":      positions,
	}
}
