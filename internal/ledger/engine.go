package ledger

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/roach88/ledgerpack/internal/canonical"
	"github.com/roach88/ledgerpack/internal/event"
	"github.com/roach88/ledgerpack/internal/faults"
	"github.com/roach88/ledgerpack/internal/quant"
)

// Config is injected at construction. The engine reads no ambient state.
type Config struct {
	// QuoteCurrency is the single currency every fill must settle in.
	QuoteCurrency string

	// Policy is the quantization policy. The zero value means quant.Default().
	Policy quant.Policy

	// Method selects WAC or FIFO cost accounting. Empty means WAC.
	Method Method

	// SymbolCurrencies overrides quote currency resolution per symbol.
	SymbolCurrencies map[string]string
}

// Outcome is the result of applying one event.
type Outcome string

const (
	Applied          Outcome = "APPLIED"
	SkippedDuplicate Outcome = "SKIPPED_DUPLICATE"
	Conflict         Outcome = "CONFLICT"
)

// ConflictDetail describes two different events sharing one event id.
type ConflictDetail struct {
	EventID        string
	ExistingSHA256 string
	IncomingSHA256 string
}

// ApplyResult is returned by Apply instead of raising for duplicates.
type ApplyResult struct {
	Outcome  Outcome
	Entry    *JournalEntry   // set for applied FILLs only
	Conflict *ConflictDetail // set when Outcome == Conflict
}

// EntryKind names the source of a journal entry.
type EntryKind string

const (
	KindFill        EntryKind = "FILL"
	KindOpeningCash EntryKind = "OPENING_CASH"
)

// JournalEntry is a committed, balanced set of postings.
type JournalEntry struct {
	EntryID  string
	Seq      int
	TsSim    int64
	EventID  string
	Symbol   string
	Kind     EntryKind
	Postings []Posting
	Meta     map[string]string
}

// FillRecord summarizes one applied fill.
type FillRecord struct {
	EventID       string
	TsSim         int64
	Symbol        string
	Side          event.Side
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	Fee           decimal.Decimal
	RealizedPnL   decimal.Decimal
	PositionAfter decimal.Decimal
	EntryID       string
}

// entryNamespace scopes the UUIDv5 entry ids.
var entryNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:ledgerpack:journal"))

// Engine is the double-entry ledger for one run. It is not safe for
// concurrent use; each run owns its own engine.
type Engine struct {
	cfg    Config
	policy quant.Policy

	accounts  map[string]decimal.Decimal
	positions map[string]*Position
	journal   []JournalEntry
	fills     []FillRecord
	seen      map[string]string // event_id -> sha256 of canonical bytes

	lastTs  int64
	hasTs   bool
	applied int

	failed error
}

// New creates an engine.
func New(cfg Config) (*Engine, error) {
	cfg.QuoteCurrency = strings.ToUpper(strings.TrimSpace(cfg.QuoteCurrency))
	if cfg.QuoteCurrency == "" {
		return nil, faults.Schema(faults.CodeInvalidValue, "quote currency is required")
	}
	if cfg.Method == "" {
		cfg.Method = MethodWAC
	}
	if cfg.Method != MethodWAC && cfg.Method != MethodFIFO {
		return nil, faults.Schema(faults.CodeInvalidValue, "unknown position method %q", cfg.Method)
	}
	if cfg.Policy.IsZero() {
		cfg.Policy = quant.Default()
	}

	return &Engine{
		cfg:       cfg,
		policy:    cfg.Policy,
		accounts:  make(map[string]decimal.Decimal),
		positions: make(map[string]*Position),
		seen:      make(map[string]string),
	}, nil
}

// MustNew is New that panics. Use only in tests.
func MustNew(cfg Config) *Engine {
	e, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return e
}

// fail poisons the engine and returns err.
func (e *Engine) fail(err error) error {
	e.failed = err
	return err
}

func (e *Engine) checkUsable() error {
	if e.failed != nil {
		return &faults.Error{
			Kind:    faults.KindLedgerInvariant,
			Code:    faults.CodeEngineFailed,
			Message: "engine is unusable after a previous failure",
			Err:     e.failed,
		}
	}
	return nil
}

// Apply applies one normalized event.
//
// A repeated event with identical content is skipped. A repeated event id
// with different content yields a Conflict outcome and leaves the ledger
// untouched. Any returned error is fatal and poisons the engine.
func (e *Engine) Apply(ev event.Event) (ApplyResult, error) {
	if err := e.checkUsable(); err != nil {
		return ApplyResult{}, err
	}

	digest := canonical.SHA256Hex(ev.Bytes())
	if prior, ok := e.seen[ev.EventID]; ok {
		if prior == digest {
			return ApplyResult{Outcome: SkippedDuplicate}, nil
		}
		return ApplyResult{
			Outcome: Conflict,
			Conflict: &ConflictDetail{
				EventID:        ev.EventID,
				ExistingSHA256: prior,
				IncomingSHA256: digest,
			},
		}, nil
	}

	if e.hasTs && ev.TsSim < e.lastTs {
		return ApplyResult{}, e.fail(faults.LedgerInvariant(faults.CodeNonMonotonicTs,
			"ts_sim %d is before last applied ts_sim %d", ev.TsSim, e.lastTs).WithPath(ev.EventID))
	}

	var entry *JournalEntry
	if ev.IsFill() {
		committed, err := e.applyFill(ev)
		if err != nil {
			return ApplyResult{}, e.fail(err)
		}
		entry = committed
	}

	e.seen[ev.EventID] = digest
	e.lastTs = ev.TsSim
	e.hasTs = true
	e.applied++
	return ApplyResult{Outcome: Applied, Entry: entry}, nil
}

func (e *Engine) applyFill(ev event.Event) (*JournalEntry, error) {
	fill := ev.Fill()
	ccy := e.cfg.QuoteCurrency

	if symCcy := e.cfg.SymbolCurrency(ev.Symbol); symCcy != ccy {
		return nil, faults.LedgerInvariant(faults.CodeCurrencyMismatch,
			"symbol %s settles in %s, engine quote currency is %s", ev.Symbol, symCcy, ccy).WithPath(ev.EventID)
	}
	if fill.FeeCurrency != "" && !strings.EqualFold(fill.FeeCurrency, ccy) {
		return nil, faults.LedgerInvariant(faults.CodeCurrencyMismatch,
			"fee currency %s differs from quote currency %s", fill.FeeCurrency, ccy).WithPath(ev.EventID)
	}

	pol := e.policy
	qty := pol.Qty(fill.Quantity)
	price := pol.Price(fill.Price)
	fee := pol.Money(fill.Fee)
	if !qty.IsPositive() {
		return nil, faults.Schema(faults.CodeInvalidValue,
			"quantity %s rounds to zero under the quantity quantum", fill.Quantity).WithPath("$.payload.quantity")
	}
	if !price.IsPositive() {
		return nil, faults.Schema(faults.CodeInvalidValue,
			"price %s rounds to zero under the price quantum", fill.Price).WithPath("$.payload.price")
	}
	sign := decimal.NewFromInt(int64(fill.Side.Sign()))

	current, ok := e.positions[ev.Symbol]
	if !ok {
		current = newPosition(ev.Symbol, e.cfg.Method)
	}
	pos := current.clone()

	held := pos.Quantity
	closed := decimal.Zero
	if !held.IsZero() && held.Sign() != fill.Side.Sign() {
		closed = decimal.Min(qty, held.Abs())
	}
	opened := qty.Sub(closed)

	closeNotional := pol.Money(price.Mul(closed))
	openNotional := pol.Money(price.Mul(opened))

	// Cost relieved by the close, signed like the inventory it leaves.
	realized := decimal.Zero
	removedSigned := decimal.Zero
	if closed.IsPositive() {
		removed := pos.book.Close(closed, pol)
		if held.IsPositive() {
			realized = closeNotional.Sub(removed)
			removedSigned = removed
		} else {
			realized = removed.Sub(closeNotional)
			removedSigned = removed.Neg()
		}
	}

	openedSigned := openNotional.Mul(sign)
	if opened.IsPositive() {
		pos.book.Open(Lot{Quantity: opened.Mul(sign), Price: price, Cost: openedSigned})
	}

	pos.Quantity = pol.Qty(held.Add(qty.Mul(sign)))
	pos.Fees = pos.Fees.Add(fee)
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)

	if !pos.lotsBalanced() {
		return nil, faults.LedgerInvariant(faults.CodeLotInvariant,
			"lot quantities of %s do not sum to position %s", ev.Symbol, pos.Quantity).WithPath(ev.EventID)
	}

	postings := []Posting{
		{Account: CashAccount(ccy), Amount: closeNotional.Add(openNotional).Mul(sign).Neg().Sub(fee)},
		{Account: FeesAccount(ccy), Amount: fee},
		{Account: InventoryAccount(ev.Symbol, ccy), Amount: openedSigned.Sub(removedSigned)},
	}
	if !realized.IsZero() {
		postings = append(postings, Posting{Account: RealizedAccount(ccy), Amount: realized.Neg()})
	}

	meta := map[string]string{
		"side":            string(fill.Side),
		"quantity":        pol.FormatQty(qty),
		"price":           pol.FormatPrice(price),
		"fee":             pol.FormatMoney(fee),
		"closed_quantity": pol.FormatQty(closed),
		"opened_quantity": pol.FormatQty(opened),
		"realized_pnl":    pol.FormatMoney(realized),
	}
	if fill.FillID != "" {
		meta["fill_id"] = fill.FillID
	}

	entry, err := e.commit(KindFill, ev.TsSim, ev.EventID, ev.Symbol, postings, meta)
	if err != nil {
		return nil, err
	}

	e.positions[ev.Symbol] = pos
	e.fills = append(e.fills, FillRecord{
		EventID:       ev.EventID,
		TsSim:         ev.TsSim,
		Symbol:        ev.Symbol,
		Side:          fill.Side,
		Quantity:      qty,
		Price:         price,
		Fee:           fee,
		RealizedPnL:   realized,
		PositionAfter: pos.Quantity,
		EntryID:       entry.EntryID,
	})
	return entry, nil
}

// OpenCash books an opening cash balance against EQUITY_OPENING. It is
// meant to be called before the first fill.
func (e *Engine) OpenCash(amount decimal.Decimal) (*JournalEntry, error) {
	if err := e.checkUsable(); err != nil {
		return nil, err
	}
	amt := e.policy.Money(amount)
	if amt.IsZero() {
		return nil, faults.Schema(faults.CodeInvalidValue, "opening cash must be nonzero")
	}

	ccy := e.cfg.QuoteCurrency
	postings := []Posting{
		{Account: CashAccount(ccy), Amount: amt},
		{Account: EquityOpeningAccount(ccy), Amount: amt.Neg()},
	}
	meta := map[string]string{"amount": e.policy.FormatMoney(amt)}

	entry, err := e.commit(KindOpeningCash, e.lastTs, "", "", postings, meta)
	if err != nil {
		return nil, e.fail(err)
	}
	return entry, nil
}

// commit sorts the postings, asserts they balance, and appends the entry.
func (e *Engine) commit(kind EntryKind, ts int64, eventID, symbol string, postings []Posting, meta map[string]string) (*JournalEntry, error) {
	pol := e.policy
	for i := range postings {
		postings[i].Amount = pol.Money(postings[i].Amount)
	}
	slices.SortFunc(postings, func(a, b Posting) int {
		if c := strings.Compare(a.Account, b.Account); c != 0 {
			return c
		}
		return strings.Compare(pol.FormatMoney(a.Amount), pol.FormatMoney(b.Amount))
	})

	sum := decimal.Zero
	for _, p := range postings {
		sum = sum.Add(p.Amount)
	}
	if !sum.IsZero() {
		return nil, faults.LedgerInvariant(faults.CodeDoubleEntry,
			"%s entry for %q does not balance: sum %s", kind, eventID, sum).WithPath(eventID)
	}

	seq := len(e.journal)
	entry := JournalEntry{
		EntryID:  entryID(seq, kind, eventID),
		Seq:      seq,
		TsSim:    ts,
		EventID:  eventID,
		Symbol:   symbol,
		Kind:     kind,
		Postings: postings,
		Meta:     meta,
	}
	for _, p := range postings {
		e.accounts[p.Account] = e.accounts[p.Account].Add(p.Amount)
	}
	e.journal = append(e.journal, entry)
	return &entry, nil
}

func entryID(seq int, kind EntryKind, eventID string) string {
	name := strconv.Itoa(seq) + "|" + string(kind) + "|" + eventID
	return uuid.NewSHA1(entryNamespace, []byte(name)).String()
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Policy returns the quantization policy.
func (e *Engine) Policy() quant.Policy { return e.policy }

// Err returns the error that poisoned the engine, if any.
func (e *Engine) Err() error { return e.failed }

// Cash returns the quote currency cash balance.
func (e *Engine) Cash() decimal.Decimal {
	return e.Account(CashAccount(e.cfg.QuoteCurrency))
}

// Account returns the balance of key, zero if never posted.
func (e *Engine) Account(key string) decimal.Decimal {
	if bal, ok := e.accounts[key]; ok {
		return bal
	}
	return decimal.Zero
}

// AccountKeys returns every posted account key, sorted.
func (e *Engine) AccountKeys() []string {
	keys := make([]string, 0, len(e.accounts))
	for k := range e.accounts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Position returns a copy of the position for symbol.
func (e *Engine) Position(symbol string) (*Position, bool) {
	p, ok := e.positions[symbol]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

// Symbols returns every symbol with a position, sorted.
func (e *Engine) Symbols() []string {
	syms := make([]string, 0, len(e.positions))
	for s := range e.positions {
		syms = append(syms, s)
	}
	slices.Sort(syms)
	return syms
}

// Journal returns the committed entries in order.
func (e *Engine) Journal() []JournalEntry {
	return slices.Clone(e.journal)
}

// Fills returns the applied fill records in order.
func (e *Engine) Fills() []FillRecord {
	return slices.Clone(e.fills)
}

// LastTsSim returns the monotonic watermark. ok is false before any event.
func (e *Engine) LastTsSim() (ts int64, ok bool) {
	return e.lastTs, e.hasTs
}

// SeenCount returns the number of distinct event ids applied.
func (e *Engine) SeenCount() int { return len(e.seen) }

// AppliedCount returns the number of events applied, skips excluded.
func (e *Engine) AppliedCount() int { return e.applied }

// RealizedPnL is the total realized PnL across positions.
func (e *Engine) RealizedPnL() decimal.Decimal {
	return e.Account(RealizedAccount(e.cfg.QuoteCurrency)).Neg()
}

// String implements fmt.Stringer for debugging.
func (e *Engine) String() string {
	return fmt.Sprintf("ledger(%s %s, %d entries, cash %s)",
		e.cfg.Method, e.cfg.QuoteCurrency, len(e.journal), e.policy.FormatMoney(e.Cash()))
}
