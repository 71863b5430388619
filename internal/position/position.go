// Package position implements the Position Tracker: the authoritative
// open-position set, reconciled periodically against the exchange
// (spec §4.8, §4.12).
package position

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hopecore/hope/internal/clock"
	"github.com/hopecore/hope/internal/eventlog"
	"github.com/hopecore/hope/internal/exchange"
	"github.com/hopecore/hope/internal/model"
)

// stableQuoteAssets are never themselves a tradable position; a
// non-zero balance of one of these is just idle quote currency, not an
// orphaned lot (spec §4.8, "non-zero non-stable balances").
var stableQuoteAssets = map[string]bool{
	"USDT":  true,
	"USDC":  true,
	"BUSD":  true,
	"FDUSD": true,
}

// Tracker owns the single authoritative set of open positions. Every
// mutation goes through its exported methods so callers never race on
// the underlying map (spec §4.8).
type Tracker struct {
	log *eventlog.Log

	mu        sync.RWMutex
	positions map[string]*model.Position // keyed by Position.ID
}

// New creates an empty Tracker.
func New(log *eventlog.Log) *Tracker {
	return &Tracker{log: log, positions: make(map[string]*model.Position)}
}

// Open inserts a new position from a filled entry order (spec §4.8).
func (t *Tracker) Open(p model.Position) {
	t.mu.Lock()
	t.positions[p.ID] = &p
	t.mu.Unlock()
}

// Close removes a position by ID, publishing its final record to the
// close journal (spec §4.8) before returning it to the caller, which is
// expected to hand it to the Outcome Tracker.
func (t *Tracker) Close(id string) (model.Position, bool) {
	t.mu.Lock()
	p, ok := t.positions[id]
	if ok {
		delete(t.positions, id)
	}
	t.mu.Unlock()
	if !ok {
		return model.Position{}, false
	}

	if t.log != nil {
		if _, err := t.log.Publish(eventlog.TypeClose, p.CorrelationID, "position", *p); err != nil {
			log.Warn().Err(err).Msg("position: failed to publish close event")
		}
	}
	return *p, true
}

// Get returns a copy of one position by ID.
func (t *Tracker) Get(id string) (model.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[id]
	if !ok {
		return model.Position{}, false
	}
	return *p, true
}

// All returns a copy of every open position, for the Watchdog's tick
// scan and the HTTP status surface.
func (t *Tracker) All() []model.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, *p)
	}
	return out
}

// Count returns the number of currently open positions, for the health
// payload and the open positions metric. The Decision Engine's Risk Chamber does not check
// it, and MAX_OPEN_POSITIONS is loaded into config but not enforced.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.positions)
}

// Update applies fn to the position with the given ID while holding
// the write lock, for in-place mutation (e.g. updating high/low-water
// marks or the closing flag) without a read-then-write race.
func (t *Tracker) Update(id string, fn func(*model.Position)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[id]
	if !ok {
		return false
	}
	fn(p)
	return true
}

// ReconcileResult summarizes what Reconcile found and fixed.
type ReconcileResult struct {
	GhostsRemoved  []string
	OrphansAdded   []string
	Mismatch       bool
}

// Reconcile compares the tracked position set against the exchange's
// balances/recent trades and corrects drift (spec §4.8, §4.12):
// positions HOPE thinks are open but the exchange has no matching
// order for are ghosts and are removed; non-zero non-stable exchange
// balances that HOPE never materialized into a tracked position are
// orphans, rebuilt from account trade history and added. Any
// correction is reported as a mismatch and should trip the circuit
// breaker until resolved (spec §4.8).
func (t *Tracker) Reconcile(ctx context.Context, client exchange.Client, since time.Time) (ReconcileResult, error) {
	t.mu.RLock()
	tracked := make([]model.Position, 0, len(t.positions))
	for _, p := range t.positions {
		tracked = append(tracked, *p)
	}
	t.mu.RUnlock()

	var result ReconcileResult
	bySymbol := make(map[string][]model.Position)
	for _, p := range tracked {
		bySymbol[p.Symbol] = append(bySymbol[p.Symbol], p)
	}

	for symbol, positions := range bySymbol {
		trades, err := client.AccountTrades(ctx, symbol, since)
		if err != nil {
			return result, err
		}
		exchangeHasFill := len(trades) > 0

		if !exchangeHasFill {
			for _, p := range positions {
				t.mu.Lock()
				delete(t.positions, p.ID)
				t.mu.Unlock()
				result.GhostsRemoved = append(result.GhostsRemoved, p.ID)
			}
		}
	}

	orphans, err := t.findOrphans(ctx, client, bySymbol, since)
	if err != nil {
		return result, err
	}
	for _, p := range orphans {
		t.Open(p)
		result.OrphansAdded = append(result.OrphansAdded, p.ID)
	}

	result.Mismatch = len(result.GhostsRemoved) > 0 || len(result.OrphansAdded) > 0
	if result.Mismatch {
		t.publishMismatch(result)
	}
	return result, nil
}

// findOrphans scans account balances for non-zero non-stable lots with
// no matching tracked symbol and rebuilds a Position for each from its
// trade history (spec §4.8, §4.12). A balance with no trade history in
// the lookback window is skipped rather than guessed at; the Watchdog
// cannot safely manage a position with no reconstructable entry price.
func (t *Tracker) findOrphans(ctx context.Context, client exchange.Client, bySymbol map[string][]model.Position, since time.Time) ([]model.Position, error) {
	balances, err := client.AccountBalances(ctx)
	if err != nil {
		return nil, err
	}

	var orphans []model.Position
	for _, b := range balances {
		if stableQuoteAssets[b.Asset] {
			continue
		}
		total := b.Free.Add(b.Locked)
		if !total.IsPositive() {
			continue
		}
		symbol := b.Asset + "USDT"
		if _, tracked := bySymbol[symbol]; tracked {
			continue
		}

		trades, err := client.AccountTrades(ctx, symbol, since)
		if err != nil {
			return nil, err
		}
		qty := decimal.Zero
		notional := decimal.Zero
		var orderIDs []string
		for _, tr := range trades {
			if !tr.FilledQuantity.IsPositive() {
				continue
			}
			qty = qty.Add(tr.FilledQuantity)
			notional = notional.Add(tr.FilledQuantity.Mul(tr.AvgFillPrice))
			orderIDs = append(orderIDs, tr.ExchangeOrderID)
		}
		if !qty.IsPositive() {
			log.Warn().Str("symbol", symbol).Str("balance", total.String()).
				Msg("position: orphan balance has no reconstructable trade history, skipping")
			continue
		}

		now := clock.Now()
		orphans = append(orphans, model.Position{
			SchemaVersion:    model.SchemaVersion,
			ID:               clock.NewID(),
			CorrelationID:    clock.NewCorrelationID(),
			Symbol:           symbol,
			EntryPrice:       notional.Div(qty),
			Quantity:         qty,
			EntryTime:        now,
			HighestPriceSeen: notional.Div(qty),
			LowestPriceSeen:  notional.Div(qty),
			ExchangeOrderIDs: orderIDs,
		})
	}
	return orphans, nil
}

// ReduceQuantity shrinks a tracked position's remaining quantity after
// a partial exit fills, so later checks in the same or later Watchdog
// ticks evaluate TP/SL/trailing against what is actually still open
// (spec §4.9). Reports the position's quantity after the reduction.
func (t *Tracker) ReduceQuantity(id string, amount decimal.Decimal) (decimal.Decimal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[id]
	if !ok {
		return decimal.Zero, false
	}
	p.Quantity = p.Quantity.Sub(amount)
	if p.Quantity.IsNegative() {
		p.Quantity = decimal.Zero
	}
	return p.Quantity, true
}

func (t *Tracker) publishMismatch(result ReconcileResult) {
	if t.log == nil {
		return
	}
	_, err := t.log.Publish(eventlog.TypeReconcileMismatch, clock.NewCorrelationID(), "position", map[string]any{
		"ghosts_removed": result.GhostsRemoved,
		"orphans_added":  result.OrphansAdded,
	})
	if err != nil {
		log.Warn().Err(err).Msg("position: failed to publish reconcile mismatch")
	}
}
