// Package pipeline wires the Signal Gate, Decision Engine, and Order
// Executor into the single path a Signal travels from intake to an
// open Position, and wires the close side (Executor → Position
// Tracker → Outcome Tracker) back the other way. Nothing here holds
// business logic of its own — every decision point is delegated to the
// package that owns it; this is purely the glue spec §5 describes as
// "the pipeline" between components.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hopecore/hope/internal/decision"
	"github.com/hopecore/hope/internal/eventlog"
	"github.com/hopecore/hope/internal/execution"
	"github.com/hopecore/hope/internal/gate"
	"github.com/hopecore/hope/internal/model"
	"github.com/hopecore/hope/internal/outcome"
	"github.com/hopecore/hope/internal/position"
	"github.com/hopecore/hope/internal/pricecache"
)

const hundred = "100"

const (
	executionTimeout = 10 * time.Second
	defaultTimeout   = 4 * time.Hour
)

// Pipeline implements httpapi.SignalIngestor and also drives the close
// side of the trade lifecycle once the Executor reports a fill.
type Pipeline struct {
	gate      *gate.Gate
	decision  *decision.Engine
	executor  *execution.Executor
	positions *position.Tracker
	prices    *pricecache.Cache
	outcome   *outcome.Tracker

	mu          sync.Mutex
	exitReasons map[string]model.ExitReason // position_id -> reason, set by OnExitRequest
}

// New wires a Pipeline from its already-constructed collaborators.
func New(g *gate.Gate, d *decision.Engine, e *execution.Executor, positions *position.Tracker, prices *pricecache.Cache, o *outcome.Tracker) *Pipeline {
	return &Pipeline{
		gate:        g,
		decision:    d,
		executor:    e,
		positions:   positions,
		prices:      prices,
		outcome:     o,
		exitReasons: make(map[string]model.ExitReason),
	}
}

// Ingest runs one Signal through the gate and, if it clears, the
// Decision Engine and Order Executor (spec §4.5-§4.7). It is invoked
// from whatever delivery path received the Signal (in-process channel
// or HTTP ingestion). The gate and decision run on the caller's
// goroutine; the entry's exchange round-trip runs on its own goroutine,
// so the caller never waits on it.
func (p *Pipeline) Ingest(sig model.Signal) {
	if err := sig.Validate(); err != nil {
		log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("pipeline: rejected malformed signal")
		return
	}

	result := p.gate.Evaluate(sig)
	if !result.OK {
		log.Debug().Str("symbol", sig.Symbol).Str("failed_gate", string(result.FailedGate)).Msg("pipeline: signal gated")
		return
	}

	features := p.buildFeatures(sig)
	d := p.decision.Evaluate(sig, features)
	if d.Action != model.ActionBuy {
		log.Debug().Str("symbol", sig.Symbol).Strs("skip_reasons", d.SkipReasons).Msg("pipeline: decision skipped")
		return
	}

	go p.enter(d)
}

// buildFeatures assembles the Alpha Chamber's market-context inputs
// from the Price Cache's recent-tick history (spec §4.6). Volume/
// funding/order-book terms are left at their zero value until a richer
// market-data feed is wired in; technicalScore's averaging degrades
// gracefully to whatever inputs are non-zero.
func (p *Pipeline) buildFeatures(sig model.Signal) decision.Features {
	prices := p.prices.RecentPrices(sig.Symbol)
	f := decision.Features{RecentPrices: prices}
	if sig.BuysPerSec != nil {
		f.BuyVolume = *sig.BuysPerSec
	}
	return f
}

// enter submits the entry leg, places the OCO bracket once filled, and
// hands the opened position to the Position Tracker (spec §4.7, §4.8).
// Runs off the caller's goroutine since it blocks on exchange I/O.
func (p *Pipeline) enter(d model.Decision) {
	ctx, cancel := context.WithTimeout(context.Background(), executionTimeout)
	defer cancel()

	order, err := p.executor.EnterPosition(ctx, d)
	if err != nil || order.Status != model.OrderFilled {
		log.Warn().Err(err).Str("symbol", d.Symbol).Str("status", string(order.Status)).Msg("pipeline: entry did not fill")
		return
	}

	tpPrice := d.EntryPriceHint.Mul(decimal.NewFromInt(1).Add(d.TPPct.Div(decimal.RequireFromString(hundred))))
	slPrice := d.EntryPriceHint.Mul(decimal.NewFromInt(1).Sub(d.SLPct.Div(decimal.RequireFromString(hundred))))

	if _, _, err := p.executor.PlaceOCO(ctx, d.CorrelationID, d.Symbol, order.FilledQuantity, tpPrice, slPrice); err != nil {
		log.Error().Err(err).Str("symbol", d.Symbol).Msg("pipeline: OCO bracket placement failed, position is unprotected")
	}

	p.positions.Open(model.Position{
		SchemaVersion:    model.SchemaVersion,
		ID:               order.ID,
		CorrelationID:    d.CorrelationID,
		Symbol:           d.Symbol,
		EntryPrice:       order.AvgFillPrice,
		Quantity:         order.FilledQuantity,
		EntryTime:        order.UpdatedAt,
		TPPrice:          tpPrice,
		SLPrice:          slPrice,
		TimeoutAt:        order.UpdatedAt.Add(timeoutDuration(d.TimeoutSec)),
		ExchangeOrderIDs: []string{order.ExchangeOrderID},
		HighestPriceSeen: order.AvgFillPrice,
		LowestPriceSeen:  order.AvgFillPrice,
	})
}

// OnExitRequest is subscribed to the event log's exit-request journal
// so the reason the Watchdog (or an operator override) requested the
// close survives until the matching fill arrives and can be attached
// to the final Outcome record (spec §4.9, §4.10).
func (p *Pipeline) OnExitRequest(ev eventlog.Event) error {
	var req model.ExitRequest
	if err := ev.Decode(&req); err != nil {
		return nil
	}
	p.mu.Lock()
	p.exitReasons[req.PositionID] = req.Reason
	p.mu.Unlock()
	return nil
}

// OnFill is subscribed to the event log's fill journal (spec §4.10): a
// filled close-kind order is the trigger that removes the position from
// the Tracker and hands it to the Outcome Tracker, the only path that
// updates Risk State.
func (p *Pipeline) OnFill(ev eventlog.Event) error {
	var order model.Order
	if err := ev.Decode(&order); err != nil {
		return nil
	}
	if order.Kind != model.OrderKindClose || order.Status != model.OrderFilled {
		return nil
	}

	closed, ok := p.positionByCorrelationID(order.CorrelationID)
	if !ok {
		return nil
	}

	p.mu.Lock()
	reason, ok := p.exitReasons[closed.ID]
	delete(p.exitReasons, closed.ID)
	p.mu.Unlock()
	if !ok {
		reason = model.ExitManual
	}
	// A partial take-profit sells half; the remainder stays open.
	if reason == model.ExitPartialTP {
		return nil
	}

	pos, ok := p.positions.Close(closed.ID)
	if !ok {
		return nil
	}

	p.outcome.Record(outcome.ClosedTrade{
		Position:   pos,
		ExitPrice:  order.AvgFillPrice,
		ExitReason: reason,
		ClosedAt:   order.UpdatedAt,
	})
	return nil
}

func (p *Pipeline) positionByCorrelationID(correlationID string) (model.Position, bool) {
	for _, pos := range p.positions.All() {
		if pos.CorrelationID == correlationID {
			return pos, true
		}
	}
	return model.Position{}, false
}

func timeoutDuration(seconds int) time.Duration {
	if seconds <= 0 {
		return defaultTimeout
	}
	return time.Duration(seconds) * time.Second
}
