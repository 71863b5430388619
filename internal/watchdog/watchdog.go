// Package watchdog implements the Position Watchdog: an independent
// 1-second-tick loop that evaluates every open position for exit
// conditions, regardless of whether any other loop is healthy (spec
// §4.9). It is the component that makes positions self-liquidating
// even during an API outage.
package watchdog

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hopecore/hope/internal/clock"
	"github.com/hopecore/hope/internal/eventlog"
	"github.com/hopecore/hope/internal/model"
	"github.com/hopecore/hope/internal/pricecache"
	"github.com/hopecore/hope/internal/position"
)

// partialTakeProfitPct is the unrealized-PnL threshold at which half
// the position is closed, before any trailing-stop re-evaluation (spec
// §4.9, and the resolved Open Question: partial-TP runs first within a
// tick, trailing is re-evaluated on the remainder afterward).
var partialTakeProfitPct = decimal.RequireFromString("1.5")

const (
	tickInterval        = time.Second
	defaultStalePricePanic = 30 * time.Second
	defaultAPISilencePanic = 60 * time.Second
	trailingActivatePct = "1.0" // unrealized PnL% at which trailing engages
	trailingGiveBackPct = "0.5" // trailing stop distance below the highest price seen, in percent
)

// Exiter is the collaborator that actually closes a position. The
// Executor implements the parts the Watchdog needs.
type Exiter interface {
	ClosePosition(ctx context.Context, req model.ExitRequest) (model.Order, error)
}

// Config holds the Watchdog's panic thresholds (spec §6).
type Config struct {
	StalePricePanic time.Duration
	APISilencePanic time.Duration
}

// Watchdog ticks every second and evaluates every open position for
// TP/SL/partial-TP/trailing/timeout/panic exits.
type Watchdog struct {
	cfg       Config
	positions *position.Tracker
	prices    *pricecache.Cache
	exiter    Exiter
	log       *eventlog.Log
}

// New wires a Watchdog. Zero-value Config fields fall back to spec
// §4.9's defaults (30s stale-price, 60s API-silence).
func New(cfg Config, positions *position.Tracker, prices *pricecache.Cache, exiter Exiter, log *eventlog.Log) *Watchdog {
	if cfg.StalePricePanic <= 0 {
		cfg.StalePricePanic = defaultStalePricePanic
	}
	if cfg.APISilencePanic <= 0 {
		cfg.APISilencePanic = defaultAPISilencePanic
	}
	return &Watchdog{cfg: cfg, positions: positions, prices: prices, exiter: exiter, log: log}
}

// Run ticks once per second until ctx is canceled (spec §5 L4).
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Watchdog) tick(ctx context.Context) {
	if w.checkAPISilence(ctx) {
		return // all positions already force-closed
	}

	for _, p := range w.positions.All() {
		w.evaluate(ctx, p)
	}
}

// checkAPISilence closes every open position at MARKET if no price
// tick has been received from the exchange in over apiSilencePanic
// (spec §4.9).
func (w *Watchdog) checkAPISilence(ctx context.Context) bool {
	last, ok := w.prices.LastReceivedAt()
	if !ok || clock.Now().Sub(last) < w.cfg.APISilencePanic {
		return false
	}

	log.Error().Dur("silence", clock.Now().Sub(last)).Msg("watchdog: API silence panic, closing all positions")
	for _, p := range w.positions.All() {
		w.requestExit(ctx, p, model.ExitPanicAPISilent, p.Quantity)
	}
	return true
}

func (w *Watchdog) evaluate(ctx context.Context, p model.Position) {
	if p.Closing {
		return
	}

	price, age, stale, known := w.prices.Get(p.Symbol)
	if !known {
		return
	}
	if stale && age > w.cfg.StalePricePanic {
		w.requestExit(ctx, p, model.ExitPanicStalePrice, p.Quantity)
		return
	}
	if !known || stale {
		return
	}

	w.updateWaterMarks(p.ID, price)

	if !clock.Now().Before(p.TimeoutAt) {
		w.requestExit(ctx, p, model.ExitTimeout, p.Quantity)
		return
	}

	unrealizedPct := p.UnrealizedPnLPct(price)

	// Partial take-profit runs before trailing re-evaluation within the
	// same tick (resolved Open Question: partial-TP precedence). A price
	// already at or past TP skips the partial and exits in full at TP.
	if !p.PartialTaken && unrealizedPct.GreaterThanOrEqual(partialTakeProfitPct) && price.LessThan(p.TPPrice) {
		half := p.Quantity.Div(decimal.NewFromInt(2))
		w.positions.Update(p.ID, func(pos *model.Position) { pos.PartialTaken = true })
		w.requestExit(ctx, p, model.ExitPartialTP, half)
		// Shrink the tracked quantity by the half just closed so every
		// check below — trailing, TP, SL, and any later tick before the
		// close confirms — evaluates against what remains open, not the
		// original full size (spec §4.9, partial-TP/trailing ordering).
		w.positions.ReduceQuantity(p.ID, half)
		p, _ = w.positions.Get(p.ID)
	}

	if w.checkTrailingStop(ctx, p, price) {
		return
	}

	if price.GreaterThanOrEqual(p.TPPrice) {
		w.requestExit(ctx, p, model.ExitTP, p.Quantity)
		return
	}
	if price.LessThanOrEqual(p.SLPrice) {
		w.requestExit(ctx, p, model.ExitSL, p.Quantity)
		return
	}
}

// checkTrailingStop activates a trailing stop once unrealized PnL
// clears trailingActivatePct, then exits once price falls
// trailingGiveBackPct percent below the highest price seen (spec §4.9).
func (w *Watchdog) checkTrailingStop(ctx context.Context, p model.Position, price decimal.Decimal) bool {
	activateAt := decimal.RequireFromString(trailingActivatePct)
	giveBack := decimal.RequireFromString(trailingGiveBackPct)

	unrealizedPct := p.UnrealizedPnLPct(price)
	if unrealizedPct.LessThan(activateAt) {
		return false
	}

	trailingStop := p.HighestPriceSeen.Mul(decimal.NewFromInt(1).Sub(giveBack.Div(decimal.NewFromInt(100))))
	w.positions.Update(p.ID, func(pos *model.Position) { pos.TrailingStopPrice = trailingStop })

	if price.LessThanOrEqual(trailingStop) {
		w.requestExit(ctx, p, model.ExitTrailing, p.Quantity)
		return true
	}
	return false
}

func (w *Watchdog) updateWaterMarks(id string, price decimal.Decimal) {
	w.positions.Update(id, func(p *model.Position) {
		if price.GreaterThan(p.HighestPriceSeen) {
			p.HighestPriceSeen = price
		}
		if p.LowestPriceSeen.IsZero() || price.LessThan(p.LowestPriceSeen) {
			p.LowestPriceSeen = price
		}
	})
}

// requestExit marks the position closing (idempotent close-attempt
// tagging, spec §4.9, §8) and publishes an ExitRequest, then submits
// the close via the Executor. A partial take-profit does not mark the
// position closing: its remainder stays under evaluation.
func (w *Watchdog) requestExit(ctx context.Context, p model.Position, reason model.ExitReason, quantity decimal.Decimal) {
	var attempt int
	w.positions.Update(p.ID, func(pos *model.Position) {
		if reason != model.ExitPartialTP {
			pos.Closing = true
		}
		pos.CloseAttempt++
		attempt = pos.CloseAttempt
	})

	req := model.ExitRequest{
		SchemaVersion: model.SchemaVersion,
		CorrelationID: p.CorrelationID,
		PositionID:    p.ID,
		Symbol:        p.Symbol,
		Reason:        reason,
		Quantity:      quantity,
		RequestedAt:   clock.Now(),
		Attempt:       attempt,
	}
	if w.log != nil {
		if _, err := w.log.Publish(eventlog.TypeExitRequest, p.CorrelationID, "watchdog", req); err != nil {
			log.Warn().Err(err).Msg("watchdog: failed to publish exit request")
		}
	}

	if _, err := w.exiter.ClosePosition(ctx, req); err != nil {
		log.Warn().Err(err).Str("position_id", p.ID).Str("reason", string(reason)).Msg("watchdog: close attempt failed")
		w.positions.Update(p.ID, func(pos *model.Position) { pos.Closing = false })
	}
}
