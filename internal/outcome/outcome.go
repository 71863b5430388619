// Package outcome implements the Outcome Tracker: the pipeline calls
// Record when a close order fills; it computes the final PnL/MFE/MAE
// record for a trade, and
// is the sole signal that feeds RiskState and the Circuit Breaker
// (spec §4.10).
package outcome

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hopecore/hope/internal/eventlog"
	"github.com/hopecore/hope/internal/model"
	"github.com/hopecore/hope/internal/risk"
)

// flatBandPct is the PnL% window around zero treated as FLAT rather
// than WIN/LOSS (spec §3 Label).
var flatBandPct = decimal.RequireFromString("0.1")

// ClosedTrade is everything the Executor/Watchdog know at the moment a
// position is fully closed — the inputs the Tracker turns into an
// Outcome.
type ClosedTrade struct {
	Position   model.Position
	ExitPrice  decimal.Decimal
	ExitReason model.ExitReason
	ClosedAt   time.Time
}

// Tracker computes and journals Outcomes, then updates risk state.
type Tracker struct {
	riskMgr *risk.Manager
	log     *eventlog.Log
}

// New wires a Tracker.
func New(riskMgr *risk.Manager, log *eventlog.Log) *Tracker {
	return &Tracker{riskMgr: riskMgr, log: log}
}

// Record finalizes a closed trade into an Outcome, journals it, and
// updates RiskState/Circuit Breaker — the only path that does (spec
// §4.10).
func (t *Tracker) Record(ct ClosedTrade) model.Outcome {
	p := ct.Position

	pnlUSD := ct.ExitPrice.Sub(p.EntryPrice).Mul(p.Quantity)
	pnlPct := decimal.Zero
	if !p.EntryPrice.IsZero() {
		pnlPct = ct.ExitPrice.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
	}

	mfePct := decimal.Zero
	maePct := decimal.Zero
	if !p.EntryPrice.IsZero() {
		mfePct = p.HighestPriceSeen.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
		maePct = p.EntryPrice.Sub(p.LowestPriceSeen).Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
	}

	label := model.LabelFlat
	switch {
	case pnlPct.GreaterThan(flatBandPct):
		label = model.LabelWin
	case pnlPct.LessThan(flatBandPct.Neg()):
		label = model.LabelLoss
	}

	o := model.Outcome{
		SchemaVersion: model.SchemaVersion,
		CorrelationID: p.CorrelationID,
		PositionID:    p.ID,
		Symbol:        p.Symbol,
		EntryPrice:    p.EntryPrice,
		ExitPrice:     ct.ExitPrice,
		PnLUSD:        pnlUSD,
		PnLPct:        pnlPct,
		MFEPct:        mfePct,
		MAEPct:        maePct,
		DurationSec:   int64(ct.ClosedAt.Sub(p.EntryTime).Seconds()),
		ExitReason:    ct.ExitReason,
		Label:         label,
		ClosedAt:      ct.ClosedAt,
	}

	t.publish(o)
	t.riskMgr.RecordOutcome(o)
	t.riskMgr.StartCooldown(p.Symbol)

	return o
}

func (t *Tracker) publish(o model.Outcome) {
	if t.log == nil {
		return
	}
	if _, err := t.log.Publish(eventlog.TypeOutcome, o.CorrelationID, "outcome", o); err != nil {
		log.Warn().Err(err).Msg("outcome: failed to publish outcome event")
	}
}
