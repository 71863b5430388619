// Package decision implements the Decision Engine: the Alpha Chamber
// scores opportunity, the Risk Chamber vetoes and sizes, and together
// they emit one Decision per Signal that clears the gate (spec §4.6).
package decision

import (
	"github.com/shopspring/decimal"

	"github.com/hopecore/hope/internal/clock"
	"github.com/hopecore/hope/internal/eventlog"
	"github.com/hopecore/hope/internal/indicators"
	"github.com/hopecore/hope/internal/model"
	"github.com/hopecore/hope/internal/risk"
)

// Features is the raw market context the Alpha Chamber scores a
// Signal against — recent prices plus the precursor-pattern inputs the
// teacher's predictor used for BTC 24h momentum calls (spec §4.6,
// §9 supplemented from the original predictor). Every field is a
// price, volume, or rate, so it stays decimal.Decimal end to end
// through the indicators package rather than round-tripping through
// float64 at each call site.
type Features struct {
	RecentPrices []decimal.Decimal
	RecentHighs  []decimal.Decimal
	RecentLows   []decimal.Decimal
	Volume       decimal.Decimal
	AvgVolume    decimal.Decimal
	BidVolume    decimal.Decimal
	AskVolume    decimal.Decimal
	FundingRate  decimal.Decimal
	BuyVolume    decimal.Decimal
	SellVolume   decimal.Decimal
}

// Classifier is the pluggable model-score collaborator (spec §4.6,
// consumed "model" component of the alpha blend). A classifier must be
// validated against the SHA-256 registry before being wired in; Engine
// does not enforce that itself, the loader that constructs Engine does.
type Classifier interface {
	Score(f Features) (probUp float64, err error)
}

// SentimentProvider supplies the sentiment component of the alpha
// blend. Defaults to a neutral 0.5 when no collaborator is wired (spec
// §4.6, §6 consumed collaborators).
type SentimentProvider interface {
	Sentiment(symbol string) (float64, error)
}

// neutralSentiment is the zero-value SentimentProvider.
type neutralSentiment struct{}

func (neutralSentiment) Sentiment(string) (float64, error) { return 0.5, nil }

// alpha blend weights (spec §4.6).
const (
	weightTechnical = 0.40
	weightModel     = 0.35
	weightSentiment = 0.15
	weightPrecursor = 0.10
)

// tier thresholds (spec §4.6).
var (
	strongDelta = decimal.RequireFromString("5")
	strongConf  = 0.65
	mediumDelta = decimal.RequireFromString("2")
	mediumConf  = 0.50
	weakDelta   = decimal.RequireFromString("0.5")
	weakConf    = 0.35
)

// risk/reward and TP/SL bounds (spec §4.6).
var (
	minRiskReward         = decimal.RequireFromString("2.5")
	minRiskRewardMomentum = decimal.RequireFromString("1.5")
	maxTPPct              = decimal.RequireFromString("15")
)

// Config holds the sizing/ATR tunables (spec §6).
type Config struct {
	AccountBalanceUSD func() decimal.Decimal
	BasePct           decimal.Decimal
	MinSizeUSD        decimal.Decimal
	MaxSizeUSD        decimal.Decimal
	MaxExposureUSD    decimal.Decimal
	CurrentExposure   func() decimal.Decimal
	KTP               decimal.Decimal
	KSL               decimal.Decimal
	FloorTPPct        decimal.Decimal
	DefaultTimeoutSec int
}

// Engine is the Decision Engine (spec §4.6).
type Engine struct {
	cfg        Config
	classifier Classifier
	sentiment  SentimentProvider
	riskMgr    *risk.Manager
	log        *eventlog.Log
}

// New wires an Engine. classifier or sentiment may be nil to use the
// defaults (a neutral 0.5 model score and neutral sentiment, respectively).
func New(cfg Config, classifier Classifier, sentiment SentimentProvider, riskMgr *risk.Manager, log *eventlog.Log) *Engine {
	if sentiment == nil {
		sentiment = neutralSentiment{}
	}
	return &Engine{cfg: cfg, classifier: classifier, sentiment: sentiment, riskMgr: riskMgr, log: log}
}

// Evaluate runs the full Alpha+Risk pipeline for one gated Signal and
// emits the resulting Decision (spec §4.6).
func (e *Engine) Evaluate(sig model.Signal, f Features) model.Decision {
	d := model.Decision{
		SchemaVersion: model.SchemaVersion,
		CorrelationID: sig.CorrelationID,
		Symbol:        sig.Symbol,
		DecidedAt:     clock.Now(),
	}

	alpha, confidence, tier := e.score(sig, f)
	d.AlphaScore = alpha
	d.Confidence = confidence
	d.SignalTier = tier

	if tier == model.TierNoise {
		d.Action = model.ActionSkip
		d.SkipReasons = append(d.SkipReasons, "alpha_score_below_noise_floor")
		e.publish(d)
		return d
	}

	approved, reasons := e.riskMgr.CanEnter()
	d.RiskApproved = approved
	d.RiskReasons = reasons2slice(reasons)
	if !approved {
		d.Action = model.ActionSkip
		d.SkipReasons = append(d.SkipReasons, reasons)
		e.publish(d)
		return d
	}

	entryPrice := sig.Price
	d.EntryPriceHint = entryPrice

	tpPct, slPct, ok, reason := e.targets(f, entryPrice, tier)
	if !ok {
		d.Action = model.ActionSkip
		d.SkipReasons = append(d.SkipReasons, reason)
		e.publish(d)
		return d
	}
	d.TPPct = tpPct
	d.SLPct = slPct
	d.TimeoutSec = e.cfg.DefaultTimeoutSec

	size, ok, reason := e.size(confidence)
	if !ok {
		d.Action = model.ActionSkip
		d.SkipReasons = append(d.SkipReasons, reason)
		e.publish(d)
		return d
	}
	d.PositionSizeUSD = size
	d.Action = model.ActionBuy

	e.publish(d)
	return d
}

// score runs the Alpha Chamber's weighted blend and assigns a tier
// (spec §4.6). alpha is in [0,1]; confidence is derived from how far
// alpha sits from the neutral midpoint, matching the teacher
// predictor's probUp-to-confidence mapping.
func (e *Engine) score(sig model.Signal, f Features) (alpha float64, confidence float64, tier model.SignalTier) {
	technical := technicalScore(f)

	modelScore := 0.5
	if e.classifier != nil {
		if s, err := e.classifier.Score(f); err == nil {
			modelScore = s
		}
	}

	sentimentScore := 0.5
	if s, err := e.sentiment.Sentiment(sig.Symbol); err == nil {
		sentimentScore = s
	}

	precursorScore := precursorScore(f)

	alpha = weightTechnical*technical + weightModel*modelScore + weightSentiment*sentimentScore + weightPrecursor*precursorScore
	confidence = 2 * absFloat(alpha-0.5)

	delta := sig.DeltaPct.Abs()
	switch {
	case delta.GreaterThanOrEqual(strongDelta) && confidence >= strongConf:
		tier = model.TierStrong
	case delta.GreaterThanOrEqual(mediumDelta) && confidence >= mediumConf:
		tier = model.TierMedium
	case delta.GreaterThanOrEqual(weakDelta) && confidence >= weakConf:
		tier = model.TierWeak
	case sig.StrategyTag == model.StrategyMomentum24h:
		tier = model.TierMomentum
	default:
		tier = model.TierNoise
	}
	return alpha, confidence, tier
}

// technicalScore runs the blend's technical term entirely in decimal
// and only drops to float64 here, at the boundary where it joins the
// classifier/sentiment collaborators' native probability outputs.
func technicalScore(f Features) float64 {
	rsi := indicators.RSI(f.RecentPrices, 14)
	momentum := indicators.MomentumScore(f.RecentPrices, 10)
	volume := indicators.VolumeScore(f.Volume, f.AvgVolume, momentum)
	orderbook := indicators.OrderBookImbalanceScore(f.BidVolume, f.AskVolume)
	funding := indicators.FundingRateScore(f.FundingRate)
	buysell := indicators.BuySellRatioScore(f.BuyVolume, f.SellVolume)

	return average6(indicators.RSIScore(rsi), momentum, volume, orderbook, funding, buysell).InexactFloat64()
}

func average6(a, b, c, d, e, f decimal.Decimal) decimal.Decimal {
	return a.Add(b).Add(c).Add(d).Add(e).Add(f).Div(decimal.NewFromInt(6))
}

// precursorScore counts the teacher's candlestick-precursor patterns
// (consolidation breakout, rising-trough momentum) normalized to [0,1].
// A full pattern-recognition suite is out of scope; this keeps the
// precursor term responsive to trend strength and price position
// without inventing a pattern catalog the data doesn't support.
func precursorScore(f Features) float64 {
	trend := indicators.TrendStrength(f.RecentPrices, 10)
	position := indicators.PricePosition(f.RecentPrices, 20)
	avg := trend.Add(position).Div(decimal.NewFromInt(2))
	return clamp01(avg.InexactFloat64())
}

// targets derives adaptive TP/SL from ATR and enforces the risk/reward
// floor (spec §4.6): 2.5 standard, 1.5 for MOMENTUM tier, widening TP
// to meet the floor rather than tightening SL, SKIP if that would push
// TP past the configured max.
func (e *Engine) targets(f Features, entryPrice decimal.Decimal, tier model.SignalTier) (tpPct, slPct decimal.Decimal, ok bool, reason string) {
	atr := indicators.ATR(f.RecentHighs, f.RecentLows, f.RecentPrices, 14)
	if entryPrice.IsZero() {
		return decimal.Zero, decimal.Zero, false, "entry_price_zero"
	}
	atrPct := atr.Div(entryPrice).Mul(decimal.NewFromInt(100))

	tpPct = atrPct.Mul(e.cfg.KTP)
	slPct = atrPct.Mul(e.cfg.KSL)
	if tpPct.LessThan(e.cfg.FloorTPPct) {
		tpPct = e.cfg.FloorTPPct
	}
	if slPct.IsZero() {
		return decimal.Zero, decimal.Zero, false, "sl_pct_zero"
	}

	floor := minRiskReward
	if tier == model.TierMomentum {
		floor = minRiskRewardMomentum
	}

	rr := tpPct.Div(slPct)
	if rr.LessThan(floor) {
		tpPct = slPct.Mul(floor)
	}

	if tpPct.GreaterThan(maxTPPct) {
		return decimal.Zero, decimal.Zero, false, "tp_pct_exceeds_max"
	}
	return tpPct, slPct, true, ""
}

// confidenceMultiplier steps the confidence tiers from spec §4.6: ≥0.85
// →1.25, ≥0.75→1.00, ≥0.65→0.75. Confidence below the STRONG floor can
// still reach here via the MEDIUM/WEAK/MOMENTUM tiers, so the table
// continues its 0.25 stride down to a 0.50 floor rather than leaving
// those tiers unsized.
func confidenceMultiplier(confidence float64) decimal.Decimal {
	switch {
	case confidence >= 0.85:
		return decimal.NewFromFloat(1.25)
	case confidence >= 0.75:
		return decimal.NewFromFloat(1.00)
	case confidence >= 0.65:
		return decimal.NewFromFloat(0.75)
	default:
		return decimal.NewFromFloat(0.50)
	}
}

// compoundMultiplier implements spec §4.6's compounding bonus: it steps
// up 0.05 for every 10% the account has grown (lifetime realized P&L)
// above the configured starting balance, capped at 1.50. Flat or
// drawn-down equity leaves the multiplier at its 1.0 floor.
func compoundMultiplier(baseline, cumulativePnL decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if !baseline.IsPositive() || !cumulativePnL.IsPositive() {
		return one
	}
	growth := cumulativePnL.Div(baseline)
	steps := growth.Div(decimal.NewFromFloat(0.10)).IntPart()
	if steps <= 0 {
		return one
	}
	mult := one.Add(decimal.NewFromInt(steps).Mul(decimal.NewFromFloat(0.05)))
	cap := decimal.NewFromFloat(1.50)
	if mult.GreaterThan(cap) {
		return cap
	}
	return mult
}

// size computes the position size formula from spec §4.6:
// balance * base_pct * confidence_mult * loss_adjust * compound_mult,
// clamped to [min_size, max_size] and the cumulative exposure cap.
func (e *Engine) size(confidence float64) (decimal.Decimal, bool, string) {
	balance := e.cfg.AccountBalanceUSD()
	confidenceMult := confidenceMultiplier(confidence)

	snap := e.riskMgr.Snapshot()
	lossAdjust := decimal.NewFromInt(1)
	if snap.ConsecutiveLosses > 0 {
		reduction := decimal.NewFromInt(int64(snap.ConsecutiveLosses)).Mul(decimal.NewFromFloat(0.15))
		lossAdjust = decimal.NewFromInt(1).Sub(reduction)
		if lossAdjust.LessThan(decimal.NewFromFloat(0.25)) {
			lossAdjust = decimal.NewFromFloat(0.25)
		}
	}

	compoundMult := compoundMultiplier(balance, snap.CumulativePnLUSD)

	size := balance.Mul(e.cfg.BasePct).Mul(confidenceMult).Mul(lossAdjust).Mul(compoundMult)
	if size.LessThan(e.cfg.MinSizeUSD) {
		size = e.cfg.MinSizeUSD
	}
	if size.GreaterThan(e.cfg.MaxSizeUSD) {
		size = e.cfg.MaxSizeUSD
	}

	if e.cfg.CurrentExposure != nil && e.cfg.MaxExposureUSD.IsPositive() {
		projected := e.cfg.CurrentExposure().Add(size)
		if projected.GreaterThan(e.cfg.MaxExposureUSD) {
			return decimal.Zero, false, "max_cumulative_exposure_exceeded"
		}
	}

	return size, true, ""
}

func (e *Engine) publish(d model.Decision) {
	if e.log == nil {
		return
	}
	if _, err := e.log.Publish(eventlog.TypeDecision, d.CorrelationID, "decision", d); err != nil {
		_ = err
	}
}

func reasons2slice(reason string) []string {
	if reason == "" {
		return nil
	}
	return []string{reason}
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
