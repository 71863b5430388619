package decision

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hopecore/hope/internal/model"
	"github.com/hopecore/hope/internal/risk"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	riskMgr := risk.NewManager(risk.Config{
		MaxDailyLossUSD: decimal.NewFromInt(15),
		MaxDailyTrades:  100,
		SymbolCooldown:  30 * time.Second,
	}, nil)
	cfg := Config{
		AccountBalanceUSD: func() decimal.Decimal { return decimal.NewFromInt(1000) },
		BasePct:           decimal.NewFromFloat(0.02),
		MinSizeUSD:        decimal.NewFromInt(10),
		MaxSizeUSD:        decimal.NewFromInt(100),
		MaxExposureUSD:    decimal.NewFromInt(500),
		CurrentExposure:   func() decimal.Decimal { return decimal.Zero },
		KTP:               decimal.NewFromFloat(2),
		KSL:               decimal.NewFromFloat(1),
		FloorTPPct:        decimal.NewFromFloat(2.5),
		DefaultTimeoutSec: 3600,
	}
	return New(cfg, nil, nil, riskMgr, nil)
}

func risingPrices(n int, start float64) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	for i := range out {
		out[i] = decimal.NewFromFloat(start + float64(i)*0.5)
	}
	return out
}

func testFeatures() Features {
	prices := risingPrices(30, 100)
	return Features{
		RecentPrices: prices,
		RecentHighs:  prices,
		RecentLows:   prices,
		Volume:       decimal.NewFromInt(1000),
		AvgVolume:    decimal.NewFromInt(800),
		BidVolume:    decimal.NewFromInt(600),
		AskVolume:    decimal.NewFromInt(400),
		FundingRate:  decimal.NewFromFloat(0.0001),
		BuyVolume:    decimal.NewFromInt(700),
		SellVolume:   decimal.NewFromInt(300),
	}
}

func TestEvaluateNoiseTierSkips(t *testing.T) {
	e := testEngine(t)
	sig := model.Signal{
		CorrelationID:  "corr-1",
		Symbol:         "ADAUSDT",
		Price:          decimal.NewFromInt(100),
		DeltaPct:       decimal.NewFromFloat(0.1),
		DailyVolumeUSD: decimal.NewFromInt(10_000_000),
		ProducedAt:     time.Now().UTC(),
	}
	d := e.Evaluate(sig, testFeatures())
	require.Equal(t, model.ActionSkip, d.Action)
}

func TestEvaluateRiskChamberVetoSkips(t *testing.T) {
	e := testEngine(t)
	e.riskMgr.SetKillSwitch(true, "test")

	sig := model.Signal{
		CorrelationID:  "corr-2",
		Symbol:         "BTCUSDT",
		Price:          decimal.NewFromInt(65000),
		DeltaPct:       decimal.NewFromFloat(6),
		DailyVolumeUSD: decimal.NewFromInt(10_000_000),
		ProducedAt:     time.Now().UTC(),
	}
	d := e.Evaluate(sig, testFeatures())
	require.Equal(t, model.ActionSkip, d.Action)
	require.False(t, d.RiskApproved)
}

func TestRiskRewardFloorEnforced(t *testing.T) {
	e := testEngine(t)
	tpPct, slPct, ok, _ := e.targets(testFeatures(), decimal.NewFromInt(65000), model.TierStrong)
	require.True(t, ok)
	require.True(t, tpPct.Div(slPct).GreaterThanOrEqual(minRiskReward))
}

func TestSizeClampedToMax(t *testing.T) {
	e := testEngine(t)
	size, ok, _ := e.size(1.0)
	require.True(t, ok)
	require.True(t, size.LessThanOrEqual(e.cfg.MaxSizeUSD))
}

func TestSizeRejectsWhenExposureCapExceeded(t *testing.T) {
	e := testEngine(t)
	e.cfg.CurrentExposure = func() decimal.Decimal { return decimal.NewFromInt(490) }
	_, ok, reason := e.size(1.0)
	require.False(t, ok)
	require.Equal(t, "max_cumulative_exposure_exceeded", reason)
}

func TestConfidenceMultiplierStepsByTier(t *testing.T) {
	require.True(t, decimal.NewFromFloat(1.25).Equal(confidenceMultiplier(0.90)))
	require.True(t, decimal.NewFromFloat(1.00).Equal(confidenceMultiplier(0.78)))
	require.True(t, decimal.NewFromFloat(0.75).Equal(confidenceMultiplier(0.70)))
	require.True(t, decimal.NewFromFloat(0.50).Equal(confidenceMultiplier(0.40)))
}

func TestSizeUsesConfidenceStepTable(t *testing.T) {
	e := testEngine(t)
	// scenario 3: confidence 0.78 must land on the 1.00 step, not a
	// continuous 0.5+confidence formula (which would give 1.28).
	size, ok, _ := e.size(0.78)
	require.True(t, ok)
	expected := decimal.NewFromInt(1000).Mul(e.cfg.BasePct).Mul(decimal.NewFromFloat(1.00))
	require.True(t, expected.Equal(size))
}

func TestCompoundMultiplierStepsWithEquityGrowth(t *testing.T) {
	baseline := decimal.NewFromInt(1000)
	require.True(t, decimal.NewFromInt(1).Equal(compoundMultiplier(baseline, decimal.Zero)))
	require.True(t, decimal.NewFromFloat(1.05).Equal(compoundMultiplier(baseline, decimal.NewFromInt(100))))
	require.True(t, decimal.NewFromFloat(1.50).Equal(compoundMultiplier(baseline, decimal.NewFromInt(10_000))))
}

func TestSizeAppliesCompoundMultiplierFromCumulativePnL(t *testing.T) {
	e := testEngine(t)
	e.riskMgr.RecordOutcome(model.Outcome{PnLUSD: decimal.NewFromInt(200), Label: model.LabelWin})
	size, ok, _ := e.size(0.78)
	require.True(t, ok)
	expected := decimal.NewFromInt(1000).Mul(e.cfg.BasePct).Mul(decimal.NewFromFloat(1.00)).Mul(decimal.NewFromFloat(1.10))
	require.True(t, expected.Equal(size))
}
