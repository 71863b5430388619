package outcome

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hopecore/hope/internal/model"
	"github.com/hopecore/hope/internal/risk"
)

func testTracker() *Tracker {
	riskMgr := risk.NewManager(risk.Config{
		MaxDailyLossUSD: decimal.NewFromInt(15),
		MaxDailyTrades:  100,
		SymbolCooldown:  30 * time.Second,
	}, nil)
	return New(riskMgr, nil)
}

func TestRecordWinComputesPositivePnL(t *testing.T) {
	tr := testTracker()
	entry := time.Now().UTC().Add(-time.Hour)
	p := model.Position{
		ID: "pos-1", Symbol: "BTCUSDT",
		EntryPrice: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(2),
		EntryTime: entry, HighestPriceSeen: decimal.NewFromInt(115), LowestPriceSeen: decimal.NewFromInt(98),
	}
	o := tr.Record(ClosedTrade{Position: p, ExitPrice: decimal.NewFromInt(110), ExitReason: model.ExitTP, ClosedAt: time.Now().UTC()})

	require.Equal(t, model.LabelWin, o.Label)
	require.True(t, o.PnLUSD.Equal(decimal.NewFromInt(20)))
	require.True(t, o.MFEPct.GreaterThan(decimal.Zero))
}

func TestRecordLossComputesNegativePnL(t *testing.T) {
	tr := testTracker()
	p := model.Position{
		ID: "pos-2", Symbol: "BTCUSDT",
		EntryPrice: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1),
		EntryTime: time.Now().UTC(), HighestPriceSeen: decimal.NewFromInt(101), LowestPriceSeen: decimal.NewFromInt(94),
	}
	o := tr.Record(ClosedTrade{Position: p, ExitPrice: decimal.NewFromInt(95), ExitReason: model.ExitSL, ClosedAt: time.Now().UTC()})

	require.Equal(t, model.LabelLoss, o.Label)
	require.True(t, o.PnLUSD.IsNegative())
}

func TestRecordFlatWithinBand(t *testing.T) {
	tr := testTracker()
	p := model.Position{
		ID: "pos-3", Symbol: "BTCUSDT",
		EntryPrice: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1),
		EntryTime: time.Now().UTC(), HighestPriceSeen: decimal.NewFromInt(100), LowestPriceSeen: decimal.NewFromInt(100),
	}
	o := tr.Record(ClosedTrade{Position: p, ExitPrice: decimal.NewFromFloat(100.05), ExitReason: model.ExitTimeout, ClosedAt: time.Now().UTC()})
	require.Equal(t, model.LabelFlat, o.Label)
}

func TestRecordUpdatesRiskStateAndCooldown(t *testing.T) {
	tr := testTracker()
	p := model.Position{
		ID: "pos-4", Symbol: "BTCUSDT",
		EntryPrice: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1),
		EntryTime: time.Now().UTC(), HighestPriceSeen: decimal.NewFromInt(100), LowestPriceSeen: decimal.NewFromInt(90),
	}
	tr.Record(ClosedTrade{Position: p, ExitPrice: decimal.NewFromInt(92), ExitReason: model.ExitSL, ClosedAt: time.Now().UTC()})

	require.True(t, tr.riskMgr.IsSymbolCoolingDown("BTCUSDT"))
	snap := tr.riskMgr.Snapshot()
	require.Equal(t, 1, snap.ConsecutiveLosses)
}
