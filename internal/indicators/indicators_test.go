package indicators

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func decimals(vals ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.NewFromFloat(v)
	}
	return out
}

func TestRSINeutralWithInsufficientData(t *testing.T) {
	rsi := RSI(decimals(100, 101), 14)
	require.True(t, rsi.Equal(decimal.NewFromInt(50)))
}

func TestRSIMaxedOnAllGains(t *testing.T) {
	prices := make([]decimal.Decimal, 0, 16)
	for i := 0; i < 16; i++ {
		prices = append(prices, decimal.NewFromInt(int64(100+i)))
	}
	rsi := RSI(prices, 14)
	require.True(t, rsi.Equal(decimal.NewFromInt(100)))
}

func TestMomentumScoreClampsAtBounds(t *testing.T) {
	prices := decimals(100, 200) // +100% over one tick, far past the ±1% clamp window
	score := MomentumScore(prices, 1)
	require.True(t, score.Equal(decimal.NewFromInt(30)))
}

func TestOrderBookImbalanceScoreFavorsBidHeavyBook(t *testing.T) {
	score := OrderBookImbalanceScore(decimal.NewFromInt(600), decimal.NewFromInt(400))
	require.True(t, score.IsPositive())
}

func TestOrderBookImbalanceScoreExtremesAtEmptySide(t *testing.T) {
	require.True(t, OrderBookImbalanceScore(decimal.NewFromInt(100), decimal.Zero).Equal(decimal.NewFromInt(20)))
	require.True(t, OrderBookImbalanceScore(decimal.Zero, decimal.NewFromInt(100)).Equal(decimal.NewFromInt(-20)))
}

func TestATRZeroWithInsufficientData(t *testing.T) {
	atr := ATR(decimals(1, 2), decimals(1, 2), decimals(1, 2), 14)
	require.True(t, atr.IsZero())
}

func TestATRPositiveOnVolatileSeries(t *testing.T) {
	highs := decimals(101, 103, 102, 106, 108, 107, 111, 112, 110, 115, 117, 116, 120, 122, 121)
	lows := decimals(99, 100, 98, 101, 103, 102, 104, 106, 105, 108, 110, 109, 112, 114, 113)
	closes := decimals(100, 102, 100, 104, 106, 105, 109, 110, 108, 112, 115, 113, 118, 120, 119)
	atr := ATR(highs, lows, closes, 10)
	require.True(t, atr.IsPositive())
}

func TestTrendStrengthSignsWithDirection(t *testing.T) {
	up := decimals(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	down := decimals(10, 9, 8, 7, 6, 5, 4, 3, 2, 1)
	require.True(t, TrendStrength(up, 10).IsPositive())
	require.True(t, TrendStrength(down, 10).IsNegative())
}

func TestPricePositionAtRangeExtremes(t *testing.T) {
	prices := decimals(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	require.True(t, PricePosition(prices, 10).Equal(decimal.NewFromInt(100)))
}
