package pricecache

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestGetUnknownSymbol(t *testing.T) {
	c := New(10 * time.Second)
	_, _, stale, ok := c.Get("BTCUSDT")
	require.False(t, ok)
	require.True(t, stale)
}

func TestOnTickThenGetFresh(t *testing.T) {
	c := New(10 * time.Second)
	c.OnTick("BTCUSDT", decimal.NewFromInt(65000), time.Now().UTC())

	price, age, stale, ok := c.Get("BTCUSDT")
	require.True(t, ok)
	require.False(t, stale)
	require.True(t, age < time.Second)
	require.True(t, price.Equal(decimal.NewFromInt(65000)))
}

func TestStaleAfterThreshold(t *testing.T) {
	c := New(10 * time.Millisecond)
	c.OnTick("BTCUSDT", decimal.NewFromInt(65000), time.Now().UTC())

	time.Sleep(20 * time.Millisecond)

	_, age, stale, ok := c.Get("BTCUSDT")
	require.True(t, ok)
	require.True(t, stale)
	require.True(t, age > 10*time.Millisecond)
}

func TestStaleSymbolsReportsOnlyStaleOnes(t *testing.T) {
	c := New(10 * time.Millisecond)
	c.OnTick("BTCUSDT", decimal.NewFromInt(65000), time.Now().UTC())
	time.Sleep(20 * time.Millisecond)
	c.OnTick("PEPEUSDT", decimal.NewFromFloat(0.00001), time.Now().UTC())

	stale := c.StaleSymbols()
	require.Contains(t, stale, "BTCUSDT")
	require.NotContains(t, stale, "PEPEUSDT")
}

func TestLastReceivedAtTracksMostRecentTick(t *testing.T) {
	c := New(time.Minute)
	_, ok := c.LastReceivedAt()
	require.False(t, ok)

	c.OnTick("BTCUSDT", decimal.NewFromInt(65000), time.Now().UTC())
	ts, ok := c.LastReceivedAt()
	require.True(t, ok)
	require.True(t, time.Since(ts) < time.Second)
}

func TestRecentPricesBoundedAndOrdered(t *testing.T) {
	c := New(time.Minute)
	for i := 0; i < historyLen+10; i++ {
		c.OnTick("BTCUSDT", decimal.NewFromInt(int64(i)), time.Now().UTC())
	}

	prices := c.RecentPrices("BTCUSDT")
	require.Len(t, prices, historyLen)
	require.True(t, decimal.NewFromInt(int64(historyLen+10-1)).Equal(prices[len(prices)-1]))
}

func TestRecentPricesUnknownSymbolReturnsEmpty(t *testing.T) {
	c := New(time.Minute)
	require.Empty(t, c.RecentPrices("BTCUSDT"))
}
