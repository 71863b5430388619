package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hopecore/hope/internal/model"
	"github.com/hopecore/hope/internal/pricecache"
	"github.com/hopecore/hope/internal/position"
)

type fakeExiter struct {
	closed []model.ExitRequest
}

func (f *fakeExiter) ClosePosition(ctx context.Context, req model.ExitRequest) (model.Order, error) {
	f.closed = append(f.closed, req)
	return model.Order{Status: model.OrderFilled}, nil
}

func newTestPosition(id, symbol string, entry, tp, sl decimal.Decimal) model.Position {
	now := time.Now().UTC()
	return model.Position{
		ID:               id,
		CorrelationID:    "corr-" + id,
		Symbol:           symbol,
		EntryPrice:       entry,
		Quantity:         decimal.NewFromInt(1),
		EntryTime:        now,
		TPPrice:          tp,
		SLPrice:          sl,
		TimeoutAt:        now.Add(time.Hour),
		HighestPriceSeen: entry,
		LowestPriceSeen:  entry,
	}
}

func TestEvaluateClosesOnTakeProfit(t *testing.T) {
	tr := position.New(nil)
	p := newTestPosition("pos-1", "BTCUSDT", decimal.NewFromInt(100), decimal.NewFromInt(110), decimal.NewFromInt(90))
	tr.Open(p)

	prices := pricecache.New(10 * time.Second)
	prices.OnTick("BTCUSDT", decimal.NewFromInt(111), time.Now().UTC())

	exiter := &fakeExiter{}
	w := New(Config{}, tr, prices, exiter, nil)
	w.evaluate(context.Background(), p)

	require.Len(t, exiter.closed, 1)
	require.Equal(t, model.ExitTP, exiter.closed[0].Reason)
}

func TestEvaluateClosesOnStopLoss(t *testing.T) {
	tr := position.New(nil)
	p := newTestPosition("pos-2", "BTCUSDT", decimal.NewFromInt(100), decimal.NewFromInt(110), decimal.NewFromInt(90))
	tr.Open(p)

	prices := pricecache.New(10 * time.Second)
	prices.OnTick("BTCUSDT", decimal.NewFromInt(89), time.Now().UTC())

	exiter := &fakeExiter{}
	w := New(Config{}, tr, prices, exiter, nil)
	w.evaluate(context.Background(), p)

	require.Len(t, exiter.closed, 1)
	require.Equal(t, model.ExitSL, exiter.closed[0].Reason)
}

func TestEvaluateClosesOnTimeout(t *testing.T) {
	tr := position.New(nil)
	p := newTestPosition("pos-3", "BTCUSDT", decimal.NewFromInt(100), decimal.NewFromInt(110), decimal.NewFromInt(90))
	p.TimeoutAt = time.Now().UTC().Add(-time.Second)
	tr.Open(p)

	prices := pricecache.New(10 * time.Second)
	prices.OnTick("BTCUSDT", decimal.NewFromInt(101), time.Now().UTC())

	exiter := &fakeExiter{}
	w := New(Config{}, tr, prices, exiter, nil)
	w.evaluate(context.Background(), p)

	require.Len(t, exiter.closed, 1)
	require.Equal(t, model.ExitTimeout, exiter.closed[0].Reason)
}

func TestPartialTakeProfitFiresBeforeTrailing(t *testing.T) {
	tr := position.New(nil)
	p := newTestPosition("pos-4", "BTCUSDT", decimal.NewFromInt(100), decimal.NewFromInt(200), decimal.NewFromInt(50))
	tr.Open(p)

	prices := pricecache.New(10 * time.Second)
	prices.OnTick("BTCUSDT", decimal.NewFromInt(102), time.Now().UTC()) // 2% unrealized, clears 1.5% partial-TP floor

	exiter := &fakeExiter{}
	w := New(Config{}, tr, prices, exiter, nil)
	w.evaluate(context.Background(), p)

	require.Len(t, exiter.closed, 1)
	require.Equal(t, model.ExitPartialTP, exiter.closed[0].Reason)
	require.True(t, exiter.closed[0].Quantity.Equal(decimal.NewFromFloat(0.5)))

	updated, _ := tr.Get("pos-4")
	require.True(t, updated.PartialTaken)
	require.True(t, updated.Quantity.Equal(decimal.NewFromFloat(0.5)))
}

func TestTrailingStopAfterPartialTakeUsesRemainingQuantity(t *testing.T) {
	tr := position.New(nil)
	p := newTestPosition("pos-4b", "BTCUSDT", decimal.NewFromInt(100), decimal.NewFromInt(200), decimal.NewFromInt(50))
	tr.Open(p)

	prices := pricecache.New(10 * time.Second)
	exiter := &fakeExiter{}
	w := New(Config{}, tr, prices, exiter, nil)

	// Tick 1: clears the partial-TP floor, closes half.
	prices.OnTick("BTCUSDT", decimal.NewFromInt(102), time.Now().UTC())
	w.evaluate(context.Background(), p)
	require.Len(t, exiter.closed, 1)
	require.Equal(t, model.ExitPartialTP, exiter.closed[0].Reason)

	// Tick 2: price gives back enough to trip the trailing stop while
	// staying above the trailing-activation floor. The second close
	// request must be sized against the post-partial remainder, not the
	// original full quantity.
	p, _ = tr.Get("pos-4b")
	prices.OnTick("BTCUSDT", decimal.NewFromInt(101), time.Now().UTC())
	w.evaluate(context.Background(), p)

	require.Len(t, exiter.closed, 2)
	require.Equal(t, model.ExitTrailing, exiter.closed[1].Reason)
	require.True(t, exiter.closed[1].Quantity.Equal(decimal.NewFromFloat(0.5)))
}

func TestStalePricePanicCloses(t *testing.T) {
	tr := position.New(nil)
	p := newTestPosition("pos-5", "BTCUSDT", decimal.NewFromInt(100), decimal.NewFromInt(110), decimal.NewFromInt(90))
	tr.Open(p)

	prices := pricecache.New(time.Millisecond)
	prices.OnTick("BTCUSDT", decimal.NewFromInt(101), time.Now().UTC())
	time.Sleep(5 * time.Millisecond)

	exiter := &fakeExiter{}
	w := New(Config{StalePricePanic: 2 * time.Millisecond}, tr, prices, exiter, nil)
	w.evaluate(context.Background(), p)

	require.Len(t, exiter.closed, 1)
	require.Equal(t, model.ExitPanicStalePrice, exiter.closed[0].Reason)
}

func TestClosingPositionIsSkipped(t *testing.T) {
	tr := position.New(nil)
	p := newTestPosition("pos-6", "BTCUSDT", decimal.NewFromInt(100), decimal.NewFromInt(110), decimal.NewFromInt(90))
	p.Closing = true
	tr.Open(p)

	prices := pricecache.New(10 * time.Second)
	prices.OnTick("BTCUSDT", decimal.NewFromInt(111), time.Now().UTC())

	exiter := &fakeExiter{}
	w := New(Config{}, tr, prices, exiter, nil)
	w.evaluate(context.Background(), p)

	require.Empty(t, exiter.closed)
}
