package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hopecore/hope/internal/allowlist"
	"github.com/hopecore/hope/internal/decision"
	"github.com/hopecore/hope/internal/eventlog"
	"github.com/hopecore/hope/internal/exchange"
	"github.com/hopecore/hope/internal/execution"
	"github.com/hopecore/hope/internal/gate"
	"github.com/hopecore/hope/internal/model"
	"github.com/hopecore/hope/internal/outcome"
	"github.com/hopecore/hope/internal/position"
	"github.com/hopecore/hope/internal/pricecache"
	"github.com/hopecore/hope/internal/risk"
)

type fakeClient struct {
	exchange.Client
}

func (f *fakeClient) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	return exchange.OrderAck{Status: model.OrderFilled, FilledQuantity: req.Quantity, AvgFillPrice: decimal.NewFromInt(100)}, nil
}

func (f *fakeClient) SubmitOCO(ctx context.Context, req exchange.OCORequest) (exchange.OrderAck, exchange.OrderAck, error) {
	return exchange.OrderAck{Status: model.OrderFilled}, exchange.OrderAck{Status: model.OrderFilled}, nil
}

func newTestPipeline(t *testing.T) (*Pipeline, *eventlog.Log, *position.Tracker) {
	t.Helper()
	elog := eventlog.New(t.TempDir())
	prices := pricecache.New(time.Minute)
	prices.OnTick("BTCUSDT", decimal.NewFromInt(100), time.Now().UTC())

	riskMgr := risk.NewManager(risk.Config{MaxDailyLossUSD: decimal.NewFromInt(1000), MaxDailyTrades: 100, SymbolCooldown: time.Minute}, elog)
	al := allowlist.New([]string{"BTCUSDT"}, decimal.NewFromInt(1_000_000), "", elog)
	g := gate.New(gate.Config{SignalTTL: time.Minute, MinDailyVolumeUSD: decimal.Zero, ProcessRatePerSec: 100}, prices, al, riskMgr, elog)

	d := decision.New(decision.Config{
		AccountBalanceUSD: func() decimal.Decimal { return decimal.NewFromInt(1000) },
		BasePct:           decimal.RequireFromString("0.02"),
		MinSizeUSD:        decimal.NewFromInt(10),
		MaxSizeUSD:        decimal.NewFromInt(200),
		MaxExposureUSD:    decimal.NewFromInt(500),
		CurrentExposure:   func() decimal.Decimal { return decimal.Zero },
		KTP:               decimal.RequireFromString("2.0"),
		KSL:               decimal.RequireFromString("1.0"),
		FloorTPPct:        decimal.RequireFromString("0.5"),
		DefaultTimeoutSec: 3600,
	}, nil, nil, riskMgr, elog)

	executor := execution.New(execution.Config{}, &fakeClient{}, elog)
	positions := position.New(elog)
	outcomeTracker := outcome.New(riskMgr, elog)

	p := New(g, d, executor, positions, prices, outcomeTracker)
	elog.Subscribe(eventlog.TypeExitRequest, p.OnExitRequest)
	elog.Subscribe(eventlog.TypeFill, p.OnFill)
	return p, elog, positions
}

func TestIngestRejectsInvalidSignal(t *testing.T) {
	p, _, positions := newTestPipeline(t)
	p.Ingest(model.Signal{Symbol: ""})
	require.Equal(t, 0, positions.Count())
}

func TestOnFillClosesPositionAndRecordsOutcome(t *testing.T) {
	p, elog, positions := newTestPipeline(t)

	positions.Open(model.Position{
		ID:            "pos-1",
		CorrelationID: "corr-1",
		Symbol:        "BTCUSDT",
		EntryPrice:    decimal.NewFromInt(100),
		Quantity:      decimal.NewFromInt(1),
	})

	_, err := elog.Publish(eventlog.TypeExitRequest, "corr-1", "watchdog", model.ExitRequest{
		PositionID: "pos-1",
		Reason:     model.ExitTP,
	})
	require.NoError(t, err)

	_, err = elog.Publish(eventlog.TypeFill, "corr-1", "execution", model.Order{
		CorrelationID: "corr-1",
		Kind:          model.OrderKindClose,
		Status:        model.OrderFilled,
		AvgFillPrice:  decimal.NewFromInt(110),
		UpdatedAt:     time.Now().UTC(),
	})
	require.NoError(t, err)

	require.Equal(t, 0, positions.Count())
}

func TestOnFillIgnoresNonCloseFills(t *testing.T) {
	p, elog, positions := newTestPipeline(t)
	_ = p

	positions.Open(model.Position{ID: "pos-2", CorrelationID: "corr-2", Symbol: "BTCUSDT", EntryPrice: decimal.NewFromInt(100)})

	_, err := elog.Publish(eventlog.TypeFill, "corr-2", "execution", model.Order{
		CorrelationID: "corr-2",
		Kind:          model.OrderKindEntry,
		Status:        model.OrderFilled,
	})
	require.NoError(t, err)

	require.Equal(t, 1, positions.Count())
}
