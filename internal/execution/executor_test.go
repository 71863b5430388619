package execution

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hopecore/hope/internal/exchange"
	"github.com/hopecore/hope/internal/model"
)

// fakeClient is a minimal exchange.Client stub for exercising the
// Executor without a network call.
type fakeClient struct {
	exchange.Client
	submitOrder func(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error)
	submitOCO   func(ctx context.Context, req exchange.OCORequest) (exchange.OrderAck, exchange.OrderAck, error)
}

func (f *fakeClient) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	return f.submitOrder(ctx, req)
}

func (f *fakeClient) SubmitOCO(ctx context.Context, req exchange.OCORequest) (exchange.OrderAck, exchange.OrderAck, error) {
	return f.submitOCO(ctx, req)
}

func TestEnterPositionFillsOnIOC(t *testing.T) {
	client := &fakeClient{
		submitOrder: func(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
			return exchange.OrderAck{Status: model.OrderFilled, FilledQuantity: req.Quantity, AvgFillPrice: decimal.NewFromInt(100)}, nil
		},
	}
	e := New(Config{}, client, nil)

	d := model.Decision{
		CorrelationID:   "corr-1",
		Symbol:          "BTCUSDT",
		PositionSizeUSD: decimal.NewFromInt(100),
		EntryPriceHint:  decimal.NewFromInt(100),
	}
	order, err := e.EnterPosition(context.Background(), d)
	require.NoError(t, err)
	require.Equal(t, model.OrderFilled, order.Status)
}

func TestEnterPositionFallsBackToMarketWhenIOCUnfilled(t *testing.T) {
	calls := 0
	client := &fakeClient{
		submitOrder: func(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
			calls++
			if req.TimeInForce == "IOC" {
				return exchange.OrderAck{Status: model.OrderCanceled}, nil
			}
			return exchange.OrderAck{Status: model.OrderFilled, FilledQuantity: req.Quantity, AvgFillPrice: decimal.NewFromInt(100)}, nil
		},
	}
	e := New(Config{}, client, nil)

	d := model.Decision{
		CorrelationID:   "corr-2",
		Symbol:          "BTCUSDT",
		PositionSizeUSD: decimal.NewFromInt(100),
		EntryPriceHint:  decimal.NewFromInt(100),
	}
	order, err := e.EnterPosition(context.Background(), d)
	require.NoError(t, err)
	require.Equal(t, model.OrderFilled, order.Status)
	require.Equal(t, 2, calls)
}

func TestEnterPositionIsIdempotentOnSameCorrelationID(t *testing.T) {
	client := &fakeClient{
		submitOrder: func(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
			return exchange.OrderAck{Status: model.OrderFilled, FilledQuantity: req.Quantity}, nil
		},
	}
	e := New(Config{}, client, nil)

	d := model.Decision{CorrelationID: "corr-3", Symbol: "BTCUSDT", PositionSizeUSD: decimal.NewFromInt(100), EntryPriceHint: decimal.NewFromInt(100)}
	_, err := e.EnterPosition(context.Background(), d)
	require.NoError(t, err)

	_, err = e.EnterPosition(context.Background(), d)
	require.ErrorIs(t, err, ErrAlreadySubmitted)
}

func TestPermanentErrorIsNotRetried(t *testing.T) {
	calls := 0
	client := &fakeClient{
		submitOrder: func(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
			calls++
			return exchange.OrderAck{}, exchange.NewError(exchange.ErrPermanent, "notional_below_min", nil)
		},
	}
	e := New(Config{}, client, nil)

	d := model.Decision{CorrelationID: "corr-4", Symbol: "BTCUSDT", PositionSizeUSD: decimal.NewFromInt(100), EntryPriceHint: decimal.NewFromInt(100)}
	_, err := e.EnterPosition(context.Background(), d)
	require.Error(t, err)
	require.Equal(t, 2, calls) // one IOC attempt, one MARKET attempt, no retries on either
}

func TestExecutorBusyWhenPoolSaturated(t *testing.T) {
	release := make(chan struct{})
	client := &fakeClient{
		submitOrder: func(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
			<-release
			return exchange.OrderAck{Status: model.OrderFilled, FilledQuantity: req.Quantity}, nil
		},
	}
	e := New(Config{Concurrency: 1}, client, nil)

	done := make(chan struct{})
	go func() {
		d := model.Decision{CorrelationID: "corr-5", Symbol: "BTCUSDT", PositionSizeUSD: decimal.NewFromInt(100), EntryPriceHint: decimal.NewFromInt(100)}
		_, _ = e.EnterPosition(context.Background(), d)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	d2 := model.Decision{CorrelationID: "corr-6", Symbol: "ETHUSDT", PositionSizeUSD: decimal.NewFromInt(100), EntryPriceHint: decimal.NewFromInt(100)}
	_, err := e.EnterPosition(context.Background(), d2)
	require.Error(t, err)
	require.IsType(t, &ExecutorBusyError{}, err)

	close(release)
	<-done
}
