// Package execution implements the Order Executor: idempotent order
// submission, IOC-then-MARKET entry, OCO bracket placement, and
// transient-error retry (spec §4.7).
package execution

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hopecore/hope/internal/clock"
	"github.com/hopecore/hope/internal/eventlog"
	"github.com/hopecore/hope/internal/exchange"
	"github.com/hopecore/hope/internal/model"
)

// maxCrossPct bounds how far the IOC leg is allowed to cross the
// entry-price hint before falling back to MARKET (spec §4.7: "never
// cross >0.3% of entry_price_hint").
var maxCrossPct = decimal.RequireFromString("0.003")

const (
	iocWindow          = 2 * time.Second
	retryBase          = 500 * time.Millisecond
	retryCap           = 8 * time.Second
	retryMaxAttempts   = 5
	defaultConcurrency = 4
)

// Config holds the executor's tunables (spec §6).
type Config struct {
	Concurrency int
}

// Executor submits orders against an exchange.Client, retrying
// transient failures and rejecting outright on permanent ones (spec
// §4.7, §7).
type Executor struct {
	client exchange.Client
	log    *eventlog.Log

	sem chan struct{}

	mu      sync.Mutex
	inFlight map[string]bool // client_order_id -> submitted, for idempotence
}

// New wires an Executor against client.
func New(cfg Config, client exchange.Client, log *eventlog.Log) *Executor {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Executor{
		client:   client,
		log:      log,
		sem:      make(chan struct{}, concurrency),
		inFlight: make(map[string]bool),
	}
}

// EnterPosition submits the entry leg for an approved Decision: an
// IOC limit order within the cross tolerance, falling back to MARKET
// if it doesn't fill inside iocWindow (spec §4.7).
func (e *Executor) EnterPosition(ctx context.Context, d model.Decision) (model.Order, error) {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	default:
		return model.Order{}, &ExecutorBusyError{}
	}

	clientOrderID := clock.ClientOrderID(d.CorrelationID, string(model.OrderKindEntry))

	if e.alreadySubmitted(clientOrderID) {
		return model.Order{}, ErrAlreadySubmitted
	}
	e.markSubmitted(clientOrderID)

	quantity := d.PositionSizeUSD.Div(d.EntryPriceHint)
	limitPrice := d.EntryPriceHint.Mul(decimal.NewFromInt(1).Add(maxCrossPct))

	order := model.Order{
		SchemaVersion:  model.SchemaVersion,
		ID:             clock.NewID(),
		CorrelationID:  d.CorrelationID,
		ClientOrderID:  clientOrderID,
		Symbol:         d.Symbol,
		Side:           model.SideBuy,
		Kind:           model.OrderKindEntry,
		Quantity:       quantity,
		EntryPriceHint: d.EntryPriceHint,
		Status:         model.OrderPending,
		CreatedAt:      clock.Now(),
	}

	iocCtx, cancel := context.WithTimeout(ctx, iocWindow)
	ack, err := e.submitWithRetry(iocCtx, exchange.OrderRequest{
		ClientOrderID: clientOrderID,
		Symbol:        d.Symbol,
		Side:          model.SideBuy,
		Kind:          model.OrderKindEntry,
		Quantity:      quantity,
		LimitPrice:    limitPrice,
		TimeInForce:   "IOC",
	})
	cancel()

	if err == nil && ack.Status == model.OrderFilled {
		return e.finalize(order, ack), nil
	}

	// IOC didn't fill (or errored transiently past retries) — fall back
	// to MARKET, per spec §4.7.
	ack, err = e.submitWithRetry(ctx, exchange.OrderRequest{
		ClientOrderID: clientOrderID,
		Symbol:        d.Symbol,
		Side:          model.SideBuy,
		Kind:          model.OrderKindEntry,
		Quantity:      quantity,
	})
	if err != nil {
		order.Status = model.OrderRejected
		order.RejectReason = err.Error()
		e.publish(order)
		return order, err
	}

	return e.finalize(order, ack), nil
}

// PlaceOCO submits the take-profit/stop-loss bracket for a filled
// position (spec §4.7).
func (e *Executor) PlaceOCO(ctx context.Context, correlationID, symbol string, quantity, tpPrice, slPrice decimal.Decimal) (tpOrder, slOrder model.Order, err error) {
	tpID := clock.ClientOrderID(correlationID, string(model.OrderKindTP))
	slID := clock.ClientOrderID(correlationID, string(model.OrderKindSL))

	tpAck, slAck, err := e.submitOCOWithRetry(ctx, exchange.OCORequest{
		Symbol:          symbol,
		Quantity:        quantity,
		TPClientOrderID: tpID,
		TPPrice:         tpPrice,
		SLClientOrderID: slID,
		SLPrice:         slPrice,
	})
	if err != nil {
		return model.Order{}, model.Order{}, err
	}

	tpOrder = e.ackToOrder(correlationID, tpID, symbol, model.OrderKindTP, quantity, tpAck)
	slOrder = e.ackToOrder(correlationID, slID, symbol, model.OrderKindSL, quantity, slAck)
	e.publish(tpOrder)
	e.publish(slOrder)
	return tpOrder, slOrder, nil
}

// ClosePosition submits a MARKET sell for an exit request (spec §4.9).
// The client order ID includes the request's close attempt, so each
// exit request for a position (e.g. a partial take-profit, then the
// final exit) gets its own order while a repeated request is refused.
func (e *Executor) ClosePosition(ctx context.Context, req model.ExitRequest) (model.Order, error) {
	clientOrderID := clock.ClientOrderID(req.CorrelationID, string(model.OrderKindClose)+"-"+req.PositionID+"-"+strconv.Itoa(req.Attempt))
	if e.alreadySubmitted(clientOrderID) {
		return model.Order{}, ErrAlreadySubmitted
	}
	e.markSubmitted(clientOrderID)

	ack, err := e.submitWithRetry(ctx, exchange.OrderRequest{
		ClientOrderID: clientOrderID,
		Symbol:        req.Symbol,
		Side:          model.SideSell,
		Kind:          model.OrderKindClose,
		Quantity:      req.Quantity,
	})

	order := model.Order{
		SchemaVersion: model.SchemaVersion,
		ID:            clock.NewID(),
		CorrelationID: req.CorrelationID,
		ClientOrderID: clientOrderID,
		Symbol:        req.Symbol,
		Side:          model.SideSell,
		Kind:          model.OrderKindClose,
		Quantity:      req.Quantity,
		CreatedAt:     clock.Now(),
	}
	if err != nil {
		order.Status = model.OrderRejected
		order.RejectReason = err.Error()
		e.publish(order)
		return order, err
	}
	return e.finalize(order, ack), nil
}

func (e *Executor) finalize(order model.Order, ack exchange.OrderAck) model.Order {
	order.ExchangeOrderID = ack.ExchangeOrderID
	order.Status = ack.Status
	order.FilledQuantity = ack.FilledQuantity
	order.AvgFillPrice = ack.AvgFillPrice
	order.RejectReason = ack.RejectReason
	order.UpdatedAt = clock.Now()
	e.publish(order)
	if order.Status == model.OrderFilled {
		e.publishFill(order)
	}
	return order
}

func (e *Executor) ackToOrder(correlationID, clientOrderID, symbol string, kind model.OrderKind, quantity decimal.Decimal, ack exchange.OrderAck) model.Order {
	return model.Order{
		SchemaVersion:   model.SchemaVersion,
		ID:              clock.NewID(),
		CorrelationID:   correlationID,
		ClientOrderID:   clientOrderID,
		ExchangeOrderID: ack.ExchangeOrderID,
		Symbol:          symbol,
		Side:            model.SideSell,
		Kind:            kind,
		Quantity:        quantity,
		Status:          ack.Status,
		FilledQuantity:  ack.FilledQuantity,
		AvgFillPrice:    ack.AvgFillPrice,
		RejectReason:    ack.RejectReason,
		CreatedAt:       clock.Now(),
		UpdatedAt:       clock.Now(),
	}
}

// submitWithRetry retries transient/rate-limit failures with capped
// exponential backoff; permanent failures (e.g. notional too small)
// return immediately, never retried (spec §4.7, resolved Open Question
// on notional-too-small rejections).
func (e *Executor) submitWithRetry(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	b := &backoff.Backoff{Min: retryBase, Max: retryCap, Factor: 2}
	var lastErr error
	for attempt := 0; attempt < retryMaxAttempts; attempt++ {
		ack, err := e.client.SubmitOrder(ctx, req)
		if err == nil {
			return ack, nil
		}
		lastErr = err
		exErr, ok := err.(*exchange.Error)
		if !ok || exErr.Kind == exchange.ErrPermanent {
			return exchange.OrderAck{}, err
		}
		select {
		case <-ctx.Done():
			return exchange.OrderAck{}, ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	return exchange.OrderAck{}, lastErr
}

func (e *Executor) submitOCOWithRetry(ctx context.Context, req exchange.OCORequest) (tpAck, slAck exchange.OrderAck, err error) {
	b := &backoff.Backoff{Min: retryBase, Max: retryCap, Factor: 2}
	var lastErr error
	for attempt := 0; attempt < retryMaxAttempts; attempt++ {
		tpAck, slAck, err = e.client.SubmitOCO(ctx, req)
		if err == nil {
			return tpAck, slAck, nil
		}
		lastErr = err
		exErr, ok := err.(*exchange.Error)
		if !ok || exErr.Kind == exchange.ErrPermanent {
			return exchange.OrderAck{}, exchange.OrderAck{}, err
		}
		select {
		case <-ctx.Done():
			return exchange.OrderAck{}, exchange.OrderAck{}, ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	return exchange.OrderAck{}, exchange.OrderAck{}, lastErr
}

func (e *Executor) alreadySubmitted(clientOrderID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight[clientOrderID]
}

func (e *Executor) markSubmitted(clientOrderID string) {
	e.mu.Lock()
	e.inFlight[clientOrderID] = true
	e.mu.Unlock()
}

func (e *Executor) publish(order model.Order) {
	if e.log == nil {
		return
	}
	if _, err := e.log.Publish(eventlog.TypeOrder, order.CorrelationID, "execution", order); err != nil {
		log.Warn().Err(err).Msg("execution: failed to publish order event")
	}
}

func (e *Executor) publishFill(order model.Order) {
	if e.log == nil {
		return
	}
	if _, err := e.log.Publish(eventlog.TypeFill, order.CorrelationID, "execution", order); err != nil {
		log.Warn().Err(err).Msg("execution: failed to publish fill event")
	}
}

// ExecutorBusyError is returned when the bounded concurrent-order pool
// is saturated (spec §4.7: "executor_busy rejection reason").
type ExecutorBusyError struct{}

func (e *ExecutorBusyError) Error() string { return "executor_busy" }

// ErrAlreadySubmitted is returned when a client_order_id has already
// been submitted in this process, making a duplicate call a no-op
// rather than a double-submission (spec §4.7, §8 idempotence).
var ErrAlreadySubmitted = &alreadySubmittedError{}

type alreadySubmittedError struct{}

func (e *alreadySubmittedError) Error() string { return "order already submitted for this client_order_id" }
