// Package exchange defines the consumed-collaborator surface HOPE
// needs from a spot exchange (spec §6), plus a reference REST client
// implementing it. Every method is context-aware so callers can bound
// latency per spec §5's suspension-point discipline.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hopecore/hope/internal/model"
)

// ErrorKind classifies exchange errors so the Order Executor's retry
// policy can tell a worth-retrying blip from a terminal rejection
// (spec §7).
type ErrorKind string

const (
	ErrTransient ErrorKind = "transient"
	ErrRateLimit ErrorKind = "rate_limit"
	ErrPermanent ErrorKind = "permanent"
)

// Error wraps an exchange failure with its classification.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string { return e.Kind.String() + ": " + e.Msg }
func (e *Error) Unwrap() error { return e.Err }

func (k ErrorKind) String() string { return string(k) }

// NewError constructs a classified Error.
func NewError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Balance is one asset's free/locked balance.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// SymbolInfo carries the exchange's trading rules for one symbol —
// tick size, min notional, lot step — used by the Order Executor to
// round quantities/prices before submission (spec §4.7).
type SymbolInfo struct {
	Symbol        string
	TickSize      decimal.Decimal
	StepSize      decimal.Decimal
	MinNotional   decimal.Decimal
}

// OrderRequest is what the Executor submits for the entry leg.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          model.OrderSide
	Kind          model.OrderKind
	Quantity      decimal.Decimal
	LimitPrice    decimal.Decimal // zero means MARKET
	TimeInForce   string          // "IOC", "GTC", ""
}

// OCORequest submits a bracket take-profit/stop-loss pair against an
// existing filled position.
type OCORequest struct {
	Symbol           string
	Quantity         decimal.Decimal
	TPClientOrderID  string
	TPPrice          decimal.Decimal
	SLClientOrderID  string
	SLPrice          decimal.Decimal
}

// OrderAck is the exchange's immediate response to an order submission.
type OrderAck struct {
	ExchangeOrderID string
	Status          model.OrderStatus
	FilledQuantity  decimal.Decimal
	AvgFillPrice    decimal.Decimal
	RejectReason    string
}

// AccountBalances reports free/locked balances per asset.
type AccountBalances interface {
	AccountBalances(ctx context.Context) ([]Balance, error)
}

// ExchangeInfo reports per-symbol trading rules and 24h volume.
type ExchangeInfo interface {
	SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
	Symbols(ctx context.Context) ([]string, error)
	DailyVolumeUSD(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// OrderSubmitter places and cancels orders.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	SubmitOCO(ctx context.Context, req OCORequest) (tpAck, slAck OrderAck, err error)
	CancelOrder(ctx context.Context, symbol, clientOrderID string) error
}

// OrderQuery reports open orders and recent trades, used by the
// Reconciler (spec §4.12).
type OrderQuery interface {
	OpenOrders(ctx context.Context, symbol string) ([]OrderAck, error)
	AccountTrades(ctx context.Context, symbol string, since time.Time) ([]OrderAck, error)
}

// Client is the full consumed-collaborator surface.
type Client interface {
	AccountBalances
	ExchangeInfo
	OrderSubmitter
	OrderQuery
	ServerTime(ctx context.Context) (time.Time, error)
}
