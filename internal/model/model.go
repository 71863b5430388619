// Package model holds the entities shared across every trading-core
// package: the wire/data-model objects threaded by a correlation_id from
// signal through decision, order, fill, close, and outcome (spec §3).
//
// Types live in one package, not one-per-owner, because they cross
// package boundaries constantly (Decision carries a Signal's symbol,
// Order carries a Decision's sizing, Position is built from an Order's
// fill) and the teacher's own types.go file exists for exactly this
// reason — to avoid import cycles between risk, execution and core.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SchemaVersion is carried by every persisted entity and event so the
// file-based IPC layer (dashboard/Telegram readers) can evolve the
// schema without breaking old readers (spec §9 Design Notes).
const SchemaVersion = 1

// StrategyTag enumerates the recognized signal strategies (spec §3).
type StrategyTag string

const (
	StrategyPump        StrategyTag = "PUMP"
	StrategyMomentum24h StrategyTag = "MOMENTUM_24H"
	StrategyTrending    StrategyTag = "TRENDING"
	StrategyExplosion   StrategyTag = "EXPLOSION"
)

// Signal is an inbound trading hint, normalized at ingestion (spec §3,
// §9 "Dynamic/duck-typed signals").
type Signal struct {
	SchemaVersion   int             `json:"schema_version"`
	ID              string          `json:"id"`
	CorrelationID   string          `json:"correlation_id"`
	Symbol          string          `json:"symbol"`
	StrategyTag     StrategyTag     `json:"strategy_tag"`
	Price           decimal.Decimal `json:"price"`
	DeltaPct        decimal.Decimal `json:"delta_pct"`
	BuysPerSec      *decimal.Decimal `json:"buys_per_sec,omitempty"`
	VolRaisePct     *decimal.Decimal `json:"vol_raise_pct,omitempty"`
	DailyVolumeUSD  decimal.Decimal `json:"daily_volume_usd"`
	ProducedAt      time.Time       `json:"produced_at"`
	ReceivedAt      time.Time       `json:"received_at"`
}

// Validate enforces the Signal invariants from spec §3: price > 0,
// symbol non-empty uppercase. TTL is checked by the gate, not here,
// since the gate needs to compare against "now" with the configured
// window rather than hard-code it on the struct.
func (s *Signal) Validate() error {
	if s.Symbol == "" {
		return errValidation("symbol is empty")
	}
	if s.Symbol != upper(s.Symbol) {
		return errValidation("symbol must be uppercase")
	}
	if !s.Price.IsPositive() {
		return errValidation("price must be > 0")
	}
	if s.DailyVolumeUSD.IsNegative() {
		return errValidation("daily_volume_usd must be >= 0")
	}
	return nil
}

func upper(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r >= 'a' && r <= 'z' {
			out[i] = r - 32
		}
	}
	return string(out)
}

// GateKind names the seven signal gate guards, in evaluation order
// (spec §4.5).
type GateKind string

const (
	GateSchema        GateKind = "schema"
	GateTTL           GateKind = "ttl"
	GateLiquidity     GateKind = "liquidity"
	GatePriceValidity GateKind = "price_validity"
	GateSymbolPolicy  GateKind = "symbol_policy"
	GateCircuitState  GateKind = "circuit_state"
	GateRateLimit     GateKind = "rate_limit"
)

// GateResult is the outcome of running a Signal through the seven
// guards (spec §3, §4.5).
type GateResult struct {
	SchemaVersion int            `json:"schema_version"`
	CorrelationID string         `json:"correlation_id"`
	Symbol        string         `json:"symbol"`
	OK            bool           `json:"ok"`
	FailedGate    GateKind       `json:"failed_gate,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	EvaluatedAt   time.Time      `json:"evaluated_at"`
}

// SignalTier classifies a Decision's confidence/opportunity strength
// (spec §3, §4.6).
type SignalTier string

const (
	TierStrong   SignalTier = "STRONG"
	TierMedium   SignalTier = "MEDIUM"
	TierWeak     SignalTier = "WEAK"
	TierMomentum SignalTier = "MOMENTUM"
	TierNoise    SignalTier = "NOISE"
)

// Action is the Decision Engine's final verdict.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSkip Action = "SKIP"
)

// Decision is the Decision Engine's output for one Signal (spec §3,
// §4.6).
type Decision struct {
	SchemaVersion     int             `json:"schema_version"`
	CorrelationID     string          `json:"correlation_id"`
	Symbol            string          `json:"symbol"`
	Action            Action          `json:"action"`
	Confidence        float64         `json:"confidence"`
	AlphaScore        float64         `json:"alpha_score"`
	RiskApproved      bool            `json:"risk_approved"`
	RiskReasons       []string        `json:"risk_reasons,omitempty"`
	PositionSizeUSD   decimal.Decimal `json:"position_size_usd"`
	TPPct             decimal.Decimal `json:"tp_pct"`
	SLPct             decimal.Decimal `json:"sl_pct"`
	TimeoutSec        int             `json:"timeout_sec"`
	SignalTier        SignalTier      `json:"signal_tier"`
	EntryPriceHint    decimal.Decimal `json:"entry_price_hint"`
	SkipReasons       []string        `json:"skip_reasons,omitempty"`
	DecidedAt         time.Time       `json:"decided_at"`
}

// RiskReward returns tp_pct / sl_pct, the invariant checked in spec §8.
func (d *Decision) RiskReward() decimal.Decimal {
	if d.SLPct.IsZero() {
		return decimal.Zero
	}
	return d.TPPct.Div(d.SLPct)
}

// OrderSide is always a buy-entry or sell-exit on spot; HOPE never
// shorts (spec §1 Non-goals).
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderKind distinguishes the entry leg from the OCO legs so the
// Executor can derive the right deterministic client ID suffix.
type OrderKind string

const (
	OrderKindEntry OrderKind = "entry"
	OrderKindTP    OrderKind = "tp"
	OrderKindSL    OrderKind = "sl"
	OrderKindClose OrderKind = "close"
)

// OrderStatus is the lifecycle of one Order (spec §3).
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderSubmitted OrderStatus = "submitted"
	OrderFilled    OrderStatus = "filled"
	OrderRejected  OrderStatus = "rejected"
	OrderCanceled  OrderStatus = "canceled"
)

// Order is a single order intent/lifecycle record (spec §3).
type Order struct {
	SchemaVersion   int             `json:"schema_version"`
	ID              string          `json:"id"`
	CorrelationID   string          `json:"correlation_id"`
	ClientOrderID   string          `json:"client_order_id"`
	ExchangeOrderID string          `json:"exchange_order_id,omitempty"`
	Symbol          string          `json:"symbol"`
	Side            OrderSide       `json:"side"`
	Kind            OrderKind       `json:"kind"`
	Quantity        decimal.Decimal `json:"quantity"`
	EntryPriceHint  decimal.Decimal `json:"entry_price_hint,omitempty"`
	TPPrice         decimal.Decimal `json:"tp_price,omitempty"`
	SLPrice         decimal.Decimal `json:"sl_price,omitempty"`
	Status          OrderStatus     `json:"status"`
	FilledQuantity  decimal.Decimal `json:"filled_quantity"`
	AvgFillPrice    decimal.Decimal `json:"avg_fill_price"`
	RejectReason    string          `json:"reject_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Position is an open holding, owned exclusively by the Position
// Tracker (spec §3).
type Position struct {
	SchemaVersion     int             `json:"schema_version"`
	ID                string          `json:"id"`
	CorrelationID     string          `json:"correlation_id"`
	Symbol            string          `json:"symbol"`
	EntryPrice        decimal.Decimal `json:"entry_price"`
	Quantity          decimal.Decimal `json:"quantity"`
	EntryTime         time.Time       `json:"entry_time"`
	TPPrice           decimal.Decimal `json:"tp_price"`
	SLPrice           decimal.Decimal `json:"sl_price"`
	TimeoutAt         time.Time       `json:"timeout_at"`
	ExchangeOrderIDs  []string        `json:"exchange_order_ids"`
	HighestPriceSeen  decimal.Decimal `json:"highest_price_seen"`
	LowestPriceSeen   decimal.Decimal `json:"lowest_price_seen"`
	TrailingStopPrice decimal.Decimal `json:"trailing_stop_price,omitempty"`
	PartialTaken      bool            `json:"partial_taken"`
	Closing           bool            `json:"closing"`
	CloseAttempt      int             `json:"close_attempt"`
}

// UnrealizedPnLPct returns the position's current unrealized PnL as a
// percentage of entry price, given the current price.
func (p *Position) UnrealizedPnLPct(current decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	return current.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
}

// ExitReason enumerates why the Watchdog requested a position close
// (spec §3, §4.9).
type ExitReason string

const (
	ExitTP              ExitReason = "TP"
	ExitSL              ExitReason = "SL"
	ExitTimeout         ExitReason = "TIMEOUT"
	ExitTrailing        ExitReason = "TRAILING"
	ExitPanicStalePrice ExitReason = "PANIC_STALE_PRICE"
	ExitPanicAPISilent  ExitReason = "PANIC_API_SILENT"
	ExitCircuitBreaker  ExitReason = "CIRCUIT_BREAKER"
	ExitPartialTP       ExitReason = "PARTIAL_TP"
	ExitManual          ExitReason = "MANUAL"
)

// ExitRequest is issued by the Watchdog and consumed by the Executor
// (spec §3, §4.9).
type ExitRequest struct {
	SchemaVersion int             `json:"schema_version"`
	CorrelationID string          `json:"correlation_id"`
	PositionID    string          `json:"position_id"`
	Symbol        string          `json:"symbol"`
	Reason        ExitReason      `json:"reason"`
	Quantity      decimal.Decimal `json:"quantity"`
	RequestedAt   time.Time       `json:"requested_at"`
	Attempt       int             `json:"attempt"`
}

// Label classifies a closed trade's overall outcome (spec §3).
type Label string

const (
	LabelWin  Label = "WIN"
	LabelLoss Label = "LOSS"
	LabelFlat Label = "FLAT"
)

// Outcome is the finalized record of a closed trade (spec §3, §4.10).
type Outcome struct {
	SchemaVersion int             `json:"schema_version"`
	CorrelationID string          `json:"correlation_id"`
	PositionID    string          `json:"position_id"`
	Symbol        string          `json:"symbol"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	ExitPrice     decimal.Decimal `json:"exit_price"`
	PnLUSD        decimal.Decimal `json:"pnl_usd"`
	PnLPct        decimal.Decimal `json:"pnl_pct"`
	MFEPct        decimal.Decimal `json:"mfe_pct"`
	MAEPct        decimal.Decimal `json:"mae_pct"`
	DurationSec   int64           `json:"duration_sec"`
	ExitReason    ExitReason      `json:"exit_reason"`
	Label         Label           `json:"label"`
	ClosedAt      time.Time       `json:"closed_at"`
}

// AllowListLayer is one of the three symbol-set layers (spec §3, §4.3).
type AllowListLayer string

const (
	LayerCore    AllowListLayer = "CORE"
	LayerDynamic AllowListLayer = "DYNAMIC"
	LayerHot     AllowListLayer = "HOT"
)

// AllowListEntry is one symbol's membership record.
type AllowListEntry struct {
	Symbol    string         `json:"symbol"`
	Layer     AllowListLayer `json:"layer"`
	AddedAt   time.Time      `json:"added_at"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// KillSwitchState is off, or tripped with a reason.
type KillSwitchState struct {
	On     bool   `json:"on"`
	Reason string `json:"reason,omitempty"`
}

// ValidationError is the concrete error type behind spec §7's
// ValidationError error kind.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func errValidation(msg string) error { return &ValidationError{Msg: msg} }
