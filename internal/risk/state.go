// Package risk owns the process-wide RiskState, the three-state
// Circuit Breaker, and per-symbol cooldowns described in spec §4.4.
// Nothing outside this package mutates RiskState directly — the
// Decision Engine's Risk Chamber and the Signal Gate's circuit_state
// guard both read through the exported methods here, and the Outcome
// Tracker is the only writer of win/loss results (via RecordOutcome).
package risk

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hopecore/hope/internal/clock"
	"github.com/hopecore/hope/internal/eventlog"
	"github.com/hopecore/hope/internal/model"
)

// State is the mutable risk posture of the whole process (spec §3
// RiskState, §4.4).
type State struct {
	DailyPnLUSD         decimal.Decimal `json:"daily_pnl_usd"`
	DailyLossesCount    int             `json:"daily_losses_count"`
	ConsecutiveLosses   int             `json:"consecutive_losses"`
	DailyTradeCount     int             `json:"daily_trade_count"`
	KillSwitch          model.KillSwitchState `json:"kill_switch"`
	DayStartedAt        time.Time       `json:"day_started_at"`
	// CumulativePnLUSD is lifetime realized P&L, never reset by the
	// daily rollover. The Risk Chamber's compound_mult sizing term
	// (spec §4.6) reads it against the starting balance.
	CumulativePnLUSD decimal.Decimal `json:"cumulative_pnl_usd"`
}

// Manager wraps State with its lock, the circuit breaker, per-symbol
// cooldowns, and configured thresholds. One Manager serves the whole
// process (spec §4.4).
type Manager struct {
	maxDailyLossUSD decimal.Decimal
	maxDailyTrades  int
	cooldown        time.Duration
	snapshotPath    string

	log *eventlog.Log

	mu       sync.Mutex
	state    State
	breaker  *circuitBreaker
	cooldowns map[string]time.Time
}

// Config holds the tunables that come from environment configuration
// (spec §6).
type Config struct {
	MaxDailyLossUSD  decimal.Decimal
	MaxDailyTrades   int
	SymbolCooldown   time.Duration
	SnapshotPath     string
}

// NewManager creates a Manager with a fresh CLOSED circuit and an empty
// day of trading.
func NewManager(cfg Config, log *eventlog.Log) *Manager {
	return &Manager{
		maxDailyLossUSD: cfg.MaxDailyLossUSD,
		maxDailyTrades:  cfg.MaxDailyTrades,
		cooldown:        cfg.SymbolCooldown,
		snapshotPath:    cfg.SnapshotPath,
		log:             log,
		state: State{
			DayStartedAt: clock.Now(),
		},
		breaker:   newCircuitBreaker(log),
		cooldowns: make(map[string]time.Time),
	}
}

// rolloverIfNewDay resets the daily counters at 00:00 UTC (spec §4.4).
// Must be called with mu held.
func (m *Manager) rolloverIfNewDay() {
	now := clock.Now()
	if now.YearDay() != m.state.DayStartedAt.YearDay() || now.Year() != m.state.DayStartedAt.Year() {
		m.state.DailyPnLUSD = decimal.Zero
		m.state.DailyLossesCount = 0
		m.state.DailyTradeCount = 0
		m.state.DayStartedAt = now
		// consecutive_losses intentionally survives the day boundary:
		// only a win resets it (spec §4.4).
	}
}

// Snapshot returns a copy of the current risk state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverIfNewDay()
	return m.state
}

// CircuitState reports the breaker's current state, for the Signal
// Gate's circuit_state guard and the health payload.
func (m *Manager) CircuitState() BreakerState {
	return m.breaker.current()
}

// IsSymbolCoolingDown reports whether symbol is still within its
// post-exit cooldown window.
func (m *Manager) IsSymbolCoolingDown(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.cooldowns[symbol]
	return ok && clock.Now().Before(until)
}

// CanEnter reports whether a new entry is currently permitted at all
// (circuit breaker not OPEN, kill switch off, daily limits not hit).
// This is the Risk Chamber's top-level veto gate (spec §4.4, §4.6).
func (m *Manager) CanEnter() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverIfNewDay()

	if m.state.KillSwitch.On {
		return false, "kill_switch_on"
	}
	switch m.breaker.current() {
	case BreakerOpen:
		return false, "circuit_open"
	case BreakerHalfOpen:
		if !m.breaker.tryConsumeHalfOpenSlot() {
			return false, "circuit_half_open_slot_taken"
		}
		return true, ""
	}
	if m.maxDailyTrades > 0 && m.state.DailyTradeCount >= m.maxDailyTrades {
		return false, "daily_trade_limit_hit"
	}
	if m.maxDailyLossUSD.IsPositive() && m.state.DailyPnLUSD.LessThanOrEqual(m.maxDailyLossUSD.Neg()) {
		return false, "daily_loss_limit_hit"
	}
	return true, ""
}

// RecordEntry increments the daily trade count. No component in this
// repository calls it, so DailyTradeCount changes only through
// LoadState and the daily rollover, and CanEnter's daily trade limit
// does not count new entries.
func (m *Manager) RecordEntry(symbol string) {
	m.mu.Lock()
	m.state.DailyTradeCount++
	m.mu.Unlock()
}

// StartCooldown begins symbol's post-exit cooldown window. Called by
// the Outcome Tracker once a position on symbol is fully closed (spec
// §4.4).
func (m *Manager) StartCooldown(symbol string) {
	m.mu.Lock()
	m.cooldowns[symbol] = clock.Now().Add(m.cooldown)
	m.mu.Unlock()
}

// RecordOutcome updates RiskState and drives the circuit breaker
// transition from a closed trade's Outcome. This is the sole writer of
// win/loss bookkeeping (spec §4.10: "Outcome Tracker... is the only
// signal the circuit breaker listens to").
func (m *Manager) RecordOutcome(o model.Outcome) {
	m.mu.Lock()
	m.rolloverIfNewDay()
	m.state.DailyPnLUSD = m.state.DailyPnLUSD.Add(o.PnLUSD)
	m.state.CumulativePnLUSD = m.state.CumulativePnLUSD.Add(o.PnLUSD)

	switch o.Label {
	case model.LabelWin:
		m.state.ConsecutiveLosses = 0
	case model.LabelLoss:
		m.state.ConsecutiveLosses++
		m.state.DailyLossesCount++
	}
	tripped := m.state.ConsecutiveLosses >= consecutiveLossTripThreshold ||
		m.state.DailyPnLUSD.LessThanOrEqual(m.maxDailyLossUSD.Neg())
	m.mu.Unlock()

	switch o.Label {
	case model.LabelWin:
		m.breaker.recordWin()
	case model.LabelLoss:
		m.breaker.recordLoss()
	}
	if tripped {
		m.breaker.forceTrip("risk_threshold_breached")
	}
	m.persist()
}

// SetKillSwitch flips the manual kill switch (spec §6 POST
// /kill-switch/{on|off}).
func (m *Manager) SetKillSwitch(on bool, reason string) {
	m.mu.Lock()
	m.state.KillSwitch = model.KillSwitchState{On: on, Reason: reason}
	m.mu.Unlock()
	m.persist()
}

// ResetCircuitBreaker forces the breaker back to CLOSED. Exposed for
// the audited operator endpoint (spec §6).
func (m *Manager) ResetCircuitBreaker() {
	m.breaker.forceReset()
}

// ForceOpen trips the circuit breaker unconditionally, independent of
// the loss-streak/daily-loss triggers RecordOutcome watches. The
// reconciliation loop calls this when it finds drift between HOPE's
// tracked positions and the exchange's actual balances (spec §4.8).
// The breaker then follows its normal cooldown: it moves to HALF_OPEN
// once the cooldown elapses, or to CLOSED on an operator reset; a clean
// subsequent reconcile does not change its state.
func (m *Manager) ForceOpen(reason string) {
	m.breaker.forceTrip(reason)
}

// persist writes the current risk state to disk atomically, so a
// restart resumes the day's loss/trade counters instead of silently
// re-opening the daily loss budget (spec §4.12).
func (m *Manager) persist() {
	if m.snapshotPath == "" {
		return
	}
	snap := m.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("risk: failed to marshal state snapshot")
		return
	}
	if err := clock.AtomicWriteFile(m.snapshotPath, data, 0o644); err != nil {
		log.Warn().Err(err).Msg("risk: failed to write state snapshot")
	}
}

// LoadState restores persisted daily counters at startup (spec §4.12).
// A missing file is not an error: the first boot of the day has none.
func (m *Manager) LoadState(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}

	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
	return nil
}
