// Package health assembles the /api/health payload and emits the
// periodic heartbeat event (spec §4.11).
package health

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hopecore/hope/internal/clock"
	"github.com/hopecore/hope/internal/eventlog"
	"github.com/hopecore/hope/internal/pricecache"
	"github.com/hopecore/hope/internal/position"
	"github.com/hopecore/hope/internal/risk"
)

// Status is the full payload served at /api/health (spec §6).
type Status struct {
	UptimeSec            int64                   `json:"uptime_sec"`
	Mode                 string                  `json:"mode"`
	OpenPositions        int                     `json:"open_positions"`
	DailyPnLUSD          string                  `json:"daily_pnl_usd"`
	DailyTradeCount      int                     `json:"daily_trade_count"`
	CircuitState         risk.BreakerState       `json:"circuit_state"`
	StaleSymbols         []string                `json:"stale_symbols"`
	LastEventLogAppendAt time.Time               `json:"last_event_log_append_at"`
	LastReconciliationAt time.Time               `json:"last_reconciliation_at"`
	Ready                bool                    `json:"ready"`
}

// Monitor tracks process-level health facts and assembles Status on
// demand (spec §4.11).
type Monitor struct {
	mode      string
	startedAt time.Time

	positions *position.Tracker
	prices    *pricecache.Cache
	riskMgr   *risk.Manager
	log       *eventlog.Log

	lastEventLogAppendAt time.Time
	lastReconciliationAt time.Time
}

// New creates a Monitor. mode is DRY/TESTNET/LIVE (spec §6).
func New(mode string, positions *position.Tracker, prices *pricecache.Cache, riskMgr *risk.Manager, log *eventlog.Log) *Monitor {
	return &Monitor{mode: mode, startedAt: clock.Now(), positions: positions, prices: prices, riskMgr: riskMgr, log: log}
}

// NoteEventLogAppend records the last time any event was journaled
// (for the health payload's staleness indicator).
func (m *Monitor) NoteEventLogAppend(t time.Time) { m.lastEventLogAppendAt = t }

// NoteReconciliation records the last successful reconciliation run.
func (m *Monitor) NoteReconciliation(t time.Time) { m.lastReconciliationAt = t }

// Status assembles the current health payload.
func (m *Monitor) Status() Status {
	snap := m.riskMgr.Snapshot()
	return Status{
		UptimeSec:            int64(clock.Now().Sub(m.startedAt).Seconds()),
		Mode:                 m.mode,
		OpenPositions:        m.positions.Count(),
		DailyPnLUSD:          snap.DailyPnLUSD.String(),
		DailyTradeCount:      snap.DailyTradeCount,
		CircuitState:         m.riskMgr.CircuitState(),
		StaleSymbols:         m.prices.StaleSymbols(),
		LastEventLogAppendAt: m.lastEventLogAppendAt,
		LastReconciliationAt: m.lastReconciliationAt,
		Ready:                !snap.KillSwitch.On,
	}
}

// EmitHeartbeat journals a heartbeat event. Intended to be called from
// a 30s ticker owned by the caller (spec §4.11, §6 HEARTBEAT_PERIOD_SEC).
func (m *Monitor) EmitHeartbeat() {
	if m.log == nil {
		return
	}
	if _, err := m.log.Publish(eventlog.TypeHeartbeat, clock.NewCorrelationID(), "health", m.Status()); err != nil {
		log.Warn().Err(err).Msg("health: failed to publish heartbeat")
	}
}
