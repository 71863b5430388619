// Package startup implements HOPE's boot sequence (spec §4.12): verify
// exchange connectivity and clock skew, load persisted risk state,
// rebuild the position tracker from the event log, then reconcile
// against the exchange before any loop is allowed to start. Any
// failure here aborts the process (spec §6 exit codes).
package startup

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hopecore/hope/internal/allowlist"
	"github.com/hopecore/hope/internal/eventlog"
	"github.com/hopecore/hope/internal/exchange"
	"github.com/hopecore/hope/internal/model"
	"github.com/hopecore/hope/internal/position"
	"github.com/hopecore/hope/internal/risk"
)

// maxClockSkew is the tolerance between local and exchange server time
// (spec §4.12).
const maxClockSkew = 1 * time.Second

// positionRebuildLookback bounds how far back the event log is
// replayed to reconstruct still-open positions, so a startup after a
// long outage doesn't re-scan the entire history.
const positionRebuildLookback = 7 * 24 * time.Hour

// maxReconcileAttempts is the number of consecutive reconciliation
// failures tolerated before startup aborts (spec §4.12, §6 exit code 2).
const maxReconcileAttempts = 2

// ReconcileFailedError signals that reconciliation against the
// exchange failed on every attempt; the caller should exit with code 2.
type ReconcileFailedError struct{ Cause error }

func (e *ReconcileFailedError) Error() string {
	return fmt.Sprintf("startup: reconciliation failed after %d attempts: %v", maxReconcileAttempts, e.Cause)
}
func (e *ReconcileFailedError) Unwrap() error { return e.Cause }

// Deps bundles everything startup needs to wire and verify before the
// trading loops start.
type Deps struct {
	Client          exchange.Client
	Positions       *position.Tracker
	RiskMgr         *risk.Manager
	Allowlist       *allowlist.List
	EventLog        *eventlog.Log
	RiskSnapshotPath string
	AllowlistSnapshotPath string
}

// Boot runs the full sequence described in spec §4.12. now is injected
// so clock-skew checks are testable without faking wall time.
func Boot(ctx context.Context, deps Deps, now func() time.Time) error {
	if err := verifyExchange(ctx, deps.Client, now); err != nil {
		return fmt.Errorf("startup: exchange verification failed: %w", err)
	}

	if deps.RiskSnapshotPath != "" {
		if err := deps.RiskMgr.LoadState(deps.RiskSnapshotPath); err != nil {
			return fmt.Errorf("startup: failed to load persisted risk state: %w", err)
		}
	}

	if deps.AllowlistSnapshotPath != "" {
		if err := loadAllowlistSnapshot(deps.Allowlist, deps.AllowlistSnapshotPath); err != nil {
			log.Warn().Err(err).Msg("startup: failed to load allowlist snapshot, starting with CORE only")
		}
	}

	if err := rebuildPositions(deps.EventLog, deps.Positions, now()); err != nil {
		return fmt.Errorf("startup: failed to rebuild position tracker: %w", err)
	}

	if err := reconcileWithRetry(ctx, deps.Client, deps.Positions, now()); err != nil {
		return &ReconcileFailedError{Cause: err}
	}

	log.Info().Int("open_positions", deps.Positions.Count()).Msg("startup: boot sequence complete")
	return nil
}

// verifyExchange confirms the exchange is reachable, the account is
// readable with the configured credentials, and the local clock is
// within tolerance of the exchange's (spec §4.12).
func verifyExchange(ctx context.Context, client exchange.Client, now func() time.Time) error {
	if _, err := client.AccountBalances(ctx); err != nil {
		return fmt.Errorf("account balances unreachable: %w", err)
	}

	serverTime, err := client.ServerTime(ctx)
	if err != nil {
		return fmt.Errorf("server time unreachable: %w", err)
	}

	skew := now().Sub(serverTime)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxClockSkew {
		return fmt.Errorf("clock skew %s exceeds tolerance %s", skew, maxClockSkew)
	}
	return nil
}

// rebuildPositions replays the recent fill/close history so the
// Position Tracker reflects every entry fill that was never matched by
// a close, without re-reading the entire event log on every boot (spec
// §4.12).
func rebuildPositions(elog *eventlog.Log, positions *position.Tracker, now time.Time) error {
	if elog == nil {
		return nil
	}

	events, err := elog.Replay(now.Add(-positionRebuildLookback), now, eventlog.TypeFill, eventlog.TypeClose)
	if err != nil {
		return err
	}

	open := make(map[string]model.Order)
	closed := make(map[string]bool)
	for _, ev := range events {
		switch ev.EventType {
		case eventlog.TypeFill:
			var order model.Order
			if err := ev.Decode(&order); err != nil {
				continue
			}
			if order.Kind == model.OrderKindClose || order.Status != model.OrderFilled {
				continue
			}
			open[order.CorrelationID] = order
		case eventlog.TypeClose:
			var p model.Position
			if err := ev.Decode(&p); err != nil {
				continue
			}
			closed[p.CorrelationID] = true
		}
	}

	rebuilt := 0
	for corrID, order := range open {
		if closed[corrID] {
			continue
		}
		positions.Open(model.Position{
			SchemaVersion:    model.SchemaVersion,
			ID:               order.ID,
			CorrelationID:    order.CorrelationID,
			Symbol:           order.Symbol,
			EntryPrice:       order.AvgFillPrice,
			Quantity:         order.FilledQuantity,
			EntryTime:        order.UpdatedAt,
			TPPrice:          order.TPPrice,
			SLPrice:          order.SLPrice,
			ExchangeOrderIDs: []string{order.ExchangeOrderID},
			HighestPriceSeen: order.AvgFillPrice,
			LowestPriceSeen:  order.AvgFillPrice,
		})
		rebuilt++
	}
	if rebuilt > 0 {
		log.Info().Int("count", rebuilt).Msg("startup: rebuilt open positions from event log")
	}
	return nil
}

// reconcileWithRetry retries Tracker.Reconcile up to maxReconcileAttempts
// times, so a single transient exchange error doesn't abort startup
// (spec §4.12).
func reconcileWithRetry(ctx context.Context, client exchange.Client, positions *position.Tracker, now time.Time) error {
	var lastErr error
	for attempt := 1; attempt <= maxReconcileAttempts; attempt++ {
		result, err := positions.Reconcile(ctx, client, now.Add(-positionRebuildLookback))
		if err == nil {
			if result.Mismatch {
				log.Warn().Strs("ghosts_removed", result.GhostsRemoved).Msg("startup: reconciliation corrected drift")
			}
			return nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Msg("startup: reconciliation attempt failed")
	}
	return lastErr
}

func loadAllowlistSnapshot(al *allowlist.List, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return al.LoadSnapshot(data)
}
