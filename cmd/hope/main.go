package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hopecore/hope/internal/allowlist"
	"github.com/hopecore/hope/internal/config"
	"github.com/hopecore/hope/internal/decision"
	"github.com/hopecore/hope/internal/eventlog"
	"github.com/hopecore/hope/internal/exchange"
	"github.com/hopecore/hope/internal/execution"
	"github.com/hopecore/hope/internal/gate"
	"github.com/hopecore/hope/internal/health"
	"github.com/hopecore/hope/internal/httpapi"
	"github.com/hopecore/hope/internal/metrics"
	"github.com/hopecore/hope/internal/notify"
	"github.com/hopecore/hope/internal/outcome"
	"github.com/hopecore/hope/internal/pipeline"
	"github.com/hopecore/hope/internal/position"
	"github.com/hopecore/hope/internal/pricecache"
	"github.com/hopecore/hope/internal/risk"
	"github.com/hopecore/hope/internal/startup"
	"github.com/hopecore/hope/internal/storage"
	"github.com/hopecore/hope/internal/watchdog"
)

// VERSION is bumped on every release cut (spec §6).
const VERSION = "v1.0"

func main() {
	os.Exit(run())
}

// run returns the process exit code per spec §6: 0 normal, 1
// config/startup failure, 2 reconciliation failure, 3 uncaught fatal.
// The top-level recover catches anything the trading core itself
// didn't turn into a clean error return, pages the Notifier, and maps
// it to exit code 3 rather than letting the runtime print a bare stack
// trace (spec §6: "internal-invariant violation... fatal").
func run() (code int) {
	var notifyDispatcher *notify.Dispatcher
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("unrecovered panic, shutting down")
			if notifyDispatcher != nil {
				notifyDispatcher.FatalShutdown(fmt.Sprintf("%v", r))
			}
			code = 3
		}
	}()

	// ═══════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found, relying on process environment")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msg("═══════════════════════════════════════════════")
	log.Info().Msgf("  HOPE %s - automated spot trading service", VERSION)
	log.Info().Msg("═══════════════════════════════════════════════")

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("configuration failed to load")
		return 1
	}

	// ═══════════════════════════════════════════════════════════════
	// LAYER 1: STORAGE & EVENT LOG
	// ═══════════════════════════════════════════════════════════════

	elog := eventlog.New(cfg.EventLogDir)
	log.Info().Str("dir", cfg.EventLogDir).Msg("event log initialized")

	store, err := storage.Open(cfg.StoragePath)
	if err != nil {
		log.Error().Err(err).Msg("failed to open event index")
		return 1
	}
	defer store.Close()

	elog.Subscribe(eventlog.Wildcard, func(ev eventlog.Event) error {
		return store.IndexEvent(ev.EventID, string(ev.EventType), ev.CorrelationID, ev.TS)
	})
	elog.Subscribe(eventlog.TypeOutcome, func(ev eventlog.Event) error {
		var o struct {
			PositionID string          `json:"position_id"`
			Symbol     string          `json:"symbol"`
			Label      string          `json:"label"`
			PnLUSD     decimal.Decimal `json:"pnl_usd"`
			ClosedAt   time.Time       `json:"closed_at"`
		}
		if err := ev.Decode(&o); err != nil {
			return nil
		}
		return store.IndexOutcome(storage.OutcomeRecord{
			PositionID: o.PositionID,
			Symbol:     o.Symbol,
			Label:      o.Label,
			PnLUSD:     o.PnLUSD.InexactFloat64(),
			ClosedAt:   o.ClosedAt,
		})
	})
	elog.Subscribe(eventlog.TypeReconcileMismatch, func(ev eventlog.Event) error {
		// The mismatch payload (ghosts_removed/orphans_added) is stored
		// as-is as the detail text.
		return store.IndexReconcileMismatch(ev.CorrelationID, string(ev.Payload), ev.TS)
	})
	log.Info().Str("path", cfg.StoragePath).Msg("event index opened")

	// ═══════════════════════════════════════════════════════════════
	// LAYER 2: MARKET DATA
	// ═══════════════════════════════════════════════════════════════

	prices := pricecache.New(cfg.PriceStaleAfter)
	feed := exchange.NewFeedClient(cfg.ExchangeWSURL, prices)
	for _, symbol := range cfg.Symbols {
		feed.Subscribe(symbol)
	}
	log.Info().Strs("symbols", cfg.Symbols).Msg("feed client configured")

	client := exchange.NewRESTClient(cfg.ExchangeBaseURL, cfg.ExchangeKey, cfg.ExchangeSecret)

	// ═══════════════════════════════════════════════════════════════
	// LAYER 3: RISK & ALLOWLIST
	// ═══════════════════════════════════════════════════════════════

	riskMgr := risk.NewManager(risk.Config{
		MaxDailyLossUSD: cfg.MaxDailyLossUSD,
		MaxDailyTrades:  cfg.MaxDailyTrades,
		SymbolCooldown:  cfg.SymbolCooldown,
		SnapshotPath:    cfg.RiskSnapshotPath,
	}, elog)

	al := allowlist.New(cfg.Symbols, cfg.MinDailyVolumeUSD, cfg.AllowlistSnapshotPath, elog)
	log.Info().Msg("risk manager and allowlist initialized")

	notifyDispatcher = notify.NewDispatcher(notify.NewLogNotifier())
	notifyDispatcher.Subscribe(elog)

	// ═══════════════════════════════════════════════════════════════
	// LAYER 4: TRADING CORE (Gate → Decision → Executor → Watchdog)
	// ═══════════════════════════════════════════════════════════════

	positions := position.New(elog)

	g := gate.New(gate.Config{
		SignalTTL:         cfg.SignalTTL,
		MinDailyVolumeUSD: cfg.MinDailyVolumeUSD,
		ProcessRatePerSec: cfg.ProcessRatePerSec,
	}, prices, al, riskMgr, elog)

	currentExposure := func() decimal.Decimal {
		total := decimal.Zero
		for _, p := range positions.All() {
			total = total.Add(p.EntryPrice.Mul(p.Quantity))
		}
		return total
	}

	decisionEngine := decision.New(decision.Config{
		AccountBalanceUSD: func() decimal.Decimal { return cfg.AccountBalanceUSD },
		BasePct:           cfg.BaseSizePct,
		MinSizeUSD:        cfg.MinSizeUSD,
		MaxSizeUSD:        cfg.MaxSizeUSD,
		MaxExposureUSD:    cfg.MaxExposureUSD,
		CurrentExposure:   currentExposure,
		KTP:               cfg.KTP,
		KSL:               cfg.KSL,
		FloorTPPct:        cfg.FloorTPPct,
		DefaultTimeoutSec: cfg.DefaultTimeoutSec,
	}, nil, nil, riskMgr, elog)

	executor := execution.New(execution.Config{Concurrency: cfg.ExecutorConcurrency}, client, elog)
	outcomeTracker := outcome.New(riskMgr, elog)

	pl := pipeline.New(g, decisionEngine, executor, positions, prices, outcomeTracker)
	elog.Subscribe(eventlog.TypeExitRequest, pl.OnExitRequest)
	elog.Subscribe(eventlog.TypeFill, pl.OnFill)

	wd := watchdog.New(watchdog.Config{
		StalePricePanic: cfg.StalePricePanic,
		APISilencePanic: cfg.APISilencePanic,
	}, positions, prices, executor, elog)

	log.Info().Msg("trading core wired")

	// ═══════════════════════════════════════════════════════════════
	// LAYER 5: HEALTH, METRICS, HTTP SURFACE
	// ═══════════════════════════════════════════════════════════════

	monitor := health.New(string(cfg.Mode), positions, prices, riskMgr, elog)
	metricsReg := metrics.New()
	server := httpapi.New(monitor, positions, al, riskMgr, store, metricsReg, pl)
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: server}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http surface listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http surface stopped unexpectedly")
		}
	}()

	// ═══════════════════════════════════════════════════════════════
	// STARTUP BOOT SEQUENCE (spec §4.12)
	// ═══════════════════════════════════════════════════════════════

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bootErr := startup.Boot(ctx, startup.Deps{
		Client:                client,
		Positions:             positions,
		RiskMgr:               riskMgr,
		Allowlist:             al,
		EventLog:              elog,
		RiskSnapshotPath:      cfg.RiskSnapshotPath,
		AllowlistSnapshotPath: cfg.AllowlistSnapshotPath,
	}, time.Now)
	if bootErr != nil {
		var reconcileErr *startup.ReconcileFailedError
		if errors.As(bootErr, &reconcileErr) {
			log.Error().Err(bootErr).Msg("startup reconciliation failed")
			notifyDispatcher.FatalShutdown("startup reconciliation failed: " + bootErr.Error())
			return 2
		}
		log.Error().Err(bootErr).Msg("startup failed")
		notifyDispatcher.FatalShutdown("startup failed: " + bootErr.Error())
		return 1
	}

	// ═══════════════════════════════════════════════════════════════
	// RUN
	// ═══════════════════════════════════════════════════════════════

	go feed.Run(ctx)
	go wd.Run(ctx)

	go func() {
		ticker := time.NewTicker(cfg.HeartbeatPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				monitor.EmitHeartbeat()
				metricsReg.SetOpenPositions(positions.Count())
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.ReconcilePeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				result, err := positions.Reconcile(ctx, client, time.Now().Add(-cfg.ReconcilePeriod))
				if err != nil {
					log.Warn().Err(err).Msg("periodic reconciliation failed")
					continue
				}
				monitor.NoteReconciliation(time.Now().UTC())
				if result.Mismatch {
					log.Warn().
						Strs("ghosts_removed", result.GhostsRemoved).
						Strs("orphans_added", result.OrphansAdded).
						Msg("periodic reconciliation corrected drift, opening circuit breaker")
					riskMgr.ForceOpen("reconcile_mismatch")
				}
			}
		}
	}()

	log.Info().Str("mode", string(cfg.Mode)).Msg("HOPE is running")

	// ═══════════════════════════════════════════════════════════════
	// GRACEFUL SHUTDOWN
	// ═══════════════════════════════════════════════════════════════

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Warn().Msg("shutdown signal received, draining")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http surface did not shut down cleanly")
	}

	log.Info().Msg("shutdown complete")
	return 0
}
