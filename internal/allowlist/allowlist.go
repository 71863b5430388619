// Package allowlist maintains the three symbol-set layers that gate
// which instruments HOPE will ever consider trading (spec §4.3):
// CORE (static, operator-curated), DYNAMIC (refreshed hourly from
// exchange volume), and HOT (added by the signal detector itself, with
// a short TTL). Membership in the union of the three is what the
// Signal Gate's symbol_policy guard checks.
package allowlist

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hopecore/hope/internal/clock"
	"github.com/hopecore/hope/internal/eventlog"
	"github.com/hopecore/hope/internal/model"
)

// hotTTL is how long a HOT-layer entry survives without renewal (spec
// §4.3).
const hotTTL = 15 * time.Minute

// VolumeProvider supplies 24h USD volume per symbol for the DYNAMIC
// layer's hourly refresh. internal/exchange's REST client does not
// satisfy it directly: its methods take a context.Context.
type VolumeProvider interface {
	DailyVolumeUSD(symbol string) (decimal.Decimal, error)
	Symbols() ([]string, error)
}

// List combines the three layers behind a single IsAllowed check.
type List struct {
	minDynamicVolume decimal.Decimal
	snapshotPath     string
	log              *eventlog.Log

	mu      sync.RWMutex
	core    map[string]bool
	dynamic map[string]time.Time // symbol -> refreshed-at, membership implied by presence
	hot     map[string]time.Time // symbol -> expires-at
}

// New creates a List seeded with a static CORE set (e.g. BTCUSDT,
// ETHUSDT — the operator-curated always-on symbols).
func New(core []string, minDynamicVolume decimal.Decimal, snapshotPath string, log *eventlog.Log) *List {
	coreSet := make(map[string]bool, len(core))
	for _, s := range core {
		coreSet[s] = true
	}
	return &List{
		minDynamicVolume: minDynamicVolume,
		snapshotPath:     snapshotPath,
		log:              log,
		core:             coreSet,
		dynamic:          make(map[string]time.Time),
		hot:              make(map[string]time.Time),
	}
}

// IsAllowed reports whether symbol is currently allowed, and the
// highest-priority layer it was found in (CORE > DYNAMIC > HOT, though
// any membership is sufficient — the layer is informational).
func (l *List) IsAllowed(symbol string) (bool, model.AllowListLayer) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.core[symbol] {
		return true, model.LayerCore
	}
	if _, ok := l.dynamic[symbol]; ok {
		return true, model.LayerDynamic
	}
	if exp, ok := l.hot[symbol]; ok && clock.Now().Before(exp) {
		return true, model.LayerHot
	}
	return false, ""
}

// AddHot adds symbol to the HOT layer, renewing its TTL if already
// present. Called by the signal detector path when a strategy fires on
// a symbol outside CORE/DYNAMIC (spec §4.3).
func (l *List) AddHot(symbol string) {
	l.mu.Lock()
	l.hot[symbol] = clock.Now().Add(hotTTL)
	l.mu.Unlock()

	l.emit(symbol, model.LayerHot, "hot_added")
	l.snapshot()
}

// RefreshDynamic recomputes the DYNAMIC layer from vp's current daily
// volumes, replacing the whole set. Intended to be called once per
// hour by the caller's own ticker (spec §4.3).
func (l *List) RefreshDynamic(vp VolumeProvider) error {
	symbols, err := vp.Symbols()
	if err != nil {
		return err
	}

	next := make(map[string]time.Time, len(symbols))
	for _, sym := range symbols {
		vol, err := vp.DailyVolumeUSD(sym)
		if err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("allowlist: volume lookup failed, skipping")
			continue
		}
		if vol.GreaterThanOrEqual(l.minDynamicVolume) {
			next[sym] = clock.Now()
		}
	}

	l.mu.Lock()
	l.dynamic = next
	l.mu.Unlock()

	l.snapshot()
	return nil
}

// EvictExpiredHot removes HOT entries past their TTL. Intended to be
// called periodically alongside RefreshDynamic.
func (l *List) EvictExpiredHot() {
	now := clock.Now()
	var evicted []string

	l.mu.Lock()
	for sym, exp := range l.hot {
		if now.After(exp) {
			delete(l.hot, sym)
			evicted = append(evicted, sym)
		}
	}
	l.mu.Unlock()

	for _, sym := range evicted {
		l.emit(sym, model.LayerHot, "hot_expired")
	}
	if len(evicted) > 0 {
		l.snapshot()
	}
}

// Snapshot returns every currently allowed symbol with its layer, for
// the HTTP status surface.
func (l *List) Snapshot() []model.AllowListEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []model.AllowListEntry
	for sym := range l.core {
		out = append(out, model.AllowListEntry{Symbol: sym, Layer: model.LayerCore, AddedAt: clock.Now()})
	}
	for sym, refreshedAt := range l.dynamic {
		out = append(out, model.AllowListEntry{Symbol: sym, Layer: model.LayerDynamic, AddedAt: refreshedAt})
	}
	for sym, exp := range l.hot {
		e := exp
		out = append(out, model.AllowListEntry{Symbol: sym, Layer: model.LayerHot, AddedAt: e.Add(-hotTTL), ExpiresAt: &e})
	}
	return out
}

func (l *List) emit(symbol string, layer model.AllowListLayer, reason string) {
	if l.log == nil {
		return
	}
	_, err := l.log.Publish(eventlog.TypeAllowlistChange, clock.NewCorrelationID(), "allowlist", map[string]any{
		"symbol": symbol,
		"layer":  layer,
		"reason": reason,
	})
	if err != nil {
		log.Warn().Err(err).Msg("allowlist: failed to publish change event")
	}
}

// snapshot persists the current allowlist to disk atomically, so a
// restart doesn't require waiting for the next hourly refresh before
// DYNAMIC/HOT symbols are tradable again.
func (l *List) snapshot() {
	if l.snapshotPath == "" {
		return
	}
	entries := l.Snapshot()
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("allowlist: failed to marshal snapshot")
		return
	}
	if err := clock.AtomicWriteFile(l.snapshotPath, data, 0o644); err != nil {
		log.Warn().Err(err).Msg("allowlist: failed to write snapshot")
	}
}

// LoadSnapshot restores DYNAMIC and HOT layers from a previously
// written snapshot file at startup. CORE is always the static set
// passed to New: the snapshot file includes CORE entries, but they are
// ignored here.
func (l *List) LoadSnapshot(data []byte) error {
	var entries []model.AllowListEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range entries {
		switch e.Layer {
		case model.LayerDynamic:
			l.dynamic[e.Symbol] = e.AddedAt
		case model.LayerHot:
			if e.ExpiresAt != nil && clock.Now().Before(*e.ExpiresAt) {
				l.hot[e.Symbol] = *e.ExpiresAt
			}
		}
	}
	return nil
}
