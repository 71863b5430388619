// Package pricecache holds the latest known price per symbol, along
// with the time it was received, so the Signal Gate and Position
// Watchdog can both answer "is this price stale" without hitting the
// exchange (spec §4.2).
package pricecache

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hopecore/hope/internal/clock"
)

// entry is one symbol's last-observed price.
type entry struct {
	price        decimal.Decimal
	exchangeTime time.Time
	receivedAt   time.Time
}

// historyLen bounds the per-symbol price ring kept for the Decision
// Engine's technical-score inputs (spec §4.6 Features.RecentPrices),
// so the cache's memory footprint stays flat regardless of uptime.
const historyLen = 64

// Cache is safe for concurrent use by the feed writer goroutine and any
// number of readers (Signal Gate, Watchdog, HTTP status handler).
type Cache struct {
	staleAfter time.Duration

	mu      sync.RWMutex
	prices  map[string]entry
	history map[string][]decimal.Decimal
}

// New creates a Cache that considers a price stale once it is older
// than staleAfter (PRICE_STALE_SEC, default 10s per spec §6).
func New(staleAfter time.Duration) *Cache {
	return &Cache{
		staleAfter: staleAfter,
		prices:     make(map[string]entry),
		history:    make(map[string][]decimal.Decimal),
	}
}

// OnTick records a new observation for symbol. exchangeTime is the
// timestamp the exchange attached to the tick; receivedAt is stamped
// locally so staleness reflects our own clock even if the exchange
// clock drifts.
func (c *Cache) OnTick(symbol string, price decimal.Decimal, exchangeTime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[symbol] = entry{
		price:        price,
		exchangeTime: exchangeTime,
		receivedAt:   clock.Now(),
	}

	h := append(c.history[symbol], price)
	if len(h) > historyLen {
		h = h[len(h)-historyLen:]
	}
	c.history[symbol] = h
}

// RecentPrices returns up to historyLen of the most recent ticks for
// symbol, oldest first, for feeding the Decision Engine's technical
// indicators.
func (c *Cache) RecentPrices(symbol string) []decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := c.history[symbol]
	out := make([]decimal.Decimal, len(h))
	copy(out, h)
	return out
}

// Get returns the last known price for symbol, its age since local
// receipt, whether it is stale, and whether any price has ever been
// observed for it at all.
func (c *Cache) Get(symbol string) (price decimal.Decimal, age time.Duration, stale bool, ok bool) {
	c.mu.RLock()
	e, ok := c.prices[symbol]
	c.mu.RUnlock()
	if !ok {
		return decimal.Zero, 0, true, false
	}
	age = clock.Now().Sub(e.receivedAt)
	return e.price, age, age > c.staleAfter, true
}

// LastReceivedAt returns the most recent receipt time across every
// tracked symbol, used by the API-silence panic check in the Watchdog
// (spec §4.9: no tick from the exchange for 60s on ANY symbol).
func (c *Cache) LastReceivedAt() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var latest time.Time
	found := false
	for _, e := range c.prices {
		if !found || e.receivedAt.After(latest) {
			latest = e.receivedAt
			found = true
		}
	}
	return latest, found
}

// StaleSymbols returns every tracked symbol whose price is currently
// stale, for the health payload's per-symbol-staleness field.
func (c *Cache) StaleSymbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := clock.Now()
	var stale []string
	for sym, e := range c.prices {
		if now.Sub(e.receivedAt) > c.staleAfter {
			stale = append(stale, sym)
		}
	}
	return stale
}

// Symbols returns every symbol currently tracked in the cache.
func (c *Cache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.prices))
	for sym := range c.prices {
		out = append(out, sym)
	}
	return out
}
