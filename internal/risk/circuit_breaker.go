package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hopecore/hope/internal/clock"
	"github.com/hopecore/hope/internal/eventlog"
)

// BreakerState is one of the three circuit breaker states (spec §4.4).
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

const (
	consecutiveLossTripThreshold = 5
	baseCooldown                 = 5 * time.Minute
	maxCooldown                  = 2 * time.Hour
)

// circuitBreaker is the CLOSED/OPEN/HALF_OPEN state machine gating new
// entries after a run of losses (spec §4.4). HALF_OPEN permits exactly
// one probing entry; a win on it closes the breaker, a loss reopens it
// with a doubled, capped cooldown.
type circuitBreaker struct {
	log *eventlog.Log

	mu               sync.Mutex
	state            BreakerState
	cooldown         time.Duration
	openUntil        time.Time
	halfOpenSlotUsed bool
}

func newCircuitBreaker(log *eventlog.Log) *circuitBreaker {
	return &circuitBreaker{
		log:      log,
		state:    BreakerClosed,
		cooldown: baseCooldown,
	}
}

// current returns the breaker's state, first promoting OPEN to
// HALF_OPEN once the cooldown window has elapsed.
func (b *circuitBreaker) current() BreakerState {
	b.mu.Lock()
	promoted := false
	if b.state == BreakerOpen && !clock.Now().Before(b.openUntil) {
		b.state = BreakerHalfOpen
		b.halfOpenSlotUsed = false
		promoted = true
	}
	state := b.state
	b.mu.Unlock()

	if promoted {
		b.emitTransition(BreakerOpen, BreakerHalfOpen, "cooldown_elapsed")
	}
	return state
}

// tryConsumeHalfOpenSlot claims the single probing entry HALF_OPEN
// permits. Returns false if a probe is already in flight.
func (b *circuitBreaker) tryConsumeHalfOpenSlot() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BreakerHalfOpen || b.halfOpenSlotUsed {
		return false
	}
	b.halfOpenSlotUsed = true
	return true
}

// recordWin closes the breaker and resets the cooldown back to base.
func (b *circuitBreaker) recordWin() {
	b.mu.Lock()
	transitioned := b.state == BreakerHalfOpen
	if transitioned {
		b.state = BreakerClosed
		b.cooldown = baseCooldown
	}
	b.mu.Unlock()

	if transitioned {
		b.emitTransition(BreakerHalfOpen, BreakerClosed, "half_open_win")
	}
}

// recordLoss reopens the breaker from HALF_OPEN with a doubled,
// capped cooldown.
func (b *circuitBreaker) recordLoss() {
	b.mu.Lock()
	transitioned := b.state == BreakerHalfOpen
	if transitioned {
		b.cooldown *= 2
		if b.cooldown > maxCooldown {
			b.cooldown = maxCooldown
		}
		b.state = BreakerOpen
		b.openUntil = clock.Now().Add(b.cooldown)
	}
	b.mu.Unlock()

	if transitioned {
		b.emitTransition(BreakerHalfOpen, BreakerOpen, "half_open_loss")
	}
}

// forceTrip opens the breaker unconditionally, used when the
// consecutive-loss or daily-loss thresholds are breached directly
// (spec §4.4) rather than through a HALF_OPEN probe.
func (b *circuitBreaker) forceTrip(reason string) {
	b.mu.Lock()
	if b.state == BreakerOpen {
		b.mu.Unlock()
		return
	}
	prev := b.state
	b.state = BreakerOpen
	b.openUntil = clock.Now().Add(b.cooldown)
	b.mu.Unlock()

	b.emitTransition(prev, BreakerOpen, reason)
}

// forceReset is the audited operator override (spec §6).
func (b *circuitBreaker) forceReset() {
	b.mu.Lock()
	prev := b.state
	b.state = BreakerClosed
	b.cooldown = baseCooldown
	b.halfOpenSlotUsed = false
	b.mu.Unlock()

	b.emitTransition(prev, BreakerClosed, "operator_reset")
}

// emitTransition publishes a circuit_transition event. Must be called
// without the breaker's mutex held, since a subscriber may call back
// into the breaker to read its current state.
func (b *circuitBreaker) emitTransition(from, to BreakerState, reason string) {
	if b.log == nil || from == to {
		return
	}
	_, err := b.log.Publish(eventlog.TypeCircuitTransition, clock.NewCorrelationID(), "risk", map[string]any{
		"from":   from,
		"to":     to,
		"reason": reason,
	})
	if err != nil {
		log.Warn().Err(err).Msg("risk: failed to publish circuit transition")
	}
}
