// Package eventlog is the durable, append-only journal and in-process
// fan-out bus described in spec §4.1. Every state transition in the
// trading core is published here before anything else observes it; the
// correlation chain signal→decision→order→fill→close→outcome is this
// package's event_id/correlation_id pair, not a separate index.
package eventlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hopecore/hope/internal/clock"
)

// Type names the event_type field. New types are just new strings; the
// log itself is schema-agnostic — only the payload shape changes.
type Type string

const (
	TypeSignal           Type = "signal"
	TypeGateResult        Type = "gate_result"
	TypeDecision          Type = "decision"
	TypeOrder             Type = "order"
	TypeFill              Type = "fill"
	TypeExitRequest       Type = "exit_request"
	TypeClose             Type = "close"
	TypeOutcome           Type = "outcome"
	TypeReconcileMismatch Type = "reconcile_mismatch"
	TypeHeartbeat         Type = "heartbeat"
	TypeCircuitTransition Type = "circuit_transition"
	TypeSignalDropped     Type = "signal_dropped"
	TypeUncertainOutcome  Type = "uncertain_outcome"
	TypeAllowlistChange   Type = "allowlist_change"
	Wildcard              Type = "*"
)

// Event is one durable record. Payload is kept as json.RawMessage so the
// log never needs to know concrete payload types, and Decode can target
// any of the model package's structs.
type Event struct {
	SchemaVersion int             `json:"schema_version"`
	EventID       string          `json:"event_id"`
	EventType     Type            `json:"event_type"`
	TS            time.Time       `json:"ts"`
	CorrelationID string          `json:"correlation_id"`
	Source        string          `json:"source"`
	Payload       json.RawMessage `json:"payload"`
}

// Decode unmarshals Payload into v.
func (e Event) Decode(v any) error { return json.Unmarshal(e.Payload, v) }

// Handler receives delivered events. It must never block for long and
// must never panic the bus goroutine; a handler that returns an error
// is retried via the dead-letter queue (spec §4.1).
type Handler func(Event) error

// Log is the append-only journal plus bus. One Log instance serves the
// whole process; each event type gets its own file under dir/events.
type Log struct {
	dir string

	mu          sync.Mutex
	subscribers map[Type][]Handler

	dlq *deadLetterQueue
}

// New creates a Log rooted at dir (spec §6 file layout: events/<type>.jsonl,
// dlq.jsonl live directly under dir).
func New(dir string) *Log {
	return &Log{
		dir:         dir,
		subscribers: make(map[Type][]Handler),
		dlq:         newDeadLetterQueue(filepath.Join(dir, "dlq.jsonl")),
	}
}

// Subscribe registers fn to receive every event of type t, or every
// event regardless of type when t is Wildcard.
func (l *Log) Subscribe(t Type, fn Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribers[t] = append(l.subscribers[t], fn)
}

// Publish appends the event to its per-type journal file, then fans it
// out to subscribers. The append is fail-closed: if the write fails,
// Publish returns an error and never delivers to subscribers, because
// an unjournaled action is a correctness hazard (spec §4.1, §7).
func (l *Log) Publish(eventType Type, correlationID, source string, payload any) (Event, error) {
	canonical, err := canonicalJSON(payload)
	if err != nil {
		return Event{}, fmt.Errorf("eventlog: encode payload: %w", err)
	}

	ts := clock.Now()
	ev := Event{
		SchemaVersion: 1,
		EventID:       clock.EventID(string(eventType), correlationID, ts, canonical),
		EventType:     eventType,
		TS:            ts,
		CorrelationID: correlationID,
		Source:        source,
		Payload:       canonical,
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return Event{}, fmt.Errorf("eventlog: encode event: %w", err)
	}
	line = append(line, '\n')

	path := l.pathFor(eventType)
	if err := clock.AtomicAppendFile(path, line); err != nil {
		return Event{}, fmt.Errorf("eventlog: append %s: %w", path, err)
	}

	l.deliver(ev)
	return ev, nil
}

// deliver fans an already-journaled event out to its subscribers.
// Handler errors never block publication and never propagate to the
// caller of Publish: they are recorded on the dead-letter queue with a
// retry count (spec §4.1).
func (l *Log) deliver(ev Event) {
	l.mu.Lock()
	handlers := make([]Handler, 0, len(l.subscribers[ev.EventType])+len(l.subscribers[Wildcard]))
	handlers = append(handlers, l.subscribers[ev.EventType]...)
	handlers = append(handlers, l.subscribers[Wildcard]...)
	l.mu.Unlock()

	for i, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event_type", string(ev.EventType)).
						Str("event_id", ev.EventID).
						Msg("eventlog: handler panicked")
					l.dlq.record(ev, fmt.Sprintf("handler_%d", i), fmt.Errorf("panic: %v", r))
				}
			}()
			if err := h(ev); err != nil {
				log.Warn().
					Err(err).
					Str("event_type", string(ev.EventType)).
					Str("event_id", ev.EventID).
					Msg("eventlog: handler failed, queued to DLQ")
				l.dlq.record(ev, fmt.Sprintf("handler_%d", i), err)
			}
		}()
	}
}

// RetryDeadLetters re-delivers every DLQ entry whose backoff has
// elapsed. Intended to be called from a ticker owned by the caller
// (spec §9: replace exception-driven flow with explicit retry).
func (l *Log) RetryDeadLetters() {
	l.dlq.retryDue(func(ev Event) error {
		l.mu.Lock()
		handlers := append(append([]Handler{}, l.subscribers[ev.EventType]...), l.subscribers[Wildcard]...)
		l.mu.Unlock()
		var lastErr error
		for _, h := range handlers {
			if err := h(ev); err != nil {
				lastErr = err
			}
		}
		return lastErr
	})
}

func (l *Log) pathFor(t Type) string {
	return filepath.Join(l.dir, "events", string(t)+".jsonl")
}

// canonicalJSON marshals v with sorted map keys removed by relying on
// encoding/json's deterministic struct field order; it re-marshals
// through a compact buffer so Publish and EventID hash the exact same
// bytes.
func canonicalJSON(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return json.Marshal(v)
}
