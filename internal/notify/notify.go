// Package notify is the one-way alerting surface spec §6 describes: a
// Notifier receives short messages on a circuit trip, a PANIC exit, or
// a fatal shutdown. The Telegram chat/control UI the teacher built is
// explicitly out of scope (spec §1) — the core only ever talks to the
// Notifier interface below, never a concrete chat client, so swapping
// in a real one later touches nothing but main.go's wiring.
package notify

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hopecore/hope/internal/eventlog"
	"github.com/hopecore/hope/internal/model"
)

// Level mirrors the severity tiers the teacher's alert callbacks used
// (signal strength buckets), reduced to the three spec §6 names.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelFatal   Level = "FATAL"
)

// Notifier is the optional, one-way collaborator spec §6 names:
// Notify(level, text). Any transport can implement it; HOPE ships only
// a logging stub since the chat layer itself is out of scope.
type Notifier interface {
	Notify(level Level, text string)
}

// LogNotifier routes alerts through the structured logger instead of a
// chat API, so the process has a working Notifier with zero external
// dependencies. An operator wiring a real chat/webhook notifier just
// implements Notifier and swaps it in at construction time.
type LogNotifier struct{}

// NewLogNotifier returns the default stub Notifier.
func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (LogNotifier) Notify(level Level, text string) {
	evt := log.Info()
	switch level {
	case LevelWarning:
		evt = log.Warn()
	case LevelFatal:
		evt = log.Error()
	}
	evt.Str("channel", "notify").Msg(text)
}

// Dispatcher watches the event log for the three conditions spec §6
// names as user-visible failures — a circuit breaker transition into
// OPEN, any PANIC exit, and any fatal shutdown — and forwards each to
// the configured Notifier. It holds no business logic of its own.
type Dispatcher struct {
	notifier Notifier
}

// NewDispatcher wires n to the conditions worth paging an operator
// about. Pass nil to disable alerting entirely.
func NewDispatcher(n Notifier) *Dispatcher {
	return &Dispatcher{notifier: n}
}

// Subscribe registers the dispatcher's handlers on elog. Call once at
// startup after every other subscriber is wired.
func (d *Dispatcher) Subscribe(elog *eventlog.Log) {
	elog.Subscribe(eventlog.TypeCircuitTransition, d.onCircuitTransition)
	elog.Subscribe(eventlog.TypeExitRequest, d.onExitRequest)
}

func (d *Dispatcher) onCircuitTransition(ev eventlog.Event) error {
	var t struct {
		From   string
		To     string
		Reason string
	}
	if err := ev.Decode(&t); err != nil {
		return nil
	}
	if t.To != "OPEN" {
		return nil
	}
	d.send(LevelWarning, "circuit breaker OPEN ("+t.Reason+"), new entries blocked until cooldown or operator reset")
	return nil
}

func (d *Dispatcher) onExitRequest(ev eventlog.Event) error {
	var req model.ExitRequest
	if err := ev.Decode(&req); err != nil {
		return nil
	}
	if !strings.HasPrefix(string(req.Reason), "PANIC") {
		return nil
	}
	d.send(LevelFatal, "panic exit requested on position "+req.PositionID+": "+string(req.Reason))
	return nil
}

// FatalShutdown is called directly from main's recover path (spec §6
// exit code 3), bypassing the event log since the process is already
// on its way down.
func (d *Dispatcher) FatalShutdown(reason string) {
	d.send(LevelFatal, "process shutting down: "+reason)
}

func (d *Dispatcher) send(level Level, text string) {
	if d.notifier == nil {
		return
	}
	d.notifier.Notify(level, text)
}
