package notify

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hopecore/hope/internal/eventlog"
	"github.com/hopecore/hope/internal/model"
)

type recordingNotifier struct {
	levels   []Level
	messages []string
}

func (r *recordingNotifier) Notify(level Level, text string) {
	r.levels = append(r.levels, level)
	r.messages = append(r.messages, text)
}

func TestDispatcherNotifiesOnCircuitOpen(t *testing.T) {
	elog := eventlog.New(t.TempDir())
	rec := &recordingNotifier{}
	d := NewDispatcher(rec)
	d.Subscribe(elog)

	_, err := elog.Publish(eventlog.TypeCircuitTransition, "corr-1", "risk", map[string]any{
		"from":   "CLOSED",
		"to":     "OPEN",
		"reason": "risk_threshold_breached",
	})
	require.NoError(t, err)

	require.Len(t, rec.messages, 1)
	require.Equal(t, LevelWarning, rec.levels[0])
}

func TestDispatcherIgnoresNonOpenTransitions(t *testing.T) {
	elog := eventlog.New(t.TempDir())
	rec := &recordingNotifier{}
	d := NewDispatcher(rec)
	d.Subscribe(elog)

	_, err := elog.Publish(eventlog.TypeCircuitTransition, "corr-1", "risk", map[string]any{
		"from":   "HALF_OPEN",
		"to":     "CLOSED",
		"reason": "operator_reset",
	})
	require.NoError(t, err)

	require.Empty(t, rec.messages)
}

func TestDispatcherNotifiesOnPanicExit(t *testing.T) {
	elog := eventlog.New(t.TempDir())
	rec := &recordingNotifier{}
	d := NewDispatcher(rec)
	d.Subscribe(elog)

	_, err := elog.Publish(eventlog.TypeExitRequest, "corr-1", "watchdog", model.ExitRequest{
		PositionID: "pos-1",
		Reason:     model.ExitPanicStalePrice,
	})
	require.NoError(t, err)

	require.Len(t, rec.messages, 1)
	require.Equal(t, LevelFatal, rec.levels[0])
}

func TestDispatcherIgnoresNonPanicExitRequests(t *testing.T) {
	elog := eventlog.New(t.TempDir())
	rec := &recordingNotifier{}
	d := NewDispatcher(rec)
	d.Subscribe(elog)

	_, err := elog.Publish(eventlog.TypeExitRequest, "corr-1", "watchdog", model.ExitRequest{
		PositionID: "pos-1",
		Reason:     model.ExitTP,
	})
	require.NoError(t, err)

	require.Empty(t, rec.messages)
}

func TestDispatcherWithNilNotifierDoesNotPanic(t *testing.T) {
	elog := eventlog.New(t.TempDir())
	d := NewDispatcher(nil)
	d.Subscribe(elog)

	_, err := elog.Publish(eventlog.TypeExitRequest, "corr-1", "watchdog", model.ExitRequest{
		PositionID: "pos-1",
		Reason:     model.ExitPanicAPISilent,
	})
	require.NoError(t, err)
}
