package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIndexAndQueryEvents(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.IndexEvent("ev-1", "signal", "corr-1", now))
	require.NoError(t, s.IndexEvent("ev-2", "decision", "corr-1", now.Add(time.Second)))

	rows, err := s.QueryEvents("", now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	rows, err = s.QueryEvents("signal", now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "ev-1", rows[0].EventID)
}

func TestIndexEventIsIdempotent(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.IndexEvent("ev-1", "signal", "corr-1", now))
	require.NoError(t, s.IndexEvent("ev-1", "signal", "corr-1", now))

	rows, err := s.QueryEvents("", now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestWinRateComputesFraction(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.IndexOutcome(OutcomeRecord{PositionID: "p1", Symbol: "BTCUSDT", Label: "WIN", PnLUSD: 10, ClosedAt: now}))
	require.NoError(t, s.IndexOutcome(OutcomeRecord{PositionID: "p2", Symbol: "BTCUSDT", Label: "LOSS", PnLUSD: -5, ClosedAt: now}))
	require.NoError(t, s.IndexOutcome(OutcomeRecord{PositionID: "p3", Symbol: "BTCUSDT", Label: "FLAT", PnLUSD: 0, ClosedAt: now}))

	rate, err := s.WinRate("BTCUSDT")
	require.NoError(t, err)
	require.InDelta(t, 0.5, rate, 0.0001)
}
