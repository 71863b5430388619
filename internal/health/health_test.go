package health

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hopecore/hope/internal/position"
	"github.com/hopecore/hope/internal/pricecache"
	"github.com/hopecore/hope/internal/risk"
)

func TestStatusReflectsOpenPositionsAndMode(t *testing.T) {
	positions := position.New(nil)
	prices := pricecache.New(10 * time.Second)
	riskMgr := risk.NewManager(risk.Config{MaxDailyLossUSD: decimal.NewFromInt(15), MaxDailyTrades: 100, SymbolCooldown: 30 * time.Second}, nil)

	m := New("DRY", positions, prices, riskMgr, nil)
	status := m.Status()
	require.Equal(t, "DRY", status.Mode)
	require.Equal(t, 0, status.OpenPositions)
	require.True(t, status.Ready)
}

func TestStatusNotReadyWhenKillSwitchOn(t *testing.T) {
	positions := position.New(nil)
	prices := pricecache.New(10 * time.Second)
	riskMgr := risk.NewManager(risk.Config{MaxDailyLossUSD: decimal.NewFromInt(15), MaxDailyTrades: 100, SymbolCooldown: 30 * time.Second}, nil)
	riskMgr.SetKillSwitch(true, "test")

	m := New("LIVE", positions, prices, riskMgr, nil)
	require.False(t, m.Status().Ready)
}
