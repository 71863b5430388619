package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MODE", "MAX_DAILY_LOSS_USD", "MAX_OPEN_POSITIONS", "MIN_DAILY_VOLUME_USD",
		"SIGNAL_TTL_SEC", "PRICE_STALE_SEC", "WATCHDOG_TICK_SEC", "RECONCILE_PERIOD_SEC",
		"HEARTBEAT_PERIOD_SEC", "EXCHANGE_KEY", "EXCHANGE_SECRET",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadAppliesDefaultsInDryMode(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ModeDry, cfg.Mode)
	require.Equal(t, 2, cfg.MaxOpenPositions)
	require.Equal(t, "15", cfg.MaxDailyLossUSD.String())
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	clearEnv(t)
	t.Setenv("MODE", "PAPER")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRequiresExchangeCredentialsOutsideDry(t *testing.T) {
	clearEnv(t)
	t.Setenv("MODE", "TESTNET")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("EXCHANGE_KEY", "key")
	t.Setenv("EXCHANGE_SECRET", "secret")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ModeTestnet, cfg.Mode)
}

func TestLoadParsesSecondsEnvVars(t *testing.T) {
	clearEnv(t)
	t.Setenv("SIGNAL_TTL_SEC", "45")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, int64(45), int64(cfg.SignalTTL.Seconds()))
}
