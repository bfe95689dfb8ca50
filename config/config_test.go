package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trailflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
symbol: BTCUSDT
multiplier: 2
profit:
  percentage: 0.8
distance:
  method: Wave
  percentage: 0.3
buy:
  indicators:
    enabled: true
    intervals: ["1m", "3m", "5m"]
telegram:
  enabled: true
  token: secret
  users: [123]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "BTCUSDT", cfg.Symbol)
	require.Equal(t, 2.0, cfg.Multiplier)
	require.Equal(t, 0.8, cfg.Profit.Percentage)
	require.Equal(t, "Wave", cfg.Distance.Method)
	require.Equal(t, []string{"1m", "3m", "5m"}, cfg.Buy.Indicators.Intervals)
	require.True(t, cfg.Telegram.Enabled)
	require.Equal(t, []int{123}, cfg.Telegram.Users)

	// Untouched sections keep their defaults.
	require.Equal(t, "buntdb", cfg.Storage.Backend)
	require.Equal(t, "2m", cfg.Timers.StuckCheck)
	require.Equal(t, -50.0, cfg.Optimizer.AdjMin)
}

func TestLoad_RequiresSymbol(t *testing.T) {
	path := writeConfig(t, `
profit:
  percentage: 0.8
distance:
  percentage: 0.3
`)

	_, err := Load(path)
	require.ErrorContains(t, err, "symbol")
}

func TestLoad_RejectsNonPositivePercentages(t *testing.T) {
	path := writeConfig(t, `
symbol: BTCUSDT
profit:
  percentage: 0
distance:
  percentage: 0.3
`)

	_, err := Load(path)
	require.ErrorContains(t, err, "positive")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDuration(t *testing.T) {
	require.Equal(t, 90*time.Second, Duration("90s", time.Minute))
	require.Equal(t, 90*time.Minute, Duration("1h30m", time.Minute))
	require.Equal(t, time.Minute, Duration("", time.Minute))
	require.Equal(t, time.Minute, Duration("garbage", time.Minute))
}
