package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
exchange:
  api_key: key
  api_secret: secret
symbols:
  - btcusdt
  - ETHUSDT
trading:
  leverage: 20
symbol_overrides:
  ETHUSDT:
    take_profit_pct: 1.5
    max_position_time: 10m
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Symbols)
	assert.Equal(t, DriverAster, cfg.Exchange.Driver)
	assert.Equal(t, "https://fapi.asterdex.com", cfg.Exchange.BaseURL)
	assert.Equal(t, 500*time.Millisecond, cfg.Scheduler.CycleInterval)
	assert.Equal(t, 3, cfg.Scheduler.MaxConcurrentPositions)
	assert.Equal(t, 25.0, cfg.Scheduler.MinAvailableMarginPct)

	btc := cfg.TradingFor("BTCUSDT")
	assert.Equal(t, 20, btc.Leverage)
	assert.Equal(t, 0.8, btc.TakeProfitPct)
	assert.Equal(t, 300*time.Second, btc.MaxPositionTime)
	assert.Equal(t, 15*time.Second, btc.MinTradeInterval)

	eth := cfg.TradingFor("ETHUSDT")
	assert.Equal(t, 20, eth.Leverage, "override should inherit global leverage")
	assert.Equal(t, 1.5, eth.TakeProfitPct)
	assert.Equal(t, 10*time.Minute, eth.MaxPositionTime)
	assert.Equal(t, 2.0, eth.StopLossPct)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("ASTER_EXCHANGE_API_KEY", "from-env")
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Exchange.APIKey)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsEmptySymbols(t *testing.T) {
	body := `
exchange:
  api_key: key
  api_secret: secret
symbols: []
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbols")
}

func TestValidateAggregatesErrors(t *testing.T) {
	body := `
exchange:
  driver: kraken
symbols: [BTCUSDT]
trading:
  leverage: 0
  max_margin_per_trade: 150
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "exchange.driver")
	assert.Contains(t, msg, "api_key")
	assert.Contains(t, msg, "trading.leverage")
	assert.Contains(t, msg, "trading.max_margin_per_trade")
}

func TestConfidenceThreshold(t *testing.T) {
	assert.Equal(t, 0.3, TradingConfig{ScalpingMode: true}.ConfidenceThreshold())
	assert.Equal(t, 0.6, TradingConfig{}.ConfidenceThreshold())
}
