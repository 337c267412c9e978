package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
backtest:
  initial_capital: 100000
  commission_rate: 0.001
  slippage_rate: 0.0005
  rebalance_freq: monthly
strategy:
  name: ema
  execution_delay: 1
  params:
    st_lookback:
      type: range
      default: 10
      min: 5
      max: 15
      step: 5
      optimize: true
    mt_lookback:
      type: number
      value: 50
    lt_lookback:
      type: number
      value: 150
    top_n:
      type: range
      default: 2
      min: 1
      max: 2
      step: 1
      optimize: true
data:
  tickers: [BTC, ETH]
  start_date: "2021-01-01"
  cache_file: prices.csv
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(body), 0o644))
	return dir
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 100000.0, cfg.Backtest.InitialCapital)
	assert.Equal(t, Monthly, cfg.Backtest.RebalanceFreq)
	assert.Equal(t, 1, cfg.Strategy.ExecutionDelay)
	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Data.Tickers)
	assert.Equal(t, ModeRead, cfg.Data.Mode, "optional settings fall back to defaults")
	assert.Equal(t, 20.0, cfg.Binance.RateLimit)
	assert.Equal(t, []string{"stderr"}, cfg.Logger.Output)

	params, err := cfg.Strategy.Resolve()
	require.NoError(t, err)
	assert.Equal(t, 10, params.ShortLookback)
	assert.Equal(t, 50, params.MediumLookback)
	assert.Equal(t, 150, params.LongLookback)
	assert.Equal(t, 2, params.TopN)
}

func TestLoadConfigMissingRequired(t *testing.T) {
	testCases := []struct {
		name string
		drop string
	}{
		{name: "commission", drop: "  commission_rate: 0.001\n"},
		{name: "execution delay", drop: "  execution_delay: 1\n"},
		{name: "start date", drop: "  start_date: \"2021-01-01\"\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			body := removeLine(t, sampleConfig, tc.drop)
			_, err := LoadConfig(writeConfig(t, body))
			assert.ErrorIs(t, err, ErrMissingParameter)
		})
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	body := replaceLine(t, sampleConfig, "  rebalance_freq: monthly\n", "  rebalance_freq: hourly\n")
	_, err := LoadConfig(writeConfig(t, body))
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestResolveMissingStrategyParam(t *testing.T) {
	s := Strategy{Name: "top_n", Params: map[string]Param{}}
	_, err := s.Resolve()
	assert.ErrorIs(t, err, ErrMissingParameter)

	s = Strategy{Name: "top_n", Params: map[string]Param{"top_n": {Kind: KindNumber, Value: 2.5}}}
	_, err = s.Resolve()
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestVariants(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	variants := cfg.Variants()
	require.Len(t, variants, 6)
	assert.Equal(t, "st_lookback=5,top_n=1", variants[0].Label)
	assert.Equal(t, "st_lookback=15,top_n=2", variants[5].Label)

	params, err := variants[5].Config.Strategy.Resolve()
	require.NoError(t, err)
	assert.Equal(t, 15, params.ShortLookback)
	assert.Equal(t, 2, params.TopN)

	base, err := cfg.Strategy.Resolve()
	require.NoError(t, err)
	assert.Equal(t, 10, base.ShortLookback, "variants do not alter the base config")
}

func TestParamSteps(t *testing.T) {
	p := Param{Kind: KindRange, Min: 0.1, Max: 0.3, Step: 0.1, Default: 0.2, Optimize: true}
	steps := p.Steps()
	require.Len(t, steps, 3)
	assert.InDelta(t, 0.3, steps[2], 1e-12)

	p.Optimize = false
	assert.Equal(t, []float64{0.2}, p.Steps())
}

func removeLine(t *testing.T, body, line string) string {
	return replaceLine(t, body, line, "")
}

func replaceLine(t *testing.T, body, line, with string) string {
	t.Helper()
	require.Contains(t, body, line)
	return strings.Replace(body, line, with, 1)
}

func TestSampleConfigLogsToStderr(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "configs"))
	require.NoError(t, err)

	assert.NotContains(t, cfg.Logger.Output, "stdout", "stdout is reserved for the run summary")
	assert.Equal(t, []string{"stderr"}, cfg.Logger.Output)
}
