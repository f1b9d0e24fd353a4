package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_AppliesDefaultsAndIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "search.yaml", "search:\n  mode: thorough\n  chains: 4\n")
	path := writeFile(t, dir, "config.yaml", `include:
  - search.yaml
data:
  source: csv
  path: bars.csv
  start_date: "2010-01-04"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "csv", cfg.Data.Source)
	assert.True(t, cfg.Data.CacheEnabled)
	assert.Equal(t, 750, cfg.Features.HeldOutLength)
	assert.Equal(t, 100, cfg.Classifier.Trees)
	assert.Equal(t, 0.2, cfg.Classifier.ReportSplit)
	assert.Equal(t, "thorough", cfg.Search.Mode)
	assert.Equal(t, 800, cfg.Search.Iterations)
	assert.Equal(t, 4, cfg.Search.Chains)
	assert.Equal(t, 0.995, cfg.Search.CoolingRate)
	assert.Equal(t, []int{500, 750, 1000, 1250, 1500}, cfg.Search.LengthCandidates)
	assert.Equal(t, 1_000_000.0, cfg.Backtest.InitialCash)
	assert.Equal(t, "output/best_window.yaml", cfg.Output.ResultPath)

	start, end, err := cfg.Data.DateRange()
	require.NoError(t, err)
	assert.Equal(t, "20100104", start.Format("20060102"))
	assert.True(t, end.IsZero())
}

func TestLoad_ExplicitValuesWin(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `data:
  source: binance
  symbol: BTCUSDT
  cache_enabled: false
search:
  mode: fast
  iterations: 0
store:
  save_iterations: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Data.CacheEnabled)
	assert.False(t, cfg.Store.SaveIterations)
	assert.Equal(t, 0, cfg.Search.Iterations)
	assert.Equal(t, "https://fapi.binance.com", cfg.Data.Binance.BaseURL)
}

func TestLoad_TushareTokenFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "data:\n  source: tushare\n  symbol: 600519.SH\n")

	t.Setenv(EnvTushareToken, "")
	_, err := Load(path)
	assert.ErrorContains(t, err, "tushare.token")

	t.Setenv(EnvTushareToken, "secret")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.Data.Tushare.Token)
}

func TestLoad_Validation(t *testing.T) {
	cases := map[string]string{
		"unknown source":  "data:\n  source: yahoo\n  symbol: X\n",
		"csv needs path":  "data:\n  source: csv\n",
		"bad date":        "data:\n  source: binance\n  symbol: X\n  start_date: 2020/01/01\n",
		"reversed range":  "data:\n  source: binance\n  symbol: X\n  start_date: \"20200101\"\n  end_date: \"20190101\"\n",
		"bad mode":        "data:\n  source: binance\n  symbol: X\nsearch:\n  mode: slow\n",
		"bad cooling":     "data:\n  source: binance\n  symbol: X\nsearch:\n  cooling_rate: 1.5\n",
		"bad split":       "data:\n  source: binance\n  symbol: X\nclassifier:\n  report_split: 1.5\n",
		"negative period": "data:\n  source: binance\n  symbol: X\nfeatures:\n  rsi_periods: [6, -1]\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_IncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include:\n  - b.yaml\n")
	path := writeFile(t, dir, "b.yaml", "include:\n  - a.yaml\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "cycle")
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, DefaultConfigPath, ResolvePath())
	t.Setenv(EnvConfigPath, "/etc/optpath.yaml")
	assert.Equal(t, "/etc/optpath.yaml", ResolvePath())
}
