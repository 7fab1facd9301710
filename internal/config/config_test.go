package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
data:
  source: csv
  csv_dir: ./data
  securities: [AAPL, MSFT]
  interval: D
  start: 2020-01-01
  end: 2020-12-31
portfolio:
  initial_cash: 50000
  commission: 0.001
  precisions:
    ES: 4
reporting:
  risk_free_rate: 0.02
  out_dir: ./results
strategy:
  allocation: 0.5
logging:
  level: debug
  format: json
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backtest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.Data.Securities)
	assert.True(t, decimal.NewFromInt(50000).Equal(cfg.Portfolio.InitialCash))
	assert.True(t, decimal.RequireFromString("0.001").Equal(cfg.Portfolio.Commission))
	assert.True(t, decimal.RequireFromString("0.00246").Equal(cfg.Portfolio.Slippage), "default slippage kept")
	assert.Equal(t, int32(2), cfg.Portfolio.PricePrecision)
	assert.Equal(t, int32(4), cfg.Portfolio.Precisions["ES"])
	assert.Equal(t, 20, cfg.Strategy.EntryPeriod)
	assert.True(t, decimal.RequireFromString("0.5").Equal(cfg.Strategy.Allocation))

	feed, err := cfg.FeedConfig()
	require.NoError(t, err)
	assert.Equal(t, 2020, feed.Start().Year())
	assert.Equal(t, 31, feed.End().Day(), "end day is inclusive")

	portfolio, err := cfg.PortfolioConfig()
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(50000).Equal(portfolio.InitialCash()))
	assert.NotNil(t, cfg.ReportingConfig())
}

func TestLoadFromFile_DBURLFromEnv(t *testing.T) {
	t.Setenv(DBURLEnv, "postgres://localhost/candles")
	body := `
data:
  source: postgres
  securities: [AAPL]
  start: 2020-01-01
  end: 2020-02-01
`
	cfg, err := LoadFromFile(writeConfig(t, body))
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/candles", cfg.Data.DBURL)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Data.Securities = []string{"AAPL"}
		cfg.Data.Start = "2020-01-01"
		cfg.Data.End = "2020-06-30"
		return cfg
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults with a horizon", func(c *Config) {}, false},
		{"unknown source", func(c *Config) { c.Data.Source = "s3" }, true},
		{"postgres without url", func(c *Config) { c.Data.Source = SourcePostgres }, true},
		{"no securities", func(c *Config) { c.Data.Securities = nil }, true},
		{"bad interval", func(c *Config) { c.Data.Interval = "7" }, true},
		{"weekly interval", func(c *Config) { c.Data.Interval = "W" }, true},
		{"bad start", func(c *Config) { c.Data.Start = "01/01/2020" }, true},
		{"end before start", func(c *Config) { c.Data.End = "2019-01-01" }, true},
		{"negative cash", func(c *Config) { c.Portfolio.InitialCash = decimal.NewFromInt(-1) }, true},
		{"commission of one", func(c *Config) { c.Portfolio.Commission = decimal.NewFromInt(1) }, true},
		{"negative precision", func(c *Config) { c.Portfolio.PricePrecision = -1 }, true},
		{"zero allocation", func(c *Config) { c.Strategy.Allocation = decimal.Zero }, true},
		{"zero period", func(c *Config) { c.Strategy.ATRPeriod = 0 }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConfigureLogging(t *testing.T) {
	defer log.SetLevel(log.GetLevel())
	defer log.SetFormatter(log.StandardLogger().Formatter)

	cfg := Default()
	cfg.Logging = LoggingConfig{Level: "warn", Format: "json"}
	require.NoError(t, cfg.ConfigureLogging())
	assert.Equal(t, log.WarnLevel, log.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, log.StandardLogger().Formatter)
}
