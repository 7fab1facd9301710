package config

import (
	"fmt"
	"os"
	"time"

	"fifobacktester/internal/engine"
	"fifobacktester/types"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const DBURLEnv = "BACKTEST_DB_URL"

const (
	SourceCSV      = "csv"
	SourcePostgres = "postgres"
)

// Config is the complete description of a backtest run.
type Config struct {
	Data      DataConfig      `yaml:"data"`
	Portfolio PortfolioConfig `yaml:"portfolio"`
	Reporting ReportingConfig `yaml:"reporting"`
	Journal   JournalConfig   `yaml:"journal"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type DataConfig struct {
	Source     string   `yaml:"source"` // "csv" or "postgres"
	CSVDir     string   `yaml:"csv_dir,omitempty"`
	DBURL      string   `yaml:"db_url,omitempty"`
	Securities []string `yaml:"securities"`
	Interval   string   `yaml:"interval"`
	Start      string   `yaml:"start"` // YYYY-MM-DD
	End        string   `yaml:"end"`
	Settlement string   `yaml:"settlement,omitempty"` // HH:MM, intraday only
}

type PortfolioConfig struct {
	InitialCash    decimal.Decimal  `yaml:"initial_cash"`
	Slippage       decimal.Decimal  `yaml:"slippage"`
	Commission     decimal.Decimal  `yaml:"commission"`
	PricePrecision int32            `yaml:"price_precision"`
	Precisions     map[string]int32 `yaml:"precisions,omitempty"`
}

type ReportingConfig struct {
	RiskFreeRate decimal.Decimal `yaml:"risk_free_rate"`
	OutDir       string          `yaml:"out_dir,omitempty"`
}

type JournalConfig struct {
	Path string `yaml:"path,omitempty"`
}

type StrategyConfig struct {
	Name          string          `yaml:"name"`
	EntryPeriod   int             `yaml:"entry_period"`
	ExitPeriod    int             `yaml:"exit_period"`
	ATRPeriod     int             `yaml:"atr_period"`
	ATRMultiplier decimal.Decimal `yaml:"atr_multiplier"`
	Allocation    decimal.Decimal `yaml:"allocation"`
	AllowShort    bool            `yaml:"allow_short"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Default returns a configuration with the cost model of a typical equities
// account.
func Default() *Config {
	return &Config{
		Data: DataConfig{
			Source:     SourceCSV,
			CSVDir:     "./data",
			Interval:   string(types.Day),
			Settlement: "15:00",
		},
		Portfolio: PortfolioConfig{
			InitialCash:    decimal.NewFromInt(1_000_000),
			Slippage:       decimal.RequireFromString("0.00246"),
			Commission:     decimal.RequireFromString("0.0003"),
			PricePrecision: 2,
		},
		Reporting: ReportingConfig{
			RiskFreeRate: decimal.Zero,
		},
		Strategy: StrategyConfig{
			Name:          "donchian",
			EntryPeriod:   20,
			ExitPeriod:    10,
			ATRPeriod:     14,
			ATRMultiplier: decimal.NewFromInt(2),
			Allocation:    decimal.RequireFromString("0.2"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile reads a YAML config over the defaults. An empty db_url falls
// back to BACKTEST_DB_URL.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Data.DBURL == "" {
		cfg.Data.DBURL = os.Getenv(DBURLEnv)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks every section by building the engine configs from it.
func (c *Config) Validate() error {
	switch c.Data.Source {
	case SourceCSV:
		if c.Data.CSVDir == "" {
			return fmt.Errorf("data.csv_dir required for csv source")
		}
	case SourcePostgres:
		if c.Data.DBURL == "" {
			return fmt.Errorf("data.db_url or %s required for postgres source", DBURLEnv)
		}
	default:
		return fmt.Errorf("data.source must be %q or %q", SourceCSV, SourcePostgres)
	}
	if _, err := c.FeedConfig(); err != nil {
		return err
	}
	if _, err := c.PortfolioConfig(); err != nil {
		return err
	}
	if c.Strategy.EntryPeriod <= 0 || c.Strategy.ExitPeriod <= 0 || c.Strategy.ATRPeriod <= 0 {
		return fmt.Errorf("strategy periods must be positive")
	}
	if !c.Strategy.Allocation.IsPositive() || c.Strategy.Allocation.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("strategy.allocation must be in (0, 1]")
	}
	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json'")
	}
	return nil
}

func (c *Config) FeedConfig() (*engine.DataFeedConfig, error) {
	interval, ok := types.ConvertInterval[c.Data.Interval]
	if !ok {
		return nil, fmt.Errorf("%w: unknown interval %q", engine.ErrInvalidConfig, c.Data.Interval)
	}
	start, err := time.Parse(time.DateOnly, c.Data.Start)
	if err != nil {
		return nil, fmt.Errorf("%w: data.start: %v", engine.ErrInvalidConfig, err)
	}
	end, err := time.Parse(time.DateOnly, c.Data.End)
	if err != nil {
		return nil, fmt.Errorf("%w: data.end: %v", engine.ErrInvalidConfig, err)
	}
	// end is inclusive, the horizon runs to the close of that day
	end = end.Add(24*time.Hour - time.Nanosecond)
	return engine.NewDataFeedConfig(c.Data.Securities, interval, start, end, c.Data.Settlement)
}

func (c *Config) PortfolioConfig() (*engine.PortfolioConfig, error) {
	cfg, err := engine.NewPortfolioConfig(c.Portfolio.InitialCash, c.Portfolio.Slippage, c.Portfolio.Commission)
	if err != nil {
		return nil, err
	}
	if cfg, err = cfg.WithPricePrecision("", c.Portfolio.PricePrecision); err != nil {
		return nil, err
	}
	for sec, places := range c.Portfolio.Precisions {
		if cfg, err = cfg.WithPricePrecision(sec, places); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *Config) ReportingConfig() *engine.ReportingConfig {
	return engine.NewReportingConfig(c.Reporting.RiskFreeRate, c.Reporting.OutDir)
}

// ConfigureLogging applies the logging section to the standard logrus logger.
func (c *Config) ConfigureLogging() error {
	level, err := log.ParseLevel(c.Logging.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	if c.Logging.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
