package engine

import (
	"errors"
	"fmt"
	"time"

	"fifobacktester/types"

	"github.com/shopspring/decimal"
)

const (
	defaultPricePrecision = 2
	defaultSettlement     = "15:00"
)

var ErrInvalidConfig = errors.New("invalid config")

type DataFeedConfig struct {
	securities []string
	interval   types.Interval
	start      time.Time
	end        time.Time
	// settlement bar clock for intraday feeds, minutes after midnight
	settlement int
}

// NewDataFeedConfig validates the replay horizon. settlement is the "HH:MM"
// clock of the bar that settles an intraday trading day; empty means 15:00.
func NewDataFeedConfig(securities []string, interval types.Interval, start, end time.Time, settlement string) (*DataFeedConfig, error) {
	if len(securities) == 0 {
		return nil, fmt.Errorf("%w: at least one security is required", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(securities))
	for _, sec := range securities {
		if sec == "" {
			return nil, fmt.Errorf("%w: empty security name", ErrInvalidConfig)
		}
		if seen[sec] {
			return nil, fmt.Errorf("%w: duplicate security %s", ErrInvalidConfig, sec)
		}
		seen[sec] = true
	}
	if _, ok := types.IntervalToTime[interval]; !ok {
		return nil, fmt.Errorf("%w: unsupported interval %q", ErrInvalidConfig, interval)
	}
	if start.IsZero() || end.IsZero() {
		return nil, fmt.Errorf("%w: start and end are required", ErrInvalidConfig)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s before start %s", ErrInvalidConfig, end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	if settlement == "" {
		settlement = defaultSettlement
	}
	clock, err := time.Parse("15:04", settlement)
	if err != nil {
		return nil, fmt.Errorf("%w: settlement %q: %v", ErrInvalidConfig, settlement, err)
	}

	return &DataFeedConfig{
		securities: append([]string(nil), securities...),
		interval:   interval,
		start:      start,
		end:        end,
		settlement: clock.Hour()*60 + clock.Minute(),
	}, nil
}

func (c *DataFeedConfig) Securities() []string     { return append([]string(nil), c.securities...) }
func (c *DataFeedConfig) Interval() types.Interval { return c.interval }
func (c *DataFeedConfig) Start() time.Time         { return c.start }
func (c *DataFeedConfig) End() time.Time           { return c.end }

// settlementTimes picks the bar that settles each trading day, keyed by
// DateOf(day).UnixNano(). An intraday day settles on its last bar at or before
// the settlement clock, or on its last bar when every bar is later. Other
// feeds settle on the day's last bar. timestamps must be sorted.
func (c *DataFeedConfig) settlementTimes(timestamps []time.Time) map[int64]time.Time {
	out := make(map[int64]time.Time)
	early := make(map[int64]bool)
	for _, ts := range timestamps {
		key := types.DateOf(ts).UnixNano()
		onTime := !c.interval.IsIntraday() || ts.Hour()*60+ts.Minute() <= c.settlement
		switch {
		case onTime:
			out[key] = ts
			early[key] = true
		case !early[key]:
			out[key] = ts
		}
	}
	return out
}

type PortfolioConfig struct {
	initialCash    decimal.Decimal
	slippageRate   decimal.Decimal
	commissionRate decimal.Decimal
	pricePrecision int32
	precisions     map[string]int32
}

// NewPortfolioConfig validates the cash and cost model. Rates are fractions,
// 0.0003 is three basis points.
func NewPortfolioConfig(initialCash, slippageRate, commissionRate decimal.Decimal) (*PortfolioConfig, error) {
	if !initialCash.IsPositive() {
		return nil, fmt.Errorf("%w: initial cash must be positive, got %s", ErrInvalidConfig, initialCash)
	}
	if slippageRate.IsNegative() || slippageRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: slippage rate must be in [0, 1), got %s", ErrInvalidConfig, slippageRate)
	}
	if commissionRate.IsNegative() || commissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: commission rate must be in [0, 1), got %s", ErrInvalidConfig, commissionRate)
	}
	return &PortfolioConfig{
		initialCash:    initialCash,
		slippageRate:   slippageRate,
		commissionRate: commissionRate,
		pricePrecision: defaultPricePrecision,
		precisions:     make(map[string]int32),
	}, nil
}

// WithPricePrecision overrides the number of decimals fills are rounded to.
// An empty security sets the default for every security.
func (c *PortfolioConfig) WithPricePrecision(security string, places int32) (*PortfolioConfig, error) {
	if places < 0 {
		return nil, fmt.Errorf("%w: price precision must not be negative, got %d", ErrInvalidConfig, places)
	}
	if security == "" {
		c.pricePrecision = places
		return c, nil
	}
	c.precisions[security] = places
	return c, nil
}

func (c *PortfolioConfig) InitialCash() decimal.Decimal { return c.initialCash }

func (c *PortfolioConfig) precisionFor(security string) int32 {
	if p, ok := c.precisions[security]; ok {
		return p
	}
	return c.pricePrecision
}

type ReportingConfig struct {
	riskFreeRate   float64
	periodsPerYear int
	outDir         string
}

// NewReportingConfig configures the analyzer. outDir may be empty to skip the
// CSV exports.
func NewReportingConfig(riskFreeRate decimal.Decimal, outDir string) *ReportingConfig {
	return &ReportingConfig{
		riskFreeRate:   riskFreeRate.InexactFloat64(),
		periodsPerYear: TradingDaysPerYear,
		outDir:         outDir,
	}
}
