package engine

import (
	"context"
	"testing"
	"time"

	"fifobacktester/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(y int, m time.Month, dd int) time.Time {
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}

// dailyCandles builds one daily bar per close, starting at start. An empty
// close skips that day.
func dailyCandles(ticker string, start time.Time, closes ...string) []types.Candle {
	var out []types.Candle
	for i, c := range closes {
		if c == "" {
			continue
		}
		price := d(c)
		out = append(out, types.Candle{
			Ticker:    ticker,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    decimal.NewFromInt(1000),
			Interval:  types.Day,
			Timestamp: start.AddDate(0, 0, i),
		})
	}
	return out
}

func priceData(charts map[string][]types.Candle) types.PriceData {
	data := make(types.PriceData, len(charts))
	for sec, candles := range charts {
		data[sec] = &types.Chart{Ticker: sec, Candles: candles, Interval: types.Day}
	}
	return data
}

type brokerOpts struct {
	cash       string
	slippage   string
	commission string
}

func newTestBroker(t *testing.T, charts map[string][]types.Candle, opts brokerOpts) *Broker {
	t.Helper()
	if opts.cash == "" {
		opts.cash = "10000"
	}
	if opts.slippage == "" {
		opts.slippage = "0"
	}
	if opts.commission == "" {
		opts.commission = "0"
	}

	data := priceData(charts)
	timestamps := data.Timestamps()
	require.NotEmpty(t, timestamps)

	var securities []string
	for sec := range charts {
		securities = append(securities, sec)
	}
	feed, err := NewDataFeedConfig(securities, types.Day, timestamps[0], timestamps[len(timestamps)-1], "")
	require.NoError(t, err)
	portfolio, err := NewPortfolioConfig(d(opts.cash), d(opts.slippage), d(opts.commission))
	require.NoError(t, err)

	b := NewBroker(data, feed, portfolio)
	b.SetTime(timestamps[0])
	return b
}

type mockDb struct {
	candles map[string][]types.Candle
	err     error
}

func (m mockDb) GetCandles(ctx context.Context, ticker string, interval types.Interval, start, end time.Time) ([]types.Candle, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.candles[ticker], nil
}

type mockJournal struct {
	runs []*Result
}

func (m *mockJournal) RecordRun(ctx context.Context, result *Result) error {
	m.runs = append(m.runs, result)
	return nil
}
