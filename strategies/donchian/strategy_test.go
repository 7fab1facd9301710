package donchian

import (
	"context"
	"io"
	"testing"
	"time"

	"fifobacktester/internal/engine"
	"fifobacktester/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticStore map[string][]types.Candle

func (s staticStore) GetCandles(_ context.Context, ticker string, _ types.Interval, _, _ time.Time) ([]types.Candle, error) {
	return s[ticker], nil
}

func candles(ticker string, closes ...int64) []types.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]types.Candle, len(closes))
	for i, c := range closes {
		price := decimal.NewFromInt(c)
		out[i] = types.Candle{
			Ticker:    ticker,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Interval:  types.Day,
			Timestamp: start.AddDate(0, 0, i),
		}
	}
	return out
}

func testParams() Params {
	return Params{
		EntryPeriod:   3,
		ExitPeriod:    2,
		ATRPeriod:     2,
		ATRMultiplier: decimal.NewFromInt(2),
		Allocation:    decimal.RequireFromString("0.5"),
	}
}

func runStrategy(t *testing.T, params Params, bars []types.Candle) *engine.Result {
	t.Helper()
	first, last := bars[0].Timestamp, bars[len(bars)-1].Timestamp
	feed, err := engine.NewDataFeedConfig([]string{"SPY"}, types.Day, first, last, "")
	require.NoError(t, err)
	portfolio, err := engine.NewPortfolioConfig(decimal.NewFromInt(10000), decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	eng := engine.NewEngine(
		staticStore{"SPY": bars},
		feed,
		portfolio,
		engine.NewReportingConfig(decimal.Zero, ""),
		NewStrategy(params),
		engine.WithProgressWriter(io.Discard),
	)
	result, err := eng.Run(context.Background())
	require.NoError(t, err)
	return result
}

func TestStrategy_LongBreakoutAndStop(t *testing.T) {
	result := runStrategy(t, testParams(), candles("SPY", 10, 10, 10, 10, 12, 13, 14, 9, 9))

	require.Len(t, result.Trades, 2)
	open, closed := result.Trades[0], result.Trades[1]
	assert.Equal(t, types.DirectionOpen, open.Direction)
	assert.Equal(t, types.SideLong, open.Side)
	assert.True(t, decimal.NewFromInt(416).Equal(open.Quantity), "qty %s", open.Quantity)
	assert.True(t, decimal.NewFromInt(12).Equal(open.Price))
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), open.Time)

	assert.Equal(t, types.DirectionClose, closed.Direction)
	assert.Equal(t, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), closed.Time, "stop at 10 breaks on the close of 9")

	require.Len(t, result.ClosedTrades, 1)
	assert.True(t, decimal.NewFromInt(-1248).Equal(result.ClosedTrades[0].PnL), "pnl %s", result.ClosedTrades[0].PnL)
	assert.True(t, decimal.NewFromInt(8752).Equal(result.Report.EndingCapital))
}

func TestStrategy_ShortBreakdown(t *testing.T) {
	bars := candles("SPY", 10, 10, 10, 10, 8, 7, 12)

	result := runStrategy(t, testParams(), bars)
	assert.Empty(t, result.Trades, "shorts are off by default")

	params := testParams()
	params.AllowShort = true
	result = runStrategy(t, params, bars)

	require.Len(t, result.Trades, 2)
	assert.Equal(t, types.SideShort, result.Trades[0].Side)
	assert.True(t, decimal.NewFromInt(625).Equal(result.Trades[0].Quantity))
	require.Len(t, result.ClosedTrades, 1)
	assert.Equal(t, types.SideShort, result.ClosedTrades[0].Side)
	assert.True(t, decimal.NewFromInt(-2500).Equal(result.ClosedTrades[0].PnL), "pnl %s", result.ClosedTrades[0].PnL)
}

func TestStrategy_NoTradesDuringWarmup(t *testing.T) {
	result := runStrategy(t, testParams(), candles("SPY", 10, 20, 30))
	assert.Empty(t, result.Trades)
}

func TestStrategy_Init(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Params)
	}{
		{"zero entry period", func(p *Params) { p.EntryPeriod = 0 }},
		{"negative atr period", func(p *Params) { p.ATRPeriod = -1 }},
		{"zero allocation", func(p *Params) { p.Allocation = decimal.Zero }},
		{"allocation above one", func(p *Params) { p.Allocation = decimal.RequireFromString("1.5") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := testParams()
			tt.mutate(&params)
			assert.Error(t, NewStrategy(params).Init(nil))
		})
	}
}

func TestDonchianHighLow(t *testing.T) {
	bars := candles("SPY", 5, 9, 3, 7)
	high, low := donchianHighLow(bars)
	assert.True(t, decimal.NewFromInt(9).Equal(high))
	assert.True(t, decimal.NewFromInt(3).Equal(low))

	high, low = donchianHighLow(nil)
	assert.True(t, high.IsZero())
	assert.True(t, low.IsZero())
}

func TestCalcATR(t *testing.T) {
	tests := []struct {
		name   string
		closes []int64
		period int
		want   string
	}{
		{"not enough bars", []int64{10, 11}, 2, "0"},
		{"seed only", []int64{10, 12, 10}, 2, "2"},
		{"wilder smoothing", []int64{10, 10, 10, 10, 12}, 2, "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calcATR(candles("SPY", tt.closes...), tt.period)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "atr %s", got)
		})
	}
}
