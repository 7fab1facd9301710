package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fifobacktester/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStrategy buys on its first bar and sells on its third, and keeps
// every context it was handed.
type recordingStrategy struct {
	api      PortfolioApi
	seen     []types.BarContext
	security string
	failAt   int
}

func (s *recordingStrategy) Init(api PortfolioApi) error {
	s.api = api
	return nil
}

func (s *recordingStrategy) OnCandle(ctx types.BarContext) error {
	s.seen = append(s.seen, ctx)
	if s.failAt > 0 && len(s.seen) == s.failAt {
		return errors.New("boom")
	}
	bar, ok := ctx.Bar(s.security)
	if !ok {
		return nil
	}
	switch len(ctx.History[s.security]) {
	case 1:
		return s.api.SubmitByQuantity(s.security, bar.Close, decimal.NewFromInt(10), types.SideLong)
	case 3:
		return s.api.SubmitByPercent(s.security, bar.Close, decimal.NewFromInt(-1), types.SideLong)
	}
	return nil
}

func testEngine(t *testing.T, db dataStore, strat strategy, outDir string, opts ...Option) *Engine {
	t.Helper()
	feed, err := NewDataFeedConfig([]string{"AAPL", "MSFT"}, types.Day, day(2024, 1, 2), day(2024, 1, 31), "")
	require.NoError(t, err)
	portfolio, err := NewPortfolioConfig(d("10000"), decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	opts = append([]Option{WithProgressWriter(io.Discard)}, opts...)
	return NewEngine(db, feed, portfolio, NewReportingConfig(decimal.Zero, outDir), strat, opts...)
}

func testCandles() map[string][]types.Candle {
	return map[string][]types.Candle{
		"AAPL": dailyCandles("AAPL", day(2024, 1, 2), "100", "105", "110", "108"),
		"MSFT": dailyCandles("MSFT", day(2024, 1, 2), "50", "", "52", "53"),
	}
}

func TestBacktest_ReplaysBarsInOrder(t *testing.T) {
	strat := &recordingStrategy{security: "AAPL"}
	e := testEngine(t, mockDb{candles: testCandles()}, strat, "")

	result, err := e.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, strat.seen, 4)
	for i, ctx := range strat.seen {
		assert.Equal(t, day(2024, 1, 2+i), ctx.Time)
		assert.Len(t, ctx.History["AAPL"], i+1, "history grows one bar per step")
		for _, c := range ctx.History["AAPL"] {
			assert.False(t, c.Timestamp.After(ctx.Time), "no look-ahead")
		}
	}
	_, ok := strat.seen[1].Bar("MSFT")
	assert.False(t, ok, "MSFT has no bar on the second day")
	assert.Len(t, strat.seen[1].History["MSFT"], 1)

	assert.Len(t, result.EquityCurve, 4)
	assert.Len(t, result.Trades, 2)
	require.Len(t, result.ClosedTrades, 1)
	assert.True(t, d("100").Equal(result.ClosedTrades[0].PnL))
	assert.True(t, d("10100").Equal(result.Report.EndingCapital))
	assert.NotEmpty(t, result.RunID)
}

func TestBacktest_StrategyErrorStopsTheRun(t *testing.T) {
	strat := &recordingStrategy{security: "AAPL", failAt: 2}
	e := testEngine(t, mockDb{candles: testCandles()}, strat, "")

	_, err := e.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Len(t, strat.seen, 2)
}

func TestBacktest_LoadErrors(t *testing.T) {
	dbErr := errors.New("connection refused")
	tests := []struct {
		name    string
		db      mockDb
		wantErr error
	}{
		{"store error is wrapped", mockDb{err: dbErr}, dbErr},
		{"no bars at all", mockDb{candles: map[string][]types.Candle{}}, ErrNoData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testEngine(t, tt.db, &recordingStrategy{security: "AAPL"}, "")
			_, err := e.Run(context.Background())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEngine_ExportsAndJournals(t *testing.T) {
	dir := t.TempDir()
	j := &mockJournal{}
	e := testEngine(t, mockDb{candles: testCandles()}, &recordingStrategy{security: "AAPL"}, dir, WithJournal(j))

	result, err := e.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, j.runs, 1)
	assert.Equal(t, result.RunID, j.runs[0].RunID)

	for _, name := range []string{"trades.csv", "closed_trades.csv", "daily_balance.csv", "equity_curve.csv", "report.csv"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
	trades, err := os.ReadFile(filepath.Join(dir, "trades.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(trades)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "datetime,security,price,qty,long_short,direction", lines[0])
	assert.Contains(t, lines[1], "AAPL,100,10,LONG,OPEN")
}

type noopStrategy struct{}

func (noopStrategy) Init(PortfolioApi) error { return nil }
func (noopStrategy) OnCandle(types.BarContext) error { return nil }

func runNoop(t *testing.T, candles []types.Candle, interval types.Interval, start, end time.Time) *Result {
	t.Helper()
	feed, err := NewDataFeedConfig([]string{"ES"}, interval, start, end, "15:00")
	require.NoError(t, err)
	portfolio, err := NewPortfolioConfig(d("10000"), decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	e := NewEngine(mockDb{candles: map[string][]types.Candle{"ES": candles}}, feed, portfolio,
		NewReportingConfig(decimal.Zero, ""), noopStrategy{}, WithProgressWriter(io.Discard))
	result, err := e.Run(context.Background())
	require.NoError(t, err)
	return result
}

func TestBacktest_MarksDaysWithoutSettlementBar(t *testing.T) {
	at := func(dd, h, m int) time.Time { return time.Date(2024, 1, dd, h, m, 0, 0, time.UTC) }
	var candles []types.Candle
	for _, ts := range []time.Time{at(2, 14, 45), at(2, 15, 0), at(3, 11, 15), at(3, 11, 30), at(4, 15, 0)} {
		candles = append(candles, types.Candle{Ticker: "ES", Close: d("100"), Interval: types.FifteenMinutes, Timestamp: ts})
	}

	result := runNoop(t, candles, types.FifteenMinutes, day(2024, 1, 2), at(4, 23, 59))

	require.Len(t, result.EquityCurve, 3)
	for i, p := range result.EquityCurve {
		assert.Equal(t, day(2024, 1, 2+i), p.Date)
	}
}

func TestBacktest_HorizonUsesCalendarDays(t *testing.T) {
	shanghai := time.FixedZone("CST", 8*60*60)
	candles := dailyCandles("ES", time.Date(2024, 1, 2, 0, 0, 0, 0, shanghai), "100", "101", "102")

	// as the config layer builds it: UTC midnight to the end of the last day
	result := runNoop(t, candles, types.Day, day(2024, 1, 2), day(2024, 1, 4).Add(24*time.Hour-time.Nanosecond))

	require.Len(t, result.EquityCurve, 3)
	assert.Equal(t, day(2024, 1, 2), result.EquityCurve[0].Date)
	assert.Equal(t, day(2024, 1, 4), result.EquityCurve[2].Date)
}

type closeRecorder struct {
	bytes.Buffer
	closeErr error
	closed   bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return c.closeErr
}

func TestWriteAndClose(t *testing.T) {
	writeErr := errors.New("disk full")
	closeErr := errors.New("flush failed")
	tests := []struct {
		name    string
		write   error
		close   error
		wantErr error
	}{
		{"success", nil, nil, nil},
		{"close error is reported", nil, closeErr, closeErr},
		{"write error wins", writeErr, closeErr, writeErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wc := &closeRecorder{closeErr: tt.close}
			err := writeAndClose(wc, "out.csv", func(io.Writer) error { return tt.write })
			assert.True(t, wc.closed)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestWriteEquityCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeEquityCSV(&buf, []types.EquityPoint{
		{Date: day(2024, 1, 2), Cash: d("9000"), HoldingsValue: d("1000"), Equity: d("10000")},
	}))
	assert.Equal(t, "date,cash,hold_value,equity\n2024-01-02,9000,1000,10000\n", buf.String())
}

func TestAdvanceFeedIndex(t *testing.T) {
	candles := dailyCandles("AAPL", day(2024, 1, 2), "1", "2", "3")
	tests := []struct {
		name  string
		index int
		now   time.Time
		want  int
	}{
		{"before the first bar", 0, day(2024, 1, 1), 0},
		{"on the first bar", 0, day(2024, 1, 2), 1},
		{"skips ahead", 0, day(2024, 1, 3).Add(time.Hour), 2},
		{"never moves back", 2, day(2024, 1, 1), 2},
		{"stops at the end", 1, day(2024, 2, 1), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, advanceFeedIndex(candles, tt.index, tt.now))
		})
	}
}
