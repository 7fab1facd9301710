package engine

import (
	"fmt"
	"time"

	"fifobacktester/types"

	"github.com/shopspring/decimal"
)

// DailyBalanceTable holds one row per security per horizon date. Rows are
// pre-allocated flat and mutated in place by mark-to-market.
type DailyBalanceTable struct {
	securities []string
	dates      []time.Time
	index      map[int64]int
	rows       map[string][]types.DailyBalanceRow
}

// NewDailyBalanceTable pre-allocates the table for the given dates and fills
// the price column from data, forward-filling gaps. Each date takes the last
// close at or before the bar that settles it.
func NewDailyBalanceTable(data types.PriceData, dates []time.Time, feed *DataFeedConfig) *DailyBalanceTable {
	t := &DailyBalanceTable{
		securities: feed.Securities(),
		dates:      append([]time.Time(nil), dates...),
		index:      make(map[int64]int, len(dates)),
		rows:       make(map[string][]types.DailyBalanceRow, len(feed.securities)),
	}
	for i, d := range dates {
		t.index[types.DateOf(d).UnixNano()] = i
	}
	settle := feed.settlementTimes(data.Timestamps())
	for _, sec := range t.securities {
		rows := make([]types.DailyBalanceRow, len(dates))
		for i, d := range dates {
			rows[i] = types.DailyBalanceRow{
				Date:        d,
				Price:       decimal.Zero,
				Holdings:    decimal.Zero,
				Cost:        decimal.Zero,
				MarketValue: decimal.Zero,
			}
		}
		if chart, ok := data[sec]; ok && chart != nil {
			fillPrices(rows, chart.Candles, settle)
		}
		t.rows[sec] = rows
	}
	return t
}

// fillPrices walks the bars and the rows together; a row takes the latest
// close at or before its date's settlement bar.
func fillPrices(rows []types.DailyBalanceRow, candles []types.Candle, settle map[int64]time.Time) {
	last := decimal.Zero
	j := 0
	for i := range rows {
		cutoff, ok := settle[types.DateOf(rows[i].Date).UnixNano()]
		for ok && j < len(candles) && !candles[j].Timestamp.After(cutoff) {
			last = candles[j].Close
			j++
		}
		rows[i].Price = last
	}
}

func (t *DailyBalanceTable) Securities() []string {
	return append([]string(nil), t.securities...)
}

func (t *DailyBalanceTable) Dates() []time.Time {
	return append([]time.Time(nil), t.dates...)
}

// Rows returns a copy of one security's rows in date order.
func (t *DailyBalanceTable) Rows(security string) []types.DailyBalanceRow {
	return append([]types.DailyBalanceRow(nil), t.rows[security]...)
}

func (t *DailyBalanceTable) Row(security string, date time.Time) (types.DailyBalanceRow, bool) {
	i, ok := t.dateIndex(date)
	if !ok {
		return types.DailyBalanceRow{}, false
	}
	rows, ok := t.rows[security]
	if !ok {
		return types.DailyBalanceRow{}, false
	}
	return rows[i], true
}

func (t *DailyBalanceTable) dateIndex(date time.Time) (int, bool) {
	i, ok := t.index[types.DateOf(date).UnixNano()]
	return i, ok
}

// mark writes a security's aggregate lot state into row i.
func (t *DailyBalanceTable) mark(security string, i int, holdings, cost decimal.Decimal, side types.Side) {
	row := &t.rows[security][i]
	row.Holdings = holdings
	row.Cost = cost
	row.Side = side
	row.MarketValue = marketValue(row.Price, holdings, cost, side)
}

// marketValue keeps P&L = value - cost for both sides; a short is worth twice
// its cost less the price of buying it back.
func marketValue(price, holdings, cost decimal.Decimal, side types.Side) decimal.Decimal {
	if holdings.IsZero() {
		return decimal.Zero
	}
	value := price.Mul(holdings)
	if side == types.SideShort {
		return cost.Mul(decimal.NewFromInt(2)).Sub(value)
	}
	return value
}

// holdingsValue is the market value summed over every security on row i.
func (t *DailyBalanceTable) holdingsValue(i int) decimal.Decimal {
	total := decimal.Zero
	for _, sec := range t.securities {
		total = total.Add(t.rows[sec][i].MarketValue)
	}
	return total
}

// holdings is the quantity summed over every security on row i.
func (t *DailyBalanceTable) holdings(i int) decimal.Decimal {
	total := decimal.Zero
	for _, sec := range t.securities {
		total = total.Add(t.rows[sec][i].Holdings)
	}
	return total
}

// DaysInMarket counts the dates with non-zero aggregate holdings.
func (t *DailyBalanceTable) DaysInMarket() int {
	n := 0
	for i := range t.dates {
		if !t.holdings(i).IsZero() {
			n++
		}
	}
	return n
}

func (t *DailyBalanceTable) mustIndex(date time.Time) int {
	i, ok := t.dateIndex(date)
	if !ok {
		panic(fmt.Sprintf("engine: mark-to-market date %s outside the backtest horizon", date.Format(time.DateOnly)))
	}
	return i
}
