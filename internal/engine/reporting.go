package engine

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"fifobacktester/types"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
)

var ErrEmptyEquityCurve = errors.New("equity curve is empty")

type Report struct {
	// Meta / period info
	StartDate    time.Time
	EndDate      time.Time
	PeriodYears  int
	PeriodMonths int
	PeriodDays   int

	// Absolute performance
	InitialCapital   decimal.Decimal
	EndingCapital    decimal.Decimal
	TotalPnL         decimal.Decimal
	TotalReturn      float64
	CAGR             float64
	AnnualVolatility float64
	TimeInMarket     float64

	// Drawdown
	Drawdown            Drawdown
	CAGROverMaxDrawdown float64
	AvgYearlyDrawdown   float64
	MaxYearlyDrawdown   float64
	AvgMonthlyDrawdown  float64
	MaxMonthlyDrawdown  float64
	AvgWeeklyDrawdown   float64
	MaxWeeklyDrawdown   float64

	// Trade-level metrics
	TotalTrades    int
	AvgTradeReturn float64
	MaxTradeReturn float64
	MinTradeReturn float64
	ProfitFactor   float64
	WinRate        float64

	// Risk-adjusted metrics
	SharpeRatio  float64
	SortinoRatio float64
}

// Analyze computes the report of a finished run. It reads its inputs only.
func Analyze(
	curve []types.EquityPoint,
	balances *DailyBalanceTable,
	initialCapital decimal.Decimal,
	closed []types.ClosedTradeRecord,
	cfg *ReportingConfig,
) (*Report, error) {
	if len(curve) == 0 {
		return nil, ErrEmptyEquityCurve
	}
	first, last := curve[0], curve[len(curve)-1]

	report := &Report{
		StartDate:      first.Date,
		EndDate:        last.Date,
		InitialCapital: initialCapital,
		EndingCapital:  last.Equity,
		TotalPnL:       last.Equity.Sub(first.Equity),
		TotalReturn:    math.NaN(),
		TimeInMarket:   math.NaN(),
	}
	report.PeriodYears, report.PeriodMonths, report.PeriodDays = elapsedPeriod(first.Date, last.Date)

	if !first.Equity.IsZero() {
		report.TotalReturn = last.Equity.Sub(first.Equity).Div(first.Equity).InexactFloat64()
	}
	report.CAGR, _ = CAGR(first.Equity.InexactFloat64(), last.Equity.InexactFloat64(), differenceInYears(first.Date, last.Date))

	returns := pctChange(equityValues(curve))
	report.AnnualVolatility = annualVolatility(returns, cfg.periodsPerYear)

	if balances != nil && len(balances.dates) > 0 {
		report.TimeInMarket = float64(balances.DaysInMarket()) / float64(len(balances.dates))
	}

	report.Drawdown = maxDrawdown(curve)
	report.CAGROverMaxDrawdown = math.NaN()
	if report.Drawdown.MaxDrawdown > 0 {
		report.CAGROverMaxDrawdown = report.CAGR / report.Drawdown.MaxDrawdown
	}
	report.AvgYearlyDrawdown, report.MaxYearlyDrawdown = summarizeWindows(rollingMaxDrawdown(curve, TradingDaysPerYear))
	report.AvgMonthlyDrawdown, report.MaxMonthlyDrawdown = summarizeWindows(rollingMaxDrawdown(curve, TradingDaysPerMonth))
	report.AvgWeeklyDrawdown, report.MaxWeeklyDrawdown = summarizeWindows(rollingMaxDrawdown(curve, TradingDaysPerWeek))

	tradeReturns := make([]float64, len(closed))
	for i, ct := range closed {
		tradeReturns[i] = ct.Return.InexactFloat64()
	}
	ts := computeTradeStats(tradeReturns)
	report.TotalTrades = ts.count
	report.AvgTradeReturn = ts.meanReturn
	report.MaxTradeReturn = ts.maxReturn
	report.MinTradeReturn = ts.minReturn
	report.ProfitFactor = ts.profitFactor
	report.WinRate = ts.winRate

	report.SharpeRatio, _ = SharpeRatio(returns, cfg.riskFreeRate, cfg.periodsPerYear)
	report.SortinoRatio, _ = SortinoRatio(returns, cfg.riskFreeRate, cfg.periodsPerYear)

	return report, nil
}

// summarizeWindows returns the average and the largest window drawdown.
func summarizeWindows(dds []float64) (float64, float64) {
	if len(dds) == 0 {
		return math.NaN(), math.NaN()
	}
	sum := 0.0
	worst := dds[0]
	for _, dd := range dds {
		sum += dd
		if dd > worst {
			worst = dd
		}
	}
	return sum / float64(len(dds)), worst
}

// Metric is one named, display-formatted value of a report.
type Metric struct {
	Name  string
	Value string
}

// Metrics lists the report in its fixed display order.
func (r *Report) Metrics() []Metric {
	recovery := "not recovered"
	switch {
	case r.Drawdown.Recovery != nil:
		recovery = formatDate(*r.Drawdown.Recovery)
	case r.Drawdown.MaxDrawdown == 0:
		recovery = "n/a"
	}
	return []Metric{
		{"Start Date", formatDate(r.StartDate)},
		{"End Date", formatDate(r.EndDate)},
		{"Trading Period", fmt.Sprintf("%d years %d months %d days", r.PeriodYears, r.PeriodMonths, r.PeriodDays)},
		{"Initial Capital", r.InitialCapital.StringFixed(2)},
		{"Ending Capital", r.EndingCapital.StringFixed(2)},
		{"Total PnL", r.TotalPnL.StringFixed(2)},
		{"Total Return", formatRatio(r.TotalReturn)},
		{"CAGR", formatRatio(r.CAGR)},
		{"Annual Volatility", formatRatio(r.AnnualVolatility)},
		{"Time In Market", formatRatio(r.TimeInMarket)},
		{"Max Drawdown", formatRatio(r.Drawdown.MaxDrawdown)},
		{"CAGR / Max Drawdown", formatRatio(r.CAGROverMaxDrawdown)},
		{"Max Drawdown Start", formatDate(r.Drawdown.Start)},
		{"Max Drawdown End", formatDate(r.Drawdown.End)},
		{"Max Drawdown Recovery", recovery},
		{"Max Drawdown Duration (years)", formatRatio(differenceInYears(r.Drawdown.Start, r.Drawdown.End))},
		{"Avg Yearly Drawdown", formatRatio(r.AvgYearlyDrawdown)},
		{"Max Yearly Drawdown", formatRatio(r.MaxYearlyDrawdown)},
		{"Avg Monthly Drawdown", formatRatio(r.AvgMonthlyDrawdown)},
		{"Max Monthly Drawdown", formatRatio(r.MaxMonthlyDrawdown)},
		{"Avg Weekly Drawdown", formatRatio(r.AvgWeeklyDrawdown)},
		{"Max Weekly Drawdown", formatRatio(r.MaxWeeklyDrawdown)},
		{"Total Trades", fmt.Sprintf("%d", r.TotalTrades)},
		{"Avg Trade Return", formatRatio(r.AvgTradeReturn)},
		{"Max Trade Return", formatRatio(r.MaxTradeReturn)},
		{"Min Trade Return", formatRatio(r.MinTradeReturn)},
		{"Profit Factor", formatRatio(r.ProfitFactor)},
		{"Win Rate", formatRatio(r.WinRate)},
		{"Sharpe Ratio", formatRatio(r.SharpeRatio)},
		{"Sortino Ratio", formatRatio(r.SortinoRatio)},
	}
}

// Render writes the report as a two-column table.
func (r *Report) Render(w io.Writer) {
	RenderMetrics(w, r.Metrics())
}

func RenderMetrics(w io.Writer, metrics []Metric) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Performance Statistics", "Value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, m := range metrics {
		table.Append([]string{m.Name, m.Value})
	}
	table.Render()
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "n/a"
	}
	return t.Format(time.DateOnly)
}

func formatRatio(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", v)
}
