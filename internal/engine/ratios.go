package engine

import (
	"errors"
	"math"
	"time"

	"github.com/montanaflynn/stats"
)

const daysPerYear = 365.2425

var (
	ErrInsufficientData = errors.New("not enough data points")
	ErrZeroVolatility   = errors.New("zero volatility, ratio undefined")
)

// pctChange returns the period-over-period returns of values. A period that
// starts from zero has no defined return and is skipped.
func pctChange(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			continue
		}
		out = append(out, values[i]/values[i-1]-1)
	}
	return out
}

// SharpeRatio annualizes mean excess return over the population standard
// deviation of returns.
func SharpeRatio(returns []float64, riskFree float64, periodsPerYear int) (float64, error) {
	if len(returns) == 0 {
		return math.NaN(), ErrInsufficientData
	}
	mean, _ := stats.Mean(returns)
	dev, _ := stats.StandardDeviationPopulation(returns)
	return annualizedRatio(mean, dev, riskFree, periodsPerYear)
}

// SortinoRatio is SharpeRatio with only the negative returns in the
// denominator.
func SortinoRatio(returns []float64, riskFree float64, periodsPerYear int) (float64, error) {
	if len(returns) == 0 {
		return math.NaN(), ErrInsufficientData
	}
	var downside stats.Float64Data
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) == 0 {
		return math.NaN(), ErrInsufficientData
	}
	mean, _ := stats.Mean(returns)
	dev, _ := stats.StandardDeviationPopulation(downside)
	return annualizedRatio(mean, dev, riskFree, periodsPerYear)
}

func annualizedRatio(mean, dev, riskFree float64, periodsPerYear int) (float64, error) {
	if dev == 0 {
		return math.NaN(), ErrZeroVolatility
	}
	p := float64(periodsPerYear)
	return (mean*p - riskFree) / (dev * math.Sqrt(p)), nil
}

func annualVolatility(returns []float64, periodsPerYear int) float64 {
	if len(returns) == 0 {
		return math.NaN()
	}
	dev, _ := stats.StandardDeviationPopulation(returns)
	return dev * math.Sqrt(float64(periodsPerYear))
}

// CAGR is the constant yearly growth rate that turns start into end over
// years.
func CAGR(start, end, years float64) (float64, error) {
	if start <= 0 || years <= 0 {
		return math.NaN(), ErrInsufficientData
	}
	return math.Pow(end/start, 1/years) - 1, nil
}

// differenceInYears measures elapsed calendar time in 365.2425-day years.
func differenceInYears(start, end time.Time) float64 {
	return end.Sub(start).Hours() / 24 / daysPerYear
}

// elapsedPeriod splits the calendar distance between two dates into whole
// years, months and days. Month steps clamp to the last day of the month, so
// Jan 31 plus one month is Feb 28 or 29.
func elapsedPeriod(start, end time.Time) (years, months, days int) {
	if end.Before(start) {
		start, end = end, start
	}
	from := civilDate(start)
	to := civilDate(end)

	total := (to.Year()-from.Year())*12 + int(to.Month()-from.Month())
	for total > 0 && addMonthsClamped(from, total).After(to) {
		total--
	}
	anchor := addMonthsClamped(from, total)
	days = int(to.Sub(anchor).Hours() / 24)
	return total / 12, total % 12, days
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func addMonthsClamped(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	if last := first.AddDate(0, 1, -1).Day(); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

type tradeStats struct {
	count        int
	meanReturn   float64
	maxReturn    float64
	minReturn    float64
	profitFactor float64
	winRate      float64
}

// computeTradeStats summarizes per-trade returns. Values that need at least
// one trade, or one losing trade, are NaN without them.
func computeTradeStats(returns []float64) tradeStats {
	ts := tradeStats{
		count:        len(returns),
		meanReturn:   math.NaN(),
		maxReturn:    math.NaN(),
		minReturn:    math.NaN(),
		profitFactor: math.NaN(),
		winRate:      math.NaN(),
	}
	if len(returns) == 0 {
		return ts
	}
	ts.meanReturn, _ = stats.Mean(returns)
	ts.maxReturn, _ = stats.Max(returns)
	ts.minReturn, _ = stats.Min(returns)

	var wins, losses stats.Float64Data
	for _, r := range returns {
		switch {
		case r > 0:
			wins = append(wins, r)
		case r < 0:
			losses = append(losses, r)
		}
	}
	ts.winRate = float64(len(wins)) / float64(len(returns))
	if len(wins) > 0 && len(losses) > 0 {
		meanWin, _ := wins.Mean()
		meanLoss, _ := losses.Mean()
		ts.profitFactor = meanWin / math.Abs(meanLoss)
	}
	return ts
}
