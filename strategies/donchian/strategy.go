package donchian

import (
	"errors"
	"sort"

	"fifobacktester/internal/engine"
	"fifobacktester/types"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Params configures the breakout. Allocation is the fraction of cash each
// entry commits.
type Params struct {
	EntryPeriod   int
	ExitPeriod    int
	ATRPeriod     int
	ATRMultiplier decimal.Decimal
	Allocation    decimal.Decimal
	AllowShort    bool
}

// Strategy enters on a break of the Donchian channel of the preceding
// EntryPeriod bars and exits on a break of the shorter exit channel or an
// ATR stop, whichever comes first.
type Strategy struct {
	params    Params
	portfolio engine.PortfolioApi
	stopLoss  map[string]decimal.Decimal
}

func NewStrategy(params Params) *Strategy {
	return &Strategy{params: params}
}

func (s *Strategy) Init(api engine.PortfolioApi) error {
	if s.params.EntryPeriod <= 0 || s.params.ExitPeriod <= 0 || s.params.ATRPeriod <= 0 {
		return errors.New("donchian: periods must be positive")
	}
	if !s.params.Allocation.IsPositive() || s.params.Allocation.GreaterThan(decimal.NewFromInt(1)) {
		return errors.New("donchian: allocation must be in (0, 1]")
	}
	s.portfolio = api
	s.stopLoss = make(map[string]decimal.Decimal)
	return nil
}

func (s *Strategy) OnCandle(ctx types.BarContext) error {
	tickers := make([]string, 0, len(ctx.Current))
	for ticker := range ctx.Current {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	for _, ticker := range tickers {
		if err := s.onBar(ctx.Current[ticker], ctx.History[ticker]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Strategy) warmup() int {
	n := s.params.EntryPeriod
	if s.params.ExitPeriod > n {
		n = s.params.ExitPeriod
	}
	if s.params.ATRPeriod+1 > n {
		n = s.params.ATRPeriod + 1
	}
	return n + 1
}

func (s *Strategy) onBar(candle types.Candle, hist []types.Candle) error {
	if len(hist) < s.warmup() {
		return nil
	}
	// channels are built from completed bars, excluding the current one
	prior := hist[:len(hist)-1]
	entryHigh, entryLow := donchianHighLow(prior[len(prior)-s.params.EntryPeriod:])
	exitHigh, exitLow := donchianHighLow(prior[len(prior)-s.params.ExitPeriod:])

	if side, open := s.portfolio.Direction(candle.Ticker); open {
		stop := s.stopLoss[candle.Ticker]
		var exit bool
		switch side {
		case types.SideLong:
			exit = candle.Low.LessThan(exitLow) || candle.Close.LessThan(stop)
		case types.SideShort:
			exit = candle.High.GreaterThan(exitHigh) || candle.Close.GreaterThan(stop)
		}
		if !exit {
			return nil
		}
		filled, err := s.submit(candle, decimal.NewFromInt(-1), side)
		if filled {
			delete(s.stopLoss, candle.Ticker)
		}
		return err
	}

	atr := calcATR(hist, s.params.ATRPeriod).Mul(s.params.ATRMultiplier)
	var (
		side types.Side
		stop decimal.Decimal
	)
	switch {
	case candle.High.GreaterThan(entryHigh):
		side, stop = types.SideLong, candle.Close.Sub(atr)
	case s.params.AllowShort && candle.Low.LessThan(entryLow):
		side, stop = types.SideShort, candle.Close.Add(atr)
	default:
		return nil
	}
	filled, err := s.submit(candle, s.params.Allocation, side)
	if filled {
		s.stopLoss[candle.Ticker] = stop
	}
	return err
}

// submit sends a percent order at the bar's close. Rejections are already
// logged by the broker and do not stop the run.
func (s *Strategy) submit(candle types.Candle, percent decimal.Decimal, side types.Side) (bool, error) {
	err := s.portfolio.SubmitByPercent(candle.Ticker, candle.Close, percent, side)
	if errors.Is(err, engine.ErrOrderRejected) {
		log.WithFields(log.Fields{
			"ticker":  candle.Ticker,
			"percent": percent.String(),
			"side":    side,
		}).Debug("donchian order skipped")
		return false, nil
	}
	return err == nil, err
}

// Utility: Donchian Channel High/Low
func donchianHighLow(candles []types.Candle) (decimal.Decimal, decimal.Decimal) {
	if len(candles) == 0 {
		return decimal.Zero, decimal.Zero
	}

	highest := candles[0].High
	lowest := candles[0].Low

	for _, c := range candles {
		if c.High.GreaterThan(highest) {
			highest = c.High
		}
		if c.Low.LessThan(lowest) {
			lowest = c.Low
		}
	}
	return highest, lowest
}

// calcATR is Wilder's average true range over the whole history.
func calcATR(candles []types.Candle, period int) decimal.Decimal {
	if len(candles) < period+1 {
		return decimal.Zero // need enough data (prev candle + period)
	}

	trueRanges := make([]decimal.Decimal, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		high := candles[i].High
		low := candles[i].Low
		prevClose := candles[i-1].Close

		trueRanges = append(trueRanges, decimal.Max(
			high.Sub(low),
			high.Sub(prevClose).Abs(),
			low.Sub(prevClose).Abs(),
		))
	}

	n := decimal.NewFromInt(int64(period))
	atr := decimal.Sum(trueRanges[0], trueRanges[1:period]...).Div(n)
	for i := period; i < len(trueRanges); i++ {
		atr = atr.Mul(decimal.NewFromInt(int64(period - 1))).Add(trueRanges[i]).Div(n)
	}
	return atr
}
